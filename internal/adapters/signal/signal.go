// Package signal is the WebSocket transport in front of the coordinator.
// One connection carries one participant; all inbound traffic goes through
// a single read pump, which keeps per-sender signal order intact.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/teleconsulta/coordinator/internal/app"
	"github.com/teleconsulta/coordinator/internal/config"
	"github.com/teleconsulta/coordinator/internal/core"
	"github.com/teleconsulta/coordinator/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type ConsultWSController struct {
	Coord *app.Coordinator
	Cfg   *config.Config
}

func NewConsultWSController(coord *app.Coordinator, cfg *config.Config) *ConsultWSController {
	return &ConsultWSController{Coord: coord, Cfg: cfg}
}

// WsSignalConn is the adapter-owned transport endpoint handed to the
// presence tracker. TrySend never blocks; a full send buffer is reported
// as backpressure and handled upstream.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// clientSession is the per-connection state: who the participant claims to
// be and which room they are currently joined to.
type clientSession struct {
	conn     *WsSignalConn
	identity domain.Identity

	mu   sync.Mutex
	room domain.RoomCode
}

func (s *clientSession) setRoom(code domain.RoomCode) {
	s.mu.Lock()
	s.room = code
	s.mu.Unlock()
}

func (s *clientSession) currentRoom() domain.RoomCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleConsult upgrades the connection and starts the pumps. Identity is
// claimed via query parameters; every room-scoped action is still checked
// against the authorization boundary before it takes effect.
func (ctl *ConsultWSController) HandleConsult(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")

	identity, err := domain.NewIdentity(c.Query("role"), c.Query("user"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	log.Info().Str("module", "signal").Str("token", token).
		Str("identity", identity.String()).Msg("new WS connection")

	sess := &clientSession{
		conn: &WsSignalConn{
			conn: ws,
			send: make(chan core.Frame, 32),
		},
		identity: identity,
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, sess.conn)
	go ctl.readPump(ctx, cancel, sess)
}
