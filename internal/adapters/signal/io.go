package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/teleconsulta/coordinator/internal/core"
)

const writeWait = 5 * time.Second

func (ctl *ConsultWSController) writePump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *ConsultWSController) readPump(ctx context.Context, cancel context.CancelFunc, sess *clientSession) {
	defer func() {
		log.Info().Str("module", "signal").Str("identity", sess.identity.String()).Msg("readPump closing")
		ctl.Coord.OnDisconnect(sess.currentRoom(), sess.identity, sess.conn)
		sess.conn.Close()
		cancel()
	}()

	pongWait := ctl.Cfg.PingPeriod * 10 / 9
	sess.conn.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	_ = sess.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.conn.SetPongHandler(func(string) error {
		return sess.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("identity", sess.identity.String()).Msg("readPump ctx done")
			return
		default:
			_, data, err := sess.conn.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").
					Str("identity", sess.identity.String()).Msg("readPump read error")
				return
			}
			ctl.handleEnvelope(ctx, sess, data)
		}
	}
}

// envelope is the one wire schema for client-to-server traffic.
type envelope struct {
	Type     string          `json:"type"`
	RoomCode string          `json:"roomCode,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (ctl *ConsultWSController) handleEnvelope(ctx context.Context, sess *clientSession, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(sess.conn, "bad_payload", "malformed envelope")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, sess, env)
	case "leave":
		ctl.handleLeave(sess)
	case "heartbeat":
		ctl.handleHeartbeat(sess)
	case "finalize":
		ctl.handleFinalize(ctx, sess, env)
	case "offer", "answer", "candidate", "bye":
		ctl.handleRelay(sess, env)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(sess.conn, "unknown_type", "unknown message type "+env.Type)
	}
}

func (ctl *ConsultWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
