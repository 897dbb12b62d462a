package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teleconsulta/coordinator/internal/domain"
)

func (ctl *ConsultWSController) handleJoin(ctx context.Context, sess *clientSession, env envelope) {
	code := domain.RoomCode(env.RoomCode)
	if code == "" {
		ctl.sendError(sess.conn, "bad_payload", "missing roomCode")
		return
	}

	room, err := ctl.Coord.Join(ctx, code, sess.identity, sess.conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("code", string(code)).
			Str("identity", sess.identity.String()).Msg("join rejected")
		ctl.sendError(sess.conn, errCode(err), err.Error())
		return
	}
	sess.setRoom(code)

	ctl.sendJSON(sess.conn, struct {
		Type         string            `json:"type"`
		RoomCode     domain.RoomCode   `json:"roomCode"`
		Status       string            `json:"status"`
		Participants []domain.Identity `json:"participants"`
	}{
		Type:         "joined",
		RoomCode:     code,
		Status:       room.Status.String(),
		Participants: ctl.Coord.Presence.Participants(code),
	})

	ctl.notifyPeer(code, sess.identity, "peer-joined")
}

func (ctl *ConsultWSController) handleLeave(sess *clientSession) {
	code := sess.currentRoom()
	if code == "" {
		return
	}
	ctl.Coord.Leave(code, sess.identity)
	sess.setRoom("")

	ctl.sendJSON(sess.conn, struct {
		Type string `json:"type"`
	}{Type: "left"})

	ctl.notifyPeer(code, sess.identity, "peer-left")
}

func (ctl *ConsultWSController) handleHeartbeat(sess *clientSession) {
	code := sess.currentRoom()
	if code != "" {
		ctl.Coord.Heartbeat(code, sess.identity)
	}
	ctl.sendJSON(sess.conn, struct {
		Type string    `json:"type"`
		At   time.Time `json:"at"`
	}{Type: "pong", At: time.Now()})
}

// notifyPeer tells the other participant that someone came or went, the
// way the original room emitted peer-joined/peer-left.
func (ctl *ConsultWSController) notifyPeer(code domain.RoomCode, mover domain.Identity, event string) {
	_, peerConn, ok := ctl.Coord.Presence.Peer(code, mover)
	if !ok {
		return
	}
	ctl.sendJSON(peerConn, struct {
		Type     string          `json:"type"`
		RoomCode domain.RoomCode `json:"roomCode"`
		Identity domain.Identity `json:"identity"`
	}{
		Type:     event,
		RoomCode: code,
		Identity: mover,
	})
}
