package signal

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/teleconsulta/coordinator/internal/domain"
)

// handleRelay forwards one negotiation message to the peer. The payload
// travels untouched; the coordinator only reads the envelope.
func (ctl *ConsultWSController) handleRelay(sess *clientSession, env envelope) {
	code := domain.RoomCode(env.RoomCode)
	if code == "" {
		code = sess.currentRoom()
	}

	err := ctl.Coord.Signal(domain.SignalMessage{
		Type:     domain.SignalType(env.Type),
		From:     sess.identity,
		RoomCode: code,
		Payload:  env.Payload,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("code", string(code)).
			Str("type", env.Type).Msg("relay rejected")
		ctl.sendError(sess.conn, errCode(err), err.Error())
	}
}

func (ctl *ConsultWSController) handleFinalize(ctx context.Context, sess *clientSession, env envelope) {
	code := domain.RoomCode(env.RoomCode)
	if code == "" {
		code = sess.currentRoom()
	}
	if code == "" {
		ctl.sendError(sess.conn, "bad_payload", "missing roomCode")
		return
	}

	rec, err := ctl.Coord.Finalize(ctx, code, sess.identity, domain.ReasonExplicitEnd)
	if err != nil && !errors.Is(err, domain.ErrBillingFailed) {
		ctl.sendError(sess.conn, errCode(err), err.Error())
		return
	}

	resp := struct {
		Type            string          `json:"type"`
		RoomCode        domain.RoomCode `json:"roomCode"`
		BillingDeferred bool            `json:"billingDeferred,omitempty"`
	}{
		Type:            "finalized",
		RoomCode:        code,
		BillingDeferred: !rec.BillingTriggered,
	}
	ctl.sendJSON(sess.conn, resp)

	// The peer stops signaling too; tell them the consultation ended.
	if _, peerConn, ok := ctl.Coord.Presence.Peer(code, sess.identity); ok {
		ctl.sendJSON(peerConn, resp)
	}
}
