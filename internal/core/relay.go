package core

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/teleconsulta/coordinator/internal/domain"
)

// SignalingRelay routes negotiation messages between the two participants
// of an Active room. It never looks inside payloads and never buffers: a
// message for a disconnected peer is dropped, because stale negotiation
// state is useless and the sender re-offers on reconnect.
type SignalingRelay struct {
	registry *RoomRegistry
	presence *PresenceTracker
}

func NewSignalingRelay(registry *RoomRegistry, presence *PresenceTracker) *SignalingRelay {
	return &SignalingRelay{registry: registry, presence: presence}
}

// Relay forwards msg to the other participant of msg.RoomCode. Per-sender
// ordering holds because each participant's messages arrive here from its
// single transport read loop.
func (r *SignalingRelay) Relay(msg domain.SignalMessage) error {
	if !msg.Type.Valid() {
		return fmt.Errorf("signal type %q: %w", msg.Type, domain.ErrInvalidState)
	}

	room, err := r.registry.Lookup(msg.RoomCode)
	if err != nil {
		return err
	}
	if room.Status != domain.StatusActive {
		return fmt.Errorf("relay in status %s: %w", room.Status, domain.ErrInvalidState)
	}
	if !r.presence.Has(msg.RoomCode, msg.From) {
		return fmt.Errorf("sender %s: %w", msg.From, domain.ErrForbidden)
	}

	peer, conn, ok := r.presence.Peer(msg.RoomCode, msg.From)
	if !ok {
		log.Debug().Str("module", "core.relay").Str("code", string(msg.RoomCode)).
			Str("type", string(msg.Type)).Msg("peer not connected, dropping signal")
		return nil
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	if err := conn.TrySend(frame); err != nil {
		// A channel dying mid-send is an implicit leave, not a relay error.
		// Handle-aware removal: if the peer reconnected in the meantime,
		// the fresh connection stays registered.
		r.presence.Disconnect(msg.RoomCode, peer, conn)
		log.Warn().Err(err).Str("module", "core.relay").Str("code", string(msg.RoomCode)).
			Str("peer", peer.String()).Msg("peer send failed, treated as leave")
		return nil
	}

	log.Debug().Str("module", "core.relay").Str("code", string(msg.RoomCode)).
		Str("type", string(msg.Type)).Str("from", msg.From.String()).Msg("signal relayed")
	return nil
}
