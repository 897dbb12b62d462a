package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teleconsulta/coordinator/internal/domain"
)

// participant is one connected identity. The connection handle is owned by
// the transport adapter; the tracker only keeps a reference for lookup.
type participant struct {
	identity domain.Identity
	conn     SignalConnection
	lastSeen time.Time
}

// Eviction reports a participant removed by Sweep, with the occupancy the
// room was left at.
type Eviction struct {
	RoomCode  domain.RoomCode
	Identity  domain.Identity
	Remaining int
}

// PresenceTracker holds the coordinator's best-effort belief about who is
// connected to each room. Browsers cannot guarantee a graceful close, so
// liveness is inferred from heartbeats and a periodic sweep.
type PresenceTracker struct {
	mu    sync.RWMutex
	rooms map[domain.RoomCode]map[domain.Identity]*participant
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		rooms: make(map[domain.RoomCode]map[domain.Identity]*participant),
	}
}

// Join registers a participant. A rejoin with the same identity replaces
// the stale handle, supporting reconnects. A third distinct identity gets
// ErrRoomFull.
func (p *PresenceTracker) Join(code domain.RoomCode, id domain.Identity, conn SignalConnection) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	members, ok := p.rooms[code]
	if !ok {
		members = make(map[domain.Identity]*participant, 2)
		p.rooms[code] = members
	}

	if existing, ok := members[id]; ok {
		existing.conn = conn
		existing.lastSeen = time.Now()
		log.Info().Str("module", "core.presence").Str("code", string(code)).
			Str("identity", id.String()).Msg("participant reconnected")
		return nil
	}
	if len(members) >= 2 {
		return fmt.Errorf("room %s occupied by %d participants: %w", code, len(members), domain.ErrRoomFull)
	}

	members[id] = &participant{identity: id, conn: conn, lastSeen: time.Now()}
	log.Info().Str("module", "core.presence").Str("code", string(code)).
		Str("identity", id.String()).Int("occupancy", len(members)).Msg("participant joined")
	return nil
}

// Leave removes a participant and reports the remaining occupancy. The
// second return is false when the identity was not present.
func (p *PresenceTracker) Leave(code domain.RoomCode, id domain.Identity) (remaining int, removed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(code, id)
}

// Disconnect removes a participant only while conn is still their current
// handle. A close notice from a socket that was already replaced by a
// reconnect must not evict the live connection.
func (p *PresenceTracker) Disconnect(code domain.RoomCode, id domain.Identity, conn SignalConnection) (remaining int, removed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	member, ok := p.rooms[code][id]
	if !ok {
		return len(p.rooms[code]), false
	}
	if member.conn != conn {
		log.Info().Str("module", "core.presence").Str("code", string(code)).
			Str("identity", id.String()).Msg("stale channel closed, participant already reconnected")
		return len(p.rooms[code]), false
	}
	return p.removeLocked(code, id)
}

func (p *PresenceTracker) removeLocked(code domain.RoomCode, id domain.Identity) (int, bool) {
	members, ok := p.rooms[code]
	if !ok {
		return 0, false
	}
	if _, ok := members[id]; !ok {
		return len(members), false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(p.rooms, code)
	}
	log.Info().Str("module", "core.presence").Str("code", string(code)).
		Str("identity", id.String()).Int("remaining", len(members)).Msg("participant left")
	return len(members), true
}

// Heartbeat refreshes the liveness timestamp. Last writer wins; heartbeats
// are idempotent.
func (p *PresenceTracker) Heartbeat(code domain.RoomCode, id domain.Identity, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	member, ok := p.rooms[code][id]
	if !ok {
		return false
	}
	member.lastSeen = now
	return true
}

// Sweep evicts every participant whose last heartbeat is older than
// timeout. One periodic sweep bounds timer usage under many idle rooms.
func (p *PresenceTracker) Sweep(now time.Time, timeout time.Duration) []Eviction {
	deadline := now.Add(-timeout)

	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []Eviction
	for code, members := range p.rooms {
		for id, member := range members {
			if member.lastSeen.After(deadline) {
				continue
			}
			remaining, _ := p.removeLocked(code, id)
			evicted = append(evicted, Eviction{RoomCode: code, Identity: id, Remaining: remaining})
			log.Warn().Str("module", "core.presence").Str("code", string(code)).
				Str("identity", id.String()).Msg("participant timed out")
		}
	}
	return evicted
}

// Has reports whether id is currently connected to the room.
func (p *PresenceTracker) Has(code domain.RoomCode, id domain.Identity) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.rooms[code][id]
	return ok
}

// Peer returns the other participant of the room, if connected.
func (p *PresenceTracker) Peer(code domain.RoomCode, from domain.Identity) (domain.Identity, SignalConnection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for id, member := range p.rooms[code] {
		if id != from {
			return id, member.conn, true
		}
	}
	return domain.Identity{}, nil, false
}

// Occupancy returns how many identities are connected to the room.
func (p *PresenceTracker) Occupancy(code domain.RoomCode) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms[code])
}

// Participants returns a snapshot of connected identities.
func (p *PresenceTracker) Participants(code domain.RoomCode) []domain.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Identity, 0, len(p.rooms[code]))
	for id := range p.rooms[code] {
		out = append(out, id)
	}
	return out
}
