// Package app wires the session coordinator together. Transport adapters
// call into Coordinator only; they never reach the core components
// directly.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teleconsulta/coordinator/internal/core"
	"github.com/teleconsulta/coordinator/internal/domain"
)

// Tunables for the background loops. Exact values are deployment policy,
// not correctness; they come from config.
type Tunables struct {
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	AbandonGrace     time.Duration
	BillingRetry     time.Duration
	CreatedTTL       time.Duration // how long a room nobody joined keeps its pair reserved
}

// Coordinator is the single entry point for all transports. It owns the
// registry, presence tracker, relay and finalizer, and runs the sweep and
// billing-reconciliation loops.
type Coordinator struct {
	Registry  *core.RoomRegistry
	Presence  *core.PresenceTracker
	Relay     *core.SignalingRelay
	Finalizer *core.SessionFinalizer
	Auth      core.Authorizer
	Tunables  Tunables

	mu         sync.Mutex
	emptySince map[domain.RoomCode]time.Time
}

func NewCoordinator(ctx context.Context, registry *core.RoomRegistry, billing core.BillingGateway, auth core.Authorizer, tun Tunables) *Coordinator {
	presence := core.NewPresenceTracker()
	finalizer := core.NewSessionFinalizer(registry, billing)
	// A crash between Finalizing and Finalized leaves the room stuck after
	// rehydration; complete those before taking traffic.
	finalizer.Recover(ctx)
	return &Coordinator{
		Registry:   registry,
		Presence:   presence,
		Relay:      core.NewSignalingRelay(registry, presence),
		Finalizer:  finalizer,
		Auth:       auth,
		Tunables:   tun,
		emptySince: make(map[domain.RoomCode]time.Time),
	}
}

// CreateRoom opens a fresh room for a doctor-patient pair.
func (c *Coordinator) CreateRoom(ctx context.Context, doctorID, patientID domain.UserID) (domain.RoomState, error) {
	return c.Registry.Create(ctx, doctorID, patientID)
}

// LookupRoom returns the room state for the given code.
func (c *Coordinator) LookupRoom(code domain.RoomCode) (domain.RoomState, error) {
	return c.Registry.Lookup(code)
}

// Join connects an identity to a room. The first successful join activates
// the room and mints its consultation instance id.
func (c *Coordinator) Join(ctx context.Context, code domain.RoomCode, id domain.Identity, conn core.SignalConnection) (domain.RoomState, error) {
	if err := c.Auth.CheckJoin(ctx, id, code); err != nil {
		return domain.RoomState{}, fmt.Errorf("join %s: %w", code, err)
	}

	room, err := c.Registry.Activate(ctx, code, id)
	if err != nil {
		return domain.RoomState{}, err
	}
	if err := c.Presence.Join(code, id, conn); err != nil {
		return domain.RoomState{}, err
	}

	c.mu.Lock()
	delete(c.emptySince, code)
	c.mu.Unlock()
	return room, nil
}

// Signal relays one negotiation message to the sender's peer.
func (c *Coordinator) Signal(msg domain.SignalMessage) error {
	return c.Relay.Relay(msg)
}

// Leave disconnects an identity from a room. An emptied room starts the
// abandonment clock; finalization itself is the sweeper's call.
func (c *Coordinator) Leave(code domain.RoomCode, id domain.Identity) {
	remaining, removed := c.Presence.Leave(code, id)
	if removed && remaining == 0 {
		c.markEmpty(code, time.Now())
	}
}

// Heartbeat refreshes a participant's liveness timestamp.
func (c *Coordinator) Heartbeat(code domain.RoomCode, id domain.Identity) bool {
	return c.Presence.Heartbeat(code, id, time.Now())
}

// Finalize ends the consultation. Idempotent; see core.SessionFinalizer.
func (c *Coordinator) Finalize(ctx context.Context, code domain.RoomCode, by domain.Identity, reason domain.FinalizeReason) (domain.FinalizationRecord, error) {
	return c.Finalizer.Finalize(ctx, code, by, reason)
}

// OnDisconnect is the transport's async notice that a participant's
// channel closed without an explicit leave. The closing connection travels
// along so that a stale socket's close, racing a reconnect, cannot evict
// the replacement handle.
func (c *Coordinator) OnDisconnect(code domain.RoomCode, id domain.Identity, conn core.SignalConnection) {
	if code == "" || id.IsZero() {
		return
	}
	remaining, removed := c.Presence.Disconnect(code, id, conn)
	if !removed {
		return
	}
	log.Info().Str("module", "app.coordinator").Str("code", string(code)).
		Str("identity", id.String()).Msg("channel closed, implicit leave")
	if remaining == 0 {
		c.markEmpty(code, time.Now())
	}
}

func (c *Coordinator) markEmpty(code domain.RoomCode, at time.Time) {
	room, err := c.Registry.Lookup(code)
	if err != nil || room.Status != domain.StatusActive {
		return
	}
	c.mu.Lock()
	if _, ok := c.emptySince[code]; !ok {
		c.emptySince[code] = at
	}
	c.mu.Unlock()
	log.Info().Str("module", "app.coordinator").Str("code", string(code)).Msg("room empty, abandonment clock started")
}
