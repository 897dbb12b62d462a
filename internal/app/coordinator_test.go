package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teleconsulta/coordinator/internal/core"
	"github.com/teleconsulta/coordinator/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) sent() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

type fakePersistence struct{}

func (fakePersistence) LoadActiveRooms(ctx context.Context) ([]domain.RoomState, error) {
	return nil, nil
}

func (fakePersistence) RecordStatusChange(ctx context.Context, room domain.RoomState) error {
	return nil
}

type seededPersistence struct {
	rooms []domain.RoomState
}

func (s seededPersistence) LoadActiveRooms(ctx context.Context) ([]domain.RoomState, error) {
	return s.rooms, nil
}

func (s seededPersistence) RecordStatusChange(ctx context.Context, room domain.RoomState) error {
	return nil
}

type countBilling struct {
	calls atomic.Int64
}

func (b *countBilling) RecordConsultation(ctx context.Context, bill core.ConsultationBill) (core.BillingRecordID, error) {
	b.calls.Add(1)
	return "rec-1", nil
}

var (
	doctor  = domain.Identity{Role: domain.RoleDoctor, UserID: "d1"}
	patient = domain.Identity{Role: domain.RolePatient, UserID: "p1"}
	outside = domain.Identity{Role: domain.RolePatient, UserID: "p9"}
)

func coordinatorFixture(t *testing.T) (*Coordinator, *countBilling) {
	t.Helper()
	registry, err := core.NewRoomRegistry(context.Background(), fakePersistence{})
	if err != nil {
		t.Fatalf("NewRoomRegistry: %v", err)
	}
	billing := &countBilling{}
	coord := NewCoordinator(context.Background(), registry, billing, NewRoomBoundAuthorizer(registry), Tunables{
		HeartbeatTimeout: 45 * time.Second,
		SweepInterval:    5 * time.Second,
		AbandonGrace:     60 * time.Second,
		BillingRetry:     30 * time.Second,
		CreatedTTL:       15 * time.Minute,
	})
	return coord, billing
}

func TestConsultationRoundTrip(t *testing.T) {
	coord, billing := coordinatorFixture(t)
	ctx := context.Background()

	room, err := coord.CreateRoom(ctx, doctor.UserID, patient.UserID)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	doctorConn := &fakeConn{}
	patientConn := &fakeConn{}

	state, err := coord.Join(ctx, room.Code, doctor, doctorConn)
	if err != nil {
		t.Fatalf("doctor join: %v", err)
	}
	if state.Status != domain.StatusActive || state.InstanceID == "" {
		t.Fatalf("first join must activate the room, got %+v", state)
	}
	if _, err := coord.Join(ctx, room.Code, patient, patientConn); err != nil {
		t.Fatalf("patient join: %v", err)
	}

	offer := domain.SignalMessage{Type: domain.SignalOffer, From: doctor, RoomCode: room.Code, Payload: json.RawMessage(`{"sdp":"o"}`)}
	answer := domain.SignalMessage{Type: domain.SignalAnswer, From: patient, RoomCode: room.Code, Payload: json.RawMessage(`{"sdp":"a"}`)}
	if err := coord.Signal(offer); err != nil {
		t.Fatalf("relay offer: %v", err)
	}
	if err := coord.Signal(answer); err != nil {
		t.Fatalf("relay answer: %v", err)
	}
	if len(patientConn.sent()) != 1 || len(doctorConn.sent()) != 1 {
		t.Fatalf("each peer must receive exactly one signal, got %d/%d",
			len(patientConn.sent()), len(doctorConn.sent()))
	}

	rec, err := coord.Finalize(ctx, room.Code, doctor, domain.ReasonExplicitEnd)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !rec.BillingTriggered {
		t.Fatal("billing must trigger on a healthy gateway")
	}

	final, _ := coord.LookupRoom(room.Code)
	if final.Status != domain.StatusFinalized {
		t.Fatalf("room status = %s, want finalized", final.Status)
	}
	if got := billing.calls.Load(); got != 1 {
		t.Fatalf("billing called %d times, want 1", got)
	}

	// Signaling stops after finalization.
	if err := coord.Signal(offer); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("relay after finalize: want ErrInvalidState, got %v", err)
	}
}

func TestJoinDeniedForUnboundIdentity(t *testing.T) {
	coord, _ := coordinatorFixture(t)
	ctx := context.Background()

	room, _ := coord.CreateRoom(ctx, doctor.UserID, patient.UserID)
	if _, err := coord.Join(ctx, room.Code, outside, &fakeConn{}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	// A denied join must not activate the room.
	state, _ := coord.LookupRoom(room.Code)
	if state.Status != domain.StatusCreated {
		t.Fatalf("room status = %s, want created after denied join", state.Status)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	coord, _ := coordinatorFixture(t)
	if _, err := coord.Join(context.Background(), "ZZZZZZ", doctor, &fakeConn{}); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestAbandonmentFinalizesEmptyRoom(t *testing.T) {
	coord, billing := coordinatorFixture(t)
	ctx := context.Background()
	now := time.Now()

	room, _ := coord.CreateRoom(ctx, doctor.UserID, patient.UserID)
	coord.Join(ctx, room.Code, doctor, &fakeConn{})
	coord.Join(ctx, room.Code, patient, &fakeConn{})

	coord.Leave(room.Code, doctor)
	coord.Leave(room.Code, patient)

	// Inside the grace window nothing happens.
	coord.sweepOnce(ctx, now.Add(coord.Tunables.AbandonGrace/2))
	state, _ := coord.LookupRoom(room.Code)
	if state.Status != domain.StatusActive {
		t.Fatalf("room finalized before grace window elapsed: %s", state.Status)
	}

	coord.sweepOnce(ctx, now.Add(coord.Tunables.AbandonGrace+time.Second))
	state, _ = coord.LookupRoom(room.Code)
	if state.Status != domain.StatusFinalized {
		t.Fatalf("room status = %s, want finalized after abandonment", state.Status)
	}
	if got := billing.calls.Load(); got != 1 {
		t.Fatalf("abandonment billing calls = %d, want 1", got)
	}
}

func TestRejoinCancelsAbandonment(t *testing.T) {
	coord, _ := coordinatorFixture(t)
	ctx := context.Background()
	now := time.Now()

	room, _ := coord.CreateRoom(ctx, doctor.UserID, patient.UserID)
	coord.Join(ctx, room.Code, doctor, &fakeConn{})
	coord.Leave(room.Code, doctor)

	// Doctor comes back before the grace window runs out.
	if _, err := coord.Join(ctx, room.Code, doctor, &fakeConn{}); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	coord.sweepOnce(ctx, now.Add(coord.Tunables.AbandonGrace*2))
	state, _ := coord.LookupRoom(room.Code)
	if state.Status != domain.StatusActive {
		t.Fatalf("rejoined room must stay active, got %s", state.Status)
	}
}

func TestSweepEvictionLeadsToAbandonment(t *testing.T) {
	coord, billing := coordinatorFixture(t)
	ctx := context.Background()
	now := time.Now()

	room, _ := coord.CreateRoom(ctx, doctor.UserID, patient.UserID)
	coord.Join(ctx, room.Code, doctor, &fakeConn{})
	coord.Join(ctx, room.Code, patient, &fakeConn{})

	// Both browsers go silent: no leave, no heartbeat.
	evictAt := now.Add(coord.Tunables.HeartbeatTimeout + time.Second)
	coord.sweepOnce(ctx, evictAt)
	if coord.Presence.Occupancy(room.Code) != 0 {
		t.Fatal("silent participants must be evicted by the sweep")
	}

	coord.sweepOnce(ctx, evictAt.Add(coord.Tunables.AbandonGrace+time.Second))
	state, _ := coord.LookupRoom(room.Code)
	if state.Status != domain.StatusFinalized {
		t.Fatalf("room status = %s, want finalized within one grace window", state.Status)
	}
	if got := billing.calls.Load(); got != 1 {
		t.Fatalf("billing calls = %d, want 1", got)
	}
}

func TestOnDisconnectIsImplicitLeave(t *testing.T) {
	coord, _ := coordinatorFixture(t)
	ctx := context.Background()

	room, _ := coord.CreateRoom(ctx, doctor.UserID, patient.UserID)
	doctorConn := &fakeConn{}
	coord.Join(ctx, room.Code, doctor, doctorConn)
	coord.Join(ctx, room.Code, patient, &fakeConn{})

	coord.OnDisconnect(room.Code, doctor, doctorConn)
	if coord.Presence.Has(room.Code, doctor) {
		t.Fatal("disconnected participant must leave presence")
	}
	if coord.Presence.Occupancy(room.Code) != 1 {
		t.Fatal("peer must remain connected")
	}

	// Zero-value notice from a connection that never joined is ignored.
	coord.OnDisconnect("", domain.Identity{}, nil)
}

func TestStaleSocketCloseKeepsReconnectedParticipant(t *testing.T) {
	coord, _ := coordinatorFixture(t)
	ctx := context.Background()

	room, _ := coord.CreateRoom(ctx, doctor.UserID, patient.UserID)
	stale := &fakeConn{}
	if _, err := coord.Join(ctx, room.Code, doctor, stale); err != nil {
		t.Fatalf("join: %v", err)
	}
	fresh := &fakeConn{}
	if _, err := coord.Join(ctx, room.Code, doctor, fresh); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	// The old socket's read pump reports its close after the reconnect.
	coord.OnDisconnect(room.Code, doctor, stale)
	if !coord.Presence.Has(room.Code, doctor) {
		t.Fatal("reconnected participant must survive the stale socket's close")
	}
	coord.mu.Lock()
	_, marked := coord.emptySince[room.Code]
	coord.mu.Unlock()
	if marked {
		t.Fatal("abandonment clock must not start while the participant is connected")
	}

	// Closing the live handle still counts.
	coord.OnDisconnect(room.Code, doctor, fresh)
	if coord.Presence.Has(room.Code, doctor) {
		t.Fatal("current handle close must remove the participant")
	}
	coord.mu.Lock()
	_, marked = coord.emptySince[room.Code]
	coord.mu.Unlock()
	if !marked {
		t.Fatal("emptied room must start the abandonment clock")
	}
}

func TestOutsiderCannotFinalize(t *testing.T) {
	coord, billing := coordinatorFixture(t)
	ctx := context.Background()

	room, _ := coord.CreateRoom(ctx, doctor.UserID, patient.UserID)
	coord.Join(ctx, room.Code, doctor, &fakeConn{})
	coord.Join(ctx, room.Code, patient, &fakeConn{})

	if _, err := coord.Finalize(ctx, room.Code, outside, domain.ReasonExplicitEnd); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	state, _ := coord.LookupRoom(room.Code)
	if state.Status != domain.StatusActive {
		t.Fatalf("room status = %s, want active after rejected finalize", state.Status)
	}
	if got := billing.calls.Load(); got != 0 {
		t.Fatalf("billing calls = %d, want 0", got)
	}
}

func TestUnusedRoomExpires(t *testing.T) {
	coord, billing := coordinatorFixture(t)
	ctx := context.Background()
	now := time.Now()

	room, _ := coord.CreateRoom(ctx, doctor.UserID, patient.UserID)

	coord.sweepOnce(ctx, now.Add(coord.Tunables.CreatedTTL/2))
	state, _ := coord.LookupRoom(room.Code)
	if state.Status != domain.StatusCreated {
		t.Fatalf("room expired before its ttl: %s", state.Status)
	}

	coord.sweepOnce(ctx, now.Add(coord.Tunables.CreatedTTL+time.Second))
	state, _ = coord.LookupRoom(room.Code)
	if state.Status != domain.StatusFinalized {
		t.Fatalf("room status = %s, want finalized after ttl", state.Status)
	}
	if got := billing.calls.Load(); got != 0 {
		t.Fatalf("expiring an unused room must not bill, calls = %d", got)
	}

	// The pair can book a new consultation.
	if _, err := coord.CreateRoom(ctx, doctor.UserID, patient.UserID); err != nil {
		t.Fatalf("CreateRoom after expiry: %v", err)
	}
}

func TestStartupCompletesInterruptedFinalize(t *testing.T) {
	ctx := context.Background()
	seed := domain.RoomState{
		Code: "AB12CD", DoctorID: doctor.UserID, PatientID: patient.UserID,
		Status: domain.StatusFinalizing, InstanceID: "inst-crash",
		CreatedAt: time.Now().Add(-time.Hour), ActivatedAt: time.Now().Add(-time.Hour),
	}
	registry, err := core.NewRoomRegistry(ctx, seededPersistence{rooms: []domain.RoomState{seed}})
	if err != nil {
		t.Fatalf("NewRoomRegistry: %v", err)
	}
	billing := &countBilling{}
	coord := NewCoordinator(ctx, registry, billing, NewRoomBoundAuthorizer(registry), Tunables{
		BillingRetry: time.Second,
	})

	state, err := coord.LookupRoom("AB12CD")
	if err != nil {
		t.Fatalf("LookupRoom: %v", err)
	}
	if state.Status != domain.StatusFinalized {
		t.Fatalf("room status = %s, want finalized after startup recovery", state.Status)
	}

	coord.Finalizer.RetryPending(ctx)
	if got := billing.calls.Load(); got != 1 {
		t.Fatalf("billing calls = %d, want 1 after reconciliation", got)
	}
}
