package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teleconsulta/coordinator/internal/domain"
)

// roomEntry guards one room's state. Status transitions take the entry
// mutex only, never the registry mutex, so rooms do not block each other.
type roomEntry struct {
	mu    sync.Mutex
	state domain.RoomState
}

func (e *roomEntry) snapshot() domain.RoomState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

type pairKey struct {
	doctor  domain.UserID
	patient domain.UserID
}

// RoomRegistry is the process-wide table of consultation rooms. It is
// constructed once at startup, rehydrated from persistence, and passed to
// collaborators explicitly.
type RoomRegistry struct {
	persist RoomPersistence

	mu    sync.RWMutex
	rooms map[domain.RoomCode]*roomEntry
	pairs map[pairKey]domain.RoomCode // rooms not yet finalized
}

// NewRoomRegistry builds the registry and rehydrates rooms that were still
// open when the previous process stopped.
func NewRoomRegistry(ctx context.Context, persist RoomPersistence) (*RoomRegistry, error) {
	r := &RoomRegistry{
		persist: persist,
		rooms:   make(map[domain.RoomCode]*roomEntry),
		pairs:   make(map[pairKey]domain.RoomCode),
	}
	rehydrated, err := persist.LoadActiveRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active rooms: %w", err)
	}
	for _, st := range rehydrated {
		if st.Status == domain.StatusFinalized {
			continue
		}
		r.rooms[st.Code] = &roomEntry{state: st}
		r.pairs[pairKey{doctor: st.DoctorID, patient: st.PatientID}] = st.Code
	}
	if len(rehydrated) > 0 {
		log.Info().Str("module", "core.registry").Int("rooms", len(rehydrated)).Msg("rehydrated open rooms")
	}
	return r, nil
}

// Create makes a fresh room for a doctor-patient pair. A pair may hold at
// most one room that is not yet Finalized.
func (r *RoomRegistry) Create(ctx context.Context, doctorID, patientID domain.UserID) (domain.RoomState, error) {
	key := pairKey{doctor: doctorID, patient: patientID}

	r.mu.Lock()
	if code, ok := r.pairs[key]; ok {
		r.mu.Unlock()
		return domain.RoomState{}, fmt.Errorf("pair already holds room %s: %w", code, domain.ErrRoomConflict)
	}
	code := domain.NewRoomCode()
	for {
		if _, taken := r.rooms[code]; !taken {
			break
		}
		code = domain.NewRoomCode()
	}
	state := domain.RoomState{
		Code:      code,
		DoctorID:  doctorID,
		PatientID: patientID,
		Status:    domain.StatusCreated,
		CreatedAt: time.Now(),
	}
	r.rooms[code] = &roomEntry{state: state}
	r.pairs[key] = code
	r.mu.Unlock()

	r.recordChange(ctx, state)
	log.Info().Str("module", "core.registry").Str("code", string(code)).
		Str("doctor", string(doctorID)).Str("patient", string(patientID)).Msg("room created")
	return state, nil
}

// Lookup returns a copy of the room state.
func (r *RoomRegistry) Lookup(code domain.RoomCode) (domain.RoomState, error) {
	entry, ok := r.entry(code)
	if !ok {
		return domain.RoomState{}, domain.ErrRoomNotFound
	}
	return entry.snapshot(), nil
}

// Activate transitions Created->Active on the first successful join and
// mints the consultation instance id. Joining an already Active room is
// not a transition and succeeds with the current state.
func (r *RoomRegistry) Activate(ctx context.Context, code domain.RoomCode, first domain.Identity) (domain.RoomState, error) {
	entry, ok := r.entry(code)
	if !ok {
		return domain.RoomState{}, domain.ErrRoomNotFound
	}

	entry.mu.Lock()
	switch entry.state.Status {
	case domain.StatusCreated:
		entry.state.Status = domain.StatusActive
		entry.state.InstanceID = domain.InstanceID(uuid.NewString())
		entry.state.ActivatedAt = time.Now()
		state := entry.state
		entry.mu.Unlock()

		r.recordChange(ctx, state)
		log.Info().Str("module", "core.registry").Str("code", string(code)).
			Str("instance", string(state.InstanceID)).Str("by", first.String()).Msg("room activated")
		return state, nil
	case domain.StatusActive:
		state := entry.state
		entry.mu.Unlock()
		return state, nil
	default:
		status := entry.state.Status
		entry.mu.Unlock()
		return domain.RoomState{}, fmt.Errorf("activate in status %s: %w", status, domain.ErrInvalidState)
	}
}

// BeginFinalize is the compare-and-set on Active->Finalizing. Exactly one
// caller wins the race; losers see won=false and must fall back to
// already-finalized semantics.
func (r *RoomRegistry) BeginFinalize(ctx context.Context, code domain.RoomCode) (state domain.RoomState, won bool, err error) {
	entry, ok := r.entry(code)
	if !ok {
		return domain.RoomState{}, false, domain.ErrRoomNotFound
	}

	entry.mu.Lock()
	switch entry.state.Status {
	case domain.StatusActive:
		entry.state.Status = domain.StatusFinalizing
		state = entry.state
		entry.mu.Unlock()
		r.recordChange(ctx, state)
		return state, true, nil
	case domain.StatusFinalizing, domain.StatusFinalized:
		state = entry.state
		entry.mu.Unlock()
		return state, false, nil
	default:
		status := entry.state.Status
		entry.mu.Unlock()
		return domain.RoomState{}, false, fmt.Errorf("finalize in status %s: %w", status, domain.ErrInvalidState)
	}
}

// Deactivate moves Active/Finalizing to Finalized and releases the pair
// for a future room. Idempotent: a Finalized room stays Finalized.
func (r *RoomRegistry) Deactivate(ctx context.Context, code domain.RoomCode) error {
	entry, ok := r.entry(code)
	if !ok {
		return domain.ErrRoomNotFound
	}

	entry.mu.Lock()
	switch entry.state.Status {
	case domain.StatusFinalized:
		entry.mu.Unlock()
		return nil
	case domain.StatusActive, domain.StatusFinalizing:
		entry.state.Status = domain.StatusFinalized
		entry.state.FinalizedAt = time.Now()
		state := entry.state
		entry.mu.Unlock()

		r.mu.Lock()
		delete(r.pairs, pairKey{doctor: state.DoctorID, patient: state.PatientID})
		r.mu.Unlock()

		r.recordChange(ctx, state)
		log.Info().Str("module", "core.registry").Str("code", string(code)).Msg("room finalized")
		return nil
	default:
		status := entry.state.Status
		entry.mu.Unlock()
		return fmt.Errorf("deactivate in status %s: %w", status, domain.ErrInvalidState)
	}
}

// Expire finalizes a Created room nobody ever joined, releasing the pair
// for a future room. No instance id exists, so nothing is billed.
func (r *RoomRegistry) Expire(ctx context.Context, code domain.RoomCode) error {
	entry, ok := r.entry(code)
	if !ok {
		return domain.ErrRoomNotFound
	}

	entry.mu.Lock()
	if entry.state.Status != domain.StatusCreated {
		status := entry.state.Status
		entry.mu.Unlock()
		return fmt.Errorf("expire in status %s: %w", status, domain.ErrInvalidState)
	}
	entry.state.Status = domain.StatusFinalized
	entry.state.FinalizedAt = time.Now()
	state := entry.state
	entry.mu.Unlock()

	r.mu.Lock()
	delete(r.pairs, pairKey{doctor: state.DoctorID, patient: state.PatientID})
	r.mu.Unlock()

	r.recordChange(ctx, state)
	log.Info().Str("module", "core.registry").Str("code", string(code)).Msg("unused room expired")
	return nil
}

// Snapshot lists all rooms currently in the table.
func (r *RoomRegistry) Snapshot() []domain.RoomState {
	r.mu.RLock()
	entries := make([]*roomEntry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]domain.RoomState, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out
}

func (r *RoomRegistry) entry(code domain.RoomCode) (*roomEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[code]
	return e, ok
}

func (r *RoomRegistry) recordChange(ctx context.Context, state domain.RoomState) {
	if r.persist == nil {
		return
	}
	if err := r.persist.RecordStatusChange(ctx, state); err != nil {
		log.Error().Err(err).Str("module", "core.registry").
			Str("code", string(state.Code)).Str("status", state.Status.String()).
			Msg("persist status change")
	}
}
