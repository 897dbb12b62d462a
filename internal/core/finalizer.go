package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teleconsulta/coordinator/internal/domain"
)

// SessionFinalizer runs end-of-consultation: it wins (or loses) the
// Active->Finalizing race, triggers billing at most once per consultation
// instance, and always leaves the room Finalized.
type SessionFinalizer struct {
	registry *RoomRegistry
	billing  BillingGateway

	mu      sync.Mutex
	records map[domain.InstanceID]*domain.FinalizationRecord
	pending []domain.InstanceID // billing not yet acknowledged, retry-eligible
}

func NewSessionFinalizer(registry *RoomRegistry, billing BillingGateway) *SessionFinalizer {
	return &SessionFinalizer{
		registry: registry,
		billing:  billing,
		records:  make(map[domain.InstanceID]*domain.FinalizationRecord),
	}
}

// Recover completes rooms a previous process left stuck in Finalizing.
// The transition to Finalizing already won before the crash, so the
// decision to end stands; billing goes through the reconciliation queue,
// which is safe because the gateway is idempotent on the instance id.
func (f *SessionFinalizer) Recover(ctx context.Context) {
	for _, room := range f.registry.Snapshot() {
		if room.Status != domain.StatusFinalizing {
			continue
		}
		rec := &domain.FinalizationRecord{
			RoomCode:    room.Code,
			InstanceID:  room.InstanceID,
			Reason:      domain.ReasonAbandonment,
			FinalizedAt: time.Now(),
		}
		f.mu.Lock()
		f.records[room.InstanceID] = rec
		f.pending = append(f.pending, room.InstanceID)
		f.mu.Unlock()

		if err := f.registry.Deactivate(ctx, room.Code); err != nil {
			log.Error().Err(err).Str("module", "core.finalizer").Str("code", string(room.Code)).Msg("deactivate on recovery")
			continue
		}
		log.Warn().Str("module", "core.finalizer").Str("code", string(room.Code)).
			Str("instance", string(room.InstanceID)).Msg("completed finalization interrupted by restart")
	}
}

// Finalize is idempotent: double-clicks, retries and racing calls from
// both participants all succeed, and the billing boundary fires at most
// once per instance. A billing failure still finalizes the room; it is
// surfaced wrapped in domain.ErrBillingFailed and queued for retry.
func (f *SessionFinalizer) Finalize(ctx context.Context, code domain.RoomCode, by domain.Identity, reason domain.FinalizeReason) (domain.FinalizationRecord, error) {
	room, err := f.registry.Lookup(code)
	if err != nil {
		return domain.FinalizationRecord{}, err
	}
	// An explicit end is a participant's call. Abandonment comes from the
	// sweeper with no identity attached.
	if reason == domain.ReasonExplicitEnd && !room.Holds(by) {
		return domain.FinalizationRecord{}, fmt.Errorf("finalize %s by %s: %w", code, by, domain.ErrForbidden)
	}
	if room.Status == domain.StatusFinalized {
		return f.recordFor(room, by, reason), nil
	}

	room, won, err := f.registry.BeginFinalize(ctx, code)
	if err != nil {
		return domain.FinalizationRecord{}, err
	}
	if !won {
		// The loser proceeds as if already finalized.
		return f.recordFor(room, by, reason), nil
	}

	rec := &domain.FinalizationRecord{
		RoomCode:    code,
		InstanceID:  room.InstanceID,
		FinalizedBy: by,
		Reason:      reason,
		FinalizedAt: time.Now(),
	}
	f.mu.Lock()
	f.records[room.InstanceID] = rec
	f.mu.Unlock()

	billErr := f.triggerBilling(ctx, room, rec)

	// The room finalizes regardless: a consultation must not stay stuck
	// replaying negotiation because a downstream recorder is unavailable.
	if err := f.registry.Deactivate(ctx, code); err != nil {
		log.Error().Err(err).Str("module", "core.finalizer").Str("code", string(code)).Msg("deactivate after finalize")
	}

	if billErr != nil {
		f.mu.Lock()
		f.pending = append(f.pending, room.InstanceID)
		f.mu.Unlock()
		log.Warn().Err(billErr).Str("module", "core.finalizer").Str("code", string(code)).
			Str("instance", string(room.InstanceID)).Msg("billing deferred to reconciliation")
		return *rec, fmt.Errorf("record consultation %s: %w", room.InstanceID, domain.ErrBillingFailed)
	}

	log.Info().Str("module", "core.finalizer").Str("code", string(code)).
		Str("instance", string(room.InstanceID)).Str("reason", string(reason)).Msg("consultation finalized")
	return *rec, nil
}

func (f *SessionFinalizer) triggerBilling(ctx context.Context, room domain.RoomState, rec *domain.FinalizationRecord) error {
	_, err := f.billing.RecordConsultation(ctx, ConsultationBill{
		InstanceID:  room.InstanceID,
		RoomCode:    room.Code,
		DoctorID:    room.DoctorID,
		PatientID:   room.PatientID,
		StartedAt:   room.ActivatedAt,
		FinalizedAt: rec.FinalizedAt,
	})
	if err != nil {
		return err
	}
	f.mu.Lock()
	rec.BillingTriggered = true
	f.mu.Unlock()
	return nil
}

// recordFor returns the stored record of a concluded instance, or a bare
// one when finalization concluded in a previous process lifetime.
func (f *SessionFinalizer) recordFor(room domain.RoomState, by domain.Identity, reason domain.FinalizeReason) domain.FinalizationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[room.InstanceID]; ok {
		return *rec
	}
	return domain.FinalizationRecord{
		RoomCode:    room.Code,
		InstanceID:  room.InstanceID,
		FinalizedBy: by,
		Reason:      reason,
		FinalizedAt: room.FinalizedAt,
	}
}

// PendingBilling lists instances whose billing call has not been
// acknowledged yet.
func (f *SessionFinalizer) PendingBilling() []domain.FinalizationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.FinalizationRecord, 0, len(f.pending))
	for _, id := range f.pending {
		if rec, ok := f.records[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// RetryPending replays deferred billing calls. The gateway is idempotent
// on InstanceID, so replaying an already-recorded instance is harmless.
func (f *SessionFinalizer) RetryPending(ctx context.Context) {
	f.mu.Lock()
	queue := f.pending
	f.pending = nil
	f.mu.Unlock()

	for _, id := range queue {
		f.mu.Lock()
		rec, ok := f.records[id]
		var snapshot domain.FinalizationRecord
		if ok {
			snapshot = *rec
		}
		f.mu.Unlock()
		if !ok || snapshot.BillingTriggered {
			continue
		}

		room, err := f.registry.Lookup(snapshot.RoomCode)
		if err != nil {
			log.Error().Err(err).Str("module", "core.finalizer").
				Str("instance", string(id)).Msg("reconcile lookup failed")
			continue
		}
		if err := f.triggerBilling(ctx, room, rec); err != nil {
			f.mu.Lock()
			f.pending = append(f.pending, id)
			f.mu.Unlock()
			log.Warn().Err(err).Str("module", "core.finalizer").
				Str("instance", string(id)).Msg("billing retry failed")
			continue
		}
		log.Info().Str("module", "core.finalizer").Str("instance", string(id)).Msg("billing reconciled")
	}
}
