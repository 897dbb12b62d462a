// Package store holds the default boundary adapters: an in-process
// billing gateway and a file-backed room persistence. Production
// deployments replace them behind the core interfaces.
package store

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teleconsulta/coordinator/internal/core"
	"github.com/teleconsulta/coordinator/internal/domain"
)

// FeeSplit is how a consultation fee is divided between the doctor and
// the platform.
type FeeSplit struct {
	Fee            float64
	DoctorSharePct float64
}

type billingEntry struct {
	id           core.BillingRecordID
	bill         core.ConsultationBill
	total        float64
	doctorAmount float64
	adminAmount  float64
}

// MemoryBilling records consultations in memory, enforcing uniqueness on
// the consultation instance id the way the original ledger enforced its
// unique key: a replay returns the first record without a second charge.
type MemoryBilling struct {
	split FeeSplit

	mu      sync.Mutex
	records map[domain.InstanceID]billingEntry
}

func NewMemoryBilling(split FeeSplit) *MemoryBilling {
	return &MemoryBilling{
		split:   split,
		records: make(map[domain.InstanceID]billingEntry),
	}
}

func (b *MemoryBilling) RecordConsultation(ctx context.Context, bill core.ConsultationBill) (core.BillingRecordID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.records[bill.InstanceID]; ok {
		log.Info().Str("module", "store.billing").Str("instance", string(bill.InstanceID)).
			Msg("consultation already recorded")
		return existing.id, nil
	}

	doctorAmount := round2(b.split.Fee * b.split.DoctorSharePct / 100)
	entry := billingEntry{
		id:           core.BillingRecordID(uuid.NewString()),
		bill:         bill,
		total:        b.split.Fee,
		doctorAmount: doctorAmount,
		adminAmount:  round2(b.split.Fee - doctorAmount),
	}
	b.records[bill.InstanceID] = entry

	log.Info().Str("module", "store.billing").Str("instance", string(bill.InstanceID)).
		Str("room", string(bill.RoomCode)).Float64("total", entry.total).
		Float64("doctor", entry.doctorAmount).Msg("consultation recorded")
	return entry.id, nil
}

// Recorded reports whether an instance has been billed, for reconciliation
// checks and tests.
func (b *MemoryBilling) Recorded(id domain.InstanceID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.records[id]
	return ok
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
