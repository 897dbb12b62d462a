package store

import (
	"context"
	"testing"
	"time"

	"github.com/teleconsulta/coordinator/internal/core"
)

func TestRecordConsultationIdempotentOnInstance(t *testing.T) {
	billing := NewMemoryBilling(FeeSplit{Fee: 150, DoctorSharePct: 70})
	ctx := context.Background()

	bill := core.ConsultationBill{
		InstanceID:  "inst-1",
		RoomCode:    "ABC123",
		DoctorID:    "d1",
		PatientID:   "p1",
		StartedAt:   time.Now().Add(-30 * time.Minute),
		FinalizedAt: time.Now(),
	}

	first, err := billing.RecordConsultation(ctx, bill)
	if err != nil {
		t.Fatalf("RecordConsultation: %v", err)
	}
	second, err := billing.RecordConsultation(ctx, bill)
	if err != nil {
		t.Fatalf("replay RecordConsultation: %v", err)
	}
	if first != second {
		t.Fatalf("replay minted a new record: %s vs %s", first, second)
	}
	if !billing.Recorded("inst-1") {
		t.Fatal("instance must be marked recorded")
	}

	// A different instance is a separate charge.
	bill.InstanceID = "inst-2"
	third, err := billing.RecordConsultation(ctx, bill)
	if err != nil {
		t.Fatalf("second instance: %v", err)
	}
	if third == first {
		t.Fatal("distinct instances must get distinct records")
	}
}

func TestFeeSplitAmounts(t *testing.T) {
	billing := NewMemoryBilling(FeeSplit{Fee: 150, DoctorSharePct: 70})
	ctx := context.Background()

	if _, err := billing.RecordConsultation(ctx, core.ConsultationBill{InstanceID: "inst-1"}); err != nil {
		t.Fatalf("RecordConsultation: %v", err)
	}

	entry := billing.records["inst-1"]
	if entry.total != 150 {
		t.Fatalf("total = %v, want 150", entry.total)
	}
	if entry.doctorAmount != 105 {
		t.Fatalf("doctor amount = %v, want 105", entry.doctorAmount)
	}
	if entry.adminAmount != 45 {
		t.Fatalf("admin amount = %v, want 45", entry.adminAmount)
	}
}
