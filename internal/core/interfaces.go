package core

import (
	"context"
	"time"

	"github.com/teleconsulta/coordinator/internal/domain"
)

// Frame is a raw payload delivered to a participant's channel.
type Frame []byte

// SignalConnection abstracts a participant's outbound transport endpoint.
// Owned by the adapter; the adapter must Close() it. Core code only ever
// looks it up and writes to it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

type BillingRecordID string

// ConsultationBill is everything the billing boundary needs to record one
// consultation instance. InstanceID is the idempotency key; the boundary
// must enforce uniqueness on it.
type ConsultationBill struct {
	InstanceID  domain.InstanceID
	RoomCode    domain.RoomCode
	DoctorID    domain.UserID
	PatientID   domain.UserID
	StartedAt   time.Time
	FinalizedAt time.Time
}

// BillingGateway records a finished consultation. Implementations must be
// safely retriable: a second call with the same InstanceID returns the
// original record id without a second charge.
type BillingGateway interface {
	RecordConsultation(ctx context.Context, bill ConsultationBill) (BillingRecordID, error)
}

// Authorizer decides whether an identity may join a room. The coordinator
// trusts the decision and does not re-derive roles.
type Authorizer interface {
	CheckJoin(ctx context.Context, id domain.Identity, code domain.RoomCode) error
}

// AuthorizerFunc adapts a plain function to Authorizer.
type AuthorizerFunc func(ctx context.Context, id domain.Identity, code domain.RoomCode) error

func (f AuthorizerFunc) CheckJoin(ctx context.Context, id domain.Identity, code domain.RoomCode) error {
	return f(ctx, id, code)
}

// RoomPersistence mirrors room status transitions outside the process so a
// restart does not silently lose in-flight rooms. It is reconciliation
// support, not the source of truth during a process lifetime.
type RoomPersistence interface {
	LoadActiveRooms(ctx context.Context) ([]domain.RoomState, error)
	RecordStatusChange(ctx context.Context, room domain.RoomState) error
}
