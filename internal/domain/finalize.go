package domain

import "time"

type FinalizeReason string

const (
	ReasonExplicitEnd FinalizeReason = "explicit_end"
	ReasonAbandonment FinalizeReason = "abandonment"
)

// FinalizationRecord tracks the one-time billing side effect of a
// consultation instance. BillingTriggered goes false->true at most once
// per InstanceID no matter how many finalize calls arrive.
type FinalizationRecord struct {
	RoomCode         RoomCode       `json:"roomCode"`
	InstanceID       InstanceID     `json:"instanceId"`
	FinalizedBy      Identity       `json:"finalizedBy"`
	Reason           FinalizeReason `json:"reason"`
	BillingTriggered bool           `json:"billingTriggered"`
	FinalizedAt      time.Time      `json:"finalizedAt"`
}
