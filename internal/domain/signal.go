package domain

import "encoding/json"

// SignalType tags a negotiation message. The coordinator routes on the tag
// only; payloads stay opaque end to end.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
	SignalBye       SignalType = "bye"
)

func (t SignalType) Valid() bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalCandidate, SignalBye:
		return true
	}
	return false
}

// SignalMessage is one negotiation message in flight between the two
// participants of a room.
type SignalMessage struct {
	Type     SignalType      `json:"type"`
	From     Identity        `json:"from"`
	RoomCode RoomCode        `json:"roomCode"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
