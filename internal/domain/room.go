package domain

import (
	"crypto/rand"
	"math/big"
	"time"
)

type (
	RoomCode   string
	InstanceID string
)

// RoomStatus is the room lifecycle. Finalized is absorbing; no transition
// goes backward.
type RoomStatus int

const (
	StatusCreated RoomStatus = iota
	StatusActive
	StatusFinalizing
	StatusFinalized
)

func (s RoomStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusActive:
		return "active"
	case StatusFinalizing:
		return "finalizing"
	case StatusFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// RoomState binds one doctor and one patient to a consultation room.
// DoctorID and PatientID are fixed at creation. InstanceID identifies the
// billable consultation instance and is minted once, on Created->Active.
type RoomState struct {
	Code        RoomCode   `json:"code"`
	DoctorID    UserID     `json:"doctorId"`
	PatientID   UserID     `json:"patientId"`
	Status      RoomStatus `json:"status"`
	InstanceID  InstanceID `json:"instanceId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ActivatedAt time.Time  `json:"activatedAt,omitempty"`
	FinalizedAt time.Time  `json:"finalizedAt,omitempty"`
}

// Holds returns whether id is one of the two identities bound to the room.
func (r RoomState) Holds(id Identity) bool {
	switch id.Role {
	case RoleDoctor:
		return id.UserID == r.DoctorID
	case RolePatient:
		return id.UserID == r.PatientID
	}
	return false
}

const (
	roomCodeLen   = 6
	roomCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewRoomCode generates a short shareable code. Callers must check it
// against codes still in use; uniqueness is not guaranteed here.
func NewRoomCode() RoomCode {
	buf := make([]byte, roomCodeLen)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeChars))))
		if err != nil {
			panic("room code entropy source failed: " + err.Error())
		}
		buf[i] = roomCodeChars[n.Int64()]
	}
	return RoomCode(buf)
}
