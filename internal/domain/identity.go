// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

type UserID string

// Role mirrors the account types of the consultation platform. The wire
// values match what the web clients already send.
type Role string

const (
	RoleDoctor  Role = "medico"
	RolePatient Role = "paciente"
)

var ErrUnknownRole = errors.New("unknown role")

// Identity is who a connected participant claims to be. The claim is
// checked against the authorization boundary on join; the coordinator
// never re-derives roles itself.
type Identity struct {
	Role   Role   `json:"role"`
	UserID UserID `json:"userId"`
}

func NewIdentity(role string, userID string) (Identity, error) {
	r := Role(role)
	if r != RoleDoctor && r != RolePatient {
		return Identity{}, ErrUnknownRole
	}
	if userID == "" {
		return Identity{}, errors.New("empty user id")
	}
	return Identity{Role: r, UserID: UserID(userID)}, nil
}

func (i Identity) IsZero() bool { return i.Role == "" && i.UserID == "" }

func (i Identity) String() string {
	return string(i.Role) + ":" + string(i.UserID)
}
