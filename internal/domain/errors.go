package domain

import "errors"

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrInvalidState  = errors.New("operation not allowed in current room status")
	ErrForbidden     = errors.New("identity is not a participant of this room")
	ErrRoomFull      = errors.New("room already has two participants")
	ErrRoomConflict  = errors.New("an open room already exists for this doctor and patient")
	ErrBillingFailed = errors.New("billing boundary did not accept the consultation record")
)
