package signal

import (
	"errors"

	"github.com/teleconsulta/coordinator/internal/core"
	"github.com/teleconsulta/coordinator/internal/domain"
)

// errCode maps domain errors to stable wire codes. Structural errors are
// always surfaced to the client as a rejected action, never dropped.
func errCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrRoomFull):
		return "room_full"
	case errors.Is(err, domain.ErrRoomConflict):
		return "room_conflict"
	case errors.Is(err, domain.ErrBillingFailed):
		return "billing_deferred"
	default:
		return "internal"
	}
}

func (ctl *ConsultWSController) sendError(c core.SignalConnection, code, reason string) {
	ctl.sendJSON(c, struct {
		Type   string `json:"type"`
		Code   string `json:"code"`
		Reason string `json:"reason"`
	}{
		Type:   "error",
		Code:   code,
		Reason: reason,
	})
}
