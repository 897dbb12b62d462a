package app

import (
	"context"
	"fmt"

	"github.com/teleconsulta/coordinator/internal/core"
	"github.com/teleconsulta/coordinator/internal/domain"
)

// NewRoomBoundAuthorizer allows a join only when the identity is the
// doctor or the patient the room was created for. Deployments with an
// external authorization service swap in their own core.Authorizer.
func NewRoomBoundAuthorizer(registry *core.RoomRegistry) core.Authorizer {
	return core.AuthorizerFunc(func(ctx context.Context, id domain.Identity, code domain.RoomCode) error {
		room, err := registry.Lookup(code)
		if err != nil {
			return err
		}
		if !room.Holds(id) {
			return fmt.Errorf("identity %s not bound to room %s: %w", id, code, domain.ErrForbidden)
		}
		return nil
	})
}
