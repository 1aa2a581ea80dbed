package shared

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

// Roles recognised by the workflow engine.
const (
	RoleAdmin              = "Admin"
	RoleProcurementManager = "ProcurementManager"
	RoleApprover           = "Approver"
	RoleVendor             = "Vendor"
)

// Actor identifies the caller of an operation.
type Actor struct {
	UserID   string
	Roles    []string
	VendorID uuid.UUID
}

// HasRole reports whether the actor carries the role.
func (a Actor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// HasAnyRole reports whether the actor carries at least one of the roles.
func (a Actor) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if a.HasRole(role) {
			return true
		}
	}
	return false
}

// IsStaff reports whether the actor acts on behalf of the buying organisation.
func (a Actor) IsStaff() bool {
	return a.HasAnyRole(RoleAdmin, RoleProcurementManager)
}

// IsVendor reports whether the actor is a vendor portal user bound to a vendor.
func (a Actor) IsVendor() bool {
	return a.HasRole(RoleVendor) && a.VendorID != uuid.Nil
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
