package users

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/procurepro/procurepro/internal/shared"
)

// User is an identity known to the workflow engine. Accounts are managed by
// the identity provider; this package only reads them.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Roles       []string   `json:"roles"`
	VendorID    *uuid.UUID `json:"vendor_id,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Actor converts the user into the request actor.
func (u User) Actor() shared.Actor {
	actor := shared.Actor{UserID: u.ID, Roles: append([]string(nil), u.Roles...)}
	if u.VendorID != nil {
		actor.VendorID = *u.VendorID
	}
	return actor
}

// ErrUnknownUser indicates at least one referenced user does not exist.
var ErrUnknownUser = fmt.Errorf("users: %w", shared.ErrNotFound)

// UnknownUsersError lists the ids that failed to resolve.
type UnknownUsersError struct {
	IDs []string
}

func (e *UnknownUsersError) Error() string {
	return fmt.Sprintf("users: unknown user ids %v", e.IDs)
}

// Unwrap lets errors.Is match ErrUnknownUser.
func (e *UnknownUsersError) Unwrap() error { return ErrUnknownUser }

// IsUnknown reports whether err signals an unresolved user.
func IsUnknown(err error) bool {
	return errors.Is(err, ErrUnknownUser)
}
