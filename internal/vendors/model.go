package vendors

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/procurepro/procurepro/internal/shared"
)

// Vendor represents a company invited to quote.
type Vendor struct {
	ID          uuid.UUID `json:"id"`
	CompanyName string    `json:"company_name" validate:"required,max=200"`
	Email       string    `json:"email" validate:"required,email"`
	Phone       string    `json:"phone" validate:"max=50"`
	Category    string    `json:"category" validate:"max=100"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListFilters narrows vendor listings.
type ListFilters struct {
	Search     string
	Category   string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// ErrVendorNotFound indicates the vendor does not exist.
var ErrVendorNotFound = fmt.Errorf("vendors: %w", shared.ErrNotFound)

// UnknownVendorsError lists vendor ids that failed to resolve.
type UnknownVendorsError struct {
	IDs []uuid.UUID
}

func (e *UnknownVendorsError) Error() string {
	return fmt.Sprintf("vendors: unknown vendor ids %v", e.IDs)
}

// Unwrap lets errors.Is match ErrVendorNotFound.
func (e *UnknownVendorsError) Unwrap() error { return ErrVendorNotFound }
