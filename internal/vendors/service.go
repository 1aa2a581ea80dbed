package vendors

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// UserCache drops cached identities of a vendor's portal users.
type UserCache interface {
	InvalidateVendor(ctx context.Context, vendorID uuid.UUID) error
}

type Service struct {
	repo      Repository
	validator *validator.Validate
	users     UserCache
}

// Option configures a Service.
type Option func(*Service)

// WithUserCache evicts cached portal users whenever their vendor changes.
func WithUserCache(c UserCache) Option {
	return func(s *Service) { s.users = c }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, validator: validator.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Vendor, int, error) {
	return s.repo.List(ctx, filters)
}

// GetVendor returns a vendor regardless of its active flag.
func (s *Service) GetVendor(ctx context.Context, id uuid.UUID) (Vendor, error) {
	if id == uuid.Nil {
		return Vendor{}, ErrVendorNotFound
	}
	return s.repo.Get(ctx, id)
}

// ResolveVendors returns active vendors for ids in order. Unknown or
// inactive ids yield an *UnknownVendorsError.
func (s *Service) ResolveVendors(ctx context.Context, ids []uuid.UUID) ([]Vendor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]Vendor, len(found))
	for _, v := range found {
		if v.IsActive {
			byID[v.ID] = v
		}
	}
	out := make([]Vendor, 0, len(ids))
	var missing []uuid.UUID
	for _, id := range ids {
		v, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, v)
	}
	if len(missing) > 0 {
		return nil, &UnknownVendorsError{IDs: missing}
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, v Vendor) (Vendor, error) {
	if err := s.validate(&v); err != nil {
		return Vendor{}, err
	}
	v.ID = uuid.New()
	v.IsActive = true
	return s.repo.Create(ctx, v)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, v Vendor) (Vendor, error) {
	if err := s.validate(&v); err != nil {
		return Vendor{}, err
	}
	v.ID = id
	updated, err := s.repo.Update(ctx, v)
	if err != nil {
		return Vendor{}, err
	}
	if err := s.evictUsers(ctx, id); err != nil {
		return Vendor{}, err
	}
	return updated, nil
}

// Deactivate hides the vendor from new RFQs and signs out its portal users.
// Existing records keep referencing it. Repeating the call is harmless.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	return s.evictUsers(ctx, id)
}

func (s *Service) evictUsers(ctx context.Context, id uuid.UUID) error {
	if s.users == nil {
		return nil
	}
	if err := s.users.InvalidateVendor(ctx, id); err != nil {
		return fmt.Errorf("vendors: evict cached users of %s: %w", id, err)
	}
	return nil
}
