package vendors

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/procurepro/procurepro/internal/shared"
)

type memoryRepo struct {
	vendors map[uuid.UUID]Vendor
}

func (m *memoryRepo) List(_ context.Context, _ ListFilters) ([]Vendor, int, error) {
	out := make([]Vendor, 0, len(m.vendors))
	for _, v := range m.vendors {
		out = append(out, v)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (Vendor, error) {
	v, ok := m.vendors[id]
	if !ok {
		return Vendor{}, ErrVendorNotFound
	}
	return v, nil
}

func (m *memoryRepo) GetMany(_ context.Context, ids []uuid.UUID) ([]Vendor, error) {
	var out []Vendor
	for _, id := range ids {
		if v, ok := m.vendors[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memoryRepo) Create(_ context.Context, v Vendor) (Vendor, error) {
	m.vendors[v.ID] = v
	return v, nil
}

func (m *memoryRepo) Update(_ context.Context, v Vendor) (Vendor, error) {
	if _, ok := m.vendors[v.ID]; !ok {
		return Vendor{}, ErrVendorNotFound
	}
	m.vendors[v.ID] = v
	return v, nil
}

func (m *memoryRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	v, ok := m.vendors[id]
	if !ok {
		return ErrVendorNotFound
	}
	v.IsActive = active
	m.vendors[id] = v
	return nil
}

type recordingCache struct {
	evicted []uuid.UUID
	err     error
}

func (c *recordingCache) InvalidateVendor(_ context.Context, vendorID uuid.UUID) error {
	c.evicted = append(c.evicted, vendorID)
	return c.err
}

func TestVendorChangesEvictCachedUsers(t *testing.T) {
	repo := &memoryRepo{vendors: map[uuid.UUID]Vendor{}}
	cache := &recordingCache{}
	svc := NewService(repo, WithUserCache(cache))
	ctx := context.Background()

	v, err := svc.Create(ctx, Vendor{CompanyName: "Acme", Email: "sales@acme.test"})
	require.NoError(t, err)
	require.Empty(t, cache.evicted)

	_, err = svc.Update(ctx, v.ID, Vendor{CompanyName: "Acme Ltd", Email: "sales@acme.test"})
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, v.ID))
	require.Equal(t, []uuid.UUID{v.ID, v.ID}, cache.evicted)
	require.False(t, repo.vendors[v.ID].IsActive)

	require.ErrorIs(t, svc.Deactivate(ctx, uuid.New()), ErrVendorNotFound)
	require.Len(t, cache.evicted, 2)

	cache.err = errors.New("redis down")
	require.ErrorContains(t, svc.Deactivate(ctx, v.ID), "redis down")
}

func TestCreateVendorValidates(t *testing.T) {
	svc := NewService(&memoryRepo{vendors: map[uuid.UUID]Vendor{}})
	_, err := svc.Create(context.Background(), Vendor{CompanyName: "Acme"})
	require.ErrorIs(t, err, shared.ErrValidation)

	created, err := svc.Create(context.Background(), Vendor{CompanyName: " Acme ", Email: "Sales@Acme.test"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)
	require.True(t, created.IsActive)
	require.Equal(t, "Acme", created.CompanyName)
	require.Equal(t, "sales@acme.test", created.Email)
}

func TestResolveVendorsSkipsInactive(t *testing.T) {
	repo := &memoryRepo{vendors: map[uuid.UUID]Vendor{}}
	svc := NewService(repo)
	ctx := context.Background()

	a, err := svc.Create(ctx, Vendor{CompanyName: "A", Email: "a@example.com"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, Vendor{CompanyName: "B", Email: "b@example.com"})
	require.NoError(t, err)

	resolved, err := svc.ResolveVendors(ctx, []uuid.UUID{b.ID, a.ID})
	require.NoError(t, err)
	require.Equal(t, b.ID, resolved[0].ID)

	require.NoError(t, svc.Deactivate(ctx, b.ID))
	_, err = svc.ResolveVendors(ctx, []uuid.UUID{a.ID, b.ID})
	require.ErrorIs(t, err, shared.ErrNotFound)
	var unknown *UnknownVendorsError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, []uuid.UUID{b.ID}, unknown.IDs)

	_, err = svc.GetVendor(ctx, uuid.Nil)
	require.ErrorIs(t, err, ErrVendorNotFound)
}
