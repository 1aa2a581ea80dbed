package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/procurepro/procurepro/internal/shared"
)

type fakeRepo struct {
	mu      sync.Mutex
	users   map[string]User
	lookups int
}

func (f *fakeRepo) LookupUser(_ context.Context, id string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	u, ok := f.users[id]
	if !ok {
		return User{}, &UnknownUsersError{IDs: []string{id}}
	}
	return u, nil
}

func (f *fakeRepo) ResolveUsers(_ context.Context, ids []string) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			found = append(found, u)
		}
	}
	return orderByIDs(ids, found)
}

func (f *fakeRepo) UsersWithRole(_ context.Context, role string) ([]User, error) {
	var out []User
	for _, u := range f.users {
		if u.Actor().HasRole(role) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeRepo) UsersForVendor(_ context.Context, vendorID uuid.UUID) ([]User, error) {
	var out []User
	for _, u := range f.users {
		if u.VendorID != nil && *u.VendorID == vendorID {
			out = append(out, u)
		}
	}
	return out, nil
}

func newDirectory(t *testing.T) (*Directory, *fakeRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := &fakeRepo{users: map[string]User{
		"alice": {ID: "alice", Email: "alice@example.com", Roles: []string{shared.RoleApprover}, IsActive: true},
		"bob":   {ID: "bob", Email: "bob@example.com", Roles: []string{shared.RoleProcurementManager}, IsActive: true},
	}}
	return NewDirectory(repo, client, time.Minute, nil), repo, mr
}

func TestDirectoryCachesLookups(t *testing.T) {
	dir, repo, mr := newDirectory(t)
	ctx := context.Background()

	u, err := dir.LookupUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", u.Email)
	require.True(t, mr.Exists(cacheKeyPrefix+"alice"))

	_, err = dir.LookupUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, repo.lookups)

	mr.FastForward(2 * time.Minute)
	_, err = dir.LookupUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 2, repo.lookups)
}

func TestDirectoryResolveUsersReportsUnknown(t *testing.T) {
	dir, _, _ := newDirectory(t)
	ctx := context.Background()

	resolved, err := dir.ResolveUsers(ctx, []string{"bob", "alice"})
	require.NoError(t, err)
	require.Equal(t, "bob", resolved[0].ID)
	require.Equal(t, "alice", resolved[1].ID)

	_, err = dir.ResolveUsers(ctx, []string{"alice", "mallory"})
	require.Error(t, err)
	require.True(t, IsUnknown(err))
	require.ErrorIs(t, err, shared.ErrNotFound)
	var unknown *UnknownUsersError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, []string{"mallory"}, unknown.IDs)
}

func TestDirectoryWithoutRedis(t *testing.T) {
	repo := &fakeRepo{users: map[string]User{"carol": {ID: "carol", IsActive: true}}}
	dir := NewDirectory(repo, nil, 0, nil)
	_, err := dir.LookupUser(context.Background(), "carol")
	require.NoError(t, err)
	_, err = dir.LookupUser(context.Background(), "carol")
	require.NoError(t, err)
	require.Equal(t, 2, repo.lookups)
	require.NoError(t, dir.Invalidate(context.Background(), "carol"))
}

func TestDirectoryInvalidateVendorEvictsPortalUsers(t *testing.T) {
	dir, repo, mr := newDirectory(t)
	ctx := context.Background()
	vendorID := uuid.New()
	repo.users["v-user"] = User{ID: "v-user", Roles: []string{shared.RoleVendor}, VendorID: &vendorID, IsActive: true}

	for _, id := range []string{"v-user", "alice"} {
		_, err := dir.LookupUser(ctx, id)
		require.NoError(t, err)
	}
	require.True(t, mr.Exists(cacheKeyPrefix+"v-user"))

	require.NoError(t, dir.InvalidateVendor(ctx, vendorID))
	require.False(t, mr.Exists(cacheKeyPrefix+"v-user"))
	require.True(t, mr.Exists(cacheKeyPrefix+"alice"))

	delete(repo.users, "v-user")
	_, err := dir.LookupUser(ctx, "v-user")
	require.True(t, IsUnknown(err))

	require.NoError(t, dir.InvalidateVendor(ctx, uuid.New()))
}

func TestUserActorCarriesVendor(t *testing.T) {
	vendorID := uuid.New()
	u := User{ID: "v-user", Roles: []string{shared.RoleVendor}, VendorID: &vendorID}
	actor := u.Actor()
	require.True(t, actor.IsVendor())
	require.Equal(t, vendorID, actor.VendorID)
}
