package users

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	LookupUser(ctx context.Context, id string) (User, error)
	ResolveUsers(ctx context.Context, ids []string) ([]User, error)
	UsersWithRole(ctx context.Context, role string) ([]User, error)
	UsersForVendor(ctx context.Context, vendorID uuid.UUID) ([]User, error)
}

const cacheKeyPrefix = "users:v1:"

// Directory serves identity lookups from Redis, falling back to the
// repository. Concurrent misses for the same id share one repository call.
type Directory struct {
	repo   RepositoryPort
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewDirectory builds a Directory. A nil client disables caching.
func NewDirectory(repo RepositoryPort, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Directory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{repo: repo, client: client, ttl: ttl, logger: logger}
}

// LookupUser returns the user with id.
func (d *Directory) LookupUser(ctx context.Context, id string) (User, error) {
	if u, ok := d.cached(ctx, id); ok {
		return u, nil
	}
	v, err, _ := d.group.Do(id, func() (any, error) {
		u, err := d.repo.LookupUser(ctx, id)
		if err != nil {
			return User{}, err
		}
		d.store(ctx, u)
		return u, nil
	})
	if err != nil {
		return User{}, err
	}
	return v.(User), nil
}

// ResolveUsers returns the users for ids, failing when any id is unknown.
func (d *Directory) ResolveUsers(ctx context.Context, ids []string) ([]User, error) {
	known := make(map[string]User, len(ids))
	var misses []string
	for _, id := range ids {
		if u, ok := d.cached(ctx, id); ok {
			known[id] = u
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) > 0 {
		fetched, err := d.repo.ResolveUsers(ctx, misses)
		if err != nil {
			return nil, err
		}
		for _, u := range fetched {
			known[u.ID] = u
			d.store(ctx, u)
		}
	}
	found := make([]User, 0, len(known))
	for _, u := range known {
		found = append(found, u)
	}
	return orderByIDs(ids, found)
}

// UsersWithRole lists users holding role. Role membership is not cached.
func (d *Directory) UsersWithRole(ctx context.Context, role string) ([]User, error) {
	return d.repo.UsersWithRole(ctx, role)
}

// UsersForVendor lists portal users of a vendor.
func (d *Directory) UsersForVendor(ctx context.Context, vendorID uuid.UUID) ([]User, error) {
	return d.repo.UsersForVendor(ctx, vendorID)
}

// Invalidate drops the cached entries for ids.
func (d *Directory) Invalidate(ctx context.Context, ids ...string) error {
	if d.client == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cacheKeyPrefix+id)
	}
	return d.client.Del(ctx, keys...).Err()
}

// InvalidateVendor drops the cached portal users bound to vendorID, so a
// vendor change applies to their next request.
func (d *Directory) InvalidateVendor(ctx context.Context, vendorID uuid.UUID) error {
	if d.client == nil {
		return nil
	}
	bound, err := d.repo.UsersForVendor(ctx, vendorID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(bound))
	for _, u := range bound {
		ids = append(ids, u.ID)
	}
	return d.Invalidate(ctx, ids...)
}

func (d *Directory) cached(ctx context.Context, id string) (User, bool) {
	if d.client == nil {
		return User{}, false
	}
	raw, err := d.client.Get(ctx, cacheKeyPrefix+id).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.logger.Warn("user cache read", slog.String("user_id", id), slog.Any("error", err))
		}
		return User{}, false
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		d.logger.Warn("user cache decode", slog.String("user_id", id), slog.Any("error", err))
		return User{}, false
	}
	return u, true
}

func (d *Directory) store(ctx context.Context, u User) {
	if d.client == nil {
		return
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := d.client.Set(ctx, cacheKeyPrefix+u.ID, raw, d.ttl).Err(); err != nil {
		d.logger.Warn("user cache write", slog.String("user_id", u.ID), slog.Any("error", err))
	}
}
