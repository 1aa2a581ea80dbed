package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, display_name, roles, vendor_id, is_active, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Roles, &u.VendorID, &u.IsActive, &u.CreatedAt)
	return u, err
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// LookupUser returns an active user by id. Portal users of a deactivated
// vendor are treated as unknown.
func (r *Repository) LookupUser(ctx context.Context, id string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 AND is_active
AND (vendor_id IS NULL OR EXISTS (SELECT 1 FROM vendors v WHERE v.id = users.vendor_id AND v.is_active))`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, &UnknownUsersError{IDs: []string{id}}
	}
	return u, err
}

// ResolveUsers returns the active users for ids in the given order and fails
// when any id is unknown.
func (r *Repository) ResolveUsers(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) AND is_active`, ids)
	if err != nil {
		return nil, err
	}
	found, err := collectUsers(rows)
	if err != nil {
		return nil, err
	}
	return orderByIDs(ids, found)
}

// UsersWithRole lists active users holding role.
func (r *Repository) UsersWithRole(ctx context.Context, role string) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE $1 = ANY(roles) AND is_active ORDER BY id`, role)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// UsersForVendor lists active portal users bound to vendorID.
func (r *Repository) UsersForVendor(ctx context.Context, vendorID uuid.UUID) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE vendor_id = $1 AND is_active ORDER BY id`, vendorID)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func orderByIDs(ids []string, found []User) ([]User, error) {
	byID := make(map[string]User, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}
	out := make([]User, 0, len(ids))
	var missing []string
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, u)
	}
	if len(missing) > 0 {
		return nil, &UnknownUsersError{IDs: missing}
	}
	return out, nil
}
