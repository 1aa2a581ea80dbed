package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/procurepro/procurepro/internal/platform/db"
	"github.com/procurepro/procurepro/internal/shared"
)

// Notification is a delivered message. Web notifications form a user's inbox;
// email rows are a delivery log with an empty UserID.
type Notification struct {
	ID          uuid.UUID  `json:"id"`
	UserID      string     `json:"user_id,omitempty"`
	Channel     string     `json:"channel"`
	Recipient   string     `json:"recipient,omitempty"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// InboxFilter narrows a user's inbox listing.
type InboxFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Store persists notifications in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// keyNamespace derives stable row ids from task keys.
var keyNamespace = uuid.MustParse("0b6f3c2e-5d1a-4f7e-9a43-8c2d7e51b0f4")

// IDForKey returns the notification id used for a delivery key.
func IDForKey(key string) uuid.UUID {
	return uuid.NewSHA1(keyNamespace, []byte(key))
}

const notificationColumns = `id, user_id, channel, recipient, title, message, created_at, delivered_at, read_at`

// Insert stores n. Re-inserting the same id is a no-op.
func (s *Store) Insert(ctx context.Context, n Notification) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO notifications (`+notificationColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`,
		n.ID, n.UserID, n.Channel, n.Recipient, n.Title, n.Message, n.CreatedAt, n.DeliveredAt, n.ReadAt)
	return db.MapError(err)
}

// ListInbox returns a user's web notifications, newest first, with the total count.
func (s *Store) ListInbox(ctx context.Context, userID string, filter InboxFilter) ([]Notification, int, error) {
	where := `WHERE user_id = $1 AND channel = 'web'`
	if filter.UnreadOnly {
		where += ` AND read_at IS NULL`
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications `+where, userID).Scan(&total); err != nil {
		return nil, 0, db.MapError(err)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT `+notificationColumns+` FROM notifications `+where+`
ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, userID, limit, filter.Offset)
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Notification, error) {
		var n Notification
		err := row.Scan(&n.ID, &n.UserID, &n.Channel, &n.Recipient, &n.Title, &n.Message, &n.CreatedAt, &n.DeliveredAt, &n.ReadAt)
		return n, err
	})
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	return items, total, nil
}

// MarkRead flags a notification owned by userID as read. Already read
// notifications keep their first read time.
func (s *Store) MarkRead(ctx context.Context, userID string, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read_at = COALESCE(read_at, $3)
WHERE id = $1 AND user_id = $2 AND channel = 'web'`, id, userID, at)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: notification %s", shared.ErrNotFound, id)
	}
	return nil
}

// UnreadCount returns how many web notifications userID has not read.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications
WHERE user_id = $1 AND channel = 'web' AND read_at IS NULL`, userID).Scan(&n)
	if err != nil {
		return 0, db.MapError(err)
	}
	return n, nil
}

// MarkAllRead flags every unread web notification of userID and returns the
// number of rows changed.
func (s *Store) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read_at = $2
WHERE user_id = $1 AND channel = 'web' AND read_at IS NULL`, userID, at)
	if err != nil {
		return 0, db.MapError(err)
	}
	return tag.RowsAffected(), nil
}
