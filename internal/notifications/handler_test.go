package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/procurepro/procurepro/internal/shared"
)

type memoryInbox struct {
	items []Notification
}

func (m *memoryInbox) ListInbox(_ context.Context, userID string, filter InboxFilter) ([]Notification, int, error) {
	var out []Notification
	for _, n := range m.items {
		if n.UserID != userID || (filter.UnreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, n)
	}
	return out, len(out), nil
}

func (m *memoryInbox) MarkRead(_ context.Context, userID string, id uuid.UUID, at time.Time) error {
	for i := range m.items {
		if m.items[i].ID == id && m.items[i].UserID == userID {
			m.items[i].ReadAt = &at
			return nil
		}
	}
	return fmt.Errorf("%w: notification %s", shared.ErrNotFound, id)
}

func (m *memoryInbox) UnreadCount(_ context.Context, userID string) (int, error) {
	n := 0
	for _, item := range m.items {
		if item.UserID == userID && item.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *memoryInbox) MarkAllRead(_ context.Context, userID string, at time.Time) (int64, error) {
	var n int64
	for i := range m.items {
		if m.items[i].UserID == userID && m.items[i].ReadAt == nil {
			m.items[i].ReadAt = &at
			n++
		}
	}
	return n, nil
}

func inboxRouter(inbox Inbox, userID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if userID != "" {
				req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: userID}))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/notifications", NewHandler(discardLogger(), inbox).MountRoutes)
	return r
}

func TestInboxListAndMarkRead(t *testing.T) {
	mine, theirs := uuid.New(), uuid.New()
	inbox := &memoryInbox{items: []Notification{
		{ID: mine, UserID: "approver-a", Channel: ChannelWeb, Title: "Approval required"},
		{ID: theirs, UserID: "approver-b", Channel: ChannelWeb, Title: "Approval required"},
	}}
	router := inboxRouter(inbox, "approver-a")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/notifications?unread=true", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var page inboxPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	require.Equal(t, mine, page.Data[0].ID)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/notifications/"+mine.String()+"/read", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, inbox.items[0].ReadAt)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/notifications/"+theirs.String()+"/read", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/notifications/nope/read", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInboxRequiresActor(t *testing.T) {
	rr := httptest.NewRecorder()
	inboxRouter(&memoryInbox{}, "").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/notifications", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestInboxUnreadCountAndReadAll(t *testing.T) {
	inbox := &memoryInbox{items: []Notification{
		{ID: uuid.New(), UserID: "approver-a", Channel: ChannelWeb, Title: "Approval required"},
		{ID: uuid.New(), UserID: "approver-a", Channel: ChannelWeb, Title: "Requisition approved"},
		{ID: uuid.New(), UserID: "approver-b", Channel: ChannelWeb, Title: "Approval required"},
	}}
	router := inboxRouter(inbox, "approver-a")

	unread := func() int {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/notifications/unread-count", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		var body unreadCount
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		return body.Unread
	}
	require.Equal(t, 2, unread())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/notifications/read-all", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var result markAllReadResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.EqualValues(t, 2, result.Updated)
	require.Equal(t, 0, unread())
	require.Nil(t, inbox.items[2].ReadAt)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/notifications/read-all", nil))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Zero(t, result.Updated)
}
