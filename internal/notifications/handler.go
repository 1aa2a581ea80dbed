package notifications

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/procurepro/procurepro/internal/platform/httpx"
	"github.com/procurepro/procurepro/internal/shared"
)

// Inbox reads and updates a user's web notifications.
type Inbox interface {
	ListInbox(ctx context.Context, userID string, filter InboxFilter) ([]Notification, int, error)
	MarkRead(ctx context.Context, userID string, id uuid.UUID, at time.Time) error
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
}

// Handler serves the caller's notification inbox.
type Handler struct {
	logger *slog.Logger
	inbox  Inbox
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, inbox Inbox) *Handler {
	return &Handler{logger: logger, inbox: inbox}
}

// MountRoutes registers inbox routes. The router must run rbac Identify first.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/unread-count", h.unreadCount)
	r.Post("/read-all", h.markAllRead)
	r.Post("/{id}/read", h.markRead)
}

type inboxPage struct {
	Data       []Notification    `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	limit, offset := shared.LimitOffset(page, perPage)
	items, total, err := h.inbox.ListInbox(r.Context(), actor.UserID, InboxFilter{
		UnreadOnly: q.Get("unread") == "true",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.logger.Error("list notifications", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Notification{}
	}
	httpx.JSON(w, http.StatusOK, inboxPage{Data: items, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid notification id")
		return
	}
	if err := h.inbox.MarkRead(r.Context(), actor.UserID, id, time.Now().UTC()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type unreadCount struct {
	Unread int `json:"unread"`
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	n, err := h.inbox.UnreadCount(r.Context(), actor.UserID)
	if err != nil {
		h.logger.Error("count unread notifications", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, unreadCount{Unread: n})
}

type markAllReadResult struct {
	Updated int64 `json:"updated"`
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	n, err := h.inbox.MarkAllRead(r.Context(), actor.UserID, time.Now().UTC())
	if err != nil {
		h.logger.Error("mark notifications read", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, markAllReadResult{Updated: n})
}
