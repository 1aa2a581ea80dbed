package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/procurepro/procurepro/internal/platform/httpx"
	"github.com/procurepro/procurepro/internal/shared"
	"github.com/procurepro/procurepro/internal/users"
)

// UserHeader carries the authenticated user id set by the fronting gateway.
const UserHeader = "X-User-ID"

// UserLookup resolves the caller's roles and vendor binding.
type UserLookup interface {
	LookupUser(ctx context.Context, id string) (users.User, error)
}

// Middleware wires role authorization helpers for HTTP handlers.
type Middleware struct {
	Users  UserLookup
	Logger *slog.Logger
}

// Identify loads the caller named by UserHeader and stores it as the request
// actor. Requests without a known active user are rejected.
func (m Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		user, err := m.Users.LookupUser(r.Context(), id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			m.logError("rbac identify", err)
			httpx.RespondError(w, err)
			return
		}
		ctx := shared.ContextWithActor(r.Context(), user.Actor())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAny ensures the current actor holds at least one of the roles.
func (m Middleware) RequireAny(roles ...string) func(http.Handler) http.Handler {
	normalized := normalizeRoles(roles)
	return m.require(func(actor shared.Actor) bool {
		if len(normalized) == 0 {
			return true
		}
		for _, role := range normalized {
			if actor.HasRole(role) {
				return true
			}
		}
		return false
	})
}

// RequireAll ensures the current actor holds every role.
func (m Middleware) RequireAll(roles ...string) func(http.Handler) http.Handler {
	normalized := normalizeRoles(roles)
	return m.require(func(actor shared.Actor) bool {
		for _, role := range normalized {
			if !actor.HasRole(role) {
				return false
			}
		}
		return true
	})
}

// RequireVendor ensures the actor is a vendor portal user bound to a vendor.
func (m Middleware) RequireVendor() func(http.Handler) http.Handler {
	return m.require(shared.Actor.IsVendor)
}

func (m Middleware) require(allowed func(shared.Actor) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if !allowed(actor) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}

func normalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
