package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/procurepro/procurepro/internal/observability"
	"github.com/procurepro/procurepro/internal/rbac"
	"github.com/procurepro/procurepro/internal/shared"
	"github.com/procurepro/procurepro/internal/users"
	"github.com/procurepro/procurepro/jobs"
)

type stubUsers map[string]users.User

func (s stubUsers) LookupUser(_ context.Context, id string) (users.User, error) {
	u, ok := s[id]
	if !ok {
		return users.User{}, fmt.Errorf("%w: %s", shared.ErrNotFound, id)
	}
	return u, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func testRouter(t *testing.T, db Pinger) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rbacMW := rbac.Middleware{
		Users: stubUsers{
			"admin":    {ID: "admin", Roles: []string{shared.RoleAdmin}, IsActive: true},
			"approver": {ID: "approver", Roles: []string{shared.RoleApprover}, IsActive: true},
		},
		Logger: logger,
	}
	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         &Config{AppEnv: "test", RateLimitPerMinute: 1000},
		DB:             db,
		RBACMiddleware: rbacMW,
		JobHandler:     jobs.NewHandler(nil, logger),
		Metrics:        observability.NewMetrics(),
	})
}

func serve(h http.Handler, method, path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set(rbac.UserHeader, user)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoints(t *testing.T) {
	router := testRouter(t, stubPinger{})

	rr := serve(router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/readyz", "").Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/metrics", "").Code)
}

func TestRouterReadinessFailsWithoutDatabase(t *testing.T) {
	router := testRouter(t, stubPinger{err: errors.New("connection refused")})
	require.Equal(t, http.StatusServiceUnavailable, serve(router, http.MethodGet, "/readyz", "").Code)
}

func TestRouterProtectedRoutes(t *testing.T) {
	router := testRouter(t, nil)

	require.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/jobs/health", "").Code)
	require.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/jobs/health", "ghost").Code)
	require.Equal(t, http.StatusForbidden, serve(router, http.MethodGet, "/jobs/health", "approver").Code)

	rr := serve(router, http.MethodGet, "/jobs/health", "admin")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), jobs.QueueNotifications)
}

func TestRateKeyPrefersUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(rbac.UserHeader, "approver")
	key, err := rateKey(req)
	require.NoError(t, err)
	require.Equal(t, "user:approver", key)

	key, err = rateKey(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotEmpty(t, key)
}
