package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/procurepro/procurepro/internal/shared"
	"github.com/procurepro/procurepro/internal/users"
)

type stubUsers map[string]users.User

func (s stubUsers) LookupUser(_ context.Context, id string) (users.User, error) {
	u, ok := s[id]
	if !ok {
		return users.User{}, &users.UnknownUsersError{IDs: []string{id}}
	}
	return u, nil
}

func serve(t *testing.T, m Middleware, guard func(http.Handler) http.Handler, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var final http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if guard != nil {
		final = guard(final)
	}
	h := m.Identify(final)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdentifyAndRequireAny(t *testing.T) {
	vendorID := uuid.New()
	m := Middleware{Users: stubUsers{
		"pm":     {ID: "pm", Roles: []string{shared.RoleProcurementManager}, IsActive: true},
		"vendor": {ID: "vendor", Roles: []string{shared.RoleVendor}, VendorID: &vendorID, IsActive: true},
	}}

	require.Equal(t, http.StatusUnauthorized, serve(t, m, nil, "").Code)
	require.Equal(t, http.StatusUnauthorized, serve(t, m, nil, "ghost").Code)
	require.Equal(t, http.StatusNoContent, serve(t, m, nil, "pm").Code)

	staffOnly := m.RequireAny(shared.RoleAdmin, shared.RoleProcurementManager)
	require.Equal(t, http.StatusNoContent, serve(t, m, staffOnly, "pm").Code)
	require.Equal(t, http.StatusForbidden, serve(t, m, staffOnly, "vendor").Code)

	require.Equal(t, http.StatusNoContent, serve(t, m, m.RequireVendor(), "vendor").Code)
	require.Equal(t, http.StatusForbidden, serve(t, m, m.RequireVendor(), "pm").Code)

	both := m.RequireAll(shared.RoleAdmin, shared.RoleProcurementManager)
	require.Equal(t, http.StatusForbidden, serve(t, m, both, "pm").Code)
}
