package perf

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/procurepro/procurepro/internal/app"
	"github.com/procurepro/procurepro/internal/observability"
	"github.com/procurepro/procurepro/internal/rbac"
	"github.com/procurepro/procurepro/internal/shared"
	"github.com/procurepro/procurepro/internal/users"
	"github.com/procurepro/procurepro/jobs"
)

type staticUsers struct{}

func (staticUsers) LookupUser(_ context.Context, id string) (users.User, error) {
	return users.User{ID: id, Roles: []string{shared.RoleAdmin}, IsActive: true}, nil
}

func newRouter() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         &app.Config{AppEnv: "test", RateLimitPerMinute: 1_000_000},
		RBACMiddleware: rbac.Middleware{Users: staticUsers{}, Logger: logger},
		JobHandler:     jobs.NewHandler(nil, logger),
		Metrics:        observability.NewMetrics(),
	})
}

func TestRouterLatencyTargets(t *testing.T) {
	router := newRouter()
	scenarios := []struct {
		name      string
		path      string
		user      string
		threshold time.Duration
	}{
		{name: "healthz", path: "/healthz", threshold: 20 * time.Millisecond},
		{name: "identified", path: "/jobs/health", user: "admin", threshold: 50 * time.Millisecond},
	}

	for _, scenario := range scenarios {
		samples := make([]time.Duration, 0, 200)
		for i := 0; i < 200; i++ {
			req := httptest.NewRequest(http.MethodGet, scenario.path, nil)
			if scenario.user != "" {
				req.Header.Set(rbac.UserHeader, scenario.user)
			}
			rr := httptest.NewRecorder()
			start := time.Now()
			router.ServeHTTP(rr, req)
			samples = append(samples, time.Since(start))
			if rr.Code != http.StatusOK {
				t.Fatalf("%s: unexpected status %d", scenario.name, rr.Code)
			}
		}
		p95 := percentile95(samples)
		if p95 > scenario.threshold {
			t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
		}
	}
}

func BenchmarkRouterHealthz(b *testing.B) {
	router := newRouter()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
