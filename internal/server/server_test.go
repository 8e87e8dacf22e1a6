package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazz-dev/pulsewatch/internal/config"
	"github.com/hazz-dev/pulsewatch/internal/probe"
	"github.com/hazz-dev/pulsewatch/internal/report"
	"github.com/hazz-dev/pulsewatch/internal/status"
	"github.com/hazz-dev/pulsewatch/internal/storage"
)

type mockStore struct {
	checks    []storage.HealthCheck
	incidents []storage.Incident
	open      []storage.Incident
}

func (m *mockStore) CheckHistory(_ context.Context, tenant, kind string, limit, offset int) ([]storage.HealthCheck, int, error) {
	return m.checks, len(m.checks), nil
}

func (m *mockStore) IncidentHistory(_ context.Context, tenant string, limit, offset int) ([]storage.Incident, int, error) {
	return m.incidents, len(m.incidents), nil
}

func (m *mockStore) OpenIncidents(_ context.Context, tenant string) ([]storage.Incident, error) {
	return m.open, nil
}

type mockMonitor struct {
	healthy bool
	last    time.Time
}

func (m *mockMonitor) Healthy() bool            { return m.healthy }
func (m *mockMonitor) LastCheckTime() time.Time { return m.last }

type mockReporter struct {
	summaries []report.Summary
}

func (m *mockReporter) Tenant(context.Context, config.Tenant) ([]report.Summary, error) {
	return m.summaries, nil
}

func testServer(t *testing.T, store *mockStore) (*Server, *status.Tracker) {
	t.Helper()
	cfg := &config.Config{
		Tenants: []config.Tenant{{
			ID:    "acme",
			Label: "Acme Corp",
			Endpoints: map[probe.Kind]string{
				probe.KindAPIRead: "https://api.acme.test",
				probe.KindWeb:     "https://www.acme.test",
			},
		}},
	}
	tracker := status.New()
	tracker.Register(probe.Descriptor{Tenant: "acme", Kind: probe.KindAPIRead})
	tracker.Register(probe.Descriptor{Tenant: "acme", Kind: probe.KindWeb})

	mon := &mockMonitor{healthy: true, last: time.Now()}
	rep := &mockReporter{summaries: []report.Summary{
		{Kind: probe.KindAPIRead, UptimePercent: 99.5, Satisfaction: 0.9, Samples: 10},
	}}
	return New(cfg, tracker, store, mon, rep, nil, nil), tracker
}

func do(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response for %s: %v", path, err)
	}
	return rr, env
}

func TestHandleHealth(t *testing.T) {
	s, _ := testServer(t, &mockStore{})
	rr, env := do(t, s, "/api/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data := env.Data.(map[string]any)
	if data["status"] != "ok" {
		t.Errorf("unexpected status %v", data["status"])
	}
	if data["healthy"] != true {
		t.Errorf("expected healthy true, got %v", data["healthy"])
	}
	if _, ok := data["last_cycle"]; !ok {
		t.Error("expected last_cycle in response")
	}
}

func TestHandleStatus(t *testing.T) {
	s, tracker := testServer(t, &mockStore{})
	tracker.Apply(probe.Descriptor{Tenant: "acme", Kind: probe.KindAPIRead}, probe.Outcome{
		Status:     probe.StatusUp,
		Latency:    120 * time.Millisecond,
		HTTPStatus: 200,
		CheckedAt:  time.Now(),
	})

	rr, env := do(t, s, "/api/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	views := env.Data.([]any)
	if len(views) != 2 {
		t.Fatalf("expected 2 status views, got %d", len(views))
	}

	first := views[0].(map[string]any)
	if first["tenant"] != "acme" || first["kind"] != "api-read" {
		t.Errorf("unexpected first view %v", first)
	}
	if first["status"] != "up" || first["latency_ms"] != float64(120) {
		t.Errorf("unexpected record fields %v", first)
	}

	second := views[1].(map[string]any)
	if second["status"] != "unknown" {
		t.Errorf("expected unknown for the unprobed kind, got %v", second["status"])
	}
	if second["last_checked"] != nil {
		t.Errorf("expected null last_checked before the first probe, got %v", second["last_checked"])
	}
}

func TestHandleTenantStatus(t *testing.T) {
	s, _ := testServer(t, &mockStore{})

	rr, _ := do(t, s, "/api/tenants/acme/status")
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	rr, env := do(t, s, "/api/tenants/ghost/status")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown tenant, got %d", rr.Code)
	}
	if env.Error == "" {
		t.Error("expected an error message in the envelope")
	}
}

func TestHandleCheckHistory(t *testing.T) {
	store := &mockStore{checks: []storage.HealthCheck{
		{Tenant: "acme", Kind: "api-read", Status: "up", LatencyMs: 100, CheckedAt: time.Now()},
	}}
	s, _ := testServer(t, store)

	rr, env := do(t, s, "/api/tenants/acme/checks/api-read/history")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data := env.Data.(map[string]any)
	if data["total"] != float64(1) {
		t.Errorf("unexpected total %v", data["total"])
	}

	rr, _ = do(t, s, "/api/tenants/acme/checks/webhook-registry/history")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unconfigured kind, got %d", rr.Code)
	}

	rr, _ = do(t, s, "/api/tenants/ghost/checks/api-read/history")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown tenant, got %d", rr.Code)
	}
}

func TestHandleTenantReport(t *testing.T) {
	s, _ := testServer(t, &mockStore{})

	rr, env := do(t, s, "/api/tenants/acme/report")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	summaries := env.Data.([]any)
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	sum := summaries[0].(map[string]any)
	if sum["uptime_percent"] != 99.5 || sum["satisfaction"] != 0.9 {
		t.Errorf("unexpected summary %v", sum)
	}

	rr, _ = do(t, s, "/api/tenants/ghost/report")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHandleIncidents(t *testing.T) {
	ended := time.Now()
	dur := int64(60_000)
	store := &mockStore{
		incidents: []storage.Incident{
			{ID: "inc-1", Tenant: "acme", Kind: "api-read", StartedAt: time.Now().Add(-time.Hour), EndedAt: &ended, DurationMs: &dur},
			{ID: "inc-2", Tenant: "acme", Kind: "web", StartedAt: time.Now()},
		},
		open: []storage.Incident{
			{ID: "inc-2", Tenant: "acme", Kind: "web", StartedAt: time.Now()},
		},
	}
	s, _ := testServer(t, store)

	rr, env := do(t, s, "/api/incidents")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data := env.Data.(map[string]any)
	if data["total"] != float64(2) {
		t.Errorf("unexpected total %v", data["total"])
	}

	rr, env = do(t, s, "/api/incidents?open=true")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data = env.Data.(map[string]any)
	if data["total"] != float64(1) {
		t.Errorf("expected 1 open incident, got %v", data["total"])
	}
}

func TestPaginationValidation(t *testing.T) {
	s, _ := testServer(t, &mockStore{})

	for _, path := range []string{
		"/api/incidents?limit=abc",
		"/api/incidents?limit=-1",
		"/api/incidents?offset=abc",
		"/api/incidents?offset=-5",
	} {
		rr, env := do(t, s, path)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rr.Code)
		}
		if env.Error == "" {
			t.Errorf("%s: expected an error message", path)
		}
	}

	rr, _ := do(t, s, "/api/incidents?limit=10&offset=5")
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for valid pagination, got %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	s, _ := testServer(t, &mockStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestMetricsNotMountedWhenNil(t *testing.T) {
	s, _ := testServer(t, &mockStore{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a metrics handler, got %d", rr.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	cfg := &config.Config{Tenants: []config.Tenant{{
		ID: "acme", Endpoints: map[probe.Kind]string{probe.KindWeb: "https://x.test"},
	}}}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s := New(cfg, status.New(), &mockStore{}, nil, &mockReporter{}, handler, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected the metrics handler to serve, got %d", rr.Code)
	}
}
