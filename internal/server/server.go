package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazz-dev/pulsewatch/internal/config"
	"github.com/hazz-dev/pulsewatch/internal/probe"
	"github.com/hazz-dev/pulsewatch/internal/report"
	"github.com/hazz-dev/pulsewatch/internal/status"
	"github.com/hazz-dev/pulsewatch/internal/storage"
)

// Store defines the storage queries the server needs.
type Store interface {
	CheckHistory(ctx context.Context, tenant, kind string, limit, offset int) ([]storage.HealthCheck, int, error)
	IncidentHistory(ctx context.Context, tenant string, limit, offset int) ([]storage.Incident, int, error)
	OpenIncidents(ctx context.Context, tenant string) ([]storage.Incident, error)
}

// Monitor exposes the orchestrator's health accessors.
type Monitor interface {
	Healthy() bool
	LastCheckTime() time.Time
}

// Reporter builds per-tenant rollups.
type Reporter interface {
	Tenant(ctx context.Context, t config.Tenant) ([]report.Summary, error)
}

// Server holds the chi router and its dependencies.
type Server struct {
	cfg      *config.Config
	tracker  *status.Tracker
	store    Store
	monitor  Monitor
	reporter Reporter
	metrics  http.Handler
	router   chi.Router
	logger   *slog.Logger
}

// New creates a Server and registers all routes. The metrics handler may
// be nil, in which case /metrics is not mounted.
func New(cfg *config.Config, tracker *status.Tracker, store Store, monitor Monitor, reporter Reporter, metricsHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		tracker:  tracker,
		store:    store,
		monitor:  monitor,
		reporter: reporter,
		metrics:  metricsHandler,
		router:   chi.NewRouter(),
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/tenants/{tenant}/status", s.handleTenantStatus)
	r.Get("/api/tenants/{tenant}/checks/{kind}/history", s.handleCheckHistory)
	r.Get("/api/tenants/{tenant}/report", s.handleTenantReport)
	r.Get("/api/incidents", s.handleIncidents)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
}

// --- Response helpers ---

type envelope struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.monitor != nil {
		resp["healthy"] = s.monitor.Healthy()
		if last := s.monitor.LastCheckTime(); !last.IsZero() {
			resp["last_cycle"] = last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusView struct {
	Tenant      string     `json:"tenant"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	LatencyMs   int64      `json:"latency_ms"`
	HTTPStatus  int        `json:"http_status,omitempty"`
	LastChecked *time.Time `json:"last_checked"`
	Error       string     `json:"error,omitempty"`
}

func (s *Server) statusViews(filter string) []statusView {
	views := make([]statusView, 0)
	for _, t := range s.cfg.Tenants {
		if filter != "" && t.ID != filter {
			continue
		}
		for _, kind := range probe.Kinds {
			if _, ok := t.Endpoints[kind]; !ok {
				continue
			}
			desc := probe.Descriptor{Tenant: t.ID, Kind: kind}
			rec, ok := s.tracker.Record(desc)
			if !ok {
				continue
			}
			v := statusView{
				Tenant:     t.ID,
				Kind:       string(kind),
				Status:     string(rec.Status),
				LatencyMs:  rec.Latency.Milliseconds(),
				HTTPStatus: rec.HTTPStatus,
				Error:      rec.LastError,
			}
			if !rec.LastCheckedAt.IsZero() {
				ts := rec.LastCheckedAt
				v.LastChecked = &ts
			}
			views = append(views, v)
		}
	}
	return views
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statusViews(""))
}

func (s *Server) tenant(id string) (config.Tenant, bool) {
	for _, t := range s.cfg.Tenants {
		if t.ID == id {
			return t, true
		}
	}
	return config.Tenant{}, false
}

func (s *Server) handleTenantStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenant")
	if _, ok := s.tenant(id); !ok {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, s.statusViews(id))
}

type historyResponse struct {
	Checks []storage.HealthCheck `json:"checks"`
	Total  int                   `json:"total"`
}

func (s *Server) handleCheckHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenant")
	kind := chi.URLParam(r, "kind")

	t, ok := s.tenant(id)
	if !ok {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	if _, ok := t.Endpoints[probe.Kind(kind)]; !ok {
		writeError(w, http.StatusNotFound, "check kind not configured for tenant")
		return
	}

	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	checks, total, err := s.store.CheckHistory(r.Context(), id, kind, limit, offset)
	if err != nil {
		s.logger.Error("CheckHistory", "tenant", id, "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Checks: checks, Total: total})
}

func (s *Server) handleTenantReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenant")
	t, ok := s.tenant(id)
	if !ok {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	summaries, err := s.reporter.Tenant(r.Context(), t)
	if err != nil {
		s.logger.Error("Tenant report", "tenant", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

type incidentsResponse struct {
	Incidents []storage.Incident `json:"incidents"`
	Total     int                `json:"total"`
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")

	if r.URL.Query().Get("open") == "true" {
		open, err := s.store.OpenIncidents(r.Context(), tenant)
		if err != nil {
			s.logger.Error("OpenIncidents", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, incidentsResponse{Incidents: open, Total: len(open)})
		return
	}

	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	incidents, total, err := s.store.IncidentHistory(r.Context(), tenant, limit, offset)
	if err != nil {
		s.logger.Error("IncidentHistory", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, incidentsResponse{Incidents: incidents, Total: total})
}

// pagination parses limit/offset query parameters, writing a 400 response
// and returning ok=false on invalid input.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	const maxLimit = 1000
	limit = 50

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return 0, 0, false
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset parameter")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
