// Package monitor runs the per-tenant probe cycles and pipes every outcome
// through the status tracker, incident ledger, and alert governor.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazz-dev/pulsewatch/internal/config"
	"github.com/hazz-dev/pulsewatch/internal/govern"
	"github.com/hazz-dev/pulsewatch/internal/metrics"
	"github.com/hazz-dev/pulsewatch/internal/probe"
	"github.com/hazz-dev/pulsewatch/internal/status"
	"github.com/hazz-dev/pulsewatch/internal/storage"
)

// sweepInterval is how often old persisted records are pruned and orphaned
// incidents reconciled.
const sweepInterval = 24 * time.Hour

// Store is the persistence surface the orchestrator needs directly.
type Store interface {
	InsertHealthCheck(ctx context.Context, c storage.HealthCheck) error
	PruneChecksBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PruneClosedIncidentsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Ledger records downtime incidents from transitions.
type Ledger interface {
	OnTransition(ctx context.Context, desc probe.Descriptor, previous, next probe.Status, details string) *storage.Incident
	ResolveOrphans(ctx context.Context, live func(probe.Descriptor) probe.Status, recovered func(storage.Incident))
}

// Governor makes the alerting decisions.
type Governor interface {
	Observe(desc probe.Descriptor, next probe.Status, errMsg string)
	TrackLatency(desc probe.Descriptor, latency time.Duration)
	Close()
}

// TokenSource provides per-tenant access tokens.
type TokenSource interface {
	AccessToken(ctx context.Context, t config.Tenant) (string, error)
}

// ProberFactory creates the Prober for one descriptor.
type ProberFactory func(desc probe.Descriptor, target string, timeout time.Duration) (probe.Prober, error)

// Listener is invoked once per outcome per descriptor per cycle.
type Listener func(desc probe.Descriptor, rec status.Record)

// Deps are the injected collaborators.
type Deps struct {
	Store    Store
	Tracker  *status.Tracker
	Ledger   Ledger
	Governor Governor
	Tokens   TokenSource
	Metrics  *metrics.Recorder
	Notifier govern.Notifier // used for orphan-recovery notices
	Factory  ProberFactory
	Logger   *slog.Logger
}

// Orchestrator runs one probe cycle per tenant on a fixed interval. All of
// a tenant's kinds are probed concurrently; outcomes are then applied
// sequentially per descriptor, so the tracker→ledger→governor pipeline is
// never interleaved for a single descriptor.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps

	probers map[probe.Descriptor]probe.Prober

	listenerMu sync.RWMutex
	listeners  []Listener

	cycleMu    sync.Mutex
	lastCycles map[string]time.Time

	wg  sync.WaitGroup
	now func() time.Time
}

// New builds an Orchestrator, constructing one prober per configured
// (tenant, kind) and registering each descriptor's status record.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Factory == nil {
		deps.Factory = probe.New
	}

	o := &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		probers:    make(map[probe.Descriptor]probe.Prober),
		lastCycles: make(map[string]time.Time),
		now:        time.Now,
	}

	for _, t := range cfg.Tenants {
		for kind, target := range t.Endpoints {
			desc := probe.Descriptor{Tenant: t.ID, Kind: kind}
			p, err := deps.Factory(desc, target, cfg.ProbeTimeout.Duration)
			if err != nil {
				return nil, err
			}
			o.probers[desc] = p
			deps.Tracker.Register(desc)
		}
	}
	return o, nil
}

// Subscribe registers a push listener for status updates.
func (o *Orchestrator) Subscribe(l Listener) {
	o.listenerMu.Lock()
	o.listeners = append(o.listeners, l)
	o.listenerMu.Unlock()
}

// Start reconciles orphaned incidents, then spawns one cycle loop per
// tenant plus the daily sweep. It is non-blocking.
func (o *Orchestrator) Start(ctx context.Context) {
	o.deps.Ledger.ResolveOrphans(ctx, o.deps.Tracker.Status, o.orphanRecovered)

	for _, t := range o.cfg.Tenants {
		o.wg.Add(1)
		go o.runTenant(ctx, t)
	}

	o.wg.Add(1)
	go o.runSweep(ctx)
}

// Wait blocks until all cycle loops have exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
	o.deps.Governor.Close()
}

// Healthy reports whether every tenant's most recent cycle completed
// within twice its configured interval.
func (o *Orchestrator) Healthy() bool {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	now := o.now()
	for _, t := range o.cfg.Tenants {
		last, ok := o.lastCycles[t.ID]
		if !ok || now.Sub(last) > 2*t.Interval.Duration {
			return false
		}
	}
	return true
}

// LastCheckTime returns the completion time of the most recent cycle
// across all tenants.
func (o *Orchestrator) LastCheckTime() time.Time {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	var last time.Time
	for _, t := range o.lastCycles {
		if t.After(last) {
			last = t
		}
	}
	return last
}

func (o *Orchestrator) runTenant(ctx context.Context, t config.Tenant) {
	defer o.wg.Done()

	// Run immediately.
	o.cycle(ctx, t)

	ticker := time.NewTicker(t.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.cycle(ctx, t)
		}
	}
}

// cycle probes all of the tenant's kinds concurrently, waits for every
// outcome to settle, then feeds each through the pipeline in a fixed order.
func (o *Orchestrator) cycle(ctx context.Context, t config.Tenant) {
	kinds := make([]probe.Kind, 0, len(t.Endpoints))
	for _, k := range probe.Kinds {
		if _, ok := t.Endpoints[k]; ok {
			kinds = append(kinds, k)
		}
	}

	token, tokenErr := o.fetchToken(ctx, t, kinds)

	outcomes := make([]probe.Outcome, len(kinds))
	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind probe.Kind) {
			defer wg.Done()
			desc := probe.Descriptor{Tenant: t.ID, Kind: kind}
			if probe.RequiresAuth(kind) && tokenErr != nil {
				// Credential refresh failed and no static fallback exists:
				// the probe cannot authenticate, so the kind is down.
				outcomes[i] = probe.Outcome{
					Status:       probe.StatusDown,
					ErrorCode:    "credentials",
					ErrorMessage: tokenErr.Error(),
					CheckedAt:    o.now(),
				}
				return
			}
			pctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout.Duration)
			defer cancel()
			outcomes[i] = o.probers[desc].Probe(pctx, token)
		}(i, kind)
	}
	wg.Wait()

	for i, kind := range kinds {
		o.process(ctx, probe.Descriptor{Tenant: t.ID, Kind: kind}, outcomes[i])
	}

	o.cycleMu.Lock()
	o.lastCycles[t.ID] = o.now()
	o.cycleMu.Unlock()
}

func (o *Orchestrator) fetchToken(ctx context.Context, t config.Tenant, kinds []probe.Kind) (string, error) {
	needsAuth := false
	for _, k := range kinds {
		if probe.RequiresAuth(k) {
			needsAuth = true
			break
		}
	}
	if !needsAuth || o.deps.Tokens == nil {
		return "", nil
	}
	token, err := o.deps.Tokens.AccessToken(ctx, t)
	if err != nil {
		o.deps.Logger.Error("fetching access token", "tenant", t.ID, "error", err)
		return "", err
	}
	return token, nil
}

// process applies one outcome: tracker, persistence, ledger, governor,
// metrics, listeners. Collaborator failures degrade only their own concern.
func (o *Orchestrator) process(ctx context.Context, desc probe.Descriptor, out probe.Outcome) {
	previous, rec := o.deps.Tracker.Apply(desc, out)

	o.deps.Logger.Info("probe outcome",
		"descriptor", desc.String(),
		"status", out.Status,
		"latency", out.Latency,
		"error", out.ErrorMessage,
	)

	if o.deps.Store != nil && out.Status != probe.StatusUnknown {
		check := storage.HealthCheck{
			Tenant:     desc.Tenant,
			Kind:       string(desc.Kind),
			Status:     string(out.Status),
			LatencyMs:  out.Latency.Milliseconds(),
			HTTPStatus: out.HTTPStatus,
			Error:      out.ErrorMessage,
			CheckedAt:  rec.LastCheckedAt,
		}
		if err := o.deps.Store.InsertHealthCheck(ctx, check); err != nil {
			o.deps.Logger.Error("persisting check", "descriptor", desc.String(), "error", err)
		}
	}

	if previous != rec.Status {
		inc := o.deps.Ledger.OnTransition(ctx, desc, previous, rec.Status, out.ErrorMessage)
		if inc != nil && inc.EndedAt == nil && o.deps.Metrics != nil {
			o.deps.Metrics.IncidentOpened(desc)
		}
	}

	o.deps.Governor.Observe(desc, rec.Status, out.ErrorMessage)
	if out.Status != probe.StatusDown && out.Latency > 0 {
		o.deps.Governor.TrackLatency(desc, out.Latency)
	}

	if o.deps.Metrics != nil {
		o.deps.Metrics.Outcome(desc, rec.Status, out.Latency)
	}

	o.publish(desc, rec)
}

// publish invokes every listener, containing panics so one faulty
// subscriber cannot block the others or the cycle.
func (o *Orchestrator) publish(desc probe.Descriptor, rec status.Record) {
	o.listenerMu.RLock()
	listeners := o.listeners
	o.listenerMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.deps.Logger.Error("status listener panicked",
						"descriptor", desc.String(), "panic", r)
				}
			}()
			l(desc, rec)
		}()
	}
}

// orphanRecovered emits the same recovered notice a live transition would
// for an incident closed by reconciliation.
func (o *Orchestrator) orphanRecovered(inc storage.Incident) {
	if o.deps.Notifier == nil {
		return
	}
	var downtime time.Duration
	if inc.DurationMs != nil {
		downtime = time.Duration(*inc.DurationMs) * time.Millisecond
	}
	o.deps.Notifier.Notify(govern.Notice{
		Kind:       govern.NoticeRecovered,
		Descriptor: inc.Descriptor(),
		Status:     o.deps.Tracker.Status(inc.Descriptor()),
		Downtime:   downtime,
		At:         o.now(),
	})
}

func (o *Orchestrator) runSweep(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

// sweep prunes old persisted records and reconciles orphaned incidents.
func (o *Orchestrator) sweep(ctx context.Context) {
	cutoff := o.now().Add(-o.cfg.Storage.Retention.Duration)
	if o.deps.Store != nil {
		if n, err := o.deps.Store.PruneChecksBefore(ctx, cutoff); err != nil {
			o.deps.Logger.Error("pruning checks", "error", err)
		} else if n > 0 {
			o.deps.Logger.Info("pruned old checks", "rows", n)
		}
		if n, err := o.deps.Store.PruneClosedIncidentsBefore(ctx, cutoff); err != nil {
			o.deps.Logger.Error("pruning incidents", "error", err)
		} else if n > 0 {
			o.deps.Logger.Info("pruned old incidents", "rows", n)
		}
	}
	o.deps.Ledger.ResolveOrphans(ctx, o.deps.Tracker.Status, o.orphanRecovered)
}
