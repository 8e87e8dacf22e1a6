// Package incident records downtime as discrete incident records and
// reconciles incidents left open across process restarts.
package incident

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hazz-dev/pulsewatch/internal/probe"
	"github.com/hazz-dev/pulsewatch/internal/storage"
)

// Store is the persistence surface the ledger needs.
type Store interface {
	InsertIncident(ctx context.Context, inc storage.Incident) error
	CloseIncident(ctx context.Context, id string, endedAt time.Time, durationMs int64) error
	OpenIncident(ctx context.Context, tenant, kind string) (*storage.Incident, error)
	OpenIncidents(ctx context.Context, tenant string) ([]storage.Incident, error)
}

// Ledger opens and closes incidents from status transitions. Invariant: at
// most one open incident per descriptor at any time.
type Ledger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Ledger. Pass nil logger to use the default logger.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger, now: time.Now}
}

// OnTransition applies one status transition. A transition into down opens
// an incident, a transition out of down closes the descriptor's open
// incident, anything else is a no-op. The returned incident (if any) is
// valid even when persistence fails; persistence errors are logged and the
// cycle continues on in-memory state.
func (l *Ledger) OnTransition(ctx context.Context, desc probe.Descriptor, previous, next probe.Status, details string) *storage.Incident {
	switch {
	case previous != probe.StatusDown && next == probe.StatusDown:
		inc := storage.Incident{
			ID:        uuid.NewString(),
			Tenant:    desc.Tenant,
			Kind:      string(desc.Kind),
			StartedAt: l.now(),
			Details:   details,
		}
		if err := l.store.InsertIncident(ctx, inc); err != nil {
			l.logger.Error("persisting incident", "descriptor", desc.String(), "error", err)
		}
		l.logger.Info("incident opened", "descriptor", desc.String(), "incident", inc.ID)
		return &inc

	case previous == probe.StatusDown && next != probe.StatusDown:
		open, err := l.store.OpenIncident(ctx, desc.Tenant, string(desc.Kind))
		if err != nil {
			l.logger.Error("looking up open incident", "descriptor", desc.String(), "error", err)
			return nil
		}
		if open == nil {
			// Open incident lost, e.g. across a restart with a failed
			// persistence write. Reconciliation owns that case.
			l.logger.Warn("no open incident to close", "descriptor", desc.String())
			return nil
		}
		return l.close(ctx, *open)
	}
	return nil
}

// ResolveOrphans closes every persisted-open incident whose live status is
// no longer down, invoking recovered for each one so callers can emit the
// same recovered signal a live transition would. Persistence errors are
// logged and swallowed; the next scheduled sweep retries.
func (l *Ledger) ResolveOrphans(ctx context.Context, live func(probe.Descriptor) probe.Status, recovered func(storage.Incident)) {
	open, err := l.store.OpenIncidents(ctx, "")
	if err != nil {
		l.logger.Error("listing open incidents", "error", err)
		return
	}
	for _, inc := range open {
		if live(inc.Descriptor()) == probe.StatusDown {
			continue
		}
		closed := l.close(ctx, inc)
		if closed == nil {
			continue
		}
		l.logger.Info("orphaned incident reconciled",
			"descriptor", inc.Descriptor().String(), "incident", inc.ID)
		if recovered != nil {
			recovered(*closed)
		}
	}
}

func (l *Ledger) close(ctx context.Context, inc storage.Incident) *storage.Incident {
	endedAt := l.now()
	durationMs := endedAt.Sub(inc.StartedAt).Milliseconds()
	if err := l.store.CloseIncident(ctx, inc.ID, endedAt, durationMs); err != nil {
		l.logger.Error("closing incident", "incident", inc.ID, "error", err)
		return nil
	}
	inc.EndedAt = &endedAt
	inc.DurationMs = &durationMs
	l.logger.Info("incident closed",
		"descriptor", inc.Descriptor().String(),
		"incident", inc.ID,
		"duration", time.Duration(durationMs)*time.Millisecond,
	)
	return &inc
}
