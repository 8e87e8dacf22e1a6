// Package report computes read-side rollups (uptime percentage and
// satisfaction score) over stored checks. Reporting never participates in
// alerting control flow.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/hazz-dev/pulsewatch/internal/config"
	"github.com/hazz-dev/pulsewatch/internal/probe"
	"github.com/hazz-dev/pulsewatch/internal/storage"
)

// Store is the query surface the reporter needs.
type Store interface {
	UptimePercent(ctx context.Context, tenant, kind string, since time.Time) (float64, error)
	LatencyBuckets(ctx context.Context, tenant, kind string, since time.Time, satisfiedMs, toleratingMs int64) (storage.Buckets, error)
}

// Summary is the rollup for one descriptor over the reporting window.
type Summary struct {
	Kind          probe.Kind `json:"kind"`
	UptimePercent float64    `json:"uptime_percent"`
	Satisfaction  float64    `json:"satisfaction"`
	Samples       int        `json:"samples"`
}

// Reporter builds summaries using the configured latency buckets.
type Reporter struct {
	store Store
	cfg   config.ReportConfig
}

func New(store Store, cfg config.ReportConfig) *Reporter {
	return &Reporter{store: store, cfg: cfg}
}

// Tenant builds one summary per check kind for the tenant over the
// configured window.
func (r *Reporter) Tenant(ctx context.Context, tenant config.Tenant) ([]Summary, error) {
	since := time.Now().Add(-r.cfg.Window.Duration)
	summaries := make([]Summary, 0, len(tenant.Endpoints))
	for _, kind := range probe.Kinds {
		if _, ok := tenant.Endpoints[kind]; !ok {
			continue
		}
		uptime, err := r.store.UptimePercent(ctx, tenant.ID, string(kind), since)
		if err != nil {
			return nil, fmt.Errorf("uptime for %s/%s: %w", tenant.ID, kind, err)
		}
		buckets, err := r.store.LatencyBuckets(ctx, tenant.ID, string(kind), since,
			r.cfg.SatisfiedMs, r.cfg.ToleratingMs)
		if err != nil {
			return nil, fmt.Errorf("buckets for %s/%s: %w", tenant.ID, kind, err)
		}
		summaries = append(summaries, Summary{
			Kind:          kind,
			UptimePercent: uptime,
			Satisfaction:  Satisfaction(buckets),
			Samples:       buckets.Total,
		})
	}
	return summaries, nil
}

// Satisfaction computes the 0-1 score (satisfied + tolerating/2) / total.
// No samples score zero.
func Satisfaction(b storage.Buckets) float64 {
	if b.Total == 0 {
		return 0
	}
	return (float64(b.Satisfied) + float64(b.Tolerating)/2) / float64(b.Total)
}
