package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hazz-dev/pulsewatch/internal/probe"
)

var testDesc = probe.Descriptor{Tenant: "acme", Kind: probe.KindAPIRead}

func TestRecorder_Outcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg)

	rec.Outcome(testDesc, probe.StatusUp, 120*time.Millisecond)
	rec.Outcome(testDesc, probe.StatusUp, 80*time.Millisecond)
	rec.Outcome(testDesc, probe.StatusDown, 0)

	up := testutil.ToFloat64(rec.checksTotal.WithLabelValues("acme", "api-read", "up"))
	if up != 2 {
		t.Errorf("expected 2 up outcomes, got %g", up)
	}
	down := testutil.ToFloat64(rec.checksTotal.WithLabelValues("acme", "api-read", "down"))
	if down != 1 {
		t.Errorf("expected 1 down outcome, got %g", down)
	}

	// Zero latency (down probes) must not be observed.
	if n := testutil.CollectAndCount(rec.checkLatency); n != 1 {
		t.Errorf("expected 1 latency series, got %d", n)
	}
}

func TestRecorder_IncidentsAndAlerts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg)

	rec.IncidentOpened(testDesc)
	rec.AlertSent("webhook", true)
	rec.AlertSent("webhook", false)
	rec.AlertSent("email", true)

	if got := testutil.ToFloat64(rec.incidentsTotal.WithLabelValues("acme", "api-read")); got != 1 {
		t.Errorf("expected 1 incident, got %g", got)
	}
	if got := testutil.ToFloat64(rec.alertsTotal.WithLabelValues("webhook", "ok")); got != 1 {
		t.Errorf("expected 1 ok webhook send, got %g", got)
	}
	if got := testutil.ToFloat64(rec.alertsTotal.WithLabelValues("webhook", "error")); got != 1 {
		t.Errorf("expected 1 failed webhook send, got %g", got)
	}
	if got := testutil.ToFloat64(rec.alertsTotal.WithLabelValues("email", "ok")); got != 1 {
		t.Errorf("expected 1 ok email send, got %g", got)
	}
}
