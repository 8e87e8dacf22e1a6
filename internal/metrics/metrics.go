// Package metrics exposes prometheus instrumentation for the monitoring
// engine: one observation per probe outcome, one per incident opened, one
// per channel send.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hazz-dev/pulsewatch/internal/probe"
)

// Recorder holds the engine's metric vectors.
type Recorder struct {
	checksTotal    *prometheus.CounterVec
	checkLatency   *prometheus.HistogramVec
	incidentsTotal *prometheus.CounterVec
	alertsTotal    *prometheus.CounterVec
}

// New registers the engine metrics on reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsewatch",
			Name:      "checks_total",
			Help:      "Probe outcomes by tenant, kind, and classified status.",
		}, []string{"tenant", "kind", "status"}),
		checkLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pulsewatch",
			Name:      "check_latency_seconds",
			Help:      "Probe round-trip latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"tenant", "kind"}),
		incidentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsewatch",
			Name:      "incidents_opened_total",
			Help:      "Incidents opened by tenant and kind.",
		}, []string{"tenant", "kind"}),
		alertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsewatch",
			Name:      "alerts_sent_total",
			Help:      "Channel dispatch attempts by channel and result.",
		}, []string{"channel", "result"}),
	}
}

// Outcome records one probe outcome.
func (r *Recorder) Outcome(desc probe.Descriptor, status probe.Status, latency time.Duration) {
	r.checksTotal.WithLabelValues(desc.Tenant, string(desc.Kind), string(status)).Inc()
	if latency > 0 {
		r.checkLatency.WithLabelValues(desc.Tenant, string(desc.Kind)).Observe(latency.Seconds())
	}
}

// IncidentOpened records one opened incident.
func (r *Recorder) IncidentOpened(desc probe.Descriptor) {
	r.incidentsTotal.WithLabelValues(desc.Tenant, string(desc.Kind)).Inc()
}

// AlertSent records one channel dispatch attempt.
func (r *Recorder) AlertSent(channel string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.alertsTotal.WithLabelValues(channel, result).Inc()
}
