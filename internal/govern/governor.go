// Package govern decides whether, when, and what to notify about status
// transitions. Each descriptor gets four independent sub-machines: a flap
// suppressor, a down-alert escalator, a rolling-mean latency evaluator,
// and a warning sustain machine.
package govern

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazz-dev/pulsewatch/internal/probe"
)

// Config holds governor timings. Zero values mean the defaults.
type Config struct {
	Debounce        time.Duration // delay before the first down notice
	Escalation      time.Duration // down duration before escalating
	Reminder        time.Duration // repeat interval after escalation
	FlapWindow      time.Duration // sliding window for flap detection
	FlapChanges     int           // changes inside the window before flapping
	SLAWindow       int           // latency ring size
	SLACooldown     time.Duration // min gap between SLA notices
	WarningSustain  time.Duration // warning duration before a notice
	WarningCooldown time.Duration // min gap between warning notices
}

func (c Config) withDefaults() Config {
	if c.Debounce == 0 {
		c.Debounce = 120 * time.Second
	}
	if c.Escalation == 0 {
		c.Escalation = 600 * time.Second
	}
	if c.Reminder == 0 {
		c.Reminder = 600 * time.Second
	}
	if c.FlapWindow == 0 {
		c.FlapWindow = 5 * time.Minute
	}
	if c.FlapChanges == 0 {
		c.FlapChanges = 3
	}
	if c.SLAWindow == 0 {
		c.SLAWindow = 5
	}
	if c.SLACooldown == 0 {
		c.SLACooldown = 15 * time.Minute
	}
	if c.WarningSustain == 0 {
		c.WarningSustain = 120 * time.Second
	}
	if c.WarningCooldown == 0 {
		c.WarningCooldown = 5 * time.Minute
	}
	return c
}

// state is the per-descriptor alerting state. Timers are owned exclusively
// by the governor and always stopped before rearming.
type state struct {
	status    probe.Status
	lastError string

	// flap machine
	transitions  []time.Time
	flapping     bool
	flapDeadline time.Time

	// down machine
	downSince     time.Time
	downNotified  bool
	debounceTimer *time.Timer
	escalateTimer *time.Timer
	reminderTimer *time.Timer

	// sla machine
	latencies    []time.Duration
	lastSLAAlert time.Time

	// warning machine
	warningActive    bool
	lastWarningAlert time.Time
	warnTimer        *time.Timer
}

// Governor runs one alerting state machine per descriptor. Tenants never
// share state: descriptors are keyed on (tenant, kind).
type Governor struct {
	cfg        Config
	thresholds map[probe.Kind]time.Duration // SLA warn threshold per latency-sensitive kind
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	states map[probe.Descriptor]*state
	closed bool
}

// New creates a Governor. thresholds maps latency-sensitive kinds to their
// SLA warning threshold; kinds absent from the map are not evaluated.
// Pass nil logger to use the default logger.
func New(cfg Config, thresholds map[probe.Kind]time.Duration, notifier Notifier, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		cfg:        cfg.withDefaults(),
		thresholds: thresholds,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
		states:     make(map[probe.Descriptor]*state),
	}
}

// Observe feeds one status observation through the transition machines.
// Repeated observations of the same status are ignored.
func (g *Governor) Observe(desc probe.Descriptor, next probe.Status, errMsg string) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	s := g.state(desc)
	now := g.now()

	if next == s.status {
		s.lastError = errMsg
		g.mu.Unlock()
		return
	}
	previous := s.status
	s.status = next
	s.lastError = errMsg

	var notices []Notice

	// Flap machine first: it may suppress everything below.
	if n := g.observeFlap(desc, s, now); n != nil {
		notices = append(notices, *n)
	}

	// Down-alert escalation.
	if next == probe.StatusDown {
		s.downSince = now
		s.downNotified = false
		g.stopDownTimers(s)
		if !s.flapping {
			s.debounceTimer = time.AfterFunc(g.cfg.Debounce, func() { g.onDebounce(desc) })
		}
	} else if previous == probe.StatusDown {
		g.stopDownTimers(s)
		switch {
		case s.flapping:
			// Suppressed; the flap notice already went out.
		case s.downNotified:
			notices = append(notices, Notice{
				Kind:       NoticeRecovered,
				Descriptor: desc,
				Status:     next,
				Downtime:   now.Sub(s.downSince),
				At:         now,
			})
		default:
			// The blip never alerted, so recovery stays silent too.
			g.logger.Info("transient downtime absorbed by debounce",
				"descriptor", desc.String(), "downtime", now.Sub(s.downSince))
		}
		s.downNotified = false
		s.downSince = time.Time{}
	}

	// Warning sustain machine.
	if next == probe.StatusWarning {
		g.stopTimer(&s.warnTimer)
		if !s.flapping {
			s.warnTimer = time.AfterFunc(g.cfg.WarningSustain, func() { g.onWarningSustained(desc) })
		}
	} else if previous == probe.StatusWarning {
		g.stopTimer(&s.warnTimer)
		if s.warningActive {
			s.warningActive = false
			if !s.flapping {
				notices = append(notices, Notice{
					Kind:       NoticeWarningResolved,
					Descriptor: desc,
					Status:     next,
					At:         now,
				})
			}
		}
	}

	g.mu.Unlock()
	g.emit(notices...)
}

// observeFlap timestamps the transition and flips the descriptor into the
// flapping state once it changes status too often inside the window.
// Caller holds g.mu.
func (g *Governor) observeFlap(desc probe.Descriptor, s *state, now time.Time) *Notice {
	// A quiet window ends a flap episode.
	if s.flapping && now.After(s.flapDeadline) {
		s.flapping = false
		s.transitions = s.transitions[:0]
		g.logger.Info("flapping cleared", "descriptor", desc.String())
	}

	cutoff := now.Add(-g.cfg.FlapWindow)
	kept := s.transitions[:0]
	for _, t := range s.transitions {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.transitions = append(kept, now)

	if s.flapping {
		s.flapDeadline = now.Add(g.cfg.FlapWindow)
		g.logger.Info("notice suppressed: descriptor is flapping", "descriptor", desc.String())
		return nil
	}
	if len(s.transitions) <= g.cfg.FlapChanges {
		return nil
	}

	s.flapping = true
	s.flapDeadline = now.Add(g.cfg.FlapWindow)
	g.stopDownTimers(s)
	g.stopTimer(&s.warnTimer)
	g.logger.Warn("descriptor flapping, alerts suppressed",
		"descriptor", desc.String(),
		"changes", len(s.transitions),
		"window", g.cfg.FlapWindow,
	)
	return &Notice{
		Kind:       NoticeFlapping,
		Descriptor: desc,
		Status:     s.status,
		Error:      s.lastError,
		At:         now,
	}
}

// TrackLatency records one successful latency sample and evaluates the
// rolling mean against the kind's SLA threshold. Independent of the
// up/down machine: latency degradation can coexist with status up.
func (g *Governor) TrackLatency(desc probe.Descriptor, latency time.Duration) {
	threshold, ok := g.thresholds[desc.Kind]
	if !ok || threshold <= 0 {
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	s := g.state(desc)
	now := g.now()

	s.latencies = append(s.latencies, latency)
	if len(s.latencies) > g.cfg.SLAWindow {
		s.latencies = s.latencies[len(s.latencies)-g.cfg.SLAWindow:]
	}
	var sum time.Duration
	for _, l := range s.latencies {
		sum += l
	}
	mean := sum / time.Duration(len(s.latencies))

	if mean < threshold {
		// Below threshold again: clear the cooldown so the next breach
		// alerts immediately.
		if !s.lastSLAAlert.IsZero() {
			s.lastSLAAlert = time.Time{}
			g.logger.Info("latency back under threshold",
				"descriptor", desc.String(), "mean", mean, "threshold", threshold)
		}
		g.mu.Unlock()
		return
	}

	// A breach needs a full window before it can alert; the ring is
	// reset on alert so the next evaluation starts from fresh samples.
	if len(s.latencies) < g.cfg.SLAWindow {
		g.mu.Unlock()
		return
	}
	if !s.lastSLAAlert.IsZero() && now.Sub(s.lastSLAAlert) < g.cfg.SLACooldown {
		g.logger.Info("sla breach suppressed by cooldown",
			"descriptor", desc.String(), "mean", mean)
		g.mu.Unlock()
		return
	}

	s.lastSLAAlert = now
	s.latencies = s.latencies[:0]
	n := Notice{
		Kind:        NoticeSLA,
		Descriptor:  desc,
		Status:      s.status,
		MeanLatency: mean,
		Threshold:   threshold,
		At:          now,
	}
	g.mu.Unlock()
	g.emit(n)
}

// Close stops every pending timer. No notices are emitted after Close.
func (g *Governor) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for _, s := range g.states {
		g.stopDownTimers(s)
		g.stopTimer(&s.warnTimer)
	}
}

// --- timer callbacks ---

func (g *Governor) onDebounce(desc probe.Descriptor) {
	g.mu.Lock()
	s, ok := g.states[desc]
	if !ok || g.closed || s.status != probe.StatusDown || s.flapping {
		g.mu.Unlock()
		return
	}
	now := g.now()
	s.downNotified = true
	g.stopTimer(&s.escalateTimer)
	s.escalateTimer = time.AfterFunc(g.cfg.Escalation, func() { g.onEscalate(desc) })
	n := Notice{
		Kind:       NoticeDown,
		Descriptor: desc,
		Status:     probe.StatusDown,
		Error:      s.lastError,
		Downtime:   now.Sub(s.downSince),
		At:         now,
	}
	g.mu.Unlock()
	g.emit(n)
}

func (g *Governor) onEscalate(desc probe.Descriptor) {
	g.mu.Lock()
	s, ok := g.states[desc]
	if !ok || g.closed || s.status != probe.StatusDown || s.flapping {
		g.mu.Unlock()
		return
	}
	now := g.now()
	g.stopTimer(&s.reminderTimer)
	s.reminderTimer = time.AfterFunc(g.cfg.Reminder, func() { g.onReminder(desc) })
	n := Notice{
		Kind:       NoticeEscalation,
		Descriptor: desc,
		Status:     probe.StatusDown,
		Error:      s.lastError,
		Downtime:   now.Sub(s.downSince),
		At:         now,
	}
	g.mu.Unlock()
	g.emit(n)
}

func (g *Governor) onReminder(desc probe.Descriptor) {
	g.mu.Lock()
	s, ok := g.states[desc]
	if !ok || g.closed || s.status != probe.StatusDown || s.flapping {
		g.mu.Unlock()
		return
	}
	now := g.now()
	s.reminderTimer = time.AfterFunc(g.cfg.Reminder, func() { g.onReminder(desc) })
	n := Notice{
		Kind:       NoticeReminder,
		Descriptor: desc,
		Status:     probe.StatusDown,
		Error:      s.lastError,
		Downtime:   now.Sub(s.downSince),
		At:         now,
	}
	g.mu.Unlock()
	g.emit(n)
}

func (g *Governor) onWarningSustained(desc probe.Descriptor) {
	g.mu.Lock()
	s, ok := g.states[desc]
	if !ok || g.closed || s.status != probe.StatusWarning || s.flapping {
		g.mu.Unlock()
		return
	}
	now := g.now()
	if !s.lastWarningAlert.IsZero() && now.Sub(s.lastWarningAlert) < g.cfg.WarningCooldown {
		g.logger.Info("warning notice suppressed by cooldown", "descriptor", desc.String())
		g.mu.Unlock()
		return
	}
	s.lastWarningAlert = now
	s.warningActive = true
	n := Notice{
		Kind:       NoticeWarning,
		Descriptor: desc,
		Status:     probe.StatusWarning,
		Error:      s.lastError,
		At:         now,
	}
	g.mu.Unlock()
	g.emit(n)
}

// --- helpers ---

// state returns the descriptor's state, creating it lazily. Caller holds g.mu.
func (g *Governor) state(desc probe.Descriptor) *state {
	s, ok := g.states[desc]
	if !ok {
		s = &state{status: probe.StatusUnknown}
		g.states[desc] = s
	}
	return s
}

func (g *Governor) stopDownTimers(s *state) {
	g.stopTimer(&s.debounceTimer)
	g.stopTimer(&s.escalateTimer)
	g.stopTimer(&s.reminderTimer)
}

func (g *Governor) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// emit hands notices to the notifier. A panicking notifier is contained so
// it cannot take the cycle down with it.
func (g *Governor) emit(notices ...Notice) {
	if g.notifier == nil {
		return
	}
	for _, n := range notices {
		func() {
			defer func() {
				if r := recover(); r != nil {
					g.logger.Error("notifier panicked", "kind", n.Kind, "panic", r)
				}
			}()
			g.notifier.Notify(n)
		}()
	}
}
