// Package status holds the current health record for every monitored
// descriptor and computes status transitions.
package status

import (
	"sync"
	"time"

	"github.com/hazz-dev/pulsewatch/internal/probe"
)

// Record is the current status of one descriptor. Records are created as
// unknown when the descriptor is registered and are never deleted.
type Record struct {
	Status        probe.Status
	Latency       time.Duration
	HTTPStatus    int
	LastCheckedAt time.Time
	LastError     string
}

// Tracker owns exactly one Record per descriptor. Apply is the only
// mutation path.
type Tracker struct {
	mu      sync.RWMutex
	records map[probe.Descriptor]*Record
}

func New() *Tracker {
	return &Tracker{records: make(map[probe.Descriptor]*Record)}
}

// Register creates the descriptor's record as unknown if it does not exist.
func (t *Tracker) Register(desc probe.Descriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[desc]; !ok {
		t.records[desc] = &Record{Status: probe.StatusUnknown}
	}
}

// Apply overwrites the descriptor's record with the outcome and stamps
// LastCheckedAt. It returns the previous status and a copy of the updated
// record.
func (t *Tracker) Apply(desc probe.Descriptor, out probe.Outcome) (probe.Status, Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[desc]
	if !ok {
		rec = &Record{Status: probe.StatusUnknown}
		t.records[desc] = rec
	}
	previous := rec.Status

	rec.Status = out.Status
	rec.Latency = out.Latency
	rec.HTTPStatus = out.HTTPStatus
	rec.LastError = out.ErrorMessage
	rec.LastCheckedAt = out.CheckedAt
	if rec.LastCheckedAt.IsZero() {
		rec.LastCheckedAt = time.Now()
	}

	return previous, *rec
}

// Record returns a copy of the descriptor's record.
func (t *Tracker) Record(desc probe.Descriptor) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[desc]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Status returns the descriptor's current status, or unknown if the
// descriptor was never registered.
func (t *Tracker) Status(desc probe.Descriptor) probe.Status {
	rec, ok := t.Record(desc)
	if !ok {
		return probe.StatusUnknown
	}
	return rec.Status
}

// All returns a copy of every record keyed by descriptor.
func (t *Tracker) All() map[probe.Descriptor]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[probe.Descriptor]Record, len(t.records))
	for desc, rec := range t.records {
		out[desc] = *rec
	}
	return out
}
