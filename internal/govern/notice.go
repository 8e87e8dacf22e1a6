package govern

import (
	"time"

	"github.com/hazz-dev/pulsewatch/internal/probe"
)

// NoticeKind identifies what a notice is about.
type NoticeKind string

const (
	// NoticeDown fires when a descriptor has been down past the debounce.
	NoticeDown NoticeKind = "down"
	// NoticeEscalation fires when a descriptor stays down past the
	// escalation delay after the first down notice.
	NoticeEscalation NoticeKind = "down-escalation"
	// NoticeReminder repeats at the reminder interval after escalation
	// until the descriptor recovers.
	NoticeReminder NoticeKind = "down-reminder"
	// NoticeRecovered fires once when an alerted descriptor comes back.
	NoticeRecovered NoticeKind = "recovered"
	// NoticeFlapping replaces individual up/down notices while a
	// descriptor changes status too often.
	NoticeFlapping NoticeKind = "flapping"
	// NoticeSLA fires when the rolling mean latency breaches the kind's
	// warning threshold.
	NoticeSLA NoticeKind = "sla-latency"
	// NoticeWarning fires when a descriptor sustains warning status.
	NoticeWarning NoticeKind = "warning"
	// NoticeWarningResolved fires when an alerted warning clears.
	NoticeWarningResolved NoticeKind = "warning-resolved"
)

// Notice is one alerting decision made by the governor.
type Notice struct {
	Kind        NoticeKind
	Descriptor  probe.Descriptor
	Status      probe.Status
	Error       string
	Downtime    time.Duration // recovered, escalation, reminder
	MeanLatency time.Duration // sla
	Threshold   time.Duration // sla
	At          time.Time
}

// Notifier receives governor notices. Implementations must not block:
// dispatch is fire-and-forget from the governor's perspective.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }
