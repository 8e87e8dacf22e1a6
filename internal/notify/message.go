// Package notify renders governor notices into self-describing messages
// and fans them out to every configured channel for a tenant.
package notify

import (
	"fmt"
	"time"

	"github.com/hazz-dev/pulsewatch/internal/govern"
)

// Severity maps onto chat-webhook attachment colors.
type Severity string

const (
	SeverityGood    Severity = "good"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Field is one key/value pair shown in a rendered message.
type Field struct {
	Title string
	Value string
	Short bool
}

// Message is a channel-agnostic rendered notice. Messages are
// self-describing: tenant tag, descriptor, and a timestamp already in the
// tenant's reporting timezone.
type Message struct {
	Tenant   string
	Title    string
	Text     string
	Severity Severity
	Fields   []Field
	At       time.Time
}

// Render builds the message for a notice. loc is the tenant's reporting
// timezone; nil means UTC.
func Render(n govern.Notice, tenantLabel string, loc *time.Location) Message {
	if loc == nil {
		loc = time.UTC
	}
	at := n.At.In(loc)
	target := fmt.Sprintf("%s %s", tenantLabel, n.Descriptor.Kind)

	m := Message{
		Tenant: tenantLabel,
		At:     at,
		Fields: []Field{
			{Title: "Tenant", Value: tenantLabel, Short: true},
			{Title: "Check", Value: string(n.Descriptor.Kind), Short: true},
			{Title: "Time", Value: at.Format("2006-01-02 15:04:05 MST"), Short: true},
		},
	}

	switch n.Kind {
	case govern.NoticeDown:
		m.Title = fmt.Sprintf("DOWN: %s", target)
		m.Text = fmt.Sprintf("%s has been unreachable for %s.", target, round(n.Downtime))
		m.Severity = SeverityDanger
	case govern.NoticeEscalation:
		m.Title = fmt.Sprintf("STILL DOWN: %s", target)
		m.Text = fmt.Sprintf("%s has now been down for %s.", target, round(n.Downtime))
		m.Severity = SeverityDanger
	case govern.NoticeReminder:
		m.Title = fmt.Sprintf("REMINDER: %s is down", target)
		m.Text = fmt.Sprintf("%s is still down after %s.", target, round(n.Downtime))
		m.Severity = SeverityDanger
	case govern.NoticeRecovered:
		m.Title = fmt.Sprintf("RECOVERED: %s", target)
		m.Text = fmt.Sprintf("%s is back up after %s of downtime.", target, round(n.Downtime))
		m.Severity = SeverityGood
		m.Fields = append(m.Fields, Field{Title: "Downtime", Value: round(n.Downtime).String(), Short: true})
	case govern.NoticeFlapping:
		m.Title = fmt.Sprintf("UNSTABLE: %s", target)
		m.Text = fmt.Sprintf("%s is changing status too often; further notices are suppressed until it settles.", target)
		m.Severity = SeverityWarning
	case govern.NoticeSLA:
		m.Title = fmt.Sprintf("SLOW: %s", target)
		m.Text = fmt.Sprintf("%s mean response time %s exceeds the %s threshold.",
			target, round(n.MeanLatency), round(n.Threshold))
		m.Severity = SeverityWarning
		m.Fields = append(m.Fields,
			Field{Title: "Mean latency", Value: round(n.MeanLatency).String(), Short: true},
			Field{Title: "Threshold", Value: round(n.Threshold).String(), Short: true},
		)
	case govern.NoticeWarning:
		m.Title = fmt.Sprintf("DEGRADED: %s", target)
		m.Text = fmt.Sprintf("%s is reachable but rejecting requests.", target)
		m.Severity = SeverityWarning
	case govern.NoticeWarningResolved:
		m.Title = fmt.Sprintf("RESOLVED: %s", target)
		m.Text = fmt.Sprintf("%s is accepting requests again.", target)
		m.Severity = SeverityGood
	default:
		m.Title = fmt.Sprintf("%s: %s", n.Kind, target)
		m.Severity = SeverityWarning
	}

	if n.Error != "" {
		m.Fields = append(m.Fields, Field{Title: "Error", Value: n.Error})
	}
	return m
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Second)
}
