package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazz-dev/pulsewatch/internal/config"
	"github.com/hazz-dev/pulsewatch/internal/govern"
)

// dispatchTimeout bounds one fan-out across all channels.
const dispatchTimeout = 30 * time.Second

// Channel delivers one rendered message to one notification target.
type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Outcome is the per-channel result of one dispatch.
type Outcome struct {
	Channel string
	Err     error
}

type tenantRoute struct {
	label    string
	location *time.Location
	channels []Channel
}

// Dispatcher resolves each tenant's channel configuration (tenant override,
// else global default) and fans messages out to every configured channel
// concurrently. One channel's failure never blocks or fails the others.
type Dispatcher struct {
	routes map[string]*tenantRoute
	logger *slog.Logger
}

// NewDispatcher resolves channels for every tenant in cfg. Pass nil logger
// to use the default logger.
func NewDispatcher(cfg *config.Config, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		routes: make(map[string]*tenantRoute, len(cfg.Tenants)),
		logger: logger,
	}
	for _, t := range cfg.Tenants {
		loc, err := time.LoadLocation(t.Timezone)
		if err != nil {
			return nil, fmt.Errorf("tenant %q: loading timezone: %w", t.ID, err)
		}
		d.routes[t.ID] = &tenantRoute{
			label:    t.Label,
			location: loc,
			channels: resolveChannels(cfg, t),
		}
	}
	return d, nil
}

// resolveChannels applies the tenant's overrides on top of the global
// channel defaults.
func resolveChannels(cfg *config.Config, t config.Tenant) []Channel {
	var channels []Channel

	webhook := t.Channels.Webhook
	if webhook.URL == "" {
		webhook = cfg.Channels.Webhook
	}
	if webhook.URL != "" {
		channels = append(channels, NewWebhookChannel(webhook.URL, webhook.Channel, webhook.Username))
	}

	recipients := t.Channels.Email.To
	if len(recipients) == 0 {
		recipients = cfg.Channels.Email.To
	}
	if len(recipients) > 0 && cfg.SMTP.Host != "" {
		channels = append(channels, NewEmailChannel(cfg.SMTP, recipients))
	}

	return channels
}

// Dispatch renders the notice for its tenant and sends it on every
// configured channel, returning one outcome per channel. Dispatch is
// best-effort: callers must not gate control flow on the outcomes.
func (d *Dispatcher) Dispatch(n govern.Notice) []Outcome {
	route, ok := d.routes[n.Descriptor.Tenant]
	if !ok {
		d.logger.Warn("notice for unknown tenant dropped", "tenant", n.Descriptor.Tenant)
		return nil
	}
	if len(route.channels) == 0 {
		d.logger.Info("no channels configured, notice dropped",
			"tenant", n.Descriptor.Tenant, "kind", n.Kind)
		return nil
	}

	msg := Render(n, route.label, route.location)

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	outcomes := make([]Outcome, len(route.channels))
	var wg sync.WaitGroup
	for i, ch := range route.channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = Outcome{Channel: ch.Name(), Err: fmt.Errorf("channel panicked: %v", r)}
				}
			}()
			outcomes[i] = Outcome{Channel: ch.Name(), Err: ch.Send(ctx, msg)}
		}(i, ch)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.Err != nil {
			d.logger.Error("channel dispatch failed",
				"tenant", n.Descriptor.Tenant,
				"channel", o.Channel,
				"notice", n.Kind,
				"error", o.Err,
			)
		} else {
			d.logger.Info("notice dispatched",
				"tenant", n.Descriptor.Tenant,
				"channel", o.Channel,
				"notice", n.Kind,
			)
		}
	}
	return outcomes
}
