package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazz-dev/pulsewatch/internal/probe"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// WebhookChannel holds chat-webhook settings for one target.
type WebhookChannel struct {
	URL      string `yaml:"url"`
	Channel  string `yaml:"channel"`
	Username string `yaml:"username"`
}

// EmailChannel holds alert email recipients.
type EmailChannel struct {
	To []string `yaml:"to"`
}

// Channels groups the notification targets for a tenant (or the global
// defaults). An empty webhook URL or recipient list means "fall back to
// the global default".
type Channels struct {
	Webhook WebhookChannel `yaml:"webhook"`
	Email   EmailChannel   `yaml:"email"`
}

// Tenant describes one independently-configured tenant account.
type Tenant struct {
	ID           string                `yaml:"id"`
	Label        string                `yaml:"label"`
	Timezone     string                `yaml:"timezone"`
	Interval     Duration              `yaml:"interval"`
	Endpoints    map[probe.Kind]string `yaml:"endpoints"`
	TokenURL     string                `yaml:"token_url"`
	ClientID     string                `yaml:"client_id"`
	ClientSecret string                `yaml:"client_secret"`
	Token        string                `yaml:"token"`
	Channels     Channels              `yaml:"channels"`
}

// Alerting holds the alert governor timings. Zero values are filled with
// the defaults below at load time.
type Alerting struct {
	Debounce        Duration `yaml:"debounce"`
	Escalation      Duration `yaml:"escalation"`
	Reminder        Duration `yaml:"reminder"`
	FlapWindow      Duration `yaml:"flap_window"`
	FlapChanges     int      `yaml:"flap_changes"`
	SLAWindow       int      `yaml:"sla_window"`
	SLACooldown     Duration `yaml:"sla_cooldown"`
	WarningSustain  Duration `yaml:"warning_sustain"`
	WarningCooldown Duration `yaml:"warning_cooldown"`
}

// SMTP holds the mail relay used by the email channel.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	Path      string   `yaml:"path"`
	Retention Duration `yaml:"retention"`
}

// ReportConfig holds the latency buckets for the satisfaction score.
// A sample at or below SatisfiedMs counts as satisfied, at or below
// ToleratingMs as tolerating, anything slower as frustrated.
type ReportConfig struct {
	SatisfiedMs  int64    `yaml:"satisfied_ms"`
	ToleratingMs int64    `yaml:"tolerating_ms"`
	Window       Duration `yaml:"window"`
}

// Config is the root application configuration.
type Config struct {
	Tenants      []Tenant             `yaml:"tenants"`
	Alerting     Alerting             `yaml:"alerting"`
	Thresholds   map[probe.Kind]int64 `yaml:"thresholds"` // kind -> SLA warn latency in ms
	Channels     Channels             `yaml:"channels"`   // global defaults
	SMTP         SMTP                 `yaml:"smtp"`
	Server       ServerConfig         `yaml:"server"`
	Storage      StorageConfig        `yaml:"storage"`
	ProbeTimeout Duration             `yaml:"probe_timeout"`
	Report       ReportConfig         `yaml:"report"`
}

// Load reads, parses, and validates the config file at path. Invariant
// violations are fatal here, at startup, never mid-cycle.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if len(cfg.Tenants) == 0 {
		return nil, fmt.Errorf("at least one tenant must be configured")
	}

	ids := make(map[string]bool, len(cfg.Tenants))
	for i := range cfg.Tenants {
		t := &cfg.Tenants[i]
		if t.ID == "" {
			return nil, fmt.Errorf("tenant[%d]: id is required", i)
		}
		if ids[t.ID] {
			return nil, fmt.Errorf("duplicate tenant id %q", t.ID)
		}
		ids[t.ID] = true

		if t.Label == "" {
			t.Label = t.ID
		}
		if t.Timezone == "" {
			t.Timezone = "UTC"
		}
		if _, err := time.LoadLocation(t.Timezone); err != nil {
			return nil, fmt.Errorf("tenant %q: invalid timezone %q: %w", t.ID, t.Timezone, err)
		}
		if t.Interval.Duration == 0 {
			t.Interval = Duration{60 * time.Second}
		}
		if len(t.Endpoints) == 0 {
			return nil, fmt.Errorf("tenant %q: at least one endpoint is required", t.ID)
		}
		for kind, target := range t.Endpoints {
			if !probe.Valid(kind) {
				return nil, fmt.Errorf("tenant %q: unknown check kind %q", t.ID, kind)
			}
			if target == "" {
				return nil, fmt.Errorf("tenant %q: endpoint %q: target is required", t.ID, kind)
			}
		}
		if t.TokenURL != "" && t.ClientID == "" {
			return nil, fmt.Errorf("tenant %q: token_url requires client_id", t.ID)
		}
	}

	for kind := range cfg.Thresholds {
		if !probe.Valid(kind) {
			return nil, fmt.Errorf("thresholds: unknown check kind %q", kind)
		}
	}

	if cfg.Report.ToleratingMs < cfg.Report.SatisfiedMs {
		return nil, fmt.Errorf("report: tolerating_ms must be >= satisfied_ms")
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	a := &cfg.Alerting
	if a.Debounce.Duration == 0 {
		a.Debounce = Duration{120 * time.Second}
	}
	if a.Escalation.Duration == 0 {
		a.Escalation = Duration{600 * time.Second}
	}
	if a.Reminder.Duration == 0 {
		a.Reminder = Duration{600 * time.Second}
	}
	if a.FlapWindow.Duration == 0 {
		a.FlapWindow = Duration{5 * time.Minute}
	}
	if a.FlapChanges == 0 {
		a.FlapChanges = 3
	}
	if a.SLAWindow == 0 {
		a.SLAWindow = 5
	}
	if a.SLACooldown.Duration == 0 {
		a.SLACooldown = Duration{15 * time.Minute}
	}
	if a.WarningSustain.Duration == 0 {
		a.WarningSustain = Duration{120 * time.Second}
	}
	if a.WarningCooldown.Duration == 0 {
		a.WarningCooldown = Duration{5 * time.Minute}
	}

	if cfg.Thresholds == nil {
		cfg.Thresholds = map[probe.Kind]int64{
			probe.KindAPIRead:  2000,
			probe.KindAPIWrite: 2000,
			probe.KindWeb:      3000,
		}
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "pulsewatch.db"
	}
	if cfg.Storage.Retention.Duration == 0 {
		cfg.Storage.Retention = Duration{30 * 24 * time.Hour}
	}
	if cfg.ProbeTimeout.Duration == 0 {
		cfg.ProbeTimeout = Duration{10 * time.Second}
	}
	if cfg.Report.SatisfiedMs == 0 {
		cfg.Report.SatisfiedMs = 1000
	}
	if cfg.Report.ToleratingMs == 0 {
		cfg.Report.ToleratingMs = 4000
	}
	if cfg.Report.Window.Duration == 0 {
		cfg.Report.Window = Duration{24 * time.Hour}
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
}
