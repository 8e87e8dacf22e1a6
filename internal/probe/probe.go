package probe

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies one of the monitored endpoint kinds.
type Kind string

const (
	KindAPIRead         Kind = "api-read"
	KindAPIWrite        Kind = "api-write"
	KindWeb             Kind = "web"
	KindWebhookRegistry Kind = "webhook-registry"
	KindPipeline        Kind = "pipeline"
)

// Kinds lists every valid check kind.
var Kinds = []Kind{KindAPIRead, KindAPIWrite, KindWeb, KindWebhookRegistry, KindPipeline}

// Valid reports whether k is a known check kind.
func Valid(k Kind) bool {
	for _, v := range Kinds {
		if k == v {
			return true
		}
	}
	return false
}

// RequiresAuth reports whether probes of this kind send a bearer token.
// Public web pages are checked unauthenticated.
func RequiresAuth(k Kind) bool {
	return k != KindWeb
}

// Descriptor is the identity key for a monitored target: one check kind
// belonging to one tenant.
type Descriptor struct {
	Tenant string
	Kind   Kind
}

func (d Descriptor) String() string {
	return d.Tenant + "::" + string(d.Kind)
}

// Status is the classified health of an endpoint.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusUp      Status = "up"
	StatusWarning Status = "warning"
	StatusDown    Status = "down"
)

// Outcome is the result of a single probe. Probes never return an error:
// every failure mode is expressed through Status and the error fields.
type Outcome struct {
	Status       Status
	Latency      time.Duration
	HTTPStatus   int
	ErrorCode    string
	ErrorMessage string
	CheckedAt    time.Time
}

// Prober performs one bounded-time health probe against a single endpoint.
type Prober interface {
	Probe(ctx context.Context, token string) Outcome
}

// New returns the Prober for the given descriptor and target URL.
func New(desc Descriptor, target string, timeout time.Duration) (Prober, error) {
	if target == "" {
		return nil, fmt.Errorf("probe %s: target is required", desc)
	}
	if !Valid(desc.Kind) {
		return nil, fmt.Errorf("probe %s: unknown check kind %q", desc, desc.Kind)
	}
	return newHTTPProber(desc, target, timeout), nil
}
