package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Error codes surfaced on down outcomes.
const (
	ErrCodeTimeout = "timeout"
	ErrCodeDNS     = "dns"
	ErrCodeTLS     = "tls"
	ErrCodeConn    = "connection"
	ErrCodeHTTP    = "http"
)

type httpProber struct {
	desc   Descriptor
	target string
	client *http.Client
}

func newHTTPProber(desc Descriptor, target string, timeout time.Duration) *httpProber {
	return &httpProber{
		desc:   desc,
		target: target,
		client: &http.Client{Timeout: timeout},
	}
}

// writeProbeBody is the payload POSTed by api-write probes. Targets are
// expected to expose a side-effect-free echo endpoint for this.
const writeProbeBody = `{"source":"pulsewatch","op":"write-probe"}`

func (p *httpProber) Probe(ctx context.Context, token string) Outcome {
	start := time.Now()
	out := Outcome{CheckedAt: start}

	method := http.MethodGet
	var body io.Reader
	if p.desc.Kind == KindAPIWrite {
		method = http.MethodPost
		body = strings.NewReader(writeProbeBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.target, body)
	if err != nil {
		out.Status = StatusDown
		out.ErrorCode = ErrCodeConn
		out.ErrorMessage = fmt.Sprintf("creating request: %v", err)
		out.Latency = time.Since(start)
		return out
	}
	if p.desc.Kind == KindAPIWrite {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" && RequiresAuth(p.desc.Kind) {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	out.Latency = time.Since(start)
	if err != nil {
		out.Status = StatusDown
		out.ErrorCode = classifyNetErr(err)
		out.ErrorMessage = err.Error()
		return out
	}
	resp.Body.Close()

	out.HTTPStatus = resp.StatusCode
	out.Status = classifyCode(resp.StatusCode)
	if out.Status != StatusUp {
		out.ErrorCode = ErrCodeHTTP
		out.ErrorMessage = fmt.Sprintf("HTTP %d from %s", resp.StatusCode, p.target)
	}
	return out
}

// classifyCode maps an HTTP status to a health status: 2xx/3xx is up,
// 4xx (the endpoint is reachable but rejecting, including rate limits) is
// warning, and 5xx is down.
func classifyCode(code int) Status {
	switch {
	case code < 400:
		return StatusUp
	case code < 500:
		return StatusWarning
	default:
		return StatusDown
	}
}

func classifyNetErr(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrCodeDNS
	}
	var certErr *tls.CertificateVerificationError
	var hostErr x509.HostnameError
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &unknownAuth) {
		return ErrCodeTLS
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrCodeTimeout
	}
	return ErrCodeConn
}
