package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testProber(t *testing.T, kind Kind, target string) Prober {
	t.Helper()
	p, err := New(Descriptor{Tenant: "acme", Kind: kind}, target, 2*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestHTTPProber_2xxIsUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out := testProber(t, KindAPIRead, srv.URL).Probe(context.Background(), "")
	if out.Status != StatusUp {
		t.Errorf("expected up, got %s (%s)", out.Status, out.ErrorMessage)
	}
	if out.HTTPStatus != http.StatusOK {
		t.Errorf("expected HTTP 200, got %d", out.HTTPStatus)
	}
	if out.Latency <= 0 {
		t.Error("expected a positive latency measurement")
	}
	if out.CheckedAt.IsZero() {
		t.Error("expected CheckedAt to be stamped")
	}
}

func TestHTTPProber_4xxIsWarning(t *testing.T) {
	for _, code := range []int{400, 404, 429} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		out := testProber(t, KindAPIRead, srv.URL).Probe(context.Background(), "")
		srv.Close()

		if out.Status != StatusWarning {
			t.Errorf("HTTP %d: expected warning, got %s", code, out.Status)
		}
		if out.ErrorCode != ErrCodeHTTP {
			t.Errorf("HTTP %d: expected error code %q, got %q", code, ErrCodeHTTP, out.ErrorCode)
		}
	}
}

func TestHTTPProber_5xxIsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	out := testProber(t, KindAPIRead, srv.URL).Probe(context.Background(), "")
	if out.Status != StatusDown {
		t.Errorf("expected down, got %s", out.Status)
	}
	if out.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("expected HTTP 503, got %d", out.HTTPStatus)
	}
}

func TestHTTPProber_ConnectionRefusedIsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // port is now refused

	out := testProber(t, KindAPIRead, srv.URL).Probe(context.Background(), "")
	if out.Status != StatusDown {
		t.Errorf("expected down, got %s", out.Status)
	}
	if out.ErrorCode != ErrCodeConn {
		t.Errorf("expected error code %q, got %q", ErrCodeConn, out.ErrorCode)
	}
	if out.ErrorMessage == "" {
		t.Error("expected an error message")
	}
}

func TestHTTPProber_TimeoutIsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	p, err := New(Descriptor{Tenant: "acme", Kind: KindAPIRead}, srv.URL, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := p.Probe(context.Background(), "")
	if out.Status != StatusDown {
		t.Errorf("expected down, got %s", out.Status)
	}
	if out.ErrorCode != ErrCodeTimeout {
		t.Errorf("expected error code %q, got %q", ErrCodeTimeout, out.ErrorCode)
	}
}

func TestHTTPProber_SendsBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	testProber(t, KindAPIRead, srv.URL).Probe(context.Background(), "tok-123")
	if got != "Bearer tok-123" {
		t.Errorf("expected bearer token header, got %q", got)
	}
}

func TestHTTPProber_WebKindSkipsToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	testProber(t, KindWeb, srv.URL).Probe(context.Background(), "tok-123")
	if got != "" {
		t.Errorf("web probes must not send credentials, got %q", got)
	}
}

func TestHTTPProber_APIWritePosts(t *testing.T) {
	var method, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	testProber(t, KindAPIWrite, srv.URL).Probe(context.Background(), "")
	if method != http.MethodPost {
		t.Errorf("expected POST for api-write, got %s", method)
	}
	if contentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", contentType)
	}
}

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		code int
		want Status
	}{
		{200, StatusUp},
		{204, StatusUp},
		{301, StatusUp},
		{302, StatusUp},
		{400, StatusWarning},
		{401, StatusWarning},
		{429, StatusWarning},
		{500, StatusDown},
		{502, StatusDown},
		{503, StatusDown},
	}
	for _, tt := range tests {
		if got := classifyCode(tt.code); got != tt.want {
			t.Errorf("classifyCode(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Descriptor{Tenant: "acme", Kind: KindAPIRead}, "", time.Second); err == nil {
		t.Error("expected error for empty target")
	}
	if _, err := New(Descriptor{Tenant: "acme", Kind: "bogus"}, "http://x", time.Second); err == nil {
		t.Error("expected error for unknown kind")
	}
}
