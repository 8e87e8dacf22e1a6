// Package credential exchanges tenant client credentials for short-lived
// access tokens, caching them until shortly before expiry.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hazz-dev/pulsewatch/internal/config"
)

// expiryMargin is subtracted from a token's lifetime so a token is never
// handed out within this window of expiring mid-probe.
const expiryMargin = 30 * time.Second

type cached struct {
	token   string
	expires time.Time
}

// Source fetches and caches access tokens per tenant. When the token
// endpoint rejects a refresh, the tenant's statically configured token is
// used as a fallback; with neither available AccessToken returns an error
// and the caller marks auth-requiring probes down.
type Source struct {
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

// New creates a Source. Pass nil logger to use the default logger.
func New(logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cached),
	}
}

// AccessToken returns a valid token for the tenant.
func (s *Source) AccessToken(ctx context.Context, t config.Tenant) (string, error) {
	if t.TokenURL == "" {
		// No refresh endpoint configured: the static token is all there is.
		return t.Token, nil
	}

	s.mu.Lock()
	c, ok := s.cache[t.ID]
	s.mu.Unlock()
	if ok && s.now().Before(c.expires) {
		return c.token, nil
	}

	token, ttl, err := s.refresh(ctx, t)
	if err != nil {
		if t.Token != "" {
			s.logger.Warn("token refresh failed, using static credential",
				"tenant", t.ID, "error", err)
			return t.Token, nil
		}
		return "", fmt.Errorf("refreshing token for %q: %w", t.ID, err)
	}

	s.mu.Lock()
	s.cache[t.ID] = cached{token: token, expires: s.now().Add(ttl - expiryMargin)}
	s.mu.Unlock()
	return token, nil
}

func (s *Source) refresh(ctx context.Context, t config.Tenant) (string, time.Duration, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {t.ClientID},
		"client_secret": {t.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", 0, fmt.Errorf("decoding token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned empty access_token")
	}

	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl <= expiryMargin {
		ttl = expiryMargin + time.Minute
	}
	return body.AccessToken, ttl, nil
}
