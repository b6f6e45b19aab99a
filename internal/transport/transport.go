// Package transport provides the http.RoundTripper that attaches
// bearer tokens to API requests and transparently retries a request
// once after refreshing an expired session.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const bearerPrefix = "Bearer "

// DefaultExclusions lists URL fragments that never receive a bearer
// token. Provider endpoints sign their own requests.
var DefaultExclusions = []string{
	"amazonaws.com",
	"/auth/",
}

// SessionSource is the slice of the auth service the transport needs
type SessionSource interface {
	// GetAccessToken returns the current access token, if any
	GetAccessToken(ctx context.Context) (string, bool)

	// RefreshSession renews tokens, coalescing concurrent calls
	RefreshSession(ctx context.Context) error

	// SignOut tears the session down after an unrecoverable 401
	SignOut(ctx context.Context) error
}

// refreshOutcome is shared by every request waiting on one refresh
type refreshOutcome struct {
	done  chan struct{}
	token string
	err   error
}

// AuthTransport decorates a base RoundTripper with bearer attachment
// and a single coalesced refresh-and-retry on 401 responses
type AuthTransport struct {
	base       http.RoundTripper
	auth       SessionSource
	exclusions []string
	log        zerolog.Logger

	mu       sync.Mutex
	inflight *refreshOutcome
}

// Option configures an AuthTransport
type Option func(*AuthTransport)

// WithBase sets the underlying RoundTripper
func WithBase(rt http.RoundTripper) Option {
	return func(t *AuthTransport) { t.base = rt }
}

// WithExclusions replaces the default exclusion list
func WithExclusions(patterns []string) Option {
	return func(t *AuthTransport) { t.exclusions = patterns }
}

// New creates the transport around the given session source
func New(auth SessionSource, log zerolog.Logger, opts ...Option) *AuthTransport {
	t := &AuthTransport{
		base:       http.DefaultTransport,
		auth:       auth,
		exclusions: DefaultExclusions,
		log:        log.With().Str("component", "transport").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewHTTPClient returns an http.Client wired with an AuthTransport
func NewHTTPClient(auth SessionSource, log zerolog.Logger, opts ...Option) *http.Client {
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: New(auth, log, opts...),
	}
}

// RoundTrip implements http.RoundTripper. Excluded URLs pass through
// untouched. Everything else gets the current access token; a 401
// answer triggers one shared refresh and a single retry. A second 401
// is returned as-is.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.excluded(req.URL.String()) {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	token, _ := t.auth.GetAccessToken(ctx)

	out, err := t.withToken(req, token, false)
	if err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// Requests whose body cannot be replayed are not retried
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	newToken, refreshErr := t.awaitRefresh(ctx)
	if refreshErr != nil {
		// Sign-out already happened; the caller sees the original 401
		return resp, nil
	}

	// Release the first response before reissuing the request
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	t.log.Debug().Str("url", req.URL.Path).Msg("retrying request with refreshed token")
	retry, err := t.withToken(req, newToken, true)
	if err != nil {
		return nil, err
	}
	return t.base.RoundTrip(retry)
}

// withToken clones the request with the Authorization header set. A
// rewound body is attached when this is the retry.
func (t *AuthTransport) withToken(req *http.Request, token string, rewind bool) (*http.Request, error) {
	out := req.Clone(req.Context())
	if token != "" {
		out.Header.Set("Authorization", bearerPrefix+token)
	}
	if rewind && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		out.Body = body
	}
	return out, nil
}

// awaitRefresh coalesces concurrent refresh attempts: the first caller
// runs the refresh, everyone else waits for the shared outcome. On
// failure the leader forces a sign-out before publishing it.
func (t *AuthTransport) awaitRefresh(ctx context.Context) (string, error) {
	t.mu.Lock()
	if r := t.inflight; r != nil {
		t.mu.Unlock()
		select {
		case <-r.done:
			return r.token, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r := &refreshOutcome{done: make(chan struct{})}
	t.inflight = r
	t.mu.Unlock()

	r.err = t.auth.RefreshSession(ctx)
	if r.err == nil {
		token, ok := t.auth.GetAccessToken(ctx)
		if !ok {
			r.err = errors.New("no access token after refresh")
		}
		r.token = token
	}
	if r.err != nil {
		t.log.Debug().Err(r.err).Msg("refresh after 401 failed; signing out")
		_ = t.auth.SignOut(ctx)
	}

	t.mu.Lock()
	t.inflight = nil
	t.mu.Unlock()
	close(r.done)

	return r.token, r.err
}

// excluded reports whether the URL matches the exclusion list
func (t *AuthTransport) excluded(url string) bool {
	for _, pattern := range t.exclusions {
		if pattern != "" && strings.Contains(url, pattern) {
			return true
		}
	}
	return false
}
