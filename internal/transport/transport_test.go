package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// fakeSource scripts the session side of the transport
type fakeSource struct {
	mu         sync.Mutex
	token      string
	refreshTo  string
	refreshErr error

	refreshCalls atomic.Int32
	signOuts     atomic.Int32
	refreshGate  chan struct{}
}

func (f *fakeSource) GetAccessToken(context.Context) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.token != ""
}

func (f *fakeSource) RefreshSession(context.Context) error {
	f.refreshCalls.Add(1)
	f.mu.Lock()
	gate := f.refreshGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.token = f.refreshTo
	return nil
}

func (f *fakeSource) SignOut(context.Context) error {
	f.signOuts.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	return nil
}

// newAPIServer returns a server that accepts only "Bearer fresh"
func newAPIServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "ok:%s", string(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRoundTrip_AttachesBearer(t *testing.T) {
	var sawAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
	}))
	t.Cleanup(server.Close)

	client := NewHTTPClient(&fakeSource{token: "tok-1"}, zerolog.Nop())
	resp, err := client.Get(server.URL + "/api/todos")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if sawAuth != "Bearer tok-1" {
		t.Errorf("expected bearer header, got %q", sawAuth)
	}
}

func TestRoundTrip_NoTokenNoHeader(t *testing.T) {
	var sawAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
	}))
	t.Cleanup(server.Close)

	client := NewHTTPClient(&fakeSource{}, zerolog.Nop())
	resp, err := client.Get(server.URL + "/api/todos")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if sawAuth != "" {
		t.Errorf("expected no auth header, got %q", sawAuth)
	}
}

func TestRoundTrip_ExcludedPassThrough(t *testing.T) {
	var sawAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		// Provider endpoints respond 401 without tripping a refresh
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	source := &fakeSource{token: "tok-1"}
	client := NewHTTPClient(source, zerolog.Nop())

	resp, err := client.Post(server.URL+"/auth/login", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if sawAuth != "" {
		t.Errorf("expected excluded request without auth header, got %q", sawAuth)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected passthrough 401, got %d", resp.StatusCode)
	}
	if source.refreshCalls.Load() != 0 {
		t.Error("expected no refresh for excluded URL")
	}
}

func TestExcluded(t *testing.T) {
	tr := New(&fakeSource{}, zerolog.Nop())

	tests := []struct {
		url      string
		excluded bool
	}{
		{url: "https://cognito-idp.eu-west-1.amazonaws.com/", excluded: true},
		{url: "http://localhost:8085/auth/refresh", excluded: true},
		{url: "http://localhost:8085/api/todos", excluded: false},
		{url: "https://api.example.com/v1/items", excluded: false},
	}

	for _, tt := range tests {
		if got := tr.excluded(tt.url); got != tt.excluded {
			t.Errorf("excluded(%q) = %v, expected %v", tt.url, got, tt.excluded)
		}
	}
}

func TestRoundTrip_RefreshAndRetryOn401(t *testing.T) {
	var hits atomic.Int32
	server := newAPIServer(t, &hits)

	source := &fakeSource{token: "stale", refreshTo: "fresh"}
	client := NewHTTPClient(source, zerolog.Nop())

	resp, err := client.Get(server.URL + "/api/todos")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after retry, got %d", resp.StatusCode)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("expected original + retry, got %d requests", got)
	}
	if got := source.refreshCalls.Load(); got != 1 {
		t.Errorf("expected exactly 1 refresh, got %d", got)
	}
	if source.signOuts.Load() != 0 {
		t.Error("did not expect a sign-out")
	}
}

func TestRoundTrip_BodyReplayedOnRetry(t *testing.T) {
	var hits atomic.Int32
	server := newAPIServer(t, &hits)

	source := &fakeSource{token: "stale", refreshTo: "fresh"}
	client := NewHTTPClient(source, zerolog.Nop())

	resp, err := client.Post(server.URL+"/api/todos", "application/json", strings.NewReader(`{"content":"buy milk"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `ok:{"content":"buy milk"}` {
		t.Errorf("expected body to be replayed on retry, got %q", string(body))
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("expected original + retry, got %d requests", got)
	}
}

func TestRoundTrip_SecondUnauthorizedSurfaces(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	source := &fakeSource{token: "stale", refreshTo: "fresh"}
	client := NewHTTPClient(source, zerolog.Nop())

	resp, err := client.Get(server.URL + "/api/todos")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected the second 401 to surface, got %d", resp.StatusCode)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("expected no second retry, got %d requests", got)
	}
}

func TestRoundTrip_RefreshFailureSignsOutAndSurfaces401(t *testing.T) {
	var hits atomic.Int32
	server := newAPIServer(t, &hits)

	source := &fakeSource{token: "stale", refreshErr: errors.New("refresh rejected")}
	client := NewHTTPClient(source, zerolog.Nop())

	resp, err := client.Get(server.URL + "/api/todos")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected original 401, got %d", resp.StatusCode)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("expected no retry after failed refresh, got %d requests", got)
	}
	if got := source.signOuts.Load(); got != 1 {
		t.Errorf("expected forced sign-out, got %d", got)
	}
}

func TestRoundTrip_UnreplayableBodyNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := newAPIServer(t, &hits)

	source := &fakeSource{token: "stale", refreshTo: "fresh"}
	client := NewHTTPClient(source, zerolog.Nop())

	// Wrapping the reader hides its type, so the client cannot set
	// GetBody and the transport must not retry
	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/todos", struct{ io.Reader }{strings.NewReader("{}")})
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 to surface, got %d", resp.StatusCode)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d requests", got)
	}
	if source.refreshCalls.Load() != 0 {
		t.Error("expected no refresh for unreplayable request")
	}
}

func TestRoundTrip_Concurrent401sShareOneRefresh(t *testing.T) {
	var hits atomic.Int32
	server := newAPIServer(t, &hits)

	source := &fakeSource{token: "stale", refreshTo: "fresh"}
	gate := make(chan struct{})
	source.mu.Lock()
	source.refreshGate = gate
	source.mu.Unlock()

	client := NewHTTPClient(source, zerolog.Nop())

	const workers = 8
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			resp, err := client.Get(server.URL + "/api/todos")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			return nil
		})
	}

	// Give every request time to take its first 401, then let the
	// single refresh through
	time.Sleep(100 * time.Millisecond)
	source.mu.Lock()
	source.refreshGate = nil
	source.mu.Unlock()
	close(gate)

	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent requests failed: %v", err)
	}

	if got := source.refreshCalls.Load(); got != 1 {
		t.Errorf("expected exactly 1 refresh for %d concurrent 401s, got %d", workers, got)
	}
	if got := hits.Load(); got != workers*2 {
		t.Errorf("expected %d requests (original + retry each), got %d", workers*2, got)
	}
}
