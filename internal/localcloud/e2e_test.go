package localcloud_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/todocloud-dev/todocloud/internal/auth"
	"github.com/todocloud-dev/todocloud/internal/config"
	"github.com/todocloud-dev/todocloud/internal/idp"
	"github.com/todocloud-dev/todocloud/internal/idp/local"
	"github.com/todocloud-dev/todocloud/internal/idp/tokenstore"
	"github.com/todocloud-dev/todocloud/internal/localcloud"
	"github.com/todocloud-dev/todocloud/internal/session"
	"github.com/todocloud-dev/todocloud/internal/todos"
	"github.com/todocloud-dev/todocloud/internal/transport"
)

// startEmulator boots a localcloud server on an ephemeral port
func startEmulator(t *testing.T) (*localcloud.Server, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{
		LocalCloud: config.LocalCloudConfig{
			DatabaseURL:     filepath.Join(t.TempDir(), "e2e.sqlite"),
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 720 * time.Hour,
			AllowedOrigins:  []string{"http://localhost:4200"},
		},
	}

	srv, err := localcloud.New(cfg, zerolog.Nop(), "test")
	require.NoError(t, err, "start emulator")

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		if sqlDB, err := srv.GetDB().DB(); err == nil {
			sqlDB.Close()
		}
	})

	return srv, ts
}

// pendingCodeFor digs the confirmation code out of the emulator database
func pendingCodeFor(t *testing.T, srv *localcloud.Server, email string) string {
	t.Helper()

	var user localcloud.User
	err := srv.GetDB().Where("email = ?", email).First(&user).Error
	require.NoError(t, err, "load user %s", email)
	return user.ConfirmationCode
}

type routeLog struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeLog) record(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *routeLog) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.routes) == 0 {
		return ""
	}
	return r.routes[len(r.routes)-1]
}

// TestFullStackSignUpToSignOut drives the entire client stack against a
// real emulator: registration, sign-in, authenticated data access with
// live change events, token refresh, and sign-out.
func TestFullStackSignUpToSignOut(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping full-stack test in short mode")
	}

	srv, ts := startEmulator(t)
	ctx := context.Background()
	log := zerolog.Nop()

	store := tokenstore.NewMemory()
	provider := local.New(ts.URL, store, log)
	sessions := session.NewStore()

	nav := &routeLog{}
	svc := auth.New(provider, sessions, log,
		auth.WithNavigate(nav.record),
		auth.WithReadyTimeout(5*time.Second),
	)
	t.Cleanup(svc.Close)

	require.NoError(t, svc.WaitReady(ctx))
	require.False(t, sessions.Current().Authenticated, "fresh stack should start signed out")

	// Register and confirm through the provider boundary
	step, err := provider.SignUp(ctx, idp.SignUpDetails{
		Email:    "e2e@example.com",
		Password: "password123",
		Name:     "E2E User",
	})
	require.NoError(t, err)
	require.Equal(t, idp.StepConfirmSignUp, step)

	code := pendingCodeFor(t, srv, "e2e@example.com")
	require.NoError(t, provider.ConfirmSignUp(ctx, "e2e@example.com", code))

	// Sign in through the session service
	result, err := svc.SignIn(ctx, idp.Credentials{
		Email:    "e2e@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	require.True(t, result.Complete, "sign-in should complete")

	current := sessions.Current()
	require.True(t, current.Authenticated)
	require.NotNil(t, current.User)
	require.Equal(t, "e2e@example.com", current.User.Email)
	require.Equal(t, "auth/dashboard", nav.last(), "sign-in should navigate to the default route")

	// Authenticated data access through the intercepting transport
	httpClient := transport.NewHTTPClient(svc, log)
	client := todos.NewClient(ts.URL, httpClient, log)
	client.SetTokenFunc(svc.GetAccessToken)

	observeCtx, cancelObserve := context.WithCancel(ctx)
	defer cancelObserve()
	events, err := client.Observe(observeCtx)
	require.NoError(t, err)

	created, err := client.Create(ctx, "ship the release")
	require.NoError(t, err)

	select {
	case event := <-events:
		require.Equal(t, todos.EventCreated, event.Type)
		require.Equal(t, created.ID, event.Todo.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no created event within 5s")
	}

	items, err := client.List(ctx, todos.ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "ship the release", items[0].Content)

	toggled, err := client.Toggle(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, toggled.Done, "toggle should mark the todo done")

	// Manual refresh rotates credentials without disturbing the session
	require.NoError(t, svc.RefreshSession(ctx))
	require.True(t, sessions.Current().Authenticated, "session lost after refresh")
	_, err = client.List(ctx, todos.ListFilter{})
	require.NoError(t, err, "list after refresh")

	// Sign out tears everything down
	require.NoError(t, svc.SignOut(ctx))
	require.False(t, sessions.Current().Authenticated)
	require.Equal(t, "login", nav.last(), "sign-out should navigate to login")

	_, err = client.List(ctx, todos.ListFilter{})
	require.ErrorIs(t, err, todos.ErrUnauthorized)
}

// TestRestartResumesSession checks that a second service instance built
// over the same token store silently signs back in from the persisted
// refresh token.
func TestRestartResumesSession(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping full-stack test in short mode")
	}

	srv, ts := startEmulator(t)
	ctx := context.Background()
	log := zerolog.Nop()

	store := tokenstore.NewMemory()

	// First run: register, confirm and sign in at the provider level,
	// which persists the refresh token into the shared store
	provider1 := local.New(ts.URL, store, log)
	_, err := provider1.SignUp(ctx, idp.SignUpDetails{
		Email:    "resume@example.com",
		Password: "password123",
		Name:     "Resume User",
	})
	require.NoError(t, err)

	code := pendingCodeFor(t, srv, "resume@example.com")
	require.NoError(t, provider1.ConfirmSignUp(ctx, "resume@example.com", code))

	_, err = provider1.SignIn(ctx, idp.Credentials{
		Email:    "resume@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	// Second run: same store, no credentials entered
	provider2 := local.New(ts.URL, store, log)
	sessions2 := session.NewStore()
	svc2 := auth.New(provider2, sessions2, log, auth.WithReadyTimeout(5*time.Second))
	t.Cleanup(svc2.Close)

	require.NoError(t, svc2.WaitReady(ctx))

	current := sessions2.Current()
	require.True(t, current.Authenticated, "restarted stack should resume the session")
	require.NotNil(t, current.User)
	require.Equal(t, "resume@example.com", current.User.Email)
}
