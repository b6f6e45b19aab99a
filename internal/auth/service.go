// Package auth owns the session lifecycle: sign-in and sign-out, the
// startup session check, periodic token refresh and the return-URL slot
// used to resume navigation after a forced login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/todocloud-dev/todocloud/internal/idp"
	"github.com/todocloud-dev/todocloud/internal/session"
)

// User-facing messages for sign-in failures
const (
	MsgUserNotConfirmed   = "Please confirm your email address before signing in."
	MsgInvalidCredentials = "Invalid email or password."
	MsgUserNotFound       = "No account found with this email."
	MsgTooManyAttempts    = "Too many attempts. Please try again later."
	MsgUnexpected         = "An unexpected error occurred. Please try again."
)

// Message maps a provider error onto its user-facing description
func Message(err error) string {
	switch {
	case errors.Is(err, idp.ErrUserNotConfirmed):
		return MsgUserNotConfirmed
	case errors.Is(err, idp.ErrInvalidCredentials):
		return MsgInvalidCredentials
	case errors.Is(err, idp.ErrUserNotFound):
		return MsgUserNotFound
	case errors.Is(err, idp.ErrTooManyAttempts):
		return MsgTooManyAttempts
	default:
		return MsgUnexpected
	}
}

// Service drives the process-wide session. One instance exists per
// application run; all session writes go through it.
type Service struct {
	provider idp.Provider
	store    *session.Store
	log      zerolog.Logger

	refreshEvery time.Duration
	readyTimeout time.Duration
	defaultRoute string
	loginRoute   string
	onNavigate   func(route string)

	// sf coalesces concurrent refresh attempts into one provider call
	sf singleflight.Group

	// gen increments on sign-out so stale refresh completions can be
	// detected before they overwrite the session
	gen atomic.Uint64

	mu            sync.Mutex
	cancelRefresh context.CancelFunc
	loopDone      chan struct{}
	returnURL     string

	ready chan struct{}
}

// Option configures a Service
type Option func(*Service)

// WithRefreshInterval sets the period of the automatic token refresh
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.refreshEvery = d
		}
	}
}

// WithReadyTimeout bounds the startup session check
func WithReadyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.readyTimeout = d
		}
	}
}

// WithNavigate registers the sink for navigation signals emitted after
// sign-in and sign-out
func WithNavigate(fn func(route string)) Option {
	return func(s *Service) { s.onNavigate = fn }
}

// WithRoutes sets the post-login default destination and the login route
func WithRoutes(defaultRoute, loginRoute string) Option {
	return func(s *Service) {
		if defaultRoute != "" {
			s.defaultRoute = defaultRoute
		}
		if loginRoute != "" {
			s.loginRoute = loginRoute
		}
	}
}

// New creates the session service and starts its background work: the
// startup session check and the refresh loop, which fires immediately
// and then on every interval.
func New(provider idp.Provider, store *session.Store, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		provider:     provider,
		store:        store,
		log:          log.With().Str("component", "auth").Logger(),
		refreshEvery: 45 * time.Minute,
		readyTimeout: 10 * time.Second,
		defaultRoute: "auth/dashboard",
		loginRoute:   "login",
		ready:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.initialize()
	s.startRefreshLoop()
	return s
}

// initialize performs the startup session check. WaitReady unblocks
// once it completes, successful or not.
func (s *Service) initialize() {
	defer close(s.ready)
	ctx, cancel := context.WithTimeout(context.Background(), s.readyTimeout)
	defer cancel()
	s.CheckStatus(ctx)
}

// WaitReady blocks until the startup session check has completed
func (s *Service) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the refresh loop and waits for an in-flight refresh to
// finish, so a rotation the provider already committed is never lost.
func (s *Service) Close() {
	s.mu.Lock()
	done := s.loopDone
	s.mu.Unlock()

	s.stopRefreshLoop()
	if done != nil {
		<-done
	}
}

// Current returns the latest session snapshot
func (s *Service) Current() session.Session {
	return s.store.Current()
}

// Subscribe registers for session change notifications
func (s *Service) Subscribe() (<-chan session.Session, func()) {
	return s.store.Subscribe()
}

// SignIn authenticates with the provider. A complete result loads the
// identity, arms the refresh loop and signals navigation to the
// post-login destination. An incomplete result carries the next step.
func (s *Service) SignIn(ctx context.Context, creds idp.Credentials) (idp.SignInResult, error) {
	s.store.Update(func(cur session.Session) session.Session {
		cur.Loading = true
		cur.Err = ""
		return cur
	})

	result, err := s.provider.SignIn(ctx, creds)
	if err != nil {
		s.log.Debug().Err(err).Str("email", creds.Email).Msg("sign-in failed")
		s.store.Update(func(cur session.Session) session.Session {
			cur.Loading = false
			cur.Err = Message(err)
			return cur
		})
		return idp.SignInResult{}, err
	}

	if !result.Complete {
		msg := ""
		if result.Step == idp.StepConfirmSignUp {
			msg = MsgUserNotConfirmed
		}
		s.store.Update(func(cur session.Session) session.Session {
			cur.Loading = false
			cur.Err = msg
			return cur
		})
		return result, nil
	}

	if !s.CheckStatus(ctx) {
		s.store.Update(func(cur session.Session) session.Session {
			cur.Err = MsgUnexpected
			return cur
		})
		return idp.SignInResult{}, fmt.Errorf("failed to load identity after sign-in")
	}

	s.startRefreshLoop()
	s.log.Info().Str("email", creds.Email).Msg("signed in")

	if s.onNavigate != nil {
		s.onNavigate(s.ConsumeReturnURL())
	}
	return result, nil
}

// SignOut revokes the session with the provider and resets local state.
// Local state is cleared even when the remote call fails. A transition
// out of an authenticated session signals navigation to login.
func (s *Service) SignOut(ctx context.Context) error {
	s.gen.Add(1)
	s.stopRefreshLoop()

	prev := s.store.Current()
	err := s.provider.SignOut(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("provider sign-out failed; clearing local session anyway")
	}
	s.store.Set(session.Default())

	if prev.Authenticated {
		s.log.Info().Msg("signed out")
		if s.onNavigate != nil {
			s.onNavigate(s.loginRoute)
		}
	}
	return err
}

// CheckStatus asks the provider for the current identity and replaces
// the session snapshot accordingly. Expiry stays zero when the token
// lifetime cannot be read; the session still counts as authenticated.
func (s *Service) CheckStatus(ctx context.Context) bool {
	ident, err := s.provider.FetchIdentity(ctx)
	if err != nil {
		if !errors.Is(err, idp.ErrNotSignedIn) {
			s.log.Debug().Err(err).Msg("session check failed")
		}
		s.store.Update(func(cur session.Session) session.Session {
			next := session.Default()
			next.Err = cur.Err
			return next
		})
		return false
	}

	var expiry time.Time
	if tokens, terr := s.provider.FetchSession(ctx, false); terr == nil {
		expiry = tokens.ExpiresAt
	}

	s.store.Set(session.Session{Authenticated: true, User: ident, Expiry: expiry})
	return true
}

// RefreshSession forces the provider to renew tokens and recomputes the
// session snapshot. Concurrent calls share one provider round trip. On
// failure the session resets to signed-out and the error propagates.
func (s *Service) RefreshSession(ctx context.Context) error {
	_, err, _ := s.sf.Do("refresh", func() (any, error) {
		gen := s.gen.Load()

		tokens, err := s.provider.FetchSession(ctx, true)
		if err == nil && tokens.AccessToken == "" {
			err = errors.New("provider returned no access token")
		}
		if err != nil {
			s.resetAfterFailedRefresh()
			return nil, fmt.Errorf("failed to refresh session: %w", err)
		}

		ident, err := s.provider.FetchIdentity(ctx)
		if err != nil {
			s.resetAfterFailedRefresh()
			return nil, fmt.Errorf("failed to refresh session: %w", err)
		}

		// A sign-out happened while the refresh was in flight; the
		// renewed tokens belong to a session that no longer exists.
		if s.gen.Load() != gen {
			return nil, fmt.Errorf("session signed out during refresh")
		}

		s.store.Set(session.Session{Authenticated: true, User: ident, Expiry: tokens.ExpiresAt})
		return nil, nil
	})
	return err
}

// resetAfterFailedRefresh drops to the signed-out state without
// touching the last user-facing error message
func (s *Service) resetAfterFailedRefresh() {
	s.store.Update(func(cur session.Session) session.Session {
		next := session.Default()
		next.Err = cur.Err
		return next
	})
}

// GetAccessToken returns the current access token if one is available.
// It never fails: any provider error reads as "no token".
func (s *Service) GetAccessToken(ctx context.Context) (string, bool) {
	tokens, err := s.provider.FetchSession(ctx, false)
	if err != nil || tokens.AccessToken == "" {
		return "", false
	}
	return tokens.AccessToken, true
}

// HasRole reports whether the signed-in user belongs to the group
func (s *Service) HasRole(role string) bool {
	return s.store.Current().User.HasGroup(role)
}

// HasAnyRole reports whether the signed-in user belongs to at least
// one of the groups
func (s *Service) HasAnyRole(roles ...string) bool {
	user := s.store.Current().User
	for _, role := range roles {
		if user.HasGroup(role) {
			return true
		}
	}
	return false
}

// SetReturnURL records the destination to resume after login
func (s *Service) SetReturnURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.returnURL = url
}

// ConsumeReturnURL returns the recorded destination and clears the
// slot, falling back to the default route
func (s *Service) ConsumeReturnURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	url := s.returnURL
	s.returnURL = ""
	if url == "" {
		return s.defaultRoute
	}
	return url
}

// startRefreshLoop arms the periodic refresh, replacing any loop
// already running so only one ever exists
func (s *Service) startRefreshLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	if s.cancelRefresh != nil {
		s.cancelRefresh()
	}
	s.cancelRefresh = cancel
	s.loopDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.runRefreshLoop(ctx)
	}()
}

// stopRefreshLoop cancels the running refresh loop, if any
func (s *Service) stopRefreshLoop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRefresh != nil {
		s.cancelRefresh()
		s.cancelRefresh = nil
	}
}

// refreshCallTimeout bounds one scheduled refresh round trip so a dead
// provider cannot hang Close
const refreshCallTimeout = 15 * time.Second

// runRefreshLoop refreshes immediately and then on every interval until
// canceled. A failed refresh forces a sign-out and ends the loop.
func (s *Service) runRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.refreshEvery)
	defer ticker.Stop()

	for {
		// The call itself is detached from loop cancellation: once the
		// provider starts rotating the refresh token, aborting the round
		// trip would lose the replacement.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshCallTimeout)
		err := s.RefreshSession(rctx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug().Err(err).Msg("scheduled refresh failed; signing out")
			// SignOut cancels this loop's context, so it runs on its own
			if serr := s.SignOut(context.Background()); serr != nil {
				s.log.Debug().Err(serr).Msg("forced sign-out reported an error")
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
