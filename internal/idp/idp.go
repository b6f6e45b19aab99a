// Package idp defines the boundary to the managed identity provider.
// Two implementations exist: cognito (AWS Cognito user pools) and local
// (the localcloud emulator). The auth service only talks to the Provider
// interface, so both are interchangeable at wiring time.
package idp

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotSignedIn indicates no stored session exists for the current user
	ErrNotSignedIn = errors.New("not signed in")

	// ErrUserNotConfirmed indicates the account exists but has not verified its email
	ErrUserNotConfirmed = errors.New("user not confirmed")

	// ErrInvalidCredentials indicates the email/password pair was rejected
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound indicates no account exists for the given email
	ErrUserNotFound = errors.New("user not found")

	// ErrTooManyAttempts indicates the provider throttled the request
	ErrTooManyAttempts = errors.New("too many attempts")

	// ErrCodeMismatch indicates a confirmation or reset code was wrong or expired
	ErrCodeMismatch = errors.New("code mismatch")
)

// Identity is the provider's record of the signed-in user
type Identity struct {
	Username   string
	Email      string
	Name       string
	Groups     []string
	Attributes map[string]string
}

// HasGroup reports whether the identity belongs to the given group
func (i *Identity) HasGroup(group string) bool {
	if i == nil {
		return false
	}
	for _, g := range i.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Tokens is one issued credential set
type Tokens struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// Valid reports whether the access token is present and not yet expired.
// A zero expiry counts as valid: the token was issued but its lifetime
// could not be read, so the provider decides on first use.
func (t Tokens) Valid() bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Before(t.ExpiresAt)
}

// NextStep names the action required to finish an auth flow
type NextStep string

const (
	StepDone                NextStep = "DONE"
	StepConfirmSignUp       NextStep = "CONFIRM_SIGN_UP"
	StepResetPassword       NextStep = "RESET_PASSWORD"
	StepNewPasswordRequired NextStep = "NEW_PASSWORD_REQUIRED"
)

// SignInResult reports the outcome of a sign-in attempt. Complete means
// tokens were issued; otherwise Step names what the user must do next.
type SignInResult struct {
	Complete bool
	Step     NextStep
}

// Credentials is an email/password pair
type Credentials struct {
	Email    string
	Password string
}

// SignUpDetails holds the fields collected at registration
type SignUpDetails struct {
	Email    string
	Password string
	Name     string
}

// Provider is the surface of the managed identity provider used by the
// auth service. Implementations own token storage: FetchSession returns
// cached tokens while they are valid and refreshes them against the
// provider when forced or expired.
type Provider interface {
	// SignIn authenticates with credentials. On success tokens are stored
	// and the result is complete; an incomplete result carries the next step.
	SignIn(ctx context.Context, creds Credentials) (SignInResult, error)

	// SignOut revokes the stored session with the provider and always
	// clears local token state, even when revocation fails.
	SignOut(ctx context.Context) error

	// SignUp registers a new account and returns the follow-up step,
	// normally StepConfirmSignUp.
	SignUp(ctx context.Context, details SignUpDetails) (NextStep, error)

	// ConfirmSignUp completes registration with the emailed code
	ConfirmSignUp(ctx context.Context, username, code string) error

	// ResendCode requests a fresh confirmation code
	ResendCode(ctx context.Context, username string) error

	// ResetPassword starts the forgot-password flow
	ResetPassword(ctx context.Context, username string) error

	// ConfirmResetPassword completes the forgot-password flow
	ConfirmResetPassword(ctx context.Context, username, code, newPassword string) error

	// FetchIdentity returns the current user, refreshing tokens if needed.
	// Returns ErrNotSignedIn when no session exists.
	FetchIdentity(ctx context.Context) (*Identity, error)

	// FetchSession returns the current token set. With force set, tokens
	// are refreshed against the provider even if still valid.
	FetchSession(ctx context.Context, force bool) (Tokens, error)
}
