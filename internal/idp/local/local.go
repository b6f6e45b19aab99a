// Package local implements the identity provider boundary against the
// localcloud emulator's auth endpoints. It mirrors the Cognito provider
// closely enough that the rest of the application cannot tell them apart.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/todocloud-dev/todocloud/internal/idp"
	"github.com/todocloud-dev/todocloud/internal/idp/tokenstore"
)

const storeKey = "local.session"

// Provider is an idp.Provider backed by a localcloud server
type Provider struct {
	baseURL    string
	httpClient *http.Client
	tokens     tokenstore.Store
	log        zerolog.Logger

	mu       sync.Mutex
	current  idp.Tokens
	username string
}

// New creates a provider talking to the localcloud server at baseURL
func New(baseURL string, tokens tokenstore.Store, log zerolog.Logger) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens: tokens,
		log:    log.With().Str("component", "idp.local").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client
func (p *Provider) SetHTTPClient(httpClient *http.Client) {
	p.httpClient = httpClient
}

// tokenResponse is the issued credential payload
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// userResponse is the provider's view of an account
type userResponse struct {
	ID     string   `json:"id"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Groups []string `json:"groups"`
}

// errorResponse is the error payload; Code carries the machine-readable kind
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SignIn authenticates with email and password
func (p *Provider) SignIn(ctx context.Context, creds idp.Credentials) (idp.SignInResult, error) {
	var tokens tokenResponse
	err := p.post(ctx, "/auth/login", map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	}, &tokens)
	if err != nil {
		// An unconfirmed account is a flow step, not a failure
		if errors.Is(err, idp.ErrUserNotConfirmed) {
			return idp.SignInResult{Step: idp.StepConfirmSignUp}, nil
		}
		return idp.SignInResult{}, err
	}

	p.storeTokens(creds.Email, tokens)
	return idp.SignInResult{Complete: true, Step: idp.StepDone}, nil
}

// SignOut revokes the refresh token and clears local state
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	refresh := p.current.RefreshToken
	p.current = idp.Tokens{}
	p.username = ""
	p.mu.Unlock()

	if refresh == "" {
		if rec, err := tokenstore.LoadRecord(p.tokens, storeKey); err == nil {
			refresh = rec.RefreshToken
		}
	}
	if err := p.tokens.Delete(storeKey); err != nil {
		p.log.Warn().Err(err).Msg("failed to clear stored session")
	}

	if refresh == "" {
		return nil
	}
	if err := p.post(ctx, "/auth/logout", map[string]string{"refresh_token": refresh}, nil); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// SignUp registers a new account
func (p *Provider) SignUp(ctx context.Context, details idp.SignUpDetails) (idp.NextStep, error) {
	var resp struct {
		UserID   string `json:"user_id"`
		NextStep string `json:"next_step"`
	}
	err := p.post(ctx, "/auth/signup", map[string]string{
		"email":    details.Email,
		"password": details.Password,
		"name":     details.Name,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.NextStep == "" {
		return idp.StepDone, nil
	}
	return idp.NextStep(resp.NextStep), nil
}

// ConfirmSignUp completes registration with the emailed code
func (p *Provider) ConfirmSignUp(ctx context.Context, username, code string) error {
	return p.post(ctx, "/auth/confirm", map[string]string{
		"email": username,
		"code":  code,
	}, nil)
}

// ResendCode requests a fresh confirmation code
func (p *Provider) ResendCode(ctx context.Context, username string) error {
	return p.post(ctx, "/auth/resend", map[string]string{"email": username}, nil)
}

// ResetPassword starts the forgot-password flow
func (p *Provider) ResetPassword(ctx context.Context, username string) error {
	return p.post(ctx, "/auth/forgot", map[string]string{"email": username}, nil)
}

// ConfirmResetPassword completes the forgot-password flow
func (p *Provider) ConfirmResetPassword(ctx context.Context, username, code, newPassword string) error {
	return p.post(ctx, "/auth/forgot/confirm", map[string]string{
		"email":        username,
		"code":         code,
		"new_password": newPassword,
	}, nil)
}

// FetchIdentity returns the current user, refreshing tokens if needed
func (p *Provider) FetchIdentity(ctx context.Context) (*idp.Identity, error) {
	tokens, err := p.FetchSession(ctx, false)
	if err != nil {
		return nil, err
	}

	user, err := p.me(ctx, tokens.AccessToken)
	if err == nil {
		return user, nil
	}

	// The access token may have been revoked server-side; refresh once
	var statusErr *statusError
	if errors.As(err, &statusErr) && statusErr.status == http.StatusUnauthorized {
		tokens, err = p.FetchSession(ctx, true)
		if err != nil {
			return nil, err
		}
		return p.me(ctx, tokens.AccessToken)
	}
	return nil, err
}

// FetchSession returns the current token set, refreshing when forced
// or expired. Refresh rotates the stored refresh token.
func (p *Provider) FetchSession(ctx context.Context, force bool) (idp.Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !force && p.current.Valid() {
		return p.current, nil
	}

	refresh := p.current.RefreshToken
	username := p.username
	if refresh == "" {
		rec, err := tokenstore.LoadRecord(p.tokens, storeKey)
		if err != nil {
			if errors.Is(err, tokenstore.ErrNotFound) {
				return idp.Tokens{}, idp.ErrNotSignedIn
			}
			return idp.Tokens{}, err
		}
		refresh = rec.RefreshToken
		username = rec.Username
	}

	var tokens tokenResponse
	err := p.post(ctx, "/auth/refresh", map[string]string{"refresh_token": refresh}, &tokens)
	if err != nil {
		if errors.Is(err, idp.ErrNotSignedIn) {
			// Refresh token revoked or expired: drop the dead session
			p.current = idp.Tokens{}
			p.username = ""
			_ = p.tokens.Delete(storeKey)
		}
		return idp.Tokens{}, err
	}

	p.setTokensLocked(username, tokens)
	return p.current, nil
}

// me fetches the account behind the access token
func (p *Provider) me(ctx context.Context, accessToken string) (*idp.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/auth/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError(resp)
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &idp.Identity{
		Username: user.Email,
		Email:    user.Email,
		Name:     user.Name,
		Groups:   user.Groups,
	}, nil
}

// storeTokens records a fresh credential set under the given username
func (p *Provider) storeTokens(username string, tokens tokenResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setTokensLocked(username, tokens)
}

func (p *Provider) setTokensLocked(username string, tokens tokenResponse) {
	p.username = username
	p.current = idp.Tokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second),
	}
	err := tokenstore.SaveRecord(p.tokens, storeKey, tokenstore.Record{
		Username:     username,
		RefreshToken: tokens.RefreshToken,
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to persist session; sign-in will not survive restart")
	}
}

// post sends a JSON request and decodes the response into out when non-nil
func (p *Provider) post(ctx context.Context, path string, body any, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return p.apiError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError carries the HTTP status alongside the decoded payload
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("request failed (status %d): %s", e.status, e.message)
}

// apiError maps an error payload onto the provider error kinds
func (p *Provider) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return &statusError{status: resp.StatusCode, message: string(body)}
	}

	var kind error
	switch payload.Code {
	case "USER_NOT_CONFIRMED":
		kind = idp.ErrUserNotConfirmed
	case "INVALID_CREDENTIALS":
		kind = idp.ErrInvalidCredentials
	case "USER_NOT_FOUND":
		kind = idp.ErrUserNotFound
	case "TOO_MANY_ATTEMPTS":
		kind = idp.ErrTooManyAttempts
	case "CODE_MISMATCH":
		kind = idp.ErrCodeMismatch
	case "INVALID_REFRESH_TOKEN":
		kind = idp.ErrNotSignedIn
	default:
		return &statusError{status: resp.StatusCode, message: payload.Error}
	}
	return fmt.Errorf("%s: %w", payload.Error, kind)
}
