// Package cognito implements the identity provider boundary against an
// AWS Cognito user pool app client using the USER_PASSWORD_AUTH and
// REFRESH_TOKEN_AUTH flows.
package cognito

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/rs/zerolog"

	"github.com/todocloud-dev/todocloud/internal/config"
	"github.com/todocloud-dev/todocloud/internal/idp"
	"github.com/todocloud-dev/todocloud/internal/idp/claims"
	"github.com/todocloud-dev/todocloud/internal/idp/tokenstore"
)

const storeKey = "cognito.session"

// api is the subset of the Cognito IDP client used by the provider
type api interface {
	InitiateAuth(ctx context.Context, in *cognitoidentityprovider.InitiateAuthInput, opts ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error)
	RevokeToken(ctx context.Context, in *cognitoidentityprovider.RevokeTokenInput, opts ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.RevokeTokenOutput, error)
	SignUp(ctx context.Context, in *cognitoidentityprovider.SignUpInput, opts ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, in *cognitoidentityprovider.ConfirmSignUpInput, opts ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ConfirmSignUpOutput, error)
	ResendConfirmationCode(ctx context.Context, in *cognitoidentityprovider.ResendConfirmationCodeInput, opts ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ResendConfirmationCodeOutput, error)
	ForgotPassword(ctx context.Context, in *cognitoidentityprovider.ForgotPasswordInput, opts ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ForgotPasswordOutput, error)
	ConfirmForgotPassword(ctx context.Context, in *cognitoidentityprovider.ConfirmForgotPasswordInput, opts ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ConfirmForgotPasswordOutput, error)
	GetUser(ctx context.Context, in *cognitoidentityprovider.GetUserInput, opts ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.GetUserOutput, error)
}

// Provider is an idp.Provider backed by a Cognito user pool
type Provider struct {
	client       api
	clientID     string
	clientSecret string
	tokens       tokenstore.Store
	log          zerolog.Logger

	mu       sync.Mutex
	current  idp.Tokens
	username string
}

// New creates a provider for the configured user pool app client
func New(ctx context.Context, cfg config.CognitoConfig, tokens tokenstore.Store, log zerolog.Logger) (*Provider, error) {
	if cfg.Region == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("cognito provider requires COGNITO_REGION and COGNITO_CLIENT_ID")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{
		client:       cognitoidentityprovider.NewFromConfig(awsCfg),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokens:       tokens,
		log:          log.With().Str("component", "idp.cognito").Logger(),
	}, nil
}

// newWithClient wires a custom API client, used by tests
func newWithClient(client api, clientID, clientSecret string, tokens tokenstore.Store, log zerolog.Logger) *Provider {
	return &Provider{
		client:       client,
		clientID:     clientID,
		clientSecret: clientSecret,
		tokens:       tokens,
		log:          log,
	}
}

// SignIn authenticates with the USER_PASSWORD_AUTH flow
func (p *Provider) SignIn(ctx context.Context, creds idp.Credentials) (idp.SignInResult, error) {
	params := map[string]string{
		"USERNAME": creds.Email,
		"PASSWORD": creds.Password,
	}
	if hash := p.secretHash(creds.Email); hash != "" {
		params["SECRET_HASH"] = hash
	}

	out, err := p.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(p.clientID),
		AuthParameters: params,
	})
	if err != nil {
		var notConfirmed *types.UserNotConfirmedException
		if errors.As(err, &notConfirmed) {
			return idp.SignInResult{Step: idp.StepConfirmSignUp}, nil
		}
		var resetRequired *types.PasswordResetRequiredException
		if errors.As(err, &resetRequired) {
			return idp.SignInResult{Step: idp.StepResetPassword}, nil
		}
		return idp.SignInResult{}, mapError(err)
	}

	if out.AuthenticationResult == nil {
		return idp.SignInResult{Step: challengeStep(out.ChallengeName)}, nil
	}

	p.storeResult(creds.Email, out.AuthenticationResult, "")
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

	in := &cognitoidentityprovider.RevokeTokenInput{
		ClientId: aws.String(p.clientID),
		Token:    aws.String(refresh),
	}
	if p.clientSecret != "" {
		in.ClientSecret = aws.String(p.clientSecret)
	}
	if _, err := p.client.RevokeToken(ctx, in); err != nil {
		return fmt.Errorf("failed to revoke session: %w", mapError(err))
	}
	return nil
}

// SignUp registers a new account in the user pool
func (p *Provider) SignUp(ctx context.Context, details idp.SignUpDetails) (idp.NextStep, error) {
	attrs := []types.AttributeType{
		{Name: aws.String("email"), Value: aws.String(details.Email)},
	}
	if details.Name != "" {
		attrs = append(attrs, types.AttributeType{Name: aws.String("name"), Value: aws.String(details.Name)})
	}

	in := &cognitoidentityprovider.SignUpInput{
		ClientId:       aws.String(p.clientID),
		Username:       aws.String(details.Email),
		Password:       aws.String(details.Password),
		UserAttributes: attrs,
	}
	if hash := p.secretHash(details.Email); hash != "" {
		in.SecretHash = aws.String(hash)
	}

	out, err := p.client.SignUp(ctx, in)
	if err != nil {
		return "", mapError(err)
	}
	if out.UserConfirmed {
		return idp.StepDone, nil
	}
	return idp.StepConfirmSignUp, nil
}

// ConfirmSignUp completes registration with the emailed code
func (p *Provider) ConfirmSignUp(ctx context.Context, username, code string) error {
	in := &cognitoidentityprovider.ConfirmSignUpInput{
		ClientId:         aws.String(p.clientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
	}
	if hash := p.secretHash(username); hash != "" {
		in.SecretHash = aws.String(hash)
	}
	if _, err := p.client.ConfirmSignUp(ctx, in); err != nil {
		return mapError(err)
	}
	return nil
}

// ResendCode requests a fresh confirmation code
func (p *Provider) ResendCode(ctx context.Context, username string) error {
	in := &cognitoidentityprovider.ResendConfirmationCodeInput{
		ClientId: aws.String(p.clientID),
		Username: aws.String(username),
	}
	if hash := p.secretHash(username); hash != "" {
		in.SecretHash = aws.String(hash)
	}
	if _, err := p.client.ResendConfirmationCode(ctx, in); err != nil {
		return mapError(err)
	}
	return nil
}

// ResetPassword starts the forgot-password flow
func (p *Provider) ResetPassword(ctx context.Context, username string) error {
	in := &cognitoidentityprovider.ForgotPasswordInput{
		ClientId: aws.String(p.clientID),
		Username: aws.String(username),
	}
	if hash := p.secretHash(username); hash != "" {
		in.SecretHash = aws.String(hash)
	}
	if _, err := p.client.ForgotPassword(ctx, in); err != nil {
		return mapError(err)
	}
	return nil
}

// ConfirmResetPassword completes the forgot-password flow
func (p *Provider) ConfirmResetPassword(ctx context.Context, username, code, newPassword string) error {
	in := &cognitoidentityprovider.ConfirmForgotPasswordInput{
		ClientId:         aws.String(p.clientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
		Password:         aws.String(newPassword),
	}
	if hash := p.secretHash(username); hash != "" {
		in.SecretHash = aws.String(hash)
	}
	if _, err := p.client.ConfirmForgotPassword(ctx, in); err != nil {
		return mapError(err)
	}
	return nil
}

// FetchIdentity returns the current user, refreshing tokens if needed
func (p *Provider) FetchIdentity(ctx context.Context) (*idp.Identity, error) {
	tokens, err := p.FetchSession(ctx, false)
	if err != nil {
		return nil, err
	}

	out, err := p.client.GetUser(ctx, &cognitoidentityprovider.GetUserInput{
		AccessToken: aws.String(tokens.AccessToken),
	})
	if err != nil {
		var notAuth *types.NotAuthorizedException
		if errors.As(err, &notAuth) {
			// Access token revoked server-side; refresh once and retry
			tokens, err = p.FetchSession(ctx, true)
			if err != nil {
				return nil, err
			}
			out, err = p.client.GetUser(ctx, &cognitoidentityprovider.GetUserInput{
				AccessToken: aws.String(tokens.AccessToken),
			})
		}
		if err != nil {
			return nil, mapError(err)
		}
	}

	ident := &idp.Identity{
		Username:   aws.ToString(out.Username),
		Attributes: make(map[string]string, len(out.UserAttributes)),
	}
	for _, attr := range out.UserAttributes {
		name, value := aws.ToString(attr.Name), aws.ToString(attr.Value)
		ident.Attributes[name] = value
		switch name {
		case "email":
			ident.Email = value
		case "name":
			ident.Name = value
		}
	}
	if groups, err := claims.Groups(tokens.AccessToken); err == nil {
		ident.Groups = groups
	}

	// Refresh requests authenticate the secret hash with the user's sub,
	// not the sign-in alias, so rewrite the stored username once known.
	if sub := ident.Attributes["sub"]; sub != "" {
		p.adoptUsername(sub)
	}

	return ident, nil
}

// FetchSession returns the current token set, using the REFRESH_TOKEN_AUTH
// flow when forced or expired. Cognito keeps the refresh token stable.
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

	params := map[string]string{"REFRESH_TOKEN": refresh}
	if hash := p.secretHash(username); hash != "" {
		params["SECRET_HASH"] = hash
	}

	out, err := p.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(p.clientID),
		AuthParameters: params,
	})
	if err != nil {
		var notAuth *types.NotAuthorizedException
		if errors.As(err, &notAuth) {
			// Refresh token revoked or expired: drop the dead session
			p.current = idp.Tokens{}
			p.username = ""
			_ = p.tokens.Delete(storeKey)
			return idp.Tokens{}, fmt.Errorf("session expired: %w", idp.ErrNotSignedIn)
		}
		return idp.Tokens{}, mapError(err)
	}
	if out.AuthenticationResult == nil {
		return idp.Tokens{}, fmt.Errorf("refresh returned no credentials")
	}

	p.setResultLocked(username, out.AuthenticationResult, refresh)
	return p.current, nil
}

// storeResult records a fresh credential set under the given username
func (p *Provider) storeResult(username string, result *types.AuthenticationResultType, previousRefresh string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setResultLocked(username, result, previousRefresh)
}

func (p *Provider) setResultLocked(username string, result *types.AuthenticationResultType, previousRefresh string) {
	access := aws.ToString(result.AccessToken)
	refresh := aws.ToString(result.RefreshToken)
	if refresh == "" {
		refresh = previousRefresh
	}

	expiry, err := claims.Expiry(access)
	if err != nil && result.ExpiresIn > 0 {
		expiry = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}

	p.username = username
	p.current = idp.Tokens{
		AccessToken:  access,
		IDToken:      aws.ToString(result.IdToken),
		RefreshToken: refresh,
		ExpiresAt:    expiry,
	}

	err = tokenstore.SaveRecord(p.tokens, storeKey, tokenstore.Record{
		Username:     username,
		RefreshToken: refresh,
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to persist session; sign-in will not survive restart")
	}
}

// adoptUsername rewrites the refresh identity once the pool's canonical
// username is known
func (p *Provider) adoptUsername(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.username == username || p.current.RefreshToken == "" {
		return
	}
	p.username = username
	err := tokenstore.SaveRecord(p.tokens, storeKey, tokenstore.Record{
		Username:     username,
		RefreshToken: p.current.RefreshToken,
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to update stored session")
	}
}

// secretHash computes base64(HMAC-SHA256(username + clientID)) keyed with
// the app client secret. Pools without a secret skip the parameter.
func (p *Provider) secretHash(username string) string {
	if p.clientSecret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(p.clientSecret))
	mac.Write([]byte(username + p.clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// challengeStep maps a Cognito challenge onto the flow steps
func challengeStep(name types.ChallengeNameType) idp.NextStep {
	switch name {
	case types.ChallengeNameTypeNewPasswordRequired:
		return idp.StepNewPasswordRequired
	default:
		return idp.NextStep(name)
	}
}

// mapError translates Cognito API errors onto the provider error kinds
func mapError(err error) error {
	var (
		notAuth      *types.NotAuthorizedException
		notFound     *types.UserNotFoundException
		notConfirmed *types.UserNotConfirmedException
		tooMany      *types.TooManyRequestsException
		limit        *types.LimitExceededException
		codeMismatch *types.CodeMismatchException
		expiredCode  *types.ExpiredCodeException
	)
	switch {
	case errors.As(err, &notAuth):
		return fmt.Errorf("%s: %w", notAuth.ErrorMessage(), idp.ErrInvalidCredentials)
	case errors.As(err, &notFound):
		return fmt.Errorf("%s: %w", notFound.ErrorMessage(), idp.ErrUserNotFound)
	case errors.As(err, &notConfirmed):
		return fmt.Errorf("%s: %w", notConfirmed.ErrorMessage(), idp.ErrUserNotConfirmed)
	case errors.As(err, &tooMany):
		return fmt.Errorf("%s: %w", tooMany.ErrorMessage(), idp.ErrTooManyAttempts)
	case errors.As(err, &limit):
		return fmt.Errorf("%s: %w", limit.ErrorMessage(), idp.ErrTooManyAttempts)
	case errors.As(err, &codeMismatch):
		return fmt.Errorf("%s: %w", codeMismatch.ErrorMessage(), idp.ErrCodeMismatch)
	case errors.As(err, &expiredCode):
		return fmt.Errorf("%s: %w", expiredCode.ErrorMessage(), idp.ErrCodeMismatch)
	default:
		return err
	}
}
