// Package claims reads values out of provider-issued JWTs without
// verifying signatures. Verification is the backend's job; the client
// only needs the expiry for scheduling and the groups for role checks.
package claims

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// groupsClaims lists the claim names checked for group membership,
// in priority order. Cognito uses the namespaced form.
var groupsClaims = []string{"cognito:groups", "groups"}

// Expiry returns the exp claim of the token
func Expiry(token string) (time.Time, error) {
	claims, err := parse(token)
	if err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no usable exp claim")
	}
	return exp.Time, nil
}

// Groups returns the group memberships embedded in the token.
// Tokens without a groups claim yield an empty list, not an error.
func Groups(token string) ([]string, error) {
	claims, err := parse(token)
	if err != nil {
		return nil, err
	}

	for _, name := range groupsClaims {
		raw, ok := claims[name]
		if !ok {
			continue
		}
		list, ok := raw.([]interface{})
		if !ok {
			continue
		}
		groups := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				groups = append(groups, s)
			}
		}
		return groups, nil
	}
	return nil, nil
}

// Username returns the username claim of the token, falling back
// to the Cognito claim and then to sub.
func Username(token string) (string, error) {
	claims, err := parse(token)
	if err != nil {
		return "", err
	}

	if s, ok := claims["username"].(string); ok && s != "" {
		return s, nil
	}
	if s, ok := claims["cognito:username"].(string); ok && s != "" {
		return s, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no username claim")
	}
	return sub, nil
}

func parse(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims, nil
}
