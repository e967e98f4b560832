// Package credential holds the session's bearer token.
package credential

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is an opaque bearer token issued by the remote.
type Credential string

// String keeps the token out of logs.
func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "[redacted]"
}

// Token returns the raw token for the Authorization header.
func (c Credential) Token() string {
	return string(c)
}

// Subject returns the token's "sub" claim without verifying the signature.
// It is meant for display only and must never be used for access decisions.
func (c Credential) Subject() (string, error) {
	if c == "" {
		return "", errors.New("empty credential")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(string(c), claims); err != nil {
		return "", err
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}
