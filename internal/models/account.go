package models

import (
	"errors"
	"strings"
)

// Account is a registered user as reported by the remote.
type Account struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Registration holds the fields for creating a new account.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks that the registration has valid field values.
func (r *Registration) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return errors.New("username is required")
	}

	if !strings.Contains(r.Email, "@") {
		return errors.New("email must be a valid address")
	}

	if r.Password == "" {
		return errors.New("password is required")
	}

	return nil
}

// SignIn holds the credentials exchanged for an access token.
type SignIn struct {
	Username string
	Password string
}

// Validate checks that both username and password are present.
func (s *SignIn) Validate() error {
	if strings.TrimSpace(s.Username) == "" {
		return errors.New("username is required")
	}

	if s.Password == "" {
		return errors.New("password is required")
	}

	return nil
}

// AccessToken is the remote's response to a successful sign-in.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
