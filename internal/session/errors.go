package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConflictingCredentials is returned when both an API token and an OAuth token are configured.
	ErrConflictingCredentials = errors.New("session: token and oauth token are mutually exclusive")
	// ErrNoCredentials is returned when neither a token nor a username/password pair is configured.
	ErrNoCredentials = errors.New("session: a token, an oauth token, or username and password are required")

	errMissingToken = errors.New("response has no user.api_auth_token")
)

// AuthResolutionError reports that the account's API token could not be looked up.
// It is cached: every later call on the same Session returns the same error.
type AuthResolutionError struct {
	Err error
}

func (e *AuthResolutionError) Error() string {
	return fmt.Sprintf("session: resolve api token: %v", e.Err)
}

func (e *AuthResolutionError) Unwrap() error {
	return e.Err
}
