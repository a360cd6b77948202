package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthenticationFailed is matched by every *Error carrying a 401 status.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Error is a non-2xx response from the service.
// Callers can use errors.As to get at the status code:
//
//	var apiErr *api.Error
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound { ... }
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap lets errors.Is(err, ErrAuthenticationFailed) see through 401s.
func (e *Error) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrAuthenticationFailed
	}
	return nil
}

// IsStatus reports whether err is an *Error with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == status
	}
	return false
}
