package api

import "net/http"

// Credentials decorates an outgoing request with authentication.
type Credentials interface {
	Authorize(request *http.Request)
}

// Basic is HTTP basic authentication. API tokens travel as the username
// with a throwaway password.
type Basic struct {
	Username string
	Password string
}

// Authorize sets the basic auth header.
func (b Basic) Authorize(request *http.Request) {
	request.SetBasicAuth(b.Username, b.Password)
}

// Bearer is an OAuth access token.
type Bearer string

// Authorize sets the bearer auth header.
func (b Bearer) Authorize(request *http.Request) {
	request.Header.Set("Authorization", "Bearer "+string(b))
}
