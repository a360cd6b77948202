// Package session holds the credentials of one account and performs every
// authenticated REST call for it. A password login is exchanged for the API
// token lazily, at most once per Session.
package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/campfire-client/internal/api"
	"github.com/vovakirdan/campfire-client/internal/log"
)

// DefaultHost is the service's public host name.
const DefaultHost = "campfirenow.com"

// tokenPassword is the password sent alongside an API token in basic auth.
const tokenPassword = "X"

// Mode is the credential scheme a Session authenticates with. It is fixed at construction.
type Mode int

const (
	// ModeToken authenticates with the API token over basic auth.
	ModeToken Mode = iota
	// ModeOAuth authenticates REST calls with an OAuth bearer token.
	ModeOAuth
)

func (m Mode) String() string {
	if m == ModeOAuth {
		return "oauth"
	}
	return "token"
}

// Config is the explicit client configuration for one account.
type Config struct {
	// Subdomain selects the account, e.g. "acme" for acme.campfirenow.com.
	Subdomain string
	// Host defaults to DefaultHost.
	Host string
	// DisableSSL switches both REST and streaming connections to plain HTTP.
	DisableSSL bool
	// BaseURL overrides the URL derived from Subdomain, Host and DisableSSL.
	BaseURL string
	// StreamHost overrides "streaming." + Host.
	StreamHost string

	// Token is the account's API token. Mutually exclusive with OAuthToken.
	Token string
	// OAuthToken is an OAuth access token sent as a bearer credential.
	OAuthToken string
	// Username and Password are used once to look up the API token when Token is empty.
	Username string
	Password string

	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Session holds the resolved credential for one account and performs
// authenticated REST calls with it. It is safe for concurrent use and is
// shared read-only by every Room built from it.
type Session struct {
	client     *api.Client
	mode       Mode
	oauthToken string
	username   string
	password   string
	streamHost string
	ssl        bool
	log        *zerolog.Logger

	mu         sync.Mutex
	resolved   bool
	token      string
	resolveErr error
}

// New builds a Session. A supplied Token counts as already resolved.
func New(cfg Config) (*Session, error) {
	if cfg.Token != "" && cfg.OAuthToken != "" {
		return nil, ErrConflictingCredentials
	}
	if cfg.Token == "" && cfg.OAuthToken == "" && (cfg.Username == "" || cfg.Password == "") {
		return nil, ErrNoCredentials
	}

	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Subdomain == "" {
			return nil, fmt.Errorf("session: subdomain is required")
		}
		scheme := "https"
		if cfg.DisableSSL {
			scheme = "http"
		}
		baseURL = scheme + "://" + cfg.Subdomain + "." + host
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("session: invalid base url %q: %w", baseURL, err)
	}

	logger := log.OrNop(cfg.Logger)
	client, err := api.NewClient(api.ClientConfig{
		BaseURL:    baseURL,
		HTTPClient: cfg.HTTPClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	streamHost := cfg.StreamHost
	if streamHost == "" {
		streamHost = "streaming." + host
	}

	s := &Session{
		client:     client,
		oauthToken: cfg.OAuthToken,
		username:   cfg.Username,
		password:   cfg.Password,
		streamHost: streamHost,
		ssl:        parsed.Scheme == "https",
		log:        logger,
	}
	if cfg.OAuthToken != "" {
		s.mode = ModeOAuth
	}
	if cfg.Token != "" {
		s.resolved = true
		s.token = cfg.Token
	}
	return s, nil
}

// Mode returns the credential scheme chosen at construction.
func (s *Session) Mode() Mode { return s.mode }

// BaseURL returns the account URL, e.g. "https://acme.campfirenow.com".
func (s *Session) BaseURL() string { return s.client.BaseURL() }

// StreamHost returns the host serving live room streams.
func (s *Session) StreamHost() string { return s.streamHost }

// SSL reports whether connections use TLS.
func (s *Session) SSL() bool { return s.ssl }

// ResolveCredential returns the account's API token, looking it up with a
// single GET /users/me.json the first time it is needed. The lookup
// authenticates with the OAuth bearer token in OAuth mode and with the
// configured username and password otherwise. Concurrent callers share the one
// lookup, and its outcome, success or failure, is kept for the Session's lifetime.
func (s *Session) ResolveCredential(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		return s.token, s.resolveErr
	}
	s.resolved = true

	var creds api.Credentials = api.Basic{Username: s.username, Password: s.password}
	if s.mode == ModeOAuth {
		creds = api.Bearer(s.oauthToken)
	}

	var response struct {
		User struct {
			APIAuthToken string `json:"api_auth_token"`
		} `json:"user"`
	}
	if err := s.client.Do(ctx, http.MethodGet, "/users/me.json", creds, nil, &response); err != nil {
		s.resolveErr = &AuthResolutionError{Err: err}
		return "", s.resolveErr
	}
	if response.User.APIAuthToken == "" {
		s.resolveErr = &AuthResolutionError{Err: errMissingToken}
		return "", s.resolveErr
	}

	s.token = response.User.APIAuthToken
	s.log.Debug().Str("mode", s.mode.String()).Msg("resolved api token")
	return s.token, nil
}

// BasicAuthMaterial returns the username/password pair for transports that
// only speak HTTP basic auth. The streaming endpoint authenticates this way
// even when REST calls use a bearer token.
func (s *Session) BasicAuthMaterial(ctx context.Context) (username, password string, err error) {
	token, err := s.ResolveCredential(ctx)
	if err != nil {
		return "", "", err
	}
	return token, tokenPassword, nil
}

func (s *Session) credentials(ctx context.Context) (api.Credentials, error) {
	if s.mode == ModeOAuth {
		return api.Bearer(s.oauthToken), nil
	}
	token, err := s.ResolveCredential(ctx)
	if err != nil {
		return nil, err
	}
	return api.Basic{Username: token, Password: tokenPassword}, nil
}

// Get performs an authenticated GET and decodes the JSON response into out.
func (s *Session) Get(ctx context.Context, path string, out any) error {
	return s.do(ctx, http.MethodGet, path, nil, out)
}

// Post performs an authenticated POST with an optional JSON body.
func (s *Session) Post(ctx context.Context, path string, body, out any) error {
	return s.do(ctx, http.MethodPost, path, body, out)
}

// Put performs an authenticated PUT with a JSON body.
func (s *Session) Put(ctx context.Context, path string, body, out any) error {
	return s.do(ctx, http.MethodPut, path, body, out)
}

// PostMultipart uploads content as a multipart form field.
func (s *Session) PostMultipart(ctx context.Context, path, field, filename, contentType string, content io.Reader, out any) error {
	creds, err := s.credentials(ctx)
	if err != nil {
		return err
	}
	return s.client.DoMultipart(ctx, path, creds, field, filename, contentType, content, out)
}

func (s *Session) do(ctx context.Context, method, path string, body, out any) error {
	creds, err := s.credentials(ctx)
	if err != nil {
		return err
	}
	return s.client.Do(ctx, method, path, creds, body, out)
}
