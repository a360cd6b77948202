package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/campfire-client/internal/log"
)

// maxResponseBytes caps how much of a response body is read into memory.
const maxResponseBytes = 32 << 20

const userAgent = "campfire-client (github.com/vovakirdan/campfire-client)"

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the account URL, e.g. "https://acme.campfirenow.com".
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger receives request-level debug logs. If nil, logging is disabled.
	Logger *zerolog.Logger
}

// Client performs JSON requests against the service's REST API.
// It holds no credentials; each call supplies its own.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zerolog.Logger
}

// NewClient validates the config and builds a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("api: BaseURL is required")
	}
	parsed, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("api: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("api: BaseURL %q must be http or https", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		log:        log.OrNop(config.Logger),
	}, nil
}

// BaseURL returns the account URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends a request with an optional JSON body and decodes the JSON response into out.
// Either body or out may be nil. Whitespace-only responses are treated as empty.
func (c *Client) Do(ctx context.Context, method, path string, creds Credentials, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("api: create request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return c.send(request, creds, out)
}

// DoMultipart posts a single file as multipart/form-data under field.
func (c *Client) DoMultipart(ctx context.Context, path string, creds Credentials, field, filename, contentType string, content io.Reader, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("api: create multipart part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("api: copy upload content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("api: close multipart writer: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("api: create request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return c.send(request, creds, out)
}

func (c *Client) send(request *http.Request, creds Credentials, out any) error {
	request.Header.Set("User-Agent", userAgent)
	request.Header.Set("Accept", "application/json")
	if creds != nil {
		creds.Authorize(request)
	}

	method, path := request.Method, request.URL.RequestURI()
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("api: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("api: read response body: %w", err)
	}
	responseBody = bytes.TrimSpace(responseBody)

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", response.StatusCode).
		Msg("api request")

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &Error{
			Method:     method,
			Path:       path,
			StatusCode: response.StatusCode,
			Body:       string(responseBody),
		}
	}

	if out == nil || len(responseBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("api: decode response from %s %s: %w", method, path, err)
	}
	return nil
}
