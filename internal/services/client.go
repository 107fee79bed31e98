package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/crawlctl/internal/shared"
)

const (
	DefaultOrigin  = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second
	apiPrefix      = "/api"
)

// CredentialStore holds the session credential between calls.
type CredentialStore interface {
	Token() (string, error)
	SetToken(token string) error
	ClearToken() error
}

// MemoryCredentials is a process-local [CredentialStore].
type MemoryCredentials struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryCredentials(token string) *MemoryCredentials {
	return &MemoryCredentials{token: token}
}

func (m *MemoryCredentials) Token() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, nil
}

func (m *MemoryCredentials) SetToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryCredentials) ClearToken() error {
	return m.SetToken("")
}

// Hooks are the central reactions to authorization failures. Either may be nil.
type Hooks struct {
	// OnUnauthorized runs after the credential has been cleared because of a 401.
	OnUnauthorized func(path string)
	// OnForbidden runs on a 403 from an admin endpoint.
	OnForbidden func(path string)
}

// Options configures a [Client].
type Options struct {
	Origin      string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Credentials CredentialStore
	Hooks       Hooks
	Logger      *log.Logger
}

// Client is the REST accessor for the platform.
type Client struct {
	origin     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	creds      CredentialStore
	hooks      Hooks
	logger     *log.Logger
}

// NewClient creates a client. Empty options fall back to a local origin, a 30s timeout,
// [http.DefaultClient] and in-memory credentials.
func NewClient(opts Options) *Client {
	origin := strings.TrimRight(strings.TrimSpace(opts.Origin), "/")
	origin = strings.TrimSuffix(origin, apiPrefix)
	if origin == "" {
		origin = DefaultOrigin
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Credentials == nil {
		opts.Credentials = NewMemoryCredentials("")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		origin:     origin,
		baseURL:    origin + apiPrefix,
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		creds:      opts.Credentials,
		hooks:      opts.Hooks,
		logger:     logger.With("component", "api"),
	}
}

// Origin returns the platform origin the client talks to, without the /api prefix.
func (c *Client) Origin() string { return c.origin }

// Credentials returns the store the client reads its bearer token from.
func (c *Client) Credentials() CredentialStore { return c.creds }

// SetHooks replaces the authorization hooks.
func (c *Client) SetHooks(h Hooks) { c.hooks = h }

// Token returns the current bearer credential, or "" when none is stored.
func (c *Client) Token() string {
	tok, err := c.creds.Token()
	if err != nil {
		c.logger.Warn("failed to read credential", "error", err)
		return ""
	}
	return tok
}

// Response is a raw API response with its status and body.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// send performs one request and returns the raw response. Non-2xx statuses are returned as [*APIError]
// alongside the response.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", shared.GenerateID())
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s %s after %s", shared.ErrTimeout, method, path, c.timeout)
		}
		return nil, fmt.Errorf("%w: %s %s: %v", shared.ErrAPIRequest, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", shared.ErrAPIRequest, err)
	}

	out := &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}
	var jsonData any
	if err := json.Unmarshal(data, &jsonData); err == nil {
		out.IsJSON = true
		out.JSONData = jsonData
	}

	c.logger.Debug("request", "method", method, "path", path, "status", resp.StatusCode, "request_id", req.Header.Get("X-Request-ID"))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, data),
			Method:     method,
			Path:       path,
		}
		c.handleAuthFailure(apiErr)
		return out, apiErr
	}
	return out, nil
}

// do performs a request and decodes a successful JSON body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s %s response: %v", shared.ErrAPIRequest, method, path, err)
	}
	return nil
}

func (c *Client) handleAuthFailure(e *APIError) {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		if e.Path == "/auth/login" || e.Path == "/auth/register" {
			return
		}
		if err := c.creds.ClearToken(); err != nil {
			c.logger.Error("failed to clear credential", "error", err)
		}
		c.logger.Warn("session rejected, credential cleared", "path", e.Path)
		if c.hooks.OnUnauthorized != nil {
			c.hooks.OnUnauthorized(e.Path)
		}
	case http.StatusForbidden:
		if !strings.HasPrefix(e.Path, "/admin") {
			return
		}
		c.logger.Warn("admin access denied", "path", e.Path)
		if c.hooks.OnForbidden != nil {
			c.hooks.OnForbidden(e.Path)
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Get performs a GET request to path (relative to /api) and returns the raw response.
// Unlike the endpoint methods, error statuses are reported through the response, not as an error.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.raw(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with the given JSON body and returns the raw response.
func (c *Client) Post(ctx context.Context, path string, data []byte) (*Response, error) {
	return c.raw(ctx, http.MethodPost, path, data)
}

func (c *Client) raw(ctx context.Context, method, path string, data []byte) (*Response, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	path = strings.TrimPrefix(path, apiPrefix)

	var body any
	if data != nil {
		body = data
	}
	resp, err := c.send(ctx, method, path, nil, body)
	var apiErr *APIError
	if errors.As(err, &apiErr) && resp != nil {
		return resp, nil
	}
	return resp, err
}
