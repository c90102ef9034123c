// Package api is the thin HTTP client for the Noto backend's visitor and
// health endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"noto/internal/version"
)

const defaultTimeout = 5 * time.Second

// ErrUnsuccessful is returned when the backend answers 2xx with success=false.
var ErrUnsuccessful = errors.New("backend reported success=false")

// Paths holds the endpoint paths appended to the base URL.
type Paths struct {
	Health       string
	SessionStart string
	SessionPing  string
	ActiveUsers  string
}

// DefaultPaths are the routes served by the Noto backend.
func DefaultPaths() Paths {
	return Paths{
		Health:       "/api/health",
		SessionStart: "/api/visitors/session",
		SessionPing:  "/api/visitors/ping",
		ActiveUsers:  "/api/visitors/active",
	}
}

// StatusError carries a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

type sessionStartRequest struct {
	SessionID string `json:"sessionId"`
	Page      string `json:"page"`
}

type sessionPingRequest struct {
	SessionID string `json:"sessionId"`
}

type activeUsersResponse struct {
	Success     bool `json:"success"`
	ActiveUsers int  `json:"activeUsers"`
}

// Client talks to one backend.
type Client struct {
	baseURL string
	paths   Paths
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client (its Timeout is kept as is).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d, Transport: c.http.Transport}
		}
	}
}

// WithPaths overrides endpoint paths; empty fields keep the defaults.
func WithPaths(p Paths) Option {
	return func(c *Client) {
		if p.Health != "" {
			c.paths.Health = p.Health
		}
		if p.SessionStart != "" {
			c.paths.SessionStart = p.SessionStart
		}
		if p.SessionPing != "" {
			c.paths.SessionPing = p.SessionPing
		}
		if p.ActiveUsers != "" {
			c.paths.ActiveUsers = p.ActiveUsers
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		paths:   DefaultPaths(),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HealthURL is the keep-alive target.
func (c *Client) HealthURL() string {
	return c.endpoint(c.paths.Health)
}

// StartSession registers a new visitor session for page.
func (c *Client) StartSession(ctx context.Context, sessionID, page string) error {
	payload := sessionStartRequest{SessionID: sessionID, Page: page}
	return errors.Wrap(c.doJSON(ctx, http.MethodPost, c.paths.SessionStart, payload, nil), "start session")
}

// PingSession marks sessionID as alive.
func (c *Client) PingSession(ctx context.Context, sessionID string) error {
	payload := sessionPingRequest{SessionID: sessionID}
	return errors.Wrap(c.doJSON(ctx, http.MethodPost, c.paths.SessionPing, payload, nil), "ping session")
}

// ActiveUsers fetches the aggregate active-user count.
func (c *Client) ActiveUsers(ctx context.Context) (int, error) {
	var resp activeUsersResponse
	if err := c.doJSON(ctx, http.MethodGet, c.paths.ActiveUsers, nil, &resp); err != nil {
		return 0, errors.Wrap(err, "active users")
	}
	if !resp.Success {
		return 0, ErrUnsuccessful
	}
	return resp.ActiveUsers, nil
}

func (c *Client) endpoint(path string) string {
	if path == "" {
		return c.baseURL
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Message: readResponseError(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	// chunked responses come without a length header, so read everything first
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(data, out)
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err == nil {
		for _, field := range []string{"error", "message"} {
			if msg, ok := parsed[field].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return strings.TrimSpace(string(data))
}
