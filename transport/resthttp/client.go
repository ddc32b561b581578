// Package resthttp implements the teamsync.RemoteStore interface against a
// hosted PostgREST-style backend: row CRUD over HTTP with the failure
// signaled exclusively through the response status.
package resthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pitchside/teamsync"
	syncErrors "github.com/pitchside/teamsync/errors"
	"github.com/pitchside/teamsync/logging"
)

// Limits defines response size limits for the client
type Limits struct {
	MaxBodyBytes int64 // Maximum response body size in bytes
}

// Client talks to the remote store's REST surface. Each call resolves to
// rows or an error; a non-2xx status is the sole failure signal.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limits  Limits
	logger  *logging.Logger
}

// Compile-time check to ensure Client satisfies the RemoteStore interface
var _ teamsync.RemoteStore = (*Client)(nil)

// ClientOption configures a Client using the functional options pattern
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) { c.http = cl }
}

// WithAPIKey sets the backend API key sent on every request
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithLimits sets the response size limits
func WithLimits(l Limits) ClientOption {
	return func(c *Client) { c.limits = l }
}

// WithClientLogger sets a custom logger
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a remote store client for the given base URL,
// e.g. "https://project.example.co/rest/v1".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limits: Limits{
			MaxBodyBytes: 8 << 20, // 8MB
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = logging.WithComponent(logging.Component("remote"))
	}

	return c
}

// BaseURL returns the base URL for the client
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Insert creates a row in the named table using data verbatim.
func (c *Client) Insert(ctx context.Context, table string, data teamsync.Record) error {
	c.logger.Debug("insert", slog.String("table", table))

	payload, err := json.Marshal(data)
	if err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpReplay, "remote", fmt.Errorf("failed to marshal row: %w", err))
	}

	return c.exec(ctx, http.MethodPost, c.tableURL(table, nil), payload)
}

// Update patches the row with the given id.
func (c *Client) Update(ctx context.Context, table, id string, patch teamsync.Record) error {
	c.logger.Debug("update", slog.String("table", table), slog.String("id", id))

	payload, err := json.Marshal(patch)
	if err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpReplay, "remote", fmt.Errorf("failed to marshal patch: %w", err))
	}

	query := url.Values{"id": {"eq." + id}}
	return c.exec(ctx, http.MethodPatch, c.tableURL(table, query), payload)
}

// Delete removes the row with the given id.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	c.logger.Debug("delete", slog.String("table", table), slog.String("id", id))

	query := url.Values{"id": {"eq." + id}}
	return c.exec(ctx, http.MethodDelete, c.tableURL(table, query), nil)
}

// Select fetches rows from a table. A non-empty updatedAfter restricts the
// result to rows with updated_at strictly greater than that instant.
func (c *Client) Select(ctx context.Context, table, updatedAfter string) ([]teamsync.Record, error) {
	query := url.Values{"select": {"*"}}
	if updatedAfter != "" {
		query.Set("updated_at", "gt."+updatedAfter)
	}

	reqURL := c.tableURL(table, query)
	c.logger.Debug("select", slog.String("table", table), slog.String("updated_after", updatedAfter))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpPull, "remote", fmt.Errorf("failed to create request: %w", err))
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpPull, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, c.limits.MaxBodyBytes))
		c.logger.Error("select returned error status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("table", table),
		)
		return nil, c.statusError(syncErrors.OpPull, resp.StatusCode, body)
	}

	var rows []teamsync.Record
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.limits.MaxBodyBytes)).Decode(&rows); err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpPull, "remote", fmt.Errorf("failed to decode response: %w", err))
	}

	c.logger.Debug("select completed", slog.String("table", table), slog.Int("row_count", len(rows)))
	return rows, nil
}

// Close does nothing for this client, as the underlying http.Client is
// managed externally.
func (c *Client) Close() error {
	return nil
}

func (c *Client) tableURL(table string, query url.Values) string {
	u := c.baseURL + "/" + url.PathEscape(table)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// exec performs a mutating request and maps the outcome to the error
// taxonomy: network errors and 5xx/429 are retryable, other statuses are not.
func (c *Client) exec(ctx context.Context, method, reqURL string, payload []byte) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpReplay, "remote", fmt.Errorf("failed to create request: %w", err))
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("request failed",
			slog.String("method", method),
			slog.String("url", reqURL),
			slog.String("error", err.Error()),
		)
		return syncErrors.NewNetworkError(syncErrors.OpReplay, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, c.limits.MaxBodyBytes))
		c.logger.Error("request returned error status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("method", method),
			slog.String("url", reqURL),
		)
		return c.statusError(syncErrors.OpReplay, resp.StatusCode, respBody)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.limits.MaxBodyBytes))
	return nil
}

func (c *Client) statusError(op syncErrors.Operation, status int, body []byte) error {
	err := fmt.Errorf("server error (status %d): %s", status, strings.TrimSpace(string(body)))
	if status >= 500 || status == http.StatusTooManyRequests {
		return syncErrors.NewRetryable(op, err)
	}
	return syncErrors.NewWithComponent(op, "remote", err)
}
