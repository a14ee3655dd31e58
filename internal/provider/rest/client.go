// Package rest is the JSON-over-HTTP client shared by the remote providers.
//
// Every failure is returned as a *syncerr.Error of KindProvider. Network
// errors, HTTP 429 and 5xx responses are transient; any other status is
// not. Response bodies are decoded with UseNumber so integer identifiers
// survive the round trip.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/roach88/itemsync/internal/syncerr"
)

const maxErrorBody = 512

// Client sends JSON requests to one base URL.
type Client struct {
	provider string
	base     *url.URL
	http     *http.Client
	auth     func(*http.Request)
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithBasicAuth authenticates every request with HTTP basic auth.
func WithBasicAuth(user, password string) Option {
	return func(c *Client) {
		c.auth = func(r *http.Request) { r.SetBasicAuth(user, password) }
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for baseURL. provider names the owning provider in
// errors.
func New(provider, baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, syncerr.Configuration("E110", "provider %q: invalid url %q", provider, baseURL)
	}
	c := &Client{
		provider: provider,
		base:     u,
		http:     &http.Client{Timeout: 60 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Request describes one call.
type Request struct {
	Method      string
	Path        string // joined to the base URL
	Query       url.Values
	Body        any
	ContentType string // defaults to application/json
}

// Do sends req and decodes a JSON response into out when out is non-nil.
func (c *Client) Do(ctx context.Context, op string, req Request, out any) error {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(req.Path, "/")
	if req.Query != nil {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return syncerr.Provider(c.provider, op, false, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	hr, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return syncerr.Provider(c.provider, op, false, err)
	}
	hr.Header.Set("Accept", "application/json")
	if req.Body != nil {
		ct := req.ContentType
		if ct == "" {
			ct = "application/json"
		}
		hr.Header.Set("Content-Type", ct)
	}
	if c.auth != nil {
		c.auth(hr)
	}

	start := time.Now()
	resp, err := c.http.Do(hr)
	if err != nil {
		return c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("provider request",
		"provider", c.provider,
		"op", op,
		"method", req.Method,
		"path", u.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return StatusError(c.provider, op, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return syncerr.Provider(c.provider, op, false, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// transportError classifies a failure that produced no HTTP response.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return syncerr.Provider(c.provider, op, false, ctx.Err())
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		e := StatusError(c.provider, op, re.Response.StatusCode, "token request failed")
		e.Err = err
		return e
	}
	return syncerr.Provider(c.provider, op, true, err)
}

// StatusError builds the error for a non-success HTTP status.
func StatusError(provider, op string, status int, body string) *syncerr.Error {
	e := &syncerr.Error{
		Kind:      syncerr.KindProvider,
		Op:        op,
		Provider:  provider,
		Code:      statusCode(status),
		Transient: status == http.StatusTooManyRequests || status >= 500,
		Message:   fmt.Sprintf("HTTP %d", status),
	}
	if body != "" {
		e.Message += ": " + body
	}
	return e
}

func statusCode(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "NOT_FOUND"
	case status == http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "UNAUTHORIZED"
	case status >= 500:
		return "UNAVAILABLE"
	default:
		return fmt.Sprintf("HTTP_%d", status)
	}
}
