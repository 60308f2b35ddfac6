// Package httpx is a thin call-and-decode helper for JSON HTTP endpoints.
// It has no retry or caching; callers (watcher tasks) retry on their next tick.
package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"watchbot/internal/jsoncodec"
)

const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a non-2xx body is quoted in errors.
const maxErrorBody = 512

type Client struct {
	hc        *http.Client
	userAgent string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.hc.Timeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = strings.TrimSpace(ua) }
}

func New(opts ...Option) *Client {
	c := &Client{hc: &http.Client{Timeout: DefaultTimeout}, userAgent: "watchbot"}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch GETs url and decodes the JSON body into T.
func Fetch[T any](ctx context.Context, c *Client, url string) (T, error) {
	var out T
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return out, fmt.Errorf("build GET request for %s: %w", url, err)
	}
	return do[T](c, req)
}

// PostJSON POSTs payload as JSON to url and decodes the JSON response into T.
func PostJSON[T any](ctx context.Context, c *Client, url string, payload any) (T, error) {
	var out T
	body, err := jsoncodec.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("encode payload for %s: %w", url, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("build POST request for %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do[T](c, req)
}

// GetText GETs url and returns the body as a string.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build GET request for %s: %w", url, err)
	}
	resp, err := c.send(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response from %s: %w", url, err)
	}
	return string(b), nil
}

func do[T any](c *Client, req *http.Request) (T, error) {
	var out T
	req.Header.Set("Accept", "application/json")
	resp, err := c.send(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if err := jsoncodec.Decode(resp.Body, &out); err != nil {
		return out, fmt.Errorf("parse response from %s as %T: %w", req.URL, out, err)
	}
	return out, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send %s request to %s: %w", req.Method, req.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, &StatusError{Method: req.Method, URL: req.URL.String(), Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Code, e.Body)
}
