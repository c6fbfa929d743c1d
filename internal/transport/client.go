// Package transport wraps HTTP calls to local inference backends and turns
// every result into a domain.Outcome. It never retries; retry policy belongs
// to callers.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"aihub/internal/domain"
)

// DefaultTimeout bounds a request when neither the client nor the request
// sets one.
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 64 << 10

var errDeadline = errors.New("transport deadline exceeded")

type Config struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// Client issues requests against one backend base URL.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    cfg.Client,
		logger:  cfg.Logger,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Timeout() time.Duration { return c.timeout }

// URL joins path onto the base URL.
func (c *Client) URL(path string) string {
	if path == "" || strings.HasPrefix(path, "/") {
		return c.baseURL + path
	}
	return c.baseURL + "/" + path
}

// Request is a pre-encoded call. Timeout overrides the client default.
type Request struct {
	Path        string
	Method      string
	Body        io.Reader
	ContentType string
	Headers     map[string]string
	Timeout     time.Duration
}

// Request marshals body as JSON (nil sends no body) and decodes the JSON
// response.
func (c *Client) Request(ctx context.Context, path, method string, body any, headers map[string]string) domain.Outcome[json.RawMessage] {
	req := Request{Path: path, Method: method, Headers: headers}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return domain.Failure[json.RawMessage](domain.ErrDecode, "encode request: %v", err)
		}
		req.Body = bytes.NewReader(data)
		req.ContentType = "application/json"
	}
	return c.Send(ctx, req)
}

// Send issues req and decodes the JSON response.
func (c *Client) Send(ctx context.Context, req Request) domain.Outcome[json.RawMessage] {
	return c.do(ctx, req, true)
}

// Ping issues a GET and only checks the status code. Used for probes whose
// endpoint does not answer with JSON.
func (c *Client) Ping(ctx context.Context, path string) domain.Outcome[domain.Unit] {
	out := c.do(ctx, Request{Path: path, Method: http.MethodGet}, false)
	if !out.OK {
		return domain.Recast[domain.Unit](out)
	}
	return domain.Success(domain.Unit{})
}

func (c *Client) do(ctx context.Context, req Request, decode bool) domain.Outcome[json.RawMessage] {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, errDeadline)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	url := c.URL(req.Path)

	httpReq, err := http.NewRequestWithContext(ctx, method, url, req.Body)
	if err != nil {
		return domain.Failure[json.RawMessage](domain.ErrNetwork, "build request: %v", err)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.classify(ctx, err, method, url, timeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("backend returned error status", "method", method, "url", url, "status", resp.StatusCode)
		return domain.Failure[json.RawMessage](domain.ErrHTTP, "%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.classify(ctx, err, method, url, timeout)
	}
	if !decode {
		return domain.Success[json.RawMessage](nil)
	}
	if !json.Valid(data) {
		return domain.Failure[json.RawMessage](domain.ErrDecode, "invalid JSON response from %s", req.Path)
	}
	return domain.Success(json.RawMessage(data))
}

func (c *Client) classify(ctx context.Context, err error, method, url string, timeout time.Duration) domain.Outcome[json.RawMessage] {
	if errors.Is(context.Cause(ctx), errDeadline) {
		c.logger.Warn("backend request timed out", "method", method, "url", url, "timeout", timeout)
		return domain.Failure[json.RawMessage](domain.ErrTimeout, "request timed out after %s", timeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.Failure[json.RawMessage](domain.ErrTimeout, "request timed out: %v", err)
	}
	c.logger.Debug("backend request failed", "method", method, "url", url, "err", err)
	return domain.Failure[json.RawMessage](domain.ErrNetwork, "%s %s: %v", method, url, rootCause(err))
}

// rootCause drops the `Get "url":` prefix net/http adds; callers log the URL.
func rootCause(err error) error {
	var urlErr *neturl.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}

// Decode unmarshals a successful JSON outcome into T.
func Decode[T any](o domain.Outcome[json.RawMessage]) domain.Outcome[T] {
	if !o.OK {
		return domain.Recast[T](o)
	}
	var v T
	if err := json.Unmarshal(o.Value, &v); err != nil {
		return domain.Failure[T](domain.ErrDecode, "decode response: %v", err)
	}
	return domain.Success(v)
}

// Describe renders an outcome for logs.
func Describe[T any](o domain.Outcome[T]) string {
	if o.OK {
		return "ok"
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Message)
}
