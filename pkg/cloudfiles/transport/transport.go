// Package transport issues HTTP requests against Cloud Files and identity
// endpoints with a bounded retry budget for transient failures.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Request describes a single outbound call.
//
// ContentLength of -1 sends Body with chunked transfer encoding. GetBody, when
// set, recreates the body so that the request can be replayed; requests with
// a Body but no GetBody are never retried.
type Request struct {
	Method        string
	URL           string
	Header        http.Header
	Body          io.Reader
	ContentLength int64
	GetBody       func() (io.Reader, int64, error)
}

// Response is the status, headers and unread body of a completed call.
// Callers must close Body.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser
}

// ErrRetriesExhausted wraps the last transient failure once every attempt failed.
var ErrRetriesExhausted = errors.New("transport: retries exhausted")

// HTTPTransport sends requests with net/http.
type HTTPTransport struct {
	httpClient *http.Client
	attempts   int
	retryDelay time.Duration
	logger     *slog.Logger
	metrics    *Metrics
}

// Option is a functional option for configuring an HTTPTransport
type Option func(*HTTPTransport)

// Config holds the socket level settings used to build the default http.Client.
type Config struct {
	Timeout   time.Duration
	KeepAlive bool
	ProxyURL  string
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(t *HTTPTransport) {
		t.httpClient = client
	}
}

// WithRetries sets how many times a request is tried in total. A value of 2
// means each request is tried twice, not three times.
func WithRetries(attempts int) Option {
	return func(t *HTTPTransport) {
		if attempts < 1 {
			attempts = 1
		}
		t.attempts = attempts
	}
}

// WithRetryDelay sets the base delay between attempts; attempt n waits n*delay.
func WithRetryDelay(delay time.Duration) Option {
	return func(t *HTTPTransport) {
		t.retryDelay = delay
	}
}

// WithLogger sets the logger used for request tracing
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics records request counts and latencies
func WithMetrics(m *Metrics) Option {
	return func(t *HTTPTransport) {
		t.metrics = m
	}
}

// NewHTTPClient builds an http.Client whose timeout bounds dialing and the wait
// for response headers but not the streaming of a large body.
func NewHTTPClient(cfg Config) (*http.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	proxy := http.ProxyFromEnvironment
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		proxy = http.ProxyURL(u)
	}

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 proxy,
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: timeout,
			TLSHandshakeTimeout:   timeout,
			DisableKeepAlives:     !cfg.KeepAlive,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
		},
	}, nil
}

// New creates a transport with two attempts per request, matching the
// service's historical client defaults.
func New(opts ...Option) *HTTPTransport {
	client, _ := NewHTTPClient(Config{Timeout: 10 * time.Second, KeepAlive: true})
	t := &HTTPTransport{
		httpClient: client,
		attempts:   2,
		retryDelay: 250 * time.Millisecond,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Send performs the request, retrying network errors and retryable statuses
// until the attempt budget is spent. When the budget runs out on a retryable
// status the final response is returned so the caller can report it.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < t.attempts; attempt++ {
		if attempt > 0 {
			if !t.replayable(req) {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.retryDelay * time.Duration(attempt)):
			}
			t.metrics.retry(req.Method)
		}

		httpReq, err := t.build(ctx, req, attempt)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := t.httpClient.Do(httpReq)
		if err != nil {
			t.metrics.observe(req.Method, 0, time.Since(start))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%s %s: %w", req.Method, redact(req.URL), err)
			t.logger.Debug("transport request failed", "method", req.Method, "url", redact(req.URL), "attempt", attempt+1, "error", err)
			continue
		}
		t.metrics.observe(req.Method, resp.StatusCode, time.Since(start))
		t.logger.Debug("transport request", "method", req.Method, "url", redact(req.URL), "status", resp.StatusCode, "attempt", attempt+1)

		if retryableStatus(resp.StatusCode) && attempt+1 < t.attempts && t.replayable(req) {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("%s %s: unexpected status %s", req.Method, redact(req.URL), resp.Status)
			continue
		}

		return &Response{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Header:     resp.Header,
			Body:       resp.Body,
		}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("request body cannot be replayed")
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, t.attempts, lastErr)
}

func (t *HTTPTransport) replayable(req *Request) bool {
	return req.Body == nil || req.GetBody != nil
}

func (t *HTTPTransport) build(ctx context.Context, req *Request, attempt int) (*http.Request, error) {
	body, length := req.Body, req.ContentLength
	if attempt > 0 && req.GetBody != nil {
		var err error
		body, length, err = req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to recreate request body: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range req.Header {
		httpReq.Header[k] = append([]string(nil), v...)
	}
	if body != nil {
		httpReq.ContentLength = length
		if length < 0 {
			httpReq.TransferEncoding = []string{"chunked"}
		}
	}
	return httpReq, nil
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// redact drops query strings, which may carry temp URL signatures.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
