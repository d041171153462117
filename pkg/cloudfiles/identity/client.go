// Package identity authenticates against a Rackspace style identity (v2.0)
// service and resolves service endpoints from the returned catalog.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/transport"
)

// Sender performs HTTP calls for the identity client
type Sender interface {
	Send(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Client holds credentials and the cached access document. It is safe for
// concurrent use; authentication is serialized.
type Client struct {
	endpoint string
	username string
	apiKey   string
	password string
	tenantID string
	sender   Sender
	logger   *slog.Logger
	now      func() time.Time
	skew     time.Duration

	mu     sync.Mutex
	access *Access
}

// Option configures a Client
type Option func(*Client)

// WithEndpoint sets the identity base URL (ending in /v2.0)
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = strings.TrimSuffix(endpoint, "/")
	}
}

// WithAPIKey authenticates with RAX-KSKEY:apiKeyCredentials
func WithAPIKey(username, apiKey string) Option {
	return func(c *Client) {
		c.username = username
		c.apiKey = apiKey
	}
}

// WithPassword authenticates with passwordCredentials
func WithPassword(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithTenant scopes the token to a tenant
func WithTenant(tenantID string) Option {
	return func(c *Client) {
		c.tenantID = tenantID
	}
}

// WithSender sets the transport used for token requests
func WithSender(s Sender) Option {
	return func(c *Client) {
		c.sender = s
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for token expiry
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithExpirySkew treats tokens as expired this long before their stated expiry
func WithExpirySkew(d time.Duration) Option {
	return func(c *Client) {
		c.skew = d
	}
}

// New creates an identity client
func New(opts ...Option) *Client {
	c := &Client{
		endpoint: DefaultEndpoint,
		logger:   slog.Default(),
		now:      time.Now,
		skew:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sender == nil {
		c.sender = transport.New(transport.WithLogger(c.logger))
	}
	return c
}

// Authenticate always requests a fresh token and replaces the cached one.
func (c *Client) Authenticate(ctx context.Context) (*Access, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

// Access returns the cached access document, authenticating when there is
// none or its token has expired.
func (c *Client) Access(ctx context.Context) (*Access, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.access != nil && !c.access.Token.Expired(c.now().Add(c.skew)) {
		return c.access, nil
	}
	return c.authenticateLocked(ctx)
}

// Token returns a valid token id and its expiry.
func (c *Client) Token(ctx context.Context) (string, time.Time, error) {
	access, err := c.Access(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	return access.Token.ID, access.Token.Expires, nil
}

// Endpoint resolves a service URL. internal selects the ServiceNet URL when the
// catalog provides one.
func (c *Client) Endpoint(ctx context.Context, service, region string, internal bool) (string, error) {
	access, err := c.Access(ctx)
	if err != nil {
		return "", err
	}
	ep, err := access.Endpoint(service, region)
	if err != nil {
		return "", fmt.Errorf("%w: %s in region %q", err, service, region)
	}
	return strings.TrimSuffix(ep.URL(internal), "/"), nil
}

// Invalidate drops the cached token so the next call re-authenticates.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.access = nil
	c.mu.Unlock()
}

func (c *Client) authenticateLocked(ctx context.Context) (*Access, error) {
	body, err := c.requestBody()
	if err != nil {
		return nil, err
	}

	resp, err := c.sender.Send(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    c.endpoint + "/tokens",
		Header: http.Header{
			"Content-Type": {"application/json"},
			"Accept":       {"application/json"},
		},
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
		GetBody: func() (io.Reader, int64, error) {
			return bytes.NewReader(body), int64(len(body)), nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, ErrInvalidCredentials
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("identity: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("identity: failed to decode access: %w", err)
	}
	if out.Access.Token.ID == "" {
		return nil, fmt.Errorf("identity: access document has no token")
	}

	c.access = &out.Access
	c.logger.Debug("authenticated", "user", out.Access.User.Name, "expires", out.Access.Token.Expires)
	return c.access, nil
}

func (c *Client) requestBody() ([]byte, error) {
	var req authRequest
	switch {
	case c.apiKey != "":
		req.Auth.APIKey = &apiKeyCredentials{Username: c.username, APIKey: c.apiKey}
	case c.password != "":
		req.Auth.Password = &passwordCredentials{Username: c.username, Password: c.password}
	default:
		return nil, ErrNoCredentials
	}
	req.Auth.TenantID = c.tenantID
	return json.Marshal(req)
}
