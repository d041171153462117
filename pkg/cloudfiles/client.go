package cloudfiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/identity"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/transport"
)

type service int

const (
	storageService service = iota
	cdnService
)

// Client is a Cloud Files account handle. It is safe for concurrent use.
type Client struct {
	creds      CredentialProvider
	transport  Transport
	region     string
	servicenet bool
	logger     *slog.Logger

	storageName string
	cdnName     string

	tempURLKey string

	keyMu     sync.Mutex
	cachedKey string
}

// Option is a functional option for configuring a Client
type Option func(*Client)

// WithTransport sets the transport used for storage and CDN calls
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithRegion selects the catalog region; empty uses the user's default region
func WithRegion(region string) Option {
	return func(c *Client) {
		c.region = region
	}
}

// WithServiceNet routes storage calls over the internal network URL
func WithServiceNet(enabled bool) Option {
	return func(c *Client) {
		c.servicenet = enabled
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

// WithTempURLKey sets the key installed on the account when it has none
func WithTempURLKey(key string) Option {
	return func(c *Client) {
		c.tempURLKey = key
	}
}

// WithServiceNames overrides the catalog names of the storage and CDN services
func WithServiceNames(storage, cdn string) Option {
	return func(c *Client) {
		c.storageName = storage
		c.cdnName = cdn
	}
}

// New creates a client that authenticates through creds.
func New(creds CredentialProvider, opts ...Option) (*Client, error) {
	if creds == nil {
		return nil, errors.New("credential provider is required")
	}
	c := &Client{
		creds:       creds,
		logger:      slog.Default(),
		storageName: identity.ServiceCloudFiles,
		cdnName:     identity.ServiceCloudFilesCDN,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = transport.New(transport.WithLogger(c.logger))
	}
	return c, nil
}

// call is one logical request. body, when set, is invoked once per attempt.
type call struct {
	method  string
	service service
	path    string
	query   url.Values
	header  http.Header
	body    func() (io.Reader, int64, error)
}

type response struct {
	*transport.Response
	method string
	url    string
}

// do sends c with the current token. A 401 invalidates the token and replays
// the call once; a second 401 is reported as ErrAuthentication.
func (c *Client) do(ctx context.Context, r call) (*response, error) {
	for attempt := 0; ; attempt++ {
		token, _, err := c.creds.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		base, err := c.endpoint(ctx, r.service)
		if err != nil {
			return nil, err
		}

		target := base + r.path
		if len(r.query) > 0 {
			target += "?" + r.query.Encode()
		}

		header := r.header.Clone()
		if header == nil {
			header = http.Header{}
		}
		header.Set(headerAuthToken, token)

		req := &transport.Request{
			Method: r.method,
			URL:    target,
			Header: header,
		}
		if r.body != nil {
			body, length, err := r.body()
			if err != nil {
				return nil, err
			}
			req.Body, req.ContentLength, req.GetBody = body, length, r.body
		}

		resp, err := c.transport.Send(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return &response{Response: resp, method: r.method, url: target}, nil
		}

		drain(resp.Body)
		if attempt > 0 {
			return nil, ErrAuthentication
		}
		c.logger.Debug("token rejected, re-authenticating", "method", r.method, "path", r.path)
		c.creds.Invalidate()
	}
}

func (c *Client) endpoint(ctx context.Context, svc service) (string, error) {
	name, internal := c.storageName, c.servicenet
	if svc == cdnService {
		name, internal = c.cdnName, false
	}
	base, err := c.creds.Endpoint(ctx, name, c.region, internal)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(base, "/"), nil
}

// check closes the body and converts non-2xx responses into errors. A 404 is
// reported as notFound when that is non-nil.
func (r *response) check(notFound error) error {
	if r.StatusCode >= 200 && r.StatusCode <= 299 {
		return nil
	}
	defer r.Body.Close()
	if r.StatusCode == http.StatusNotFound && notFound != nil {
		drain(r.Body)
		return notFound
	}
	msg, _ := io.ReadAll(io.LimitReader(r.Body, 512))
	return &StatusError{
		StatusCode: r.StatusCode,
		Method:     r.method,
		URL:        redactURL(r.url),
		Message:    strings.TrimSpace(string(msg)),
	}
}

func (r *response) close() {
	drain(r.Body)
}

func drain(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}

func redactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// escapePath escapes each segment of name while keeping the separators.
func escapePath(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func containerPath(container string) string {
	return "/" + url.PathEscape(container)
}

func objectPath(container, object string) string {
	return containerPath(container) + "/" + escapePath(object)
}

// ContainerInfo is one entry of the account listing
type ContainerInfo struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
	Bytes int64  `json:"bytes"`
}

// AccountInfo summarizes the account
type AccountInfo struct {
	ContainerCount int64
	ObjectCount    int64
	BytesUsed      int64
	Metadata       map[string]string
}

// AccountInfo fetches account totals and metadata
func (c *Client) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	resp, err := c.do(ctx, call{method: http.MethodHead, service: storageService})
	if err != nil {
		return nil, err
	}
	if err := resp.check(nil); err != nil {
		return nil, err
	}
	resp.close()
	return &AccountInfo{
		ContainerCount: headerInt(resp.Header, headerAccountContainer),
		ObjectCount:    headerInt(resp.Header, headerAccountObjects),
		BytesUsed:      headerInt(resp.Header, headerAccountBytes),
		Metadata:       prefixed(resp.Header, accountMetaPrefix),
	}, nil
}

// ListContainers lists containers of the account. Prefix, Marker and Limit
// apply; Delimiter is ignored.
func (c *Client) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	q := opts.query()
	q.Del("delimiter")
	resp, err := c.do(ctx, call{method: http.MethodGet, service: storageService, query: q})
	if err != nil {
		return nil, err
	}
	if err := resp.check(nil); err != nil {
		return nil, err
	}
	defer resp.close()

	var out []ContainerInfo
	if resp.StatusCode == http.StatusNoContent {
		return out, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode container listing: %w", err)
	}
	return out, nil
}

// Container returns a handle without contacting the server.
func (c *Client) Container(name string) *Container {
	return &Container{client: c, name: name}
}

// CreateContainer creates (or touches) a container and loads its state.
func (c *Client) CreateContainer(ctx context.Context, name string) (*Container, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, &ValidationError{Field: name, Err: errors.New("invalid container name")}
	}
	resp, err := c.do(ctx, call{method: http.MethodPut, service: storageService, path: containerPath(name)})
	if err != nil {
		return nil, &ContainerError{Container: name, Op: "create", Err: err}
	}
	if err := resp.check(nil); err != nil {
		return nil, &ContainerError{Container: name, Op: "create", Err: err}
	}
	resp.close()

	ct := c.Container(name)
	if err := ct.Load(ctx); err != nil {
		return nil, err
	}
	c.logger.Info("container created", "container", name)
	return ct, nil
}

// GetContainer loads an existing container; ErrNoSuchContainer when absent.
func (c *Client) GetContainer(ctx context.Context, name string) (*Container, error) {
	ct := c.Container(name)
	if err := ct.Load(ctx); err != nil {
		return nil, err
	}
	return ct, nil
}

// TempURLKey returns the account temp URL key, installing one when the
// account has none. The key is cached for the life of the client.
func (c *Client) TempURLKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()

	if c.cachedKey != "" {
		return c.cachedKey, nil
	}

	key, err := c.accountTempURLKey(ctx)
	if err != nil {
		return "", err
	}
	if key == "" {
		key = c.tempURLKey
		if key == "" {
			key = uuid.NewString()
		}
		if err := c.setTempURLKey(ctx, key); err != nil {
			return "", err
		}
	}
	c.cachedKey = key
	return key, nil
}

func (c *Client) accountTempURLKey(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, call{method: http.MethodHead, service: storageService})
	if err != nil {
		return "", err
	}
	if err := resp.check(nil); err != nil {
		return "", err
	}
	resp.close()
	return resp.Header.Get(headerTempURLKey), nil
}

func (c *Client) setTempURLKey(ctx context.Context, key string) error {
	resp, err := c.do(ctx, call{
		method:  http.MethodPost,
		service: storageService,
		header:  http.Header{headerTempURLKey: {key}},
	})
	if err != nil {
		return err
	}
	if err := resp.check(nil); err != nil {
		return err
	}
	resp.close()
	c.logger.Info("installed account temp url key")
	return nil
}
