// Package config builds a Cloud Files client from options and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/identity"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/transport"
)

// Option applies configuration to a ClientConfig instance.
type Option func(*ClientConfig) error

// Load constructs a ClientConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ClientConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ClientConfig {
	return ClientConfig{
		IdentityURL: identity.DefaultEndpoint,
		Timeout:     10 * time.Second,
		Retries:     2,
		RetryDelay:  250 * time.Millisecond,
		KeepAlive:   true,
	}
}

// ClientConfig describes how to reach and authenticate against Cloud Files.
type ClientConfig struct {
	// Identity
	IdentityURL string
	Username    string
	APIKey      string
	Password    string
	TenantID    string

	// Endpoint selection
	Region     string // empty uses the user's default region
	ServiceNet bool

	// Transport
	Timeout    time.Duration
	Retries    int // total attempts per request
	RetryDelay time.Duration
	KeepAlive  bool
	ProxyURL   string

	TempURLKey string
}

// Validate validates the client configuration
func (c *ClientConfig) Validate() error {
	if c.IdentityURL == "" {
		return errors.New("identity_url is required")
	}
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.APIKey == "" && c.Password == "" {
		return errors.New("api_key or password is required")
	}
	if c.Retries < 1 {
		return errors.New("retries must be at least 1")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// BuildClient creates a client and its identity session. When reg is non-nil
// transport metrics are registered on it.
func (c *ClientConfig) BuildClient(logger *slog.Logger, reg prometheus.Registerer) (*cloudfiles.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient, err := transport.NewHTTPClient(transport.Config{
		Timeout:   c.Timeout,
		KeepAlive: c.KeepAlive,
		ProxyURL:  c.ProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build http client: %w", err)
	}

	topts := []transport.Option{
		transport.WithHTTPClient(httpClient),
		transport.WithRetries(c.Retries),
		transport.WithRetryDelay(c.RetryDelay),
		transport.WithLogger(logger),
	}
	if reg != nil {
		topts = append(topts, transport.WithMetrics(transport.NewMetrics(reg)))
	}
	tr := transport.New(topts...)

	iopts := []identity.Option{
		identity.WithEndpoint(c.IdentityURL),
		identity.WithSender(tr),
		identity.WithLogger(logger),
	}
	if c.APIKey != "" {
		iopts = append(iopts, identity.WithAPIKey(c.Username, c.APIKey))
	} else {
		iopts = append(iopts, identity.WithPassword(c.Username, c.Password))
	}
	if c.TenantID != "" {
		iopts = append(iopts, identity.WithTenant(c.TenantID))
	}

	opts := []cloudfiles.Option{
		cloudfiles.WithTransport(tr),
		cloudfiles.WithRegion(c.Region),
		cloudfiles.WithServiceNet(c.ServiceNet),
		cloudfiles.WithLogger(logger),
	}
	if c.TempURLKey != "" {
		opts = append(opts, cloudfiles.WithTempURLKey(c.TempURLKey))
	}

	return cloudfiles.New(identity.New(iopts...), opts...)
}
