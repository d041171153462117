package config

import (
	"fmt"
	"time"
)

// WithIdentityURL sets the identity v2.0 base URL
func WithIdentityURL(url string) Option {
	return func(c *ClientConfig) error {
		if url == "" {
			return fmt.Errorf("identity url cannot be empty")
		}
		c.IdentityURL = url
		return nil
	}
}

// WithAPIKey authenticates with a username and API key
func WithAPIKey(username, apiKey string) Option {
	return func(c *ClientConfig) error {
		c.Username = username
		c.APIKey = apiKey
		c.Password = ""
		return nil
	}
}

// WithPassword authenticates with a username and password
func WithPassword(username, password string) Option {
	return func(c *ClientConfig) error {
		c.Username = username
		c.Password = password
		c.APIKey = ""
		return nil
	}
}

// WithTenant scopes the token to a tenant
func WithTenant(tenantID string) Option {
	return func(c *ClientConfig) error {
		c.TenantID = tenantID
		return nil
	}
}

// WithRegion selects the catalog region
func WithRegion(region string) Option {
	return func(c *ClientConfig) error {
		c.Region = region
		return nil
	}
}

// WithServiceNet routes storage calls over internal URLs
func WithServiceNet(enabled bool) Option {
	return func(c *ClientConfig) error {
		c.ServiceNet = enabled
		return nil
	}
}

// WithTimeout bounds dialing and the wait for response headers
func WithTimeout(d time.Duration) Option {
	return func(c *ClientConfig) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		c.Timeout = d
		return nil
	}
}

// WithRetries sets the total number of attempts per request
func WithRetries(attempts int, delay time.Duration) Option {
	return func(c *ClientConfig) error {
		if attempts < 1 {
			return fmt.Errorf("retries must be at least 1, got %d", attempts)
		}
		c.Retries = attempts
		c.RetryDelay = delay
		return nil
	}
}

// WithProxy sends requests through a proxy
func WithProxy(proxyURL string) Option {
	return func(c *ClientConfig) error {
		c.ProxyURL = proxyURL
		return nil
	}
}

// WithTempURLKey sets the key installed on accounts without one
func WithTempURLKey(key string) Option {
	return func(c *ClientConfig) error {
		c.TempURLKey = key
		return nil
	}
}
