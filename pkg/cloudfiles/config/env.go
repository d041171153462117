package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// WithEnv applies environment variable overrides using the provided prefix.
//
//	IDENTITY_URL - Identity v2.0 base URL
//	USERNAME - Account user
//	API_KEY - API key (preferred over PASSWORD)
//	PASSWORD - Account password
//	TENANT_ID - Tenant to scope the token to
//	REGION - Catalog region (default: the user's default region)
//	SERVICENET - Use internal URLs for storage calls
//	TIMEOUT - Connect and response header timeout, e.g. "10s"
//	RETRIES - Total attempts per request (default: 2)
//	KEEPALIVE - Reuse connections (default: true)
//	PROXY - Proxy URL
//	TEMP_URL_KEY - Key installed on accounts without one
func WithEnv(prefix string) Option {
	return func(c *ClientConfig) error {
		for key, dst := range map[string]*string{
			"IDENTITY_URL": &c.IdentityURL,
			"USERNAME":     &c.Username,
			"API_KEY":      &c.APIKey,
			"PASSWORD":     &c.Password,
			"TENANT_ID":    &c.TenantID,
			"REGION":       &c.Region,
			"PROXY":        &c.ProxyURL,
			"TEMP_URL_KEY": &c.TempURLKey,
		} {
			if v, ok := lookupEnv(prefix, key); ok && v != "" {
				*dst = v
			}
		}

		if v, ok, err := parseBoolEnv(prefix, "SERVICENET"); err != nil {
			return err
		} else if ok {
			c.ServiceNet = v
		}
		if v, ok, err := parseBoolEnv(prefix, "KEEPALIVE"); err != nil {
			return err
		} else if ok {
			c.KeepAlive = v
		}
		if v, ok, err := parseIntEnv(prefix, "RETRIES"); err != nil {
			return err
		} else if ok {
			c.Retries = v
		}
		if v, ok := lookupEnv(prefix, "TIMEOUT"); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration for %sTIMEOUT: %w", prefix, err)
			}
			c.Timeout = d
		}
		return nil
	}
}

func lookupEnv(prefix, key string) (string, bool) {
	return os.LookupEnv(prefix + key)
}

func parseBoolEnv(prefix, key string) (bool, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("invalid boolean for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}

func parseIntEnv(prefix, key string) (int, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid integer for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}
