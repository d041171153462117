package config

import (
	"testing"
	"time"
)

const testPrefix = "CLOUDFILES_TEST_"

func TestEnvOverrides(t *testing.T) {
	t.Setenv(testPrefix+"IDENTITY_URL", "http://localhost:8080/v2.0")
	t.Setenv(testPrefix+"USERNAME", "alice")
	t.Setenv(testPrefix+"API_KEY", "key")
	t.Setenv(testPrefix+"REGION", "ORD")
	t.Setenv(testPrefix+"SERVICENET", "true")
	t.Setenv(testPrefix+"TIMEOUT", "3s")
	t.Setenv(testPrefix+"RETRIES", "4")
	t.Setenv(testPrefix+"KEEPALIVE", "false")
	t.Setenv(testPrefix+"TEMP_URL_KEY", "tk")

	cfg, err := Load(WithEnv(testPrefix))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.IdentityURL != "http://localhost:8080/v2.0" {
		t.Errorf("unexpected identity url %q", cfg.IdentityURL)
	}
	if cfg.Username != "alice" || cfg.APIKey != "key" {
		t.Errorf("unexpected credentials %q/%q", cfg.Username, cfg.APIKey)
	}
	if cfg.Region != "ORD" {
		t.Errorf("expected region ORD, got %q", cfg.Region)
	}
	if !cfg.ServiceNet {
		t.Error("expected servicenet to be enabled")
	}
	if cfg.Timeout != 3*time.Second {
		t.Errorf("expected timeout 3s, got %v", cfg.Timeout)
	}
	if cfg.Retries != 4 {
		t.Errorf("expected 4 retries, got %d", cfg.Retries)
	}
	if cfg.KeepAlive {
		t.Error("expected keepalive to be disabled")
	}
	if cfg.TempURLKey != "tk" {
		t.Errorf("expected temp url key, got %q", cfg.TempURLKey)
	}
}

func TestEnvValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing username", map[string]string{"API_KEY": "key"}},
		{"missing secret", map[string]string{"USERNAME": "alice"}},
		{"bad retries", map[string]string{"USERNAME": "alice", "API_KEY": "key", "RETRIES": "two"}},
		{"zero retries", map[string]string{"USERNAME": "alice", "API_KEY": "key", "RETRIES": "0"}},
		{"bad timeout", map[string]string{"USERNAME": "alice", "API_KEY": "key", "TIMEOUT": "soon"}},
		{"bad servicenet", map[string]string{"USERNAME": "alice", "API_KEY": "key", "SERVICENET": "internal"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(testPrefix+k, v)
			}
			if _, err := Load(WithEnv(testPrefix)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
