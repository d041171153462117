package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseType)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "DFW", cfg.Region)
	assert.True(t, cfg.EnableMetrics)
}

func TestValidateProduction(t *testing.T) {
	_, err := Load(WithEnvironment("production"))
	assert.Error(t, err)

	_, err = Load(
		WithEnvironment("production"),
		WithTokenSecret("secret"),
		WithUser(swiftsim.User{Name: "ops", APIKey: "key"}),
	)
	assert.NoError(t, err)
}

func TestOptionErrors(t *testing.T) {
	for name, opt := range map[string]Option{
		"empty port":          WithPort(""),
		"bad database":        WithDatabase("sqlite", ""),
		"postgres no url":     WithDatabase("postgres", ""),
		"empty fs dir":        WithFilesystemStorage(""),
		"empty bucket":        WithS3Storage("", ""),
		"endpoint without s3": WithS3Endpoint("http://localhost:9000"),
		"zero ttl":            WithTokenTTL(0),
		"nameless user":       WithUser(swiftsim.User{APIKey: "k"}),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(opt)
			assert.Error(t, err)
		})
	}
}

func TestBuildServerFilesystem(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(
		WithFilesystemStorage(dir),
		WithUser(swiftsim.User{Name: "dave", APIKey: "dave-key"}),
		WithTokenSecret("build-test"),
	)
	require.NoError(t, err)

	srv, cleanup, err := cfg.BuildServer(context.Background(), nil)
	require.NoError(t, err)
	defer cleanup()

	ts := httptest.NewServer(srv)
	defer ts.Close()

	body := `{"auth":{"RAX-KSKEY:apiKeyCredentials":{"username":"dave","apiKey":"dave-key"}}}`
	resp, err := http.Post(ts.URL+"/v2.0/tokens", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc struct {
		Access struct {
			Token struct {
				ID string `json:"id"`
			} `json:"token"`
		} `json:"access"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	token := doc.Access.Token.ID
	require.NotEmpty(t, token)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/v1/MossoCloudFS_dave/photos", nil)
	require.NoError(t, err)
	req.Header.Set("X-Auth-Token", token)
	put, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	put.Body.Close()
	assert.Equal(t, http.StatusCreated, put.StatusCode)

	req, err = http.NewRequest(http.MethodPut, ts.URL+"/v1/MossoCloudFS_dave/photos/cat.txt", strings.NewReader("meow"))
	require.NoError(t, err)
	req.Header.Set("X-Auth-Token", token)
	put, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	put.Body.Close()
	assert.Equal(t, http.StatusCreated, put.StatusCode)

	blobs, err := filepath.Glob(filepath.Join(dir, "accounts", "MossoCloudFS_dave", "objects", "*", "*"))
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	data, err := os.ReadFile(blobs[0])
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))

	metrics, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestBuildServerPostgresRequiresURL(t *testing.T) {
	cfg := defaults()
	cfg.DatabaseType = "postgres"
	_, _, err := cfg.BuildServer(context.Background(), nil)
	assert.Error(t, err)
}
