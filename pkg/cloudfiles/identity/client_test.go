package identity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/identity"
)

type fakeIdentity struct {
	calls   atomic.Int32
	expires time.Time

	mu   sync.Mutex
	last map[string]any
}

func (f *fakeIdentity) lastBody() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeIdentity) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		assert.Equal(t, "/v2.0/tokens", r.URL.Path)
		var body map[string]any
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.last = body
		f.mu.Unlock()

		auth := body["auth"].(map[string]any)
		if key, ok := auth["RAX-KSKEY:apiKeyCredentials"].(map[string]any); ok && key["apiKey"] != "good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access": map[string]any{
				"token": map[string]any{"id": "tok", "expires": f.expires.Format(time.RFC3339)},
				"user":  map[string]any{"id": "1", "name": "demo", "RAX-AUTH:defaultRegion": "DFW"},
				"serviceCatalog": []map[string]any{
					{"name": "cloudFiles", "type": "object-store", "endpoints": []map[string]any{
						{"region": "DFW", "publicURL": "https://dfw.example/v1/AUTH_1", "internalURL": "https://snet-dfw.example/v1/AUTH_1"},
						{"region": "ORD", "publicURL": "https://ord.example/v1/AUTH_1", "internalURL": "https://snet-ord.example/v1/AUTH_1"},
					}},
					{"name": "cloudFilesCDN", "type": "rax:object-cdn", "endpoints": []map[string]any{
						{"region": "DFW", "publicURL": "https://cdn-dfw.example/v1/AUTH_1"},
					}},
				},
			},
		})
	}
}

func TestClientEndpoint(t *testing.T) {
	fake := &fakeIdentity{expires: time.Now().Add(time.Hour)}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := identity.New(identity.WithEndpoint(srv.URL+"/v2.0"), identity.WithAPIKey("demo", "good-key"))
	ctx := context.Background()

	tests := []struct {
		name     string
		service  string
		region   string
		internal bool
		want     string
		wantErr  error
	}{
		{"default region", identity.ServiceCloudFiles, "", false, "https://dfw.example/v1/AUTH_1", nil},
		{"explicit region", identity.ServiceCloudFiles, "ord", false, "https://ord.example/v1/AUTH_1", nil},
		{"servicenet", identity.ServiceCloudFiles, "ORD", true, "https://snet-ord.example/v1/AUTH_1", nil},
		{"cdn has no internal url", identity.ServiceCloudFilesCDN, "DFW", true, "https://cdn-dfw.example/v1/AUTH_1", nil},
		{"unknown region", identity.ServiceCloudFiles, "SYD", false, "", identity.ErrUnknownRegion},
		{"unknown service", "cloudDatabases", "DFW", false, "", identity.ErrUnknownService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.Endpoint(ctx, tt.service, tt.region, tt.internal)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, int32(1), fake.calls.Load(), "access should be cached")
}

func TestClientTokenCaching(t *testing.T) {
	fake := &fakeIdentity{expires: time.Now().Add(time.Hour)}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := identity.New(identity.WithEndpoint(srv.URL+"/v2.0"), identity.WithPassword("demo", "pw"))
	ctx := context.Background()

	id, expires, err := client.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", id)
	assert.WithinDuration(t, fake.expires, expires, time.Second)

	auth := fake.lastBody()["auth"].(map[string]any)
	assert.Contains(t, auth, "passwordCredentials")

	_, _, err = client.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.calls.Load())

	t.Run("Invalidate forces reauthentication", func(t *testing.T) {
		client.Invalidate()
		_, _, err := client.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(2), fake.calls.Load())
	})

	t.Run("expired token is refreshed", func(t *testing.T) {
		clock := time.Now().Add(2 * time.Hour)
		late := identity.New(
			identity.WithEndpoint(srv.URL+"/v2.0"),
			identity.WithPassword("demo", "pw"),
			identity.WithClock(func() time.Time { return clock }),
		)
		before := fake.calls.Load()
		_, _, err := late.Token(ctx)
		require.NoError(t, err)
		_, _, err = late.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+2, fake.calls.Load())
	})
}

func TestClientInvalidCredentials(t *testing.T) {
	fake := &fakeIdentity{expires: time.Now().Add(time.Hour)}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := identity.New(identity.WithEndpoint(srv.URL+"/v2.0"), identity.WithAPIKey("demo", "bad-key"))
	_, _, err := client.Token(context.Background())
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	_, err = identity.New(identity.WithEndpoint(srv.URL + "/v2.0")).Authenticate(context.Background())
	assert.ErrorIs(t, err, identity.ErrNoCredentials)
}
