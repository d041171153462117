package tempurl_test

import (
	"crypto/sha256"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/tempurl"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSignURL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := tempurl.New(tempurl.WithKey("secret"), tempurl.WithClock(fixedClock(now)))

	signed, err := signer.SignURLWithBase("https://storage.example.com/", "GET", "/v1/AUTH_test/photos/cat.jpg", 10*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "storage.example.com", u.Host)
	assert.Equal(t, "/v1/AUTH_test/photos/cat.jpg", u.Path)
	assert.Equal(t, strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10), u.Query().Get(tempurl.ParamExpires))
	assert.Len(t, u.Query().Get(tempurl.ParamSignature), 40)
}

func TestSignURLWithoutKey(t *testing.T) {
	_, err := tempurl.New().SignURL("GET", "/v1/AUTH_test/c/o", time.Minute)
	assert.ErrorIs(t, err, tempurl.ErrNoKey)
}

func TestValidateRequest(t *testing.T) {
	now := time.Unix(1700000000, 0)
	path := "/v1/AUTH_test/photos/dir/cat%20one.jpg"
	signer := tempurl.New(tempurl.WithKey("secret"), tempurl.WithClock(fixedClock(now)))

	signed, err := signer.SignURL("GET", path, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		method  string
		target  string
		signer  *tempurl.Signer
		wantErr error
	}{
		{"valid", "GET", signed, signer, nil},
		{"head accepts get signature", "HEAD", signed, signer, nil},
		{"wrong method", "PUT", signed, signer, tempurl.ErrInvalidSignature},
		{"wrong path", "GET", "/v1/AUTH_test/photos/dog.jpg?" + mustQuery(t, signed), signer, tempurl.ErrInvalidSignature},
		{"wrong key", "GET", signed, tempurl.New(tempurl.WithKey("other"), tempurl.WithClock(fixedClock(now))), tempurl.ErrInvalidSignature},
		{"expired", "GET", signed, tempurl.New(tempurl.WithKey("secret"), tempurl.WithClock(fixedClock(now.Add(2*time.Minute)))), tempurl.ErrExpired},
		{"missing signature", "GET", path + "?temp_url_expires=1", signer, tempurl.ErrMissingSignature},
		{"missing expiry", "GET", path + "?temp_url_sig=abc", signer, tempurl.ErrMissingExpiration},
		{"bad expiry", "GET", path + "?temp_url_sig=abc&temp_url_expires=soon", signer, tempurl.ErrInvalidExpiration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			err := tt.signer.ValidateRequest(req)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, tempurl.IsAuthError(err))
		})
	}
}

func TestWithHash(t *testing.T) {
	signer := tempurl.New(tempurl.WithKey("secret"), tempurl.WithHash(sha256.New))
	assert.Len(t, signer.Signature("GET", "/v1/a/c/o", 1), 64)
	assert.NotEqual(t, signer.Signature("GET", "/v1/a/c/o", 1), signer.Signature("GET", "/v1/a/c/o", 2))
}

func mustQuery(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.RawQuery
}
