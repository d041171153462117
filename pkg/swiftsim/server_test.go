package swiftsim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/tempurl"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	srv     *httptest.Server
	clock   *testClock
	token   string
	storage string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Unix(1700000000, 0)}
	s, err := New(
		WithUser(User{Name: "alice", APIKey: "key", Account: "AUTH_alice"}),
		WithClock(clock.Now),
		WithTokenTTL(time.Hour),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	f := &fixture{srv: httptest.NewServer(s), clock: clock}
	t.Cleanup(f.srv.Close)

	body := `{"auth":{"RAX-KSKEY:apiKeyCredentials":{"username":"alice","apiKey":"key"}}}`
	resp, err := http.Post(f.srv.URL+"/v2.0/tokens", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc accessDoc
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	f.token = doc.Access.Token.ID
	f.storage = doc.Access.ServiceCatalog[0].Endpoints[0].PublicURL
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.storage+path, body)
	require.NoError(t, err)
	req.Header.Set("X-Auth-Token", f.token)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestTokens(t *testing.T) {
	f := newFixture(t)
	assert.NotEmpty(t, f.token)
	assert.Equal(t, f.srv.URL+"/v1/AUTH_alice", f.storage)

	resp, err := http.Post(f.srv.URL+"/v2.0/tokens", "application/json",
		strings.NewReader(`{"auth":{"passwordCredentials":{"username":"alice","password":"nope"}}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodHead, "", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-Account-Container-Count"))
	assert.NotEmpty(t, resp.Header.Get("X-Trans-Id"))

	req, err := http.NewRequest(http.MethodHead, f.storage, nil)
	require.NoError(t, err)
	anon, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	anon.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, anon.StatusCode)

	// token scoped to another account
	other, err := http.NewRequest(http.MethodHead, f.srv.URL+"/v1/AUTH_bob", nil)
	require.NoError(t, err)
	other.Header.Set("X-Auth-Token", f.token)
	resp2, err := http.DefaultClient.Do(other)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	f.clock.Advance(2 * time.Hour)
	resp3 := f.do(t, http.MethodHead, "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp3.StatusCode)
}

func TestObjectRanges(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPut, "/c", nil, nil).StatusCode)
	resp := f.do(t, http.MethodPut, "/c/alpha", strings.NewReader("abcdefghijklmnopqrstuvwxyz"), map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "c3fcd3d76192e4007dfb496cca67e13b", resp.Header.Get("Etag"))

	full := f.do(t, http.MethodGet, "/c/alpha", nil, nil)
	assert.Equal(t, http.StatusOK, full.StatusCode)
	assert.Equal(t, "26", full.Header.Get("Content-Length"))

	part := f.do(t, http.MethodGet, "/c/alpha", nil, map[string]string{"Range": "bytes=13-24"})
	assert.Equal(t, http.StatusPartialContent, part.StatusCode)
	assert.Equal(t, "bytes 13-24/26", part.Header.Get("Content-Range"))
	assert.Equal(t, "nopqrstuvwxy", readBody(t, part))

	suffix := f.do(t, http.MethodGet, "/c/alpha", nil, map[string]string{"Range": "bytes=-3"})
	assert.Equal(t, "xyz", readBody(t, suffix))

	bad := f.do(t, http.MethodGet, "/c/alpha", nil, map[string]string{"Range": "bytes=30-"})
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, bad.StatusCode)
	assert.Equal(t, "bytes */26", bad.Header.Get("Content-Range"))
}

func TestPutChecksumMismatch(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/c", nil, nil)

	resp := f.do(t, http.MethodPut, "/c/o", strings.NewReader("data"), map[string]string{"Etag": "00000000000000000000000000000000"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	head := f.do(t, http.MethodHead, "/c/o", nil, nil)
	assert.Equal(t, http.StatusNotFound, head.StatusCode)
}

func TestPutMissingContainer(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPut, "/nope/o", strings.NewReader("data"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEscapedNames(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/c", nil, nil)

	resp := f.do(t, http.MethodPut, "/c/a%2Fb%3Fc", strings.NewReader("x"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	list := f.do(t, http.MethodGet, "/c?format=json", nil, nil)
	require.Equal(t, http.StatusOK, list.StatusCode)
	var entries []objectEntry
	require.NoError(t, json.NewDecoder(list.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "a/b?c", entries[0].Name)
}

func TestDeleteContainerConflict(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/c", nil, nil)
	f.do(t, http.MethodPut, "/c/o", strings.NewReader("x"), nil)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, "/c", nil, nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/c/o", nil, nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/c", nil, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/c", nil, nil).StatusCode)
}

func TestExpiredObjectsDoNotBlockContainerDelete(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/c", nil, nil)
	f.do(t, http.MethodPut, "/c/o", strings.NewReader("x"), map[string]string{"X-Delete-After": "10"})

	f.clock.Advance(time.Minute)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/c", nil, nil).StatusCode)
}

func TestTempURLValidation(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/c", nil, nil)
	f.do(t, http.MethodPut, "/c/o", strings.NewReader("data"), nil)
	f.do(t, http.MethodPost, "", nil, map[string]string{"X-Account-Meta-Temp-Url-Key": "k"})

	signer := tempurl.New(tempurl.WithKey("k"), tempurl.WithClock(f.clock.Now))
	signed, err := signer.SignURLWithBase(f.srv.URL, http.MethodGet, "/v1/AUTH_alice/c/o", time.Minute)
	require.NoError(t, err)

	resp, err := http.Get(signed)
	require.NoError(t, err)
	assert.Equal(t, "data", readBody(t, resp))
	resp.Body.Close()

	// signatures do not grant DELETE
	del, err := http.NewRequest(http.MethodDelete, signed, nil)
	require.NoError(t, err)
	dresp, err := http.DefaultClient.Do(del)
	require.NoError(t, err)
	dresp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, dresp.StatusCode)

	f.clock.Advance(2 * time.Minute)
	expired, err := http.Get(signed)
	require.NoError(t, err)
	expired.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, expired.StatusCode)
}

func TestBulkDeleteReport(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/c", nil, nil)
	f.do(t, http.MethodPut, "/c/o", strings.NewReader("x"), nil)
	f.do(t, http.MethodPut, "/full", nil, nil)
	f.do(t, http.MethodPut, "/full/o", strings.NewReader("x"), nil)

	body := bytes.NewBufferString("c/o\nc/missing\nfull\n")
	resp := f.do(t, http.MethodPost, "?bulk-delete=true", body, map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res bulkDeleteResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 1, res.NumberDeleted)
	assert.Equal(t, 1, res.NumberNotFound)
	assert.Equal(t, [][]string{{"full", "409 Conflict"}}, res.Errors)
}

func TestCDNHeadBeforePublish(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/c", nil, nil)

	req, err := http.NewRequest(http.MethodHead, f.srv.URL+"/cdn/v1/AUTH_alice/c", nil)
	require.NoError(t, err)
	req.Header.Set("X-Auth-Token", f.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConcurrentPutsKeepEveryVersion(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/versions", nil, nil)
	f.do(t, http.MethodPut, "/c", nil, map[string]string{"X-Versions-Location": "versions"})

	const writers = 16
	codes := make([]int, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPut, f.storage+"/c/o", strings.NewReader(fmt.Sprintf("v%02d", i)))
			if !assert.NoError(t, err) {
				return
			}
			req.Header.Set("X-Auth-Token", f.token)
			resp, err := http.DefaultClient.Do(req)
			if !assert.NoError(t, err) {
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}()
	}
	wg.Wait()
	for _, code := range codes {
		assert.Equal(t, http.StatusCreated, code)
	}

	list := f.do(t, http.MethodGet, "/versions?format=json", nil, nil)
	require.Equal(t, http.StatusOK, list.StatusCode)
	var entries []objectEntry
	require.NoError(t, json.NewDecoder(list.Body).Decode(&entries))
	assert.Len(t, entries, writers-1)

	// each payload is current or backed up, exactly once
	seen := map[string]int{}
	for _, e := range entries {
		seen[readBody(t, f.do(t, http.MethodGet, "/versions/"+e.Name, nil, nil))]++
	}
	seen[readBody(t, f.do(t, http.MethodGet, "/c/o", nil, nil))]++
	assert.Len(t, seen, writers)
	for payload, n := range seen {
		assert.Equal(t, 1, n, payload)
	}
}

func TestObjectLocksSerializeOneName(t *testing.T) {
	var locks objectLocks
	unlock := locks.lock("acct", "c", "o")

	acquired := make(chan struct{})
	go func() {
		locks.lock("acct", "c", "o")()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}
