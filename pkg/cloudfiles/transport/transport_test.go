package transport_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/transport"
)

func statusServer(codes ...int) (*httptest.Server, *atomic.Int32) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		io.Copy(io.Discard, r.Body)
		code := codes[len(codes)-1]
		if n < len(codes) {
			code = codes[n]
		}
		w.WriteHeader(code)
	}))
	return srv, &calls
}

func TestSendRetries(t *testing.T) {
	tests := []struct {
		name      string
		codes     []int
		attempts  int
		wantCode  int
		wantCalls int32
	}{
		{"success first try", []int{200}, 2, 200, 1},
		{"5xx retried", []int{503, 201}, 2, 201, 2},
		{"429 retried", []int{429, 204}, 3, 204, 2},
		{"budget exhausted returns last response", []int{500}, 2, 500, 2},
		{"4xx not retried", []int{404, 200}, 3, 404, 1},
		{"single attempt", []int{503, 200}, 1, 503, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := statusServer(tt.codes...)
			defer srv.Close()

			tr := transport.New(transport.WithRetries(tt.attempts), transport.WithRetryDelay(time.Millisecond))
			resp, err := tr.Send(context.Background(), &transport.Request{Method: http.MethodGet, URL: srv.URL})
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestSendBodyReplay(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies [][]byte
		calls  atomic.Int32
	)
	received := func() [][]byte {
		mu.Lock()
		defer mu.Unlock()
		return bodies
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, b)
		mu.Unlock()
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tr := transport.New(transport.WithRetryDelay(time.Millisecond))
	payload := []byte("payload")

	t.Run("replayable body is resent", func(t *testing.T) {
		resp, err := tr.Send(context.Background(), &transport.Request{
			Method:        http.MethodPut,
			URL:           srv.URL,
			Body:          bytes.NewReader(payload),
			ContentLength: int64(len(payload)),
			GetBody: func() (io.Reader, int64, error) {
				return bytes.NewReader(payload), int64(len(payload)), nil
			},
		})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		require.Len(t, received(), 2)
		assert.Equal(t, payload, received()[1])
	})

	t.Run("one-shot body is not retried", func(t *testing.T) {
		calls.Store(0)
		mu.Lock()
		bodies = nil
		mu.Unlock()
		resp, err := tr.Send(context.Background(), &transport.Request{
			Method:        http.MethodPut,
			URL:           srv.URL,
			Body:          bytes.NewReader(payload),
			ContentLength: -1,
		})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Len(t, received(), 1)
	})
}

func TestSendNetworkError(t *testing.T) {
	srv, _ := statusServer(200)
	url := srv.URL
	srv.Close()

	tr := transport.New(transport.WithRetries(2), transport.WithRetryDelay(time.Millisecond))
	_, err := tr.Send(context.Background(), &transport.Request{Method: http.MethodGet, URL: url})
	assert.ErrorIs(t, err, transport.ErrRetriesExhausted)
	var opErr *net.OpError
	assert.ErrorAs(t, err, &opErr, "last failure stays in the chain")
}

func TestSendContextCanceled(t *testing.T) {
	srv, _ := statusServer(503)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := transport.New(transport.WithRetries(3))
	_, err := tr.Send(ctx, &transport.Request{Method: http.MethodGet, URL: srv.URL})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMetrics(t *testing.T) {
	srv, _ := statusServer(500, 200)
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := transport.NewMetrics(reg)
	tr := transport.New(transport.WithMetrics(m), transport.WithRetryDelay(time.Millisecond))

	resp, err := tr.Send(context.Background(), &transport.Request{Method: http.MethodHead, URL: srv.URL})
	require.NoError(t, err)
	resp.Body.Close()

	count, err := testutil.GatherAndCount(reg, "cloudfiles_client_requests_total", "cloudfiles_client_retries_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestNewHTTPClientProxy(t *testing.T) {
	_, err := transport.NewHTTPClient(transport.Config{ProxyURL: "://bad"})
	assert.Error(t, err)

	client, err := transport.NewHTTPClient(transport.Config{ProxyURL: "http://proxy.local:3128", KeepAlive: false})
	require.NoError(t, err)
	tr := client.Transport.(*http.Transport)
	assert.True(t, tr.DisableKeepAlives)
}
