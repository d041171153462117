// Package simtest runs a swiftsim server for tests and hands out clients
// wired to it.
package simtest

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/identity"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/transport"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim"
)

// Default credentials of the test user
const (
	Username = "tester"
	APIKey   = "0123456789abcdef"
	Password = "secret"
	Region   = "DFW"
)

// Clock is a settable time source shared with the server.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Env is a running server plus the user it accepts.
type Env struct {
	Server  *swiftsim.Server
	HTTP    *httptest.Server
	Clock   *Clock
	Metrics *swiftsim.Metrics
	User    swiftsim.User
}

// New starts a server backed by the in-memory catalog and blob store unless
// opts say otherwise. The server is closed when the test ends.
func New(t testing.TB, opts ...swiftsim.Option) *Env {
	t.Helper()

	env := &Env{
		Clock:   &Clock{now: time.Now()},
		Metrics: swiftsim.NewMetrics(),
		User: swiftsim.User{
			Name:          Username,
			APIKey:        APIKey,
			Password:      Password,
			DefaultRegion: Region,
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []swiftsim.Option{
		swiftsim.WithUser(env.User),
		swiftsim.WithRegion(Region),
		swiftsim.WithClock(env.Clock.Now),
		swiftsim.WithLogger(logger),
		swiftsim.WithMetrics(env.Metrics),
		swiftsim.WithTokenSecret("simtest"),
	}
	srv, err := swiftsim.New(append(base, opts...)...)
	require.NoError(t, err)

	env.Server = srv
	env.HTTP = httptest.NewServer(srv)
	t.Cleanup(env.HTTP.Close)
	return env
}

// IdentityURL returns the identity v2.0 endpoint
func (e *Env) IdentityURL() string {
	return e.HTTP.URL + "/v2.0"
}

// Identity returns an identity client for the default user
func (e *Env) Identity(opts ...identity.Option) *identity.Client {
	base := []identity.Option{
		identity.WithEndpoint(e.IdentityURL()),
		identity.WithAPIKey(e.User.Name, e.User.APIKey),
		identity.WithSender(e.Transport()),
		identity.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return identity.New(append(base, opts...)...)
}

// Transport returns a transport with a short retry delay
func (e *Env) Transport() *transport.HTTPTransport {
	return transport.New(
		transport.WithRetryDelay(time.Millisecond),
		transport.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

// Client returns a Cloud Files client authenticated as the default user
func (e *Env) Client(t testing.TB, opts ...cloudfiles.Option) *cloudfiles.Client {
	t.Helper()
	base := []cloudfiles.Option{
		cloudfiles.WithTransport(e.Transport()),
		cloudfiles.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	client, err := cloudfiles.New(e.Identity(), append(base, opts...)...)
	require.NoError(t, err)
	return client
}
