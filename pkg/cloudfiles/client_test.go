package cloudfiles_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles"
	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/identity"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/simtest"
)

// staleProvider hands out a token the server never accepts.
type staleProvider struct {
	*identity.Client

	mu          sync.Mutex
	invalidated int
}

func (p *staleProvider) Token(ctx context.Context) (string, time.Time, error) {
	return "stale", time.Now().Add(time.Hour), nil
}

func (p *staleProvider) Invalidate() {
	p.mu.Lock()
	p.invalidated++
	p.mu.Unlock()
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := cloudfiles.New(nil)
	assert.Error(t, err)
}

func TestTokenReplayAfterExpiry(t *testing.T) {
	env := simtest.New(t)
	client := env.Client(t)
	ctx := context.Background()

	_, err := client.CreateContainer(ctx, "before")
	require.NoError(t, err)

	// server side expiry only; the client still believes its token is valid
	env.Clock.Advance(25 * time.Hour)

	_, err = client.CreateContainer(ctx, "after")
	require.NoError(t, err)
}

func TestRejectedTokenTwice(t *testing.T) {
	env := simtest.New(t)
	provider := &staleProvider{Client: env.Identity()}
	client, err := cloudfiles.New(provider, cloudfiles.WithTransport(env.Transport()))
	require.NoError(t, err)

	_, err = client.AccountInfo(context.Background())
	assert.ErrorIs(t, err, cloudfiles.ErrAuthentication)
	assert.Equal(t, 1, provider.invalidated)
}

func TestInvalidCredentials(t *testing.T) {
	env := simtest.New(t)
	creds := env.Identity(identity.WithAPIKey(simtest.Username, "wrong"))
	client, err := cloudfiles.New(creds, cloudfiles.WithTransport(env.Transport()))
	require.NoError(t, err)

	_, err = client.AccountInfo(context.Background())
	assert.ErrorIs(t, err, cloudfiles.ErrAuthentication)
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
}

func TestPasswordAndServiceNet(t *testing.T) {
	env := simtest.New(t)
	creds := env.Identity(identity.WithPassword(simtest.Username, simtest.Password))
	client, err := cloudfiles.New(creds, cloudfiles.WithTransport(env.Transport()), cloudfiles.WithServiceNet(true))
	require.NoError(t, err)

	_, err = client.CreateContainer(context.Background(), "internal")
	require.NoError(t, err)
}

func TestUnknownRegion(t *testing.T) {
	env := simtest.New(t)
	client := env.Client(t, cloudfiles.WithRegion("LON"))

	_, err := client.AccountInfo(context.Background())
	assert.ErrorIs(t, err, identity.ErrUnknownRegion)
}

func TestServerMetrics(t *testing.T) {
	env := simtest.New(t)
	client := env.Client(t)
	ctx := context.Background()

	ct, err := client.CreateContainer(ctx, "metrics")
	require.NoError(t, err)
	obj, err := ct.CreateObject(ctx, "m")
	require.NoError(t, err)
	require.NoError(t, obj.Write(ctx, cloudfiles.String("data")))

	count, err := testutil.GatherAndCount(env.Metrics.Registry(), "swiftsim_http_requests_total", "swiftsim_objects_bytes_total")
	require.NoError(t, err)
	assert.Greater(t, count, 1)
}
