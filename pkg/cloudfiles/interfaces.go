package cloudfiles

import (
	"context"
	"time"

	"github.com/tendant/simple-cloudfiles/pkg/cloudfiles/transport"
)

// CredentialProvider supplies auth tokens and service endpoints.
// identity.Client is the standard implementation.
type CredentialProvider interface {
	// Token returns a currently valid token and its expiry.
	Token(ctx context.Context) (string, time.Time, error)
	// Endpoint resolves the base URL of service in region; internal selects
	// the private network URL where one exists.
	Endpoint(ctx context.Context, service, region string, internal bool) (string, error)
	// Invalidate forgets the cached token after the server rejected it.
	Invalidate()
}

// Transport sends one request, applying its own retry policy.
// transport.HTTPTransport is the standard implementation.
type Transport interface {
	Send(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Sink receives streamed chunks from Read. Each call gets exactly one chunk;
// whether chunks accumulate or replace is up to the sink.
type Sink interface {
	WriteChunk(ctx context.Context, p []byte) error
}

// ChunkSource is anything Write can upload. Chunks must start a fresh pass over
// the payload on every call and honor WithChunkSize.
type ChunkSource interface {
	Chunks(ctx context.Context, opts ...ReadOption) *ChunkIterator
}
