// Package storage defines where swiftsim keeps object payloads.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a blob key does not exist
var ErrNotFound = errors.New("blob not found")

// BlobStore defines the interface for payload backends. Keys are opaque and
// never reused; object names live in the catalog.
type BlobStore interface {
	// Upload stores the full content of reader under key
	Upload(ctx context.Context, key string, reader io.Reader) error

	// Download returns the full content stored under key
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// DownloadRange returns length bytes starting at offset; a negative
	// length reads to the end
	DownloadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	// Delete removes key
	Delete(ctx context.Context, key string) error

	// GetObjectMeta returns the stored size and modification time
	GetObjectMeta(ctx context.Context, key string) (*ObjectMeta, error)
}

// ObjectMeta describes a stored blob
type ObjectMeta struct {
	Key       string
	Size      int64
	UpdatedAt time.Time
}
