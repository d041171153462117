package memory

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/storage"
)

type blob struct {
	data      []byte
	updatedAt time.Time
}

// Backend is an in-memory implementation of the storage.BlobStore interface
type Backend struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

// New creates a new in-memory storage backend
func New() storage.BlobStore {
	return &Backend{
		blobs: make(map[string]blob),
	}
}

// Upload stores content under key
func (b *Backend) Upload(ctx context.Context, key string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.blobs[key] = blob{data: data, updatedAt: time.Now().UTC()}
	return nil
}

// Download returns the content stored under key
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return b.DownloadRange(ctx, key, 0, -1)
}

// DownloadRange returns a window of the content stored under key
func (b *Backend) DownloadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, exists := b.blobs[key]
	if !exists {
		return nil, storage.ErrNotFound
	}

	data := entry.data
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	data = data[offset:]
	if length >= 0 && length < int64(len(data)) {
		data = data[:length]
	}
	// the stored slice is never mutated, so readers may share it
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes key
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.blobs[key]; !exists {
		return storage.ErrNotFound
	}

	delete(b.blobs, key)
	return nil
}

// GetObjectMeta returns size and modification time for key
func (b *Backend) GetObjectMeta(ctx context.Context, key string) (*storage.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, exists := b.blobs[key]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return &storage.ObjectMeta{
		Key:       key,
		Size:      int64(len(entry.data)),
		UpdatedAt: entry.updatedAt,
	}, nil
}
