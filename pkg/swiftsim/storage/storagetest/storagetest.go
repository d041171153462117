// Package storagetest checks storage.BlobStore implementations against the
// behavior swiftsim relies on.
package storagetest

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/storage"
)

// Run exercises upload, ranged download, metadata and delete on store.
func Run(t *testing.T, store storage.BlobStore) {
	ctx := context.Background()
	key := "blobs/ab/abcdef"
	data := []byte("abcdefghijklmnopqrstuvwxyz")

	t.Run("Upload", func(t *testing.T) {
		require.NoError(t, store.Upload(ctx, key, bytes.NewReader(data)))
	})

	t.Run("GetObjectMeta", func(t *testing.T) {
		meta, err := store.GetObjectMeta(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, meta.Key)
		assert.Equal(t, int64(len(data)), meta.Size)
	})

	t.Run("Download", func(t *testing.T) {
		rc, err := store.Download(ctx, key)
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("DownloadRange", func(t *testing.T) {
		tests := []struct {
			name   string
			offset int64
			length int64
			want   string
		}{
			{"head", 0, 3, "abc"},
			{"middle", 13, 12, "nopqrstuvwxy"},
			{"tail to end", 24, -1, "yz"},
			{"length past end", 25, 10, "z"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rc, err := store.DownloadRange(ctx, key, tt.offset, tt.length)
				require.NoError(t, err)
				defer rc.Close()
				got, err := io.ReadAll(rc)
				require.NoError(t, err)
				assert.Equal(t, tt.want, string(got))
			})
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.Upload(ctx, key, bytes.NewReader([]byte("new"))))
		meta, err := store.GetObjectMeta(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(3), meta.Size)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, key))
		_, err := store.GetObjectMeta(ctx, key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.Download(ctx, key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("MissingKey", func(t *testing.T) {
		_, err := store.DownloadRange(ctx, "blobs/missing", 0, 1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
