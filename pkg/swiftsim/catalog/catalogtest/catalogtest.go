// Package catalogtest checks catalog.Catalog implementations.
package catalogtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog"
)

// Run exercises every catalog operation against an empty cat.
func Run(t *testing.T, cat catalog.Catalog) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	const account = "AUTH_test"

	t.Run("Account", func(t *testing.T) {
		_, err := cat.GetAccount(ctx, account)
		assert.ErrorIs(t, err, catalog.ErrNotFound)

		require.NoError(t, cat.PutAccount(ctx, &catalog.Account{Name: account, Metadata: map[string]string{"x-account-meta-temp-url-key": "k"}}))
		got, err := cat.GetAccount(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, "k", got.Metadata["x-account-meta-temp-url-key"])
	})

	t.Run("Container", func(t *testing.T) {
		ct := &catalog.Container{Account: account, Name: "photos", Metadata: map[string]string{"x-container-meta-a": "1"}, CreatedAt: now}
		require.NoError(t, cat.CreateContainer(ctx, ct))
		assert.ErrorIs(t, cat.CreateContainer(ctx, ct), catalog.ErrExists)
		require.NoError(t, cat.CreateContainer(ctx, &catalog.Container{Account: account, Name: "backup", CreatedAt: now}))

		got, err := cat.GetContainer(ctx, account, "photos")
		require.NoError(t, err)
		assert.Equal(t, "1", got.Metadata["x-container-meta-a"])

		got.VersionsLocation = "backup"
		got.CDNConfigured, got.CDNEnabled, got.CDNTTL = true, true, 900
		require.NoError(t, cat.UpdateContainer(ctx, got))
		got, err = cat.GetContainer(ctx, account, "photos")
		require.NoError(t, err)
		assert.Equal(t, "backup", got.VersionsLocation)
		assert.True(t, got.CDNEnabled)
		assert.Equal(t, int64(900), got.CDNTTL)

		list, err := cat.ListContainers(ctx, account, catalog.ListParams{})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "backup", list[0].Name)
		assert.Equal(t, "photos", list[1].Name)

		_, err = cat.GetContainer(ctx, account, "missing")
		assert.ErrorIs(t, err, catalog.ErrNotFound)
		assert.ErrorIs(t, cat.UpdateContainer(ctx, &catalog.Container{Account: account, Name: "missing"}), catalog.ErrNotFound)
	})

	t.Run("Object", func(t *testing.T) {
		at := int64(1700000000)
		for _, name := range []string{"tmp/c.txt", "a.txt", "tmp/b.txt", "tmp2/d.txt"} {
			require.NoError(t, cat.PutObject(ctx, &catalog.Object{
				Account: account, Container: "photos", Name: name,
				BlobKey: "blob-" + name, Size: 4, ETag: "8d777f385d3dfec8815d20f7496026dc",
				ContentType: "text/plain", LastModified: now,
			}))
		}

		require.NoError(t, cat.PutObject(ctx, &catalog.Object{
			Account: account, Container: "photos", Name: "a.txt",
			BlobKey: "blob-a2", Size: 10, ETag: "e", ContentType: "text/plain",
			Metadata: map[string]string{"x-object-meta-k": "v"},
			CORS:     map[string]string{"access-control-allow-origin": "*"},
			DeleteAt: &at, LastModified: now,
		}))
		got, err := cat.GetObject(ctx, account, "photos", "a.txt")
		require.NoError(t, err)
		assert.Equal(t, "blob-a2", got.BlobKey)
		assert.Equal(t, "v", got.Metadata["x-object-meta-k"])
		assert.Equal(t, "*", got.CORS["access-control-allow-origin"])
		require.NotNil(t, got.DeleteAt)
		assert.Equal(t, at, *got.DeleteAt)

		stats, err := cat.ContainerStats(ctx, account, "photos")
		require.NoError(t, err)
		assert.Equal(t, int64(4), stats.Count)
		assert.Equal(t, int64(22), stats.Bytes)

		tests := []struct {
			name   string
			params catalog.ListParams
			want   []string
		}{
			{"all", catalog.ListParams{}, []string{"a.txt", "tmp/b.txt", "tmp/c.txt", "tmp2/d.txt"}},
			{"prefix", catalog.ListParams{Prefix: "tmp/"}, []string{"tmp/b.txt", "tmp/c.txt"}},
			{"marker", catalog.ListParams{Marker: "tmp/b.txt"}, []string{"tmp/c.txt", "tmp2/d.txt"}},
			{"limit", catalog.ListParams{Limit: 2}, []string{"a.txt", "tmp/b.txt"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				list, err := cat.ListObjects(ctx, account, "photos", tt.params)
				require.NoError(t, err)
				names := make([]string, len(list))
				for i, o := range list {
					names[i] = o.Name
				}
				assert.Equal(t, tt.want, names)
			})
		}

		require.NoError(t, cat.DeleteObject(ctx, account, "photos", "a.txt"))
		assert.ErrorIs(t, cat.DeleteObject(ctx, account, "photos", "a.txt"), catalog.ErrNotFound)
		_, err = cat.GetObject(ctx, account, "photos", "a.txt")
		assert.ErrorIs(t, err, catalog.ErrNotFound)

		_, err = cat.ListObjects(ctx, account, "missing", catalog.ListParams{})
		assert.ErrorIs(t, err, catalog.ErrNotFound)
	})

	t.Run("Sequence", func(t *testing.T) {
		a, err := cat.NextSequence(ctx)
		require.NoError(t, err)
		b, err := cat.NextSequence(ctx)
		require.NoError(t, err)
		assert.Greater(t, b, a)
	})

	t.Run("DeleteContainer", func(t *testing.T) {
		require.NoError(t, cat.DeleteContainer(ctx, account, "photos"))
		assert.ErrorIs(t, cat.DeleteContainer(ctx, account, "photos"), catalog.ErrNotFound)
		_, err := cat.GetContainer(ctx, account, "photos")
		assert.ErrorIs(t, err, catalog.ErrNotFound)
	})
}
