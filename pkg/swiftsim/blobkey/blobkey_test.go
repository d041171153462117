package blobkey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedLayout(t *testing.T) {
	key := NewSharded().Key("MossoCloudFS_alice", "photos")

	parts := strings.Split(key, "/")
	require.Len(t, parts, 5)
	assert.Equal(t, "accounts", parts[0])
	assert.Equal(t, "MossoCloudFS_alice", parts[1])
	assert.Equal(t, "objects", parts[2])
	assert.Len(t, parts[3], 2)
	assert.Len(t, parts[4], 30)
}

func TestShardLength(t *testing.T) {
	for _, n := range []int{0, 3, 64} {
		key := (&Sharded{ShardLength: n}).Key("acct", "c")
		parts := strings.Split(key, "/")
		require.Len(t, parts, 5)
		want := n
		if n == 0 {
			want = 2
		}
		if n > 32 {
			want = 32
		}
		assert.Len(t, parts[3], want, "shard length %d", n)
	}
}

func TestKeysAreUnique(t *testing.T) {
	g := NewSharded()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		k := g.Key("acct", "c")
		assert.False(t, seen[k])
		seen[k] = true
	}
	assert.NotEqual(t, Flat{}.Key("a", "c"), Flat{}.Key("a", "c"))
}

func TestAccountIsSanitized(t *testing.T) {
	tests := []struct {
		account string
		want    string
	}{
		{"../etc", "__etc"},
		{"a/b", "a_b"},
		{"", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.account, func(t *testing.T) {
			key := NewSharded().Key(tt.account, "c")
			assert.True(t, strings.HasPrefix(key, "accounts/"+tt.want+"/objects/"), key)
			assert.NotContains(t, key, "..")
		})
	}
}

func TestFunc(t *testing.T) {
	g := Func(func(account, container string) string { return account + "-" + container })
	assert.Equal(t, "a-c", g.Key("a", "c"))
}
