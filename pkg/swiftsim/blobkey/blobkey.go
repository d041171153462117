// Package blobkey decides where object payloads live inside a blob store.
//
// Keys are opaque to the catalog; every write gets a fresh key so that a
// replaced payload can be kept as a version or deleted after the new record
// is committed.
package blobkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator defines the interface for blob key generation strategies
type Generator interface {
	// Key returns a new, unused key for a payload written to container.
	Key(account, container string) string
}

// Flat uses a bare random UUID
type Flat struct{}

func (Flat) Key(account, container string) string {
	return uuid.NewString()
}

// Sharded provides Git-style sharding under the owning account:
// accounts/{account}/objects/ab/cd1234ef5678...
type Sharded struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

// NewSharded returns a generator with two character shards
func NewSharded() *Sharded {
	return &Sharded{ShardLength: 2}
}

func (g *Sharded) Key(account, container string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")

	n := g.ShardLength
	if n <= 0 {
		n = 2
	}
	if n > len(id) {
		n = len(id)
	}

	return fmt.Sprintf("accounts/%s/objects/%s/%s", sanitizePathComponent(account), id[:n], id[n:])
}

// Func adapts a plain function to Generator
type Func func(account, container string) string

func (f Func) Key(account, container string) string {
	return f(account, container)
}

func sanitizePathComponent(component string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
		"..", "_",
	)
	if s := replacer.Replace(component); s != "" {
		return s
	}
	return "_"
}
