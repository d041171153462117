package swiftsim

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// objectLocks serializes read-modify-write sequences on one object name.
// Names share a stripe by hash, so unrelated names may wait on each other
// but never run the same name concurrently.
type objectLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *objectLocks) lock(account, container, name string) func() {
	h := fnv.New32a()
	h.Write([]byte(account))
	h.Write([]byte{0})
	h.Write([]byte(container))
	h.Write([]byte{0})
	h.Write([]byte(name))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
