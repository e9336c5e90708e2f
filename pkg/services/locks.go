package services

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// keyedMutex serializes work per key with a fixed set of striped mutexes.
// Unrelated keys may share a stripe; callers must never hold two keys of
// the same keyedMutex at once.
type keyedMutex struct {
	stripes [lockStripes]sync.Mutex
}

// lock acquires the stripe of key and returns its unlock function.
func (k *keyedMutex) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &k.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
