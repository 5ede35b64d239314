package mailsync

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// lockset serializes work per key. Keys hash onto a fixed set of mutexes,
// so unrelated keys rarely contend and memory stays bounded.
type lockset struct {
	stripes [lockStripes]sync.Mutex
}

// lock acquires the mutex for key and returns its unlock function.
func (l *lockset) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
