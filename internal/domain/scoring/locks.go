package scoring

import (
	"hash/fnv"
	"sync"
)

// stripedLock hashes lead ids onto a bounded set of mutexes. Events for one
// lead always serialize; events for different leads run in parallel unless
// they collide on a stripe. This is the bounded-serial-executor scheme: no
// global lock, no unbounded per-lead lock table.
type stripedLock struct {
	stripes []sync.Mutex
}

func newStripedLock(n int) *stripedLock {
	if n < 1 {
		n = 1
	}
	return &stripedLock{stripes: make([]sync.Mutex, n)}
}

// lock acquires the stripe for key and returns its unlock function.
func (l *stripedLock) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	mu.Lock()
	return mu.Unlock
}
