package resilience

import (
	"sync"
	"time"
)

// retryBudget caps how many retries may be performed per fixed-size time
// bucket, shared across every caller of the owning policy. Buckets are keyed
// by window start (now truncated to the window size) and garbage-collected
// once they age out.
type retryBudget struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[int64]int

	now func() time.Time
}

func newRetryBudget(limit int, window time.Duration) *retryBudget {
	if window <= 0 {
		window = time.Minute
	}
	return &retryBudget{
		limit:   limit,
		window:  window,
		buckets: make(map[int64]int),
		now:     time.Now,
	}
}

func (b *retryBudget) key() int64 {
	return b.now().UnixMilli() / b.window.Milliseconds()
}

// admit reports whether the current bucket still has budget left. It does
// not consume anything.
func (b *retryBudget) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gcLocked()
	return b.buckets[b.key()] < b.limit
}

// consume charges one retry against the current bucket.
func (b *retryBudget) consume() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gcLocked()
	b.buckets[b.key()]++
}

// consumed returns the spend in the current bucket.
func (b *retryBudget) consumed() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buckets[b.key()]
}

func (b *retryBudget) gcLocked() {
	current := b.key()
	for k := range b.buckets {
		if k < current {
			delete(b.buckets, k)
		}
	}
}
