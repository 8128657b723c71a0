package sched

import (
	"sync"

	"github.com/google/uuid"
)

// request is one pending queue entry.
type request struct {
	id   uuid.UUID
	key  Key
	tier Tier
	seq  uint64
	run  func()
}

// Queue is the global request scheduler. It deduplicates enhancement
// requests by key and orders them by priority tier first, then by distance
// from the tracked target index (the page currently being viewed), then by
// submission order.
//
// A single worker drains the queue one item at a time; each dispatch
// blocks until the item's run function returns, preserving global ordering
// of model usage across concurrent submitters.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending map[Key]*request
	target  int
	seq     uint64
	closed  bool
	wg      sync.WaitGroup
}

// NewQueue creates a queue and starts its worker.
func NewQueue() *Queue {
	q := &Queue{pending: make(map[Key]*request)}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.worker()
	return q
}

// Submit queues run under key at the given tier. It returns immediately.
//
// If the key is already pending at an equal or higher tier, Submit is a
// no-op and reports false. A higher-tier re-submission removes the pending
// entry and re-inserts it upgraded (never silently dropped); the fresher
// run function wins.
func (q *Queue) Submit(key Key, tier Tier, run func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if existing, ok := q.pending[key]; ok {
		if tier <= existing.tier {
			return false
		}
		delete(q.pending, key)
		slogger().Debug("sched: request upgraded",
			"id", existing.id, "page", key.Page, "tier", tier.String())
	}

	q.seq++
	r := &request{id: uuid.New(), key: key, tier: tier, seq: q.seq, run: run}
	q.pending[key] = r
	slogger().Debug("sched: request queued",
		"id", r.id, "page", key.Page, "tier", tier.String())
	q.cond.Signal()
	return true
}

// Cancel removes a pending request. A request already handed to the
// worker is unaffected. Reports whether anything was removed.
func (q *Queue) Cancel(key Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[key]; !ok {
		return false
	}
	delete(q.pending, key)
	return true
}

// CancelBelow removes all pending requests with a page index below
// threshold and returns how many were removed. Used to prune stale
// preload work when the reading position jumps forward.
func (q *Queue) CancelBelow(threshold int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for key := range q.pending {
		if key.Page < threshold {
			delete(q.pending, key)
			n++
		}
	}
	return n
}

// CancelAbove removes all pending requests with a page index above
// threshold and returns how many were removed.
func (q *Queue) CancelAbove(threshold int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for key := range q.pending {
		if key.Page > threshold {
			delete(q.pending, key)
			n++
		}
	}
	return n
}

// Reset discards all pending requests (e.g., on document change).
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = make(map[Key]*request)
}

// SetTarget updates the target index used for distance tie-breaking.
func (q *Queue) SetTarget(page int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.target = page
}

// Target returns the current target index.
func (q *Queue) Target() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.target
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// PendingTier reports the tier of a pending request, if any.
func (q *Queue) PendingTier(key Key) (Tier, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.pending[key]
	if !ok {
		return TierLow, false
	}
	return r.tier, true
}

// Close stops the worker after the current dispatch finishes and discards
// pending requests. Close is safe to call multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = make(map[Key]*request)
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}

// worker drains the queue, dispatching one request at a time.
func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		r := q.best()
		delete(q.pending, r.key)
		q.mu.Unlock()

		// Dispatch blocks until this item's processing is fully
		// complete: the compute context is exclusive anyway.
		r.run()
	}
}

// best picks the next request: higher tier first, then smallest distance
// to the target index, then FIFO by sequence. Caller holds q.mu.
func (q *Queue) best() *request {
	var pick *request
	for _, r := range q.pending {
		if pick == nil || q.less(r, pick) {
			pick = r
		}
	}
	return pick
}

// less reports whether a should dispatch before b. Caller holds q.mu.
func (q *Queue) less(a, b *request) bool {
	if a.tier != b.tier {
		return a.tier > b.tier
	}
	da, db := absInt(a.key.Page-q.target), absInt(b.key.Page-q.target)
	if da != db {
		return da < db
	}
	return a.seq < b.seq
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
