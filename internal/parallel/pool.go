// Package parallel provides the worker pool used for tile conversion.
//
// GPU inference for a tile is synchronous under the compute lease; the
// heavier CPU-side conversion of the tile's floating-point output into
// final integer pixels runs here so the next tile's inference can start
// immediately.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a pool of goroutines for conversion tasks.
//
// Work is distributed across per-worker queues; an idle worker steals from
// other queues, which balances load when some tiles convert slower than
// others (wider edge tiles, grayscale forcing).
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	workers int

	// queues holds per-worker work queues. Each worker primarily pulls
	// from its own queue but can steal from others.
	queues []chan func()

	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	// next selects the submission queue round-robin.
	next atomic.Uint64
}

// New creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
// The pool starts immediately and workers begin waiting for work.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &Pool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)
	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}

	return p
}

// worker is the main loop for each worker goroutine.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	myQueue := p.queues[id]

	for {
		select {
		case <-p.done:
			p.drain(myQueue)
			return

		case work := <-myQueue:
			if work != nil {
				work()
			}

		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
			} else {
				select {
				case <-p.done:
					p.drain(myQueue)
					return
				case work := <-myQueue:
					if work != nil {
						work()
					}
				}
			}
		}
	}
}

// drain executes all remaining work in a queue.
func (p *Pool) drain(queue chan func()) {
	for {
		select {
		case work := <-queue:
			if work != nil {
				work()
			}
		default:
			return
		}
	}
}

// steal attempts to take work from another worker's queue.
// Returns nil if no work is available.
func (p *Pool) steal(myID int) func() {
	for i := range p.workers {
		if i == myID {
			continue
		}
		select {
		case work := <-p.queues[i]:
			return work
		default:
		}
	}
	return nil
}

// Submit sends one conversion task to the pool. Submission blocks when
// the chosen worker's queue is full; the pipeline additionally bounds the
// number of in-flight conversions with its own depth-limited window.
// If the pool is closed, the task runs inline so completion signals still
// fire.
func (p *Pool) Submit(fn func()) {
	if fn == nil {
		return
	}
	if !p.running.Load() {
		fn()
		return
	}

	id := int(p.next.Add(1)) % p.workers
	select {
	case p.queues[id] <- fn:
	case <-p.done:
		fn()
	}
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// Close gracefully shuts down the pool: it stops accepting new work,
// finishes all queued tasks, and stops the workers.
// Close is safe to call multiple times.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}
