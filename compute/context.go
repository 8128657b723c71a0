// Package compute owns the single shared compute context used for model
// inference.
//
// The context is the serialization point of the whole engine: holding its
// lease is equivalent to holding an exclusive lock on the GPU device, and
// only the active inference call holds it. The lease is released as soon as
// the last tile's inference has been submitted, not after CPU-side
// conversion finishes, which is what lets a subsequent image's inference
// start while the previous image's tiles are still being converted.
package compute

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
)

// Context is the shared compute context. It bundles the (optional) GPU
// device handle, the exclusive inference lock, the cooperative abort flag,
// and the progress snapshot of the page currently being processed.
//
// A Context is created once per engine and passed to the model manager and
// the pipeline; it replaces what would otherwise be ambient global state,
// so tests can run engines side by side.
type Context struct {
	device gpucontext.DeviceProvider

	mu    sync.Mutex
	abort atomic.Bool

	// status packs the active page index and the completion percentage
	// into one int64 (page<<32 | percent) so that a polling reader always
	// sees a consistent pair.
	status atomic.Int64
}

// New creates a compute context for the given device provider.
// The provider may yield a nil device; inference then runs on the
// software backend.
func New(device gpucontext.DeviceProvider) *Context {
	return &Context{device: device}
}

// Device returns the device provider the context was created with.
func (c *Context) Device() gpucontext.DeviceProvider {
	return c.device
}

// Acquire takes exclusive access to the compute context, blocking until
// any in-flight inference releases it. The returned lease must be
// released exactly once; Release is idempotent so a deferred release is
// safe even when the pipeline already released early.
func (c *Context) Acquire() *Lease {
	c.mu.Lock()
	return &Lease{c: c}
}

// SignalAbort requests cooperative cancellation of the in-flight
// inference. The pipeline polls the flag once per tile; an in-progress
// tile always finishes.
func (c *Context) SignalAbort() {
	if c.abort.CompareAndSwap(false, true) {
		slogger().Debug("compute: abort signaled")
	}
}

// ClearAbort resets the abort flag. Called when a new task takes the
// context.
func (c *Context) ClearAbort() {
	c.abort.Store(false)
}

// Aborted reports whether cancellation has been requested.
func (c *Context) Aborted() bool {
	return c.abort.Load()
}

// SetActive records the page index whose inference currently owns the
// context and resets the percentage to zero.
func (c *Context) SetActive(page int) {
	c.status.Store(int64(page)<<32 | 0)
}

// SetPercent updates the completion percentage for the active page.
func (c *Context) SetPercent(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	page := c.status.Load() >> 32
	c.status.Store(page<<32 | int64(percent))
}

// Progress returns the active page index and its completion percentage.
// The pair is read atomically, so callers polling from a UI thread never
// observe a percentage belonging to a different page.
func (c *Context) Progress() (page, percent int) {
	s := c.status.Load()
	return int(s >> 32), int(s & 0xFFFFFFFF)
}

// Lease represents exclusive ownership of the compute context.
type Lease struct {
	c    *Context
	once sync.Once
}

// Release gives up the lease. Safe to call more than once; only the first
// call unlocks the context.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.c.mu.Unlock()
	})
}
