package upscale

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/upscale/cache"
	"github.com/gogpu/upscale/compute"
	"github.com/gogpu/upscale/internal/parallel"
	"github.com/gogpu/upscale/model"
	"github.com/gogpu/upscale/sched"
)

// Engine ties the pieces together: one shared compute context, a model
// manager serializing weight loads against inference, two cooperating
// schedulers, a tile conversion pool, and an optional persistent result
// cache.
//
// All methods are safe for concurrent use. Enhancement is asynchronous:
// Enhance queues and returns, finished pages arrive through the
// completion callback and the cache.
type Engine struct {
	modelDir    string
	cacheDir    string
	cacheLimit  int64
	device      DeviceHandle
	backendName string
	tileSize    int
	tileDelay   time.Duration
	workers     int
	grayCheck   bool
	hashParams  model.HashParams
	onComplete  func(doc, section string, page int, out *Pixmap)

	ctx   *compute.Context
	mgr   *model.Manager
	queue *sched.Queue
	pages *sched.Pages
	store *cache.Store
	pool  *parallel.Pool

	cfgMu sync.Mutex
	cfg   model.Config
	hash  string

	closed atomic.Bool
}

// New creates an engine for the given model configuration. The
// configuration is validated eagerly; weights load lazily on the first
// enhancement, so New stays cheap and never touches the device.
func New(cfg model.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cacheLimit: cache.DefaultLimit,
		device:     NullDeviceHandle{},
		grayCheck:  true,
		hashParams: model.HashParams{PreScale: 1},
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.hash = cfg.Hash(e.hashParams)

	e.ctx = compute.New(e.device)
	e.mgr = model.NewManager(e.ctx, e.modelDir, e.backendName)
	if e.tileSize > 0 || e.tileDelay > 0 {
		ts := e.tileSize
		if ts <= 0 {
			ts = model.DefaultTileSize
		}
		e.mgr.SetPerformance(ts, e.tileDelay)
	}

	if e.cacheDir != "" {
		store, err := cache.Open(e.cacheDir, cache.WithLimit(e.cacheLimit))
		if err != nil {
			return nil, err
		}
		e.store = store
	}

	e.pool = parallel.New(e.workers)
	e.queue = sched.NewQueue()
	e.pages = sched.NewPages()
	return e, nil
}

// Config returns the current model configuration.
func (e *Engine) Config() model.Config {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.cfg
}

// ConfigHash returns the cache identity of the current configuration. Two
// engines with equal hashes produce interchangeable cache entries.
func (e *Engine) ConfigHash() string {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.hash
}

// SetConfig switches the model configuration. Pages queued before the
// switch still render, but with the new configuration; callers that need
// the old outputs gone should Restart first. The weight reload happens on
// the next enhancement, preempting any page in flight.
func (e *Engine) SetConfig(cfg model.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if cfg == e.cfg {
		return nil
	}
	e.cfg = cfg
	e.hash = cfg.Hash(e.hashParams)
	slogger().Info("engine: config changed",
		"kind", cfg.Kind.String(), "noise", cfg.Noise, "scale", cfg.Scale)
	return nil
}

// snapshot returns the configuration and hash as one consistent pair.
func (e *Engine) snapshot() (model.Config, string) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.cfg, e.hash
}

// Enhance requests enhancement of one page. high selects the urgent tier
// (the page is on screen) over the preload tier. Reports whether a new
// request was queued; false means it was already pending, already cached,
// or the engine is closed.
//
// A cached result short-circuits the queue entirely: the callback fires
// with the stored pixels and no compute happens, so repeated requests for
// the same page and configuration are idempotent.
func (e *Engine) Enhance(doc, section string, page int, src *Pixmap, high bool) bool {
	if e.closed.Load() || src == nil {
		return false
	}

	_, hash := e.snapshot()
	key := sched.Key{Doc: doc, Section: section, Page: page}

	if e.store != nil {
		if img := e.store.Get(cache.Key{Doc: doc, Section: section, Page: page, Hash: hash}); img != nil {
			slogger().Debug("engine: cache hit", "doc", doc, "page", page)
			if e.onComplete != nil {
				e.onComplete(doc, section, page, FromImage(img))
			}
			return false
		}
	}

	tier := sched.TierLow
	if high {
		tier = sched.TierHigh
	}

	return e.queue.Submit(key, tier, func() {
		task := e.pages.Enqueue(page,
			func() error { return e.process(doc, section, page, src) },
			e.ctx.SignalAbort)
		<-task.Done()
	})
}

// process runs one page end to end on the scheduler goroutine: load the
// right weights, take the device, run the tiled pipeline, then publish
// the result to the cache and the callback.
func (e *Engine) process(doc, section string, page int, src *Pixmap) error {
	cfg, hash := e.snapshot()

	if err := e.mgr.EnsureLoaded(cfg); err != nil {
		slogger().Warn("engine: model load failed",
			"doc", doc, "page", page, "error", err)
		return err
	}

	lease := e.ctx.Acquire()
	defer lease.Release()
	e.ctx.ClearAbort()
	e.ctx.SetActive(page)

	job := &tiledJob{
		ctx:       e.ctx,
		lease:     lease,
		net:       e.mgr.Network(),
		pad:       cfg.Prepadding(),
		tile:      e.mgr.TileSize(),
		delay:     e.mgr.TileDelay(),
		pool:      e.pool,
		grayCheck: e.grayCheck,
	}
	out, err := job.run(src)
	if err != nil {
		if errors.Is(err, ErrAborted) {
			slogger().Debug("engine: page aborted", "doc", doc, "page", page)
		} else {
			slogger().Warn("engine: page failed",
				"doc", doc, "page", page, "error", err)
		}
		return err
	}

	if e.store != nil {
		e.store.Put(cache.Key{Doc: doc, Section: section, Page: page, Hash: hash}, out.ToImage())
		e.store.Trim()
	}
	if e.onComplete != nil {
		e.onComplete(doc, section, page, out)
	}
	return nil
}

// GetCached returns the cached result for a page under the current
// configuration, or nil.
func (e *Engine) GetCached(doc, section string, page int) *Pixmap {
	if e.store == nil {
		return nil
	}
	_, hash := e.snapshot()
	img := e.store.Get(cache.Key{Doc: doc, Section: section, Page: page, Hash: hash})
	if img == nil {
		return nil
	}
	return FromImage(img)
}

// EvictChapter drops every cached page of one document section.
func (e *Engine) EvictChapter(doc, section string) error {
	if e.store == nil {
		return nil
	}
	return e.store.EvictChapter(doc, section)
}

// Progress reports the page currently processing and its percentage.
func (e *Engine) Progress() (page, percent int) {
	return e.ctx.Progress()
}

// Cancel withdraws a page: pending requests are dropped, a page mid-
// inference is signaled to abort at the next tile boundary.
func (e *Engine) Cancel(doc, section string, page int) {
	e.queue.Cancel(sched.Key{Doc: doc, Section: section, Page: page})
	e.pages.Cancel(page)
}

// CancelBelow drops all pending requests for pages below threshold.
func (e *Engine) CancelBelow(threshold int) {
	e.queue.CancelBelow(threshold)
}

// CancelAbove drops all pending requests for pages above threshold.
func (e *Engine) CancelAbove(threshold int) {
	e.queue.CancelAbove(threshold)
}

// OnPositionChanged tells the engine where the reader is. It retargets
// queue ordering and lets the position scheduler abort work the reader
// has scrolled well past.
func (e *Engine) OnPositionChanged(page int) {
	e.queue.SetTarget(page)
	e.pages.OnPositionChanged(page)
}

// Reset discards all queued work and returns position tracking to zero.
// For switching documents; cached results are untouched.
func (e *Engine) Reset() {
	e.queue.Reset()
	e.pages.Reset()
}

// Restart discards queued and in-flight work but keeps the reading
// position. For settings changes mid-document.
func (e *Engine) Restart() {
	e.queue.Reset()
	e.pages.Restart()
}

// UpdatePerformance adjusts tile size and pacing delay. Takes effect from
// the next page.
func (e *Engine) UpdatePerformance(tileSize int, tileDelay time.Duration) {
	e.mgr.SetPerformance(tileSize, tileDelay)
}

// Close aborts in-flight work, stops the schedulers and releases the
// model, pool and cache. Close is safe to call multiple times.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.ctx.SignalAbort()
	e.queue.Close()
	e.pages.Close()
	e.mgr.Close()
	e.pool.Close()

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			return fmt.Errorf("upscale: close cache: %w", err)
		}
	}
	return nil
}
