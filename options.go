package upscale

import "time"

// Option configures an Engine during New.
type Option func(*Engine)

// WithModelDir sets the directory holding network weight files. Weight
// file names follow the upstream conventions for each model family.
func WithModelDir(dir string) Option {
	return func(e *Engine) { e.modelDir = dir }
}

// WithCacheDir enables the persistent result cache rooted at dir. Without
// this option finished pages are delivered to the completion callback but
// not stored.
func WithCacheDir(dir string) Option {
	return func(e *Engine) { e.cacheDir = dir }
}

// WithCacheLimit overrides the result cache size cap in bytes.
func WithCacheLimit(bytes int64) Option {
	return func(e *Engine) { e.cacheLimit = bytes }
}

// WithDevice supplies the GPU device the engine computes on. With no
// device (or [NullDeviceHandle]) the engine falls back to a CPU backend.
func WithDevice(device DeviceHandle) Option {
	return func(e *Engine) { e.device = device }
}

// WithBackend pins the compute backend by name instead of picking the
// best available one.
func WithBackend(name string) Option {
	return func(e *Engine) { e.backendName = name }
}

// WithTileSize overrides the processing tile size in pixels. Smaller
// tiles reduce peak memory at the cost of more dispatches.
func WithTileSize(px int) Option {
	return func(e *Engine) { e.tileSize = px }
}

// WithTileDelay inserts a pacing delay between tiles, trading throughput
// for thermal headroom on passively cooled devices.
func WithTileDelay(d time.Duration) Option {
	return func(e *Engine) { e.tileDelay = d }
}

// WithConvertWorkers sets the number of workers converting finished
// tiles back to pixels. Defaults to GOMAXPROCS.
func WithConvertWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithOnComplete registers the callback invoked with every finished page.
// The callback runs on the scheduler goroutine; it must not block for
// long or call back into the engine synchronously.
func WithOnComplete(fn func(doc, section string, page int, out *Pixmap)) Option {
	return func(e *Engine) { e.onComplete = fn }
}

// WithPreScale records the downscale factor applied to pages before they
// reach the engine. It only affects cache identity: outputs produced at a
// different pre-scale must not be served for each other.
func WithPreScale(f float64) Option {
	return func(e *Engine) { e.hashParams.PreScale = f }
}

// WithMaxDim records the dimension clamp applied to pages before they
// reach the engine. Like WithPreScale it only affects cache identity.
func WithMaxDim(px int) Option {
	return func(e *Engine) { e.hashParams.MaxDim = px }
}

// WithoutGrayscaleCheck disables black-and-white page detection, forcing
// every page through full color processing.
func WithoutGrayscaleCheck() Option {
	return func(e *Engine) { e.grayCheck = false }
}
