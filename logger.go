package upscale

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/upscale/backend"
	"github.com/gogpu/upscale/cache"
	"github.com/gogpu/upscale/compute"
	"github.com/gogpu/upscale/model"
	"github.com/gogpu/upscale/sched"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so the caller skips message formatting entirely,
// making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for upscale and all its sub-packages.
// By default, upscale produces no log output. Call SetLogger to enable it.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically
// and propagates it to the compute, model, backend, sched and cache
// packages. Pass nil to disable logging (restore default silent behavior).
//
// Log levels used:
//   - [slog.LevelDebug]: per-tile pipeline diagnostics, scheduler decisions
//   - [slog.LevelInfo]: lifecycle events (model loaded, GPU adapter selected)
//   - [slog.LevelWarn]: non-fatal issues (cache I/O failure, CPU fallback)
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	compute.SetLogger(l)
	model.SetLogger(l)
	backend.SetLogger(l)
	sched.SetLogger(l)
	cache.SetLogger(l)
}

// Logger returns the current logger used by upscale.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// slogger returns the active logger for use inside the package.
func slogger() *slog.Logger {
	return loggerPtr.Load()
}
