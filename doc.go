// Package upscale implements tiled neural-network super-resolution for
// manga page bitmaps.
//
// The package is built around four cooperating pieces:
//
//   - a tiled inference pipeline that splits a page into overlapping tiles,
//     runs the resident model on each tile, and merges the results while
//     overlapping GPU inference with CPU-side pixel conversion
//   - a model manager ([model.Manager]) guarding the single shared compute
//     context ([compute.Context]) so that exactly one model family is
//     resident at a time
//   - two schedulers ([sched.Queue] for tier-based request ordering,
//     [sched.Pages] for position-aware ordering during sequential reading)
//   - a persistent, size-bounded result cache ([cache.Store])
//
// The [Engine] type wires these together behind a small fire-and-forget
// surface: submit a page with [Engine.Enhance], poll [Engine.Progress],
// probe [Engine.GetCached], and steer the schedulers with
// [Engine.OnPositionChanged].
//
// Enhancement never fails loudly: a page that cannot be enhanced (missing
// model weights, aborted inference, cache I/O trouble) simply stays
// unenhanced and the condition is logged. Callers always have the original
// bitmap to fall back to.
//
// The package consumes and produces decoded RGBA buffers ([Pixmap]); image
// format decoding and encoding are the caller's concern.
package upscale
