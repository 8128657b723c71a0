package upscale

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/gogpu/upscale/backend"
	"github.com/gogpu/upscale/compute"
	"github.com/gogpu/upscale/internal/parallel"
)

// ErrAborted reports that an enhancement was cut short by a cancel or a
// model reload. The partial output is discarded; the page stays
// unenhanced.
var ErrAborted = errors.New("upscale: aborted")

const (
	// convertDepth bounds the number of output tiles converting back to
	// pixels concurrently. Inference blocks on the oldest conversion once
	// the window is full, so tensor memory stays proportional to the
	// window rather than the page.
	convertDepth = 32

	// delayCutoff disables the inter-tile pacing delay near the end of a
	// page, where responsiveness matters more than thermal headroom.
	delayCutoff = 5
)

// tiledJob carries everything one page enhancement needs: the shared
// compute context and its held lease, the loaded network, and the tiling
// parameters resolved from the active model.
type tiledJob struct {
	ctx       *compute.Context
	lease     *compute.Lease
	net       backend.Network
	pad       int
	tile      int
	delay     time.Duration
	pool      *parallel.Pool
	grayCheck bool
}

// run enhances src tile by tile and returns the upscaled page.
//
// Tiles are inferred sequentially under the compute lease; conversion of
// finished tiles back to pixels runs behind on the worker pool. The lease
// is released as soon as the last tile leaves the network, before the
// conversion window drains, so a waiting model reload or another page can
// take the device while pixel conversion finishes on the CPU.
//
// The abort flag is polled once per tile. On abort the conversion window
// is drained, then ErrAborted is returned; no writes happen after run
// returns.
func (j *tiledJob) run(src *Pixmap) (*Pixmap, error) {
	w, h := src.Width(), src.Height()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("upscale: empty page")
	}

	scale := j.net.Scale()
	out := NewPixmap(w*scale, h*scale)

	gray := j.grayCheck && isGrayscale(src)

	var alpha *image.Gray
	if hasAlpha(src) {
		alpha = scaleAlpha(src, scale)
	}

	tile := j.tile
	if tile <= 0 {
		tile = w
	}
	cols := (w + tile - 1) / tile
	rows := (h + tile - 1) / tile
	total := cols * rows

	slogger().Debug("upscale: tiling page",
		"width", w, "height", h, "scale", scale,
		"tile", tile, "tiles", total, "grayscale", gray)

	win := convertWindow{depth: convertDepth}

	i := 0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if j.ctx.Aborted() {
				win.drain()
				return nil, ErrAborted
			}
			j.ctx.SetPercent(i*99/total + 1)

			tx0, ty0 := c*tile, r*tile
			tw := minInt(tile, w-tx0)
			th := minInt(tile, h-ty0)

			in := extractTile(src, tx0, ty0, tw, th, j.pad)
			res, err := j.net.Forward(in)
			if err != nil {
				win.drain()
				return nil, fmt.Errorf("upscale: tile %d of %d: %w", i+1, total, err)
			}

			i++
			last := i == total
			if last {
				j.lease.Release()
			}

			// Networks with valid-only convolutions consume the padding
			// and return exactly the scaled core tile. A backend that
			// scales the padded input instead returns a larger tensor;
			// the scaled padding forms a symmetric border, so reading
			// from half the excess recovers the core.
			ox := maxInt((res.W-tw*scale)/2, 0)
			oy := maxInt((res.H-th*scale)/2, 0)
			if ox != 0 || oy != 0 {
				slogger().Debug("upscale: output tile oversized",
					"got", res.W, "want", tw*scale)
			}

			done := make(chan struct{})
			win.add(done)
			dx, dy := tx0*scale, ty0*scale
			cw, ch := tw*scale, th*scale
			j.pool.Submit(func() {
				storeTile(out, res, ox, oy, dx, dy, cw, ch, gray, alpha)
				close(done)
			})

			j.ctx.SetPercent(i * 99 / total)

			if j.delay > 0 && !last && total-i >= delayCutoff {
				time.Sleep(j.delay)
			}
		}
	}

	win.drain()
	j.ctx.SetPercent(100)
	return out, nil
}

// convertWindow bounds the number of tile conversions pending on the
// worker pool. add blocks on the oldest conversion before admitting a new
// one, so at most depth conversions are ever outstanding.
type convertWindow struct {
	depth   int
	pending []chan struct{}
}

func (w *convertWindow) add(ch chan struct{}) {
	if len(w.pending) >= w.depth {
		<-w.pending[0]
		w.pending = w.pending[1:]
	}
	w.pending = append(w.pending, ch)
}

func (w *convertWindow) drain() {
	for _, ch := range w.pending {
		<-ch
	}
	w.pending = w.pending[:0]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
