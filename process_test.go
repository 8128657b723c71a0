package upscale

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/upscale/backend"
	"github.com/gogpu/upscale/compute"
	"github.com/gogpu/upscale/internal/parallel"
)

// fakeNet is a deterministic stand-in network: nearest-neighbor upscale
// that consumes `consume` pixels of padding on each side, optionally
// tinting the red plane so channel forcing is observable.
type fakeNet struct {
	scale   int
	consume int
	tintR   float32
	fail    error
}

func (f *fakeNet) Forward(in *backend.Tensor) (*backend.Tensor, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	outW := (in.W - 2*f.consume) * f.scale
	outH := (in.H - 2*f.consume) * f.scale
	out := backend.NewTensor(outW, outH, in.C)
	for c := 0; c < in.C; c++ {
		sp, dp := in.Plane(c), out.Plane(c)
		for y := 0; y < outH; y++ {
			sy := f.consume + y/f.scale
			for x := 0; x < outW; x++ {
				v := sp[sy*in.W+f.consume+x/f.scale]
				if c == 0 {
					v += f.tintR
				}
				dp[y*outW+x] = v
			}
		}
	}
	return out, nil
}

func (f *fakeNet) Scale() int   { return f.scale }
func (f *fakeNet) Close() error { return nil }

// runJob drives the tiled pipeline over src with a fresh context and pool.
func runJob(t *testing.T, net backend.Network, src *Pixmap, pad, tile int, grayCheck bool) (*Pixmap, error) {
	t.Helper()
	ctx := compute.New(nil)
	lease := ctx.Acquire()
	defer lease.Release()

	pool := parallel.New(2)
	defer pool.Close()

	job := &tiledJob{
		ctx:       ctx,
		lease:     lease,
		net:       net,
		pad:       pad,
		tile:      tile,
		pool:      pool,
		grayCheck: grayCheck,
	}
	return job.run(src)
}

// gradientPixmap fills a pixmap with a position-dependent color so tile
// placement errors show up as wrong pixel values.
func gradientPixmap(w, h int) *Pixmap {
	pm := NewPixmap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pm.SetRGBA(x, y, uint8(x*13), uint8(y*17), uint8((x+y)*7), 255)
		}
	}
	return pm
}

func TestTiledJob_Dimensions(t *testing.T) {
	src := gradientPixmap(10, 8)
	out, err := runJob(t, &fakeNet{scale: 2, consume: 2}, src, 2, 4, false)
	if err != nil {
		t.Fatalf("run() error: %v", err)
	}
	if out.Width() != 20 || out.Height() != 16 {
		t.Fatalf("output = %dx%d, want 20x16", out.Width(), out.Height())
	}
}

// With a padding-consuming network every output pixel must equal its
// nearest source pixel, across all tile boundaries.
func TestTiledJob_TilePlacement(t *testing.T) {
	src := gradientPixmap(10, 8)
	out, err := runJob(t, &fakeNet{scale: 2, consume: 2}, src, 2, 4, false)
	if err != nil {
		t.Fatal(err)
	}

	for y := 0; y < out.Height(); y++ {
		for x := 0; x < out.Width(); x++ {
			wr, wg, wb, _ := src.GetRGBA(x/2, y/2)
			r, g, b, _ := out.GetRGBA(x, y)
			if diff(r, wr) > 1 || diff(g, wg) > 1 || diff(b, wb) > 1 {
				t.Fatalf("pixel (%d,%d) = (%d,%d,%d), want ~(%d,%d,%d)",
					x, y, r, g, b, wr, wg, wb)
			}
		}
	}
}

// A network that scales the padded input instead of consuming the padding
// returns oversized tiles; the pipeline must crop the scaled border and
// still place every pixel correctly.
func TestTiledJob_OversizedOutputTiles(t *testing.T) {
	src := gradientPixmap(10, 8)
	out, err := runJob(t, &fakeNet{scale: 2, consume: 0}, src, 2, 4, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width() != 20 || out.Height() != 16 {
		t.Fatalf("output = %dx%d, want 20x16", out.Width(), out.Height())
	}

	for y := 0; y < out.Height(); y++ {
		for x := 0; x < out.Width(); x++ {
			wr, _, _, _ := src.GetRGBA(x/2, y/2)
			r, _, _, _ := out.GetRGBA(x, y)
			if diff(r, wr) > 1 {
				t.Fatalf("pixel (%d,%d) r = %d, want ~%d", x, y, r, wr)
			}
		}
	}
}

// A padding-preserving network's output carries a scaled margin around
// the core; storeTile must drop it instead of bleeding into the pixels
// owned by the neighboring tile.
func TestStoreTile_DiscardsScaledMargin(t *testing.T) {
	const (
		core  = 4
		pad   = 2
		scale = 2
	)
	side := (core + 2*pad) * scale
	tile := backend.NewTensor(side, side, 3)
	for c := 0; c < 3; c++ {
		p := tile.Plane(c)
		for i := range p {
			p[i] = 1 // margin sentinel
		}
	}
	off := pad * scale
	for c := 0; c < 3; c++ {
		p := tile.Plane(c)
		for y := 0; y < core*scale; y++ {
			for x := 0; x < core*scale; x++ {
				p[(off+y)*side+off+x] = 0.5
			}
		}
	}

	// Destination leaves a neighbor-sized region to the right and below.
	dst := NewPixmap(core*scale*2, core*scale*2)
	storeTile(dst, tile, off, off, 0, 0, core*scale, core*scale, false, nil)

	for y := 0; y < dst.Height(); y++ {
		for x := 0; x < dst.Width(); x++ {
			r, _, _, _ := dst.GetRGBA(x, y)
			inside := x < core*scale && y < core*scale
			if inside && diff(r, 128) > 1 {
				t.Fatalf("core pixel (%d,%d) r = %d, want ~128", x, y, r)
			}
			if !inside && r != 0 {
				t.Fatalf("margin spilled into neighbor region: pixel (%d,%d) r = %d, want 0",
					x, y, r)
			}
		}
	}
}

// Many small tiles converting concurrently must each write only their own
// region; a leaked scaled margin would corrupt neighboring tiles and race
// with their conversion workers.
func TestTiledJob_ConcurrentTileIsolation(t *testing.T) {
	src := gradientPixmap(96, 96)

	ctx := compute.New(nil)
	lease := ctx.Acquire()
	defer lease.Release()
	pool := parallel.New(8)
	defer pool.Close()

	job := &tiledJob{
		ctx:   ctx,
		lease: lease,
		net:   &fakeNet{scale: 2, consume: 0},
		pad:   2,
		tile:  8,
		pool:  pool,
	}
	out, err := job.run(src)
	if err != nil {
		t.Fatal(err)
	}

	for y := 0; y < out.Height(); y++ {
		for x := 0; x < out.Width(); x++ {
			wr, wg, wb, _ := src.GetRGBA(x/2, y/2)
			r, g, b, _ := out.GetRGBA(x, y)
			if diff(r, wr) > 1 || diff(g, wg) > 1 || diff(b, wb) > 1 {
				t.Fatalf("pixel (%d,%d) = (%d,%d,%d), want ~(%d,%d,%d)",
					x, y, r, g, b, wr, wg, wb)
			}
		}
	}
}

func TestConvertWindow_BlocksAtDepth(t *testing.T) {
	win := convertWindow{depth: 3}
	chans := make([]chan struct{}, 3)
	for i := range chans {
		chans[i] = make(chan struct{})
		win.add(chans[i])
	}
	if len(win.pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(win.pending))
	}

	extra := make(chan struct{})
	admitted := make(chan struct{})
	go func() {
		win.add(extra)
		close(admitted)
	}()

	select {
	case <-admitted:
		t.Fatal("add admitted a conversion past the depth limit")
	case <-time.After(50 * time.Millisecond):
	}

	close(chans[0])
	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("add did not unblock after the oldest conversion finished")
	}
	if len(win.pending) != 3 {
		t.Fatalf("pending = %d after admit, want 3", len(win.pending))
	}

	close(chans[1])
	close(chans[2])
	close(extra)
	win.drain()
	if len(win.pending) != 0 {
		t.Fatalf("pending = %d after drain, want 0", len(win.pending))
	}
}

func TestTiledJob_GrayscaleForcing(t *testing.T) {
	// A near-gray page (every pixel 100,100,100) with a network that
	// tints red: forcing must collapse channels back to their mean.
	src := NewPixmap(8, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			src.SetRGBA(x, y, 100, 100, 100, 255)
		}
	}

	net := &fakeNet{scale: 2, consume: 1, tintR: 0.2}
	out, err := runJob(t, net, src, 1, 8, true)
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, _ := out.GetRGBA(4, 4)
	if r != g || g != b {
		t.Fatalf("grayscale page kept color: (%d,%d,%d)", r, g, b)
	}

	// Detection off: tint survives.
	out, err = runJob(t, net, src, 1, 8, false)
	if err != nil {
		t.Fatal(err)
	}
	if r, g, _, _ := out.GetRGBA(4, 4); r == g {
		t.Fatal("tint lost with grayscale check disabled")
	}
}

func TestTiledJob_ColorPageNotForced(t *testing.T) {
	// A strongly colored page must never be collapsed, even with the
	// grayscale check enabled.
	src := NewPixmap(8, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			src.SetRGBA(x, y, 200, 40, 40, 255)
		}
	}

	out, err := runJob(t, &fakeNet{scale: 2, consume: 1}, src, 1, 8, true)
	if err != nil {
		t.Fatal(err)
	}
	if r, g, _, _ := out.GetRGBA(4, 4); r == g {
		t.Fatal("color page was collapsed to gray")
	}
}

func TestTiledJob_AlphaResampled(t *testing.T) {
	src := gradientPixmap(8, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			r, g, b, _ := src.GetRGBA(x, y)
			src.SetRGBA(x, y, r, g, b, 128)
		}
	}

	out, err := runJob(t, &fakeNet{scale: 2, consume: 1}, src, 1, 8, false)
	if err != nil {
		t.Fatal(err)
	}
	// Resampling a constant alpha plane keeps it constant.
	if _, _, _, a := out.GetRGBA(8, 8); diff(a, 128) > 1 {
		t.Fatalf("alpha = %d, want ~128", a)
	}
}

func TestTiledJob_Abort(t *testing.T) {
	ctx := compute.New(nil)
	lease := ctx.Acquire()
	defer lease.Release()
	pool := parallel.New(1)
	defer pool.Close()

	ctx.SignalAbort()
	job := &tiledJob{
		ctx:   ctx,
		lease: lease,
		net:   &fakeNet{scale: 2, consume: 1},
		pad:   1,
		tile:  4,
		pool:  pool,
	}
	if _, err := job.run(gradientPixmap(10, 8)); !errors.Is(err, ErrAborted) {
		t.Fatalf("run() = %v, want ErrAborted", err)
	}
}

func TestTiledJob_ForwardError(t *testing.T) {
	boom := errors.New("boom")
	_, err := runJob(t, &fakeNet{scale: 2, fail: boom}, gradientPixmap(8, 8), 1, 4, false)
	if !errors.Is(err, boom) {
		t.Fatalf("run() = %v, want boom", err)
	}
}

func TestTiledJob_ProgressCompletes(t *testing.T) {
	ctx := compute.New(nil)
	lease := ctx.Acquire()
	defer lease.Release()
	pool := parallel.New(1)
	defer pool.Close()

	ctx.SetActive(3)
	job := &tiledJob{
		ctx:   ctx,
		lease: lease,
		net:   &fakeNet{scale: 2, consume: 1},
		pad:   1,
		tile:  4,
		pool:  pool,
	}
	if _, err := job.run(gradientPixmap(10, 8)); err != nil {
		t.Fatal(err)
	}

	page, percent := ctx.Progress()
	if page != 3 || percent != 100 {
		t.Fatalf("Progress() = (%d, %d), want (3, 100)", page, percent)
	}
}

func TestIsGrayscale(t *testing.T) {
	gray := NewPixmap(20, 20)
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			gray.SetRGBA(x, y, 90, 92, 88, 255) // within the noise delta
		}
	}
	if !isGrayscale(gray) {
		t.Error("noisy gray page not detected as grayscale")
	}

	// More than 0.5% strongly colored pixels flips the verdict.
	color := NewPixmap(20, 20)
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			color.SetRGBA(x, y, 90, 90, 90, 255)
		}
	}
	for i := 0; i < 3; i++ {
		color.SetRGBA(i, 0, 200, 40, 40, 255)
	}
	if isGrayscale(color) {
		t.Error("page with colored pixels detected as grayscale")
	}
}

func diff(a, b uint8) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}
