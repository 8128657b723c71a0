package upscale

import (
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/upscale/backend"
)

// Grayscale detection constants. A pixel is "colorful" when a channel
// deviates from red by more than colorDelta (on 0..255 values); a page is
// treated as grayscale when at most one pixel in colorfulDivisor is
// colorful, which tolerates scanner noise and compression artifacts on
// black-and-white pages.
const (
	colorDelta      = 5
	colorfulDivisor = 200
)

// isGrayscale reports whether p is effectively a black-and-white page.
func isGrayscale(p *Pixmap) bool {
	w, h := p.Width(), p.Height()
	if w == 0 || h == 0 {
		return false
	}

	budget := w * h / colorfulDivisor
	colorful := 0
	data := p.Data()
	for i := 0; i < len(data); i += 4 {
		r, g, b := int(data[i]), int(data[i+1]), int(data[i+2])
		if absInt(r-g) > colorDelta || absInt(r-b) > colorDelta {
			colorful++
			if colorful > budget {
				return false
			}
		}
	}
	return true
}

// hasAlpha reports whether p has any non-opaque pixel.
func hasAlpha(p *Pixmap) bool {
	data := p.Data()
	for i := 3; i < len(data); i += 4 {
		if data[i] != 0xFF {
			return true
		}
	}
	return false
}

// scaleAlpha resamples the alpha plane of p by an integer factor. The
// alpha channel never goes through the network: it is resampled directly,
// Catmull-Rom for the common 2x case and bilinear otherwise.
func scaleAlpha(p *Pixmap, scale int) *image.Gray {
	w, h := p.Width(), p.Height()
	src := image.NewGray(image.Rect(0, 0, w, h))
	data := p.Data()
	for i, j := 3, 0; i < len(data); i, j = i+4, j+1 {
		src.Pix[j] = data[i]
	}

	dst := image.NewGray(image.Rect(0, 0, w*scale, h*scale))
	if scale == 2 {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	} else {
		xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	}
	return dst
}

// extractTile copies the w x h region of p at (x0, y0), expanded by pad on
// every side, into a normalized 3-channel tensor. Coordinates outside the
// image replicate the nearest edge pixel, so the network sees valid
// context even at page borders.
func extractTile(p *Pixmap, x0, y0, w, h, pad int) *backend.Tensor {
	tw, th := w+2*pad, h+2*pad
	t := backend.NewTensor(tw, th, 3)
	rp, gp, bp := t.Plane(0), t.Plane(1), t.Plane(2)

	pw, ph := p.Width(), p.Height()
	data := p.Data()
	for ty := 0; ty < th; ty++ {
		sy := clampInt(y0+ty-pad, 0, ph-1)
		rowOff := sy * pw * 4
		for tx := 0; tx < tw; tx++ {
			sx := clampInt(x0+tx-pad, 0, pw-1)
			off := rowOff + sx*4
			i := ty*tw + tx
			rp[i] = float32(data[off]) / 255
			gp[i] = float32(data[off+1]) / 255
			bp[i] = float32(data[off+2]) / 255
		}
	}
	return t
}

// storeTile converts one inferred output tile back to 8-bit pixels and
// writes it into dst at (x0, y0), reading the tensor starting at
// (ox, oy). w and h bound the copy to the tile's valid interior; any
// scaled padding margin beyond them is discarded, never written into the
// neighboring tile's region. When gray is set the three channels are
// collapsed to their mean, keeping pages that were detected as grayscale
// free of color fringing introduced by the network. alpha, when non-nil,
// supplies the resampled alpha plane; otherwise the tile is opaque.
//
// The region is additionally clamped to the tensor and dst, so a network
// that produces a smaller output than expected degrades to a partial
// tile instead of indexing out of range.
func storeTile(dst *Pixmap, t *backend.Tensor, ox, oy, x0, y0, w, h int, gray bool, alpha *image.Gray) {
	rp, gp, bp := t.Plane(0), t.Plane(1), t.Plane(2)

	w = minInt(w, minInt(t.W-ox, dst.Width()-x0))
	h = minInt(h, minInt(t.H-oy, dst.Height()-y0))
	if w <= 0 || h <= 0 {
		return
	}

	dw := dst.Width()
	data := dst.Data()
	for y := 0; y < h; y++ {
		srcRow := (oy+y)*t.W + ox
		dstRow := ((y0+y)*dw + x0) * 4
		for x := 0; x < w; x++ {
			r := quantize(rp[srcRow+x])
			g := quantize(gp[srcRow+x])
			b := quantize(bp[srcRow+x])
			if gray {
				m := uint8((int(r) + int(g) + int(b)) / 3)
				r, g, b = m, m, m
			}
			a := uint8(0xFF)
			if alpha != nil {
				a = alpha.GrayAt(x0+x, y0+y).Y
			}
			off := dstRow + x*4
			data[off] = r
			data[off+1] = g
			data[off+2] = b
			data[off+3] = a
		}
	}
}

// quantize maps a normalized channel value to 8 bits with rounding.
func quantize(v float32) uint8 {
	n := int(v*255 + 0.5)
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
