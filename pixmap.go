package upscale

import (
	"image"
	"image/png"
	"os"
)

// Pixmap represents a rectangular pixel buffer in RGBA order,
// 4 bytes per pixel, row by row with no padding between rows.
type Pixmap struct {
	width  int
	height int
	data   []uint8
}

// NewPixmap creates a new pixmap with the given dimensions.
func NewPixmap(width, height int) *Pixmap {
	return &Pixmap{
		width:  width,
		height: height,
		data:   make([]uint8, width*height*4),
	}
}

// Width returns the width of the pixmap.
func (p *Pixmap) Width() int {
	return p.width
}

// Height returns the height of the pixmap.
func (p *Pixmap) Height() int {
	return p.height
}

// Data returns the raw pixel data (RGBA format).
func (p *Pixmap) Data() []uint8 {
	return p.data
}

// Stride returns the number of bytes per row.
func (p *Pixmap) Stride() int {
	return p.width * 4
}

// SetRGBA sets the color of a single pixel.
// Out-of-bounds coordinates are ignored.
func (p *Pixmap) SetRGBA(x, y int, r, g, b, a uint8) {
	if x < 0 || x >= p.width || y < 0 || y >= p.height {
		return
	}
	i := (y*p.width + x) * 4
	p.data[i+0] = r
	p.data[i+1] = g
	p.data[i+2] = b
	p.data[i+3] = a
}

// GetRGBA returns the color of a single pixel.
// Out-of-bounds coordinates return transparent black.
func (p *Pixmap) GetRGBA(x, y int) (r, g, b, a uint8) {
	if x < 0 || x >= p.width || y < 0 || y >= p.height {
		return 0, 0, 0, 0
	}
	i := (y*p.width + x) * 4
	return p.data[i+0], p.data[i+1], p.data[i+2], p.data[i+3]
}

// ToImage converts the pixmap to an image.RGBA.
func (p *Pixmap) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	copy(img.Pix, p.data)
	return img
}

// FromImage creates a pixmap from an image. For *image.RGBA inputs the
// pixel data is copied row by row; other image types go through the
// generic color conversion path.
func FromImage(img image.Image) *Pixmap {
	if rgba, ok := img.(*image.RGBA); ok {
		return fromRGBA(rgba)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	pm := NewPixmap(width, height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			pm.SetRGBA(x, y, uint8(r>>8), uint8(g>>8), uint8(b>>8), uint8(a>>8))
		}
	}

	return pm
}

// fromRGBA copies an image.RGBA into a pixmap, honoring the image stride.
func fromRGBA(img *image.RGBA) *Pixmap {
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	pm := NewPixmap(width, height)

	rowBytes := width * 4
	for y := 0; y < height; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		src := img.Pix[off : off+rowBytes]
		dst := pm.data[y*rowBytes : (y+1)*rowBytes]
		copy(dst, src)
	}
	return pm
}

// SavePNG saves the pixmap to a PNG file.
func (p *Pixmap) SavePNG(path string) error {
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	return png.Encode(f, p.ToImage())
}
