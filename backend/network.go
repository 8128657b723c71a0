// Package backend defines the inference network interface and the backend
// registry through which network implementations are selected.
//
// Backends must be registered via Register and are selected via Open or
// Default. The software backend in this package is always available; the
// wgpu backend (github.com/gogpu/upscale/backend/wgpu) registers itself on
// import and takes priority when a GPU device can be opened.
package backend

import (
	"errors"

	"github.com/gogpu/gpucontext"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend cannot
	// run in the current environment (e.g., no GPU device).
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrUnknownBackend is returned when no backend with the requested
	// name is registered.
	ErrUnknownBackend = errors.New("backend: unknown backend")

	// ErrBadTensor is returned when Forward receives a tensor with fewer
	// than three channels or mismatched data length.
	ErrBadTensor = errors.New("backend: malformed input tensor")
)

// Tensor is a planar (channel-major) float32 image buffer: Data holds C
// planes of W*H values each. Values are normalized to [0,1] by the
// pipeline before Forward and denormalized afterwards.
type Tensor struct {
	W, H, C int
	Data    []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(w, h, c int) *Tensor {
	return &Tensor{W: w, H: h, C: c, Data: make([]float32, w*h*c)}
}

// Plane returns the c-th channel plane as a W*H slice.
func (t *Tensor) Plane(c int) []float32 {
	n := t.W * t.H
	return t.Data[c*n : (c+1)*n]
}

// Valid reports whether the tensor shape matches its data length.
func (t *Tensor) Valid() bool {
	return t != nil && t.W > 0 && t.H > 0 && t.C > 0 && len(t.Data) == t.W*t.H*t.C
}

// Network is a loaded super-resolution model. Forward runs inference on
// one padded tile and returns the upscaled tile; implementations preserve
// the padding margin in the output (margin*scale on every side) unless
// the model family performs valid convolution, in which case the pipeline
// falls back to a clamped zero-offset copy.
//
// Forward is called with the compute context lease held; implementations
// must not retain the input or output tensors across calls.
type Network interface {
	// Forward upscales one tile. The input has at least 3 channels; the
	// output must have the same channel count and dimensions scaled by
	// Scale.
	Forward(in *Tensor) (*Tensor, error)

	// Scale returns the integer scale factor the network was opened with.
	Scale() int

	// Close releases the network's resources. The network must not be
	// used after Close.
	Close() error
}

// OpenOptions carries everything a backend factory needs to load a model.
type OpenOptions struct {
	// ParamPath is the model structure file (.param).
	ParamPath string

	// BinPath is the model weights file (.bin).
	BinPath string

	// Scale is the requested integer scale factor.
	Scale int

	// Device provides GPU access. May be nil (or yield a nil device), in
	// which case GPU backends must return ErrBackendNotAvailable.
	Device gpucontext.DeviceProvider
}
