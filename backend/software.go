package backend

import (
	"fmt"
)

// SoftwareNetwork is the CPU reference network. It honors the full tile
// contract of Network (scale factor, channel layout, padding
// preservation) using Catmull-Rom interpolation in place of the model's
// convolution stack, so the whole pipeline runs and is testable on
// machines without a GPU model runtime.
type SoftwareNetwork struct {
	scale  int
	layers int
	closed bool
}

// init registers the software backend on package import.
func init() {
	Register(BackendSoftware, func(opts OpenOptions) (Network, error) {
		return OpenSoftware(opts)
	})
}

// OpenSoftware validates the weight files and returns a software network.
// It never reports ErrBackendNotAvailable: the software path runs anywhere.
func OpenSoftware(opts OpenOptions) (*SoftwareNetwork, error) {
	if opts.Scale < 1 || opts.Scale > 4 {
		return nil, fmt.Errorf("backend: unsupported scale %d", opts.Scale)
	}

	layers, err := CheckWeights(opts.ParamPath, opts.BinPath)
	if err != nil {
		return nil, err
	}

	slogger().Info("backend: software network opened",
		"param", opts.ParamPath, "layers", layers, "scale", opts.Scale)

	return &SoftwareNetwork{scale: opts.Scale, layers: layers}, nil
}

// Forward upscales one padded tile.
func (n *SoftwareNetwork) Forward(in *Tensor) (*Tensor, error) {
	if n.closed {
		return nil, fmt.Errorf("backend: forward on closed network")
	}
	if !in.Valid() || in.C < 3 {
		return nil, ErrBadTensor
	}
	if n.scale == 1 {
		// Denoise-only configs keep dimensions; the reference network is
		// an identity pass there.
		out := NewTensor(in.W, in.H, in.C)
		copy(out.Data, in.Data)
		return out, nil
	}
	return Resample(in, n.scale), nil
}

// Scale returns the scale factor the network was opened with.
func (n *SoftwareNetwork) Scale() int {
	return n.scale
}

// Layers returns the layer count declared by the structure file.
func (n *SoftwareNetwork) Layers() int {
	return n.layers
}

// Close releases the network.
func (n *SoftwareNetwork) Close() error {
	n.closed = true
	return nil
}
