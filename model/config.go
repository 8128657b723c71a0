// Package model manages super-resolution model configurations and the
// lifecycle of the single resident network.
package model

import (
	"errors"
	"fmt"
	"hash/fnv"
)

// Config errors.
var (
	// ErrBadScale is returned when the scale factor is outside the range
	// the model family supports.
	ErrBadScale = errors.New("model: unsupported scale for family")

	// ErrBadNoise is returned when the noise level is outside the range
	// the model family supports.
	ErrBadNoise = errors.New("model: unsupported noise level for family")
)

// Kind identifies a model family. Exactly one family is resident in the
// compute context at a time; switching families reloads weights.
type Kind uint8

const (
	// KindCUNet is the standard upscaler/denoiser (waifu2x CUNet).
	KindCUNet Kind = iota

	// KindUpConv7 is the lighter denoise-upscaler variant (waifu2x
	// UpConv7), 2x only.
	KindUpConv7

	// KindCugan is the Real-CUGAN denoise-upscaler with per-scale noise
	// profiles.
	KindCugan

	// KindESRGAN is the GAN-based upscaler (Real-ESRGAN anime v3); it has
	// no noise parameter.
	KindESRGAN

	// KindNose is the fixed-2x Real-CUGAN branch.
	KindNose

	// KindLegacy is the original scale-only network.
	KindLegacy
)

// String returns the family name.
func (k Kind) String() string {
	switch k {
	case KindCUNet:
		return "cunet"
	case KindUpConv7:
		return "upconv7"
	case KindCugan:
		return "cugan"
	case KindESRGAN:
		return "esrgan"
	case KindNose:
		return "nose"
	case KindLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// Config selects a model. Two configs are equal iff all fields match; a
// context reload is required only when the active config differs from the
// requested one. Tuning parameters that do not affect model weights (tile
// size, inter-tile delay) live on the Manager instead and are mutable
// without reload.
type Config struct {
	// Kind is the model family.
	Kind Kind

	// Noise is the denoise level. Meaning is family-specific: -1 disables
	// denoising for CUNet, CUGAN maps 0-4 onto its noise profiles, ESRGAN
	// and Nose ignore it.
	Noise int

	// Scale is the integer upscale factor.
	Scale int

	// TTA enables test-time augmentation (slower, slightly cleaner).
	TTA bool
}

// Validate checks the config against the family's supported ranges.
func (c Config) Validate() error {
	switch c.Kind {
	case KindCUNet:
		if c.Scale < 1 || c.Scale > 2 {
			return fmt.Errorf("%w: %s scale %d", ErrBadScale, c.Kind, c.Scale)
		}
		if c.Noise < -1 || c.Noise > 3 {
			return fmt.Errorf("%w: %s noise %d", ErrBadNoise, c.Kind, c.Noise)
		}
	case KindUpConv7:
		if c.Scale != 2 {
			return fmt.Errorf("%w: %s scale %d", ErrBadScale, c.Kind, c.Scale)
		}
		if c.Noise < 0 || c.Noise > 3 {
			return fmt.Errorf("%w: %s noise %d", ErrBadNoise, c.Kind, c.Noise)
		}
	case KindCugan:
		if c.Scale < 2 || c.Scale > 4 {
			return fmt.Errorf("%w: %s scale %d", ErrBadScale, c.Kind, c.Scale)
		}
		if c.Noise < 0 || c.Noise > 4 {
			return fmt.Errorf("%w: %s noise %d", ErrBadNoise, c.Kind, c.Noise)
		}
	case KindESRGAN:
		if c.Scale < 2 || c.Scale > 4 {
			return fmt.Errorf("%w: %s scale %d", ErrBadScale, c.Kind, c.Scale)
		}
	case KindNose, KindLegacy:
		if c.Scale != 2 {
			return fmt.Errorf("%w: %s scale %d", ErrBadScale, c.Kind, c.Scale)
		}
	default:
		return fmt.Errorf("model: unknown family %d", c.Kind)
	}
	return nil
}

// Prepadding returns the context margin the family's weights were exported
// with. The margin is derived from family and scale, not a free parameter:
// too small causes visible tile seams, too large wastes compute.
func (c Config) Prepadding() int {
	switch c.Kind {
	case KindUpConv7:
		return 7
	case KindESRGAN:
		return 10
	case KindCugan:
		switch c.Scale {
		case 3:
			return 14
		case 4:
			return 19
		default:
			return 18
		}
	default:
		// CUNet, Nose, Legacy.
		return 18
	}
}

// HashParams carries the engine-level parameters that affect pixel output
// beyond the model config itself, so they fold into the cache key.
type HashParams struct {
	// PreScale is the input pre-scale applied before inference (1 = none).
	PreScale float64

	// MaxDim caps the longer output edge in pixels (0 = uncapped).
	MaxDim int
}

// Hash returns a deterministic short identifier derived from every
// parameter that affects pixel output. Two requests with identical hashes
// always address the same stored bytes; changing any single
// output-affecting parameter changes the hash.
func (c Config) Hash(p HashParams) string {
	h := fnv.New64a()
	// Field separators keep adjacent numeric fields from aliasing.
	fmt.Fprintf(h, "v1|%d|%d|%d|%t|%g|%d", c.Kind, c.Noise, c.Scale, c.TTA, p.PreScale, p.MaxDim)
	return fmt.Sprintf("%016x", h.Sum64())
}
