package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrWeightsNotFound is returned when a family's weight files are missing
// from the model directory.
var ErrWeightsNotFound = errors.New("model: weight files not found")

// cuganProfile maps a CUGAN noise level onto its weight file profile.
func cuganProfile(noise, scale int) string {
	// 3x/4x exports only ship no-denoise, denoise3x and conservative;
	// intermediate levels fall back to denoise3x.
	if scale > 2 && noise > 0 && noise < 3 {
		return "denoise3x"
	}
	switch noise {
	case 1:
		return "denoise1x"
	case 2:
		return "denoise2x"
	case 3:
		return "denoise3x"
	case 4:
		return "conservative"
	default:
		return "no-denoise"
	}
}

// weightBase returns the family-specific base name of the weight file pair
// (without the .param/.bin extension).
func weightBase(c Config) string {
	switch c.Kind {
	case KindCUNet:
		if c.Noise == -1 {
			return "scale2.0x_model"
		}
		if c.Scale == 1 {
			return fmt.Sprintf("noise%d_model", c.Noise)
		}
		return fmt.Sprintf("noise%d_scale2.0x_model", c.Noise)
	case KindUpConv7:
		return fmt.Sprintf("noise%d_scale2.0x_model", c.Noise)
	case KindCugan:
		return fmt.Sprintf("up%dx-%s", c.Scale, cuganProfile(c.Noise, c.Scale))
	case KindESRGAN:
		return fmt.Sprintf("x%d", c.Scale)
	case KindNose:
		return "up2x-no-denoise"
	default:
		return "scale2.0x_model"
	}
}

// WeightFiles resolves the .param/.bin pair for a config inside the model
// directory. Both files must exist; a missing pair is reported as
// ErrWeightsNotFound so callers can fall back to unenhanced display.
func WeightFiles(dir string, c Config) (paramPath, binPath string, err error) {
	base := weightBase(c)
	paramPath = filepath.Join(dir, base+".param")
	binPath = filepath.Join(dir, base+".bin")

	for _, p := range []string{paramPath, binPath} {
		if _, err := os.Stat(p); err != nil {
			return "", "", fmt.Errorf("%w: %s", ErrWeightsNotFound, p)
		}
	}
	return paramPath, binPath, nil
}
