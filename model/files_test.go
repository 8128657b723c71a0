package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWeightBase(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Kind: KindCUNet, Noise: -1, Scale: 2}, "scale2.0x_model"},
		{Config{Kind: KindCUNet, Noise: 2, Scale: 1}, "noise2_model"},
		{Config{Kind: KindCUNet, Noise: 2, Scale: 2}, "noise2_scale2.0x_model"},
		{Config{Kind: KindUpConv7, Noise: 0, Scale: 2}, "noise0_scale2.0x_model"},
		{Config{Kind: KindCugan, Noise: 0, Scale: 2}, "up2x-no-denoise"},
		{Config{Kind: KindCugan, Noise: 1, Scale: 2}, "up2x-denoise1x"},
		{Config{Kind: KindCugan, Noise: 2, Scale: 2}, "up2x-denoise2x"},
		{Config{Kind: KindCugan, Noise: 3, Scale: 2}, "up2x-denoise3x"},
		{Config{Kind: KindCugan, Noise: 4, Scale: 2}, "up2x-conservative"},
		// 3x/4x only ship no-denoise, denoise3x and conservative;
		// intermediate levels fall back to denoise3x.
		{Config{Kind: KindCugan, Noise: 1, Scale: 3}, "up3x-denoise3x"},
		{Config{Kind: KindCugan, Noise: 2, Scale: 4}, "up4x-denoise3x"},
		{Config{Kind: KindCugan, Noise: 4, Scale: 4}, "up4x-conservative"},
		{Config{Kind: KindESRGAN, Scale: 3}, "x3"},
		{Config{Kind: KindNose, Scale: 2}, "up2x-no-denoise"},
		{Config{Kind: KindLegacy, Scale: 2}, "scale2.0x_model"},
	}

	for _, tt := range tests {
		if got := weightBase(tt.cfg); got != tt.want {
			t.Errorf("weightBase(%s noise=%d scale=%d) = %q, want %q",
				tt.cfg.Kind, tt.cfg.Noise, tt.cfg.Scale, got, tt.want)
		}
	}
}

func TestWeightFiles(t *testing.T) {
	dir := t.TempDir()
	writeWeightPair(t, dir, "noise1_scale2.0x_model")

	cfg := Config{Kind: KindCUNet, Noise: 1, Scale: 2}
	param, bin, err := WeightFiles(dir, cfg)
	if err != nil {
		t.Fatalf("WeightFiles() error: %v", err)
	}
	if filepath.Base(param) != "noise1_scale2.0x_model.param" {
		t.Errorf("param = %s", param)
	}
	if filepath.Base(bin) != "noise1_scale2.0x_model.bin" {
		t.Errorf("bin = %s", bin)
	}
}

func TestWeightFiles_Missing(t *testing.T) {
	dir := t.TempDir()

	// Only the .param half exists; the pair must be reported missing.
	cfg := Config{Kind: KindCUNet, Noise: 1, Scale: 2}
	p := filepath.Join(dir, weightBase(cfg)+".param")
	if err := os.WriteFile(p, []byte("7767517\n2 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := WeightFiles(dir, cfg); !errors.Is(err, ErrWeightsNotFound) {
		t.Fatalf("WeightFiles() = %v, want ErrWeightsNotFound", err)
	}
}

// writeWeightPair drops a minimal valid .param/.bin pair into dir.
func writeWeightPair(t *testing.T, dir, base string) {
	t.Helper()
	param := "7767517\n2 2\nInput in 0 1 data\nInterp up 1 1 data out\n"
	if err := os.WriteFile(filepath.Join(dir, base+".param"), []byte(param), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, base+".bin"), []byte{0, 0, 0, 0}, 0o644); err != nil {
		t.Fatal(err)
	}
}
