package model

import (
	"errors"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"cunet denoise only", Config{Kind: KindCUNet, Noise: 2, Scale: 1}, nil},
		{"cunet no denoise", Config{Kind: KindCUNet, Noise: -1, Scale: 2}, nil},
		{"cunet scale too big", Config{Kind: KindCUNet, Scale: 3}, ErrBadScale},
		{"cunet noise too big", Config{Kind: KindCUNet, Noise: 4, Scale: 2}, ErrBadNoise},
		{"upconv7 ok", Config{Kind: KindUpConv7, Noise: 3, Scale: 2}, nil},
		{"upconv7 wrong scale", Config{Kind: KindUpConv7, Noise: 0, Scale: 1}, ErrBadScale},
		{"upconv7 negative noise", Config{Kind: KindUpConv7, Noise: -1, Scale: 2}, ErrBadNoise},
		{"cugan 4x", Config{Kind: KindCugan, Noise: 4, Scale: 4}, nil},
		{"cugan 1x", Config{Kind: KindCugan, Noise: 0, Scale: 1}, ErrBadScale},
		{"esrgan ignores noise", Config{Kind: KindESRGAN, Noise: 99, Scale: 3}, nil},
		{"nose fixed 2x", Config{Kind: KindNose, Scale: 2}, nil},
		{"nose wrong scale", Config{Kind: KindNose, Scale: 3}, ErrBadScale},
		{"legacy", Config{Kind: KindLegacy, Scale: 2}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Prepadding(t *testing.T) {
	tests := []struct {
		cfg  Config
		want int
	}{
		{Config{Kind: KindCUNet, Scale: 2}, 18},
		{Config{Kind: KindUpConv7, Scale: 2}, 7},
		{Config{Kind: KindESRGAN, Scale: 4}, 10},
		{Config{Kind: KindCugan, Scale: 2}, 18},
		{Config{Kind: KindCugan, Scale: 3}, 14},
		{Config{Kind: KindCugan, Scale: 4}, 19},
		{Config{Kind: KindNose, Scale: 2}, 18},
		{Config{Kind: KindLegacy, Scale: 2}, 18},
	}

	for _, tt := range tests {
		if got := tt.cfg.Prepadding(); got != tt.want {
			t.Errorf("%s scale %d: Prepadding() = %d, want %d",
				tt.cfg.Kind, tt.cfg.Scale, got, tt.want)
		}
	}
}

func TestConfig_HashStable(t *testing.T) {
	cfg := Config{Kind: KindCUNet, Noise: 1, Scale: 2}
	p := HashParams{PreScale: 1}

	a, b := cfg.Hash(p), cfg.Hash(p)
	if a != b {
		t.Fatalf("Hash not deterministic: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("Hash length = %d, want 16", len(a))
	}
}

// Changing any single output-affecting parameter must change the hash.
func TestConfig_HashSensitivity(t *testing.T) {
	base := Config{Kind: KindCUNet, Noise: 1, Scale: 2}
	baseParams := HashParams{PreScale: 1}
	baseHash := base.Hash(baseParams)

	variants := []struct {
		name   string
		cfg    Config
		params HashParams
	}{
		{"kind", Config{Kind: KindUpConv7, Noise: 1, Scale: 2}, baseParams},
		{"noise", Config{Kind: KindCUNet, Noise: 2, Scale: 2}, baseParams},
		{"scale", Config{Kind: KindCUNet, Noise: 1, Scale: 1}, baseParams},
		{"tta", Config{Kind: KindCUNet, Noise: 1, Scale: 2, TTA: true}, baseParams},
		{"prescale", base, HashParams{PreScale: 0.5}},
		{"maxdim", base, HashParams{PreScale: 1, MaxDim: 2000}},
	}

	for _, v := range variants {
		if got := v.cfg.Hash(v.params); got == baseHash {
			t.Errorf("changing %s did not change the hash", v.name)
		}
	}
}

// Numeric fields must not alias through concatenation (noise=12,scale=3
// vs noise=1,scale=23).
func TestConfig_HashNoAliasing(t *testing.T) {
	p := HashParams{PreScale: 1}
	a := Config{Kind: KindCugan, Noise: 1, Scale: 23}.Hash(p)
	b := Config{Kind: KindCugan, Noise: 12, Scale: 3}.Hash(p)
	if a == b {
		t.Fatal("adjacent numeric fields alias in the hash input")
	}
}
