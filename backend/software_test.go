package backend

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// writeTestWeights drops a minimal valid .param/.bin pair into a temp dir.
func writeTestWeights(t *testing.T) (paramPath, binPath string) {
	t.Helper()
	dir := t.TempDir()
	paramPath = filepath.Join(dir, "model.param")
	binPath = filepath.Join(dir, "model.bin")

	param := "7767517\n3 3\nInput in 0 1 data\nConvolution conv 1 1 data mid\nInterp up 1 1 mid out\n"
	if err := os.WriteFile(paramPath, []byte(param), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(binPath, []byte{1, 2, 3, 4}, 0o644); err != nil {
		t.Fatal(err)
	}
	return paramPath, binPath
}

func TestCheckWeights(t *testing.T) {
	param, bin := writeTestWeights(t)

	layers, err := CheckWeights(param, bin)
	if err != nil {
		t.Fatalf("CheckWeights() error: %v", err)
	}
	if layers != 3 {
		t.Errorf("layers = %d, want 3", layers)
	}
}

func TestCheckWeights_BadMagic(t *testing.T) {
	param, bin := writeTestWeights(t)
	if err := os.WriteFile(param, []byte("12345\n3 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := CheckWeights(param, bin); !errors.Is(err, ErrWeightsCorrupt) {
		t.Fatalf("CheckWeights() = %v, want ErrWeightsCorrupt", err)
	}
}

func TestCheckWeights_EmptyBin(t *testing.T) {
	param, bin := writeTestWeights(t)
	if err := os.WriteFile(bin, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := CheckWeights(param, bin); !errors.Is(err, ErrWeightsCorrupt) {
		t.Fatalf("CheckWeights() = %v, want ErrWeightsCorrupt", err)
	}
}

func TestSoftwareNetwork_Forward(t *testing.T) {
	param, bin := writeTestWeights(t)
	net, err := OpenSoftware(OpenOptions{ParamPath: param, BinPath: bin, Scale: 2})
	if err != nil {
		t.Fatalf("OpenSoftware() error: %v", err)
	}
	defer func() {
		_ = net.Close()
	}()

	in := NewTensor(8, 6, 3)
	for i := range in.Data {
		in.Data[i] = float32(i%7) / 7
	}

	out, err := net.Forward(in)
	if err != nil {
		t.Fatalf("Forward() error: %v", err)
	}
	if out.W != 16 || out.H != 12 || out.C != 3 {
		t.Fatalf("output = %dx%dx%d, want 16x12x3", out.W, out.H, out.C)
	}
}

func TestSoftwareNetwork_ForwardIdentityScale(t *testing.T) {
	param, bin := writeTestWeights(t)
	net, err := OpenSoftware(OpenOptions{ParamPath: param, BinPath: bin, Scale: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = net.Close()
	}()

	in := NewTensor(4, 4, 3)
	in.Data[5] = 0.5

	out, err := net.Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	if out.W != 4 || out.H != 4 {
		t.Fatalf("output = %dx%d, want 4x4", out.W, out.H)
	}
	if out.Data[5] != 0.5 {
		t.Errorf("Data[5] = %g, want 0.5", out.Data[5])
	}
	if &out.Data[0] == &in.Data[0] {
		t.Error("identity pass aliases the input tensor")
	}
}

func TestSoftwareNetwork_ForwardClosed(t *testing.T) {
	param, bin := writeTestWeights(t)
	net, err := OpenSoftware(OpenOptions{ParamPath: param, BinPath: bin, Scale: 2})
	if err != nil {
		t.Fatal(err)
	}
	_ = net.Close()

	if _, err := net.Forward(NewTensor(2, 2, 3)); err == nil {
		t.Fatal("Forward() on closed network succeeded")
	}
}

func TestResample_ConstantPreserved(t *testing.T) {
	in := NewTensor(5, 5, 3)
	for i := range in.Data {
		in.Data[i] = 0.25
	}

	out := Resample(in, 3)
	if out.W != 15 || out.H != 15 {
		t.Fatalf("output = %dx%d, want 15x15", out.W, out.H)
	}
	for i, v := range out.Data {
		if math.Abs(float64(v)-0.25) > 1e-5 {
			t.Fatalf("Data[%d] = %g, want 0.25 (kernel weights must normalize)", i, v)
		}
	}
}

func TestResample_EdgeValues(t *testing.T) {
	// A horizontal gradient must keep its endpoints roughly in place
	// after upscaling (edge clamp, no ringing past a flat border).
	in := NewTensor(4, 1, 3)
	for c := 0; c < 3; c++ {
		plane := in.Plane(c)
		for x := range plane {
			plane[x] = float32(x) / 3
		}
	}

	out := Resample(in, 2)
	left := out.Plane(0)[0]
	right := out.Plane(0)[out.W-1]
	if math.Abs(float64(left)) > 0.1 {
		t.Errorf("left edge = %g, want ~0", left)
	}
	if math.Abs(float64(right)-1) > 0.1 {
		t.Errorf("right edge = %g, want ~1", right)
	}
}

func TestTensor_Plane(t *testing.T) {
	tn := NewTensor(3, 2, 3)
	for c := 0; c < 3; c++ {
		plane := tn.Plane(c)
		if len(plane) != 6 {
			t.Fatalf("Plane(%d) len = %d, want 6", c, len(plane))
		}
		plane[0] = float32(c + 1)
	}

	if tn.Data[0] != 1 || tn.Data[6] != 2 || tn.Data[12] != 3 {
		t.Errorf("planes are not channel-major: %v", tn.Data[:13])
	}
}
