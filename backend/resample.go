package backend

import "math"

// catmullRom evaluates the Catmull-Rom kernel (Keys cubic, a = -0.5) at
// distance t from the sample center.
func catmullRom(t float64) float64 {
	t = math.Abs(t)
	switch {
	case t < 1:
		return 1.5*t*t*t - 2.5*t*t + 1
	case t < 2:
		return -0.5*t*t*t + 2.5*t*t - 4*t + 2
	default:
		return 0
	}
}

// Resample upscales every plane of in by the integer factor scale using
// Catmull-Rom interpolation with edge clamping. It is the pixel core
// shared by the software network and the wgpu backend's CPU mirror; the
// WGSL shader implements the same kernel.
func Resample(in *Tensor, scale int) *Tensor {
	out := NewTensor(in.W*scale, in.H*scale, in.C)

	// Precompute per-axis sample taps: for each destination coordinate,
	// the four source indices and their kernel weights.
	xIdx, xWt := resampleTaps(in.W, out.W)
	yIdx, yWt := resampleTaps(in.H, out.H)

	for c := 0; c < in.C; c++ {
		src := in.Plane(c)
		dst := out.Plane(c)
		for dy := 0; dy < out.H; dy++ {
			rows := yIdx[dy]
			wy := yWt[dy]
			for dx := 0; dx < out.W; dx++ {
				cols := xIdx[dx]
				wx := xWt[dx]
				var acc float64
				for j := 0; j < 4; j++ {
					row := src[rows[j]*in.W:]
					ry := wy[j]
					acc += ry * (wx[0]*float64(row[cols[0]]) +
						wx[1]*float64(row[cols[1]]) +
						wx[2]*float64(row[cols[2]]) +
						wx[3]*float64(row[cols[3]]))
				}
				dst[dy*out.W+dx] = float32(acc)
			}
		}
	}

	return out
}

// resampleTaps computes, for each destination coordinate along one axis,
// the four clamped source indices and normalized Catmull-Rom weights.
func resampleTaps(srcN, dstN int) ([][4]int, [][4]float64) {
	idx := make([][4]int, dstN)
	wt := make([][4]float64, dstN)

	ratio := float64(srcN) / float64(dstN)
	for d := 0; d < dstN; d++ {
		center := (float64(d)+0.5)*ratio - 0.5
		base := int(math.Floor(center))

		var sum float64
		for j := 0; j < 4; j++ {
			s := base - 1 + j
			w := catmullRom(center - float64(s))
			if s < 0 {
				s = 0
			}
			if s > srcN-1 {
				s = srcN - 1
			}
			idx[d][j] = s
			wt[d][j] = w
			sum += w
		}
		// Normalize so clamped edges do not darken or brighten.
		if sum != 0 {
			for j := 0; j < 4; j++ {
				wt[d][j] /= sum
			}
		}
	}

	return idx, wt
}
