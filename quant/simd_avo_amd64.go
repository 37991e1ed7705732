//go:build avo && amd64

package quant

import (
	"github.com/klauspost/cpuid/v2"
)

// init overrides the portable defaults with the AVX-512F kernel and its
// matching codebook layout when both the CPU and the build support it,
// mirroring distance's avo-gated init() exactly: selection happens once,
// here, never per call.
func init() {
	if cpuid.CPU.Has(cpuid.AVX512F) {
		approximateGroupDistance = approximateGroupDistanceAVX512FWrapper
		packForInference = packTransposed
		setupLUT = setupLUTAVX512F
		simdActive = true
	}
}

func approximateGroupDistanceAVX512FWrapper(groupCodes []byte, m int, lut []uint8, scale, bias float32, out []float32) {
	approximateGroupDistanceAVX512F(groupCodes, m, lut, scale, bias, out)
}

// setupLUTAVX512F does the same per-query LUT computation as
// setupLUTDefault, just reading from the transposed localCodebooks
// layout packTransposed produces. A real speedup here would need
// _mm512_reduce_max_ps/_mm512_reduce_min_ps style horizontal reductions,
// which would need their own avo-generated kernel; unlike
// approximateGroupDistance (the one function this package hands to avo),
// this path stays scalar.
func setupLUTAVX512F(q *Quantizer, query []float32, out *LUT) {
	m, k, local := q.NumSubcodebooks, numCentroids, q.LocalDimension
	raw := make([]float32, m*k)
	qs := make([]float32, local)

	min := float32(maxFloat32)
	max := float32(-maxFloat32)
	for d := 0; d < m; d++ {
		if d < q.RealSubcodebooks {
			qoff := d * local
			for j := 0; j < local; j++ {
				qs[j] = query[qoff+j] - q.globalCentroid[qoff+j]
			}
		} else {
			for j := range qs {
				qs[j] = 0
			}
		}
		for k2 := 0; k2 < k; k2++ {
			var v float32
			for j := 0; j < local; j++ {
				// localCodebooks is [M][local_dim][16]: centroid k2's j-th
				// coordinate lives at (d*local+j)*16 + k2.
				diff := qs[j] - q.localCodebooks[(d*local+j)*k+k2]
				v += diff * diff
			}
			raw[d*k+k2] = v
			if v > max {
				max = v
			}
			if v < min {
				min = v
			}
		}
	}

	out.Bias = min
	out.Scale = (max - min) / 255.0
	for i, v := range raw {
		out.Table[i] = quantizeLUTEntry(v, out.Bias, out.Scale)
	}
}
