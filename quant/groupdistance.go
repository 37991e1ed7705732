package quant

import "fmt"

// GroupSize is the neighbor-batch width both the scalar and AVX-512F
// group-distance kernels operate on. The AVX-512F kernel loads 16 uint16
// lanes at a time; the scalar kernel mirrors the same batch size so the
// two paths produce bit-for-bit identical code layouts and are
// interchangeable.
const GroupSize = 16

// approximateGroupDistance is overridden at init() by the AVX-512F variant
// (see simd_avo_amd64.go) once cpuid confirms the feature is present;
// the scalar version below is always a valid fallback.
var approximateGroupDistance = approximateGroupDistanceDefault

// PackGroup nibble-packs up to GroupSize neighbors' codes into the
// sub-codebook-major layout ApproximateGroupDistance expects: for each of
// the m sub-codebooks, GroupSize/2 bytes, low nibble holding the even
// neighbor's code and high nibble the odd neighbor's. Groups with fewer
// than GroupSize neighbors are padded with code 0; callers must track the
// true neighbor count themselves and ignore the padding slots in the
// returned distances.
//
// codes[i] is neighbor i's per-subcodebook code slice (length m, values
// 0-15); len(codes) must be <= GroupSize.
func PackGroup(codes [][]uint8, m int) ([]byte, error) {
	if len(codes) > GroupSize {
		return nil, fmt.Errorf("quant: group has %d neighbors, max is %d", len(codes), GroupSize)
	}
	packed := make([]byte, m*(GroupSize/2))
	for i := 0; i < m; i++ {
		base := i * (GroupSize / 2)
		for n, c := range codes {
			if c[i] > 15 {
				return nil, fmt.Errorf("quant: code %d out of nibble range for subcodebook %d", c[i], i)
			}
			byteIdx := base + n/2
			if n%2 == 0 {
				packed[byteIdx] |= c[i] & 0x0f
			} else {
				packed[byteIdx] |= (c[i] & 0x0f) << 4
			}
		}
	}
	return packed, nil
}

// ApproximateGroupDistance estimates the distance between a query (whose
// LUT has already been built by SetupLUT) and up to GroupSize neighbors
// packed by PackGroup, writing GroupSize float32 scores into out (out[n]
// for padding slots beyond the true neighbor count is meaningless and
// must be ignored by the caller).
//
// The returned values are ranking scores, not true squared distances: the
// quantization bias is folded in once per group rather than once per
// sub-codebook, so scores are monotonic in true distance within one
// query's LUT but are not comparable across different queries or additive
// with anything else.
func ApproximateGroupDistance(groupCodes []byte, m int, lut *LUT, out []float32) error {
	if len(groupCodes) != m*(GroupSize/2) {
		return fmt.Errorf("quant: group codes length %d does not match m*%d", len(groupCodes), GroupSize/2)
	}
	if len(lut.Table) != m*numCentroids {
		return fmt.Errorf("quant: LUT length %d does not match m*%d", len(lut.Table), numCentroids)
	}
	if len(out) != GroupSize {
		return fmt.Errorf("quant: out length must be %d", GroupSize)
	}
	approximateGroupDistance(groupCodes, m, lut.Table, lut.Scale, lut.Bias, out)
	return nil
}

func approximateGroupDistanceDefault(groupCodes []byte, m int, lut []uint8, scale, bias float32, out []float32) {
	var acc [GroupSize]uint32
	localID := groupCodes
	for i := 0; i < m; i++ {
		lutRow := lut[i*numCentroids : i*numCentroids+numCentroids]
		for k := 0; k < GroupSize; k++ {
			obj := localID[0]
			if k%2 == 0 {
				obj &= 0x0f
			} else {
				obj >>= 4
				localID = localID[1:]
			}
			acc[k] += uint32(lutRow[obj])
		}
	}
	for k := 0; k < GroupSize; k++ {
		out[k] = float32(acc[k])*scale + bias
	}
}
