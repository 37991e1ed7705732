//go:build amd64

package quant

// approximateGroupDistanceAVX512F computes ApproximateGroupDistance's
// batched 16-neighbor lookup using AVX-512F byte-shuffle gather.
//
//go:generate go run ./gen -stubs ./stubs_avo.go -out ./simd_avo.s
//func approximateGroupDistanceAVX512F(groupCodes []byte, m int, lut []uint8, scale, bias float32, out []float32)
