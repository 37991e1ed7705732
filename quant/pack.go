package quant

// PackForInference derives localCodebooks from originalLocalCodebooks.
// The scalar path is a plain copy; an AVX-512F build (see simd_avo_amd64.go)
// overrides this at init() with the transposing variant setup_lut's SIMD
// kernel needs. Train calls this once, after every sub-codebook has been
// fit, not per sub-codebook.
var packForInference = packDefault

func packDefault(q *Quantizer) {
	q.localCodebooks = append([]float32(nil), q.originalLocalCodebooks...)
}

// PackForInference is the public entry point Train uses; kept as a method
// so callers retraining in place (e.g. after Load, to rebuild the SIMD
// layout on a machine with a different CPU than the one that saved the
// file) can call it directly.
func (q *Quantizer) PackForInference() {
	packForInference(q)
}

// packTransposed implements the avx512f pack_codebook_for_inference
// variant: [M][16][local_dim] -> [M][local_dim][16]. It is portable Go
// (no intrinsics needed for a data reshuffle), wired in from
// simd_avo_amd64.go's init() when the process also has the AVX-512F
// group-distance kernel available, since the transposed layout only pays
// for itself when setup_lut's SIMD path consumes it.
func packTransposed(q *Quantizer) {
	m, k, local := q.NumSubcodebooks, numCentroids, q.LocalDimension
	out := make([]float32, len(q.originalLocalCodebooks))
	for i := 0; i < m; i++ {
		for j := 0; j < k; j++ {
			for l := 0; l < local; l++ {
				out[i*k*local+l*k+j] = q.originalLocalCodebooks[i*k*local+j*local+l]
			}
		}
	}
	q.localCodebooks = out
}
