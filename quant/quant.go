// Package quant implements the 4-bit product quantizer: training M
// sub-codebooks of 16 centroids each over slices of a training matrix,
// encoding full vectors into nibble-packed codes, and the query-time
// lookup-table machinery (setup, quantize, batched group-distance
// estimation) that makes comparing a query against thousands of codes
// cheap.
//
// Like the HNSW graph this quantizer sits behind, its hot path (group
// distance estimation) has two implementations selected once at process
// init by a CPU capability probe: a portable Go loop, and an AVX-512F
// kernel generated by avo (see simd_amd64.go and gen/main.go). Neither
// implementation is switched on per call; init() picks one function value
// and every caller goes through it.
package quant

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/deathstroke44/hnswpq/internal/kmeans"
)

// numCentroids is fixed by the 4-bit code width: one nibble addresses
// exactly 16 centroids per sub-codebook.
const numCentroids = 16

// Params describes a trained quantizer's shape; its three fields are the
// header of the pq.bin stream Save writes and Load reads back.
type Params struct {
	// NumSubcodebooks is the storage width: RealSubcodebooks rounded up to
	// a multiple of 4 when the AVX-512F kernel is active (see PadForSIMD).
	// Every codebook, code, and LUT array is sized by this value.
	NumSubcodebooks int `json:"num_subcodebooks"`
	// RealSubcodebooks is M, the number of sub-codebooks the original
	// dimension is actually split into and trained. NumSubcodebooks-
	// RealSubcodebooks trailing sub-codebooks are zero sub-codebooks: an
	// all-zero codebook that Encode always assigns code 0, added only so
	// the SIMD kernel can assume a multiple-of-4 width.
	RealSubcodebooks int `json:"real_subcodebooks"`
	// LocalDimension is D/M, the width of each sub-codebook's centroids.
	LocalDimension int `json:"local_dimension"`
}

// simdActive records whether this process selected the AVX-512F
// group-distance kernel at init time (see simd_avo_amd64.go). NewQuantizer
// consults it to decide whether M needs zero-sub-codebook padding at all;
// a scalar-only process has no reason to pad.
var simdActive bool

// SIMDActive reports whether the AVX-512F kernel is the active
// group-distance implementation in this process.
func SIMDActive() bool { return simdActive }

// Quantizer holds a trained 4-bit product quantizer: M sub-codebooks of 16
// centroids each over local_dim-wide slices of the original vector.
//
// originalLocalCodebooks is laid out [M][16][local_dim] (subcodebook-major,
// then centroid, then dimension) — the layout Train and Encode both use.
// localCodebooks is the same data transposed to [M][local_dim][16] by
// PackForInference, the layout setup_lut's hot loop streams over; on a
// machine without AVX-512F the transpose buys nothing, so the scalar pack
// path is a plain copy (see packDefault in pack.go).
type Quantizer struct {
	Params
	globalCentroid         []float32
	originalLocalCodebooks []float32
	localCodebooks         []float32
}

// NewQuantizer validates M and dimension and returns an untrained
// Quantizer ready for Train. When the AVX-512F kernel is active, M is
// padded up to a multiple of 4 with zero sub-codebooks (see
// Params.RealSubcodebooks); only the real M needs to divide dim.
func NewQuantizer(dim, m int) (*Quantizer, error) {
	if m <= 0 {
		return nil, errors.New("quant: number of subcodebooks must be positive")
	}
	if dim%m != 0 {
		return nil, fmt.Errorf("quant: dimension %d is not divisible by subcodebook count %d", dim, m)
	}
	storageM := m
	if simdActive {
		storageM, _ = PadForSIMD(m, 0)
	}
	return &Quantizer{Params: Params{
		NumSubcodebooks:  storageM,
		RealSubcodebooks: m,
		LocalDimension:   dim / m,
	}}, nil
}

// Train fits the quantizer's RealSubcodebooks sub-codebooks against the
// rows of x (n rows of RealSubcodebooks*LocalDimension float32 each,
// row-major). seed and maxIter are forwarded to the clustering
// collaborator (internal/kmeans); threads bounds how many goroutines each
// sub-codebook's clustering pass may use. subSamplePoints caps how many of
// the n rows each sub-codebook's clustering pass draws on, each drawn via
// its own uniform shuffle seeded off seed+m; 0 (or a value >= n) means use
// every row. Training is independent across sub-codebooks, so this
// package runs them concurrently, one goroutine per sub-codebook (see
// trainSubcodebook, spawned once per real m). Any zero sub-codebooks
// NewQuantizer added for SIMD padding are left at their zero value.
func (q *Quantizer) Train(x []float32, n int, seed int64, maxIter, threads, subSamplePoints int) error {
	dim := q.RealSubcodebooks * q.LocalDimension
	if n == 0 {
		return errors.New("quant: training matrix has no rows")
	}
	if len(x) != n*dim {
		return fmt.Errorf("quant: training data length %d does not match n*dim %d", len(x), n*dim)
	}
	if numCentroids > n {
		return fmt.Errorf("quant: need at least %d training rows, got %d", numCentroids, n)
	}
	if subSamplePoints < 0 {
		return fmt.Errorf("quant: sub_sample_points must be non-negative, got %d", subSamplePoints)
	}
	sampleSize := subSamplePoints
	if sampleSize == 0 || sampleSize > n {
		sampleSize = n
	}
	if numCentroids > sampleSize {
		return fmt.Errorf("quant: sub_sample_points %d is smaller than the %d centroids required", sampleSize, numCentroids)
	}

	q.globalCentroid = meanRow(x, n, dim)
	q.originalLocalCodebooks = make([]float32, q.NumSubcodebooks*numCentroids*q.LocalDimension)

	errs := make([]error, q.RealSubcodebooks)
	done := make(chan int, q.RealSubcodebooks)
	for m := 0; m < q.RealSubcodebooks; m++ {
		go func(m int) {
			errs[m] = q.trainSubcodebook(x, n, dim, m, seed+int64(m), maxIter, threads, sampleSize)
			done <- m
		}(m)
	}
	for i := 0; i < q.RealSubcodebooks; i++ {
		<-done
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	q.PackForInference()
	return nil
}

// trainSubcodebook clusters sub-space m's slice of sampleSize rows (drawn
// by a uniform shuffle of all n rows, seeded independently per
// sub-codebook) into 16 centroids, centering each slice by the matching
// span of globalCentroid first (the training-time analog of encode's
// query-centroid subtraction).
func (q *Quantizer) trainSubcodebook(x []float32, n, dim, m int, seed int64, maxIter, threads, sampleSize int) error {
	local := q.LocalDimension
	off := m * local
	g := q.globalCentroid[off : off+local]

	indices := rand.New(rand.NewSource(seed)).Perm(n)[:sampleSize]
	slice := make([]float32, sampleSize*local)
	for i, idx := range indices {
		row := x[idx*dim+off : idx*dim+off+local]
		dst := slice[i*local : i*local+local]
		for j := 0; j < local; j++ {
			dst[j] = row[j] - g[j]
		}
	}

	assign := make([]int32, sampleSize)
	if err := kmeans.Cluster(slice, sampleSize, local, numCentroids, 0, seed, assign, maxIter, threads); err != nil {
		return fmt.Errorf("quant: training subcodebook %d: %w", m, err)
	}

	centroidOff := m * numCentroids * local
	sums := make([]float32, numCentroids*local)
	counts := make([]int, numCentroids)
	for i := 0; i < sampleSize; i++ {
		c := assign[i]
		row := slice[i*local : i*local+local]
		dst := sums[int(c)*local : int(c)*local+local]
		for j, v := range row {
			dst[j] += v
		}
		counts[c]++
	}
	for c := 0; c < numCentroids; c++ {
		dst := q.originalLocalCodebooks[centroidOff+c*local : centroidOff+c*local+local]
		if counts[c] == 0 {
			continue
		}
		src := sums[c*local : c*local+local]
		inv := 1 / float32(counts[c])
		for j, v := range src {
			dst[j] = v * inv
		}
	}
	return nil
}

// Encode assigns query (RealSubcodebooks*LocalDimension float32) to its
// nearest centroid in each real sub-codebook, writing one 0-15 code per
// sub-codebook into codes (len(codes) must equal NumSubcodebooks, the
// padded storage width). This mirrors ProductQuantizer4Bits::encode
// exactly: it always reads from originalLocalCodebooks ([M][16][local_dim]),
// never from the SIMD-transposed localCodebooks. Any zero sub-codebooks
// beyond RealSubcodebooks always encode to code 0.
func (q *Quantizer) Encode(query []float32, codes []uint8) error {
	dim := q.RealSubcodebooks * q.LocalDimension
	if len(query) != dim {
		return fmt.Errorf("quant: query length %d does not match dimension %d", len(query), dim)
	}
	if len(codes) != q.NumSubcodebooks {
		return fmt.Errorf("quant: codes length %d does not match subcodebook count %d", len(codes), q.NumSubcodebooks)
	}
	local := q.LocalDimension
	for d := 0; d < q.RealSubcodebooks; d++ {
		best := -1
		var bestDist float32
		qoff := d * local
		for k := 0; k < numCentroids; k++ {
			coff := d*numCentroids*local + k*local
			var v float32
			for j := 0; j < local; j++ {
				diff := q.originalLocalCodebooks[coff+j] - (query[qoff+j] - q.globalCentroid[qoff+j])
				v += diff * diff
			}
			if best == -1 || v < bestDist {
				best = k
				bestDist = v
			}
		}
		codes[d] = uint8(best)
	}
	for d := q.RealSubcodebooks; d < q.NumSubcodebooks; d++ {
		codes[d] = 0
	}
	return nil
}

// meanRow computes the per-dimension mean of an n-row matrix. Used to
// populate globalCentroid: centering by the true mean strictly reduces
// quantization error without changing the encode/search contract, since
// both sides of every distance computation subtract the same value.
func meanRow(x []float32, n, dim int) []float32 {
	mean := make([]float32, dim)
	for i := 0; i < n; i++ {
		row := x[i*dim : i*dim+dim]
		for j, v := range row {
			mean[j] += v
		}
	}
	inv := 1 / float32(n)
	for j := range mean {
		mean[j] *= inv
	}
	return mean
}

// PadForSIMD rounds m (sub-codebook count) up to a multiple of 4 and
// maxDegree (per-node adjacency capacity) up to a multiple of 16, the two
// alignments the AVX-512F group-distance kernel assumes. NewQuantizer
// calls this for the M side whenever SIMDActive reports the AVX-512F
// kernel is selected; a graph builder enabling PQ under the same
// conditions calls it for the adjacency-capacity side (see hnsw.Train).
// Scalar-only deployments never need either padding.
func PadForSIMD(m, maxDegree int) (mPadded, maxDegreePadded int) {
	mPadded = m
	if mPadded%4 != 0 {
		mPadded = (mPadded/4 + 1) * 4
	}
	maxDegreePadded = maxDegree
	if maxDegreePadded%16 != 0 {
		maxDegreePadded = (maxDegreePadded/16 + 1) * 16
	}
	return
}
