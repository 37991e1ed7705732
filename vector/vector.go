// Package vector provides the dense float32 vector view and the two
// distance metrics the graph and quantizer packages build on: squared
// Euclidean (L2) and angular (cosine on normalized rows).
//
// The package follows the dispatch-table shape used throughout this
// module's distance code: a small catalog of named metrics, each backed
// by a Gonum BLAS kernel, selected once by the caller rather than
// re-dispatched on every pairwise call.
package vector

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/blas/gonum"
)

// View is a read-only handle onto one row of a Matrix. It never copies.
type View []float32

// Matrix is a dense, row-major collection of equal-length float32 vectors.
// Callers construct one from whatever vector source they have; how those
// vectors were produced is intentionally left external to this module —
// Matrix is the boundary.
type Matrix struct {
	data []float32
	dim  int
}

// NewMatrix wraps data as n rows of dim float32 each. len(data) must equal
// n*dim; NewMatrix returns an error otherwise.
func NewMatrix(data []float32, dim int) (Matrix, error) {
	if dim <= 0 {
		return Matrix{}, errors.New("vector: dimension must be positive")
	}
	if len(data)%dim != 0 {
		return Matrix{}, fmt.Errorf("vector: data length %d is not a multiple of dim %d", len(data), dim)
	}
	return Matrix{data: data, dim: dim}, nil
}

// Rows returns the number of vectors stored in m.
func (m Matrix) Rows() int {
	if m.dim == 0 {
		return 0
	}
	return len(m.data) / m.dim
}

// Dim returns the per-row dimensionality.
func (m Matrix) Dim() int { return m.dim }

// Row returns a zero-copy view of row i.
func (m Matrix) Row(i int) View {
	off := i * m.dim
	return View(m.data[off : off+m.dim])
}

// Metric computes a distance (or distance-like score, for Angular) between
// two equal-length views and names itself for persistence. It has no
// prefetch method; the prefetch hint is the package-level Prefetch.
type Metric interface {
	// Distance returns the metric's score between a and b. Lower is closer.
	Distance(a, b View) (float32, error)
	// Name identifies the metric for persistence (config.json's "metric" field).
	Name() string
}

// Prefetch nudges the runtime to bring v's backing array into cache before
// it is used for a distance computation. In pure Go there is no
// _mm_prefetch intrinsic; the read of v[0] is the idiomatic stand-in a
// copy into a scratch buffer relies on implicitly. No code in this module
// emits a hardware prefetch instruction; quant's avo-generated AVX-512
// kernel does not issue one either.
//
//go:noinline
func Prefetch(v View) {
	if len(v) > 0 {
		_ = v[0]
	}
}

// Normalize scales v in place to unit L2 norm, returning an error if v is
// the zero vector. Angular distance assumes its inputs are pre-normalized
// this way; callers that build an index over DenseAngular must normalize
// every row before insertion and every query before search.
func Normalize(v View) error {
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return errors.New("vector: cannot normalize the zero vector")
	}
	inv := invSqrt(sumSq)
	for i := range v {
		v[i] *= inv
	}
	return nil
}

// invSqrt is the scalar 1/sqrt(x) used by Normalize.
func invSqrt(x float32) float32 {
	return 1.0 / float32(math.Sqrt(float64(x)))
}

var gonumEngine = gonum.Implementation{}

// diffPool supplies the scratch buffer DenseL2.Distance needs for its
// Saxpy step. A *DenseL2 is shared across every build worker and query
// goroutine, so the scratch cannot live on the struct itself; a
// sync.Pool gives each concurrent caller its own buffer without an
// allocation on the common path.
var diffPool = sync.Pool{
	New: func() any { return make([]float32, 0, 64) },
}

// DenseL2 computes squared Euclidean distance via Gonum's Saxpy+Sdot,
// mirroring distance's squaredEuclideanGonum. Safe for concurrent use by
// multiple goroutines.
type DenseL2 struct{}

func (m *DenseL2) Name() string { return "l2" }

func (m *DenseL2) Distance(a, b View) (float32, error) {
	n := len(a)
	if n != len(b) {
		return 0, errors.New("vector: mismatched dimensions")
	}
	if n == 0 {
		return 0, nil
	}
	diff := diffPool.Get().([]float32)
	if cap(diff) < n {
		diff = make([]float32, n)
	}
	diff = diff[:n]
	copy(diff, a)
	gonumEngine.Saxpy(n, -1, b, 1, diff, 1)
	d := gonumEngine.Sdot(n, diff, 1, diff, 1)
	diffPool.Put(diff[:0])
	return d, nil
}

// DenseAngular computes 1 - cosine similarity via Gonum's Sdot, assuming
// both rows are already unit-normalized (see Normalize).
type DenseAngular struct{}

func (m DenseAngular) Name() string { return "angular" }

func (m DenseAngular) Distance(a, b View) (float32, error) {
	if len(a) != len(b) {
		return 0, errors.New("vector: mismatched dimensions")
	}
	dot := gonumEngine.Sdot(len(a), a, 1, b, 1)
	return 1 - dot, nil
}
