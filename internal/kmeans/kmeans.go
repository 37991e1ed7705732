// Package kmeans implements the clustering collaborator quant.Train
// depends on: given a dense matrix, a cluster count, a seed, an
// iteration cap and a thread count, it produces one integer assignment
// per row.
//
// This is a flat Lloyd's-algorithm k-means with k-means++ seeding. The
// quantizer this package feeds always asks for k=16 centroids per
// sub-codebook, a small enough k that a single flat pass is exact enough
// and a lot easier to read than a hierarchical tree would be.
package kmeans

import (
	"errors"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Cluster assigns n rows of x into k clusters, writing one assignment
// per row into assign. mode selects the clustering strategy; only mode 0
// (flat k-means) is implemented, and any other value is rejected with a
// plain error.
func Cluster(x []float32, n, dim, k, mode int, seed int64, assign []int32, maxIter, threads int) error {
	if mode != 0 {
		return errors.New("kmeans: only flat clustering (mode 0) is implemented")
	}
	if len(assign) != n {
		return errors.New("kmeans: assign buffer length must equal the row count")
	}
	centroids, err := Run(x, n, dim, k, seed, maxIter, threads)
	if err != nil {
		return err
	}
	assignStep(x, n, dim, centroids, k, assign, maxThreads(threads))
	return nil
}

func maxThreads(threads int) int {
	if threads <= 0 {
		return 1
	}
	return threads
}

// Run clusters the rows of x (n rows of dim float32 each, row-major) into
// k centroids and returns them as a k*dim row-major slice; it does not
// return per-row assignments (Cluster computes those from the result).
// seed controls the k-means++ centroid seeding, including the random rows
// it picks when every remaining point coincides with a chosen centroid;
// it does not need to be cryptographically random. threads bounds how
// many goroutines divide the per-iteration assignment step; 0 or 1 runs
// it sequentially.
func Run(x []float32, n, dim, k int, seed int64, maxIter, threads int) ([]float32, error) {
	if n == 0 || dim == 0 || k <= 0 {
		return nil, errors.New("kmeans: n, dim and k must all be positive")
	}
	if k > n {
		return nil, errors.New("kmeans: k cannot exceed the number of rows")
	}
	if maxIter <= 0 {
		maxIter = 10
	}
	if threads <= 0 {
		threads = 1
	}

	rng := newRNG(seed)
	centroids := seedPlusPlus(x, n, dim, k, rng)
	assign := make([]int32, n)

	for iter := 0; iter < maxIter; iter++ {
		changed := assignStep(x, n, dim, centroids, k, assign, threads)
		updateCentroids(x, n, dim, k, assign, centroids)
		if !changed && iter > 0 {
			break
		}
	}
	return centroids, nil
}

// assignStep assigns every row to its nearest centroid, returning whether
// any assignment changed from the previous iteration.
func assignStep(x []float32, n, dim int, centroids []float32, k int, assign []int32, threads int) bool {
	changed := make([]bool, threads)
	var wg sync.WaitGroup
	chunk := (n + threads - 1) / threads
	for t := 0; t < threads; t++ {
		lo := t * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(t, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				row := x[i*dim : i*dim+dim]
				best := int32(0)
				bestDist := float32(math.MaxFloat32)
				for c := 0; c < k; c++ {
					cen := centroids[c*dim : c*dim+dim]
					d := sqDist(row, cen)
					if d < bestDist {
						bestDist = d
						best = int32(c)
					}
				}
				if assign[i] != best {
					assign[i] = best
					changed[t] = true
				}
			}
		}(t, lo, hi)
	}
	wg.Wait()
	for _, c := range changed {
		if c {
			return true
		}
	}
	return false
}

func updateCentroids(x []float32, n, dim, k int, assign []int32, centroids []float32) {
	sums := make([]float32, k*dim)
	counts := make([]int, k)
	for i := 0; i < n; i++ {
		c := int(assign[i])
		row := x[i*dim : i*dim+dim]
		dst := sums[c*dim : c*dim+dim]
		sum64 := toFloat64(dst)
		floats.Add(sum64, toFloat64(row))
		copyBack(dst, sum64)
		counts[c]++
	}
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			continue // keep the previous centroid for empty clusters
		}
		dst := centroids[c*dim : c*dim+dim]
		mean := toFloat64(sums[c*dim : c*dim+dim])
		floats.Scale(1/float64(counts[c]), mean)
		copyBack(dst, mean)
	}
}

// seedPlusPlus picks k initial centroids using the k-means++ scheme: the
// first is uniform random, each subsequent one is chosen with probability
// proportional to its squared distance from the nearest already-chosen
// centroid.
func seedPlusPlus(x []float32, n, dim, k int, rng *rngState) []float32 {
	centroids := make([]float32, 0, k*dim)
	first := rng.Intn(n)
	centroids = append(centroids, x[first*dim:first*dim+dim]...)

	dist := make([]float32, n)
	for len(centroids) < k*dim {
		var total float64
		for i := 0; i < n; i++ {
			row := x[i*dim : i*dim+dim]
			best := float32(math.MaxFloat32)
			for c := 0; c*dim < len(centroids); c++ {
				cen := centroids[c*dim : c*dim+dim]
				if d := sqDist(row, cen); d < best {
					best = d
				}
			}
			dist[i] = best
			total += float64(best)
		}
		if total == 0 {
			// All remaining points coincide with a chosen centroid; pad
			// with arbitrary rows to reach k.
			idx := rng.Intn(n)
			centroids = append(centroids, x[idx*dim:idx*dim+dim]...)
			continue
		}
		target := rng.Float64() * total
		var cum float64
		chosen := n - 1
		for i := 0; i < n; i++ {
			cum += float64(dist[i])
			if cum >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, x[chosen*dim:chosen*dim+dim]...)
	}
	return centroids
}

func sqDist(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func copyBack(dst []float32, src []float64) {
	for i, x := range src {
		dst[i] = float32(x)
	}
}

// rngState is a small splitmix64-based PRNG so this package doesn't need
// math/rand's global lock on the hot training path, and so results are
// reproducible from a caller-supplied seed.
type rngState struct{ s uint64 }

func newRNG(seed int64) *rngState { return &rngState{s: uint64(seed) + 0x9E3779B97F4A7C15} }

func (r *rngState) next() uint64 {
	r.s += 0x9E3779B97F4A7C15
	z := r.s
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func (r *rngState) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.next() % uint64(n))
}

func (r *rngState) Float64() float64 {
	return float64(r.next()>>11) / float64(1<<53)
}
