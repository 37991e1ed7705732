package quant

import (
	"bytes"
	"math/rand"
	"testing"
)

func makeTrainingMatrix(n, dim int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	// Two well-separated clusters per sub-space so k-means has an easy,
	// deterministic job and Encode/SetupLUT round-trip cleanly.
	x := make([]float32, n*dim)
	for i := 0; i < n; i++ {
		center := float32(0)
		if i%2 == 1 {
			center = 20
		}
		for j := 0; j < dim; j++ {
			x[i*dim+j] = center + float32(rng.NormFloat64())*0.1
		}
	}
	return x
}

func TestTrainEncodeRoundTrip(t *testing.T) {
	const n, dim, m = 64, 8, 4
	x := makeTrainingMatrix(n, dim, 1)

	q, err := NewQuantizer(dim, m)
	if err != nil {
		t.Fatalf("NewQuantizer: %v", err)
	}
	if err := q.Train(x, n, 7, 10, 2, 0); err != nil {
		t.Fatalf("Train: %v", err)
	}

	codes := make([]uint8, m)
	if err := q.Encode(x[0:dim], codes); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, c := range codes {
		if c > 15 {
			t.Fatalf("code %d out of nibble range", c)
		}
	}
}

func TestTrainRespectsSubSamplePoints(t *testing.T) {
	const n, dim, m = 256, 8, 4
	x := makeTrainingMatrix(n, dim, 9)

	q, err := NewQuantizer(dim, m)
	if err != nil {
		t.Fatalf("NewQuantizer: %v", err)
	}
	if err := q.Train(x, n, 11, 10, 2, 32); err != nil {
		t.Fatalf("Train with sub_sample_points: %v", err)
	}

	codes := make([]uint8, m)
	if err := q.Encode(x[0:dim], codes); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, c := range codes {
		if c > 15 {
			t.Fatalf("code %d out of nibble range", c)
		}
	}
}

func TestTrainRejectsSubSamplePointsBelowCentroidCount(t *testing.T) {
	const n, dim, m = 64, 8, 4
	x := makeTrainingMatrix(n, dim, 12)

	q, err := NewQuantizer(dim, m)
	if err != nil {
		t.Fatalf("NewQuantizer: %v", err)
	}
	if err := q.Train(x, n, 6, 10, 2, 8); err == nil {
		t.Fatal("expected error when sub_sample_points is below the centroid count")
	}
}

func TestNewQuantizerPadsSubcodebooksWhenSIMDActive(t *testing.T) {
	old := simdActive
	simdActive = true
	defer func() { simdActive = old }()

	const dim = 6 // divisible by the real M of 3
	q, err := NewQuantizer(dim, 3)
	if err != nil {
		t.Fatalf("NewQuantizer: %v", err)
	}
	if q.RealSubcodebooks != 3 {
		t.Fatalf("RealSubcodebooks = %d, want 3", q.RealSubcodebooks)
	}
	if q.NumSubcodebooks != 4 {
		t.Fatalf("NumSubcodebooks = %d, want 4 (padded to a multiple of 4)", q.NumSubcodebooks)
	}

	const n = 64
	x := makeTrainingMatrix(n, dim, 21)
	if err := q.Train(x, n, 13, 10, 2, 0); err != nil {
		t.Fatalf("Train: %v", err)
	}

	codes := make([]uint8, q.NumSubcodebooks)
	if err := q.Encode(x[0:dim], codes); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if codes[3] != 0 {
		t.Fatalf("zero sub-codebook code = %d, want 0", codes[3])
	}

	var lut LUT
	if err := q.SetupLUT(x[0:dim], &lut); err != nil {
		t.Fatalf("SetupLUT: %v", err)
	}
	if len(lut.Table) != q.NumSubcodebooks*numCentroids {
		t.Fatalf("LUT table length = %d, want %d", len(lut.Table), q.NumSubcodebooks*numCentroids)
	}
}

func TestEncodeRejectsWrongLength(t *testing.T) {
	q, err := NewQuantizer(8, 4)
	if err != nil {
		t.Fatalf("NewQuantizer: %v", err)
	}
	q.globalCentroid = make([]float32, 8)
	q.originalLocalCodebooks = make([]float32, 4*numCentroids*2)
	codes := make([]uint8, 4)
	if err := q.Encode(make([]float32, 3), codes); err == nil {
		t.Fatal("expected error for mismatched query length")
	}
}

func TestNewQuantizerRejectsNonDivisibleDimension(t *testing.T) {
	if _, err := NewQuantizer(10, 3); err == nil {
		t.Fatal("expected error when dimension is not divisible by m")
	}
}

func TestPackGroupAndApproximateGroupDistance(t *testing.T) {
	const m = 2
	lut := &LUT{
		Table: make([]uint8, m*numCentroids),
		Scale: 1,
		Bias:  0,
	}
	// Make centroid 3 of every subcodebook the cheapest entry.
	for i := 0; i < m; i++ {
		for k := 0; k < numCentroids; k++ {
			lut.Table[i*numCentroids+k] = uint8(10 + k)
		}
		lut.Table[i*numCentroids+3] = 1
	}

	codes := make([][]uint8, GroupSize)
	for n := range codes {
		codes[n] = []uint8{3, 3}
	}
	codes[5] = []uint8{7, 7}

	packed, err := PackGroup(codes, m)
	if err != nil {
		t.Fatalf("PackGroup: %v", err)
	}

	out := make([]float32, GroupSize)
	if err := ApproximateGroupDistance(packed, m, lut, out); err != nil {
		t.Fatalf("ApproximateGroupDistance: %v", err)
	}
	for n := range out {
		if n == 5 {
			continue
		}
		if out[n] != 2 { // two subcodebooks, each contributing lut value 1
			t.Fatalf("out[%d] = %v, want 2", n, out[n])
		}
	}
	if out[5] <= out[0] {
		t.Fatalf("expected neighbor 5 (code 7) to score worse than neighbor 0 (code 3): out[5]=%v out[0]=%v", out[5], out[0])
	}
}

func TestPackGroupRejectsTooManyNeighbors(t *testing.T) {
	codes := make([][]uint8, GroupSize+1)
	for i := range codes {
		codes[i] = []uint8{0}
	}
	if _, err := PackGroup(codes, 1); err == nil {
		t.Fatal("expected error for oversized group")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	const n, dim, m = 64, 8, 4
	x := makeTrainingMatrix(n, dim, 2)
	q, err := NewQuantizer(dim, m)
	if err != nil {
		t.Fatalf("NewQuantizer: %v", err)
	}
	if err := q.Train(x, n, 3, 10, 2, 0); err != nil {
		t.Fatalf("Train: %v", err)
	}

	var buf bytes.Buffer
	if err := q.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NumSubcodebooks != q.NumSubcodebooks || loaded.RealSubcodebooks != q.RealSubcodebooks || loaded.LocalDimension != q.LocalDimension {
		t.Fatalf("params mismatch: got %+v, want %+v", loaded.Params, q.Params)
	}
	if len(loaded.originalLocalCodebooks) != len(q.originalLocalCodebooks) {
		t.Fatalf("codebook length mismatch: got %d, want %d", len(loaded.originalLocalCodebooks), len(q.originalLocalCodebooks))
	}
}

func TestLoadRejectsTruncatedHeader(t *testing.T) {
	buf := bytes.NewReader([]byte{1, 2, 3})
	if _, err := Load(buf); err == nil {
		t.Fatal("expected error reading truncated header")
	}
}

func TestSetupLUTProducesBoundedTable(t *testing.T) {
	const n, dim, m = 64, 8, 4
	x := makeTrainingMatrix(n, dim, 4)
	q, err := NewQuantizer(dim, m)
	if err != nil {
		t.Fatalf("NewQuantizer: %v", err)
	}
	if err := q.Train(x, n, 5, 10, 2, 0); err != nil {
		t.Fatalf("Train: %v", err)
	}

	var lut LUT
	if err := q.SetupLUT(x[0:dim], &lut); err != nil {
		t.Fatalf("SetupLUT: %v", err)
	}
	if len(lut.Table) != m*numCentroids {
		t.Fatalf("LUT table length = %d, want %d", len(lut.Table), m*numCentroids)
	}
}
