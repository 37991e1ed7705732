package hnsw

import (
	"math/rand"
	"testing"

	"github.com/deathstroke44/hnswpq/vector"
)

func randomMatrix(t *testing.T, n, dim int, seed int64) vector.Matrix {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]float32, n*dim)
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	m, err := vector.NewMatrix(data, dim)
	if err != nil {
		t.Fatalf("NewMatrix: %v", err)
	}
	return m
}

func testConfig(threads int) Config {
	return Config{
		M:              8,
		EfConstruction: 32,
		Threads:        threads,
		Seed:           1,
		Metric:         &vector.DenseL2{},
	}
}

func TestTrainRejectsBadConfiguration(t *testing.T) {
	m := randomMatrix(t, 10, 4, 1)
	cfg := testConfig(1)
	cfg.M = 1
	if _, err := Train(m, cfg, 0); err == nil {
		t.Fatal("expected M < 2 to be rejected")
	}
}

func TestTrainBuildsDegreeBoundedGraph(t *testing.T) {
	m := randomMatrix(t, 200, 8, 42)
	cfg := testConfig(4)
	idx, err := Train(m, cfg, 0)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	for id := 0; id < idx.numNode; id++ {
		if d := idx.level0.degreeOf(uint32(id)); int(d) > idx.maxM0 {
			t.Fatalf("node %d level-0 degree %d exceeds maxM0 %d", id, d, idx.maxM0)
		}
		for _, n := range idx.level0.neighborsOf(uint32(id)) {
			if int(n) == id {
				t.Fatalf("node %d has a self-loop at level 0", id)
			}
		}
		for level := 1; level <= int(idx.nodeLevel[id]); level++ {
			if d := idx.upper.degreeOf(uint32(id), level); int(d) > idx.m {
				t.Fatalf("node %d level %d degree %d exceeds M %d", id, level, d, idx.m)
			}
			for _, n := range idx.upper.neighborsOf(uint32(id), level) {
				if int(n) == id {
					t.Fatalf("node %d has a self-loop at level %d", id, level)
				}
			}
		}
	}
}

func TestTrainLockFreeAndConcurrentAgree(t *testing.T) {
	m := randomMatrix(t, 150, 6, 7)
	single, err := Train(m, testConfig(1), 0)
	if err != nil {
		t.Fatalf("Train (threads=1): %v", err)
	}
	multi, err := Train(m, testConfig(4), 0)
	if err != nil {
		t.Fatalf("Train (threads=4): %v", err)
	}
	if single.maxLevel != multi.maxLevel {
		t.Fatalf("expected both builds to reach the same max level, got %d (threads=1) and %d (threads=4)", single.maxLevel, multi.maxLevel)
	}
}

func TestLevel0ReachableFromInitNode(t *testing.T) {
	m := randomMatrix(t, 100, 5, 3)
	idx, err := Train(m, testConfig(2), 0)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	visited := make([]bool, idx.numNode)
	queue := []uint32{idx.initNode}
	visited[idx.initNode] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, n := range idx.level0.neighborsOf(id) {
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	for id, ok := range visited {
		if !ok {
			t.Fatalf("node %d is unreachable from init node %d at level 0", id, idx.initNode)
		}
	}
}

func TestTrainWithQuantizerAttachesCodes(t *testing.T) {
	m := randomMatrix(t, 80, 8, 11)
	idx, err := Train(m, testConfig(2), 4)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if idx.Quantizer() == nil {
		t.Fatal("expected a trained quantizer")
	}
	for id := 0; id < idx.numNode; id++ {
		if len(idx.level0.nodes[id].codes) != idx.codeBytes {
			t.Fatalf("node %d has %d code bytes, expected %d", id, len(idx.level0.nodes[id].codes), idx.codeBytes)
		}
	}
}
