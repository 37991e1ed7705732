package kmeans

import "testing"

func twoBlobs() (x []float32, n, dim int) {
	dim = 2
	var rows [][2]float32
	for i := 0; i < 20; i++ {
		rows = append(rows, [2]float32{0 + float32(i%3)*0.01, 0 + float32(i%5)*0.01})
	}
	for i := 0; i < 20; i++ {
		rows = append(rows, [2]float32{10 + float32(i%3)*0.01, 10 + float32(i%5)*0.01})
	}
	for _, r := range rows {
		x = append(x, r[0], r[1])
	}
	n = len(rows)
	return
}

func TestClusterSeparatesBlobs(t *testing.T) {
	x, n, dim := twoBlobs()
	assign := make([]int32, n)
	if err := Cluster(x, n, dim, 2, 0, 42, assign, 10, 2); err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	first := assign[0]
	for i := 0; i < 20; i++ {
		if assign[i] != first {
			t.Fatalf("row %d assigned to %d, want %d (first blob)", i, assign[i], first)
		}
	}
	second := assign[20]
	if second == first {
		t.Fatal("expected the two blobs to land in different clusters")
	}
	for i := 20; i < n; i++ {
		if assign[i] != second {
			t.Fatalf("row %d assigned to %d, want %d (second blob)", i, assign[i], second)
		}
	}
}

func TestClusterRejectsBadMode(t *testing.T) {
	x, n, dim := twoBlobs()
	assign := make([]int32, n)
	if err := Cluster(x, n, dim, 2, 1, 42, assign, 10, 1); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
}

func TestClusterRejectsKGreaterThanN(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	assign := make([]int32, 2)
	if err := Cluster(x, 2, 2, 5, 0, 1, assign, 10, 1); err == nil {
		t.Fatal("expected error when k exceeds row count")
	}
}
