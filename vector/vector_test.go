package vector

import (
	"math"
	"testing"
)

func TestMatrixRow(t *testing.T) {
	m, err := NewMatrix([]float32{1, 2, 3, 4, 5, 6}, 3)
	if err != nil {
		t.Fatalf("NewMatrix: %v", err)
	}
	if m.Rows() != 2 {
		t.Fatalf("Rows() = %d, want 2", m.Rows())
	}
	row := m.Row(1)
	want := View{4, 5, 6}
	for i := range want {
		if row[i] != want[i] {
			t.Fatalf("Row(1)[%d] = %v, want %v", i, row[i], want[i])
		}
	}
}

func TestNewMatrixRejectsBadLength(t *testing.T) {
	if _, err := NewMatrix([]float32{1, 2, 3}, 2); err == nil {
		t.Fatal("expected error for non-multiple length")
	}
}

func TestDenseL2Distance(t *testing.T) {
	var m DenseL2
	d, err := m.Distance(View{0, 0}, View{3, 4})
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if math.Abs(float64(d)-25) > 1e-4 {
		t.Fatalf("got %v, want 25", d)
	}
}

func TestDenseAngularDistanceIdentical(t *testing.T) {
	v := View{1, 0, 0}
	m := DenseAngular{}
	d, err := m.Distance(v, v)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if math.Abs(float64(d)) > 1e-5 {
		t.Fatalf("got %v, want ~0 for identical unit vectors", d)
	}
}

func TestNormalize(t *testing.T) {
	v := View{3, 4}
	if err := Normalize(v); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	if math.Abs(float64(sumSq)-1) > 1e-3 {
		t.Fatalf("expected unit norm, got sumSq=%v", sumSq)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	v := View{0, 0, 0}
	if err := Normalize(v); err == nil {
		t.Fatal("expected error normalizing zero vector")
	}
}
