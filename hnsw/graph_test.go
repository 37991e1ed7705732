package hnsw

import "testing"

func TestLevel0GraphAppendAndRead(t *testing.T) {
	g := newLevel0Graph(4, 3, 0)
	if g.degreeOf(0) != 0 {
		t.Fatalf("expected new node to start at degree 0")
	}
	if err := g.appendNeighbor(0, 1); err != nil {
		t.Fatalf("appendNeighbor: %v", err)
	}
	if err := g.appendNeighbor(0, 2); err != nil {
		t.Fatalf("appendNeighbor: %v", err)
	}
	if g.degreeOf(0) != 2 {
		t.Fatalf("expected degree 2, got %d", g.degreeOf(0))
	}
	neighbors := g.neighborsOf(0)
	if len(neighbors) != 2 || neighbors[0] != 1 || neighbors[1] != 2 {
		t.Fatalf("unexpected neighbors %v", neighbors)
	}
}

func TestLevel0GraphAppendRejectsOverflow(t *testing.T) {
	g := newLevel0Graph(2, 1, 0)
	if err := g.appendNeighbor(0, 1); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := g.appendNeighbor(0, 2); err == nil {
		t.Fatal("expected append beyond maxM0 to fail")
	}
}

func TestLevel0GraphSetNeighborsRejectsOversized(t *testing.T) {
	g := newLevel0Graph(2, 1, 0)
	if err := g.setNeighbors(0, []uint32{1, 2}); err == nil {
		t.Fatal("expected oversized neighbor set to be rejected")
	}
}

func TestUpperGraphOnlyAllocatesSampledLevels(t *testing.T) {
	levels := []uint8{0, 2, 1}
	g := newUpperGraph(levels, 4)
	if g.lists[0] != nil {
		t.Fatal("expected node 0 (level 0) to have no upper storage")
	}
	if len(g.lists[1]) != 2 {
		t.Fatalf("expected node 1 to have 2 upper levels, got %d", len(g.lists[1]))
	}
	if len(g.lists[2]) != 1 {
		t.Fatalf("expected node 2 to have 1 upper level, got %d", len(g.lists[2]))
	}
}

func TestUpperGraphAppendAndRead(t *testing.T) {
	levels := []uint8{1, 1}
	g := newUpperGraph(levels, 2)
	if err := g.appendNeighbor(0, 1, 1); err != nil {
		t.Fatalf("appendNeighbor: %v", err)
	}
	if g.degreeOf(0, 1) != 1 {
		t.Fatalf("expected degree 1, got %d", g.degreeOf(0, 1))
	}
	if neighbors := g.neighborsOf(0, 1); len(neighbors) != 1 || neighbors[0] != 1 {
		t.Fatalf("unexpected neighbors %v", neighbors)
	}
}
