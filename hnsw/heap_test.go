package hnsw

import (
	"container/heap"
	"testing"
)

func TestMaxHeapTieBreaksOnAscendingID(t *testing.T) {
	h := newMaxHeap(4)
	heap.Push(h, candidate{dist: 1.0, id: 5})
	heap.Push(h, candidate{dist: 1.0, id: 2})
	heap.Push(h, candidate{dist: 2.0, id: 9})

	if top := h.Top(); top.dist != 2.0 {
		t.Fatalf("expected farthest candidate at top, got dist %v", top.dist)
	}
	heap.Pop(h)
	if top := h.Top(); top.id != 2 {
		t.Fatalf("expected tie broken toward lower id, got %d", top.id)
	}
}

func TestMaxHeapPushBoundedEvictsWorst(t *testing.T) {
	h := newMaxHeap(2)
	if !h.PushBounded(candidate{dist: 1, id: 1}) {
		t.Fatal("expected first push to survive")
	}
	if !h.PushBounded(candidate{dist: 2, id: 2}) {
		t.Fatal("expected second push to survive")
	}
	if h.PushBounded(candidate{dist: 5, id: 3}) {
		t.Fatal("expected the worst (farthest) candidate to be evicted, not the new one")
	}
	if h.Len() != 2 {
		t.Fatalf("expected capacity to stay at 2, got %d", h.Len())
	}
}

func TestMinHeapTieBreaksOnDescendingID(t *testing.T) {
	h := newMinHeap(4)
	heap.Push(h, candidate{dist: 1.0, id: 2})
	heap.Push(h, candidate{dist: 1.0, id: 5})
	heap.Push(h, candidate{dist: 0.5, id: 9})

	if top := h.Top(); top.dist != 0.5 {
		t.Fatalf("expected closest candidate at top, got dist %v", top.dist)
	}
	heap.Pop(h)
	if top := h.Top(); top.id != 5 {
		t.Fatalf("expected tie broken toward higher id, got %d", top.id)
	}
}

func TestSortedCandidatesAscending(t *testing.T) {
	h := newMaxHeap(8)
	for _, c := range []candidate{{dist: 3, id: 1}, {dist: 1, id: 2}, {dist: 2, id: 3}} {
		heap.Push(h, c)
	}
	sorted := sortedCandidates(h)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].dist > sorted[i].dist {
			t.Fatalf("expected ascending order, got %v", sorted)
		}
	}
}
