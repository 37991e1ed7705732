// Package hnsw implements the layered proximity graph: its concurrent
// construction protocol, layered best-first search, and the on-disk
// format that lets a built graph (and an optional quant.Quantizer
// alongside it) round-trip through a directory of files.
//
// This file defines the bounded min-heap and max-heap over (distance, id)
// candidates used throughout construction and search, built on
// container/heap with deterministic tie-breaking: ties in the max-heap
// favor the lower id, ties in the min-heap favor the higher id, so
// identical inputs produce identical outputs on every platform and run.
package hnsw

import (
	"container/heap"
	"sort"
)

// candidate is a (distance, id) pair, the unit both heaps and the visited
// set operate over.
type candidate struct {
	dist float32
	id   uint32
}

// maxHeap keeps the capacity-bounded "best efS/efC results so far" set;
// its top is the worst (farthest) kept candidate, the one to evict first.
type maxHeap struct {
	items []candidate
	cap   int
}

func newMaxHeap(capacity int) *maxHeap {
	h := &maxHeap{items: make([]candidate, 0, capacity), cap: capacity}
	heap.Init(h)
	return h
}

func (h *maxHeap) Len() int { return len(h.items) }
func (h *maxHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.dist != b.dist {
		return a.dist > b.dist
	}
	return a.id < b.id
}
func (h *maxHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *maxHeap) Push(x any)    { h.items = append(h.items, x.(candidate)) }
func (h *maxHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

// Top returns the worst (farthest) kept candidate without removing it.
func (h *maxHeap) Top() candidate { return h.items[0] }

// PushBounded pushes c, then evicts the worst candidate if the heap now
// exceeds its configured capacity. Returns true if c is still present
// after the (possible) eviction.
func (h *maxHeap) PushBounded(c candidate) bool {
	heap.Push(h, c)
	if h.Len() > h.cap {
		evicted := heap.Pop(h).(candidate)
		return evicted != c
	}
	return true
}

func (h *maxHeap) reset() { h.items = h.items[:0] }

// minHeap orders candidates closest-first; used as the "frontier to
// explore" during layered search.
type minHeap struct {
	items []candidate
}

func newMinHeap(capacity int) *minHeap {
	h := &minHeap{items: make([]candidate, 0, capacity)}
	heap.Init(h)
	return h
}

func (h *minHeap) Len() int { return len(h.items) }
func (h *minHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.id > b.id
}
func (h *minHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *minHeap) Push(x any)    { h.items = append(h.items, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

func (h *minHeap) Top() candidate { return h.items[0] }

func (h *minHeap) reset() { h.items = h.items[:0] }

// sortedCandidates returns h's contents sorted ascending by (distance,
// id), draining the heap. Used to produce searchLevel's result list,
// and through it the final top-k ordering.
func sortedCandidates(h *maxHeap) []candidate {
	out := make([]candidate, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(candidate)
	}
	// The max-heap pops the lower id first among equal distances, which
	// leaves ties in descending id order; put them back in ascending order.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].id < out[j].id
	})
	return out
}
