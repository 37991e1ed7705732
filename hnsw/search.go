package hnsw

import (
	"container/heap"
	"time"

	"github.com/deathstroke44/hnswpq/vector"
)

// Searcher holds one goroutine's scratch state for layered search: a
// visited set and a pair of heaps. Each construction worker creates one
// and reuses it for every node it inserts. Index.Search does not take a
// Searcher; it allocates a fresh one on every call.
type Searcher struct {
	idx     *Index
	visited *visitedSet
	nearest *minHeap
	best    *maxHeap
}

func newSearcher(idx *Index) *Searcher {
	return &Searcher{
		idx:     idx,
		visited: newVisitedSet(idx.numNode),
		nearest: newMinHeap(idx.efC),
		best:    newMaxHeap(idx.efC),
	}
}

// NewSearcher returns a Searcher bound to idx. Safe for use by exactly one
// goroutine at a time. No exported function or method of this package
// accepts a Searcher, so it does not let Index.Search reuse scratch state
// across queries.
func NewSearcher(idx *Index) *Searcher {
	return newSearcher(idx)
}

// searchLevel runs HNSW's Algorithm 2 (SEARCH-LAYER) starting from
// entry, exploring level, and returns up to ef candidates ordered
// ascending by distance to query. Shared by construction (level) and by
// Index.Search's level-0 pass.
func (idx *Index) searchLevel(query vector.View, entry uint32, ef int, level int, sc *Searcher) ([]candidate, error) {
	sc.visited.growTo(idx.numNode)
	sc.visited.reset()
	sc.nearest.reset()
	sc.best.reset()
	sc.best.cap = ef

	entryDist, err := idx.distanceToQuery(query, entry)
	if err != nil {
		return nil, err
	}
	sc.visited.markVisited(entry)
	heap.Push(sc.nearest, candidate{dist: entryDist, id: entry})
	heap.Push(sc.best, candidate{dist: entryDist, id: entry})

	for sc.nearest.Len() > 0 {
		c := sc.nearest.Top()
		if c.dist > sc.best.Top().dist {
			break
		}
		heap.Pop(sc.nearest)

		var neighbors []uint32
		if level == 0 {
			idx.lockNode(c.id)
			neighbors = append([]uint32(nil), idx.level0.neighborsOf(c.id)...)
			idx.unlockNode(c.id)
		} else {
			idx.lockNode(c.id)
			neighbors = append([]uint32(nil), idx.upper.neighborsOf(c.id, level)...)
			idx.unlockNode(c.id)
		}

		for _, n := range neighbors {
			if sc.visited.isVisited(n) {
				continue
			}
			sc.visited.markVisited(n)
			d, err := idx.distanceToQuery(query, n)
			if err != nil {
				return nil, err
			}
			if sc.best.Len() < ef || d < sc.best.Top().dist {
				heap.Push(sc.nearest, candidate{dist: d, id: n})
				sc.best.PushBounded(candidate{dist: d, id: n})
			}
		}
	}

	return sortedCandidates(sc.best), nil
}

// Search returns the k nearest neighbors of query, exploring a candidate
// list of size max(efSearch, k) at level 0: descend greedily from the
// top level down to level 1, then run searchLevel at level 0 with the
// requested beam width.
func (idx *Index) Search(query vector.View, efSearch, k int) ([]uint32, []float32, error) {
	if !idx.trained {
		return nil, nil, errf(ErrInvalidState, "index has not been trained")
	}
	if len(query) != idx.dim {
		return nil, nil, errf(ErrInvalidConfiguration, "query dimension %d does not match index dimension %d", len(query), idx.dim)
	}
	if k <= 0 {
		return nil, nil, errf(ErrInvalidConfiguration, "k must be positive, got %d", k)
	}
	ef := efSearch
	if k > ef {
		ef = k
	}

	start := time.Now()
	sc := newSearcher(idx)

	curr := idx.initNode
	currDist, err := idx.distanceToQuery(query, curr)
	if err != nil {
		return nil, nil, err
	}
	for level := idx.maxLevel; level > 0; level-- {
		changed := true
		for changed {
			changed = false
			idx.lockNode(curr)
			neighbors := append([]uint32(nil), idx.upper.neighborsOf(curr, level)...)
			idx.unlockNode(curr)
			for _, n := range neighbors {
				d, err := idx.distanceToQuery(query, n)
				if err != nil {
					return nil, nil, err
				}
				if d < currDist {
					currDist = d
					curr = n
					changed = true
				}
			}
		}
	}

	cands, err := idx.searchLevel(query, curr, ef, 0, sc)
	if err != nil {
		return nil, nil, err
	}
	if len(cands) > k {
		cands = cands[:k]
	}

	ids := make([]uint32, len(cands))
	dists := make([]float32, len(cands))
	for i, c := range cands {
		ids[i] = c.id
		dists[i] = c.dist
	}

	idx.metrics.observeSearch(time.Since(start), sc.visited.Visited())
	return ids, dists, nil
}
