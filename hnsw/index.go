package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/deathstroke44/hnswpq/quant"
	"github.com/deathstroke44/hnswpq/vector"
)

// Metric is this package's name for the distance capability: search and
// train code depends only on this interface, never on DenseL2/DenseAngular
// by name.
type Metric = vector.Metric

// Index is a trained layered proximity graph: level-0 adjacency for every
// node, sparse upper-level adjacency, and (optionally) a 4-bit product
// quantizer trained over the same vectors. Once Train returns
// successfully an Index is immutable; there is no update or delete path.
type Index struct {
	cfg   Config
	dim   int
	m     int // maxM: per-node cap above level 0
	maxM0 int // per-node cap at level 0: 2*M, rounded up to a multiple of 16 when PQ runs on the AVX-512F kernel
	efC   int

	globalMu  sync.Mutex
	nodeLocks []sync.Mutex // nil in lock-free (threads==1) mode
	maxLevel  int
	initNode  uint32

	numNode   int
	matrix    vector.Matrix
	level0    *level0Graph
	upper     *upperGraph
	nodeLevel []uint8

	quantizer *quant.Quantizer
	codeBytes int

	trained bool
	metrics *Metrics
	logger  interface {
		Warn(msg string, args ...any)
	}
}

// Info summarizes a trained Index, mirroring the train_params object
// persisted into config.json.
func (idx *Index) Info() TrainParams {
	return TrainParams{
		NumNode:  idx.numNode,
		MaxM:     idx.m,
		MaxM0:    idx.maxM0,
		EfC:      idx.efC,
		MaxLevel: idx.maxLevel,
		InitNode: int(idx.initNode),
	}
}

// Dim returns the vector dimensionality this index was trained on.
func (idx *Index) Dim() int { return idx.dim }

// Quantizer returns the trained product quantizer, or nil if PQ was not
// enabled for this index.
func (idx *Index) Quantizer() *quant.Quantizer { return idx.quantizer }

func (idx *Index) lockNode(id uint32) {
	if idx.nodeLocks != nil {
		idx.nodeLocks[id].Lock()
	}
}

func (idx *Index) unlockNode(id uint32) {
	if idx.nodeLocks != nil {
		idx.nodeLocks[id].Unlock()
	}
}

func (idx *Index) distance(a, b uint32) (float32, error) {
	return idx.cfg.Metric.Distance(idx.matrix.Row(int(a)), idx.matrix.Row(int(b)))
}

func (idx *Index) distanceToQuery(q vector.View, b uint32) (float32, error) {
	return idx.cfg.Metric.Distance(q, idx.matrix.Row(int(b)))
}

// Train builds a new Index over matrix's rows. quantizerM, when > 0,
// trains a 4-bit product quantizer alongside the graph with that many
// sub-codebooks; quantizerM == 0 disables PQ entirely. Train either
// returns a fully usable Index or an error; no partial state escapes.
func Train(matrix vector.Matrix, cfg Config, quantizerM int) (*Index, error) {
	numNode := matrix.Rows()
	dim := matrix.Dim()
	if err := cfg.validate(numNode, dim); err != nil {
		return nil, err
	}
	if quantizerM > 0 && dim%quantizerM != 0 {
		return nil, errf(ErrInvalidConfiguration, "PQ subcodebook count %d does not divide dimension %d", quantizerM, dim)
	}

	maxM0 := 2 * cfg.M
	if quantizerM > 0 && quant.SIMDActive() {
		// Pad per-node level-0 adjacency capacity to a multiple of 16 so
		// the AVX-512F group-distance kernel can load whole neighbor
		// groups without a remainder branch.
		_, maxM0 = quant.PadForSIMD(0, maxM0)
	}
	idx := &Index{
		cfg:     cfg,
		dim:     dim,
		m:       cfg.M,
		maxM0:   maxM0,
		efC:     cfg.EfConstruction,
		numNode: numNode,
		matrix:  matrix,
		metrics: cfg.Metrics,
		logger:  cfg.logger(),
	}

	stop := idx.metrics.startTrain()
	defer stop()

	nodeLevel, _ := sampleLevels(numNode, cfg.M, cfg.MaxLevelUpperBound, cfg.Seed)
	idx.nodeLevel = nodeLevel
	idx.level0 = newLevel0Graph(numNode, maxM0, 0)
	idx.upper = newUpperGraph(nodeLevel, cfg.M)

	threads := cfg.Threads
	if threads <= 0 {
		threads = 1
	}
	if threads > 1 {
		idx.nodeLocks = make([]sync.Mutex, numNode)
	}

	idx.maxLevel = 0
	idx.initNode = 0

	if err := idx.buildGraph(threads); err != nil {
		return nil, err
	}
	idx.sortAllNeighbors()

	if quantizerM > 0 {
		q, err := quant.NewQuantizer(dim, quantizerM)
		if err != nil {
			return nil, errf(ErrInvalidConfiguration, "%v", err)
		}
		flat := make([]float32, numNode*dim)
		for i := 0; i < numNode; i++ {
			copy(flat[i*dim:(i+1)*dim], matrix.Row(i))
		}
		if err := q.Train(flat, numNode, cfg.Seed, 10, threads, cfg.PQSubSamplePoints); err != nil {
			return nil, errf(ErrInvalidConfiguration, "%v", err)
		}
		idx.quantizer = q
		idx.codeBytes = (q.NumSubcodebooks + 1) / 2
		idx.attachCodes()
	}

	idx.trained = true
	return idx, nil
}

// attachCodes encodes every node's vector and stores the packed nibble
// codes on its level-0 node, next to that node's degree and neighbor ids.
// Features stay in the Index's matrix and are not copied there.
func (idx *Index) attachCodes() {
	codes := make([]uint8, idx.quantizer.NumSubcodebooks)
	for id := 0; id < idx.numNode; id++ {
		row := idx.matrix.Row(id)
		_ = idx.quantizer.Encode(row, codes)
		n := &idx.level0.nodes[id]
		if len(n.codes) != idx.codeBytes {
			n.codes = make([]byte, idx.codeBytes)
		}
		packNibbles(codes, n.codes)
	}
}

func packNibbles(codes []uint8, out []byte) {
	for i := range out {
		out[i] = 0
	}
	for i, c := range codes {
		b := i / 2
		if i%2 == 0 {
			out[b] |= c & 0x0f
		} else {
			out[b] |= (c & 0x0f) << 4
		}
	}
}

// sampleLevels draws one level per node from a geometric distribution
// with mean m_l = 1/ln(maxM), sequentially and before any concurrent work
// starts so the result is identical regardless of the build's thread
// count.
func sampleLevels(numNode, maxM, upperBound int, seed int64) ([]uint8, int) {
	rng := rand.New(rand.NewSource(seed))
	multL := 1.0 / math.Log(float64(maxM))
	levels := make([]uint8, numNode)
	maxSampled := 0
	for i := 0; i < numNode; i++ {
		lvl := int(-math.Log(rng.Float64()) * multL)
		if upperBound > 0 && lvl > upperBound {
			lvl = upperBound
		}
		if lvl > maxSampled {
			maxSampled = lvl
		}
		levels[i] = uint8(lvl)
	}
	return levels, maxSampled
}

// buildGraph runs the concurrent construction protocol over every node
// id, dynamically chunked across threads workers. Node 0 is inserted
// synchronously first, since it bootstraps the entry point and max
// level that every other node's descent reads.
func (idx *Index) buildGraph(threads int) error {
	if idx.numNode == 0 {
		return nil
	}
	bootstrap := newSearcher(idx)
	if err := idx.insertNode(0, bootstrap); err != nil {
		return err
	}
	if idx.numNode == 1 {
		return nil
	}

	ids := make(chan int, 256)
	errs := make(chan error, threads)
	var wg sync.WaitGroup
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sc := newSearcher(idx)
			for id := range ids {
				if err := idx.insertNode(uint32(id), sc); err != nil {
					select {
					case errs <- err:
					default:
					}
					return
				}
			}
		}()
	}
	for id := 1; id < idx.numNode; id++ {
		ids <- id
	}
	close(ids)
	wg.Wait()
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

// insertNode runs one node's construction step: node 0 is special-cased
// as the initial entry point; every other
// node descends greedily through upper layers, runs layered search and
// mutual connection at each level from min(level, maxLevel) down to 0,
// and may publish itself as the new entry point.
func (idx *Index) insertNode(id uint32, sc *Searcher) error {
	queryLevel := int(idx.nodeLevel[id])

	var lockedGlobal bool
	if queryLevel > idx.maxLevel {
		idx.globalMu.Lock()
		lockedGlobal = true
	}
	maxLevelSnapshot := idx.maxLevel
	currNode := idx.initNode

	if id == 0 {
		idx.initNode = 0
		idx.maxLevel = queryLevel
		if lockedGlobal {
			idx.globalMu.Unlock()
		}
		return nil
	}

	query := idx.matrix.Row(int(id))

	if queryLevel < maxLevelSnapshot {
		currDist, err := idx.distanceToQuery(query, currNode)
		if err != nil {
			return err
		}
		for level := maxLevelSnapshot; level > queryLevel; level-- {
			changed := true
			for changed {
				changed = false
				idx.lockNode(currNode)
				neighbors := append([]uint32(nil), idx.upper.neighborsOf(currNode, level)...)
				idx.unlockNode(currNode)
				for _, next := range neighbors {
					d, err := idx.distanceToQuery(query, next)
					if err != nil {
						return err
					}
					if d < currDist {
						currDist = d
						currNode = next
						changed = true
					}
				}
			}
		}
	}

	for level := min(queryLevel, maxLevelSnapshot); ; level-- {
		cands, err := idx.searchLevel(query, currNode, idx.efC, level, sc)
		if err != nil {
			return err
		}
		next, err := idx.mutuallyConnect(id, cands, level)
		if err != nil {
			return err
		}
		currNode = next
		if level == 0 {
			break
		}
	}

	if queryLevel > idx.maxLevel {
		idx.maxLevel = queryLevel
		idx.initNode = id
	}
	if lockedGlobal {
		idx.globalMu.Unlock()
	}
	return nil
}

// mutuallyConnect implements HNSW Algorithm 1 lines 10-17: pick up to M
// survivors from cands via the heuristic, then for each survivor s link
// src->s and, under s's lock, link s->src, re-pruning s's list with the
// heuristic if it is already at capacity. Returns the closest surviving
// neighbor as the next level's entry point.
func (idx *Index) mutuallyConnect(src uint32, cands []candidate, level int) (uint32, error) {
	mCurMax := idx.m
	if level == 0 {
		mCurMax = idx.maxM0
	}

	selected, err := selectNeighborsHeuristic(cands, idx.m, idx.distance)
	if err != nil {
		return 0, err
	}
	if len(selected) > idx.m {
		return 0, errf(ErrInternal, "heuristic returned more than M candidates")
	}

	for _, s := range selected {
		if err := idx.addLink(src, s.id, level, mCurMax); err != nil {
			return 0, err
		}
		if err := idx.addLink(s.id, src, level, mCurMax); err != nil {
			return 0, err
		}
	}
	if len(selected) == 0 {
		return src, nil
	}
	return selected[len(selected)-1].id, nil
}

// addLink adds a directed edge src->dst at level, under src's per-node
// lock. If src's list is already at mCurMax, it is rebuilt from the
// existing neighbors plus dst via the heuristic, capped at mCurMax.
//
// A self-edge or a degree already past its cap is a construction-protocol
// bug, never a consequence of caller input, so both panic rather than
// return ErrInternal.
func (idx *Index) addLink(src, dst uint32, level int, mCurMax int) error {
	if src == dst {
		panic(fmt.Sprintf("hnsw: self-edge attempted for node %d", src))
	}
	idx.lockNode(src)
	defer idx.unlockNode(src)

	degree := idx.degreeAt(src, level)
	if int(degree) > mCurMax {
		idx.logger.Warn("node degree exceeds cap", "node", src, "degree", degree, "cap", mCurMax)
		panic(fmt.Sprintf("hnsw: node %d degree %d exceeds cap %d", src, degree, mCurMax))
	}
	if int(degree) < mCurMax {
		return idx.appendAt(src, dst, level)
	}

	dMax, err := idx.distance(src, dst)
	if err != nil {
		return err
	}
	existing := idx.neighborsAt(src, level)
	cands := make([]candidate, 0, len(existing)+1)
	cands = append(cands, candidate{dist: dMax, id: dst})
	for _, n := range existing {
		d, err := idx.distance(src, n)
		if err != nil {
			return err
		}
		cands = append(cands, candidate{dist: d, id: n})
	}
	selected, err := selectNeighborsHeuristic(cands, mCurMax, idx.distance)
	if err != nil {
		return err
	}
	ids := make([]uint32, len(selected))
	for i, c := range selected {
		ids[i] = c.id
	}
	return idx.setAt(src, level, ids)
}

func (idx *Index) degreeAt(id uint32, level int) uint32 {
	if level == 0 {
		return idx.level0.degreeOf(id)
	}
	return idx.upper.degreeOf(id, level)
}

func (idx *Index) neighborsAt(id uint32, level int) []uint32 {
	if level == 0 {
		return idx.level0.neighborsOf(id)
	}
	return idx.upper.neighborsOf(id, level)
}

func (idx *Index) appendAt(id uint32, dst uint32, level int) error {
	if level == 0 {
		return idx.level0.appendNeighbor(id, dst)
	}
	return idx.upper.appendNeighbor(id, level, dst)
}

func (idx *Index) setAt(id uint32, level int, neighbors []uint32) error {
	if level == 0 {
		return idx.level0.setNeighbors(id, neighbors)
	}
	return idx.upper.setNeighbors(id, level, neighbors)
}

// selectNeighborsHeuristic implements HNSW Algorithm 4. When cands has
// fewer than capacity entries the heuristic is skipped entirely and
// cands is returned as-is in descending-distance order (the order a
// repeated max-heap pop would yield).
func selectNeighborsHeuristic(cands []candidate, capacity int, distFn func(a, b uint32) (float32, error)) ([]candidate, error) {
	if len(cands) < capacity {
		out := append([]candidate(nil), cands...)
		sortDescending(out)
		return out, nil
	}

	mh := &minHeap{items: append([]candidate(nil), cands...)}
	heap.Init(mh)

	survivors := make([]candidate, 0, capacity)
	for mh.Len() > 0 && len(survivors) < capacity {
		cur := heap.Pop(mh).(candidate)
		good := true
		for _, s := range survivors {
			d, err := distFn(s.id, cur.id)
			if err != nil {
				return nil, err
			}
			if d < cur.dist {
				good = false
				break
			}
		}
		if good {
			survivors = append(survivors, cur)
		}
	}
	sortDescending(survivors)
	return survivors, nil
}

// sortDescending sorts in place by distance descending, ties broken by
// ascending id, the deterministic order a maxHeap's repeated Pop yields.
func sortDescending(c []candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].dist != c[j].dist {
			return c[i].dist > c[j].dist
		}
		return c[i].id < c[j].id
	})
}

// sortAllNeighbors sorts every node's neighbor lists ascending by
// distance to the owning node, at every level, as the final construction
// step.
func (idx *Index) sortAllNeighbors() {
	for id := 0; id < idx.numNode; id++ {
		idx.sortListAt(uint32(id), 0)
		for level := 1; level <= int(idx.nodeLevel[id]); level++ {
			idx.sortListAt(uint32(id), level)
		}
	}
}

func (idx *Index) sortListAt(id uint32, level int) {
	neighbors := idx.neighborsAt(id, level)
	type pair struct {
		d  float32
		id uint32
	}
	pairs := make([]pair, len(neighbors))
	for i, n := range neighbors {
		d, _ := idx.distance(id, n)
		pairs[i] = pair{d, n}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].d != pairs[j].d {
			return pairs[i].d < pairs[j].d
		}
		return pairs[i].id < pairs[j].id
	})
	sorted := make([]uint32, len(pairs))
	for i, p := range pairs {
		sorted[i] = p.id
	}
	_ = idx.setAt(id, level, sorted)
}
