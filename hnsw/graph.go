package hnsw

// level0Node is one node's level-0 adjacency: a fixed-capacity neighbor
// array sized maxM0 up front, an optional inlined PQ code block, and the
// degree itself. Neighbor ids beyond degree are not meaningful. The
// struct groups one node's level-0 state in one element of the
// level0Graph.nodes slice; the neighbor and code arrays it points to are
// separate allocations, not stored inline.
type level0Node struct {
	degree    uint32
	neighbors []uint32
	codes     []byte
}

// level0Graph is flat storage for every node's level-0 adjacency.
// Features themselves are not duplicated here; the owning Index keeps a
// single vector.Matrix and every other structure refers to rows by id.
type level0Graph struct {
	nodes []level0Node
	maxM0 int
}

func newLevel0Graph(numNode, maxM0, codeBytes int) *level0Graph {
	nodes := make([]level0Node, numNode)
	for i := range nodes {
		nodes[i].neighbors = make([]uint32, maxM0)
		if codeBytes > 0 {
			nodes[i].codes = make([]byte, codeBytes)
		}
	}
	return &level0Graph{nodes: nodes, maxM0: maxM0}
}

// degreeOf returns node id's current level-0 out-degree.
func (g *level0Graph) degreeOf(id uint32) uint32 { return g.nodes[id].degree }

// neighborsOf returns the live (within current degree) neighbor ids of
// node id at level 0. The returned slice aliases internal storage and
// must not be retained past the next write to id's adjacency.
func (g *level0Graph) neighborsOf(id uint32) []uint32 {
	n := &g.nodes[id]
	return n.neighbors[:n.degree]
}

// setNeighbors overwrites id's full level-0 neighbor list and publishes
// the new degree last, so a concurrent reader sees either the old or the
// new consistent state, never a mix.
func (g *level0Graph) setNeighbors(id uint32, neighbors []uint32) error {
	n := &g.nodes[id]
	if len(neighbors) > len(n.neighbors) {
		return ErrInternal
	}
	copy(n.neighbors, neighbors)
	n.degree = uint32(len(neighbors))
	return nil
}

// appendNeighbor adds dst to id's level-0 list without disturbing
// existing entries, publishing the incremented degree last. Callers must
// already hold id's per-node lock and must have verified there is room.
func (g *level0Graph) appendNeighbor(id, dst uint32) error {
	n := &g.nodes[id]
	if int(n.degree) >= len(n.neighbors) {
		return ErrInternal
	}
	n.neighbors[n.degree] = dst
	n.degree++
	return nil
}

// upperLevelList is one node's adjacency at a single level ≥ 1: capacity
// maxM, current degree, same publish-degree-last discipline as level 0.
type upperLevelList struct {
	degree    uint32
	neighbors []uint32
}

// upperGraph holds per-node, per-level (1-indexed by position: lists[id][0]
// is level 1, lists[id][1] is level 2, ...) sparse adjacency. Only nodes
// whose sampled level reaches a given layer have storage there at all.
type upperGraph struct {
	lists [][]upperLevelList
	maxM  int
}

func newUpperGraph(nodeLevels []uint8, maxM int) *upperGraph {
	lists := make([][]upperLevelList, len(nodeLevels))
	for id, lvl := range nodeLevels {
		if lvl == 0 {
			continue
		}
		ll := make([]upperLevelList, lvl)
		for l := range ll {
			ll[l].neighbors = make([]uint32, maxM)
		}
		lists[id] = ll
	}
	return &upperGraph{lists: lists, maxM: maxM}
}

func (g *upperGraph) degreeOf(id uint32, level int) uint32 {
	return g.lists[id][level-1].degree
}

func (g *upperGraph) neighborsOf(id uint32, level int) []uint32 {
	l := &g.lists[id][level-1]
	return l.neighbors[:l.degree]
}

func (g *upperGraph) setNeighbors(id uint32, level int, neighbors []uint32) error {
	l := &g.lists[id][level-1]
	if len(neighbors) > len(l.neighbors) {
		return ErrInternal
	}
	copy(l.neighbors, neighbors)
	l.degree = uint32(len(neighbors))
	return nil
}

func (g *upperGraph) appendNeighbor(id uint32, level int, dst uint32) error {
	l := &g.lists[id][level-1]
	if int(l.degree) >= len(l.neighbors) {
		return ErrInternal
	}
	l.neighbors[l.degree] = dst
	l.degree++
	return nil
}
