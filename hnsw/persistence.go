package hnsw

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/deathstroke44/hnswpq/quant"
	"github.com/deathstroke44/hnswpq/vector"
)

// Save writes dir/config.json, dir/index.bin, and (if this index has a
// quantizer) dir/pq.bin. It builds the full tree in a sibling temporary
// directory named with a random uuid and renames it into place last, so
// a reader never observes a half-written index.
func (idx *Index) Save(dir string) error {
	tmp := dir + ".tmp-" + uuid.NewString()
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return errf(ErrIoError, "creating temp directory: %v", err)
	}
	defer os.RemoveAll(tmp)

	if err := idx.writeConfig(filepath.Join(tmp, "config.json")); err != nil {
		return err
	}
	if err := idx.writeIndexBin(filepath.Join(tmp, "index.bin")); err != nil {
		return err
	}
	if idx.quantizer != nil {
		if err := idx.writeQuantBin(filepath.Join(tmp, "pq.bin")); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return errf(ErrIoError, "removing previous directory: %v", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return errf(ErrIoError, "renaming into place: %v", err)
	}
	return nil
}

func (idx *Index) writeConfig(path string) error {
	sidecar := configSidecar{
		HnswT:       hnswTag,
		Version:     currentVersion,
		TrainParams: idx.Info(),
		Metric:      idx.cfg.Metric.Name(),
		Dim:         idx.dim,
		HasQuant:    idx.quantizer != nil,
	}
	f, err := os.Create(path)
	if err != nil {
		return errf(ErrIoError, "creating config.json: %v", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sidecar); err != nil {
		return errf(ErrIoError, "writing config.json: %v", err)
	}
	return nil
}

// writeIndexBin writes, in this exact order: the scalar header
// [num_node, maxM, maxM0, efC, max_level, init_node]; the level-0 block
// (its own header of [element, feature, code, neighbor-block] byte
// sizes, then one [features || codes || degree || neighbor_ids[maxM0]]
// blob per node); then the upper-levels block (its own header of
// [element, neighbor-block] byte sizes, then one [level_count, then
// level x [degree || neighbor_ids[maxM]]] record per node).
func (idx *Index) writeIndexBin(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errf(ErrIoError, "creating index.bin: %v", err)
	}
	defer f.Close()
	w := io.Writer(f)

	header := []uint32{
		uint32(idx.numNode),
		uint32(idx.m),
		uint32(idx.maxM0),
		uint32(idx.efC),
		uint32(idx.maxLevel),
		idx.initNode,
	}
	for _, h := range header {
		if err := binary.Write(w, binary.LittleEndian, h); err != nil {
			return errf(ErrIoError, "writing header: %v", err)
		}
	}

	featureBytes := uint32(idx.dim) * 4
	codeBytes := uint32(idx.codeBytes)
	neighborBlockBytes := uint32(idx.maxM0) * 4
	elementBytes := featureBytes + codeBytes + 4 + neighborBlockBytes
	level0Header := []uint32{elementBytes, featureBytes, codeBytes, neighborBlockBytes}
	for _, h := range level0Header {
		if err := binary.Write(w, binary.LittleEndian, h); err != nil {
			return errf(ErrIoError, "writing level-0 header: %v", err)
		}
	}

	// Each node's blob colocates its features, PQ codes (if enabled),
	// degree, and full neighbor array, matching one cache-friendly read
	// per node touched during search.
	for id := 0; id < idx.numNode; id++ {
		n := &idx.level0.nodes[id]
		if err := binary.Write(w, binary.LittleEndian, []float32(idx.matrix.Row(id))); err != nil {
			return errf(ErrIoError, "writing node %d features: %v", id, err)
		}
		if idx.codeBytes > 0 {
			if err := binary.Write(w, binary.LittleEndian, n.codes); err != nil {
				return errf(ErrIoError, "writing node %d codes: %v", id, err)
			}
		}
		if err := binary.Write(w, binary.LittleEndian, n.degree); err != nil {
			return errf(ErrIoError, "writing node %d degree: %v", id, err)
		}
		if err := binary.Write(w, binary.LittleEndian, n.neighbors[:idx.maxM0]); err != nil {
			return errf(ErrIoError, "writing node %d neighbors: %v", id, err)
		}
	}

	upperNeighborBlockBytes := uint32(idx.m) * 4
	upperElementBytes := 4 + upperNeighborBlockBytes
	upperHeader := []uint32{upperElementBytes, upperNeighborBlockBytes}
	for _, h := range upperHeader {
		if err := binary.Write(w, binary.LittleEndian, h); err != nil {
			return errf(ErrIoError, "writing upper-level header: %v", err)
		}
	}

	for id := 0; id < idx.numNode; id++ {
		level := idx.nodeLevel[id]
		if err := binary.Write(w, binary.LittleEndian, uint32(level)); err != nil {
			return errf(ErrIoError, "writing node %d level count: %v", id, err)
		}
		for l := 1; l <= int(level); l++ {
			deg := idx.upper.degreeOf(uint32(id), l)
			neighbors := idx.upper.lists[id][l-1].neighbors
			if err := binary.Write(w, binary.LittleEndian, deg); err != nil {
				return errf(ErrIoError, "writing node %d level %d degree: %v", id, l, err)
			}
			if err := binary.Write(w, binary.LittleEndian, neighbors[:idx.m]); err != nil {
				return errf(ErrIoError, "writing node %d level %d neighbors: %v", id, l, err)
			}
		}
	}
	return nil
}

func (idx *Index) writeQuantBin(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errf(ErrIoError, "creating pq.bin: %v", err)
	}
	defer f.Close()
	if err := idx.quantizer.Save(f); err != nil {
		return errf(ErrIoError, "writing pq.bin: %v", err)
	}
	return nil
}

// Load reads back an Index previously written by Save. metric must be
// the same Metric implementation (by Name) the index was trained with;
// Load does not reconstruct a Metric from its name since doing so would
// require a registry this package does not maintain.
func Load(dir string, metric Metric) (*Index, error) {
	sidecar, err := readConfig(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, err
	}
	if sidecar.HnswT != hnswTag {
		return nil, errf(ErrInvalidState, "unexpected hnsw_t tag %q", sidecar.HnswT)
	}
	if sidecar.Version != currentVersion {
		return nil, errf(ErrInvalidState, "unsupported version %q", sidecar.Version)
	}
	if sidecar.Metric != metric.Name() {
		return nil, errf(ErrInvalidState, "config metric %q does not match supplied metric %q", sidecar.Metric, metric.Name())
	}

	idx, err := readIndexBin(filepath.Join(dir, "index.bin"), sidecar)
	if err != nil {
		return nil, err
	}
	idx.cfg = Config{
		M:              sidecar.TrainParams.MaxM,
		EfConstruction: sidecar.TrainParams.EfC,
		Metric:         metric,
	}
	idx.metrics = nil
	idx.logger = nil

	if sidecar.HasQuant {
		q, err := readQuantBin(filepath.Join(dir, "pq.bin"))
		if err != nil {
			return nil, err
		}
		idx.quantizer = q
		idx.codeBytes = (q.NumSubcodebooks + 1) / 2
	}

	idx.trained = true
	return idx, nil
}

func readConfig(path string) (configSidecar, error) {
	f, err := os.Open(path)
	if err != nil {
		return configSidecar{}, errf(ErrIoError, "opening config.json: %v", err)
	}
	defer f.Close()
	var sidecar configSidecar
	if err := json.NewDecoder(f).Decode(&sidecar); err != nil {
		return configSidecar{}, errf(ErrIoError, "decoding config.json: %v", err)
	}
	return sidecar, nil
}

func readIndexBin(path string, sidecar configSidecar) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errf(ErrIoError, "opening index.bin: %v", err)
	}
	defer f.Close()
	r := io.Reader(f)

	var header [6]uint32
	for i := range header {
		if err := binary.Read(r, binary.LittleEndian, &header[i]); err != nil {
			return nil, errf(ErrIoError, "reading header: %v", err)
		}
	}
	numNode, m, maxM0, efC, maxLevel, initNode := int(header[0]), int(header[1]), int(header[2]), int(header[3]), int(header[4]), header[5]

	var level0Header [4]uint32
	for i := range level0Header {
		if err := binary.Read(r, binary.LittleEndian, &level0Header[i]); err != nil {
			return nil, errf(ErrIoError, "reading level-0 header: %v", err)
		}
	}
	elementBytes, featureBytes, codeBytes, neighborBlockBytes := level0Header[0], level0Header[1], level0Header[2], level0Header[3]
	if featureBytes == 0 || featureBytes%4 != 0 {
		return nil, errf(ErrInvalidState, "level-0 header feature byte-size %d is not a positive multiple of 4", featureBytes)
	}
	dim := int(featureBytes / 4)
	if neighborBlockBytes != uint32(maxM0)*4 {
		return nil, errf(ErrInvalidState, "level-0 header neighbor-block byte-size %d does not match maxM0 %d", neighborBlockBytes, maxM0)
	}
	if elementBytes != featureBytes+codeBytes+4+neighborBlockBytes {
		return nil, errf(ErrInvalidState, "level-0 header element byte-size %d is inconsistent with its own fields", elementBytes)
	}
	if dim != sidecar.Dim {
		return nil, errf(ErrInvalidState, "index.bin dim %d does not match config.json dim %d", dim, sidecar.Dim)
	}
	if (codeBytes > 0) != sidecar.HasQuant {
		return nil, errf(ErrInvalidState, "index.bin code block presence disagrees with config.json has_quant")
	}

	flat := make([]float32, numNode*dim)
	level0 := newLevel0Graph(numNode, maxM0, int(codeBytes))
	for id := 0; id < numNode; id++ {
		if err := binary.Read(r, binary.LittleEndian, flat[id*dim:(id+1)*dim]); err != nil {
			return nil, errf(ErrIoError, "reading node %d features: %v", id, err)
		}
		n := &level0.nodes[id]
		if codeBytes > 0 {
			if err := binary.Read(r, binary.LittleEndian, n.codes); err != nil {
				return nil, errf(ErrIoError, "reading node %d codes: %v", id, err)
			}
		}
		if err := binary.Read(r, binary.LittleEndian, &n.degree); err != nil {
			return nil, errf(ErrIoError, "reading node %d degree: %v", id, err)
		}
		if int(n.degree) > maxM0 {
			return nil, errf(ErrInvalidState, "node %d degree %d exceeds maxM0 %d", id, n.degree, maxM0)
		}
		if err := binary.Read(r, binary.LittleEndian, n.neighbors); err != nil {
			return nil, errf(ErrIoError, "reading node %d neighbors: %v", id, err)
		}
	}
	matrix, err := vector.NewMatrix(flat, dim)
	if err != nil {
		return nil, errf(ErrInvalidState, "%v", err)
	}

	var upperHeader [2]uint32
	for i := range upperHeader {
		if err := binary.Read(r, binary.LittleEndian, &upperHeader[i]); err != nil {
			return nil, errf(ErrIoError, "reading upper-level header: %v", err)
		}
	}
	upperElementBytes, upperNeighborBlockBytes := upperHeader[0], upperHeader[1]
	if upperNeighborBlockBytes != uint32(m)*4 {
		return nil, errf(ErrInvalidState, "upper-level header neighbor-block byte-size %d does not match maxM %d", upperNeighborBlockBytes, m)
	}
	if upperElementBytes != 4+upperNeighborBlockBytes {
		return nil, errf(ErrInvalidState, "upper-level header element byte-size %d is inconsistent with its own fields", upperElementBytes)
	}

	nodeLevel := make([]uint8, numNode)
	upper := newUpperGraph(nodeLevel, m)
	for id := 0; id < numNode; id++ {
		var levelCount uint32
		if err := binary.Read(r, binary.LittleEndian, &levelCount); err != nil {
			return nil, errf(ErrIoError, "reading node %d level count: %v", id, err)
		}
		nodeLevel[id] = uint8(levelCount)
		upper.lists[id] = newUpperGraph(nodeLevel[id:id+1], m).lists[0]
		for l := 1; l <= int(nodeLevel[id]); l++ {
			list := &upper.lists[id][l-1]
			if err := binary.Read(r, binary.LittleEndian, &list.degree); err != nil {
				return nil, errf(ErrIoError, "reading node %d level %d degree: %v", id, l, err)
			}
			if int(list.degree) > m {
				return nil, errf(ErrInvalidState, "node %d level %d degree %d exceeds M %d", id, l, list.degree, m)
			}
			if err := binary.Read(r, binary.LittleEndian, list.neighbors); err != nil {
				return nil, errf(ErrIoError, "reading node %d level %d neighbors: %v", id, l, err)
			}
		}
	}

	return &Index{
		dim:       dim,
		m:         m,
		maxM0:     maxM0,
		efC:       efC,
		maxLevel:  maxLevel,
		initNode:  initNode,
		numNode:   numNode,
		codeBytes: int(codeBytes),
		matrix:    matrix,
		level0:    level0,
		upper:     upper,
		nodeLevel: nodeLevel,
	}, nil
}

func readQuantBin(path string) (*quant.Quantizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errf(ErrIoError, "opening pq.bin: %v", err)
	}
	defer f.Close()
	q, err := quant.Load(f)
	if err != nil {
		return nil, errf(ErrIoError, "reading pq.bin: %v", err)
	}
	return q, nil
}
