package quant

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxBlockFloats caps a single length-prefixed float32 block read from
// pq.bin, guarding against a corrupt or hostile size prefix causing an
// enormous allocation before any data has been validated.
const maxBlockFloats = 1 << 30

// Save writes the quantizer to w in the exact byte order
// ProductQuantizer4Bits::save uses: num_local_codebooks (uint32),
// real_subcodebooks (uint32), local_dimension (int32), then the three
// float32 blocks global_centroid, originalLocalCodebooks, localCodebooks,
// each preceded by its element count as a uint64. real_subcodebooks lets
// Load rebuild a quantizer whose trailing sub-codebooks are SIMD padding
// without needing the CPU that trained it to have had AVX-512F too.
func (q *Quantizer) Save(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(q.NumSubcodebooks)); err != nil {
		return fmt.Errorf("quant: writing subcodebook count: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(q.RealSubcodebooks)); err != nil {
		return fmt.Errorf("quant: writing real subcodebook count: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(q.LocalDimension)); err != nil {
		return fmt.Errorf("quant: writing local dimension: %w", err)
	}
	for _, block := range [][]float32{q.globalCentroid, q.originalLocalCodebooks, q.localCodebooks} {
		if err := writeFloatBlock(w, block); err != nil {
			return err
		}
	}
	return nil
}

func writeFloatBlock(w io.Writer, block []float32) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(block))); err != nil {
		return fmt.Errorf("quant: writing block length: %w", err)
	}
	if len(block) == 0 {
		return nil
	}
	if err := binary.Write(w, binary.LittleEndian, block); err != nil {
		return fmt.Errorf("quant: writing block data: %w", err)
	}
	return nil
}

// Load reads a quantizer previously written by Save. Every length prefix
// is validated before the corresponding allocation, guarding against a
// corrupt or hostile size field driving an enormous allocation.
func Load(r io.Reader) (*Quantizer, error) {
	var m uint32
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return nil, fmt.Errorf("quant: reading subcodebook count: %w", err)
	}
	var realM uint32
	if err := binary.Read(r, binary.LittleEndian, &realM); err != nil {
		return nil, fmt.Errorf("quant: reading real subcodebook count: %w", err)
	}
	var local int32
	if err := binary.Read(r, binary.LittleEndian, &local); err != nil {
		return nil, fmt.Errorf("quant: reading local dimension: %w", err)
	}
	if m == 0 || realM == 0 || realM > m || local <= 0 {
		return nil, fmt.Errorf("quant: invalid header (m=%d, real_m=%d, local_dim=%d)", m, realM, local)
	}

	global, err := readFloatBlock(r)
	if err != nil {
		return nil, fmt.Errorf("quant: reading global centroid: %w", err)
	}
	original, err := readFloatBlock(r)
	if err != nil {
		return nil, fmt.Errorf("quant: reading original local codebooks: %w", err)
	}
	packed, err := readFloatBlock(r)
	if err != nil {
		return nil, fmt.Errorf("quant: reading packed local codebooks: %w", err)
	}

	q := &Quantizer{
		Params:                 Params{NumSubcodebooks: int(m), RealSubcodebooks: int(realM), LocalDimension: int(local)},
		globalCentroid:         global,
		originalLocalCodebooks: original,
		localCodebooks:         packed,
	}
	return q, nil
}

func readFloatBlock(r io.Reader) ([]float32, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("reading length prefix: %w", err)
	}
	if n > maxBlockFloats {
		return nil, fmt.Errorf("block length %d exceeds sanity limit", n)
	}
	if n == 0 {
		return nil, nil
	}
	block := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, block); err != nil {
		return nil, fmt.Errorf("reading block data: %w", err)
	}
	return block, nil
}
