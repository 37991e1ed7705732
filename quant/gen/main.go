package main

import (
	. "github.com/mmcloughlin/avo/build"
	. "github.com/mmcloughlin/avo/operand"
)

func main() {
	TEXT("approximateGroupDistanceAVX512F", NOSPLIT, "func(groupCodes []byte, m int, lut []uint8, scale, bias float32, out []float32)")
	Pragma("noescape")
	Doc("approximateGroupDistanceAVX512F estimates distances for a 16-neighbor group by gathering nibble-addressed lookup-table bytes with a ZMM byte shuffle.")
	generateApproximateGroupDistance()
	Generate()
}

// generateApproximateGroupDistance mirrors
// ProductQuantizer4Bits::approximate_neighbor_group_distance's avx512f
// overload: walk the sub-codebooks four at a time (one 64-byte LUT chunk
// covers four 16-entry tables), unpack the interleaved low/high nibble
// streams for all 16 neighbors, gather through the LUT with a byte
// shuffle, and accumulate into a 16-lane saturating sum before the final
// scale/bias pass.
func generateApproximateGroupDistance() {
	codesPtr := Load(Param("groupCodes").Base(), GP64())
	m := Load(Param("m"), GP64())
	lutPtr := Load(Param("lut").Base(), GP64())
	scale := Load(Param("scale"), XMM())
	bias := Load(Param("bias"), XMM())
	outPtr := Load(Param("out").Base(), GP64())

	sum := ZMM()
	VPXORQ(sum, sum, sum)

	blocks := GP64()
	MOVQ(m, blocks)
	ADDQ(Imm(3), blocks)
	SHRQ(Imm(2), blocks) // num_dimension_block = ceil(m/4)

	maskLo := ZMM()
	maskHi := ZMM()
	VPBROADCASTW(Imm(0x000f), maskLo)
	VPBROADCASTW(Imm(0x00f0), maskHi)

	Label("group_dim_block_loop")
	CMPQ(blocks, Imm(0))
	JE(LabelRef("group_dim_block_done"))

	lut512 := ZMM()
	VMOVDQU64(Mem{Base: lutPtr}, lut512)

	packed := ZMM()
	VPMOVZXBW(Mem{Base: codesPtr}, packed)

	lo := ZMM()
	hi := ZMM()
	VPANDQ(maskLo, packed, lo)
	VPANDQ(maskHi, packed, hi)
	VPSLLW(Imm(4), hi, hi)
	obj := ZMM()
	VPORQ(lo, hi, obj)

	gathered := ZMM()
	VPSHUFB(obj, lut512, gathered)

	widenedLo := ZMM()
	widenedHi := ZMM()
	VEXTRACTI64X4(Imm(0), gathered, widenedLo.AsY())
	VEXTRACTI64X4(Imm(1), gathered, widenedHi.AsY())
	VPMOVZXBW(widenedLo.AsY(), widenedLo)
	VPMOVZXBW(widenedHi.AsY(), widenedHi)
	VPADDUSW(sum, widenedLo, sum)
	VPADDUSW(sum, widenedHi, sum)

	ADDQ(Imm(64), lutPtr)
	ADDQ(Imm(32), codesPtr)
	DECQ(blocks)
	JMP(LabelRef("group_dim_block_loop"))

	Label("group_dim_block_done")

	sumLoW := ZMM()
	sumHiW := ZMM()
	VEXTRACTI64X4(Imm(0), sum, sumLoW.AsY())
	VEXTRACTI64X4(Imm(1), sum, sumHiW.AsY())
	VPMOVZXWD(sumLoW.AsY(), sumLoW)
	VPMOVZXWD(sumHiW.AsY(), sumHiW)

	distInt := ZMM()
	VPADDD(sumLoW, sumHiW, distInt)

	distF := ZMM()
	VCVTDQ2PS(distInt, distF)

	scaleVec := ZMM()
	biasVec := ZMM()
	VBROADCASTSS(scale, scaleVec)
	VBROADCASTSS(bias, biasVec)
	VMULPS(scaleVec, distF, distF)
	VADDPS(biasVec, distF, distF)

	VMOVUPS(distF, Mem{Base: outPtr})
	RET()
}
