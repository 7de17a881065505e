package amd64

import "github.com/fncompiler/fncc/internal/mir"

// rexPrefix computes the REX byte per spec.md §4.E's rule: "emit REX.W+R+X+B
// whenever (a) operation is 64-bit, or (b) any accessed register's top bit
// is set, or (c) the byte-register encoding requires SPL/BPL/SIL/DIL
// disambiguation." w64 is true for a 64-bit operation; reg/idx/base are the
// registers occupying the ModRM.reg / SIB.index / ModRM.rm (or SIB.base)
// positions, any of which may be RegInvalid if unused; size8 marks an
// 8-bit operand, which forces REX.0 when reg or base lands in the
// RSP..RDI range (the legacy AH/CH/DH/BH encodings).
func rexPrefix(w64 bool, reg, idx, base mir.Reg, size8 bool) (byte, bool) {
	r := regTopBit(reg)
	x := regTopBit(idx)
	b := regTopBit(base)

	needsByteDisambig := size8 && (needsRexForByte(reg) || needsRexForByte(base))

	if !w64 && !r && !x && !b && !needsByteDisambig {
		return 0, false
	}

	rex := byte(0x40)
	if w64 {
		rex |= 0x08
	}
	if r {
		rex |= 0x04
	}
	if x {
		rex |= 0x02
	}
	if b {
		rex |= 0x01
	}
	return rex, true
}

func regTopBit(r mir.Reg) bool {
	return r != mir.RegInvalid && r.IsPhysical() && r.Encoding()&0x8 != 0
}

// needsRexForByte reports whether r, used as an 8-bit operand, is one of
// RSP/RBP/RSI/RDI (encodings 4-7) and therefore requires a REX prefix
// (even REX.0) to select SPL/BPL/SIL/DIL instead of the legacy
// AH/CH/DH/BH encodings.
func needsRexForByte(r mir.Reg) bool {
	if r == mir.RegInvalid || !r.IsPhysical() {
		return false
	}
	enc := r.Encoding()
	return enc >= 4 && enc <= 7
}
