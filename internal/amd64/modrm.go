package amd64

import "github.com/fncompiler/fncc/internal/mir"

// memOperand describes one addressing-mode operand, already resolved to
// either a register base or a RIP-relative reference (spec.md §4.E's
// "memory -> register" / "register -> memory" form families).
type memOperand struct {
	ripRelative bool
	symbolName  string // not set by addressOperand, which returns the symbol separately
	base        mir.Reg
	disp        int32
}

const (
	modIndirect   = 0b00
	modDisp8      = 0b01
	modDisp32     = 0b10
	modRegDirect  = 0b11
	ripRM         = 0b101
	sibPresentRM  = 0b100
	sibNoIndex    = 0b100
	sibNoScale    = 0b00
)

// emitRegDirect writes a ModRM byte for a register-direct operand (mod=11).
func (e *encoderBuf) emitRegDirect(regField, rmField mir.Reg) {
	e.write1(modrmByte(modRegDirect, regField.Encoding(), rmField.Encoding()))
}

// emitMem writes the ModRM (and SIB and displacement, as needed) for mem,
// with regField occupying the ModRM.reg slot (spec.md §4.E's mode-selection
// rules for zero/disp8/disp32 and the RSP/R12 SIB requirement and the
// RBP/R13-needs-disp8 requirement). For a RIP-relative operand it returns
// the byte offset of the disp32 written, for the caller to register a
// relocation against; for a register base it returns -1.
func (e *encoderBuf) emitMem(regField mir.Reg, mem memOperand) (disp32Offset int) {
	if mem.ripRelative {
		e.write1(modrmByte(modIndirect, regField.Encoding(), ripRM))
		off := e.len()
		e.write4(uint32(mem.disp))
		return off
	}

	baseEnc := mem.base.Encoding()
	needsSIB := baseEnc&0x7 == sibPresentRM // RSP or R12
	isRBPFamily := baseEnc&0x7 == ripRM     // RBP or R13

	var mode byte
	switch {
	case mem.disp == 0 && !isRBPFamily:
		mode = modIndirect
	case fitsInt8(mem.disp):
		mode = modDisp8
	default:
		mode = modDisp32
	}

	rm := baseEnc
	if needsSIB {
		rm = sibPresentRM
	}
	e.write1(modrmByte(mode, regField.Encoding(), rm))
	if needsSIB {
		e.write1(sibByte(sibNoScale, sibNoIndex, baseEnc))
	}

	switch mode {
	case modDisp8:
		e.write1(byte(int8(mem.disp)))
	case modDisp32:
		e.write4(uint32(mem.disp))
	}
	return -1
}

func modrmByte(mod byte, reg, rm byte) byte {
	return mod<<6 | (reg&0x7)<<3 | (rm & 0x7)
}

func sibByte(scale, index, base byte) byte {
	return scale<<6 | (index&0x7)<<3 | (base & 0x7)
}

func fitsInt8(v int32) bool { return v >= -128 && v <= 127 }
