package amd64

import (
	"github.com/fncompiler/fncc/internal/mir"
	"github.com/fncompiler/fncc/internal/obj"
)

// sizePrefix writes the 0x66 operand-size-override prefix for 16-bit
// operations (spec.md §4.E: "0x66 prefix for 16-bit").
func sizePrefix(buf *encoderBuf, size mir.Size) {
	if size == mir.Size16 {
		buf.write1(0x66)
	}
}

// emitMovRegImm implements spec.md §4.E's "Immediate -> register" MOV form.
// A 64-bit immediate that does not fit in a signed 32-bit field forces the
// 10-byte REX.W + 0xB8+rd io encoding (spec.md §8's boundary case,
// "Immediate of INT32_MAX+1... forces the 10-byte encoding"). Otherwise a
// 64-bit, non-negative immediate takes the plain 32-bit-register MOV
// (0xB8+rd, no REX.W): writing the 32-bit half zero-extends the upper 32
// bits for free, which is exactly the value wanted and two bytes shorter
// than the REX.W + 0xC7 sign-extending form a negative immediate needs.
func emitMovRegImm(buf *encoderBuf, dest mir.Reg, size mir.Size, imm int64) {
	if size == mir.Size64 && !fitsInt32(imm) {
		rex, _ := rexPrefix(true, mir.RegInvalid, mir.RegInvalid, dest, false)
		buf.write1(rex)
		buf.write1(0xb8 + dest.Encoding()&0x7)
		buf.write4(uint32(imm))
		buf.write4(uint32(imm >> 32))
		return
	}

	if size == mir.Size64 && imm >= 0 {
		if rex, ok := rexPrefix(false, mir.RegInvalid, mir.RegInvalid, dest, false); ok {
			buf.write1(rex)
		}
		buf.write1(0xb8 + dest.Encoding()&0x7)
		buf.write4(uint32(imm))
		return
	}

	sizePrefix(buf, size)
	if rex, ok := rexPrefix(size == mir.Size64, mir.RegInvalid, mir.RegInvalid, dest, size == mir.Size8); ok {
		buf.write1(rex)
	}
	if size == mir.Size8 {
		buf.write1(0xb0 + dest.Encoding()&0x7)
		buf.write1(byte(imm))
		return
	}
	buf.write1(0xc7)
	buf.emitRegDirect(0, dest)
	if size == mir.Size16 {
		buf.write2(uint16(imm))
	} else {
		buf.write4(uint32(imm))
	}
}

func fitsInt32(v int64) bool { return v >= -(1<<31) && v <= (1<<31)-1 }

// emitMovRegReg implements the "register -> register" MOV form, eliding the
// instruction entirely when src and dest are already identical (spec.md
// §4.E: "Reg-to-reg MOV of identical operands is elided").
func (e *Encoder) emitMovRegReg(buf *encoderBuf, dest, src mir.Reg, size mir.Size) {
	if dest == src {
		return
	}
	sizePrefix(buf, size)
	if rex, ok := rexPrefix(size == mir.Size64, src, mir.RegInvalid, dest, size == mir.Size8); ok {
		buf.write1(rex)
	}
	if size == mir.Size8 {
		buf.write1(0x88)
	} else {
		buf.write1(0x89)
	}
	buf.emitRegDirect(src, dest)
}

func (e *Encoder) encodeCopy(buf *encoderBuf, inst *mir.MInst) error {
	src := inst.Operand(0)
	e.emitMovRegReg(buf, inst.Dest, src.Reg, inst.DestSize)
	return nil
}

// group1Ext maps a generic arithmetic opcode to its x86 group-1 opcode
// extension (spec.md §4.E).
func group1Ext(op mir.Op) byte {
	switch op {
	case mir.OpAdd:
		return 0
	case mir.OpOr:
		return 1
	case mir.OpAnd:
		return 4
	case mir.OpSub:
		return 5
	case mir.OpCmp:
		return 7
	default:
		panic("BUG: op has no group-1 arithmetic extension")
	}
}

// regregOpcode maps a generic arithmetic opcode to its "r/m, reg" primary
// opcode (dest = r/m field, src = reg field), used for the destructive
// 2-address convention this encoder follows throughout.
func regregOpcode(op mir.Op, size mir.Size) byte {
	switch op {
	case mir.OpAdd:
		if size == mir.Size8 {
			return 0x00
		}
		return 0x01
	case mir.OpOr:
		if size == mir.Size8 {
			return 0x08
		}
		return 0x09
	case mir.OpAnd:
		if size == mir.Size8 {
			return 0x20
		}
		return 0x21
	case mir.OpSub:
		if size == mir.Size8 {
			return 0x28
		}
		return 0x29
	case mir.OpCmp:
		if size == mir.Size8 {
			return 0x38
		}
		return 0x39
	default:
		panic("BUG: op has no reg/reg arithmetic opcode")
	}
}

// encodeArith2Addr implements Add/Sub/And/Or's "register -> register" and
// "immediate -> register" forms (spec.md §4.E), eliding a zero ADD/SUB
// ("ADD/SUB of 0 is elided").
func (e *Encoder) encodeArith2Addr(buf *encoderBuf, inst *mir.MInst) {
	lhs, rhs := inst.Operand(0), inst.Operand(1)
	e.emitMovRegReg(buf, inst.Dest, lhs.Reg, inst.DestSize)

	if rhs.Kind == mir.OperandImmediate {
		if rhs.Imm == 0 && (inst.Op == mir.OpAdd || inst.Op == mir.OpSub) {
			return
		}
		e.emitArithRegImm(buf, inst.Op, inst.Dest, inst.DestSize, rhs.Imm)
		return
	}

	sizePrefix(buf, inst.DestSize)
	if rex, ok := rexPrefix(inst.DestSize == mir.Size64, rhs.Reg, mir.RegInvalid, inst.Dest, inst.DestSize == mir.Size8); ok {
		buf.write1(rex)
	}
	buf.write1(regregOpcode(inst.Op, inst.DestSize))
	buf.emitRegDirect(rhs.Reg, inst.Dest)
}

func (e *Encoder) emitArithRegImm(buf *encoderBuf, op mir.Op, dest mir.Reg, size mir.Size, imm int64) {
	sizePrefix(buf, size)
	if rex, ok := rexPrefix(size == mir.Size64, mir.RegInvalid, mir.RegInvalid, dest, size == mir.Size8); ok {
		buf.write1(rex)
	}
	ext := group1Ext(op)
	if size == mir.Size8 {
		buf.write1(0x80)
		buf.emitRegDirect(mir.Reg(ext), dest)
		buf.write1(byte(imm))
		return
	}
	buf.write1(0x81)
	buf.emitRegDirect(mir.Reg(ext), dest)
	if size == mir.Size16 {
		buf.write2(uint16(imm))
	} else {
		buf.write4(uint32(imm))
	}
}

// encodeMul implements IMUL's two-operand "register, register" form (0F AF
// /r, Gv,Ev — note direction is reversed relative to the other arithmetic
// ops: destination occupies the ModRM.reg field).
func (e *Encoder) encodeMul(buf *encoderBuf, inst *mir.MInst) {
	lhs, rhs := inst.Operand(0), inst.Operand(1)
	e.emitMovRegReg(buf, inst.Dest, lhs.Reg, inst.DestSize)

	if rex, ok := rexPrefix(inst.DestSize == mir.Size64, inst.Dest, mir.RegInvalid, rhs.Reg, false); ok {
		buf.write1(rex)
	}
	buf.write1(0x0f)
	buf.write1(0xaf)
	buf.emitRegDirect(inst.Dest, rhs.Reg)
}

// shiftExt maps a shift opcode to its group-2 ModRM extension.
func shiftExt(op mir.Op) byte {
	switch op {
	case mir.OpShl:
		return 4
	case mir.OpShr:
		return 5
	case mir.OpSar:
		return 7
	default:
		panic("BUG: op is not a shift")
	}
}

// encodeShift implements "register shift by CL" (spec.md §4.E: "SHL, SHR,
// SAR with opcode extensions 4/5/7").
func (e *Encoder) encodeShift(buf *encoderBuf, inst *mir.MInst) {
	lhs := inst.Operand(0)
	e.emitMovRegReg(buf, inst.Dest, lhs.Reg, inst.DestSize)

	if rex, ok := rexPrefix(inst.DestSize == mir.Size64, mir.RegInvalid, mir.RegInvalid, inst.Dest, inst.DestSize == mir.Size8); ok {
		buf.write1(rex)
	}
	if inst.DestSize == mir.Size8 {
		buf.write1(0xd2)
	} else {
		buf.write1(0xd3)
	}
	buf.emitRegDirect(mir.Reg(shiftExt(inst.Op)), inst.Dest)
}

// encodeUnaryF7 implements single-register NOT/IDIV-family ops (0xF7 /ext,
// 0xF6 /ext for 8-bit) against inst's own destination register.
func (e *Encoder) encodeUnaryF7(buf *encoderBuf, inst *mir.MInst, ext byte) {
	src := inst.Operand(0)
	e.emitMovRegReg(buf, inst.Dest, src.Reg, inst.DestSize)
	e.encodeUnaryF7Reg(buf, inst.Dest, inst.DestSize, ext)
}

// encodeUnaryF7Operand applies the 0xF7/0xF6 family directly to an operand
// register without a preceding copy, used by IDIV (its "destination" is
// implicit in RAX:RDX, not inst.Dest).
func (e *Encoder) encodeUnaryF7Operand(buf *encoderBuf, op mir.MachineOperand, ext byte) {
	e.encodeUnaryF7Reg(buf, op.Reg, op.RegSize, ext)
}

func (e *Encoder) encodeUnaryF7Reg(buf *encoderBuf, r mir.Reg, size mir.Size, ext byte) {
	if rex, ok := rexPrefix(size == mir.Size64, mir.RegInvalid, mir.RegInvalid, r, size == mir.Size8); ok {
		buf.write1(rex)
	}
	if size == mir.Size8 {
		buf.write1(0xf6)
	} else {
		buf.write1(0xf7)
	}
	buf.emitRegDirect(mir.Reg(ext), r)
}

// encodeExtend implements MOVZX/MOVSX (spec.md §4.A's widening-cast rule
// lowered to machine code). The 32->64 cases have no dedicated MOVZX/MOVSX
// opcode: zero-extension is the side effect of any plain 32-bit register
// write, and sign-extension uses the separate MOVSXD opcode (0x63).
func (e *Encoder) encodeExtend(buf *encoderBuf, inst *mir.MInst, signed bool) {
	src := inst.Operand(0)

	if src.RegSize == mir.Size32 {
		if signed {
			if rex, ok := rexPrefix(true, inst.Dest, mir.RegInvalid, src.Reg, false); ok {
				buf.write1(rex)
			}
			buf.write1(0x63)
			buf.emitRegDirect(inst.Dest, src.Reg)
			return
		}
		e.emitMovRegReg(buf, inst.Dest, src.Reg, mir.Size32)
		return
	}

	if rex, ok := rexPrefix(inst.DestSize == mir.Size64, inst.Dest, mir.RegInvalid, src.Reg, src.RegSize == mir.Size8); ok {
		buf.write1(rex)
	}
	buf.write1(0x0f)
	switch {
	case signed && src.RegSize == mir.Size8:
		buf.write1(0xbe)
	case signed && src.RegSize == mir.Size16:
		buf.write1(0xbf)
	case !signed && src.RegSize == mir.Size8:
		buf.write1(0xb6)
	default:
		buf.write1(0xb7)
	}
	buf.emitRegDirect(inst.Dest, src.Reg)
}

// encodeCmp implements CMP's register/register and register/immediate
// forms, reusing the group-1 encoders (spec.md §4.E).
func (e *Encoder) encodeCmp(buf *encoderBuf, inst *mir.MInst) {
	lhs, rhs := inst.Operand(0), inst.Operand(1)
	size := lhs.RegSize

	if rhs.Kind == mir.OperandImmediate {
		e.emitArithRegImm(buf, mir.OpCmp, lhs.Reg, size, rhs.Imm)
		return
	}

	sizePrefix(buf, size)
	if rex, ok := rexPrefix(size == mir.Size64, rhs.Reg, mir.RegInvalid, lhs.Reg, size == mir.Size8); ok {
		buf.write1(rex)
	}
	buf.write1(regregOpcode(mir.OpCmp, size))
	buf.emitRegDirect(rhs.Reg, lhs.Reg)
}

// encodeSetcc implements SETcc (spec.md §4.E: "E/NE/G/L/GE/LE -> 0x94..0x9F
// for SETcc").
func (e *Encoder) encodeSetcc(buf *encoderBuf, inst *mir.MInst) {
	dest := inst.Dest
	if rex, ok := rexPrefix(false, mir.RegInvalid, mir.RegInvalid, dest, true); ok {
		buf.write1(rex)
	}
	buf.write1(0x0f)
	buf.write1(inst.Cond.SetccOpcode())
	buf.emitRegDirect(0, dest)
}

// encodeJcc implements the conditional-jump form, eliding the "else" jump
// when the else block is the next one in layout order, and otherwise
// emitting both the Jcc and a trailing unconditional JMP (spec.md §4.E:
// "Jcc targets emit DISP32_PCREL relocations").
func (e *Encoder) encodeJcc(buf *encoderBuf, fn *mir.MIRFunction, blocks []*mir.MIRBlock, blockIdx int, inst *mir.MInst) {
	thenB := inst.Operand(0).Block
	elseB := inst.Operand(1).Block

	buf.write1(0x0f)
	buf.write1(inst.Cond.JccOpcode())
	off := buf.len()
	buf.write4(0)
	e.Object.AddRelocation(obj.Relocation{
		Section: buf.sec, Offset: off, Type: obj.RelocDisp32PCRel, SymbolName: blockLabel(fn, thenB),
	})

	if !isNextBlock(blocks, blockIdx, elseB) {
		e.emitRel32Branch(buf, 0xe9, blockLabel(fn, elseB))
	}
}
