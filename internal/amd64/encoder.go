// Package amd64 turns a fully register-allocated internal/mir.MIRFunction
// into bytes in an internal/obj.Object's code section, plus the relocation
// and symbol entries a linker needs to finish the job (spec.md §4.E).
//
// It is organized, per spec.md §4.E, around form-based helpers: one method
// per addressing-mode family, dispatched from one opcode switch in
// encodeInst. Two-operand arithmetic (Add/Sub/And/Or/Mul, the shifts)
// follows a destructive 2-address convention: if the destination register
// differs from the first source operand, a MOV into the destination is
// emitted first, then the real op executes in place. This mirrors how the
// instructions are natively encoded (dst = dst op src) and lets the
// register allocator's coloring collapse the preceding MOV away whenever
// dest already equals the first operand (e.g. after a DIV/MOD copy-in).
package amd64

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fncompiler/fncc/internal/abi"
	"github.com/fncompiler/fncc/internal/mangle"
	"github.com/fncompiler/fncc/internal/mir"
	"github.com/fncompiler/fncc/internal/obj"
)

// Encoder lowers MIR functions into one Object's code section.
type Encoder struct {
	Object *obj.Object
	cc     *abi.Table
}

// New returns an Encoder that appends to obj's code section.
func New(o *obj.Object, cc *abi.Table) *Encoder {
	return &Encoder{Object: o, cc: cc}
}

// EncodeFunction appends fn's machine code to the object's .text section,
// registering a function symbol at its start and a local label symbol at
// the start of every block (spec.md §4.E's local-label scheme, resolved
// later by obj.Object.ResolveLocalLabels).
func (e *Encoder) EncodeFunction(fn *mir.MIRFunction, exported bool) error {
	buf := &encoderBuf{o: e.Object, sec: e.Object.SectionIndex(obj.CodeSectionName)}

	name := mangle.FunctionSymbol(fn.Name, fn.Origin.Type, fn.Origin.IsExtern)

	kind := obj.SymFunction
	e.Object.AddSymbol(obj.Symbol{Name: name, Kind: kind, Section: buf.sec, Offset: buf.len()})
	if exported {
		e.Object.AddSymbol(obj.Symbol{Name: name, Kind: obj.SymExport, Section: buf.sec, Offset: buf.len()})
	}

	for i, b := range fn.Blocks {
		e.Object.AddSymbol(obj.Symbol{
			Name: blockLabel(fn, b), Kind: obj.SymLocalLabel, Section: buf.sec, Offset: buf.len(),
		})
		insts := b.Instructions()
		for j, inst := range insts {
			if err := e.encodeInst(buf, fn, fn.Blocks, i, inst); err != nil {
				return errors.Wrapf(err, "function %s, block %s, instruction %d", fn.Name, b.Name(), j)
			}
		}
	}
	return nil
}

func blockLabel(fn *mir.MIRFunction, b *mir.MIRBlock) string {
	return fmt.Sprintf(".L%s_%s", fn.Name, b.Name())
}

// DeclareExternal registers an external function symbol so CALL
// relocations against it resolve per spec.md §8 invariant 5 ("or will be
// provided by the linker for external symbols").
func (e *Encoder) DeclareExternal(name string) {
	if e.Object.FindSymbol(name) != nil {
		return
	}
	e.Object.AddSymbol(obj.Symbol{Name: name, Kind: obj.SymExternal})
}

// DeclareStatic writes a module-level static's literal initializer bytes
// into the data section and registers its symbol (spec.md §8 scenario 6:
// a string literal emits a "static" symbol in the data section).
func (e *Encoder) DeclareStatic(name string, data []byte) {
	sec := e.Object.SectionIndex(obj.DataSectionName)
	offset := e.Object.Sections[sec].Len()
	e.Object.WriteN(sec, data)
	e.Object.AddSymbol(obj.Symbol{Name: name, Kind: obj.SymStatic, Section: sec, Offset: offset})
}

func isNextBlock(blocks []*mir.MIRBlock, curIdx int, target *mir.MIRBlock) bool {
	return curIdx+1 < len(blocks) && blocks[curIdx+1] == target
}

func (e *Encoder) encodeInst(buf *encoderBuf, fn *mir.MIRFunction, blocks []*mir.MIRBlock, blockIdx int, inst *mir.MInst) error {
	switch inst.Op {
	case mir.OpImm:
		emitMovRegImm(buf, inst.Dest, inst.DestSize, inst.Operand(0).Imm)

	case mir.OpCopy:
		return e.encodeCopy(buf, inst)

	case mir.OpLea:
		mem, sym := addressOperand(fn, inst.Operand(0))
		e.emitREXForMem(buf, true, inst.Dest, mem)
		buf.write1(0x8d)
		off := buf.emitMem(inst.Dest, mem)
		if off >= 0 && sym != "" {
			e.Object.AddRelocation(obj.Relocation{
				Section: buf.sec, Offset: off, Type: obj.RelocDisp32PCRel, SymbolName: sym,
			})
		}

	case mir.OpLoad:
		mem, _ := addressOperand(fn, inst.Operand(0))
		e.emitREXForMem(buf, inst.DestSize == mir.Size64, inst.Dest, mem)
		if inst.DestSize == mir.Size16 {
			buf.write1(0x66)
		}
		if inst.DestSize == mir.Size8 {
			buf.write1(0x8a)
		} else {
			buf.write1(0x8b)
		}
		buf.emitMem(inst.Dest, mem)

	case mir.OpStore:
		mem, _ := addressOperand(fn, inst.Operand(0))
		val := inst.Operand(1)
		e.emitREXForMem(buf, val.RegSize == mir.Size64, val.Reg, mem)
		if val.RegSize == mir.Size16 {
			buf.write1(0x66)
		}
		if val.RegSize == mir.Size8 {
			buf.write1(0x88)
		} else {
			buf.write1(0x89)
		}
		buf.emitMem(val.Reg, mem)

	case mir.OpAdd, mir.OpSub, mir.OpAnd, mir.OpOr:
		e.encodeArith2Addr(buf, inst)

	case mir.OpMul:
		e.encodeMul(buf, inst)

	case mir.OpShl, mir.OpSar, mir.OpShr:
		e.encodeShift(buf, inst)

	case mir.OpMovsx:
		e.encodeExtend(buf, inst, true)

	case mir.OpMovzx:
		e.encodeExtend(buf, inst, false)

	case mir.OpNot:
		e.encodeUnaryF7(buf, inst, 2)

	case mir.OpIdiv:
		e.encodeUnaryF7Operand(buf, inst.Operand(0), 7)

	case mir.OpCdq:
		buf.write1(0x99)

	case mir.OpCqo:
		buf.write1(0x48)
		buf.write1(0x99)

	case mir.OpCmp:
		e.encodeCmp(buf, inst)

	case mir.OpSetcc:
		e.encodeSetcc(buf, inst)

	case mir.OpJcc:
		e.encodeJcc(buf, fn, blocks, blockIdx, inst)

	case mir.OpBranch:
		target := inst.Operand(0).Block
		if !isNextBlock(blocks, blockIdx, target) {
			e.emitRel32Branch(buf, 0xe9, blockLabel(fn, target))
		}

	case mir.OpReturn:
		if inst.NumOperands > 0 {
			src := inst.Operand(0)
			if src.Reg != e.cc.Result {
				e.emitMovRegReg(buf, e.cc.Result, src.Reg, src.RegSize)
			}
		}
		buf.write1(0xc3)

	case mir.OpPush:
		e.emitPushPop(buf, 0x50, inst.Operand(0).Reg)

	case mir.OpPop:
		e.emitPushPop(buf, 0x58, inst.Dest)

	case mir.OpCallReg:
		target := inst.Operand(0).Reg
		if rex, ok := rexPrefix(false, mir.RegInvalid, mir.RegInvalid, target, false); ok {
			buf.write1(rex)
		}
		buf.write1(0xff)
		buf.emitRegDirect(2, target)

	case mir.OpCallName:
		name := inst.Operand(0).Name
		e.emitRel32Branch(buf, 0xe8, name)

	case mir.OpUd2:
		buf.write1(0x0f)
		buf.write1(0x0b)

	default:
		return errors.Errorf("BUG: unsupported MIR opcode for encoding: %s", inst.Op)
	}
	return nil
}

func (e *Encoder) emitRel32Branch(buf *encoderBuf, opcode byte, symbol string) {
	buf.write1(opcode)
	off := buf.len()
	buf.write4(0)
	e.Object.AddRelocation(obj.Relocation{
		Section: buf.sec, Offset: off, Type: obj.RelocDisp32PCRel, SymbolName: symbol,
	})
}

func (e *Encoder) emitPushPop(buf *encoderBuf, base byte, r mir.Reg) {
	if rex, ok := rexPrefix(false, mir.RegInvalid, mir.RegInvalid, r, false); ok {
		buf.write1(rex)
	}
	buf.write1(base + r.Encoding()&0x7)
}

func addressOperand(fn *mir.MIRFunction, op mir.MachineOperand) (memOperand, string) {
	switch op.Kind {
	case mir.OperandRegister:
		return memOperand{base: op.Reg, disp: 0}, ""
	case mir.OperandLocalRef:
		fo := fn.FrameObjects[op.LocalIndex]
		return memOperand{base: mir.RBP, disp: int32(fo.Offset)}, ""
	case mir.OperandRBPOffset:
		return memOperand{base: mir.RBP, disp: int32(op.LocalIndex)}, ""
	case mir.OperandStaticRef:
		return memOperand{ripRelative: true}, op.Sym.Name
	case mir.OperandName:
		return memOperand{ripRelative: true}, op.Name
	default:
		panic(fmt.Sprintf("BUG: operand kind %v is not an addressable location", op.Kind))
	}
}

func (e *Encoder) emitREXForMem(buf *encoderBuf, w64 bool, regField mir.Reg, mem memOperand) {
	base := mem.base
	if mem.ripRelative {
		base = mir.RegInvalid
	}
	if rex, ok := rexPrefix(w64, regField, mir.RegInvalid, base, false); ok {
		buf.write1(rex)
	}
}
