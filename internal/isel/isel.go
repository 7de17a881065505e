// Package isel converts internal/ir into internal/mir: instruction
// selection and MIR lowering (spec.md §4.B). It owns the IR-instruction →
// MInst memoization map that spec.md §3.3 describes as "a pointer on each
// IR instruction" — kept here instead, since internal/ir must not import
// internal/mir.
package isel

import (
	"fmt"

	"github.com/fncompiler/fncc/internal/abi"
	"github.com/fncompiler/fncc/internal/ast"
	"github.com/fncompiler/fncc/internal/ir"
	"github.com/fncompiler/fncc/internal/mangle"
	"github.com/fncompiler/fncc/internal/mir"
)

// selector holds one function's lowering state.
type selector struct {
	cc  *abi.Table
	mfn *mir.MIRFunction

	blocks   map[*ir.Block]*mir.MIRBlock
	vreg     map[*ir.Instruction]mir.Reg
	useCount map[*ir.Instruction]int
	lowered  map[*ir.Instruction]*mir.MInst

	cur *mir.MIRBlock
}

var binOpTable = map[ir.Opcode]mir.Op{
	ir.OpAdd: mir.OpAdd, ir.OpSub: mir.OpSub, ir.OpMul: mir.OpMul,
	ir.OpAnd: mir.OpAnd, ir.OpOr: mir.OpOr,
	ir.OpShl: mir.OpShl, ir.OpSar: mir.OpSar, ir.OpShr: mir.OpShr,
}

var condTable = map[ir.Opcode]mir.CondCode{
	ir.OpLt: mir.CondLt, ir.OpLe: mir.CondLe, ir.OpGt: mir.CondGt,
	ir.OpGe: mir.CondGe, ir.OpEq: mir.CondEq, ir.OpNe: mir.CondNe,
}

func sizeOf(t ast.Type) mir.Size {
	n := t.SizeOf()
	if n == 0 {
		n = 8
	}
	return mir.SizeOfBytes(n)
}

// LowerFunction lowers one non-extern ir.Function to MIR (spec.md §4.B).
func LowerFunction(fn *ir.Function, cc *abi.Table) *mir.MIRFunction {
	s := &selector{
		cc:       cc,
		mfn:      mir.NewMIRFunction(fn),
		blocks:   make(map[*ir.Block]*mir.MIRBlock),
		vreg:     make(map[*ir.Instruction]mir.Reg),
		useCount: make(map[*ir.Instruction]int),
		lowered:  make(map[*ir.Instruction]*mir.MInst),
	}

	for _, b := range fn.Blocks() {
		s.blocks[b] = s.mfn.NewBlock(b.Name())
	}
	for _, b := range fn.Blocks() {
		mb := s.blocks[b]
		for _, succ := range b.Succs() {
			mb.AddSucc(s.blocks[succ])
		}
	}

	s.reservePhiVregs(fn)
	s.lowerParamsAndAllocas(fn)

	for _, b := range fn.Blocks() {
		s.cur = s.blocks[b]
		for cur := b.Root(); cur != nil; cur = cur.Next() {
			if cur.Opcode == ir.OpParameter || cur.Opcode == ir.OpAlloca || cur.Opcode == ir.OpPhi {
				continue
			}
			s.lowerInst(cur)
		}
	}

	s.lowerPhis(fn)

	for inst, mi := range s.lowered {
		mi.RefCount = s.useCount[inst]
	}
	s.mfn.AssignFrameOffsets()
	return s.mfn
}

// reservePhiVregs gives every Phi a vreg up front (spec.md §4.B: "Phi → no
// MInst of its own; it contributes a vreg shared by its copy-feeders").
func (s *selector) reservePhiVregs(fn *ir.Function) {
	for _, b := range fn.Blocks() {
		for cur := b.Root(); cur != nil && cur.Opcode == ir.OpPhi; cur = cur.Next() {
			s.vreg[cur] = s.mfn.NewVReg(sizeOf(cur.Type))
		}
	}
}

// lowerParamsAndAllocas is the pre-pass of spec.md §4.B: each Parameter
// becomes a copy from (or stack load of) the ABI argument location; each
// Alloca becomes an LEA of a frame-object slot.
func (s *selector) lowerParamsAndAllocas(fn *ir.Function) {
	entry := fn.EntryBlock()
	if entry == nil {
		return
	}
	s.cur = s.blocks[entry]
	for cur := entry.Root(); cur != nil; cur = cur.Next() {
		switch cur.Opcode {
		case ir.OpParameter:
			idx := int(cur.ImmValue)
			size := sizeOf(cur.Type)
			if reg, ok := s.cc.ArgReg(idx); ok {
				dest := s.mfn.NewVReg(size)
				s.append(cur, mir.NewMInst(mir.OpCopy, dest, size, mir.RegOperand(reg, size)))
				s.vreg[cur] = dest
			} else {
				disp := 16 + 8*(idx-len(s.cc.ArgRegs))
				dest := s.mfn.NewVReg(size)
				s.append(cur, mir.NewMInst(mir.OpLoad, dest, size, mir.RBPOffsetOperand(disp)))
				s.vreg[cur] = dest
			}
		case ir.OpAlloca:
			fidx := s.mfn.AddFrameObject(int(cur.ImmValue))
			dest := s.mfn.NewVReg(mir.Size64)
			s.append(cur, mir.NewMInst(mir.OpLea, dest, mir.Size64, mir.LocalOperand(fidx)))
			s.vreg[cur] = dest
		}
	}
}

// lowerPhis runs after every block is lowered (so every Phi argument value
// is guaranteed a vreg), inserting the feeding M_COPY into each predecessor
// block before its terminator (spec.md §4.B "PHI lowering").
func (s *selector) lowerPhis(fn *ir.Function) {
	for _, b := range fn.Blocks() {
		for cur := b.Root(); cur != nil && cur.Opcode == ir.OpPhi; cur = cur.Next() {
			dest := s.vreg[cur]
			size := sizeOf(cur.Type)
			for i, val := range cur.Args {
				pred := cur.PhiPreds[i]
				mpred := s.blocks[pred]
				copyInst := mir.NewMInst(mir.OpCopy, dest, size, mir.RegOperand(s.valueOf(val), sizeOf(val.Type)))
				term := mpred.Terminator()
				if term != nil {
					mpred.InsertBefore(term, copyInst)
				} else {
					mpred.Append(copyInst)
				}
			}
		}
	}
}

func (s *selector) append(origin *ir.Instruction, mi *mir.MInst) {
	s.cur.Append(mi)
	if origin != nil {
		s.lowered[origin] = mi
	}
}

// valueOf returns the vreg already materialized for inst's value, bumping
// its use count (spec.md §4.B: "Already-lowered nodes simply increment a
// reference count"). Every operand is visited in program order before its
// user, so this never needs to lower lazily.
func (s *selector) valueOf(inst *ir.Instruction) mir.Reg {
	r, ok := s.vreg[inst]
	if !ok {
		panic(fmt.Sprintf("BUG: %s used before being lowered", inst.Format()))
	}
	s.useCount[inst]++
	return r
}

func (s *selector) setVreg(inst *ir.Instruction, r mir.Reg) { s.vreg[inst] = r }

func (s *selector) lowerInst(inst *ir.Instruction) {
	switch inst.Opcode {
	case ir.OpImmediate, ir.OpLitInteger:
		size := sizeOf(inst.Type)
		dest := s.mfn.NewVReg(size)
		s.append(inst, mir.NewMInst(mir.OpImm, dest, size, mir.ImmOperand(int64(inst.ImmValue))))
		s.setVreg(inst, dest)

	case ir.OpStaticRef:
		dest := s.mfn.NewVReg(mir.Size64)
		s.append(inst, mir.NewMInst(mir.OpLea, dest, mir.Size64, mir.StaticOperand(inst.StaticVar)))
		s.setVreg(inst, dest)

	case ir.OpFuncRef:
		dest := s.mfn.NewVReg(mir.Size64)
		name := mangle.FunctionSymbol(inst.Func.Name, inst.Func.Type, inst.Func.IsExtern)
		s.append(inst, mir.NewMInst(mir.OpLea, dest, mir.Size64, mir.NameOperand(name)))
		s.setVreg(inst, dest)

	case ir.OpLoad:
		addr := s.valueOf(inst.Lhs)
		size := sizeOf(inst.Type)
		dest := s.mfn.NewVReg(size)
		s.append(inst, mir.NewMInst(mir.OpLoad, dest, size, mir.RegOperand(addr, mir.Size64)))
		s.setVreg(inst, dest)

	case ir.OpStore:
		addr := s.valueOf(inst.Lhs)
		val := s.valueOf(inst.Rhs)
		s.append(inst, mir.NewMInst(mir.OpStore, mir.RegInvalid, 0,
			mir.RegOperand(addr, mir.Size64), mir.RegOperand(val, sizeOf(inst.Rhs.Type))))

	case ir.OpDiv, ir.OpMod:
		s.lowerDivMod(inst)

	case ir.OpShl, ir.OpSar, ir.OpShr:
		s.lowerShift(inst)

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr:
		lhs := s.valueOf(inst.Lhs)
		rhs := s.valueOf(inst.Rhs)
		size := sizeOf(inst.Type)
		dest := s.mfn.NewVReg(size)
		s.append(inst, mir.NewMInst(binOpTable[inst.Opcode], dest, size, mir.RegOperand(lhs, size), mir.RegOperand(rhs, size)))
		s.setVreg(inst, dest)

	case ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe, ir.OpEq, ir.OpNe:
		s.lowerComparison(inst)

	case ir.OpNot:
		src := s.valueOf(inst.Lhs)
		size := sizeOf(inst.Type)
		dest := s.mfn.NewVReg(size)
		s.append(inst, mir.NewMInst(mir.OpNot, dest, size, mir.RegOperand(src, size)))
		s.setVreg(inst, dest)

	case ir.OpCopy:
		s.lowerCopy(inst)

	case ir.OpBranch:
		target := s.blocks[inst.Target]
		s.append(inst, mir.NewMInst(mir.OpBranch, mir.RegInvalid, 0, mir.BlockOperand(target)))

	case ir.OpBranchConditional:
		cond := s.valueOf(inst.Lhs)
		thenB := s.blocks[inst.Target]
		elseB := s.blocks[inst.Else]
		s.append(inst, mir.NewMInst(mir.OpCmp, mir.RegInvalid, mir.Size8, mir.RegOperand(cond, mir.Size8), mir.ImmOperand(0)))
		jcc := mir.NewMInst(mir.OpJcc, mir.RegInvalid, 0, mir.BlockOperand(thenB), mir.BlockOperand(elseB))
		jcc.Cond = mir.CondNe
		s.cur.Append(jcc)

	case ir.OpReturn:
		if inst.Lhs != nil {
			v := s.valueOf(inst.Lhs)
			size := sizeOf(inst.Lhs.Type)
			s.append(inst, mir.NewMInst(mir.OpReturn, mir.RegInvalid, 0, mir.RegOperand(v, size)))
		} else {
			s.append(inst, mir.NewMInst(mir.OpReturn, mir.RegInvalid, 0))
		}

	case ir.OpUnreachable:
		s.append(inst, mir.NewMInst(mir.OpUd2, mir.RegInvalid, 0))

	case ir.OpCall:
		s.lowerCall(inst)

	default:
		panic(fmt.Sprintf("BUG: unsupported IR opcode in instruction selection: %s", inst.Opcode))
	}
}

// lowerDivMod emits the fixed RAX:RDX IDIV sequence (spec.md §4.C: "DIV/MOD
// conflict with RAX and RDX").
func (s *selector) lowerDivMod(inst *ir.Instruction) {
	lhs := s.valueOf(inst.Lhs)
	rhs := s.valueOf(inst.Rhs)
	size := sizeOf(inst.Type)

	s.append(nil, mir.NewMInst(mir.OpCopy, mir.RAX, size, mir.RegOperand(lhs, size)))
	if size == mir.Size64 {
		s.cur.Append(mir.NewMInst(mir.OpCqo, mir.RDX, size))
	} else {
		s.cur.Append(mir.NewMInst(mir.OpCdq, mir.RDX, size))
	}
	s.cur.Append(mir.NewMInst(mir.OpIdiv, mir.RegInvalid, size, mir.RegOperand(rhs, size)))

	dest := s.mfn.NewVReg(size)
	src := mir.Reg(mir.RAX)
	if inst.Opcode == ir.OpMod {
		src = mir.RDX
	}
	s.append(inst, mir.NewMInst(mir.OpCopy, dest, size, mir.RegOperand(src, size)))
	s.setVreg(inst, dest)
}

// lowerShift forces the shift amount into RCX (spec.md §4.C: "shift amounts
// must be in RCX").
func (s *selector) lowerShift(inst *ir.Instruction) {
	lhs := s.valueOf(inst.Lhs)
	rhs := s.valueOf(inst.Rhs)
	size := sizeOf(inst.Type)

	s.append(nil, mir.NewMInst(mir.OpCopy, mir.RCX, mir.Size8, mir.RegOperand(rhs, mir.Size8)))
	dest := s.mfn.NewVReg(size)
	s.append(inst, mir.NewMInst(binOpTable[inst.Opcode], dest, size, mir.RegOperand(lhs, size), mir.RegOperand(mir.RCX, mir.Size8)))
	s.setVreg(inst, dest)
}

func (s *selector) lowerComparison(inst *ir.Instruction) {
	lhs := s.valueOf(inst.Lhs)
	rhs := s.valueOf(inst.Rhs)
	size := sizeOf(inst.Lhs.Type)
	s.append(nil, mir.NewMInst(mir.OpCmp, mir.RegInvalid, size, mir.RegOperand(lhs, size), mir.RegOperand(rhs, size)))

	dest := s.mfn.NewVReg(mir.Size8)
	setcc := mir.NewMInst(mir.OpSetcc, dest, mir.Size8)
	setcc.Cond = condTable[inst.Opcode]
	s.append(inst, setcc)
	s.setVreg(inst, dest)
}

// lowerCopy handles both same-width copies and casts (spec.md §4.A: "if
// widening, emit... sign- or zero-extension; if narrowing, emit truncation;
// if same width, a copy" — all represented at the IR level as Copy, per
// §4.B's Copy conversion rule).
func (s *selector) lowerCopy(inst *ir.Instruction) {
	src := s.valueOf(inst.Lhs)
	srcSize := sizeOf(inst.Lhs.Type)
	dstSize := sizeOf(inst.Type)
	dest := s.mfn.NewVReg(dstSize)

	switch {
	case dstSize.Bytes() > srcSize.Bytes():
		op := mir.OpMovzx
		if inst.Lhs.Type.IsSigned() {
			op = mir.OpMovsx
		}
		s.append(inst, mir.NewMInst(op, dest, dstSize, mir.RegOperand(src, srcSize)))
	default:
		s.append(inst, mir.NewMInst(mir.OpCopy, dest, dstSize, mir.RegOperand(src, dstSize)))
	}
	s.setVreg(inst, dest)
}

// lowerCall implements spec.md §4.B's call-argument materialization
// literally: "insert a MOV from each argument vreg into the corresponding
// physical argument register just before the call. Arguments beyond the
// in-register count spill to argument slots on the stack." Register-bound
// arguments are copied first (order is immaterial, each lands in a
// distinct physical register); overflow arguments are then pushed
// right-to-left so they land at the expected positive offsets from the
// callee's RBP. The call itself carries only its callee operand — argument
// placement is already resolved to fixed physical registers by the time
// the allocator sees this instruction, so it never needs to treat a call's
// "operands" as allocatable.
func (s *selector) lowerCall(inst *ir.Instruction) {
	var stackArgs []mir.Reg
	var stackSizes []mir.Size
	for i, a := range inst.Args {
		val := s.valueOf(a)
		size := sizeOf(a.Type)
		if reg, ok := s.cc.ArgReg(i); ok {
			s.append(nil, mir.NewMInst(mir.OpCopy, reg, size, mir.RegOperand(val, size)))
		} else {
			stackArgs = append(stackArgs, val)
			stackSizes = append(stackSizes, size)
		}
	}
	for i := len(stackArgs) - 1; i >= 0; i-- {
		s.append(nil, mir.NewMInst(mir.OpPush, mir.RegInvalid, mir.Size64, mir.RegOperand(stackArgs[i], stackSizes[i])))
	}

	var callInst *mir.MInst
	if inst.IsIndirect {
		callee := s.valueOf(inst.Lhs)
		callInst = mir.NewMInst(mir.OpCallReg, mir.RegInvalid, 0, mir.RegOperand(callee, mir.Size64))
	} else {
		name := mangle.FunctionSymbol(inst.Func.Name, inst.Func.Type, inst.Func.IsExtern)
		callInst = mir.NewMInst(mir.OpCallName, mir.RegInvalid, 0, mir.NameOperand(name))
	}
	s.append(inst, callInst)

	if inst.ProducesValue() {
		size := sizeOf(inst.Type)
		dest := s.mfn.NewVReg(size)
		s.append(inst, mir.NewMInst(mir.OpCopy, dest, size, mir.RegOperand(s.cc.Result, size)))
		s.setVreg(inst, dest)
	}
}

// LowerModule lowers every non-extern function in mod to MIR.
func LowerModule(mod *ir.Module, cc *abi.Table) []*mir.MIRFunction {
	var out []*mir.MIRFunction
	for _, fn := range mod.Functions {
		if fn.IsExtern || fn.EntryBlock() == nil {
			continue
		}
		out = append(out, LowerFunction(fn, cc))
	}
	return out
}
