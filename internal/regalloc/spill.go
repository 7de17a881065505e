package regalloc

import "github.com/fncompiler/fncc/internal/mir"

// rewriteSpills implements spec.md §4.C step 4: each spilled vreg gets a
// frame slot, and every def/use of it is rewritten to a store/load against
// that slot. Loads are inserted immediately before the consuming
// instruction into a fresh one-instruction-lifetime vreg; stores are
// inserted immediately after the defining instruction. This deliberately
// does not try to keep a spilled value live across multiple instructions in
// a register — simplicity over spill-code quality, matching the "sufficient
// to describe a correct implementation" scope of the algorithm.
func rewriteSpills(fn *mir.MIRFunction, spilled []mir.Reg) {
	slots := make(map[mir.Reg]int, len(spilled))
	for _, r := range spilled {
		slots[r] = fn.AddFrameObject(8)
	}
	isSpilled := make(map[mir.Reg]bool, len(spilled))
	for _, r := range spilled {
		isSpilled[r] = true
	}

	for _, b := range fn.Blocks {
		for inst := b.Terminator(); inst != nil; {
			prev := inst.Prev()
			rewriteInstSpills(b, inst, slots, isSpilled, fn)
			inst = prev
		}
	}
}

func rewriteInstSpills(b *mir.MIRBlock, inst *mir.MInst, slots map[mir.Reg]int, isSpilled map[mir.Reg]bool, fn *mir.MIRFunction) {
	for i := 0; i < inst.NumOperands; i++ {
		op := inst.Operand(i)
		if op.Kind != mir.OperandRegister || !isSpilled[op.Reg] {
			continue
		}
		reload := fn.NewVReg(op.RegSize)
		loadInst := mir.NewMInst(mir.OpLoad, reload, op.RegSize, mir.LocalOperand(slots[op.Reg]))
		b.InsertBefore(inst, loadInst)
		setOperand(inst, i, mir.RegOperand(reload, op.RegSize))
	}

	if inst.Dest != mir.RegInvalid && isSpilled[inst.Dest] {
		storeInst := mir.NewMInst(mir.OpStore, mir.RegInvalid, 0,
			mir.LocalOperand(slots[inst.Dest]), mir.RegOperand(inst.Dest, inst.DestSize))
		b.InsertAfter(inst, storeInst)
	}
}

// setOperand writes through to whichever backing storage (inline array or
// heap bundle) currently holds operand i.
func setOperand(inst *mir.MInst, i int, op mir.MachineOperand) {
	if inst.Bundle != nil {
		inst.Bundle[i] = op
	} else {
		inst.Operands[i] = op
	}
}
