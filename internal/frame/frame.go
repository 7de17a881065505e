// Package frame materializes a function's stack frame: classifying it into
// one of three frame kinds, then inserting the prologue and epilogue MIR
// instructions that realize it (spec.md §4.D). This runs after register
// allocation, once LocalsTotalSize and the callee-saved set actually used
// are both known.
package frame

import (
	"github.com/fncompiler/fncc/internal/abi"
	"github.com/fncompiler/fncc/internal/mir"
)

// Kind classifies a function's frame (spec.md §4.D).
type Kind byte

const (
	// None: optimized, no locals, leaf (calls nothing). No prologue/epilogue.
	None Kind = iota
	// Minimal: optimized, no locals, not leaf. SUB/ADD RSP only.
	Minimal
	// Full: otherwise. PUSH RBP; MOV RSP->RBP; SUB RSP, ...
	Full
)

func (k Kind) String() string {
	return [...]string{"none", "minimal", "full"}[k]
}

// Align16 rounds n up to the next multiple of 16.
func Align16(n int) int { return (n + 15) &^ 15 }

// IsLeaf reports whether fn contains no call instructions.
func IsLeaf(fn *mir.MIRFunction) bool {
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions() {
			switch inst.Op {
			case mir.OpCall, mir.OpCallReg, mir.OpCallName:
				return false
			}
		}
	}
	return true
}

// ClassifyKind decides fn's frame kind (spec.md §4.D's table). optimized
// mirrors the compile configuration's optimization flag: a non-optimized
// build always takes the Full frame, since debuggability depends on RBP
// being a reliable frame pointer.
func ClassifyKind(fn *mir.MIRFunction, optimized bool) Kind {
	noLocals := fn.LocalsTotalSize == 0
	if optimized && noLocals && IsLeaf(fn) {
		return None
	}
	if optimized && noLocals {
		return Minimal
	}
	return Full
}

// Plan is the materialized frame layout for one function, computed once by
// Compute and consumed by Materialize's prologue/epilogue insertion.
type Plan struct {
	Kind            Kind
	ReservedBytes   int
	CalleeSavedUsed []mir.Reg
}

// Compute computes (without mutating fn) the frame layout per spec.md §4.D and
// §6.1's shadow-space addendum.
func Compute(fn *mir.MIRFunction, cc *abi.Table, optimized bool, calleeSavedUsed []mir.Reg) Plan {
	kind := ClassifyKind(fn, optimized)
	reserved := 0
	switch kind {
	case Minimal:
		reserved = Align16(fn.LocalsTotalSize) + 8
	case Full:
		reserved = Align16(fn.LocalsTotalSize)
	}
	if kind != None && cc.ShadowSpaceBytes > 0 {
		reserved += cc.ShadowSpaceBytes + 8
	}
	return Plan{Kind: kind, ReservedBytes: reserved, CalleeSavedUsed: calleeSavedUsed}
}

// Materialize inserts the prologue at the head of fn's entry block and an
// epilogue immediately before every M_RETURN, per spec.md §4.D: "Callee-saved
// register preservation is emitted inside the prologue/epilogue, in
// push-pop order." A None frame that uses callee-saved registers still gets
// their pushes and pops, with no RBP setup and no stack reservation.
func Materialize(fn *mir.MIRFunction, plan Plan) {
	needed := plan.Kind != None || len(plan.CalleeSavedUsed) > 0
	if needed {
		insertPrologue(fn.EntryBlock(), plan)
	}
	for _, b := range fn.Blocks {
		term := b.Terminator()
		if term == nil || term.Op != mir.OpReturn {
			continue
		}
		if needed {
			insertEpilogue(b, term, plan)
		}
	}
}

func insertPrologue(entry *mir.MIRBlock, plan Plan) {
	first := entry.Instructions()
	var mark *mir.MInst
	if len(first) > 0 {
		mark = first[0]
	}

	emit := func(inst *mir.MInst) {
		if mark != nil {
			entry.InsertBefore(mark, inst)
		} else {
			entry.Append(inst)
		}
	}

	if plan.Kind == Full {
		emit(mir.NewMInst(mir.OpPush, mir.RegInvalid, mir.Size64, mir.RegOperand(mir.RBP, mir.Size64)))
		emit(mir.NewMInst(mir.OpCopy, mir.RBP, mir.Size64, mir.RegOperand(mir.RSP, mir.Size64)))
	}
	for _, r := range plan.CalleeSavedUsed {
		emit(mir.NewMInst(mir.OpPush, mir.RegInvalid, mir.Size64, mir.RegOperand(r, mir.Size64)))
	}
	if plan.ReservedBytes > 0 {
		emit(mir.NewMInst(mir.OpSub, mir.RSP, mir.Size64,
			mir.RegOperand(mir.RSP, mir.Size64), mir.ImmOperand(int64(plan.ReservedBytes))))
	}
}

func insertEpilogue(b *mir.MIRBlock, ret *mir.MInst, plan Plan) {
	emit := func(inst *mir.MInst) { b.InsertBefore(ret, inst) }

	if plan.ReservedBytes > 0 {
		emit(mir.NewMInst(mir.OpAdd, mir.RSP, mir.Size64,
			mir.RegOperand(mir.RSP, mir.Size64), mir.ImmOperand(int64(plan.ReservedBytes))))
	}
	for i := len(plan.CalleeSavedUsed) - 1; i >= 0; i-- {
		r := plan.CalleeSavedUsed[i]
		emit(mir.NewMInst(mir.OpPop, r, mir.Size64))
	}
	if plan.Kind == Full {
		emit(mir.NewMInst(mir.OpCopy, mir.RSP, mir.Size64, mir.RegOperand(mir.RBP, mir.Size64)))
		emit(mir.NewMInst(mir.OpPop, mir.RBP, mir.Size64))
	}
}
