package regalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fncompiler/fncc/internal/abi"
	"github.com/fncompiler/fncc/internal/mir"
)

// buildInterferingFunction returns a function with n virtual registers,
// each defined by its own OpImm, all of them simultaneously live at a
// single instruction that uses every one of them — the simplest shape that
// forces every pair to interfere (spec.md §8: "no two simultaneously-live
// virtual registers share a color").
func buildInterferingFunction(n int) (*mir.MIRFunction, []mir.Reg) {
	fn := mir.NewMIRFunction(nil)
	b := fn.NewBlock("entry")

	vregs := make([]mir.Reg, n)
	operands := make([]mir.MachineOperand, n)
	for i := 0; i < n; i++ {
		v := fn.NewVReg(mir.Size64)
		vregs[i] = v
		b.Append(mir.NewMInst(mir.OpImm, v, mir.Size64, mir.ImmOperand(int64(i))))
		operands[i] = mir.RegOperand(v, mir.Size64)
	}
	// A single instruction using every vreg as a source keeps all of them
	// live simultaneously, regardless of what opcode it nominally is —
	// liveness/interference construction reads operands, not semantics.
	b.Append(mir.NewBundledMInst(mir.OpCmp, mir.RegInvalid, mir.Size64, operands))
	b.Append(mir.NewMInst(mir.OpReturn, mir.RegInvalid, 0))
	return fn, vregs
}

func TestAllocate_NoInterferingPairSharesAColor(t *testing.T) {
	cc := abi.TableFor(abi.SystemV)
	fn, vregs := buildInterferingFunction(len(cc.Pool))

	alloc := New(cc)
	alloc.Allocate(fn)

	// After allocation every vreg's defining OpImm has had its Dest
	// rewritten in place to a physical register; since all of them
	// interfere (the bundled OpCmp uses every one simultaneously), no two
	// may have been rewritten to the same physical register.
	seen := make(map[mir.Reg]bool, len(vregs))
	insts := fn.Blocks[0].Instructions()
	for _, inst := range insts[:len(vregs)] {
		require.True(t, inst.Dest.IsPhysical(), "every vreg must be colored to a physical register")
		assert.False(t, seen[inst.Dest], "two simultaneously-live registers must not share a color")
		seen[inst.Dest] = true
	}
	assert.Len(t, seen, len(vregs))
}

// Two more simultaneously live vregs than the pool has physical registers
// force at least one spill round; allocation must still converge to a valid
// coloring rather than looping forever or leaving a vreg uncolored. Each
// vreg is consumed by its own instruction: a single instruction reading
// more registers than the pool holds could never be colored, however many
// spill rounds ran.
func TestAllocate_SpillsWhenPoolExhausted(t *testing.T) {
	cc := abi.TableFor(abi.SystemV)
	fn := mir.NewMIRFunction(nil)
	b := fn.NewBlock("entry")
	n := len(cc.Pool) + 2
	vregs := make([]mir.Reg, n)
	for i := range vregs {
		vregs[i] = fn.NewVReg(mir.Size64)
		b.Append(mir.NewMInst(mir.OpImm, vregs[i], mir.Size64, mir.ImmOperand(int64(i))))
	}
	for _, v := range vregs {
		b.Append(mir.NewMInst(mir.OpPush, mir.RegInvalid, mir.Size64, mir.RegOperand(v, mir.Size64)))
	}
	b.Append(mir.NewMInst(mir.OpReturn, mir.RegInvalid, 0))

	alloc := New(cc)
	result := alloc.Allocate(fn)

	assert.GreaterOrEqual(t, result.SpillRounds, 1, "more live vregs than physical registers must trigger a spill round")

	for _, inst := range fn.Blocks[0].Instructions() {
		if inst.Dest != mir.RegInvalid {
			assert.True(t, inst.Dest.IsPhysical(), "allocation must leave no vreg destination uncolored")
		}
		for i := 0; i < inst.NumOperands; i++ {
			op := inst.Operand(i)
			if op.Kind == mir.OperandRegister {
				assert.True(t, op.Reg.IsPhysical(), "allocation must leave no vreg operand uncolored")
			}
		}
	}
}

// A function whose allocation used a callee-saved register reports it in
// Result.CalleeSavedUsed, which internal/frame relies on to size the
// prologue's save/restore set.
func TestAllocate_ReportsCalleeSavedUsed(t *testing.T) {
	cc := abi.TableFor(abi.SystemV)
	// More live vregs than caller-saved-only registers forces the
	// allocator to reach into the callee-saved set.
	fn, _ := buildInterferingFunction(len(cc.Pool))

	alloc := New(cc)
	result := alloc.Allocate(fn)

	calleeSaved := make(map[mir.Reg]bool, len(cc.CalleeSaved))
	for _, r := range cc.CalleeSaved {
		calleeSaved[r] = true
	}
	for _, r := range result.CalleeSavedUsed {
		assert.True(t, calleeSaved[r], "CalleeSavedUsed must only ever name registers from the convention's callee-saved set")
	}
	assert.NotEmpty(t, result.CalleeSavedUsed, "coloring every physical register in the pool must touch at least one callee-saved register")
}

// Two vregs that are never simultaneously live may legally share a color;
// this is the baseline this package optimizes for (fewer registers used
// overall), distinct from the interference test above.
func TestAllocate_NonInterferingVregsMayShareAColor(t *testing.T) {
	cc := abi.TableFor(abi.SystemV)
	fn := mir.NewMIRFunction(nil)
	b := fn.NewBlock("entry")

	a := fn.NewVReg(mir.Size64)
	b.Append(mir.NewMInst(mir.OpImm, a, mir.Size64, mir.ImmOperand(1)))
	b.Append(mir.NewMInst(mir.OpReturn, mir.RegInvalid, 0, mir.RegOperand(a, mir.Size64)))

	alloc := New(cc)
	result := alloc.Allocate(fn)

	assert.Equal(t, 0, result.SpillRounds)
	insts := b.Instructions()
	require.True(t, insts[0].Dest.IsPhysical())
}
