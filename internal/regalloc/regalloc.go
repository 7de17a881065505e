// Package regalloc assigns physical x86-64 registers to the virtual
// registers of an internal/mir.MIRFunction under interference and
// calling-convention constraints (spec.md §4.C): liveness, an interference
// graph, Chaitin-style simplify/spill/color, and spill-code rewrite,
// iterated until a valid coloring is found.
package regalloc

import (
	"github.com/fncompiler/fncc/internal/abi"
	"github.com/fncompiler/fncc/internal/mir"
)

// Allocator runs register allocation for one calling convention.
type Allocator struct {
	cc *abi.Table
}

// New returns an Allocator bound to the given calling-convention table.
func New(cc *abi.Table) *Allocator { return &Allocator{cc: cc} }

// Result reports what the allocator decided, for internal/frame's prologue
// and epilogue (spec.md §4.C step 5: "the prologue saves and the epilogue
// restores exactly those [callee-saved registers the coloring used]").
type Result struct {
	CalleeSavedUsed []mir.Reg
	SpillRounds     int
}

// Allocate rewrites fn in place: every virtual-register operand and
// destination becomes a physical register, and any spilled value is
// rewritten to loads/stores against a dedicated frame slot (spec.md §4.C
// step 4: "rerun from step 1 until a valid coloring is obtained").
func (a *Allocator) Allocate(fn *mir.MIRFunction) Result {
	rounds := 0
	for {
		liveness := computeLiveness(fn)
		g := buildInterferenceGraph(fn, liveness, a.cc)
		result := simplifyAndColor(g, a.cc.Pool)
		if len(result.spilled) > 0 {
			rounds++
			rewriteSpills(fn, result.spilled)
			continue
		}
		return Result{CalleeSavedUsed: a.applyColoring(fn, result.assignment), SpillRounds: rounds}
	}
}

// applyColoring rewrites every Reg in fn's instructions that names a
// virtual register to its assigned physical register, and returns the
// distinct callee-saved registers actually used.
func (a *Allocator) applyColoring(fn *mir.MIRFunction, assignment map[mir.Reg]mir.Reg) []mir.Reg {
	used := make(map[mir.Reg]bool)
	calleeSaved := make(map[mir.Reg]bool, len(a.cc.CalleeSaved))
	for _, r := range a.cc.CalleeSaved {
		calleeSaved[r] = true
	}

	rewriteReg := func(r mir.Reg) mir.Reg {
		if r == mir.RegInvalid || r.IsPhysical() {
			return r
		}
		phys, ok := assignment[r]
		if !ok {
			panic("BUG: virtual register left uncolored after a successful allocation round")
		}
		if calleeSaved[phys] {
			used[phys] = true
		}
		return phys
	}

	for _, b := range fn.Blocks {
		for _, mi := range b.Instructions() {
			mi.Dest = rewriteReg(mi.Dest)
			for i := 0; i < mi.NumOperands; i++ {
				op := mi.Operand(i)
				if op.Kind == mir.OperandRegister {
					op.Reg = rewriteReg(op.Reg)
					setOperand(mi, i, op)
				}
			}
		}
	}

	var out []mir.Reg
	for _, r := range a.cc.CalleeSaved {
		if used[r] {
			out = append(out, r)
		}
	}
	return out
}
