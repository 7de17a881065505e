package regalloc

import (
	"github.com/fncompiler/fncc/internal/abi"
	"github.com/fncompiler/fncc/internal/mir"
)

// graph is an undirected interference graph over both virtual and physical
// registers (spec.md §4.C step 2). Physical-register nodes are fixed points:
// they are never simplified or colored, but they still occupy a color in
// their neighbors' forbidden sets.
type graph struct {
	adj map[mir.Reg]map[mir.Reg]bool
	// useCount approximates use density for spill cost (spec.md §4.C step 3:
	// "prefer high-degree, low-use-density").
	useCount map[mir.Reg]int
}

func newGraph() *graph {
	return &graph{adj: make(map[mir.Reg]map[mir.Reg]bool), useCount: make(map[mir.Reg]int)}
}

func (g *graph) addNode(r mir.Reg) {
	if g.adj[r] == nil {
		g.adj[r] = make(map[mir.Reg]bool)
	}
}

func (g *graph) addEdge(a, b mir.Reg) {
	if a == b {
		return
	}
	g.addNode(a)
	g.addNode(b)
	g.adj[a][b] = true
	g.adj[b][a] = true
}

func (g *graph) isVirtual(r mir.Reg) bool { return r.IsVirtual() }

// buildInterferenceGraph walks every block once, maintaining the live set
// backward from the block's live-out, adding an edge between every pair of
// values live simultaneously (spec.md §4.C step 2). Opcode-inherent
// interference (DIV/MOD's RAX/RDX, shift's RCX) is already explicit in the
// MIR stream as literal physical-register operands emitted by isel, so no
// separate "instruction register interference" query is needed beyond
// call-clobber handling below.
func buildInterferenceGraph(fn *mir.MIRFunction, liveness map[*mir.MIRBlock]*liveSet, cc *abi.Table) *graph {
	g := newGraph()

	for _, b := range fn.Blocks {
		live := newRegSet()
		union(live, liveness[b].out)

		insts := b.Instructions()
		for i := len(insts) - 1; i >= 0; i-- {
			inst := insts[i]
			defs, uses := defsUses(inst)

			if isCallOp(inst.Op) {
				for r := range live {
					for _, clobbered := range cc.CallerSaved {
						g.addEdge(r, clobbered)
					}
				}
			}

			for _, d := range defs {
				g.addNode(d)
				for r := range live {
					if r != d {
						g.addEdge(d, r)
					}
				}
				delete(live, d)
			}
			// Two-address ops are encoded as MOV dest, lhs; OP dest, rhs, so
			// dest must not share rhs's register.
			if isTwoAddressOp(inst.Op) && inst.NumOperands > 1 {
				if rhs := inst.Operand(1); rhs.Kind == mir.OperandRegister {
					for _, d := range defs {
						g.addEdge(d, rhs.Reg)
					}
				}
			}
			for _, u := range uses {
				g.useCount[u]++
				live[u] = true
			}
		}
	}
	return g
}

func isTwoAddressOp(op mir.Op) bool {
	switch op {
	case mir.OpAdd, mir.OpSub, mir.OpMul, mir.OpAnd, mir.OpOr, mir.OpShl, mir.OpSar, mir.OpShr:
		return true
	default:
		return false
	}
}

func isCallOp(op mir.Op) bool {
	switch op {
	case mir.OpCall, mir.OpCallReg, mir.OpCallName:
		return true
	default:
		return false
	}
}
