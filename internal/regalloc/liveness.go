package regalloc

import "github.com/fncompiler/fncc/internal/mir"

// liveSet is the live-in/live-out register set for one block (spec.md
// §4.C step 1: "standard backward dataflow").
type liveSet struct {
	in, out map[mir.Reg]bool
}

func newRegSet() map[mir.Reg]bool { return make(map[mir.Reg]bool) }

func union(dst, src map[mir.Reg]bool) bool {
	changed := false
	for r := range src {
		if !dst[r] {
			dst[r] = true
			changed = true
		}
	}
	return changed
}

// defsUses collects the registers defined and used by inst.
func defsUses(inst *mir.MInst) (defs, uses []mir.Reg) {
	inst.ForEachRegOperand(func(r mir.Reg, _ mir.Size, isDef bool) {
		if isDef {
			defs = append(defs, r)
		} else {
			uses = append(uses, r)
		}
	})
	return defs, uses
}

// computeLiveness runs the standard backward fixpoint over fn's blocks
// (spec.md §4.C step 1). Iteration order does not affect correctness, only
// the number of rounds to converge, so we simply repeat over the blocks in
// reverse attachment order until nothing changes.
func computeLiveness(fn *mir.MIRFunction) map[*mir.MIRBlock]*liveSet {
	sets := make(map[*mir.MIRBlock]*liveSet, len(fn.Blocks))
	for _, b := range fn.Blocks {
		sets[b] = &liveSet{in: newRegSet(), out: newRegSet()}
	}

	for {
		changed := false
		for i := len(fn.Blocks) - 1; i >= 0; i-- {
			b := fn.Blocks[i]
			ls := sets[b]

			newOut := newRegSet()
			for _, succ := range b.Succs() {
				union(newOut, sets[succ].in)
			}

			newIn := newRegSet()
			union(newIn, newOut)
			insts := b.Instructions()
			for j := len(insts) - 1; j >= 0; j-- {
				defs, uses := defsUses(insts[j])
				for _, d := range defs {
					delete(newIn, d)
				}
				for _, u := range uses {
					newIn[u] = true
				}
			}

			if !setsEqual(ls.in, newIn) || !setsEqual(ls.out, newOut) {
				ls.in, ls.out = newIn, newOut
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return sets
}

func setsEqual(a, b map[mir.Reg]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for r := range a {
		if !b[r] {
			return false
		}
	}
	return true
}
