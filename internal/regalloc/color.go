package regalloc

import (
	"sort"

	"github.com/fncompiler/fncc/internal/mir"
)

// colorResult is the outcome of one simplify/select pass (spec.md §4.C
// step 3).
type colorResult struct {
	assignment map[mir.Reg]mir.Reg // virtual -> physical
	spilled    []mir.Reg
}

// simplifyAndColor implements spec.md §4.C steps 3-4's non-spill half:
// repeatedly remove low-degree virtual nodes onto a stack, spill-selecting
// when none remain, then pop the stack assigning the lowest free color.
func simplifyAndColor(g *graph, pool []mir.Reg) colorResult {
	k := len(pool)

	removed := make(map[mir.Reg]bool)
	degree := make(map[mir.Reg]int)
	var virtuals []mir.Reg
	for r, neighbors := range g.adj {
		if g.isVirtual(r) {
			virtuals = append(virtuals, r)
			degree[r] = len(neighbors)
		}
	}
	// Stable iteration order so output is deterministic (spec.md §4.C
	// tie-break rules depend on it).
	sort.Slice(virtuals, func(i, j int) bool { return virtuals[i] < virtuals[j] })

	var stack []mir.Reg
	var spilled []mir.Reg

	remaining := len(virtuals)
	for remaining > 0 {
		progressed := false
		for _, v := range virtuals {
			if removed[v] {
				continue
			}
			if degree[v] < k {
				removed[v] = true
				remaining--
				stack = append(stack, v)
				for n := range g.adj[v] {
					if !removed[n] {
						degree[n]--
					}
				}
				progressed = true
			}
		}
		if progressed {
			continue
		}

		// No node has degree < k: spill-select one (spec.md §4.C step 3,
		// "prefer high-degree, low-use-density"; tie-break on latest first
		// use is approximated here by lowest id, giving a stable, simple
		// rule since MIR construction order already tracks program order).
		candidate := pickSpillCandidate(virtuals, removed, degree, g.useCount)
		removed[candidate] = true
		remaining--
		spilled = append(spilled, candidate)
		for n := range g.adj[candidate] {
			if !removed[n] {
				degree[n]--
			}
		}
	}

	if len(spilled) > 0 {
		return colorResult{spilled: spilled}
	}

	assignment := make(map[mir.Reg]mir.Reg, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		v := stack[i]
		used := make(map[mir.Reg]bool)
		for n := range g.adj[v] {
			if n.IsPhysical() {
				used[n] = true
			} else if c, ok := assignment[n]; ok {
				used[c] = true
			}
		}
		assigned := false
		for _, p := range pool {
			if !used[p] {
				assignment[v] = p
				assigned = true
				break
			}
		}
		if !assigned {
			// Should not happen: v was simplified at degree < k, so a free
			// color is guaranteed. Surface loudly rather than silently
			// miscompiling if this invariant is ever violated.
			panic("BUG: no free color for a simplified node")
		}
	}
	return colorResult{assignment: assignment}
}

func pickSpillCandidate(virtuals []mir.Reg, removed map[mir.Reg]bool, degree map[mir.Reg]int, useCount map[mir.Reg]int) mir.Reg {
	best := mir.RegInvalid
	bestScore := -1.0
	for _, v := range virtuals {
		if removed[v] {
			continue
		}
		uses := useCount[v]
		if uses == 0 {
			uses = 1
		}
		score := float64(degree[v]) / float64(uses)
		if score > bestScore || (score == bestScore && v < best) {
			bestScore = score
			best = v
		}
	}
	return best
}
