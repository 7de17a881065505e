// Package abi holds the two calling-convention tables of spec.md §6.1,
// shared by internal/isel (parameter/argument lowering), internal/regalloc
// (precoloring and caller-saved interference), and internal/frame (prologue
// shadow-space accounting) — the "machine description as a set of function
// pointers and tables... collected behind a single capability object" of
// spec.md §9, generalized here to two selectable value instances rather
// than one hardcoded table.
package abi

import "github.com/fncompiler/fncc/internal/mir"

// CallingConvention selects which Table a compile uses.
type CallingConvention byte

const (
	SystemV CallingConvention = iota
	MicrosoftX64
)

func (c CallingConvention) String() string {
	if c == MicrosoftX64 {
		return "Microsoft x64"
	}
	return "System V"
}

// Table is the calling-convention-specific register assignment (spec.md
// §6.1).
type Table struct {
	Convention CallingConvention

	// Pool is every register available to the allocator: all GPRs except
	// RSP and RBP, which are reserved for stack/frame management.
	Pool []mir.Reg

	ArgRegs     []mir.Reg
	CallerSaved []mir.Reg
	CalleeSaved []mir.Reg
	Result      mir.Reg

	// ShadowSpaceBytes is reserved above the return address for callee
	// scratch on Microsoft x64 (spec.md §6.1); zero on System V.
	ShadowSpaceBytes int
}

var pool = []mir.Reg{
	mir.RAX, mir.RCX, mir.RDX, mir.RBX, mir.RSI, mir.RDI,
	mir.R8, mir.R9, mir.R10, mir.R11, mir.R12, mir.R13, mir.R14, mir.R15,
}

var systemV = &Table{
	Convention:  SystemV,
	Pool:        pool,
	ArgRegs:     []mir.Reg{mir.RDI, mir.RSI, mir.RDX, mir.RCX, mir.R8, mir.R9},
	CallerSaved: []mir.Reg{mir.RAX, mir.RCX, mir.RDX, mir.RSI, mir.RDI, mir.R8, mir.R9, mir.R10, mir.R11},
	CalleeSaved: []mir.Reg{mir.RBX, mir.R12, mir.R13, mir.R14, mir.R15},
	Result:      mir.RAX,
}

var msX64 = &Table{
	Convention:       MicrosoftX64,
	Pool:             pool,
	ArgRegs:          []mir.Reg{mir.RCX, mir.RDX, mir.R8, mir.R9},
	CallerSaved:      []mir.Reg{mir.RAX, mir.RCX, mir.RDX, mir.R8, mir.R9, mir.R10, mir.R11},
	CalleeSaved:      []mir.Reg{mir.RBX, mir.RSI, mir.RDI, mir.R12, mir.R13, mir.R14, mir.R15},
	Result:           mir.RAX,
	ShadowSpaceBytes: 32,
}

// TableFor returns the Table for a calling convention.
func TableFor(cc CallingConvention) *Table {
	if cc == MicrosoftX64 {
		return msX64
	}
	return systemV
}

// IsCallerSaved reports whether r is caller-saved under t.
func (t *Table) IsCallerSaved(r mir.Reg) bool {
	for _, cs := range t.CallerSaved {
		if cs == r {
			return true
		}
	}
	return false
}

// ArgReg returns the ABI argument register for parameter index i and
// whether i is passed in a register at all (spec.md §4.B "Indices beyond
// the in-register count are lowered to loads from stack argument slots").
func (t *Table) ArgReg(i int) (mir.Reg, bool) {
	if i < len(t.ArgRegs) {
		return t.ArgRegs[i], true
	}
	return mir.RegInvalid, false
}
