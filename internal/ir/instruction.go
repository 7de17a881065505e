package ir

import (
	"fmt"
	"strings"

	"github.com/fncompiler/fncc/internal/ast"
)

// Opcode tags the variant of an Instruction. Per spec.md §9's design note,
// instructions are a flattened tagged struct rather than an interface per
// kind — operand access is constrained to the fields each Opcode defines,
// documented alongside the constant.
type Opcode uint16

const (
	// Values
	OpImmediate Opcode = 1 + iota // ImmValue
	OpParameter                   // ImmValue = parameter index
	OpRegister                    // ImmValue = physical register number (post-allocation marker)
	OpAlloca                      // ImmValue = size in bytes
	OpStaticRef                   // StaticVar
	OpFuncRef                     // Func
	OpLitInteger                  // ImmValue
	OpLitString                   // Str

	// Memory
	OpLoad  // Lhs = address
	OpStore // Lhs = address, Rhs = value

	// Binary arithmetic/bitwise/comparison
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpShl
	OpSar
	OpShr
	OpAnd
	OpOr
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNe

	// Unary
	OpNot  // Lhs = operand
	OpCopy // Lhs = operand

	// Control flow
	OpBranch             // Target
	OpBranchConditional  // Lhs = cond, Target = then, Else = else
	OpReturn             // Lhs = optional value (nil for void)
	OpUnreachable        //

	// Calls
	OpCall // Func (direct) or Lhs (indirect callee register); Args

	// Phi
	OpPhi // Args[i] is the value for PhiPreds[i]
)

var opcodeNames = map[Opcode]string{
	OpImmediate:         "immediate",
	OpParameter:         "parameter",
	OpRegister:          "register",
	OpAlloca:            "alloca",
	OpStaticRef:         "static_ref",
	OpFuncRef:           "func_ref",
	OpLitInteger:        "lit_integer",
	OpLitString:         "lit_string",
	OpLoad:              "load",
	OpStore:             "store",
	OpAdd:               "add",
	OpSub:               "sub",
	OpMul:               "mul",
	OpDiv:               "div",
	OpMod:               "mod",
	OpShl:               "shl",
	OpSar:               "sar",
	OpShr:               "shr",
	OpAnd:               "and",
	OpOr:                "or",
	OpLt:                "lt",
	OpLe:                "le",
	OpGt:                "gt",
	OpGe:                "ge",
	OpEq:                "eq",
	OpNe:                "ne",
	OpNot:               "not",
	OpCopy:               "copy",
	OpBranch:            "branch",
	OpBranchConditional: "branch_conditional",
	OpReturn:            "return",
	OpUnreachable:       "unreachable",
	OpCall:              "call",
	OpPhi:               "phi",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("opcode(%d)", o)
}

// IsTerminator reports whether this opcode must be the last instruction of
// its block (spec.md §3.2 invariant 3).
func (o Opcode) IsTerminator() bool {
	switch o {
	case OpBranch, OpBranchConditional, OpReturn, OpUnreachable:
		return true
	default:
		return false
	}
}

// InstID is the arena index of an Instruction, stable across its lifetime.
type InstID uint32

// Instruction is the single flattened representation of every IR value and
// every control/memory/call operation (spec.md §3.2). Which fields are
// meaningful is determined entirely by Opcode; see the comments next to
// each Opcode constant above.
type Instruction struct {
	id    InstID
	block *Block
	prev  *Instruction
	next  *Instruction

	Opcode Opcode
	Type   ast.Type

	// Operand slots. Re-used across opcodes per the comment table above.
	Lhs  *Instruction
	Rhs  *Instruction
	Else *Block

	ImmValue uint64
	Str      string

	StaticVar *StaticVar
	Func      *Function
	Target    *Block

	Args       []*Instruction // Call args, or Phi argument values
	PhiPreds   []*Block       // parallel to Args when Opcode == OpPhi
	IsIndirect bool
	TailCall   bool

	// users is the use-list: every Instruction that references this one as
	// an operand. Populated exclusively through addUse/removeUse (uses.go) so
	// that an operand rewrite can never update one side and forget the
	// other (spec.md §3.2 invariant 2, §9's replace_uses design note).
	users []*Instruction

	// unused is set by an external optimizer to mark a value-producing,
	// otherwise-unused instruction as intentionally dead (spec.md §3.2
	// invariant 1) without its removal.
	unused bool
}

// ID returns this instruction's arena-stable identity, usable as a map key.
func (i *Instruction) ID() InstID { return i.id }

// Block returns the block this instruction is attached to, or nil if
// detached.
func (i *Instruction) Block() *Block { return i.block }

// Next returns the next instruction in block order, or nil at the block's
// terminator.
func (i *Instruction) Next() *Instruction { return i.next }

// Prev returns the previous instruction in block order, or nil at the
// block's first instruction.
func (i *Instruction) Prev() *Instruction { return i.prev }

// IsTerminator reports whether this instruction ends its block.
func (i *Instruction) IsTerminator() bool { return i.Opcode.IsTerminator() }

// ProducesValue reports whether this instruction yields a usable value, as
// opposed to a pure-effect instruction like Store/Branch/Return.
func (i *Instruction) ProducesValue() bool {
	switch i.Opcode {
	case OpStore, OpBranch, OpBranchConditional, OpReturn, OpUnreachable:
		return false
	case OpCall:
		_, isVoid := i.Type.(*ast.VoidType)
		return !isVoid
	default:
		return true
	}
}

// Users returns the use-list: instructions that reference this one as an
// operand. The caller must not retain the returned slice across a mutation.
func (i *Instruction) Users() []*Instruction { return i.users }

// MarkUnused flags a value-producing instruction as deliberately unused by
// an optimizer, satisfying invariant 1 without requiring its removal.
func (i *Instruction) MarkUnused() { i.unused = true }

// IsDead reports whether this instruction has no users and has not been
// marked unused — i.e. it is a candidate for removal.
func (i *Instruction) IsDead() bool {
	return i.ProducesValue() && len(i.users) == 0 && !i.unused
}

// ForEachChild enumerates this instruction's Instruction-typed operands in a
// fixed, opcode-independent order, regardless of which concrete fields back
// them (spec.md §4.A "for_each_child"). It is the single place that knows
// how to walk every variant, so replace_uses and the use-list maintenance in
// uses.go never need opcode-specific logic.
func (i *Instruction) ForEachChild(fn func(*Instruction)) {
	switch i.Opcode {
	case OpLoad, OpNot, OpCopy:
		if i.Lhs != nil {
			fn(i.Lhs)
		}
	case OpStore:
		if i.Lhs != nil {
			fn(i.Lhs)
		}
		if i.Rhs != nil {
			fn(i.Rhs)
		}
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpShl, OpSar, OpShr, OpAnd, OpOr,
		OpLt, OpLe, OpGt, OpGe, OpEq, OpNe:
		if i.Lhs != nil {
			fn(i.Lhs)
		}
		if i.Rhs != nil {
			fn(i.Rhs)
		}
	case OpBranchConditional:
		if i.Lhs != nil {
			fn(i.Lhs)
		}
	case OpReturn:
		if i.Lhs != nil {
			fn(i.Lhs)
		}
	case OpCall:
		if i.IsIndirect && i.Lhs != nil {
			fn(i.Lhs)
		}
		for _, a := range i.Args {
			fn(a)
		}
	case OpPhi:
		for _, a := range i.Args {
			fn(a)
		}
	}
}

// Format renders a debug-readable line for this instruction, e.g.
// "v3 = add v1, v2". This is the IR's only pretty-printer, sufficient to
// round-trip tests per spec.md §1's scope note on alternate back ends.
func (i *Instruction) Format() string {
	var b strings.Builder
	if i.ProducesValue() {
		fmt.Fprintf(&b, "v%d = ", i.id)
	}
	b.WriteString(i.Opcode.String())
	switch i.Opcode {
	case OpImmediate, OpLitInteger:
		fmt.Fprintf(&b, " %d", i.ImmValue)
	case OpParameter:
		fmt.Fprintf(&b, " %d", i.ImmValue)
	case OpAlloca:
		fmt.Fprintf(&b, " size=%d", i.ImmValue)
	case OpStaticRef:
		fmt.Fprintf(&b, " @%s", i.StaticVar.Name)
	case OpFuncRef:
		fmt.Fprintf(&b, " @%s", i.Func.Name)
	case OpLitString:
		fmt.Fprintf(&b, " %q", i.Str)
	case OpLoad:
		fmt.Fprintf(&b, " v%d", i.Lhs.id)
	case OpStore:
		fmt.Fprintf(&b, " v%d, v%d", i.Rhs.id, i.Lhs.id)
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpShl, OpSar, OpShr, OpAnd, OpOr,
		OpLt, OpLe, OpGt, OpGe, OpEq, OpNe:
		fmt.Fprintf(&b, " v%d, v%d", i.Lhs.id, i.Rhs.id)
	case OpNot, OpCopy:
		fmt.Fprintf(&b, " v%d", i.Lhs.id)
	case OpBranch:
		fmt.Fprintf(&b, " %s", i.Target.Name())
	case OpBranchConditional:
		fmt.Fprintf(&b, " v%d, %s, %s", i.Lhs.id, i.Target.Name(), i.Else.Name())
	case OpReturn:
		if i.Lhs != nil {
			fmt.Fprintf(&b, " v%d", i.Lhs.id)
		}
	case OpCall:
		if i.IsIndirect {
			fmt.Fprintf(&b, " v%d(", i.Lhs.id)
		} else {
			fmt.Fprintf(&b, " %s(", i.Func.Name)
		}
		for n, a := range i.Args {
			if n > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "v%d", a.id)
		}
		b.WriteByte(')')
	case OpPhi:
		for n, a := range i.Args {
			if n > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "[%s: v%d]", i.PhiPreds[n].Name(), a.id)
		}
	}
	return b.String()
}
