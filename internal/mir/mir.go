package mir

import (
	"fmt"

	"github.com/fncompiler/fncc/internal/ir"
)

// MachineOperandKind discriminates MachineOperand's variants (spec.md §3.3).
type MachineOperandKind byte

const (
	OperandImmediate MachineOperandKind = iota
	OperandRegister
	OperandBlock
	OperandFunction
	OperandStaticRef
	OperandLocalRef
	OperandName
	OperandPoison
	// OperandBundle marks Operands[0] when an MInst needs more than three
	// operands (spec.md §3.3: "a heap bundle when more are needed"); the
	// real operand list is MInst.Bundle.
	OperandBundle
	// OperandRBPOffset is a raw, already-known displacement from RBP, used
	// for incoming stack-passed arguments (positive, above the return
	// address) rather than a FrameObjects-table local (spec.md §4.B
	// "Indices beyond the in-register count are lowered to loads from
	// stack argument slots").
	OperandRBPOffset
)

// MachineOperand is a tagged union of everything an MInst can reference
// (spec.md §3.3).
type MachineOperand struct {
	Kind MachineOperandKind

	Imm int64

	Reg     Reg
	RegSize Size

	Block *MIRBlock
	Func  *MIRFunction
	Sym   *ir.StaticVar

	LocalIndex int // frame_index, for OperandLocalRef
	Name       string
}

func ImmOperand(v int64) MachineOperand { return MachineOperand{Kind: OperandImmediate, Imm: v} }
func RegOperand(r Reg, size Size) MachineOperand {
	return MachineOperand{Kind: OperandRegister, Reg: r, RegSize: size}
}
func BlockOperand(b *MIRBlock) MachineOperand   { return MachineOperand{Kind: OperandBlock, Block: b} }
func FuncOperand(f *MIRFunction) MachineOperand { return MachineOperand{Kind: OperandFunction, Func: f} }
func StaticOperand(s *ir.StaticVar) MachineOperand {
	return MachineOperand{Kind: OperandStaticRef, Sym: s}
}
func LocalOperand(idx int) MachineOperand { return MachineOperand{Kind: OperandLocalRef, LocalIndex: idx} }
func RBPOffsetOperand(disp int) MachineOperand {
	return MachineOperand{Kind: OperandRBPOffset, LocalIndex: disp}
}
func NameOperand(name string) MachineOperand {
	return MachineOperand{Kind: OperandName, Name: name}
}
func PoisonOperand() MachineOperand { return MachineOperand{Kind: OperandPoison} }

func (o MachineOperand) String() string {
	switch o.Kind {
	case OperandImmediate:
		return fmt.Sprintf("$%d", o.Imm)
	case OperandRegister:
		return o.Reg.String()
	case OperandBlock:
		return o.Block.Name()
	case OperandFunction:
		return "@" + o.Func.Name
	case OperandStaticRef:
		return "@" + o.Sym.Name
	case OperandLocalRef:
		return fmt.Sprintf("local[%d]", o.LocalIndex)
	case OperandName:
		return o.Name
	case OperandBundle:
		return "<bundle>"
	case OperandRBPOffset:
		return fmt.Sprintf("%d(%%rbp)", o.LocalIndex)
	default:
		return "poison"
	}
}

// MInst is one Machine IR instruction: a target-neutral-or-specific opcode,
// an optional destination register, and up to three operands (or a heap
// bundle for larger operand lists) (spec.md §3.3).
type MInst struct {
	Op   Op
	Cond CondCode // meaningful only for OpJcc / OpSetcc

	Dest     Reg
	DestSize Size

	Operands    [3]MachineOperand
	NumOperands int
	Bundle      []MachineOperand

	// RefCount is the number of times isel read the IR value this MInst
	// lowers (spec.md §4.B), set once the function is lowered. The allocator
	// does not read it; it counts register uses itself.
	RefCount int

	block      *MIRBlock
	prev, next *MInst
}

// NewMInst builds an MInst with up to three inline operands.
func NewMInst(op Op, dest Reg, destSize Size, operands ...MachineOperand) *MInst {
	if len(operands) > 3 {
		panic("BUG: use NewBundledMInst for more than three operands")
	}
	inst := &MInst{Op: op, Dest: dest, DestSize: destSize, NumOperands: len(operands)}
	copy(inst.Operands[:], operands)
	return inst
}

// NewBundledMInst builds an MInst whose operand list spills into a heap
// bundle (spec.md §3.3). isel does not build bundled instructions: a call
// carries only its callee operand, whatever its argument count.
func NewBundledMInst(op Op, dest Reg, destSize Size, operands []MachineOperand) *MInst {
	inst := &MInst{Op: op, Dest: dest, DestSize: destSize, NumOperands: len(operands)}
	inst.Operands[0] = PoisonOperand()
	inst.Operands[0].Kind = OperandBundle
	inst.Bundle = operands
	return inst
}

// Operand returns the i-th logical operand, transparently reading through a
// bundle when one is present.
func (m *MInst) Operand(i int) MachineOperand {
	if m.Bundle != nil {
		return m.Bundle[i]
	}
	return m.Operands[i]
}

// ForEachRegOperand calls fn for the destination (if valid) and every
// register operand, used by liveness/interference construction.
func (m *MInst) ForEachRegOperand(fn func(r Reg, size Size, isDef bool)) {
	if m.Dest != RegInvalid {
		fn(m.Dest, m.DestSize, true)
	}
	for i := 0; i < m.NumOperands; i++ {
		op := m.Operand(i)
		if op.Kind == OperandRegister {
			fn(op.Reg, op.RegSize, false)
		}
	}
}

func (m *MInst) String() string {
	s := m.Op.String()
	if m.Op == OpJcc || m.Op == OpSetcc {
		s += m.Cond.String()
	}
	if m.Dest != RegInvalid {
		s = fmt.Sprintf("%s = %s", m.Dest, s)
	}
	for i := 0; i < m.NumOperands; i++ {
		s += " " + m.Operand(i).String()
	}
	return s
}

// MIRBlock is a label plus an ordered, doubly-linked instruction list, with
// CFG successor/predecessor edges mirroring the originating IR block
// (spec.md §3.3).
type MIRBlock struct {
	id   int
	fn   *MIRFunction
	name string

	root, tail *MInst
	preds      []*MIRBlock
	succs      []*MIRBlock
}

func (b *MIRBlock) Name() string {
	if b.name == "" {
		return fmt.Sprintf("L%d", b.id)
	}
	return b.name
}

func (b *MIRBlock) Preds() []*MIRBlock { return b.preds }
func (b *MIRBlock) Succs() []*MIRBlock { return b.succs }

// AddSucc records a CFG edge from b to succ in both directions.
func (b *MIRBlock) AddSucc(succ *MIRBlock) {
	b.succs = append(b.succs, succ)
	succ.preds = append(succ.preds, b)
}

// Append adds inst to the end of the block's instruction list.
func (b *MIRBlock) Append(inst *MInst) {
	inst.block = b
	if b.tail == nil {
		b.root = inst
	} else {
		b.tail.next = inst
		inst.prev = b.tail
	}
	b.tail = inst
}

// InsertBefore splices inst immediately before mark (spec.md §4.B's PHI
// lowering: "insert an M_COPY into the end of pred_block before its
// terminator").
func (b *MIRBlock) InsertBefore(mark, inst *MInst) {
	inst.block = b
	inst.next = mark
	inst.prev = mark.prev
	if mark.prev != nil {
		mark.prev.next = inst
	} else {
		b.root = inst
	}
	mark.prev = inst
}

// Replace swaps old for replacement in place, preserving position.
func (b *MIRBlock) Replace(old, replacement *MInst) {
	replacement.block = b
	replacement.prev = old.prev
	replacement.next = old.next
	if old.prev != nil {
		old.prev.next = replacement
	} else {
		b.root = replacement
	}
	if old.next != nil {
		old.next.prev = replacement
	} else {
		b.tail = replacement
	}
}

// Instructions returns the block's instructions in order.
func (b *MIRBlock) Instructions() []*MInst {
	var out []*MInst
	for cur := b.root; cur != nil; cur = cur.next {
		out = append(out, cur)
	}
	return out
}

// Terminator returns the block's last instruction, or nil if empty.
func (b *MIRBlock) Terminator() *MInst { return b.tail }

// InsertAfter splices inst immediately after mark, used by regalloc's spill
// rewrite to append a store right after the spilled definition.
func (b *MIRBlock) InsertAfter(mark, inst *MInst) {
	inst.block = b
	inst.prev = mark
	inst.next = mark.next
	if mark.next != nil {
		mark.next.prev = inst
	} else {
		b.tail = inst
	}
	mark.next = inst
}

// Next returns the instruction following m in its block, or nil at the
// block's terminator.
func (m *MInst) Next() *MInst { return m.next }

// Prev returns the instruction preceding m in its block, or nil at the
// block's first instruction.
func (m *MInst) Prev() *MInst { return m.prev }

// FrameObject is one entry in a function's frame-object table (spec.md
// §3.3): a sized local, assigned a monotonically-decreasing offset from RBP
// once all allocas have been lowered.
type FrameObject struct {
	Size   int
	Offset int // negative, relative to RBP; assigned by AssignFrameOffsets
}

// MIRFunction is the machine-IR form of one ir.Function (spec.md §3.3).
type MIRFunction struct {
	Origin *ir.Function
	Name   string
	Blocks []*MIRBlock

	FrameObjects    []FrameObject
	LocalsTotalSize int

	vregs *VRegAllocator
	nextB int
}

// NewMIRFunction starts an empty MIRFunction mirroring origin. origin may be
// nil, in which case the function is unnamed.
func NewMIRFunction(origin *ir.Function) *MIRFunction {
	name := ""
	if origin != nil {
		name = origin.Name
	}
	return &MIRFunction{Origin: origin, Name: name, vregs: NewVRegAllocator()}
}

// NewBlock allocates and appends a new block.
func (f *MIRFunction) NewBlock(name string) *MIRBlock {
	b := &MIRBlock{id: f.nextB, fn: f, name: name}
	f.nextB++
	f.Blocks = append(f.Blocks, b)
	return b
}

// NewVReg issues a fresh virtual register. size is not recorded: the width
// travels on each operand and on MInst.DestSize.
func (f *MIRFunction) NewVReg(size Size) Reg { return f.vregs.New() }

// AddFrameObject reserves size bytes and returns its frame-object index
// (spec.md §4.B "Alloca lowering").
func (f *MIRFunction) AddFrameObject(size int) int {
	f.FrameObjects = append(f.FrameObjects, FrameObject{Size: size})
	return len(f.FrameObjects) - 1
}

// AssignFrameOffsets assigns each frame object a monotonically decreasing
// offset from RBP (spec.md §3.3: "negative... locals_total_size equals the
// sum of object sizes") and returns the total.
func (f *MIRFunction) AssignFrameOffsets() int {
	offset := 0
	for i := range f.FrameObjects {
		offset += f.FrameObjects[i].Size
		f.FrameObjects[i].Offset = -offset
	}
	f.LocalsTotalSize = offset
	return offset
}

func (f *MIRFunction) EntryBlock() *MIRBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}
