package ir

import "fmt"

// BlockID is the arena index of a Block, stable across its lifetime.
type BlockID uint32

// predecessor records one incoming control-flow edge, naming both the
// source block and the terminator instruction responsible for the edge —
// mirroring the teacher's basicBlockPredecessorInfo (ssa/basic_block.go),
// which keeps the branch instruction alongside the block so Phi lowering
// can find exactly where to insert a feeding copy.
type predecessor struct {
	block      *Block
	terminator *Instruction
}

// Block is a basic block: a straight-line instruction sequence with exactly
// one terminator at its end once closed (spec.md §3.2).
type Block struct {
	id   BlockID
	fn   *Function
	name string // assigned late, for labeling (spec.md §3.2)

	root, tail *Instruction
	preds      []predecessor
	succs      []*Block

	invalid bool
}

// ID returns this block's arena-stable identity.
func (b *Block) ID() BlockID { return b.id }

// Name returns this block's label, assigning a default "blkN" the first
// time it is requested if none was set explicitly.
func (b *Block) Name() string {
	if b.name == "" {
		b.name = fmt.Sprintf("blk%d", b.id)
	}
	return b.name
}

// SetName assigns this block's label explicitly.
func (b *Block) SetName(name string) { b.name = name }

// Root returns the first instruction of this block, or nil if empty.
func (b *Block) Root() *Instruction { return b.root }

// Tail returns the last instruction of this block (the terminator, once
// closed), or nil if empty.
func (b *Block) Tail() *Instruction { return b.tail }

// Closed reports whether this block's last instruction is a terminator
// (spec.md §3.2: "A block is closed iff its last instruction is a
// terminator").
func (b *Block) Closed() bool { return b.tail != nil && b.tail.IsTerminator() }

// Valid reports whether this block is still live (not detached via
// mark_unreachable's caller or an optimizer pass).
func (b *Block) Valid() bool { return !b.invalid }

// Preds returns the predecessor blocks in the control-flow graph.
func (b *Block) Preds() []*Block {
	ret := make([]*Block, len(b.preds))
	for i, p := range b.preds {
		ret[i] = p.block
	}
	return ret
}

// Succs returns the successor blocks in the control-flow graph.
func (b *Block) Succs() []*Block { return b.succs }

// Function returns the owning function.
func (b *Block) Function() *Function { return b.fn }

// insertAtTail appends inst to the end of this block's instruction list,
// without any terminator/closed checking — callers (Builder) enforce
// invariant 3.
func (b *Block) insertAtTail(inst *Instruction) {
	inst.block = b
	if b.tail == nil {
		b.root = inst
	} else {
		b.tail.next = inst
		inst.prev = b.tail
	}
	b.tail = inst
}

// detach removes inst from this block's instruction list. It does not touch
// use-lists; callers (Builder.Remove) are responsible for that.
func (b *Block) detach(inst *Instruction) {
	if inst.prev != nil {
		inst.prev.next = inst.next
	} else {
		b.root = inst.next
	}
	if inst.next != nil {
		inst.next.prev = inst.prev
	} else {
		b.tail = inst.prev
	}
	inst.prev, inst.next, inst.block = nil, nil, nil
}

// addPred registers a new predecessor edge terminating in `term`.
func (b *Block) addPred(from *Block, term *Instruction) {
	b.preds = append(b.preds, predecessor{block: from, terminator: term})
	from.succs = append(from.succs, b)
}

// removePred drops the predecessor edge from `from`, used by mark_unreachable
// (spec.md §4.A) to keep Phi argument lists (and the CFG) consistent after
// detaching a block.
func (b *Block) removePred(from *Block) {
	for i, p := range b.preds {
		if p.block == from {
			b.preds = append(b.preds[:i], b.preds[i+1:]...)
			break
		}
	}
	for i, s := range from.succs {
		if s == b {
			from.succs = append(from.succs[:i], from.succs[i+1:]...)
			break
		}
	}
}

// Instructions returns the instructions of this block in order. Provided for
// convenience; hot paths should walk Root()/Next() directly.
func (b *Block) Instructions() []*Instruction {
	var out []*Instruction
	for cur := b.root; cur != nil; cur = cur.next {
		out = append(out, cur)
	}
	return out
}
