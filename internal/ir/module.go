package ir

import "github.com/fncompiler/fncc/internal/ast"

// StaticVar is a module-level variable (spec.md §3.2).
type StaticVar struct {
	Name        string
	Type        ast.Type
	Linkage     ast.Linkage
	Initializer *Instruction // literal-only instruction, or nil
	referencing []*Instruction
	Referenced  bool
}

// References returns every instruction that refers to this static via a
// StaticRef.
func (s *StaticVar) References() []*Instruction { return s.referencing }

func (s *StaticVar) addReference(inst *Instruction) {
	s.referencing = append(s.referencing, inst)
	s.Referenced = true
}

// FuncAttrs mirrors the attribute flags of spec.md §3.2.
type FuncAttrs struct {
	Consteval   bool
	ForceInline bool
	Global      bool
	Leaf        bool
	NoReturn    bool
	Pure        bool
}

// Function is an SSA function: an ordered list of Blocks, an ordered list
// of Parameter instructions (aliases into the entry block), and bookkeeping
// the later stages consume (spec.md §3.2).
type Function struct {
	Name    string
	Type    *ast.FuncType
	Linkage ast.Linkage
	Attrs   FuncAttrs

	blocksPool pool[Block]
	instrPool  pool[Instruction]

	blocks     []*Block // attachment order
	parameters []*Instruction

	IsExtern bool
}

// Blocks returns the function's blocks in attachment order.
func (f *Function) Blocks() []*Block { return f.blocks }

// Parameters returns the function's Parameter instructions, in argument
// order.
func (f *Function) Parameters() []*Instruction { return f.parameters }

// EntryBlock returns the function's first block, or nil if none yet.
func (f *Function) EntryBlock() *Block {
	if len(f.blocks) == 0 {
		return nil
	}
	return f.blocks[0]
}

func (f *Function) allocateBlock() *Block {
	blk := f.blocksPool.allocate()
	blk.id = BlockID(f.blocksPool.Allocated() - 1)
	blk.fn = f
	return blk
}

func (f *Function) allocateInstruction(op Opcode, typ ast.Type) *Instruction {
	inst := f.instrPool.allocate()
	inst.id = InstID(f.instrPool.Allocated() - 1)
	inst.Opcode = op
	inst.Type = typ
	return inst
}

// Module is a compilation unit: an ordered list of Functions and Static
// Variables (spec.md §3.2).
type Module struct {
	Name      string
	Functions []*Function
	Statics   []*StaticVar
}
