package ir

import (
	"fmt"

	"github.com/fncompiler/fncc/internal/ast"
)

// Builder is the IR construction API (spec.md §4.A). It owns the current
// Module, the Function currently being built, and the current insert point
// (a Function plus a Block); every constructor below allocates a new
// Instruction, attaches it to the insert point, wires its operands (updating
// use-lists via uses.go), and returns the new Instruction as a handle.
type Builder struct {
	module  *Module
	fn      *Function
	current *Block
}

// NewBuilder returns a Builder ready to build a new Module.
func NewBuilder() *Builder {
	return &Builder{module: &Module{}}
}

// Module returns the module being built.
func (b *Builder) Module() *Module { return b.module }

// CurrentFunction returns the function currently being built.
func (b *Builder) CurrentFunction() *Function { return b.fn }

// CurrentBlock returns the current insert point's block.
func (b *Builder) CurrentBlock() *Block { return b.current }

// SetInsertPoint moves the insert point to the tail of blk, which must
// belong to the function currently being built.
func (b *Builder) SetInsertPoint(blk *Block) {
	if blk.fn != b.fn {
		panic("BUG: block does not belong to the function under construction")
	}
	b.current = blk
}

// DeclareFunction creates a function shell (signature, linkage, attributes)
// and appends it to the module, without creating an entry block or making it
// the current function. Used by the AST walk (fromast.go) to predeclare
// every function before lowering any body, so a call to a function defined
// later in the module still resolves.
func (b *Builder) DeclareFunction(name string, typ *ast.FuncType, linkage ast.Linkage, attrs FuncAttrs, isExtern bool) *Function {
	fn := &Function{
		Name:       name,
		Type:       typ,
		Linkage:    linkage,
		Attrs:      attrs,
		IsExtern:   isExtern,
		blocksPool: newPool[Block](),
		instrPool:  newPool[Instruction](),
	}
	b.module.Functions = append(b.module.Functions, fn)
	return fn
}

// BeginFunctionBody allocates fn's entry block, makes fn the function under
// construction, and makes the entry block the insert point.
func (b *Builder) BeginFunctionBody(fn *Function) *Block {
	b.fn = fn
	entry := fn.allocateBlock()
	fn.blocks = append(fn.blocks, entry)
	b.current = entry
	return entry
}

// Function starts a new function in one step: declares it and begins its
// body (spec.md §4.A "function(name, type)"). Convenience for callers that
// do not need forward-declaration (e.g. tests building a single function).
func (b *Builder) Function(name string, typ *ast.FuncType, linkage ast.Linkage, attrs FuncAttrs) *Function {
	fn := b.DeclareFunction(name, typ, linkage, attrs, false)
	b.BeginFunctionBody(fn)
	return fn
}

// BlockCreate allocates a detached basic block (spec.md §4.A
// "block_create()").
func (b *Builder) BlockCreate() *Block {
	return b.fn.allocateBlock()
}

// BlockAttach attaches a detached block to the function under construction
// and makes it the insert point (spec.md §4.A "block_attach").
func (b *Builder) BlockAttach(blk *Block) {
	if blk.fn != b.fn {
		panic("BUG: block does not belong to the function under construction")
	}
	b.fn.blocks = append(b.fn.blocks, blk)
	b.current = blk
}

// insert appends inst to the current block, enforcing spec.md §3.2
// invariant 3: no non-terminator may follow a terminator.
func (b *Builder) insert(inst *Instruction) *Instruction {
	if b.current.Closed() {
		panic("BUG: attempted to insert an instruction after a block's terminator")
	}
	b.current.insertAtTail(inst)
	if inst.IsTerminator() {
		switch inst.Opcode {
		case OpBranch:
			inst.Target.addPred(b.current, inst)
		case OpBranchConditional:
			inst.Target.addPred(b.current, inst)
			inst.Else.addPred(b.current, inst)
		}
	}
	return inst
}

func (b *Builder) newInst(op Opcode, typ ast.Type) *Instruction {
	return b.fn.allocateInstruction(op, typ)
}

// Immediate constructs a constant value of the given type.
func (b *Builder) Immediate(typ ast.Type, value uint64) *Instruction {
	inst := b.newInst(OpImmediate, typ)
	inst.ImmValue = value
	return b.insert(inst)
}

// LitInteger constructs an untyped-literal integer, convertible to Integer64
// identically per spec.md §9's Open Question resolution (t_integer_literal
// treated as identity).
func (b *Builder) LitInteger(value uint64) *Instruction {
	inst := b.newInst(OpLitInteger, ast.Integer64)
	inst.ImmValue = value
	return b.insert(inst)
}

// LitString constructs a string literal instruction for use as a
// StaticVar initializer (CreateStatic). Unlike the other constructors it is
// not attached to any block and needs no current function: a string
// literal is never emitted directly as a value.
func (b *Builder) LitString(s string) *Instruction {
	return &Instruction{Opcode: OpLitString, Type: &ast.PointerType{Elem: ast.Integer8}, Str: s}
}

// Parameter constructs a reference to the idx-th argument. Only valid in the
// entry block, with idx less than the function's arity (spec.md §3.2
// invariant 5).
func (b *Builder) Parameter(idx int, typ ast.Type) *Instruction {
	if b.current != b.fn.EntryBlock() {
		panic("BUG: Parameter instruction outside the entry block")
	}
	if idx >= len(b.fn.Type.Params) {
		panic(fmt.Sprintf("BUG: parameter index %d out of range for arity %d", idx, len(b.fn.Type.Params)))
	}
	inst := b.newInst(OpParameter, typ)
	inst.ImmValue = uint64(idx)
	b.fn.parameters = append(b.fn.parameters, inst)
	return b.insert(inst)
}

// StackAllocate reserves size_of(typ) bytes of frame storage and returns a
// pointer-valued Alloca instruction (spec.md §4.A "stack_allocate").
func (b *Builder) StackAllocate(typ ast.Type) *Instruction {
	inst := b.newInst(OpAlloca, &ast.PointerType{Elem: typ})
	inst.ImmValue = uint64(typ.SizeOf())
	return b.insert(inst)
}

// CreateStatic declares a module-level static variable (spec.md §4.A
// "create_static"). init, if non-nil, must be a literal-only instruction.
func (b *Builder) CreateStatic(name string, typ ast.Type, linkage ast.Linkage, init *Instruction) *StaticVar {
	sv := &StaticVar{Name: name, Type: typ, Linkage: linkage, Initializer: init}
	b.module.Statics = append(b.module.Statics, sv)
	return sv
}

// StaticReference constructs a reference to a static variable's address
// (spec.md §4.A "static_reference").
func (b *Builder) StaticReference(sv *StaticVar) *Instruction {
	inst := b.newInst(OpStaticRef, &ast.PointerType{Elem: sv.Type})
	inst.StaticVar = sv
	sv.addReference(inst)
	return b.insert(inst)
}

// FuncReference constructs a reference to a function's address.
func (b *Builder) FuncReference(fn *Function) *Instruction {
	inst := b.newInst(OpFuncRef, &ast.PointerType{Elem: fn.Type})
	inst.Func = fn
	return b.insert(inst)
}

// Load reads resultType-sized data from addr (spec.md §4.A "load(addr)").
func (b *Builder) Load(addr *Instruction, resultType ast.Type) *Instruction {
	inst := b.newInst(OpLoad, resultType)
	inst.Lhs = addr
	addUse(inst, addr)
	return b.insert(inst)
}

// Store writes value to addr (spec.md §4.A "store(value, addr)").
func (b *Builder) Store(value, addr *Instruction) *Instruction {
	inst := b.newInst(OpStore, ast.Void)
	inst.Lhs = addr
	inst.Rhs = value
	addUse(inst, addr)
	addUse(inst, value)
	return b.insert(inst)
}

// binary constructs a two-operand instruction of the given opcode, with the
// result type inherited from lhs (spec.md §4.A "add/sub/...").
func (b *Builder) binary(op Opcode, lhs, rhs *Instruction) *Instruction {
	inst := b.newInst(op, lhs.Type)
	inst.Lhs, inst.Rhs = lhs, rhs
	addUse(inst, lhs)
	addUse(inst, rhs)
	return b.insert(inst)
}

func (b *Builder) Add(lhs, rhs *Instruction) *Instruction { return b.binary(OpAdd, lhs, rhs) }
func (b *Builder) Sub(lhs, rhs *Instruction) *Instruction { return b.binary(OpSub, lhs, rhs) }
func (b *Builder) Mul(lhs, rhs *Instruction) *Instruction { return b.binary(OpMul, lhs, rhs) }
func (b *Builder) Div(lhs, rhs *Instruction) *Instruction { return b.binary(OpDiv, lhs, rhs) }
func (b *Builder) Mod(lhs, rhs *Instruction) *Instruction { return b.binary(OpMod, lhs, rhs) }
func (b *Builder) Shl(lhs, rhs *Instruction) *Instruction { return b.binary(OpShl, lhs, rhs) }
func (b *Builder) Sar(lhs, rhs *Instruction) *Instruction { return b.binary(OpSar, lhs, rhs) }
func (b *Builder) Shr(lhs, rhs *Instruction) *Instruction { return b.binary(OpShr, lhs, rhs) }
func (b *Builder) And(lhs, rhs *Instruction) *Instruction { return b.binary(OpAnd, lhs, rhs) }
func (b *Builder) Or(lhs, rhs *Instruction) *Instruction  { return b.binary(OpOr, lhs, rhs) }

// Comparison constructs one of the six compare-kind instructions (spec.md
// §4.A "comparison(kind, lhs, rhs)"); kind must be one of OpLt..OpNe. The
// result is a Bool-typed value.
func (b *Builder) Comparison(kind Opcode, lhs, rhs *Instruction) *Instruction {
	switch kind {
	case OpLt, OpLe, OpGt, OpGe, OpEq, OpNe:
	default:
		panic("BUG: Comparison called with a non-compare opcode")
	}
	inst := b.newInst(kind, ast.Bool)
	inst.Lhs, inst.Rhs = lhs, rhs
	addUse(inst, lhs)
	addUse(inst, rhs)
	return b.insert(inst)
}

// Not constructs a bitwise/logical complement.
func (b *Builder) Not(src *Instruction) *Instruction {
	inst := b.newInst(OpNot, src.Type)
	inst.Lhs = src
	addUse(inst, src)
	return b.insert(inst)
}

// Copy constructs an identity/width-preserving copy, used for same-width
// casts (spec.md §4.A "Cast... if same width, a copy") and for Phi feeders
// inserted by MIR lowering.
func (b *Builder) Copy(src *Instruction) *Instruction {
	inst := b.newInst(OpCopy, src.Type)
	inst.Lhs = src
	addUse(inst, src)
	return b.insert(inst)
}

// CastCopy constructs a Copy whose result type differs from src's type
// (spec.md §4.A "Cast... if same width, a copy"; widening/narrowing casts
// are also Copy instructions here, distinguished only by Type vs src.Type —
// the instruction selector (internal/isel) reads both to choose MOVSX/MOVZX/
// a truncating MOV, per §4.B's Copy conversion rule).
func (b *Builder) CastCopy(src *Instruction, resultType ast.Type) *Instruction {
	inst := b.newInst(OpCopy, resultType)
	inst.Lhs = src
	addUse(inst, src)
	return b.insert(inst)
}

// Branch constructs an unconditional jump, closing the current block.
func (b *Builder) Branch(target *Block) *Instruction {
	inst := b.newInst(OpBranch, ast.Void)
	inst.Target = target
	return b.insert(inst)
}

// BranchConditional constructs a two-way conditional jump, closing the
// current block.
func (b *Builder) BranchConditional(cond *Instruction, then, els *Block) *Instruction {
	inst := b.newInst(OpBranchConditional, ast.Void)
	inst.Lhs = cond
	inst.Target = then
	inst.Else = els
	addUse(inst, cond)
	return b.insert(inst)
}

// Return constructs a function return, closing the current block. value may
// be nil for a void return.
func (b *Builder) Return(value *Instruction) *Instruction {
	inst := b.newInst(OpReturn, ast.Void)
	inst.Lhs = value
	addUse(inst, value)
	return b.insert(inst)
}

// Unreachable constructs the "this point can never execute" terminator.
func (b *Builder) Unreachable() *Instruction {
	inst := b.newInst(OpUnreachable, ast.Void)
	return b.insert(inst)
}

// Phi constructs an empty Phi instruction of the given type at the head of
// the current block, to be populated with PhiArgument (spec.md §4.A
// "phi(type)"). Phis are inserted at the block head since they are
// conceptually evaluated before any other instruction in the block.
func (b *Builder) Phi(typ ast.Type) *Instruction {
	inst := b.newInst(OpPhi, typ)
	root := b.current.root
	inst.block = b.current
	if root == nil {
		b.current.root = inst
		b.current.tail = inst
	} else {
		inst.next = root
		root.prev = inst
		b.current.root = inst
	}
	return inst
}

// PhiArgument adds one (predecessor, value) argument to a Phi (spec.md §4.A
// "phi_argument"). pred must be a CFG predecessor of the Phi's block
// (invariant 4).
func (b *Builder) PhiArgument(phi *Instruction, pred *Block, value *Instruction) {
	if phi.Opcode != OpPhi {
		panic("BUG: PhiArgument called on a non-Phi instruction")
	}
	found := false
	for _, p := range phi.block.preds {
		if p.block == pred {
			found = true
			break
		}
	}
	if !found {
		panic(fmt.Sprintf("BUG: %s is not a predecessor of %s", pred.Name(), phi.block.Name()))
	}
	phi.Args = append(phi.Args, value)
	phi.PhiPreds = append(phi.PhiPreds, pred)
	addUse(phi, value)
}

// DirectCall constructs a call to a statically-known function.
func (b *Builder) DirectCall(callee *Function, args []*Instruction, tailCall bool) *Instruction {
	inst := b.newInst(OpCall, callee.Type.Result)
	inst.Func = callee
	inst.TailCall = tailCall
	for _, a := range args {
		inst.Args = append(inst.Args, a)
		addUse(inst, a)
	}
	return b.insert(inst)
}

// IndirectCall constructs a call through a register/value holding a function
// pointer.
func (b *Builder) IndirectCall(calleeType *ast.FuncType, callee *Instruction, args []*Instruction, tailCall bool) *Instruction {
	inst := b.newInst(OpCall, calleeType.Result)
	inst.Lhs = callee
	inst.IsIndirect = true
	inst.TailCall = tailCall
	addUse(inst, callee)
	for _, a := range args {
		inst.Args = append(inst.Args, a)
		addUse(inst, a)
	}
	return b.insert(inst)
}

// AddArgument appends one more argument to an already-constructed call
// (spec.md §4.A "add_argument"), for callers that build the argument list
// incrementally rather than all at once.
func (b *Builder) AddArgument(call *Instruction, value *Instruction) {
	if call.Opcode != OpCall {
		panic("BUG: AddArgument called on a non-Call instruction")
	}
	call.Args = append(call.Args, value)
	addUse(call, value)
}

// Remove detaches inst from its block, unwires it from every operand's
// use-list (spec.md §4.A "remove"). Its arena slot is not reclaimed.
// inst must have no remaining users.
func (b *Builder) Remove(inst *Instruction) {
	if len(inst.users) != 0 {
		panic("BUG: Remove called on an instruction that still has users")
	}
	unwireOperands(inst)
	inst.block.detach(inst)
}

// MarkUnreachable removes blk from every Phi that referenced it as a
// predecessor, then replaces its terminator with Unreachable (spec.md §4.A
// "mark_unreachable").
func (b *Builder) MarkUnreachable(blk *Block) {
	for _, succ := range append([]*Block(nil), blk.succs...) {
		for cur := succ.root; cur != nil && cur.Opcode == OpPhi; cur = cur.next {
			for i, pb := range cur.PhiPreds {
				if pb == blk {
					removeUse(cur, cur.Args[i])
					cur.Args = append(cur.Args[:i], cur.Args[i+1:]...)
					cur.PhiPreds = append(cur.PhiPreds[:i], cur.PhiPreds[i+1:]...)
					break
				}
			}
		}
		succ.removePred(blk)
	}

	if old := blk.tail; old != nil {
		unwireOperands(old)
		blk.detach(old)
	}
	saved := b.current
	b.current = blk
	b.Unreachable()
	b.current = saved
}
