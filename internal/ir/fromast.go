package ir

import (
	"fmt"

	"github.com/fncompiler/fncc/internal/ast"
)

// frontend drives the AST walk that builds IR (spec.md §4.A "IR construction
// from the AST"). It tracks the lexically-scoped symbol → IR value map for
// locals and the module-wide function/static lookup tables, but holds no
// other state: everything else lives on the Builder and the IR it is
// constructing.
type frontend struct {
	b       *Builder
	funcs   map[*ast.Function]*Function
	statics map[*ast.VarDecl]*StaticVar
	scopes  []map[string]*Instruction
}

// BuildModule lowers a type-checked AST module to IR in one pass: statics
// first, then every function is predeclared (so a call to a function defined
// later in the module resolves), then every non-extern function's body is
// lowered.
func BuildModule(astMod *ast.Module) *Module {
	b := NewBuilder()
	b.module.Name = astMod.Name

	f := &frontend{
		b:       b,
		funcs:   make(map[*ast.Function]*Function),
		statics: make(map[*ast.VarDecl]*StaticVar),
	}

	f.buildStatics(astMod)

	for _, fn := range astMod.Functions {
		attrs := FuncAttrs{
			Consteval:   fn.Consteval,
			ForceInline: fn.ForceInline,
			Global:      fn.Global,
			Leaf:        fn.Leaf,
			NoReturn:    fn.NoReturn,
			Pure:        fn.Pure,
		}
		f.funcs[fn] = b.DeclareFunction(fn.Name, fn.Sig, fn.Linkage, attrs, fn.IsExtern)
	}

	for _, fn := range astMod.Functions {
		if fn.IsExtern || fn.Body == nil {
			continue
		}
		f.genFunctionBody(fn, f.funcs[fn])
	}

	return b.module
}

func isVoidType(t ast.Type) bool {
	_, ok := t.(*ast.VoidType)
	return ok
}

func (f *frontend) zeroOf(typ ast.Type) *Instruction {
	return f.b.Immediate(typ, 0)
}

func (f *frontend) pushScope() { f.scopes = append(f.scopes, make(map[string]*Instruction)) }
func (f *frontend) popScope()  { f.scopes = f.scopes[:len(f.scopes)-1] }

func (f *frontend) declareLocal(name string, alloca *Instruction) {
	f.scopes[len(f.scopes)-1][name] = alloca
}

func (f *frontend) lookupLocal(name string) *Instruction {
	for i := len(f.scopes) - 1; i >= 0; i-- {
		if v, ok := f.scopes[i][name]; ok {
			return v
		}
	}
	panic(fmt.Sprintf("BUG: unresolved local symbol %q (the type checker should have caught this)", name))
}

// buildStatics declares every module-level static, evaluating its optional
// initializer as a detached literal-only instruction (spec.md §3.2: "optional
// initializer (a literal-only instruction)").
func (f *frontend) buildStatics(astMod *ast.Module) {
	for _, decl := range astMod.Statics {
		var init *Instruction
		if decl.Init != nil {
			init = f.genStaticLiteral(decl.Init)
		}
		f.statics[decl] = f.b.CreateStatic(decl.Name, decl.Type, decl.Linkage, init)
	}
}

// genStaticLiteral builds a standalone Immediate instruction for an integer
// static initializer; other initializer expressions panic. It is never attached to a block: statics are not
// executed, so their initializer carries no control-flow position.
func (f *frontend) genStaticLiteral(e ast.Expr) *Instruction {
	switch n := e.(type) {
	case *ast.IntLit:
		return &Instruction{Opcode: OpImmediate, Type: n.ResolvedType(), ImmValue: n.Value}
	default:
		panic(fmt.Sprintf("BUG: static initializer must be literal-only, got %T", e))
	}
}

// genFunctionBody lowers one function definition: entry block, one Alloca
// per parameter with the incoming Parameter(i) stored into it, the body, and
// a trailing Return of the last value produced (or 0), per spec.md §4.A.
func (f *frontend) genFunctionBody(astFn *ast.Function, irFn *Function) {
	f.b.BeginFunctionBody(irFn)
	f.pushScope()

	for i, p := range astFn.Params {
		param := f.b.Parameter(i, p.Type)
		alloca := f.b.StackAllocate(p.Type)
		f.b.Store(param, alloca)
		f.declareLocal(p.Name, alloca)
	}

	last := f.genStmts(astFn.Body)
	f.popScope()

	if f.b.CurrentBlock().Closed() {
		return
	}
	if isVoidType(astFn.Sig.Result) {
		f.b.Return(nil)
		return
	}
	if last == nil {
		last = f.zeroOf(astFn.Sig.Result)
	}
	f.b.Return(last)
}

func (f *frontend) genLocalDecl(decl *ast.VarDecl) {
	alloca := f.b.StackAllocate(decl.Type)
	f.declareLocal(decl.Name, alloca)
	if decl.Init != nil {
		f.b.Store(f.genExpr(decl.Init), alloca)
	}
}

// genStmt lowers one statement, returning the value it produced (nil if
// none): a bare Expr statement contributes its value to the enclosing
// block's "last value produced"; an ExprStmt discards it explicitly.
func (f *frontend) genStmt(s ast.Stmt) *Instruction {
	switch n := s.(type) {
	case *ast.LocalDecl:
		f.genLocalDecl(n.Decl)
		return nil
	case *ast.ExprStmt:
		f.genExpr(n.Expr)
		return nil
	case ast.Expr:
		return f.genExpr(n)
	default:
		panic(fmt.Sprintf("BUG: unsupported statement node %T", s))
	}
}

func (f *frontend) genStmts(stmts []ast.Stmt) *Instruction {
	var last *Instruction
	for _, s := range stmts {
		last = f.genStmt(s)
	}
	return last
}

func (f *frontend) genExpr(e ast.Expr) *Instruction {
	switch n := e.(type) {
	case *ast.IntLit:
		return f.b.Immediate(n.ResolvedType(), n.Value)

	case *ast.VarRef:
		if n.Static != nil {
			ref := f.b.StaticReference(f.statics[n.Static])
			return f.b.Load(ref, n.ResolvedType())
		}
		return f.b.Load(f.lookupLocal(n.Name), n.ResolvedType())

	case *ast.FuncRef:
		return f.b.FuncReference(f.funcs[n.Func])

	case *ast.Unary:
		operand := f.genExpr(n.Operand)
		switch n.Op {
		case ast.OpNot:
			return f.b.Not(operand)
		case ast.OpNeg:
			return f.b.Sub(f.zeroOf(n.ResolvedType()), operand)
		default:
			panic(fmt.Sprintf("BUG: unsupported unary operator %v", n.Op))
		}

	case *ast.Binary:
		lhs := f.genExpr(n.Left)
		rhs := f.genExpr(n.Right)
		return f.binaryOp(n.Op, lhs, rhs)

	case *ast.Call:
		return f.genCall(n)

	case *ast.Cast:
		return f.b.CastCopy(f.genExpr(n.Operand), n.ResolvedType())

	case *ast.If:
		return f.genIf(n)

	case *ast.While:
		return f.genWhile(n)

	case *ast.For:
		return f.genFor(n)

	case *ast.Block:
		f.pushScope()
		v := f.genStmts(n.Stmts)
		f.popScope()
		if v == nil && !isVoidType(n.ResolvedType()) {
			v = f.zeroOf(n.ResolvedType())
		}
		return v

	case *ast.Member:
		return f.b.Load(f.genAddress(n), n.ResolvedType())

	case *ast.Assign:
		return f.genAssign(n)

	default:
		panic(fmt.Sprintf("BUG: unsupported expression node %T", e))
	}
}

func (f *frontend) binaryOp(op ast.Operator, lhs, rhs *Instruction) *Instruction {
	switch op {
	case ast.OpAdd:
		return f.b.Add(lhs, rhs)
	case ast.OpSub:
		return f.b.Sub(lhs, rhs)
	case ast.OpMul:
		return f.b.Mul(lhs, rhs)
	case ast.OpDiv:
		return f.b.Div(lhs, rhs)
	case ast.OpMod:
		return f.b.Mod(lhs, rhs)
	case ast.OpShl:
		return f.b.Shl(lhs, rhs)
	case ast.OpSar:
		return f.b.Sar(lhs, rhs)
	case ast.OpShr:
		return f.b.Shr(lhs, rhs)
	case ast.OpAnd:
		return f.b.And(lhs, rhs)
	case ast.OpOr:
		return f.b.Or(lhs, rhs)
	case ast.OpLt:
		return f.b.Comparison(OpLt, lhs, rhs)
	case ast.OpLe:
		return f.b.Comparison(OpLe, lhs, rhs)
	case ast.OpGt:
		return f.b.Comparison(OpGt, lhs, rhs)
	case ast.OpGe:
		return f.b.Comparison(OpGe, lhs, rhs)
	case ast.OpEq:
		return f.b.Comparison(OpEq, lhs, rhs)
	case ast.OpNe:
		return f.b.Comparison(OpNe, lhs, rhs)
	default:
		panic(fmt.Sprintf("BUG: unsupported binary operator %v", op))
	}
}

// genAddress codegens an expression "for address": the result is a
// pointer-valued instruction naming the storage the expression refers to,
// one dereference level short of its rvalue form (spec.md §4.A
// "Assignment... the LHS is re-codegen'd for address").
func (f *frontend) genAddress(e ast.Expr) *Instruction {
	switch n := e.(type) {
	case *ast.VarRef:
		if n.Static != nil {
			return f.b.StaticReference(f.statics[n.Static])
		}
		return f.lookupLocal(n.Name)

	case *ast.Member:
		baseAddr := f.genAddress(n.Base)
		st := structTypeOf(n.Base.ResolvedType())
		field, ok := fieldByName(st, n.Field)
		if !ok {
			panic(fmt.Sprintf("BUG: unresolved struct member %q", n.Field))
		}
		ptrType := &ast.PointerType{Elem: field.Type}
		if field.Offset == 0 {
			return baseAddr
		}
		addr := f.b.Add(baseAddr, f.b.Immediate(ast.Integer64, uint64(field.Offset)))
		addr.Type = ptrType
		return addr

	default:
		panic(fmt.Sprintf("BUG: expression is not addressable: %T", e))
	}
}

func structTypeOf(t ast.Type) *ast.StructType {
	switch tt := t.(type) {
	case *ast.StructType:
		return tt
	case *ast.PointerType:
		if st, ok := tt.Elem.(*ast.StructType); ok {
			return st
		}
	}
	panic(fmt.Sprintf("BUG: member access on non-struct type %s", t))
}

func fieldByName(st *ast.StructType, name string) (ast.StructField, bool) {
	for _, m := range st.Members {
		if m.Name == name {
			return m, true
		}
	}
	return ast.StructField{}, false
}

func funcTypeOf(t ast.Type) *ast.FuncType {
	switch tt := t.(type) {
	case *ast.FuncType:
		return tt
	case *ast.PointerType:
		if ft, ok := tt.Elem.(*ast.FuncType); ok {
			return ft
		}
	}
	panic(fmt.Sprintf("BUG: call through non-function type %s", t))
}

func (f *frontend) genAssign(n *ast.Assign) *Instruction {
	addr := f.genAddress(n.LHS)
	val := f.genExpr(n.RHS)
	f.b.Store(val, addr)
	return val
}

func (f *frontend) genCall(n *ast.Call) *Instruction {
	args := make([]*Instruction, len(n.Args))
	for i, a := range n.Args {
		args[i] = f.genExpr(a)
	}
	if n.IsIndirect {
		callee := f.genExpr(n.Callee)
		return f.b.IndirectCall(funcTypeOf(n.Callee.ResolvedType()), callee, args, n.TailCall)
	}
	fref, ok := n.Callee.(*ast.FuncRef)
	if !ok {
		panic(fmt.Sprintf("BUG: direct call callee is not a FuncRef: %T", n.Callee))
	}
	return f.b.DirectCall(f.funcs[fref.Func], args, n.TailCall)
}

// genIf lowers an if-expression to three blocks and a join Phi (spec.md
// §4.A / §8's boundary case: a missing else contributes literal 0).
func (f *frontend) genIf(n *ast.If) *Instruction {
	condBlk := f.b.CurrentBlock()
	thenBlk := f.b.BlockCreate()
	joinBlk := f.b.BlockCreate()
	hasElse := n.Else != nil

	var elseBlk *Block
	if hasElse {
		elseBlk = f.b.BlockCreate()
	} else {
		elseBlk = joinBlk
	}

	cond := f.genExpr(n.Cond)
	isVoid := isVoidType(n.ResolvedType())
	// With no else arm the zero operand is built here, before the
	// condition block is closed by its branch.
	var elseVal *Instruction
	if !hasElse && !isVoid {
		elseVal = f.zeroOf(n.ResolvedType())
	}
	f.b.BranchConditional(cond, thenBlk, elseBlk)

	f.b.BlockAttach(thenBlk)
	f.pushScope()
	thenVal := f.genStmts(n.Then)
	f.popScope()
	if !isVoid && thenVal == nil {
		thenVal = f.zeroOf(n.ResolvedType())
	}
	thenTerm := f.b.CurrentBlock()
	thenFallsThrough := !thenTerm.Closed()
	if thenFallsThrough {
		f.b.Branch(joinBlk)
	}

	var elseTerm *Block
	elseFallsThrough := true
	if hasElse {
		f.b.BlockAttach(elseBlk)
		f.pushScope()
		elseVal = f.genStmts(n.Else)
		f.popScope()
		if !isVoid && elseVal == nil {
			elseVal = f.zeroOf(n.ResolvedType())
		}
		elseTerm = f.b.CurrentBlock()
		elseFallsThrough = !elseTerm.Closed()
		if elseFallsThrough {
			f.b.Branch(joinBlk)
		}
	} else {
		elseTerm = condBlk
	}

	f.b.BlockAttach(joinBlk)
	if isVoid {
		return nil
	}

	phi := f.b.Phi(n.ResolvedType())
	if thenFallsThrough {
		f.b.PhiArgument(phi, thenTerm, thenVal)
	}
	if elseFallsThrough {
		f.b.PhiArgument(phi, elseTerm, elseVal)
	}
	return phi
}

// genWhile lowers a pretest loop: header (condition) / body / exit, body
// branching back to header (spec.md §4.A).
func (f *frontend) genWhile(n *ast.While) *Instruction {
	headerBlk := f.b.BlockCreate()
	bodyBlk := f.b.BlockCreate()
	exitBlk := f.b.BlockCreate()

	if !f.b.CurrentBlock().Closed() {
		f.b.Branch(headerBlk)
	}

	f.b.BlockAttach(headerBlk)
	cond := f.genExpr(n.Cond)
	f.b.BranchConditional(cond, bodyBlk, exitBlk)

	f.b.BlockAttach(bodyBlk)
	f.pushScope()
	f.genStmts(n.Body)
	f.popScope()
	if !f.b.CurrentBlock().Closed() {
		f.b.Branch(headerBlk)
	}

	f.b.BlockAttach(exitBlk)
	if isVoidType(n.ResolvedType()) {
		return nil
	}
	return f.zeroOf(n.ResolvedType())
}

// genFor lowers an init/cond/step loop to the same block shape as genWhile,
// with the initializer codegen'd in the current (pre-header) scope and the
// step appended at the end of the body (spec.md §4.A).
func (f *frontend) genFor(n *ast.For) *Instruction {
	f.pushScope()
	if n.Init != nil {
		f.genStmt(n.Init)
	}

	headerBlk := f.b.BlockCreate()
	bodyBlk := f.b.BlockCreate()
	exitBlk := f.b.BlockCreate()

	if !f.b.CurrentBlock().Closed() {
		f.b.Branch(headerBlk)
	}

	f.b.BlockAttach(headerBlk)
	if n.Cond != nil {
		cond := f.genExpr(n.Cond)
		f.b.BranchConditional(cond, bodyBlk, exitBlk)
	} else {
		f.b.Branch(bodyBlk)
	}

	f.b.BlockAttach(bodyBlk)
	f.pushScope()
	f.genStmts(n.Body)
	f.popScope()
	if n.Step != nil {
		f.genStmt(n.Step)
	}
	if !f.b.CurrentBlock().Closed() {
		f.b.Branch(headerBlk)
	}

	f.b.BlockAttach(exitBlk)
	f.popScope()
	if isVoidType(n.ResolvedType()) {
		return nil
	}
	return f.zeroOf(n.ResolvedType())
}
