package mangle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fncompiler/fncc/internal/ast"
)

func TestFunction_NameAndArity(t *testing.T) {
	sig := &ast.FuncType{Params: []ast.Type{ast.Integer64, ast.Integer64}, Result: ast.Integer64}
	got := Function("add", sig)
	assert.Equal(t, "_XF3add", got[:7], "literal prefix is _XF<len><name>")
	assert.Equal(t, "F", got[7:8], "function type-mangle begins with F")
	assert.Equal(t, "3i64"+"3i64"+"E", got[len(got)-9:], "one type-mangle per parameter, then E")
}

func TestFunction_MatchesGrammarExactly(t *testing.T) {
	sig := &ast.FuncType{Params: []ast.Type{ast.Integer64, ast.Integer64}, Result: ast.Integer64}
	// "i64" per ast.IntegerType.String(); <len><name> for the result and
	// each parameter, F...E wrapping the whole signature.
	want := "_XF3add" + "F" + "3i64" + "3i64" + "3i64" + "E"
	assert.Equal(t, want, Function("add", sig))
}

func TestFunction_Pointer(t *testing.T) {
	sig := &ast.FuncType{Params: []ast.Type{&ast.PointerType{Elem: ast.Integer8}}, Result: ast.Void}
	want := "_XF5printF" + "4void" + "P" + "2i8" + "E"
	assert.Equal(t, want, Function("print", sig))
}

func TestFunction_Array(t *testing.T) {
	sig := &ast.FuncType{Params: []ast.Type{&ast.ArrayType{Elem: ast.Integer8, N: 3}}, Result: ast.Void}
	want := "_XF4copyF" + "4void" + "A3E" + "2i8" + "E"
	assert.Equal(t, want, Function("copy", sig))
}

func TestFunction_NoParams(t *testing.T) {
	sig := &ast.FuncType{Result: ast.Integer64}
	assert.Equal(t, "_XF4mainF3i64E", Function("main", sig))
}

func TestType_NamedPrimitive(t *testing.T) {
	assert.Equal(t, "3i64", Type(ast.Integer64))
}

func TestFunctionSymbol_ExemptsMainAndExternal(t *testing.T) {
	sig := &ast.FuncType{Result: ast.Integer64}
	assert.Equal(t, "main", FunctionSymbol("main", sig, false), "main is never mangled")
	assert.Equal(t, "printf", FunctionSymbol("printf", sig, true), "external functions are never mangled")
	assert.Equal(t, Function("compute", sig), FunctionSymbol("compute", sig, false),
		"a non-external function whose name isn't main is always mangled")
}
