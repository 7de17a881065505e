package amd64

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fncompiler/fncc/internal/ast"
	"github.com/fncompiler/fncc/internal/ir"
	"github.com/fncompiler/fncc/internal/mangle"
	"github.com/fncompiler/fncc/internal/mir"
	"github.com/fncompiler/fncc/internal/obj"
)

func trivialMIRFunction(origin *ir.Function) *mir.MIRFunction {
	fn := mir.NewMIRFunction(origin)
	b := fn.NewBlock("entry")
	b.Append(mir.NewMInst(mir.OpReturn, mir.RegInvalid, 0))
	return fn
}

// EncodeFunction registers a non-external, non-main function under its
// mangled symbol name (spec.md §6.3), not its raw source name.
func TestEncodeFunction_ManglesNonMainFunctions(t *testing.T) {
	sig := &ast.FuncType{Result: ast.Integer64}
	b := ir.NewBuilder()
	origin := b.DeclareFunction("compute", sig, ast.LinkageExported, ir.FuncAttrs{}, false)

	e := newEncoder()
	require.NoError(t, e.EncodeFunction(trivialMIRFunction(origin), true))

	mangled := mangle.Function("compute", sig)
	assert.NotNil(t, e.Object.FindSymbol(mangled), "the encoder must register the mangled name")
	assert.Nil(t, e.Object.FindSymbol("compute"), "the raw name must not also be registered")
}

// main is exempt from mangling regardless of linkage.
func TestEncodeFunction_DoesNotMangleMain(t *testing.T) {
	sig := &ast.FuncType{Result: ast.Integer64}
	b := ir.NewBuilder()
	origin := b.DeclareFunction("main", sig, ast.LinkageExported, ir.FuncAttrs{}, false)

	e := newEncoder()
	require.NoError(t, e.EncodeFunction(trivialMIRFunction(origin), true))

	sym := e.Object.FindSymbol("main")
	require.NotNil(t, sym)
	assert.Equal(t, obj.SymFunction, sym.Kind)
}
