// Package mangle implements the structural name mangling of spec.md §6.3,
// used by internal/amd64 (symbol registration) and internal/isel (call and
// address-of references) to give every non-external, non-main function a
// linker-unique symbol name.
package mangle

import (
	"fmt"
	"strings"

	"github.com/fncompiler/fncc/internal/ast"
)

// Function mangles name under sig to "_XF<len><name><type-mangle>" (spec.md
// §6.3). Callers should skip mangling entirely for external functions and
// for "main", per the same section.
func Function(name string, sig *ast.FuncType) string {
	var b strings.Builder
	b.WriteString("_XF")
	fmt.Fprintf(&b, "%d%s", len(name), name)
	b.WriteString(mangleFuncType(sig))
	return b.String()
}

// FunctionSymbol returns the symbol name a function should be called by and
// registered under: name itself, unchanged, for external functions and for
// "main" (spec.md §6.3's two exemptions), or Function(name, sig) otherwise.
// This is the single place that rule lives, so every caller that needs a
// function's symbol name — the encoder registering it, the selector
// referencing it in a call or address-of — agrees on the same name.
func FunctionSymbol(name string, sig *ast.FuncType, isExtern bool) string {
	if isExtern || name == "main" {
		return name
	}
	return Function(name, sig)
}

// Type mangles a single type per spec.md §6.3's type-mangle grammar.
func Type(t ast.Type) string {
	switch tt := t.(type) {
	case *ast.PointerType:
		return "P" + Type(tt.Elem)
	case *ast.ArrayType:
		return fmt.Sprintf("A%dE%s", tt.N, Type(tt.Elem))
	case *ast.FuncType:
		return mangleFuncType(tt)
	default:
		// Named / primitive types, and struct types. A struct contributes
		// only its own name; its member types do not appear in the
		// mangled string.
		name := t.String()
		return fmt.Sprintf("%d%s", len(name), name)
	}
}

func mangleFuncType(sig *ast.FuncType) string {
	var b strings.Builder
	b.WriteString("F")
	b.WriteString(Type(sig.Result))
	for _, p := range sig.Params {
		b.WriteString(Type(p))
	}
	b.WriteString("E")
	return b.String()
}
