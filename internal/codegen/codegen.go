// Package codegen drives the linear pipeline of spec.md §2 from IR onward:
//
//	IR ─▶ [isel] ─▶ MIR ─▶ [regalloc] ─▶ MIR' ─▶
//	  [frame] ─▶ MIR'' ─▶ [amd64] ─▶ Generic Object File
//
// Run takes an already built *ir.Module; turning an AST into one is the
// job of ir.BuildModule (or of direct ir.Builder calls) before Run.
//
// It replaces the teacher's would-be global `codegen_verbose`/`optimise`
// flags (spec.md §9) with an explicit Config threaded through a Context,
// mirroring backend/compiler.go's Compiler/Machine split: Context plays
// the role of compiler, the per-phase packages play the role of Machine.
package codegen

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fncompiler/fncc/internal/abi"
	"github.com/fncompiler/fncc/internal/amd64"
	"github.com/fncompiler/fncc/internal/ast"
	"github.com/fncompiler/fncc/internal/frame"
	"github.com/fncompiler/fncc/internal/ir"
	"github.com/fncompiler/fncc/internal/isel"
	"github.com/fncompiler/fncc/internal/mir"
	"github.com/fncompiler/fncc/internal/obj"
	"github.com/fncompiler/fncc/internal/regalloc"
)

// Config is the compile-time configuration record of spec.md §9's design
// note, passed once into Run.
type Config struct {
	CallingConvention abi.CallingConvention
	Optimize          bool
	Verbose           bool
	Logger            *zap.Logger
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// Context carries all phase state for one compile (spec.md §9's
// capability-object pattern, generalized from the machine-description
// table to the whole pipeline's working state). Nothing here is a
// package-level global.
type Context struct {
	Config  Config
	CC      *abi.Table
	Object  *obj.Object
	Encoder *amd64.Encoder
	log     *zap.Logger
}

// Run lowers mod to a Generic Object File. It is the single entry point
// named by spec.md §7's error-propagation rule: every phase's error
// reaches the top of Run, which tears down the context and produces no
// partial object. The invariant-violation panic class (§7) is recovered
// here and converted to an *InvariantViolationError.
func Run(cfg Config, mod *ir.Module) (result *obj.Object, err error) {
	cc := abi.TableFor(cfg.CallingConvention)
	object := newObject()
	ctx := &Context{
		Config:  cfg,
		CC:      cc,
		Object:  object,
		Encoder: amd64.New(object, cc),
		log:     cfg.logger(),
	}

	defer func() {
		if r := recover(); r != nil {
			if ivErr, ok := r.(invariantPanic); ok {
				err = &InvariantViolationError{Invariant: ivErr.invariant, Detail: ivErr.detail}
				return
			}
			panic(r)
		}
	}()

	if compileErr := ctx.compile(mod); compileErr != nil {
		return nil, compileErr
	}
	return ctx.Object, nil
}

// invariantPanic is the typed panic spec.md §9 asks for: "the
// explicitly-fatal invariant-violation class... modeled as a typed panic
// recovered once at Run's top level." Lower-level packages
// (regalloc's coloring, in particular) panic with ordinary strings on
// truly-impossible states; those are left to crash rather than silently
// downgraded to errors, since a plain panic there signals this package's
// own assumptions are broken, not the user's input.
type invariantPanic struct {
	invariant string
	detail    string
}

func (ctx *Context) compile(mod *ir.Module) error {
	ctx.log.Debug("compile begin", zap.String("module", mod.Name), zap.Int("functions", len(mod.Functions)))

	if err := ctx.declareStatics(mod); err != nil {
		return errors.Wrap(err, "declaring statics")
	}

	mfns := isel.LowerModule(mod, ctx.CC)

	declared := make(map[string]bool, len(mfns))
	for _, mfn := range mfns {
		declared[mfn.Name] = true
	}
	for _, fn := range mod.Functions {
		if !declared[fn.Name] {
			ctx.Encoder.DeclareExternal(fn.Name)
		}
	}

	for _, mfn := range mfns {
		if err := ctx.compileFunction(mfn); err != nil {
			return errors.Wrapf(err, "compiling function %s", mfn.Name)
		}
	}

	if err := ctx.Object.ResolveLocalLabels(); err != nil {
		return errors.Wrap(err, "resolving local labels")
	}

	ctx.log.Debug("compile end", zap.String("module", mod.Name))
	return nil
}

func (ctx *Context) compileFunction(mfn *mir.MIRFunction) error {
	name := mfn.Name
	ctx.log.Debug("lower function", zap.String("function", name), zap.Int("blocks", len(mfn.Blocks)))

	alloc := regalloc.New(ctx.CC)
	result := alloc.Allocate(mfn)
	if result.SpillRounds > 1 {
		ctx.log.Warn("spill rewrite needed more than one round",
			zap.String("function", name), zap.Int("rounds", result.SpillRounds))
	}

	plan := frame.Compute(mfn, ctx.CC, ctx.Config.Optimize, result.CalleeSavedUsed)
	frame.Materialize(mfn, plan)
	ctx.log.Debug("frame materialized",
		zap.String("function", name), zap.String("kind", plan.Kind.String()),
		zap.Bool("leaf", frame.IsLeaf(mfn)), zap.Int("reserved", plan.ReservedBytes))

	exported := mfn.Origin != nil && mfn.Origin.Linkage == ast.LinkageExported
	if err := ctx.Encoder.EncodeFunction(mfn, exported); err != nil {
		return err
	}
	ctx.log.Debug("function encoded", zap.String("function", name))
	return nil
}

func (ctx *Context) declareStatics(mod *ir.Module) error {
	for _, sv := range mod.Statics {
		if sv.Linkage == ast.LinkageImported {
			ctx.Encoder.DeclareExternal(sv.Name)
			continue
		}
		data, err := staticBytes(sv)
		if err != nil {
			return err
		}
		ctx.Encoder.DeclareStatic(sv.Name, data)
	}
	return nil
}

// staticBytes renders a static variable's literal initializer to its
// in-memory byte form (spec.md §8 scenario 6: a string literal's bytes are
// its UTF-8 content plus one trailing NUL). An uninitialized static still
// occupies its zero-filled slot, since the object model has no distinct
// bss section (spec.md §3.4 names only .text and .data).
func staticBytes(sv *ir.StaticVar) ([]byte, error) {
	if sv.Initializer == nil {
		return make([]byte, sv.Type.SizeOf()), nil
	}
	switch sv.Initializer.Opcode {
	case ir.OpLitInteger, ir.OpImmediate:
		buf := make([]byte, sv.Type.SizeOf())
		v := sv.Initializer.ImmValue
		for i := range buf {
			buf[i] = byte(v >> (8 * i))
		}
		return buf, nil
	case ir.OpLitString:
		return append([]byte(sv.Initializer.Str), 0), nil
	default:
		return nil, &UnsupportedConstructError{
			Construct: "static initializer",
			Detail:    fmt.Sprintf("opcode %s is not a literal", sv.Initializer.Opcode),
		}
	}
}

func newObject() *obj.Object { return obj.New() }
