package amd64

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/fncompiler/fncc/internal/abi"
	"github.com/fncompiler/fncc/internal/mir"
	"github.com/fncompiler/fncc/internal/obj"
)

func newBuf() *encoderBuf {
	o := obj.New()
	return &encoderBuf{o: o, sec: o.SectionIndex(obj.CodeSectionName)}
}

// decode asserts data begins with a valid 64-bit mode instruction and
// returns it, round-tripping the encoder's output through an independent
// decoder rather than re-deriving the expected mnemonic by hand. Callers
// compare its Len against len(data) themselves.
func decode(t *testing.T, data []byte) x86asm.Inst {
	t.Helper()
	inst, err := x86asm.Decode(data, 64)
	require.NoError(t, err)
	return inst
}

// Scenario 1's literal case: MOV EAX, 42 (spec.md §8), the 5-byte
// zero-extending form, no REX prefix.
func TestEmitMovRegImm_Size64_SmallPositive(t *testing.T) {
	buf := newBuf()
	emitMovRegImm(buf, mir.RAX, mir.Size64, 42)
	data := buf.o.Code().Data
	assert.Equal(t, []byte{0xb8, 0x2a, 0x00, 0x00, 0x00}, data)
	inst := decode(t, data)
	assert.Equal(t, len(data), inst.Len)
	assert.Contains(t, inst.Op.String(), "MOV")
}

// A negative immediate fitting signed int32 takes the sign-extending
// REX.W + 0xC7 form, seven bytes, never the zero-extending 0xB8 form.
func TestEmitMovRegImm_Size64_Negative(t *testing.T) {
	buf := newBuf()
	emitMovRegImm(buf, mir.RCX, mir.Size64, -1)
	data := buf.o.Code().Data
	require.Len(t, data, 7)
	assert.Equal(t, byte(0x48), data[0], "REX.W required to sign-extend into the full 64-bit register")
	assert.Equal(t, byte(0xc7), data[1])
	inst := decode(t, data)
	assert.Equal(t, len(data), inst.Len)
}

// spec.md §8's boundary case: INT32_MAX+1 does not fit signed 32-bit and
// forces the 10-byte absolute-immediate form.
func TestEmitMovRegImm_Size64_Int32MaxPlusOneForcesWideForm(t *testing.T) {
	buf := newBuf()
	emitMovRegImm(buf, mir.RDX, mir.Size64, int64(1)<<31)
	data := buf.o.Code().Data
	require.Len(t, data, 10)
	assert.Equal(t, byte(0x48), data[0])
	assert.Equal(t, byte(0xba), data[1], "0xB8+rd for RDX is 0xBA")
	inst := decode(t, data)
	assert.Equal(t, len(data), inst.Len)
}

// A value that fits signed int32 but is negative must not take the short
// zero-extending path: -2147483648 fits signed int32 exactly.
func TestEmitMovRegImm_Size64_NegativeInt32Min(t *testing.T) {
	buf := newBuf()
	emitMovRegImm(buf, mir.RBX, mir.Size64, -2147483648)
	data := buf.o.Code().Data
	require.Len(t, data, 7, "a negative, signed-int32-representable immediate takes the REX.W+0xC7 form")
}

// A Size32 destination always uses the plain 0xB8+rd or 0xC7 form; REX.W is
// never set regardless of sign, since the destination is already 32 bits.
func TestEmitMovRegImm_Size32(t *testing.T) {
	buf := newBuf()
	emitMovRegImm(buf, mir.RSI, mir.Size32, -1)
	data := buf.o.Code().Data
	for _, b := range data[:1] {
		assert.NotEqual(t, byte(0x48), b&0xf8, "no REX.W for a Size32 destination")
	}
	inst := decode(t, data)
	assert.Equal(t, len(data), inst.Len)
}

func TestEmitMovRegImm_Size8(t *testing.T) {
	buf := newBuf()
	emitMovRegImm(buf, mir.RAX, mir.Size8, 7)
	data := buf.o.Code().Data
	assert.Equal(t, []byte{0xb0, 0x07}, data, "MOV AL, imm8 uses the short 0xB0+rb form")
}

func newEncoder() *Encoder {
	o := obj.New()
	return New(o, abi.TableFor(abi.SystemV))
}

// MOVZX r64, r8 encodes as the two-byte opcode 0F B6 and decodes as one
// instruction.
func TestEncodeExtend_Narrow(t *testing.T) {
	e := newEncoder()
	buf := &encoderBuf{o: e.Object, sec: e.Object.SectionIndex(obj.CodeSectionName)}
	inst := mir.NewMInst(mir.OpMovzx, mir.RAX, mir.Size64, mir.RegOperand(mir.RCX, mir.Size8))
	e.encodeExtend(buf, inst, false)
	data := buf.o.Code().Data
	require.True(t, len(data) >= 3)
	assert.Equal(t, byte(0x0f), data[1])
	assert.Equal(t, byte(0xb6), data[2], "MOVZX from an 8-bit source is 0F B6")
	d := decode(t, data)
	assert.Equal(t, len(data), d.Len)
}

// The 32->64 zero-extend case has no dedicated opcode: it is a plain 32-bit
// register MOV, with no REX.W.
func TestEncodeExtend_32To64Zero(t *testing.T) {
	e := newEncoder()
	buf := &encoderBuf{o: e.Object, sec: e.Object.SectionIndex(obj.CodeSectionName)}
	inst := mir.NewMInst(mir.OpMovzx, mir.RAX, mir.Size64, mir.RegOperand(mir.RCX, mir.Size32))
	e.encodeExtend(buf, inst, false)
	data := buf.o.Code().Data
	assert.Equal(t, []byte{0x89, 0xc8}, data, "zero-extend 32->64 is a plain MOV EAX, ECX")
}

// The 32->64 sign-extend case uses the dedicated MOVSXD opcode (0x63) with
// REX.W.
func TestEncodeExtend_32To64Sign(t *testing.T) {
	e := newEncoder()
	buf := &encoderBuf{o: e.Object, sec: e.Object.SectionIndex(obj.CodeSectionName)}
	inst := mir.NewMInst(mir.OpMovsx, mir.RAX, mir.Size64, mir.RegOperand(mir.RCX, mir.Size32))
	e.encodeExtend(buf, inst, true)
	data := buf.o.Code().Data
	require.Len(t, data, 3)
	assert.Equal(t, byte(0x48), data[0])
	assert.Equal(t, byte(0x63), data[1], "MOVSXD is opcode 0x63")
	d := decode(t, data)
	assert.Equal(t, len(data), d.Len)
}

// CMP's flag semantics require r/m=lhs, reg=rhs specifically; swapping the
// operand order would compute rhs-lhs instead of lhs-rhs and flip CF/SF/OF
// for any later Jl/Jg-family branch.
func TestEncodeCmp_OperandOrder(t *testing.T) {
	e := newEncoder()
	buf := &encoderBuf{o: e.Object, sec: e.Object.SectionIndex(obj.CodeSectionName)}
	inst := mir.NewMInst(mir.OpCmp, mir.RegInvalid, mir.Size64,
		mir.RegOperand(mir.RAX, mir.Size64), mir.RegOperand(mir.RCX, mir.Size64))
	e.encodeCmp(buf, inst)
	data := buf.o.Code().Data
	d := decode(t, data)
	assert.Equal(t, len(data), d.Len)
	assert.Contains(t, d.Op.String(), "CMP")
}
