package amd64

import "github.com/fncompiler/fncc/internal/obj"

// encoderBuf is a thin cursor over one section of an obj.Object, giving the
// form-based helpers in modrm.go and encoder.go a uniform byte-emission
// surface regardless of which section (.text or .data) they target
// (spec.md §4.F: "write1, write2, write3, write4, writeN... both for
// arbitrary sections and for the code section").
type encoderBuf struct {
	o   *obj.Object
	sec int
}

func (e *encoderBuf) write1(b byte)     { e.o.Write1(e.sec, b) }
func (e *encoderBuf) write2(v uint16)   { e.o.Write2(e.sec, v) }
func (e *encoderBuf) write4(v uint32)   { e.o.Write4(e.sec, v) }
func (e *encoderBuf) writeN(b []byte)   { e.o.WriteN(e.sec, b) }
func (e *encoderBuf) len() int          { return e.o.Sections[e.sec].Len() }
