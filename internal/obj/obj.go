// Package obj is the Generic Object File: an in-memory, format-agnostic
// container of sections, symbols, and relocations that internal/amd64
// writes into and that a downstream collaborator (outside this module's
// scope) would translate into ELF or COFF (spec.md §3.4, §4.F, §6.2).
package obj

import "github.com/pkg/errors"

// SymbolKind classifies a Symbol for consumers outside the encoder (spec.md
// §6.2). Local-label symbols (".L"-prefixed names) are resolved and
// stripped by the encoder itself before the object is handed off.
type SymbolKind byte

const (
	SymFunction SymbolKind = iota
	SymStatic
	SymExport
	SymExternal
	SymLocalLabel
)

func (k SymbolKind) String() string {
	return [...]string{"function", "static", "export", "external", "local_label"}[k]
}

// Symbol names an address inside a section (or, for External, an address
// the linker must supply).
type Symbol struct {
	Name    string
	Kind    SymbolKind
	Section int
	Offset  int
}

// RelocationType selects the patch formula applied by the local-label
// resolution pass or by a downstream linker (spec.md §6.2).
type RelocationType byte

const (
	// RelocDisp32 patches a 32-bit absolute displacement:
	// symbol_address + addend.
	RelocDisp32 RelocationType = iota
	// RelocDisp32PCRel patches a 32-bit PC-relative displacement:
	// symbol_address - (byte_offset + 4) + addend.
	RelocDisp32PCRel
)

// Relocation is a fix-up directive against one section's bytes.
type Relocation struct {
	Section    int
	Offset     int
	Type       RelocationType
	SymbolName string
	Addend     int32
}

// Section is a named, growable byte buffer (spec.md §3.4: "write1/write2/
// write3/write4/writeN").
type Section struct {
	Name string
	Data []byte
}

func (s *Section) write1(b byte) { s.Data = append(s.Data, b) }

func (s *Section) write2(v uint16) {
	s.Data = append(s.Data, byte(v), byte(v>>8))
}

func (s *Section) write3(v uint32) {
	s.Data = append(s.Data, byte(v), byte(v>>8), byte(v>>16))
}

func (s *Section) write4(v uint32) {
	s.Data = append(s.Data, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (s *Section) writeN(buf []byte) { s.Data = append(s.Data, buf...) }

// Len returns the current byte length of the section.
func (s *Section) Len() int { return len(s.Data) }

// Object is the in-memory object file: sections, symbols, and relocations,
// with no serialization of its own (spec.md §4.F: "exposes no
// serialization; downstream collaborators translate it to ELF/COFF").
type Object struct {
	Sections     []*Section
	Symbols      []*Symbol
	Relocations  []*Relocation
	sectionIndex map[string]int
}

// CodeSectionName is the 0th section, created at object init (spec.md
// §3.4/§4.F).
const CodeSectionName = ".text"

// DataSectionName holds string/struct literal initializers (spec.md §6's
// static-symbol scenario).
const DataSectionName = ".data"

// New creates an Object with its code section already present at index 0.
func New() *Object {
	o := &Object{sectionIndex: make(map[string]int)}
	o.Section(CodeSectionName)
	o.Section(DataSectionName)
	return o
}

// Section returns the section with the given name, creating it if absent.
func (o *Object) Section(name string) *Section {
	if idx, ok := o.sectionIndex[name]; ok {
		return o.Sections[idx]
	}
	sec := &Section{Name: name}
	o.sectionIndex[name] = len(o.Sections)
	o.Sections = append(o.Sections, sec)
	return sec
}

// SectionIndex returns the index of the named section, or -1 if absent.
func (o *Object) SectionIndex(name string) int {
	if idx, ok := o.sectionIndex[name]; ok {
		return idx
	}
	return -1
}

// Code is a convenience accessor for the code section.
func (o *Object) Code() *Section { return o.Sections[o.SectionIndex(CodeSectionName)] }

// Data is a convenience accessor for the data section.
func (o *Object) Data() *Section { return o.Sections[o.SectionIndex(DataSectionName)] }

// Write1/2/3/4/N append to an arbitrary section by index (spec.md §3.4:
// "both for arbitrary sections and for the code section").
func (o *Object) Write1(sec int, b byte)     { o.Sections[sec].write1(b) }
func (o *Object) Write2(sec int, v uint16)   { o.Sections[sec].write2(v) }
func (o *Object) Write3(sec int, v uint32)   { o.Sections[sec].write3(v) }
func (o *Object) Write4(sec int, v uint32)   { o.Sections[sec].write4(v) }
func (o *Object) WriteN(sec int, buf []byte) { o.Sections[sec].writeN(buf) }

// AddSymbol appends a new symbol, returning it for callers that want to
// keep a reference.
func (o *Object) AddSymbol(sym Symbol) *Symbol {
	s := sym
	o.Symbols = append(o.Symbols, &s)
	return &s
}

// FindSymbol returns the symbol with the given name, or nil.
func (o *Object) FindSymbol(name string) *Symbol {
	for _, s := range o.Symbols {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AddRelocation appends a new relocation.
func (o *Object) AddRelocation(r Relocation) { o.Relocations = append(o.Relocations, &r) }

// ResolveLocalLabels implements spec.md §4.E's "local-label resolution
// pass": every relocation whose symbol name begins with ".L" is patched in
// place using disp32 = target_offset - (4 + reloc_offset), then both the
// relocation and the local-label symbol are removed (spec.md §8 invariant
// 6: "zero symbols with names beginning .L and zero relocations
// referencing them").
func (o *Object) ResolveLocalLabels() error {
	var keptRelocs []*Relocation
	for _, reloc := range o.Relocations {
		if !isLocalLabel(reloc.SymbolName) {
			keptRelocs = append(keptRelocs, reloc)
			continue
		}
		sym := o.FindSymbol(reloc.SymbolName)
		if sym == nil {
			return errors.Errorf("BUG: unresolved local label %q", reloc.SymbolName)
		}
		disp32 := int32(sym.Offset) - int32(4+reloc.Offset) + reloc.Addend
		sec := o.Sections[reloc.Section]
		sec.Data[reloc.Offset] = byte(disp32)
		sec.Data[reloc.Offset+1] = byte(disp32 >> 8)
		sec.Data[reloc.Offset+2] = byte(disp32 >> 16)
		sec.Data[reloc.Offset+3] = byte(disp32 >> 24)
	}
	o.Relocations = keptRelocs

	var keptSyms []*Symbol
	for _, sym := range o.Symbols {
		if !isLocalLabel(sym.Name) {
			keptSyms = append(keptSyms, sym)
		}
	}
	o.Symbols = keptSyms
	return nil
}

func isLocalLabel(name string) bool {
	return len(name) >= 2 && name[0] == '.' && name[1] == 'L'
}
