// Package objfile parses the relocatable object files internal/objwriter
// emits (ELF64 ET_REL and COFF .obj) back into a target-neutral in-memory
// form the linkers can merge, per §4.9 Phase 1 ("parse headers, locate
// .text/.data/.rodata/.bss ... build a per-section base-offset map").
// Grounded on std/compiler/elf_x64.go's/pe64.go's field layouts, read in
// reverse: where the teacher only ever emits an executable, this package
// only ever reads a relocatable object — the mirror image of
// internal/objwriter.
package objfile

import (
	"github.com/tinyrange/rtgc/internal/objwriter"
	"github.com/tinyrange/rtgc/internal/rtgerr"
)

// Section, RelocType, Bind and Type are re-exported from objwriter so
// callers (internal/link) share one vocabulary across the writer and
// reader halves of the object-file boundary.
type Section = objwriter.Section
type RelocType = objwriter.RelocType
type Bind = objwriter.Bind
type Type = objwriter.Type

const (
	SecText   = objwriter.SecText
	SecData   = objwriter.SecData
	SecRodata = objwriter.SecRodata
	SecBss    = objwriter.SecBss
	SecUndef  = objwriter.SecUndef
)

const (
	BindLocal  = objwriter.BindLocal
	BindGlobal = objwriter.BindGlobal
	BindWeak   = objwriter.BindWeak
)

// Symbol is one decoded object-file symbol-table entry.
type Symbol struct {
	Name    string
	Value   uint64
	Section Section
	Bind    Bind
	Type    Type
	Size    uint64
	Defined bool
}

// Relocation is one decoded relocation, section-relative to the section
// it patches.
type Relocation struct {
	Offset   uint64
	SymIndex int
	Type     RelocType
	Addend   int64
}

// Object is one parsed relocatable object: its merge-relevant sections,
// its full symbol table (in file order, so SymIndex in Relocs lines up),
// and its relocations grouped by section.
type Object struct {
	Name     string
	Sections map[Section][]byte
	Symbols  []Symbol
	Relocs   map[Section][]Relocation
}

// Format identifies which container an object was parsed from.
type Format int

const (
	FormatUnknown Format = iota
	FormatELF
	FormatCOFF
)

// Sniff inspects the leading bytes of data to decide which parser to
// dispatch to, without committing to a full parse.
func Sniff(data []byte) Format {
	if len(data) >= 4 && data[0] == 0x7f && data[1] == 'E' && data[2] == 'L' && data[3] == 'F' {
		return FormatELF
	}
	if len(data) >= 4 && data[0] == 0x64 && data[1] == 0x86 {
		return FormatCOFF
	}
	return FormatUnknown
}

// Parse dispatches to ParseELF or ParseCOFF based on Sniff, or returns a
// MalformedObject error if neither magic matches.
func Parse(name string, data []byte) (*Object, error) {
	switch Sniff(data) {
	case FormatELF:
		return ParseELF(name, data)
	case FormatCOFF:
		return ParseCOFF(name, data)
	default:
		return nil, &rtgerr.MalformedObject{File: name, Reason: "unrecognized object file magic"}
	}
}
