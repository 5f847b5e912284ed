// Package pelink implements the PE/COFF Windows x86-64 static linker of
// spec §4.9: COFF object/archive ingestion via internal/link, entry stub
// synthesis (`__pe_entry` or the UCRT `mainCRTStartup` sequence), short-
// import-object archive resolution, the PE import-table branch (grouped
// by DLL, IAT/ILT + hint/name records + jmp thunks), layout, symbol
// finalization, relocation application, and PE image emission. Grounded
// on std/compiler/pe64.go's section/header byte layout (DOS stub,
// `PE\0\0` signature, optional header, section table), re-cut from "one
// self-contained image" to "merge N objects + resolve imports from
// archives or the built-in DLL fallback table, then emit."
package pelink

import (
	"os"

	"github.com/tinyrange/rtgc/internal/archive"
	"github.com/tinyrange/rtgc/internal/link"
	"github.com/tinyrange/rtgc/internal/objfile"
	"github.com/tinyrange/rtgc/internal/objwriter"
	"github.com/tinyrange/rtgc/internal/rtgerr"
)

// imageBase is the fixed PE load address, per §4.9 Phase 5.
const imageBase = uint64(0x00400000)

const (
	fileAlign    = 0x200
	sectionAlign = 0x1000
)

// Options configures one link.
type Options struct {
	Entry    string // "main" (default) or "mainCRTStartup"
	Archives []*archive.Archive
}

// Link runs all phases over objs (already parsed via objfile.Parse) and
// returns the finished PE image plus any warnings.
func Link(objs []*objfile.Object, opts Options) ([]byte, []string, error) {
	entry := opts.Entry
	if entry == "" {
		entry = "main"
	}

	l := link.New(entry)

	for _, obj := range objs {
		if err := l.IngestObject(obj); err != nil {
			return nil, nil, err
		}
	}

	l.Syms.AddLocal(link.Sym{Name: "__ImageBase", Value: 0, Defined: true})

	realEntry, stub := buildEntryStub(entry)
	stubOffsets := synthesizeEntryStub(l, realEntry, stub, entry)

	imports, err := resolveImports(l, opts.Archives)
	if err != nil {
		return nil, nil, err
	}

	addCallReloc := func(operandOffset uint64, symName string) {
		idx, ok := l.Syms.Index(symName)
		if !ok {
			return
		}
		l.Relocs[link.SecText] = append(l.Relocs[link.SecText], link.Reloc{
			Offset: operandOffset, Section: link.SecText, SymIndex: idx, Type: objwriter.RelPC32, Addend: -4,
		})
	}
	addCallReloc(stubOffsets.callReal, realEntry)
	if stubOffsets.callExit != 0 {
		addCallReloc(stubOffsets.callExit, "ExitProcess")
	}

	lay := layout(l, imports)

	if err := applyRelocations(l, lay); err != nil {
		return nil, nil, err
	}

	out := emit(l, lay, imports)
	return out, l.Warnings, nil
}

// LinkToFile runs Link and writes the PE image to path.
func LinkToFile(path string, objs []*objfile.Object, opts Options) ([]string, error) {
	out, warnings, err := Link(objs, opts)
	if err != nil {
		return warnings, err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return warnings, &rtgerr.IOError{Path: path, Err: err}
	}
	return warnings, nil
}

// buildEntryStub returns the real entry symbol name PE should jump to
// (`__pe_entry` for a `main`-rooted program, or a UCRT-style name for
// `mainCRTStartup`) and the stub bytes, per §4.9 Phase 2.
func buildEntryStub(userEntry string) (string, []byte) {
	if userEntry == "mainCRTStartup" {
		// Reserves shadow space, calls mainCRTStartup (displacement
		// patched by a relocation), restores the stack and returns. No
		// separate UCRT initializer routine is called.
		code := []byte{
			0x48, 0x83, 0xEC, 0x28, // sub rsp, 40
			0xE8, 0x00, 0x00, 0x00, 0x00, // call mainCRTStartup (rel32)
			0x48, 0x83, 0xC4, 0x28, // add rsp, 40
			0xC3, // ret
		}
		return "mainCRTStartup", pad16(code)
	}
	code := []byte{
		0x48, 0x83, 0xEC, 0x28, // sub rsp, 40 (shadow + align)
		0x31, 0xC9, // xor ecx, ecx       ; argc-equivalent unused arg
		0x48, 0x31, 0xD2, // xor rdx, rdx
		0xE8, 0x00, 0x00, 0x00, 0x00, // call main (rel32)
		0x48, 0x89, 0xC1, // mov rcx, rax  ; exit code
		0xE8, 0x00, 0x00, 0x00, 0x00, // call ExitProcess (rel32, via IAT thunk)
	}
	return "main", pad16(code)
}

func pad16(code []byte) []byte {
	for len(code)%16 != 0 {
		code = append(code, 0xCC)
	}
	return code
}

// stubCallOffsets locates the rel32 operands inside the synthesized
// entry stub that still need relocations once the real entry/ExitProcess
// symbols resolve.
type stubCallOffsets struct {
	callReal uint64
	callExit uint64 // 0 (never a valid operand offset) when the stub has none
}

// synthesizeEntryStub prepends stub to .text, shifting all existing
// symbols/relocations, adds `__pe_entry` (or the UCRT equivalent) as a
// global text symbol at offset 0, and returns the stub's call-operand
// offsets for later relocation.
func synthesizeEntryStub(l *link.Linker, realEntry string, stub []byte, userEntry string) stubCallOffsets {
	delta := uint64(len(stub))
	for i := range l.Syms.Syms {
		s := &l.Syms.Syms[i]
		if s.Defined && s.Section == link.SecText {
			s.Value += delta
		}
	}
	for i := range l.Relocs[link.SecText] {
		l.Relocs[link.SecText][i].Offset += delta
	}
	l.Buffers[link.SecText] = append(append([]byte(nil), stub...), l.Buffers[link.SecText]...)

	stubName := "__pe_entry"
	if userEntry == "mainCRTStartup" {
		stubName = "__pe_crt_entry"
	}
	l.Syms.MergeGlobal(link.Sym{Name: stubName, Value: 0, Section: link.SecText, Defined: true, IsFunc: true})

	if userEntry == "mainCRTStartup" {
		// sub rsp,40 (4) ; call mainCRTStartup (opcode@4, operand@5)
		return stubCallOffsets{callReal: 5}
	}
	// sub rsp,40 (4) ; xor ecx,ecx (2) ; xor rdx,rdx (3) ; call main
	// (opcode@9, operand@10) ; mov rcx,rax (3) ; call ExitProcess
	// (opcode@17, operand@18)
	return stubCallOffsets{callReal: 10, callExit: 18}
}
