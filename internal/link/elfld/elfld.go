// Package elfld implements the ELF64 System V AMD64 static linker of
// spec §4.9: object/archive ingestion via internal/link, `_start` stub
// synthesis, iterative archive resolution, an optional dynamic-link
// branch when externs remain unresolved, layout, symbol finalization,
// relocation application, and ELF64 executable emission. Grounded on
// std/compiler/elf_x64.go's buildELF64 (Ehdr/Phdr byte layout, the
// patch-in-place relocation style) generalized from "one self-contained
// executable" to "merge N objects + resolve against M archives, then
// emit."
package elfld

import (
	"os"

	"github.com/tinyrange/rtgc/internal/archive"
	"github.com/tinyrange/rtgc/internal/link"
	"github.com/tinyrange/rtgc/internal/objfile"
	"github.com/tinyrange/rtgc/internal/objwriter"
	"github.com/tinyrange/rtgc/internal/rtgerr"
)

// callMainOffset is the byte offset, within buildStartStub's output,
// where the `call main` rel32 operand begins.
const callMainOffset = 13

// baseAddr is the fixed ELF load address, per §4.9 Phase 5.
const baseAddr = uint64(0x400000)

// pageAlign is the virtual/file page alignment between load segments.
const pageAlign = 0x1000

// Options configures one link.
type Options struct {
	Entry     string // defaults to "main"
	Archives  []*archive.Archive
}

// Link runs all eight phases over objs (already parsed via
// internal/objfile.Parse) and returns the finished ELF64 executable
// bytes plus any non-fatal warnings (redundant weak definitions, and
// so on).
func Link(objs []*objfile.Object, opts Options) ([]byte, []string, error) {
	entry := opts.Entry
	if entry == "" {
		entry = "main"
	}

	l := link.New(entry)
	l.SearchPaths = nil

	// Phase 1 — object ingestion.
	for _, obj := range objs {
		if err := l.IngestObject(obj); err != nil {
			return nil, nil, err
		}
	}

	// Phase 2 — entry stub synthesis. All existing .text symbol values
	// and relocation offsets are shifted by the padded stub length.
	stub := buildStartStub()
	shiftText(l, uint64(len(stub)))
	l.Buffers[link.SecText] = append(append([]byte(nil), stub...), l.Buffers[link.SecText]...)
	l.Syms.AddLocal(link.Sym{Name: "_start", Value: 0, Section: link.SecText, Defined: true, IsFunc: true})

	mainIdx, ok := l.Syms.Index(entry)
	if !ok {
		mainIdx, _ = l.Syms.MergeGlobal(link.Sym{Name: entry, Defined: false, Section: objwriter.SecUndef})
	}
	l.Relocs[link.SecText] = append(l.Relocs[link.SecText], link.Reloc{
		Offset: callMainOffset, Section: link.SecText, SymIndex: mainIdx, Type: objwriter.RelPC32, Addend: -4,
	})

	// Phase 3 — archive resolution.
	if err := resolveArchives(l, opts.Archives); err != nil {
		return nil, nil, err
	}

	// Phase 4 — dynamic-link branch, only if externs remain.
	undef := l.UndefinedReferenced()
	var dyn *dynamicSection
	if len(undef) > 0 {
		var err error
		dyn, err = buildDynamic(l, undef)
		if err != nil {
			return nil, nil, err
		}
	}

	// Phase 5/6 — layout and symbol finalization.
	lay := layout(l, dyn)

	// Phase 7 — relocation application.
	if err := applyRelocations(l, lay); err != nil {
		return nil, nil, err
	}

	// Phase 8 — emit file.
	out := emit(l, lay, dyn)
	return out, l.Warnings, nil
}

// LinkToFile runs Link and writes the result to path with the executable
// bit set, per §4.8's "ELF output receives chmod +x after writing on
// POSIX hosts."
func LinkToFile(path string, objs []*objfile.Object, opts Options) ([]string, error) {
	out, warnings, err := Link(objs, opts)
	if err != nil {
		return warnings, err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return warnings, &rtgerr.IOError{Path: path, Err: err}
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return warnings, &rtgerr.IOError{Path: path, Err: err}
	}
	return warnings, nil
}

// shiftText adds delta to every existing .text-relative symbol value and
// relocation offset, ahead of prepending the entry stub.
func shiftText(l *link.Linker, delta uint64) {
	for i := range l.Syms.Syms {
		s := &l.Syms.Syms[i]
		if s.Defined && s.Section == link.SecText {
			s.Value += delta
		}
	}
	for i := range l.Relocs[link.SecText] {
		l.Relocs[link.SecText][i].Offset += delta
	}
}

// buildStartStub assembles the fixed `_start` sequence of §4.9 Phase 2:
// zero rbp, load argc/argv off the initial stack, call main (displacement
// patched after layout via a relocation against the "main" symbol), then
// exit via syscall. Padded to a multiple of 16 bytes so the rest of .text
// stays 16-byte aligned.
func buildStartStub() []byte {
	code := []byte{
		0x48, 0x31, 0xED, // xor rbp, rbp
		0x48, 0x8B, 0x3C, 0x24, // mov rdi, [rsp]        ; argc
		0x48, 0x8D, 0x74, 0x24, 0x08, // lea rsi, [rsp+8] ; argv
		0xE8, 0x00, 0x00, 0x00, 0x00, // call main (rel32, relocated)
		0x48, 0x89, 0xC7, // mov rdi, rax
		0xB8, 0x3C, 0x00, 0x00, 0x00, // mov eax, 60 (exit)
		0x0F, 0x05, // syscall
	}
	for len(code)%16 != 0 {
		code = append(code, 0x90) // nop padding
	}
	return code
}
