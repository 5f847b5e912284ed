package pelink

import (
	"bytes"
	"testing"

	"github.com/tinyrange/rtgc/internal/archive"
	"github.com/tinyrange/rtgc/internal/objfile"
	"github.com/tinyrange/rtgc/internal/objwriter"
)

// buildMainObject returns a minimal COFF object defining `main`:
// `mov eax, 42; ret`, with no external references.
func buildMainObject(t *testing.T) *objfile.Object {
	t.Helper()
	w := objwriter.New()
	w.Append(objwriter.SecText, []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3})
	w.AddSymbol("main", 0, objwriter.SecText, objwriter.TypeFunc, objwriter.BindGlobal, true)

	var buf bytes.Buffer
	if err := w.WriteCOFF(&buf); err != nil {
		t.Fatalf("WriteCOFF: %v", err)
	}
	obj, err := objfile.ParseCOFF("main.obj", buf.Bytes())
	if err != nil {
		t.Fatalf("ParseCOFF: %v", err)
	}
	return obj
}

func TestLinkProducesValidPEHeader(t *testing.T) {
	obj := buildMainObject(t)
	out, warnings, err := Link([]*objfile.Object{obj}, Options{Entry: "main"})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if out[0] != 'M' || out[1] != 'Z' {
		t.Fatalf("missing MZ signature")
	}
	lfanew := int(getU32le(out[0x3C:0x40]))
	if !bytes.Equal(out[lfanew:lfanew+4], []byte{'P', 'E', 0, 0}) {
		t.Fatalf("missing PE signature at e_lfanew")
	}
	machine := uint16(out[lfanew+4]) | uint16(out[lfanew+5])<<8
	if machine != 0x8664 {
		t.Fatalf("expected IMAGE_FILE_MACHINE_AMD64, got %#x", machine)
	}
	optMagic := uint16(out[lfanew+24]) | uint16(out[lfanew+25])<<8
	if optMagic != 0x20b {
		t.Fatalf("expected PE32+ magic, got %#x", optMagic)
	}
}

func TestLinkResolvesImportFromFallbackTable(t *testing.T) {
	w := objwriter.New()
	// call ExitProcess (rel32 patched by the linker); the symbol is left
	// undefined so resolveImports must supply it from the fallback table.
	w.Append(objwriter.SecText, []byte{0xE8, 0x00, 0x00, 0x00, 0x00, 0xC3})
	w.AddSymbol("main", 0, objwriter.SecText, objwriter.TypeFunc, objwriter.BindGlobal, true)
	exitIdx := w.AddSymbol("ExitProcess", 0, objwriter.SecUndef, objwriter.TypeFunc, objwriter.BindGlobal, false)
	w.AddRelocation(objwriter.SecText, 1, exitIdx, objwriter.RelPC32, -4)

	var buf bytes.Buffer
	if err := w.WriteCOFF(&buf); err != nil {
		t.Fatalf("WriteCOFF: %v", err)
	}
	obj, err := objfile.ParseCOFF("main.obj", buf.Bytes())
	if err != nil {
		t.Fatalf("ParseCOFF: %v", err)
	}

	out, _, err := Link([]*objfile.Object{obj}, Options{Entry: "main", Archives: []*archive.Archive{}})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if out[0] != 'M' || out[1] != 'Z' {
		t.Fatalf("missing MZ signature")
	}
}
