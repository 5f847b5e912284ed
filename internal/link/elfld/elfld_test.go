package elfld

import (
	"bytes"
	"testing"

	"github.com/tinyrange/rtgc/internal/objfile"
	"github.com/tinyrange/rtgc/internal/objwriter"
)

// buildMainObject returns a minimal relocatable object defining `main`:
// `mov eax, 42; ret`, no external references, so the static (no-PLT)
// link path is exercised.
func buildMainObject(t *testing.T) *objfile.Object {
	t.Helper()
	w := objwriter.New()
	w.Append(objwriter.SecText, []byte{0xB8, 0x2A, 0x00, 0x00, 0x00, 0xC3})
	w.AddSymbol("main", 0, objwriter.SecText, objwriter.TypeFunc, objwriter.BindGlobal, true)

	var buf bytes.Buffer
	if err := w.WriteELF(&buf); err != nil {
		t.Fatalf("WriteELF: %v", err)
	}
	obj, err := objfile.ParseELF("main.o", buf.Bytes())
	if err != nil {
		t.Fatalf("ParseELF: %v", err)
	}
	return obj
}

func TestLinkStaticProducesValidExecutableHeader(t *testing.T) {
	obj := buildMainObject(t)
	out, warnings, err := Link([]*objfile.Object{obj}, Options{Entry: "main"})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(out) < 64 {
		t.Fatalf("output too short: %d bytes", len(out))
	}
	if !bytes.Equal(out[0:4], []byte{0x7f, 'E', 'L', 'F'}) {
		t.Fatalf("bad ELF magic")
	}
	etype := uint16(out[16]) | uint16(out[17])<<8
	if etype != 2 {
		t.Fatalf("expected ET_EXEC (2), got %d", etype)
	}
	entry := getU64LE(out[24:32])
	if entry == 0 {
		t.Fatalf("expected a non-zero entry point")
	}
}

func TestLinkStaticHasExactlyTwoLoadSegmentsAndNoDynamic(t *testing.T) {
	obj := buildMainObject(t)
	out, _, err := Link([]*objfile.Object{obj}, Options{Entry: "main"})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	phoff := getU64LE(out[32:40])
	phnum := uint16(out[56]) | uint16(out[57])<<8
	if phnum != 2 {
		t.Fatalf("expected exactly 2 program headers in the static case, got %d", phnum)
	}
	for i := 0; i < int(phnum); i++ {
		h := out[phoff+uint64(i)*56:]
		ptype := uint32(h[0]) | uint32(h[1])<<8 | uint32(h[2])<<16 | uint32(h[3])<<24
		if ptype == 2 {
			t.Fatalf("static output must not carry a PT_DYNAMIC segment")
		}
	}

	entry := getU64LE(out[24:32])
	if entry != baseAddr+0xB0 {
		t.Fatalf("expected entry at base+0xB0 (header + 2 program headers), got %#x", entry)
	}
}

func TestLinkSynthesizesStartAndCallsMain(t *testing.T) {
	obj := buildMainObject(t)
	out, _, err := Link([]*objfile.Object{obj}, Options{Entry: "main"})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	// The synthesized _start stub always begins with `xor rbp, rbp`.
	entry := getU64LE(out[24:32])
	phoff := getU64LE(out[32:40])
	// The first PT_LOAD (R+X) holds .text: p_vaddr at phoff+16, p_offset at phoff+8.
	vaddr := getU64LE(out[phoff+16 : phoff+24])
	foff := getU64LE(out[phoff+8 : phoff+16])
	textFileOff := foff + (entry - vaddr)
	stub := out[textFileOff : textFileOff+4]
	if !bytes.Equal(stub, []byte{0x48, 0x31, 0xED, 0x48}) {
		t.Fatalf("expected _start's xor rbp,rbp prologue at entry, got % x", stub)
	}
	// The call's rel32 sits at stub offset 13 and must reach main, which
	// follows the 32-byte stub: 32 - 17 = 15.
	if rel := getU32le(out[textFileOff+13 : textFileOff+17]); rel != 15 {
		t.Fatalf("expected _start's call rel32 to reach main (15), got %d", int32(rel))
	}
}

// buildMainWithRodataAndExternObject returns an object defining `main`,
// which references a rodata string and calls an unresolved extern
// (`puts`), so Phase 4's dynamic-link branch activates.
func buildMainWithRodataAndExternObject(t *testing.T) *objfile.Object {
	t.Helper()
	w := objwriter.New()
	w.Append(objwriter.SecRodata, []byte("hello\x00"))
	// lea rdi, [rip+0] (relocated to the rodata string) ; call puts (relocated) ; ret
	code := []byte{
		0x48, 0x8D, 0x3D, 0x00, 0x00, 0x00, 0x00,
		0xE8, 0x00, 0x00, 0x00, 0x00,
		0xC3,
	}
	w.Append(objwriter.SecText, code)
	mainIdx := w.AddSymbol("main", 0, objwriter.SecText, objwriter.TypeFunc, objwriter.BindGlobal, true)
	_ = mainIdx
	rodataIdx := w.AddSymbol("msg", 0, objwriter.SecRodata, objwriter.TypeObject, objwriter.BindLocal, true)
	putsIdx := w.AddSymbol("puts", 0, objwriter.SecUndef, objwriter.TypeFunc, objwriter.BindGlobal, false)
	w.AddRelocation(objwriter.SecText, 3, rodataIdx, objwriter.RelPC32, -4)
	w.AddRelocation(objwriter.SecText, 8, putsIdx, objwriter.RelPC32, -4)

	var buf bytes.Buffer
	if err := w.WriteELF(&buf); err != nil {
		t.Fatalf("WriteELF: %v", err)
	}
	obj, err := objfile.ParseELF("main.o", buf.Bytes())
	if err != nil {
		t.Fatalf("ParseELF: %v", err)
	}
	return obj
}

func TestLinkDynamicBranchMapsRodataInsideLoadSegment(t *testing.T) {
	obj := buildMainWithRodataAndExternObject(t)
	out, _, err := Link([]*objfile.Object{obj}, Options{Entry: "main"})
	if err != nil {
		t.Fatalf("Link: %v", err)
	}

	phoff := getU64LE(out[32:40])
	phnum := uint16(out[56]) | uint16(out[57])<<8
	if phnum != 4 {
		t.Fatalf("expected 4 program headers in the dynamic case (INTERP, R+X, R+W, DYNAMIC), got %d", phnum)
	}

	// Program header 1 is the R+X PT_LOAD; it must cover .rodata too.
	h := out[phoff+1*56:]
	p_offset := getU64LE(h[8:16])
	p_filesz := getU64LE(h[32:40])
	if p_offset != 0 {
		t.Fatalf("expected the R+X segment to start at file offset 0, got %#x", p_offset)
	}
	if p_filesz == 0 {
		t.Fatalf("R+X segment has zero file size")
	}

	// Locate .rodata's own section header to find where it actually landed.
	shoff := getU64LE(out[40:48])
	shnum := uint16(out[60]) | uint16(out[61])<<8
	shstrndx := uint16(out[62]) | uint16(out[63])<<8
	shstrtabHdr := out[shoff+uint64(shstrndx)*64:]
	shstrtabOff := getU64LE(shstrtabHdr[24:32])

	var rodataOff, rodataSize uint64
	found := false
	for i := uint16(0); i < shnum; i++ {
		sh := out[shoff+uint64(i)*64:]
		nameOff := uint32(sh[0]) | uint32(sh[1])<<8 | uint32(sh[2])<<16 | uint32(sh[3])<<24
		name := cstring(out[shstrtabOff+uint64(nameOff):])
		if name == ".rodata" {
			rodataOff = getU64LE(sh[24:32])
			rodataSize = getU64LE(sh[32:40])
			found = true
			break
		}
	}
	if !found {
		t.Fatalf(".rodata section header not found")
	}
	if rodataOff+rodataSize > p_offset+p_filesz {
		t.Fatalf(".rodata [%#x, %#x) extends past the R+X PT_LOAD's file range [%#x, %#x)",
			rodataOff, rodataOff+rodataSize, p_offset, p_offset+p_filesz)
	}
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func getU64LE(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
