package objwriter

import (
	"bytes"
	"testing"
)

func sampleCOFFWriter() *Writer {
	w := New()
	w.Append(SecText, []byte{0xB8, 0x00, 0x00, 0x00, 0x00, 0xC3})
	extern := w.AddSymbol("puts", 0, SecUndef, TypeFunc, BindGlobal, false)
	w.AddSymbol("main", 0, SecText, TypeFunc, BindGlobal, true)
	w.AddRelocation(SecText, 1, extern, RelPC32, 0)
	return w
}

// TestWriteCOFFFileHeaderFields checks the fixed file-header bytes and that
// the symbol-table offset/count fields are self-consistent.
func TestWriteCOFFFileHeaderFields(t *testing.T) {
	w := sampleCOFFWriter()
	var buf bytes.Buffer
	if err := w.WriteCOFF(&buf); err != nil {
		t.Fatalf("WriteCOFF: %v", err)
	}
	out := buf.Bytes()
	if len(out) < 20 {
		t.Fatalf("output too short for a COFF file header: %d bytes", len(out))
	}
	machine := uint16(out[0]) | uint16(out[1])<<8
	if machine != 0x8664 {
		t.Fatalf("expected IMAGE_FILE_MACHINE_AMD64, got %#x", machine)
	}
	numSecs := uint16(out[2]) | uint16(out[3])<<8
	if numSecs != 1 {
		t.Fatalf("expected 1 section (.text only), got %d", numSecs)
	}
	symtabOff := getU32(out[8:12])
	numSyms := getU32(out[12:16])
	if numSyms != 2 {
		t.Fatalf("expected 2 symbols (puts, main), got %d", numSyms)
	}
	if int(symtabOff)+int(numSyms)*18 > len(out) {
		t.Fatalf("symbol table runs past end of file: off=%d numSyms=%d filelen=%d", symtabOff, numSyms, len(out))
	}
}

// TestWriteCOFFDebugInfoShiftsRelocationSymbolIndices confirms that turning
// on DebugInfo prepends section-defining symbols and shifts every
// pre-existing relocation's symbol index by that prepended count, per §4.8.
func TestWriteCOFFDebugInfoShiftsRelocationSymbolIndices(t *testing.T) {
	plain := sampleCOFFWriter()
	var plainBuf bytes.Buffer
	if err := plain.WriteCOFF(&plainBuf); err != nil {
		t.Fatalf("WriteCOFF (plain): %v", err)
	}
	plainNumSyms := getU32(plainBuf.Bytes()[12:16])

	withDebug := sampleCOFFWriter()
	withDebug.DebugInfo = true
	withDebug.SourceFile = "main.c"
	withDebug.Funcs = []FuncDebugInfo{{Name: "main", Offset: 0, Size: 6}}
	var debugBuf bytes.Buffer
	if err := withDebug.WriteCOFF(&debugBuf); err != nil {
		t.Fatalf("WriteCOFF (debug): %v", err)
	}
	debugNumSyms := getU32(debugBuf.Bytes()[12:16])

	if debugNumSyms <= plainNumSyms {
		t.Fatalf("expected debug build to carry extra section symbols: plain=%d debug=%d", plainNumSyms, debugNumSyms)
	}

	// .text is the first section header; its PointerToRelocations sits at
	// byte 24 of the header, and each relocation's symbol index at byte 4.
	relSym := func(out []byte) uint32 {
		relPtr := getU32(out[20+24 : 20+28])
		return getU32(out[relPtr+4 : relPtr+8])
	}
	if got, want := relSym(debugBuf.Bytes()), relSym(plainBuf.Bytes())+(debugNumSyms-plainNumSyms); got != want {
		t.Fatalf("relocation symbol index = %d, want %d", got, want)
	}
}
