package objwriter

import "testing"

func TestAddSymbolDedupsOnDefinition(t *testing.T) {
	w := New()

	undefIdx := w.AddSymbol("helper", 0, SecUndef, TypeFunc, BindGlobal, false)
	if w.Symbols[undefIdx].Defined {
		t.Fatalf("expected undefined reference, got defined")
	}

	defIdx := w.AddSymbol("helper", 0x40, SecText, TypeFunc, BindGlobal, true)
	if defIdx != undefIdx {
		t.Fatalf("expected the later definition to update the existing entry, got new index %d want %d", defIdx, undefIdx)
	}
	if !w.Symbols[defIdx].Defined || w.Symbols[defIdx].Value != 0x40 || w.Symbols[defIdx].Section != SecText {
		t.Fatalf("definition did not update in place: %+v", w.Symbols[defIdx])
	}
	if len(w.Symbols) != 1 {
		t.Fatalf("expected exactly one symbol table entry, got %d", len(w.Symbols))
	}
}

func TestAddSymbolSeparateNamesDoNotCollide(t *testing.T) {
	w := New()
	a := w.AddSymbol("a", 0, SecText, TypeFunc, BindGlobal, true)
	b := w.AddSymbol("b", 0, SecText, TypeFunc, BindGlobal, true)
	if a == b {
		t.Fatalf("distinct names must not share an index")
	}
}

func TestAppendReturnsSectionRelativeOffset(t *testing.T) {
	w := New()
	off1 := w.Append(SecText, []byte{0x90, 0x90})
	off2 := w.Append(SecText, []byte{0xC3})
	if off1 != 0 || off2 != 2 {
		t.Fatalf("expected offsets 0,2 got %d,%d", off1, off2)
	}
	if len(w.Sections[SecText]) != 3 {
		t.Fatalf("expected 3 bytes in .text, got %d", len(w.Sections[SecText]))
	}
}

func TestAddRelocationRecordsFixup(t *testing.T) {
	w := New()
	sym := w.AddSymbol("target", 0, SecUndef, TypeFunc, BindGlobal, false)
	w.AddRelocation(SecText, 4, sym, RelPC32, -4)
	relocs := w.Relocs[SecText]
	if len(relocs) != 1 {
		t.Fatalf("expected 1 relocation, got %d", len(relocs))
	}
	if relocs[0].SymIndex != sym || relocs[0].Type != RelPC32 || relocs[0].Addend != -4 {
		t.Fatalf("unexpected relocation: %+v", relocs[0])
	}
}
