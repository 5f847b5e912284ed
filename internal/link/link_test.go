package link

import (
	"errors"
	"testing"

	"github.com/tinyrange/rtgc/internal/objfile"
	"github.com/tinyrange/rtgc/internal/objwriter"
	"github.com/tinyrange/rtgc/internal/rtgerr"
)

func TestMergeGlobalUndefinedThenDefinedUpdates(t *testing.T) {
	st := NewSymbolTable()
	idx, err := st.MergeGlobal(Sym{Name: "foo", Defined: false})
	if err != nil {
		t.Fatalf("MergeGlobal (undef): %v", err)
	}
	if _, err := st.MergeGlobal(Sym{Name: "foo", Defined: true, Value: 0x10}); err != nil {
		t.Fatalf("MergeGlobal (def): %v", err)
	}
	if got := st.Get(idx); !got.Defined || got.Value != 0x10 {
		t.Fatalf("expected foo to become defined at 0x10, got %+v", got)
	}
}

func TestMergeGlobalDefinedThenUndefinedKeepsFirst(t *testing.T) {
	st := NewSymbolTable()
	idx, _ := st.MergeGlobal(Sym{Name: "foo", Defined: true, Value: 0x20})
	if _, err := st.MergeGlobal(Sym{Name: "foo", Defined: false}); err != nil {
		t.Fatalf("MergeGlobal: %v", err)
	}
	if got := st.Get(idx); !got.Defined || got.Value != 0x20 {
		t.Fatalf("expected foo to remain defined at 0x20, got %+v", got)
	}
}

func TestMergeGlobalWeakLosesToStrong(t *testing.T) {
	st := NewSymbolTable()
	idx, _ := st.MergeGlobal(Sym{Name: "foo", Defined: true, Weak: true, Value: 1})
	if _, err := st.MergeGlobal(Sym{Name: "foo", Defined: true, Weak: false, Value: 2}); err != nil {
		t.Fatalf("MergeGlobal: %v", err)
	}
	if got := st.Get(idx); got.Weak || got.Value != 2 {
		t.Fatalf("expected the strong definition (value 2) to win, got %+v", got)
	}
}

func TestMergeGlobalStrongVsStrongIsDuplicate(t *testing.T) {
	st := NewSymbolTable()
	st.MergeGlobal(Sym{Name: "foo", Defined: true, Object: "a.o"})
	_, err := st.MergeGlobal(Sym{Name: "foo", Defined: true, Object: "b.o"})
	var dup *rtgerr.DuplicateSymbol
	if !errors.As(err, &dup) {
		t.Fatalf("expected a DuplicateSymbol error, got %v", err)
	}
	if dup.FirstObject != "a.o" || dup.NewObject != "b.o" {
		t.Fatalf("unexpected DuplicateSymbol fields: %+v", dup)
	}
}

func TestIngestObjectPadsSectionsAndRebasesRelocations(t *testing.T) {
	l := New("main")
	// First object contributes 3 bytes of .text (no alignment padding
	// needed for the first ingest, since the buffer starts empty).
	obj1 := &objfile.Object{
		Name:     "a.o",
		Sections: map[objfile.Section][]byte{objfile.SecText: {1, 2, 3}},
		Symbols: []objfile.Symbol{
			{Name: "a", Value: 0, Section: objfile.SecText, Bind: objfile.BindGlobal, Type: objwriter.TypeFunc, Defined: true},
		},
		Relocs: map[objfile.Section][]objfile.Relocation{},
	}
	if err := l.IngestObject(obj1); err != nil {
		t.Fatalf("IngestObject(obj1): %v", err)
	}

	obj2 := &objfile.Object{
		Name:     "b.o",
		Sections: map[objfile.Section][]byte{objfile.SecText: {4, 5}},
		Symbols: []objfile.Symbol{
			{Name: "b", Value: 0, Section: objfile.SecText, Bind: objfile.BindGlobal, Type: objwriter.TypeFunc, Defined: true},
			{Name: "a", Value: 0, Section: objfile.SecUndef, Bind: objfile.BindGlobal, Defined: false},
		},
		Relocs: map[objfile.Section][]objfile.Relocation{
			objfile.SecText: {{Offset: 0, SymIndex: 1, Type: objwriter.RelPC32, Addend: -4}},
		},
	}
	if err := l.IngestObject(obj2); err != nil {
		t.Fatalf("IngestObject(obj2): %v", err)
	}

	wantAlign := alignUp(3, SectionAlign[SecText])
	bIdx, ok := l.Syms.Index("b")
	if !ok {
		t.Fatalf("symbol b not found")
	}
	if got := l.Syms.Get(bIdx).Value; got != uint64(wantAlign) {
		t.Fatalf("b's rebased value = %#x, want %#x", got, wantAlign)
	}

	relocs := l.Relocs[SecText]
	if len(relocs) != 1 {
		t.Fatalf("expected 1 rebased relocation, got %d", len(relocs))
	}
	if relocs[0].Offset != uint64(wantAlign) {
		t.Fatalf("relocation offset = %#x, want %#x", relocs[0].Offset, wantAlign)
	}
	aIdx, _ := l.Syms.Index("a")
	if relocs[0].SymIndex != aIdx {
		t.Fatalf("relocation should point at the merged index of 'a' (%d), got %d", aIdx, relocs[0].SymIndex)
	}
	if !l.Syms.Get(aIdx).Defined {
		t.Fatalf("'a' should remain defined: obj1 defines it, obj2 only references it")
	}
}

func TestUndefinedReferencedOnlyReportsUnresolvedTargets(t *testing.T) {
	l := New("main")
	defIdx, _ := l.Syms.MergeGlobal(Sym{Name: "defined", Defined: true})
	undefIdx, _ := l.Syms.MergeGlobal(Sym{Name: "missing", Defined: false})
	l.Relocs[SecText] = []Reloc{
		{Offset: 0, Section: SecText, SymIndex: defIdx},
		{Offset: 4, Section: SecText, SymIndex: undefIdx},
	}

	got := l.UndefinedReferenced()
	if len(got) != 1 || got[0] != "missing" {
		t.Fatalf("UndefinedReferenced() = %v, want [missing]", got)
	}
}
