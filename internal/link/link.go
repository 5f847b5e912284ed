// Package link implements the substrate shared by both static linkers
// (spec §4.9): a unified symbol table, per-section merged byte buffers,
// rebased relocations, and the bookkeeping phases common to ELF and PE
// before their target-specific branches diverge (dynamic-link vs.
// import-table). Grounded on the teacher's CodeGen buffer-accumulation
// style in std/compiler/backend.go (g.code/g.rodata/g.data, symbol/reloc
// slices), generalized from "one compilation unit's own buffers" to "many
// ingested objects merged into one set of buffers."
package link

import (
	"fmt"

	"github.com/tinyrange/rtgc/internal/objfile"
	"github.com/tinyrange/rtgc/internal/objwriter"
	"github.com/tinyrange/rtgc/internal/rtgerr"
)

// Object is the decoded relocatable-object shape Phase 1 ingests, built
// by internal/objfile.Parse from either ELF or COFF input bytes.
type Object = objfile.Object

// Section mirrors objwriter.Section for the subset the linker merges.
type Section = objwriter.Section

const (
	SecText   = objwriter.SecText
	SecData   = objwriter.SecData
	SecRodata = objwriter.SecRodata
	SecBss    = objwriter.SecBss
)

// SectionAlign gives each merged section's minimum alignment, per Phase 1
// ("pad the linker's merged buffer to each section's alignment").
var SectionAlign = map[Section]int{
	SecText:   16,
	SecRodata: 8,
	SecData:   8,
	SecBss:    8,
}

// Sym is one entry in the linker's unified symbol table: a merge of every
// ingested object's view of that name.
type Sym struct {
	Name    string
	Value   uint64 // section-relative until Phase 6 finalizes it to an absolute VA/RVA
	Section Section
	Defined bool
	Weak    bool
	IsFunc  bool
	Size    uint64

	// Object records the input the symbol came from, for diagnostics such
	// as DuplicateSymbol errors.
	Object string
}

// SymbolTable is the linker's merged, order-preserving symbol table:
// local symbols are always appended fresh, globals are merged by name.
type SymbolTable struct {
	Syms   []Sym
	byName map[string]int
}

// NewSymbolTable returns an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{byName: make(map[string]int)}
}

// Index returns a symbol's table index by name.
func (t *SymbolTable) Index(name string) (int, bool) {
	i, ok := t.byName[name]
	return i, ok
}

// Get returns a pointer to the symbol at index i for in-place mutation
// (finalizing its value in Phase 6, for instance).
func (t *SymbolTable) Get(i int) *Sym { return &t.Syms[i] }

// AddLocal appends a local symbol unconditionally — locals never merge
// across objects, per Phase 1.
func (t *SymbolTable) AddLocal(s Sym) int {
	idx := len(t.Syms)
	t.Syms = append(t.Syms, s)
	return idx
}

// MergeGlobal merges a global/weak symbol into the table per Phase 1's
// rule: "if an existing entry is undefined and the new one is defined,
// the existing entry is updated; defined-vs-defined is rejected unless
// one side is weak." Returns the symbol's index, and a DuplicateSymbol
// error when two strong definitions meet; a weak definition meeting any
// other definition, or an undefined reference, returns no error.
func (t *SymbolTable) MergeGlobal(s Sym) (int, error) {
	idx, ok := t.byName[s.Name]
	if !ok {
		idx = len(t.Syms)
		t.Syms = append(t.Syms, s)
		t.byName[s.Name] = idx
		return idx, nil
	}

	existing := &t.Syms[idx]
	switch {
	case !existing.Defined && s.Defined:
		*existing = s
		return idx, nil
	case existing.Defined && !s.Defined:
		return idx, nil
	case !existing.Defined && !s.Defined:
		return idx, nil
	case existing.Weak && !s.Weak:
		*existing = s
		return idx, nil
	case !existing.Weak && s.Weak:
		return idx, nil
	case existing.Weak && s.Weak:
		return idx, nil
	default:
		return idx, &rtgerr.DuplicateSymbol{Name: s.Name, FirstObject: existing.Object, NewObject: s.Object}
	}
}

// Reloc is a relocation rebased into the linker's merged address space:
// Offset is relative to the start of Section's merged buffer, SymIndex
// names an entry in the shared SymbolTable.
type Reloc struct {
	Offset   uint64
	Section  Section
	SymIndex int
	Type     objwriter.RelocType
	Addend   int64
}

// Linker is the shared state both elfld and pelink build on: merged
// section buffers, the unified symbol table, rebased relocations, and
// the search-path/library bookkeeping for Phase 3 archive resolution.
type Linker struct {
	Buffers map[Section][]byte
	Syms    *SymbolTable
	Relocs  map[Section][]Reloc

	SearchPaths []string
	Libraries   []string

	// LoadedMembers tracks archive-member byte offsets already ingested
	// (keyed by "archivePath#offset") so Phase 3's iterative resolution
	// never loads the same member twice.
	LoadedMembers map[string]bool

	Warnings []string

	EntryName string
}

// New returns an empty Linker ready for Phase 1 object ingestion.
func New(entry string) *Linker {
	return &Linker{
		Buffers:       make(map[Section][]byte),
		Syms:          NewSymbolTable(),
		Relocs:        make(map[Section][]Reloc),
		LoadedMembers: make(map[string]bool),
		EntryName:     entry,
	}
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

// IngestObject implements Phase 1 for one already-parsed object (built by
// objfile.Parse from either WriteELF or WriteCOFF output, fed in via the
// objfile package's decoded form — see objfile.Object): pad each merged
// section to its alignment, append the object's raw bytes, rebase its
// relocations, and merge its symbols into the unified table.
func (l *Linker) IngestObject(obj *Object) error {
	base := make(map[Section]uint64, 4)
	for _, sec := range []Section{SecText, SecRodata, SecData, SecBss} {
		data := obj.Sections[sec]
		cur := len(l.Buffers[sec])
		want := alignUp(cur, SectionAlign[sec])
		if want > cur {
			l.Buffers[sec] = append(l.Buffers[sec], make([]byte, want-cur)...)
		}
		base[sec] = uint64(want)
		l.Buffers[sec] = append(l.Buffers[sec], data...)
	}

	localIndex := make([]int, len(obj.Symbols))
	for i, sym := range obj.Symbols {
		value := sym.Value
		if sym.Defined && sym.Section != objwriter.SecUndef {
			value += base[sym.Section]
		}
		ls := Sym{
			Name: sym.Name, Value: value, Section: sym.Section,
			Defined: sym.Defined, Weak: sym.Bind == objwriter.BindWeak,
			IsFunc: sym.Type == objwriter.TypeFunc, Size: sym.Size, Object: obj.Name,
		}
		if sym.Bind == objwriter.BindLocal {
			localIndex[i] = l.Syms.AddLocal(ls)
		} else {
			idx, err := l.Syms.MergeGlobal(ls)
			if err != nil {
				var dup *rtgerr.DuplicateSymbol
				if ok := asDuplicateSymbol(err, &dup); ok {
					l.Warnings = append(l.Warnings, err.Error())
				} else {
					return err
				}
			}
			localIndex[i] = idx
		}
	}

	for _, sec := range []Section{SecText, SecRodata, SecData, SecBss} {
		for _, r := range obj.Relocs[sec] {
			l.Relocs[sec] = append(l.Relocs[sec], Reloc{
				Offset:   r.Offset + base[sec],
				Section:  sec,
				SymIndex: localIndex[r.SymIndex],
				Type:     r.Type,
				Addend:   r.Addend,
			})
		}
	}

	return nil
}

func asDuplicateSymbol(err error, target **rtgerr.DuplicateSymbol) bool {
	d, ok := err.(*rtgerr.DuplicateSymbol)
	if ok {
		*target = d
	}
	return ok
}

// UndefinedReferenced returns the names of every symbol that is both
// undefined and the target of at least one relocation, per Phase 3's
// loop condition ("while there exist globally undefined symbols that are
// referenced by at least one relocation").
func (l *Linker) UndefinedReferenced() []string {
	referenced := make(map[int]bool)
	for _, relocs := range l.Relocs {
		for _, r := range relocs {
			referenced[r.SymIndex] = true
		}
	}
	var names []string
	for i := range referenced {
		s := l.Syms.Syms[i]
		if !s.Defined {
			names = append(names, s.Name)
		}
	}
	return names
}

// SynthesizeStub appends a fixed byte sequence to .text as a global
// text symbol, returning its offset — the common shape of Phase 2's
// ELF `_start`/PE `__pe_entry` stub synthesis.
func (l *Linker) SynthesizeStub(name string, code []byte) uint64 {
	off := l.Append(SecText, code)
	l.Syms.MergeGlobal(Sym{Name: name, Value: off, Section: SecText, Defined: true, IsFunc: true})
	return off
}

// Append adds raw bytes to the end of a merged section buffer and
// returns the offset they start at.
func (l *Linker) Append(sec Section, data []byte) uint64 {
	off := uint64(len(l.Buffers[sec]))
	l.Buffers[sec] = append(l.Buffers[sec], data...)
	return off
}

func (l *Linker) String() string {
	return fmt.Sprintf("Linker{text=%d data=%d rodata=%d bss=%d syms=%d}",
		len(l.Buffers[SecText]), len(l.Buffers[SecData]), len(l.Buffers[SecRodata]),
		len(l.Buffers[SecBss]), len(l.Syms.Syms))
}
