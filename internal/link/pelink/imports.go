package pelink

import (
	"fmt"

	"github.com/tinyrange/rtgc/internal/archive"
	"github.com/tinyrange/rtgc/internal/link"
	"github.com/tinyrange/rtgc/internal/objfile"
	"github.com/tinyrange/rtgc/internal/objwriter"
)

// importFunc is one resolved import: a symbol name, the DLL it resolves
// against, and whether it binds by ordinal.
type importFunc struct {
	Symbol    string
	DLL       string
	Ordinal   uint16
	ByOrdinal bool

	thunkOffset uint64 // offset into the thunk block (pre-placement)
	iatOffset   uint64 // offset into the IAT block, within .rdata (pre-placement)
	hintOffset  uint64 // offset of this import's hint/name record, within the hint/name blob
}

// importSection accumulates every DLL import Phase 3/4 resolves, grouped
// by DLL for the import-directory table Phase 4 builds.
type importSection struct {
	funcs []importFunc
	byDLL map[string][]int

	ThunkCode []byte // appended to .text

	// Finalized at layout/emit time.
	Dir      []byte // import directory table, in .rdata
	ILT      []byte // import lookup tables, one block per DLL, in .rdata
	IAT      []byte // import address tables, one block per DLL, in .rdata
	HintName []byte // hint/name records + DLL name strings, in .rdata
}

// fallbackDLL maps common Win32/UCRT symbols to their host DLL, per
// §4.9 Phase 4's "built-in fallback table... lets the linker function
// when .lib files are unavailable."
var fallbackDLL = map[string]string{
	"ExitProcess":       "kernel32.dll",
	"GetStdHandle":      "kernel32.dll",
	"WriteFile":         "kernel32.dll",
	"ReadFile":          "kernel32.dll",
	"GetCommandLineA":   "kernel32.dll",
	"HeapAlloc":         "kernel32.dll",
	"HeapFree":          "kernel32.dll",
	"GetProcessHeap":    "kernel32.dll",
	"printf":            "ucrtbase.dll",
	"malloc":            "ucrtbase.dll",
	"free":              "ucrtbase.dll",
	"exit":              "ucrtbase.dll",
	"memcpy":            "ucrtbase.dll",
	"memset":            "ucrtbase.dll",
	"strlen":            "ucrtbase.dll",
	"__acrt_iob_func":   "ucrtbase.dll",
}

// resolveImports implements Phase 3 (iterative archive resolution,
// including short import objects) and the front half of Phase 4 (group
// imports by DLL): while undefined-but-referenced symbols remain, look
// each up in the supplied archives first, then fall back to the
// built-in DLL table.
func resolveImports(l *link.Linker, archives []*archive.Archive) (*importSection, error) {
	imp := &importSection{byDLL: make(map[string][]int)}
	resolved := make(map[string]bool)

	addImport := func(symbol, dll string, ordinal uint16, byOrdinal bool) {
		if resolved[symbol] {
			return
		}
		resolved[symbol] = true
		idx := len(imp.funcs)
		imp.funcs = append(imp.funcs, importFunc{Symbol: symbol, DLL: dll, Ordinal: ordinal, ByOrdinal: byOrdinal})
		imp.byDLL[dll] = append(imp.byDLL[dll], idx)

		thunkOff := uint64(idx * 8)
		imp.funcs[idx].thunkOffset = thunkOff

		sIdx, ok := l.Syms.Index(symbol)
		if !ok {
			sIdx, _ = l.Syms.MergeGlobal(link.Sym{Name: symbol, Defined: false, Section: objwriter.SecUndef})
		}
		sym := l.Syms.Get(sIdx)
		sym.Defined, sym.Section, sym.IsFunc = true, link.SecText, true
		sym.Value = pendingThunkMarker | thunkOff

		impName := "__imp_" + symbol
		impIdx, ok := l.Syms.Index(impName)
		if !ok {
			impIdx = l.Syms.AddLocal(link.Sym{Name: impName})
		}
		impSym := l.Syms.Get(impIdx)
		impSym.Defined, impSym.Section = true, link.SecRodata
		impSym.Value = pendingIATMarker | uint64(idx)
	}

	for {
		undef := l.UndefinedReferenced()
		progressed := false
		for _, name := range undef {
			if resolved[name] {
				continue
			}
			found := false
			for _, ar := range archives {
				m, ok := ar.Lookup(name)
				if !ok {
					continue
				}
				key := fmt.Sprintf("%s#%d", ar.Path, m.Offset)
				if archive.IsShortImport(m.Data) {
					si, err := archive.ParseShortImport(m.Data)
					if err != nil {
						return nil, err
					}
					addImport(si.Symbol, si.DLL, si.Ordinal, si.ByOrdinal)
					found = true
					progressed = true
					break
				}
				if l.LoadedMembers[key] {
					continue
				}
				obj, err := objfile.ParseCOFF(fmt.Sprintf("%s(%s)", ar.Path, m.Name), m.Data)
				if err != nil {
					return nil, err
				}
				if err := l.IngestObject(obj); err != nil {
					return nil, err
				}
				l.LoadedMembers[key] = true
				found = true
				progressed = true
				break
			}
			if !found {
				if dll, ok := fallbackDLL[name]; ok {
					addImport(name, dll, 0, false)
					progressed = true
				}
			}
		}
		if !progressed {
			break
		}
	}

	return imp, nil
}

// pendingThunkMarker/pendingIATMarker flag a symbol value as "not yet
// placed", resolved once layout() knows the thunk/IAT blocks' bases —
// the PE-side analogue of elfld's pendingPLTMarker.
const (
	pendingThunkMarker = uint64(1) << 62
	pendingIATMarker   = uint64(1) << 61
)
