package elfld

import (
	"github.com/tinyrange/rtgc/internal/link"
)

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
)

// layoutResult carries every address/offset later phases (relocation
// application, emission) need, per §4.9 Phase 5's "compute section RVAs
// and file offsets respecting section alignment... 4 KiB page on ELF
// with a page boundary between R+X and R+W load segments."
type layoutResult struct {
	TextBase, RodataBase, DataBase, BssBase     uint64
	TextFileOff, RodataFileOff, DataFileOff     uint64
	TextSize, RodataSize, DataSize, BssSize     uint64

	PLTBase uint64 // within .text, once placed

	// Dynamic-branch sections, zero if dyn == nil.
	InterpBase, InterpFileOff, InterpSize     uint64
	HashBase, HashFileOff, HashSize           uint64
	DynsymBase, DynsymFileOff, DynsymSize     uint64
	DynstrBase, DynstrFileOff, DynstrSize     uint64
	RelaPltBase, RelaPltFileOff, RelaPltSize  uint64
	DynamicBase, DynamicFileOff, DynamicSize  uint64

	PhdrOff   uint64
	PhdrCount int
	EntryVA   uint64
	FileEnd   uint64
}

func align(v, a uint64) uint64 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

// layout runs §4.9 Phases 5 and 6: lay out every section's VA/file
// offset, append the PLT/GOT blocks built by buildDynamic (if any) onto
// .text/.data, then finalize every symbol's absolute value.
func layout(l *link.Linker, dyn *dynamicSection) *layoutResult {
	lay := &layoutResult{}

	if dyn != nil {
		lay.PLTBase = uint64(len(l.Buffers[link.SecText]))
		l.Buffers[link.SecText] = append(l.Buffers[link.SecText], dyn.PltCode...)
		l.Buffers[link.SecData] = append(l.Buffers[link.SecData], dyn.GotData...)
	}

	lay.TextSize = uint64(len(l.Buffers[link.SecText]))
	lay.RodataSize = uint64(len(l.Buffers[link.SecRodata]))
	lay.DataSize = uint64(len(l.Buffers[link.SecData]))
	lay.BssSize = uint64(len(l.Buffers[link.SecBss]))

	pos := uint64(ehdrSize)
	phdrCount := 2 // PT_LOAD(R+X), PT_LOAD(R+W)
	if dyn != nil {
		phdrCount = 4 // PT_INTERP, PT_LOAD(R+X), PT_LOAD(R+W), PT_DYNAMIC
	}
	lay.PhdrOff = pos
	lay.PhdrCount = phdrCount
	pos += uint64(phdrCount) * phdrSize

	if dyn != nil {
		lay.InterpSize = uint64(len("/lib64/ld-linux-x86-64.so.2\x00"))
		lay.InterpFileOff = pos
		lay.InterpBase = baseAddr + pos
		pos += lay.InterpSize

		lay.HashSize = uint64(4 * (2 + (len(dyn.Names) + 1) + (len(dyn.Names) + 1)))
		lay.HashFileOff = pos
		lay.HashBase = baseAddr + pos
		pos += lay.HashSize

		const dynsymEntSize = 24
		lay.DynsymSize = uint64((len(dyn.Names) + 1) * dynsymEntSize)
		lay.DynsymFileOff = pos
		lay.DynsymBase = baseAddr + pos
		pos += lay.DynsymSize

		lay.DynstrSize = uint64(len(dyn.Dynstr))
		lay.DynstrFileOff = pos
		lay.DynstrBase = baseAddr + pos
		pos += lay.DynstrSize

		const relaEntSize = 24
		lay.RelaPltSize = uint64(len(dyn.Names) * relaEntSize)
		lay.RelaPltFileOff = pos
		lay.RelaPltBase = baseAddr + pos
		pos += lay.RelaPltSize
	}

	// In the dynamic branch, the R+X segment starts at a page boundary
	// after .interp/.hash/.dynsym/.dynstr/.rela.plt. In the static branch
	// there are no sections ahead of .text, so it immediately follows the
	// ELF header + program headers (Phase 5 scenario: entry == base+0xB0)
	// rather than being pushed to the next page.
	if dyn != nil {
		pos = align(pos, pageAlign)
	}
	lay.TextFileOff = pos
	lay.TextBase = baseAddr + pos
	pos += lay.TextSize

	pos = align(pos, 16)
	lay.RodataFileOff = pos
	lay.RodataBase = baseAddr + pos
	pos += lay.RodataSize

	// Page boundary ahead of the R+W load segment.
	pos = align(pos, pageAlign)
	lay.DataFileOff = pos
	lay.DataBase = baseAddr + pos
	pos += lay.DataSize

	lay.BssBase = lay.DataBase + align(lay.DataSize, 8)

	if dyn != nil {
		pos = align(pos, 8)
		lay.DynamicFileOff = pos
		lay.DynamicBase = baseAddr + pos
		lay.DynamicSize = uint64(numDynamicEntries * 16)
		pos += lay.DynamicSize
	}

	lay.FileEnd = pos

	for i := range l.Syms.Syms {
		finalizeSymbolValue(&l.Syms.Syms[i], lay)
	}

	// _start always sits at the very beginning of .text (Phase 2 prepends
	// it), so it is always the entry point regardless of what the caller
	// named as the logical entry symbol.
	lay.EntryVA = lay.TextBase

	if dyn != nil {
		finalizeDynamic(l, dyn, lay)
	}

	return lay
}

// finalizeSymbolValue implements Phase 6 for one symbol: resolve a
// pending PLT marker to its .text-relative offset, then add the owning
// section's final base.
func finalizeSymbolValue(sym *link.Sym, lay *layoutResult) {
	if !sym.Defined {
		return
	}
	if sym.Value&pendingPLTMarker != 0 {
		sym.Value = lay.PLTBase + (sym.Value &^ pendingPLTMarker)
	}
	switch sym.Section {
	case link.SecText:
		sym.Value += lay.TextBase
	case link.SecRodata:
		sym.Value += lay.RodataBase
	case link.SecData:
		sym.Value += lay.DataBase
	case link.SecBss:
		sym.Value += lay.BssBase
	}
}
