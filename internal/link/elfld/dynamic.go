package elfld

import (
	"sort"

	"github.com/tinyrange/rtgc/internal/link"
	"github.com/tinyrange/rtgc/internal/objwriter"
)

// dynamicSection carries everything Phase 4's dynamic-link branch builds
// before layout (PLT/GOT placement, the dynamic symbol list) and after
// layout (final addresses patched into the PLT jumps, .rela.plt, and the
// .dynamic table itself). One shared libc ("libc.so.6") is assumed, per
// §4.9's "optional dynamic libc" framing — this toolkit targets linking
// against a single C library, not arbitrary shared objects.
type dynamicSection struct {
	Names []string

	pltOffset map[string]uint64 // offset into the PLT block (not yet placed in .text)
	gotOffset map[string]uint64 // offset into the GOT block (not yet placed in .data)

	PltCode []byte // 16 bytes per name, appended to .text by layout
	GotData []byte // 8 bytes per name, appended to .data by layout

	Dynstr    []byte
	dynstrOff map[string]uint32

	// Finalized by finalize(), once section VAs are known.
	Hash    []byte
	Dynsym  []byte
	RelaPlt []byte
	Dynamic []byte
}

const soname = "libc.so.6"

// buildDynamic implements the PLT/GOT/dynsym construction half of Phase
// 4: for each remaining undefined-but-referenced symbol, allocate a PLT
// stub and GOT slot, and redefine the symbol in the unified table to
// point at its PLT stub — after this, Phase 6/7's ordinary relocation
// application resolves calls to these symbols exactly like any other
// text symbol, matching §4.9's "each undefined symbol is resolved to its
// PLT entry."
func buildDynamic(l *link.Linker, undef []string) (*dynamicSection, error) {
	names := append([]string(nil), undef...)
	sort.Strings(names)

	d := &dynamicSection{
		Names:     names,
		pltOffset: make(map[string]uint64, len(names)),
		gotOffset: make(map[string]uint64, len(names)),
		dynstrOff: make(map[string]uint32),
	}

	d.Dynstr = append(d.Dynstr, 0)
	internDynstr := func(s string) uint32 {
		if off, ok := d.dynstrOff[s]; ok {
			return off
		}
		off := uint32(len(d.Dynstr))
		d.Dynstr = append(d.Dynstr, []byte(s)...)
		d.Dynstr = append(d.Dynstr, 0)
		d.dynstrOff[s] = off
		return off
	}
	internDynstr(soname)

	for i, name := range names {
		internDynstr(name)

		pltOff := uint64(i * 16)
		gotOff := uint64(i * 8)
		d.pltOffset[name] = pltOff
		d.gotOffset[name] = gotOff

		stub := []byte{0xFF, 0x25, 0, 0, 0, 0} // jmp [rip+disp32] (patched in finalize)
		for len(stub) < 16 {
			stub = append(stub, 0xCC) // int3 padding
		}
		d.PltCode = append(d.PltCode, stub...)
		d.GotData = append(d.GotData, make([]byte, 8)...)

		idx, ok := l.Syms.Index(name)
		if !ok {
			idx, _ = l.Syms.MergeGlobal(link.Sym{Name: name, Defined: false, Section: objwriter.SecUndef})
		}
		sym := l.Syms.Get(idx)
		sym.Defined = true
		sym.Section = link.SecText
		sym.IsFunc = true
		// Value is finalized once the PLT block's placement within the
		// merged .text buffer (at layout time) is known; buildDynamic runs
		// before the PLT bytes are appended, so record a pending marker the
		// layout step resolves.
		sym.Value = pendingPLTMarker | pltOff
	}

	return d, nil
}

// pendingPLTMarker flags a symbol value as "PLT-offset, not yet placed";
// layout() strips it once the PLT block's base within .text is known. No
// real text offset reaches anywhere near this range in practice (a
// single compilation unit's .text is orders of magnitude smaller), so
// a high bit (bit 62) is a safe, simple sentinel rather than a parallel side
// table.
const pendingPLTMarker = uint64(1) << 62

func sysvHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
			h &^= g
		}
	}
	return h
}

// DT_* tag values used by the fixed-shape .dynamic table this linker
// emits: NEEDED, HASH, STRTAB, SYMTAB, STRSZ, SYMENT, PLTGOT, PLTRELSZ,
// PLTREL, JMPREL, NULL.
const numDynamicEntries = 11

func putU32le(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
func putU64le(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// finalizeDynamic completes Phase 4 once Phase 5 layout has assigned
// final addresses: patch each PLT stub's GOT-relative jump, and build
// .hash, .dynsym, .rela.plt, and .dynamic.
func finalizeDynamic(l *link.Linker, d *dynamicSection, lay *layoutResult) {
	pltBlockVA := lay.TextBase + lay.PLTBase
	gotBlockVA := lay.DataBase + uint64(len(l.Buffers[link.SecData])-len(d.GotData))

	for _, name := range d.Names {
		pltVA := pltBlockVA + d.pltOffset[name]
		gotVA := gotBlockVA + d.gotOffset[name]
		disp := int32(int64(gotVA) - int64(pltVA+6))
		stubOff := lay.PLTBase + d.pltOffset[name]
		putU32le(l.Buffers[link.SecText][stubOff+2:stubOff+6], uint32(disp))
	}

	// .dynsym: index 0 is the null entry; one UNDEF entry per import.
	const symEntSize = 24
	d.Dynsym = make([]byte, symEntSize) // null entry
	for _, name := range d.Names {
		rec := make([]byte, symEntSize)
		putU32le(rec[0:4], d.dynstrOff[name])
		rec[4] = (1 << 4) | 0x2 // STB_GLOBAL, STT_FUNC
		d.Dynsym = append(d.Dynsym, rec...)
	}

	// .rela.plt: one R_X86_64_JUMP_SLOT relocation per import, targeting
	// its GOT slot, against its dynsym index.
	const relaEntSize = 24
	for i, name := range d.Names {
		rec := make([]byte, relaEntSize)
		gotVA := gotBlockVA + d.gotOffset[name]
		putU64le(rec[0:8], gotVA)
		info := (uint64(i+1) << 32) | 7 // R_X86_64_JUMP_SLOT
		putU64le(rec[8:16], info)
		d.RelaPlt = append(d.RelaPlt, rec...)
	}

	// .hash: SysV hash table, nbucket == nchain == len(Names)+1 (a
	// minimal, correct-but-unoptimized bucket count).
	n := uint32(len(d.Names) + 1)
	d.Hash = make([]byte, 8+4*n+4*n)
	putU32le(d.Hash[0:4], n)
	putU32le(d.Hash[4:8], n)
	buckets := d.Hash[8 : 8+4*n]
	chains := d.Hash[8+4*n : 8+4*n+4*n]
	for i, name := range d.Names {
		symIdx := uint32(i + 1)
		bucket := sysvHash(name) % n
		head := getU32le(buckets[bucket*4:])
		putU32le(chains[symIdx*4:], head)
		putU32le(buckets[bucket*4:], symIdx)
	}

	// .dynamic: fixed tag order, per §4.9 Phase 4's table.
	const (
		dtNeeded  = 1
		dtHash    = 4
		dtStrtab  = 5
		dtSymtab  = 6
		dtStrsz   = 10
		dtSyment  = 11
		dtPltgot  = 3
		dtPltrelsz = 2
		dtPltrel  = 20
		dtJmprel  = 23
		dtNull    = 0
	)
	entry := func(tag int64, val uint64) []byte {
		rec := make([]byte, 16)
		putU64le(rec[0:8], uint64(tag))
		putU64le(rec[8:16], val)
		return rec
	}
	d.Dynamic = nil
	d.Dynamic = append(d.Dynamic, entry(dtNeeded, uint64(d.dynstrOff[soname]))...)
	d.Dynamic = append(d.Dynamic, entry(dtHash, lay.HashBase)...)
	d.Dynamic = append(d.Dynamic, entry(dtStrtab, lay.DynstrBase)...)
	d.Dynamic = append(d.Dynamic, entry(dtSymtab, lay.DynsymBase)...)
	d.Dynamic = append(d.Dynamic, entry(dtStrsz, lay.DynstrSize)...)
	d.Dynamic = append(d.Dynamic, entry(dtSyment, symEntSize)...)
	d.Dynamic = append(d.Dynamic, entry(dtPltgot, gotBlockVA)...)
	d.Dynamic = append(d.Dynamic, entry(dtPltrelsz, lay.RelaPltSize)...)
	d.Dynamic = append(d.Dynamic, entry(dtPltrel, 7 /* DT_RELA */)...)
	d.Dynamic = append(d.Dynamic, entry(dtJmprel, lay.RelaPltBase)...)
	d.Dynamic = append(d.Dynamic, entry(dtNull, 0)...)
}

func getU32le(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
