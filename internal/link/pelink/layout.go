package pelink

import (
	"sort"

	"github.com/tinyrange/rtgc/internal/link"
)

const (
	dosStubSize    = 0x40
	peHeaderSize   = 4 + 20 + 240 // "PE\0\0" + COFF file header + PE32+ optional header (trimmed)
	sectionHdrSize = 40
)

// layoutResult carries every RVA/file-offset later phases need.
type layoutResult struct {
	TextRVA, RodataRVA, DataRVA, BssRVA         uint64
	TextFileOff, RodataFileOff, DataFileOff     uint64
	TextSize, RodataSize, DataSize, BssSize     uint64
	TextRawSize, RodataRawSize, DataRawSize     uint64 // file-aligned sizes

	ThunkRVA uint64 // within .text
	DirRVA, ILTRVA, IATRVA, HintNameRVA uint64 // within .rdata

	EntryRVA  uint64
	NumSections int
	SizeOfImage uint64
	SizeOfHeaders uint64
}

func align(v, a uint64) uint64 {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

// buildImportData assembles the import-directory/ILT/IAT/hint-name
// blocks' bytes with RVA fields left at the block-relative offsets they
// will be patched to absolute RVAs at, and the thunk code (one 8-byte
// `jmp [rip+disp32]` stub per import, per §4.9 Phase 4), grounded on the
// same jmp-thunk shape as the COFF .debug$S relocation pairing used
// elsewhere in this repo's PE path.
func buildImportData(imp *importSection) {
	dlls := make([]string, 0, len(imp.byDLL))
	for dll := range imp.byDLL {
		dlls = append(dlls, dll)
	}
	sort.Strings(dlls)

	var hintName []byte
	dllNameOff := make(map[string]uint32)
	for _, dll := range dlls {
		dllNameOff[dll] = uint32(len(hintName))
		hintName = append(hintName, []byte(dll)...)
		hintName = append(hintName, 0)
	}
	for i := range imp.funcs {
		f := &imp.funcs[i]
		if f.ByOrdinal {
			continue
		}
		f.hintOffset = uint64(len(hintName))
		rec := make([]byte, 2)
		hintName = append(hintName, rec...) // hint = 0
		hintName = append(hintName, []byte(f.Symbol)...)
		hintName = append(hintName, 0)
		if len(hintName)%2 != 0 {
			hintName = append(hintName, 0)
		}
	}
	imp.HintName = hintName

	const thunkEntSize = 8
	var ilt, iat []byte
	thunkIndex := 0
	imp.ThunkCode = nil
	for _, dll := range dlls {
		for _, idx := range imp.byDLL[dll] {
			f := &imp.funcs[idx]
			rec := make([]byte, thunkEntSize)
			if f.ByOrdinal {
				rec[7] = 0x80 // ordinal flag bit 63
				rec[0], rec[1] = byte(f.Ordinal), byte(f.Ordinal>>8)
			} else {
				// low 63 bits carry the RVA of the hint/name record,
				// patched to an absolute RVA once HintNameRVA is known.
				putU64le(rec, f.hintOffset)
			}
			ilt = append(ilt, rec...)
			iat = append(iat, append([]byte(nil), rec...)...)
			f.iatOffset = uint64(thunkIndex * thunkEntSize)
			thunkIndex++

			thunk := []byte{0xFF, 0x25, 0, 0, 0, 0, 0x66, 0x90} // jmp [rip+disp32]; 2-byte nop pad
			f.thunkOffset = uint64(len(imp.ThunkCode))
			imp.ThunkCode = append(imp.ThunkCode, thunk...)
		}
		ilt = append(ilt, make([]byte, thunkEntSize)...) // null terminator per DLL block
		iat = append(iat, make([]byte, thunkEntSize)...)
	}
	imp.ILT = ilt
	imp.IAT = iat

	const descSize = 20
	dir := make([]byte, 0, (len(dlls)+1)*descSize)
	iltOff, iatOff := uint64(0), uint64(0)
	for _, dll := range dlls {
		n := len(imp.byDLL[dll]) + 1
		desc := make([]byte, descSize)
		putU32le(desc[0:4], uint32(iltOff))   // OriginalFirstThunk, block-relative for now
		putU32le(desc[12:16], dllNameOff[dll]) // Name, hint/name-blob-relative for now
		putU32le(desc[16:20], uint32(iatOff))  // FirstThunk, block-relative for now
		dir = append(dir, desc...)
		iltOff += uint64(n * thunkEntSize)
		iatOff += uint64(n * thunkEntSize)
	}
	dir = append(dir, make([]byte, descSize)...) // null terminator
	imp.Dir = dir
}

func putU16le(b []byte, v uint16) {
	b[0], b[1] = byte(v), byte(v>>8)
}
func putU32le(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
func putU64le(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func getU64le(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
func getU32le(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// layout runs §4.9 Phase 5/6: lay out every section's RVA/file offset
// (4 KiB virtual, 512 B file alignment on PE), place the import thunk
// code and ILT/IAT/dir/hint-name blocks, then finalize symbol values to
// absolute RVAs.
func layout(l *link.Linker, imp *importSection) *layoutResult {
	lay := &layoutResult{}

	hasImports := len(imp.funcs) > 0
	if hasImports {
		buildImportData(imp)
		lay.ThunkRVA = uint64(len(l.Buffers[link.SecText]))
		l.Buffers[link.SecText] = append(l.Buffers[link.SecText], imp.ThunkCode...)
	}

	lay.NumSections = 4 // .text, .rdata, .data, .bss

	pos := uint64(dosStubSize + peHeaderSize + lay.NumSections*sectionHdrSize)
	lay.SizeOfHeaders = align(pos, fileAlign)

	fileOff := lay.SizeOfHeaders
	rva := align(lay.SizeOfHeaders, sectionAlign)

	lay.TextFileOff = fileOff
	lay.TextRVA = rva
	lay.TextSize = uint64(len(l.Buffers[link.SecText]))
	lay.TextRawSize = align(lay.TextSize, fileAlign)
	fileOff += lay.TextRawSize
	rva = align(rva+lay.TextSize, sectionAlign)

	if hasImports {
		lay.DirRVA = 0 // block-relative; converted to section-relative below
	}
	rdataStart := len(l.Buffers[link.SecRodata])
	if hasImports {
		lay.DirRVA = uint64(rdataStart)
		l.Buffers[link.SecRodata] = append(l.Buffers[link.SecRodata], imp.Dir...)
		lay.ILTRVA = uint64(len(l.Buffers[link.SecRodata]))
		l.Buffers[link.SecRodata] = append(l.Buffers[link.SecRodata], imp.ILT...)
		lay.IATRVA = uint64(len(l.Buffers[link.SecRodata]))
		l.Buffers[link.SecRodata] = append(l.Buffers[link.SecRodata], imp.IAT...)
		lay.HintNameRVA = uint64(len(l.Buffers[link.SecRodata]))
		l.Buffers[link.SecRodata] = append(l.Buffers[link.SecRodata], imp.HintName...)
	}

	lay.RodataFileOff = fileOff
	lay.RodataRVA = rva
	lay.RodataSize = uint64(len(l.Buffers[link.SecRodata]))
	lay.RodataRawSize = align(lay.RodataSize, fileAlign)
	fileOff += lay.RodataRawSize
	rva = align(rva+lay.RodataSize, sectionAlign)

	lay.DataFileOff = fileOff
	lay.DataRVA = rva
	lay.DataSize = uint64(len(l.Buffers[link.SecData]))
	lay.DataRawSize = align(lay.DataSize, fileAlign)
	fileOff += lay.DataRawSize
	rva = align(rva+lay.DataSize, sectionAlign)

	lay.BssRVA = rva
	lay.BssSize = uint64(len(l.Buffers[link.SecBss]))
	rva = align(rva+lay.BssSize, sectionAlign)

	lay.SizeOfImage = rva

	// Rebase the import-data block offsets from section-relative-at-append
	// time to final RVAs.
	if hasImports {
		lay.DirRVA += lay.RodataRVA
		lay.ILTRVA += lay.RodataRVA
		lay.IATRVA += lay.RodataRVA
		lay.HintNameRVA += lay.RodataRVA
	}

	for i := range l.Syms.Syms {
		finalizeSymbolValue(&l.Syms.Syms[i], lay, imp)
	}

	if hasImports {
		patchImportRVAs(imp, lay)
		patchThunks(l, imp, lay)
	}

	if idx, ok := l.Syms.Index("__pe_entry"); ok {
		lay.EntryRVA = l.Syms.Get(idx).Value - imageBase
	} else if idx, ok := l.Syms.Index("__pe_crt_entry"); ok {
		lay.EntryRVA = l.Syms.Get(idx).Value - imageBase
	}

	return lay
}

func finalizeSymbolValue(sym *link.Sym, lay *layoutResult, imp *importSection) {
	if !sym.Defined {
		return
	}
	if sym.Value&pendingThunkMarker != 0 {
		sym.Value = lay.ThunkRVA + (sym.Value &^ pendingThunkMarker)
		sym.Value += imageBase
		return
	}
	if sym.Value&pendingIATMarker != 0 {
		idx := int(sym.Value &^ pendingIATMarker)
		sym.Value = lay.IATRVA + imp.funcs[idx].iatOffset + imageBase
		return
	}
	switch sym.Section {
	case link.SecText:
		sym.Value += lay.TextRVA + imageBase
	case link.SecRodata:
		sym.Value += lay.RodataRVA + imageBase
	case link.SecData:
		sym.Value += lay.DataRVA + imageBase
	case link.SecBss:
		sym.Value += lay.BssRVA + imageBase
	default:
		sym.Value += imageBase
	}
}

// patchImportRVAs rewrites the Name/OriginalFirstThunk/FirstThunk fields
// of the import directory (previously block-relative) into absolute
// RVAs, and the ILT/IAT hint/name-record pointers.
func patchImportRVAs(imp *importSection, lay *layoutResult) {
	const descSize = 20
	for i := 0; i*descSize < len(imp.Dir)-descSize; i++ {
		d := imp.Dir[i*descSize:]
		ilt := getU32le(d[0:4])
		name := getU32le(d[12:16])
		iat := getU32le(d[16:20])
		putU32le(d[0:4], uint32(lay.ILTRVA)+ilt)
		putU32le(d[12:16], uint32(lay.HintNameRVA)+name)
		putU32le(d[16:20], uint32(lay.IATRVA)+iat)
	}
	patchThunkTable := func(table []byte) {
		const entSize = 8
		for off := 0; off+entSize <= len(table); off += entSize {
			v := getU64le(table[off : off+entSize])
			if v == 0 || v&(1<<63) != 0 {
				continue // null terminator or ordinal import, no hint/name RVA to fix
			}
			putU64le(table[off:off+entSize], lay.HintNameRVA+v)
		}
	}
	patchThunkTable(imp.ILT)
	patchThunkTable(imp.IAT)
}

// patchThunks fills in each jmp thunk's rip-relative displacement to its
// IAT slot, per §4.9 Phase 4 ("each thunk's displacement targets its
// import's IAT slot").
func patchThunks(l *link.Linker, imp *importSection, lay *layoutResult) {
	thunkBlockRVA := lay.TextRVA + lay.ThunkRVA
	iatRVA := lay.IATRVA
	for _, f := range imp.funcs {
		thunkVA := imageBase + thunkBlockRVA + f.thunkOffset
		iatVA := imageBase + iatRVA + f.iatOffset
		disp := int32(int64(iatVA) - int64(thunkVA+6))
		off := lay.ThunkRVA + f.thunkOffset
		putU32le(l.Buffers[link.SecText][off+2:off+6], uint32(disp))
	}
}
