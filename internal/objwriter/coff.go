package objwriter

import "io"

// coffRelocType maps a Writer-level RelocType to its IMAGE_REL_AMD64_*
// code, per §6's bit-exact object-file requirements.
func coffRelocType(t RelocType) uint16 {
	switch t {
	case RelAbs64:
		return 0x0001 // IMAGE_REL_AMD64_ADDR64
	case RelPC32:
		return 0x0004 // IMAGE_REL_AMD64_REL32
	case RelAddr32NB:
		return 0x0003 // IMAGE_REL_AMD64_ADDR32NB
	default:
		return 0x0004
	}
}

const (
	coffSecRel32 = 0x000B // IMAGE_REL_AMD64_SECREL
	coffSection  = 0x000A // IMAGE_REL_AMD64_SECTION
)

// WriteCOFF serializes w as a COFF .obj per §4.8: file header, section
// headers for each non-empty section, section raw data followed by its
// relocations, optional .debug$S/.debug$T (written without relocations),
// symbol table, string table. Grounded on std/compiler/pe32.go's makeCOFFSym /
// buildCOFFSymbols and pe64.go's section-table construction, re-cut from
// "whole PE image" emission to "one relocatable .obj for the linker".
func (w *Writer) WriteCOFF(out io.Writer) error {
	const (
		fileHdrSize = 20
		secHdrSize  = 40
		symSize     = 18
		relSize     = 10
	)

	type dataSec struct {
		sec        Section
		name       string
		characters uint32
	}

	secs := []dataSec{
		{SecText, ".text", 0x60500020},   // CNT_CODE | MEM_EXECUTE | MEM_READ | ALIGN_16
		{SecRodata, ".rdata", 0x40300040}, // CNT_INITIALIZED_DATA | MEM_READ
		{SecData, ".data", 0xC0300040},    // CNT_INITIALIZED_DATA | MEM_READ | MEM_WRITE
		{SecBss, ".bss", 0xC0300080},      // CNT_UNINITIALIZED_DATA | MEM_READ | MEM_WRITE
	}
	var present []dataSec
	for _, s := range secs {
		if len(w.Sections[s.sec]) > 0 || len(w.Relocs[s.sec]) > 0 {
			present = append(present, s)
		}
	}
	if w.DebugInfo {
		present = append(present,
			dataSec{SecDebugS, ".debug$S", 0x42100040},
			dataSec{SecDebugT, ".debug$T", 0x42100040},
		)
		w.Sections[SecDebugS] = w.buildDebugS()
		w.Sections[SecDebugT] = w.buildDebugT()
	}

	secIndex := make(map[Section]uint16, len(present))
	for i, s := range present {
		secIndex[s.sec] = uint16(i + 1)
	}

	var strtab []byte
	strtab = append(strtab, 0, 0, 0, 0) // size prefix placeholder

	longName := func(name string) (inline bool, off uint32) {
		if len(name) <= 8 {
			return true, 0
		}
		o := uint32(len(strtab))
		strtab = append(strtab, []byte(name)...)
		strtab = append(strtab, 0)
		return false, o
	}

	// Section-defining symbols (one STT_SECTION-equivalent entry per
	// section) are prepended when debug info is present, per §4.8 ("when
	// debug info is present, section-defining symbols with auxiliary
	// records are prepended to the symbol table, and every pre-existing
	// relocation's symbol index must be shifted accordingly").
	var symtab []byte
	numSyms := 0
	sectionSymIndex := make(map[Section]uint16)

	appendSectionSym := func(name string, idx uint16) {
		rec := make([]byte, symSize)
		inline, off := longName(name)
		if inline {
			copy(rec[0:8], name)
		} else {
			putU32(rec[4:], off)
		}
		putU32(rec[8:], 0)
		putU16(rec[12:], idx)
		putU16(rec[14:], 0) // type
		rec[16] = 3         // IMAGE_SYM_CLASS_STATIC
		rec[17] = 1         // one aux symbol follows
		symtab = append(symtab, rec...)
		numSyms++
		aux := make([]byte, symSize) // minimal aux record (section length left 0)
		symtab = append(symtab, aux...)
		numSyms++
		sectionSymIndex[present[idx-1].sec] = uint16(numSyms - 2)
	}

	if w.DebugInfo {
		for i, s := range present {
			appendSectionSym(s.name, uint16(i+1))
		}
	}

	symShift := uint32(numSyms)

	for _, sym := range w.Symbols {
		rec := make([]byte, symSize)
		inline, off := longName(sym.Name)
		if inline {
			copy(rec[0:8], sym.Name)
		} else {
			putU32(rec[4:], off)
		}
		putU32(rec[8:], uint32(sym.Value))
		shndx := uint16(0)
		if sym.Defined && sym.Section != SecUndef {
			shndx = secIndex[sym.Section]
		}
		putU16(rec[12:], shndx)
		typ := uint16(0)
		if sym.Type == TypeFunc {
			typ = 0x20 // DT_FCN
		}
		putU16(rec[14:], typ)
		class := byte(2) // IMAGE_SYM_CLASS_EXTERNAL
		if sym.Bind == BindLocal {
			class = 3 // IMAGE_SYM_CLASS_STATIC
		}
		rec[16] = class
		rec[17] = 0
		symtab = append(symtab, rec...)
		numSyms++
	}
	putU32(strtab[0:], uint32(len(strtab)))

	// Section data + trailing relocations.
	dataOff := make(map[Section]int, len(present))
	relOff := make(map[Section]int, len(present))
	relCount := make(map[Section]int, len(present))

	body := make([]byte, 0)
	base := fileHdrSize + len(present)*secHdrSize
	cursor := base
	for _, s := range present {
		want := alignUp(cursor, 4)
		body = append(body, make([]byte, want-cursor)...)
		cursor = want
		dataOff[s.sec] = cursor
		if s.sec != SecBss {
			body = append(body, w.Sections[s.sec]...)
			cursor += len(w.Sections[s.sec])
		}
	}
	for _, s := range present {
		relocs := w.Relocs[s.sec]
		if len(relocs) == 0 {
			continue
		}
		relOff[s.sec] = cursor
		relCount[s.sec] = len(relocs)
		for _, r := range relocs {
			rec := make([]byte, relSize)
			putU32(rec[0:], uint32(r.Offset))
			putU32(rec[4:], uint32(r.SymIndex)+symShift)
			putU16(rec[8:], coffRelocType(r.Type))
			body = append(body, rec...)
			cursor += relSize
		}
	}

	symtabOff := cursor
	cursor += len(symtab)
	strtabOff := cursor
	cursor += len(strtab)

	buf := make([]byte, cursor)
	// File header.
	putU16(buf[0:], 0x8664) // IMAGE_FILE_MACHINE_AMD64
	putU16(buf[2:], uint16(len(present)))
	putU32(buf[8:], uint32(symtabOff))
	putU32(buf[12:], uint32(numSyms))
	putU16(buf[16:], 0) // optional header size (none for .obj)
	putU16(buf[18:], 0) // characteristics

	for i, s := range present {
		h := buf[fileHdrSize+i*secHdrSize:]
		copy(h[0:8], s.name)
		putU32(h[8:], 0) // PhysicalAddress/VirtualSize
		putU32(h[12:], 0)
		size := len(w.Sections[s.sec])
		putU32(h[16:], uint32(size))
		if s.sec != SecBss {
			putU32(h[20:], uint32(dataOff[s.sec]))
		}
		if relCount[s.sec] > 0 {
			putU32(h[24:], uint32(relOff[s.sec]))
			putU16(h[32:], uint16(relCount[s.sec]))
		}
		putU32(h[36:], s.characters)
	}

	copy(buf[base:], body)
	copy(buf[symtabOff:], symtab)
	copy(buf[strtabOff:], strtab)

	_, err := out.Write(buf)
	return err
}
