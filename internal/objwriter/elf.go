package objwriter

import "io"

// shdrSpec describes one section-header entry to emit; link/info are
// resolved by name after every section's final index is known, since a
// .rela section's sh_link (its .symtab) and sh_info (its target section)
// both depend on indices not yet assigned while sections are being laid
// out.
type shdrSpec struct {
	name       string
	shType     uint32
	flags      uint64
	offset     int
	size       int
	linkName   string
	infoTarget string
	info       uint32
	align      uint64
	entsize    uint64
}

// WriteELF serializes w as an ELF64 relocatable object (ET_REL) per §4.8 and
// §6's "ELF64 file header, program headers, section headers per SysV ABI"
// bit-exact requirement (no program headers for a relocatable object — those
// belong to the linker's executable output, §4.9 phase 8). Grounded on the
// Ehdr/Shdr field layout in std/compiler/elf_x64.go, re-cut from ET_EXEC
// (one PT_LOAD, baked addresses) to ET_REL (no load segments, Rela
// relocations per section, a real symbol table with local and global
// entries).
func (w *Writer) WriteELF(out io.Writer) error {
	const (
		ehdrSize = 64
		shdrSize = 64
		symSize  = 24
		relaSize = 24
	)

	type dataSec struct {
		sec     Section
		name    string
		shType  uint32
		shFlags uint64
		data    []byte
	}

	secs := []dataSec{
		{SecText, ".text", 1, 0x6, w.Sections[SecText]},
		{SecRodata, ".rodata", 1, 0x2, w.Sections[SecRodata]},
		{SecData, ".data", 1, 0x3, w.Sections[SecData]},
		{SecBss, ".bss", 8, 0x3, w.Sections[SecBss]},
	}
	if w.DebugInfo {
		secs = append(secs,
			dataSec{SecDebugAbbrev, ".debug_abbrev", 1, 0, w.Sections[SecDebugAbbrev]},
			dataSec{SecDebugInfo, ".debug_info", 1, 0, w.Sections[SecDebugInfo]},
		)
	}

	// .strtab + .symtab: locals first, then globals (sh_info on .symtab
	// must name the index of the first global).
	strtab := []byte{0}
	strOff := make(map[string]uint32, len(w.Symbols))
	for _, sym := range w.Symbols {
		if sym.Name == "" {
			continue
		}
		strOff[sym.Name] = uint32(len(strtab))
		strtab = append(strtab, []byte(sym.Name)...)
		strtab = append(strtab, 0)
	}

	const (
		stbLocal, stbGlobal, stbWeak     = 0, 1, 2
		sttNotype, sttObject, sttFunc, sttSec = 0, 1, 2, 3
	)

	var order []int
	for i, sym := range w.Symbols {
		if sym.Bind == BindLocal {
			order = append(order, i)
		}
	}
	firstGlobal := uint32(1 + len(order))
	for i, sym := range w.Symbols {
		if sym.Bind != BindLocal {
			order = append(order, i)
		}
	}

	secIndex := make(map[Section]uint16, len(secs))
	for i, s := range secs {
		secIndex[s.sec] = uint16(i + 1)
	}

	objIndex := make([]uint16, len(w.Symbols))
	symtab := make([]byte, symSize) // null symbol
	for newIdx, origIdx := range order {
		sym := w.Symbols[origIdx]
		objIndex[origIdx] = uint16(newIdx + 1)

		bind := byte(stbGlobal)
		switch sym.Bind {
		case BindLocal:
			bind = stbLocal
		case BindWeak:
			bind = stbWeak
		}
		typ := byte(sttNotype)
		switch sym.Type {
		case TypeFunc:
			typ = sttFunc
		case TypeObject:
			typ = sttObject
		case TypeSection:
			typ = sttSec
		}
		shndx := uint16(0)
		if sym.Defined && sym.Section != SecUndef {
			shndx = secIndex[sym.Section]
		}

		rec := make([]byte, symSize)
		putU32(rec[0:], strOff[sym.Name])
		rec[4] = (bind << 4) | (typ & 0xf)
		putU16(rec[6:], shndx)
		putU64(rec[8:], sym.Value)
		putU64(rec[16:], sym.Size)
		symtab = append(symtab, rec...)
	}

	// Lay out: Ehdr, section data (NOBITS sections contribute no file
	// bytes), one .rela<name> per section with relocations, .symtab,
	// .strtab, .shstrtab, then the section header table.
	var specs []shdrSpec
	specs = append(specs, shdrSpec{}) // SHT_NULL

	dataOff := make(map[Section]int, len(secs))
	pos := ehdrSize
	for _, s := range secs {
		pos = alignUp(pos, 8)
		dataOff[s.sec] = pos
		size := len(s.data)
		if s.shType != 8 {
			pos += size
		}
		specs = append(specs, shdrSpec{
			name: s.name, shType: s.shType, flags: s.shFlags,
			offset: dataOff[s.sec], size: size, align: 8,
		})
	}

	type relaBlock struct {
		name string
		data []byte
	}
	var relas []relaBlock
	for _, s := range secs {
		relocs := w.Relocs[s.sec]
		if len(relocs) == 0 {
			continue
		}
		buf := make([]byte, 0, len(relocs)*relaSize)
		for _, r := range relocs {
			rec := make([]byte, relaSize)
			putU64(rec[0:], r.Offset)
			info := (uint64(objIndex[r.SymIndex]) << 32) | uint64(elfRelocType(r.Type))
			putU64(rec[8:], info)
			putU64(rec[16:], uint64(r.Addend))
			buf = append(buf, rec...)
		}
		pos = alignUp(pos, 8)
		specs = append(specs, shdrSpec{
			name: ".rela" + s.name, shType: 4, offset: pos, size: len(buf),
			linkName: ".symtab", infoTarget: s.name, align: 8, entsize: relaSize,
		})
		pos += len(buf)
		relas = append(relas, relaBlock{name: ".rela" + s.name, data: buf})
	}

	pos = alignUp(pos, 8)
	symtabOff := pos
	pos += len(symtab)
	strtabOff := pos
	pos += len(strtab)

	specs = append(specs, shdrSpec{
		name: ".symtab", shType: 2, offset: symtabOff, size: len(symtab),
		linkName: ".strtab", info: firstGlobal, align: 8, entsize: symSize,
	})
	specs = append(specs, shdrSpec{
		name: ".strtab", shType: 3, offset: strtabOff, size: len(strtab), align: 1,
	})

	// .shstrtab, built once every other section's name is fixed.
	var shstrtab []byte
	shstrtab = append(shstrtab, 0)
	nameOff := make([]uint32, len(specs)+1)
	for i, sp := range specs {
		if i == 0 || sp.name == "" {
			continue
		}
		nameOff[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, []byte(sp.name)...)
		shstrtab = append(shstrtab, 0)
	}
	shstrtabNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".shstrtab")...)
	shstrtab = append(shstrtab, 0)
	nameOff[len(specs)] = shstrtabNameOff

	shstrtabOff := pos
	pos += len(shstrtab)
	specs = append(specs, shdrSpec{
		name: ".shstrtab", shType: 3, offset: shstrtabOff, size: len(shstrtab), align: 1,
	})

	shdrOff := alignUp(pos, 8)
	total := len(specs)
	buf := make([]byte, shdrOff+total*shdrSize)

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4], buf[5], buf[6], buf[7] = 2, 1, 1, 0
	putU16(buf[16:], 1)
	putU16(buf[18:], 62)
	putU32(buf[20:], 1)
	putU64(buf[40:], uint64(shdrOff))
	putU16(buf[52:], ehdrSize)
	putU16(buf[58:], shdrSize)
	putU16(buf[60:], uint16(total))
	shstrtabShIdx := uint16(total - 1)
	putU16(buf[62:], shstrtabShIdx)

	for _, s := range secs {
		if s.shType != 8 {
			copy(buf[dataOff[s.sec]:], s.data)
		}
	}
	for _, r := range relas {
		for _, sp := range specs {
			if sp.name == r.name {
				copy(buf[sp.offset:], r.data)
			}
		}
	}
	copy(buf[symtabOff:], symtab)
	copy(buf[strtabOff:], strtab)
	copy(buf[shstrtabOff:], shstrtab)

	shIndexByName := make(map[string]uint16, len(specs))
	for i, sp := range specs {
		if sp.name != "" {
			shIndexByName[sp.name] = uint16(i)
		}
	}

	for i, sp := range specs {
		if i == 0 {
			continue
		}
		link := uint32(0)
		if sp.linkName != "" {
			link = uint32(shIndexByName[sp.linkName])
		}
		info := sp.info
		if sp.infoTarget != "" {
			info = uint32(shIndexByName[sp.infoTarget])
		}
		s := buf[shdrOff+i*shdrSize:]
		putU32(s[0:], nameOff[i])
		putU32(s[4:], sp.shType)
		putU64(s[8:], sp.flags)
		putU64(s[16:], 0) // sh_addr: relocatable, no load address
		putU64(s[24:], uint64(sp.offset))
		putU64(s[32:], uint64(sp.size))
		putU32(s[40:], link)
		putU32(s[44:], info)
		putU64(s[48:], sp.align)
		putU64(s[56:], sp.entsize)
	}

	_, err := out.Write(buf)
	return err
}

func elfRelocType(t RelocType) uint32 {
	switch t {
	case RelAbs64:
		return 1 // R_X86_64_64
	case RelPC32:
		return 2 // R_X86_64_PC32
	case RelAbs32:
		return 10 // R_X86_64_32
	case RelAbs32Signed:
		return 11 // R_X86_64_32S
	default:
		return 2
	}
}
