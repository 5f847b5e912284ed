package objfile

import (
	"github.com/tinyrange/rtgc/internal/objwriter"
	"github.com/tinyrange/rtgc/internal/rtgerr"
)

func elfRelocTypeFromCode(code uint32) RelocType {
	switch code {
	case 1:
		return objwriter.RelAbs64
	case 2:
		return objwriter.RelPC32
	case 10:
		return objwriter.RelAbs32
	case 11:
		return objwriter.RelAbs32Signed
	default:
		return objwriter.RelPC32
	}
}

// ParseELF decodes an ELF64 ET_REL object written by
// internal/objwriter.WriteELF back into an Object: section data keyed by
// name, the full symbol table, and Rela relocations rebased into
// section-relative SymIndex entries.
func ParseELF(name string, data []byte) (*Object, error) {
	malformed := func(reason string) (*Object, error) {
		return nil, &rtgerr.MalformedObject{File: name, Reason: reason}
	}
	if len(data) < 64 {
		return malformed("file shorter than an ELF64 header")
	}
	if data[0] != 0x7f || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return malformed("bad ELF magic")
	}
	if data[4] != 2 {
		return malformed("not ELFCLASS64")
	}

	shoff := getU64(data[40:48])
	shentsize := int(getU16(data[58:60]))
	shnum := int(getU16(data[60:62]))
	shstrndx := int(getU16(data[62:64]))

	if shentsize != 64 || shoff == 0 || int(shoff)+shnum*shentsize > len(data) {
		return malformed("truncated or malformed section header table")
	}

	type shdr struct {
		nameOff         uint32
		shType          uint32
		offset, size    uint64
		link, info      uint32
		entsize         uint64
	}
	shdrs := make([]shdr, shnum)
	for i := 0; i < shnum; i++ {
		s := data[int(shoff)+i*shentsize:]
		shdrs[i] = shdr{
			nameOff: getU32(s[0:4]),
			shType:  getU32(s[4:8]),
			offset:  getU64(s[24:32]),
			size:    getU64(s[32:40]),
			link:    getU32(s[40:44]),
			info:    getU32(s[44:48]),
			entsize: getU64(s[56:64]),
		}
	}

	if shstrndx >= shnum {
		return malformed("shstrndx out of range")
	}
	shstrtabHdr := shdrs[shstrndx]
	if int(shstrtabHdr.offset+shstrtabHdr.size) > len(data) {
		return malformed(".shstrtab out of bounds")
	}
	shstrtab := data[shstrtabHdr.offset : shstrtabHdr.offset+shstrtabHdr.size]

	sectionName := func(i int) string {
		off := shdrs[i].nameOff
		if int(off) >= len(shstrtab) {
			return ""
		}
		return cstr(shstrtab[off:])
	}

	byName := make(map[string]int, shnum)
	for i := 0; i < shnum; i++ {
		byName[sectionName(i)] = i
	}

	obj := &Object{
		Name:     name,
		Sections: make(map[Section][]byte),
		Relocs:   make(map[Section][]Relocation),
	}

	secByLogical := map[string]Section{
		".text": SecText, ".rodata": SecRodata, ".data": SecData, ".bss": SecBss,
	}
	for logical, sec := range secByLogical {
		i, ok := byName[logical]
		if !ok {
			continue
		}
		h := shdrs[i]
		if h.shType == 8 { // SHT_NOBITS
			obj.Sections[sec] = make([]byte, h.size)
			continue
		}
		if int(h.offset+h.size) > len(data) {
			return malformed("section data out of bounds: " + logical)
		}
		obj.Sections[sec] = append([]byte(nil), data[h.offset:h.offset+h.size]...)
	}

	symtabIdx, ok := byName[".symtab"]
	if !ok {
		return malformed("missing .symtab")
	}
	symtabHdr := shdrs[symtabIdx]
	strtabIdx := int(symtabHdr.link)
	if strtabIdx >= shnum {
		return malformed(".symtab sh_link out of range")
	}
	strtabHdr := shdrs[strtabIdx]
	if int(strtabHdr.offset+strtabHdr.size) > len(data) {
		return malformed(".strtab out of bounds")
	}
	strtab := data[strtabHdr.offset : strtabHdr.offset+strtabHdr.size]

	const symEntSize = 24
	if symtabHdr.entsize != 0 && symtabHdr.entsize != symEntSize {
		return malformed("unexpected .symtab entsize")
	}
	if int(symtabHdr.offset+symtabHdr.size) > len(data) {
		return malformed(".symtab out of bounds")
	}
	numSyms := int(symtabHdr.size) / symEntSize
	symSecByIdx := make(map[uint16]Section, shnum)
	for logical, sec := range secByLogical {
		if i, ok := byName[logical]; ok {
			symSecByIdx[uint16(i)] = sec
		}
	}

	for i := 0; i < numSyms; i++ {
		s := data[int(symtabHdr.offset)+i*symEntSize:]
		nameOff := getU32(s[0:4])
		info := s[4]
		bind := Bind(info >> 4)
		typ := Type(info & 0xf)
		shndx := getU16(s[6:8])
		value := getU64(s[8:16])
		size := getU64(s[16:24])

		sym := Symbol{Value: value, Bind: bind, Type: typ, Size: size}
		if int(nameOff) < len(strtab) {
			sym.Name = cstr(strtab[nameOff:])
		}
		if shndx == 0 {
			sym.Section = SecUndef
			sym.Defined = false
		} else if sec, ok := symSecByIdx[shndx]; ok {
			sym.Section = sec
			sym.Defined = true
		} else {
			sym.Section = SecUndef
			sym.Defined = true // defined in a section this linker doesn't merge (e.g. debug)
		}
		obj.Symbols = append(obj.Symbols, sym)
	}

	for logical, sec := range secByLogical {
		relaIdx, ok := byName[".rela"+logical]
		if !ok {
			continue
		}
		h := shdrs[relaIdx]
		const relaEntSize = 24
		if int(h.offset+h.size) > len(data) {
			return malformed(".rela" + logical + " out of bounds")
		}
		n := int(h.size) / relaEntSize
		for i := 0; i < n; i++ {
			r := data[int(h.offset)+i*relaEntSize:]
			offset := getU64(r[0:8])
			info := getU64(r[8:16])
			addend := int64(getU64(r[16:24]))
			symIdx := int(info >> 32)
			typeCode := uint32(info & 0xffffffff)
			obj.Relocs[sec] = append(obj.Relocs[sec], Relocation{
				Offset: offset, SymIndex: symIdx, Type: elfRelocTypeFromCode(typeCode), Addend: addend,
			})
		}
	}

	return obj, nil
}
