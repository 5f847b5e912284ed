package elfld

import (
	"github.com/tinyrange/rtgc/internal/link"
)

// emit implements §4.9 Phase 8 for ELF: assemble the finished ET_EXEC
// image — header, program headers, the dynamic-link sections (if any),
// .text/.rodata/.data (.bss contributes no file bytes), .dynamic, and a
// trailing .symtab/.strtab/.shstrtab + section header table for
// inspectability, mirroring std/compiler/elf_x64.go's own inclusion of a
// section header table on top of its PT_LOAD segment.
func emit(l *link.Linker, lay *layoutResult, dyn *dynamicSection) []byte {
	type namedSec struct {
		name           string
		shType         uint32
		flags          uint64
		addr, off, sz  uint64
	}
	var secs []namedSec
	if dyn != nil {
		secs = append(secs,
			namedSec{".interp", 1, 0x2, lay.InterpBase, lay.InterpFileOff, lay.InterpSize},
			namedSec{".hash", 5, 0x2, lay.HashBase, lay.HashFileOff, lay.HashSize},
			namedSec{".dynsym", 11, 0x2, lay.DynsymBase, lay.DynsymFileOff, lay.DynsymSize},
			namedSec{".dynstr", 3, 0x2, lay.DynstrBase, lay.DynstrFileOff, lay.DynstrSize},
			namedSec{".rela.plt", 4, 0x2, lay.RelaPltBase, lay.RelaPltFileOff, lay.RelaPltSize},
		)
	}
	secs = append(secs,
		namedSec{".text", 1, 0x6, lay.TextBase, lay.TextFileOff, lay.TextSize},
		namedSec{".rodata", 1, 0x2, lay.RodataBase, lay.RodataFileOff, lay.RodataSize},
		namedSec{".data", 1, 0x3, lay.DataBase, lay.DataFileOff, lay.DataSize},
	)
	if dyn != nil {
		secs = append(secs, namedSec{".dynamic", 6, 0x3, lay.DynamicBase, lay.DynamicFileOff, lay.DynamicSize})
	}
	secs = append(secs, namedSec{".bss", 8, 0x3, lay.BssBase, 0, lay.BssSize})

	// .strtab + .symtab over the unified symbol table.
	strtab := []byte{0}
	strOff := make([]uint32, len(l.Syms.Syms))
	for i, s := range l.Syms.Syms {
		if s.Name == "" {
			continue
		}
		strOff[i] = uint32(len(strtab))
		strtab = append(strtab, []byte(s.Name)...)
		strtab = append(strtab, 0)
	}
	secNameToIdx := make(map[link.Section]uint16, 4)
	for i, s := range secs {
		switch s.name {
		case ".text":
			secNameToIdx[link.SecText] = uint16(i + 1)
		case ".rodata":
			secNameToIdx[link.SecRodata] = uint16(i + 1)
		case ".data":
			secNameToIdx[link.SecData] = uint16(i + 1)
		case ".bss":
			secNameToIdx[link.SecBss] = uint16(i + 1)
		}
	}
	const symEntSize = 24
	symtab := make([]byte, symEntSize)
	for i, s := range l.Syms.Syms {
		rec := make([]byte, symEntSize)
		putU32le(rec[0:4], strOff[i])
		bind := byte(0)
		if !s.Weak {
			bind = 1
		}
		typ := byte(0)
		if s.IsFunc {
			typ = 2
		}
		rec[4] = (bind << 4) | typ
		shndx := uint16(0)
		if s.Defined {
			shndx = secNameToIdx[s.Section]
		}
		rec[6], rec[7] = byte(shndx), byte(shndx>>8)
		putU64le(rec[8:16], s.Value)
		putU64le(rec[16:24], s.Size)
		symtab = append(symtab, rec...)
	}

	shstrtab := []byte{0}
	shNameOff := make([]uint32, len(secs))
	for i, s := range secs {
		shNameOff[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, []byte(s.name)...)
		shstrtab = append(shstrtab, 0)
	}
	symtabNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".symtab")...)
	shstrtab = append(shstrtab, 0)
	strtabNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".strtab")...)
	shstrtab = append(shstrtab, 0)
	shstrtabNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".shstrtab")...)
	shstrtab = append(shstrtab, 0)

	pos := lay.FileEnd
	symtabOff := pos
	pos += uint64(len(symtab))
	strtabOff := pos
	pos += uint64(len(strtab))
	shstrtabOff := pos
	pos += uint64(len(shstrtab))
	shoff := align(pos, 8)

	totalShdrs := len(secs) + 1 /*NULL*/ + 3 /*symtab,strtab,shstrtab*/
	fileLen := shoff + uint64(totalShdrs)*shdrSize
	buf := make([]byte, fileLen)

	// ELF header.
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4], buf[5], buf[6], buf[7] = 2, 1, 1, 0
	putU16le(buf[16:18], 2) // ET_EXEC
	putU16le(buf[18:20], 62) // EM_X86_64
	putU32le(buf[20:24], 1)
	putU64le(buf[24:32], lay.EntryVA)
	putU64le(buf[32:40], lay.PhdrOff)
	putU64le(buf[40:48], shoff)
	putU16le(buf[52:54], ehdrSize)
	putU16le(buf[54:56], phdrSize)
	putU16le(buf[56:58], uint16(lay.PhdrCount))
	putU16le(buf[58:60], shdrSize)
	putU16le(buf[60:62], uint16(totalShdrs))
	putU16le(buf[62:64], uint16(totalShdrs-1))

	// Program headers.
	writePhdr := func(i int, p_type, flags uint32, off, vaddr, filesz, memsz, align uint64) {
		h := buf[lay.PhdrOff+uint64(i)*phdrSize:]
		putU32le(h[0:4], p_type)
		putU32le(h[4:8], flags)
		putU64le(h[8:16], off)
		putU64le(h[16:24], vaddr)
		putU64le(h[24:32], vaddr)
		putU64le(h[32:40], filesz)
		putU64le(h[40:48], memsz)
		putU64le(h[48:56], align)
	}
	if dyn != nil {
		writePhdr(0, 3 /*PT_INTERP*/, 4, lay.InterpFileOff, lay.InterpBase, lay.InterpSize, lay.InterpSize, 1)
		// The R+X segment covers everything up through .rodata, which is
		// placed immediately after .text (layout.go) — ending the segment
		// at .text alone would leave .rodata unmapped at load time.
		rxEnd := lay.RodataFileOff + lay.RodataSize
		rxStart := uint64(0)
		writePhdr(1, 1 /*PT_LOAD*/, 5 /*R+X*/, rxStart, baseAddr+rxStart, rxEnd, rxEnd, pageAlign)
		rwStart := lay.DataFileOff
		rwFilesz := lay.DataSize
		rwMemsz := lay.BssBase + lay.BssSize - lay.DataBase
		writePhdr(2, 1, 6 /*R+W*/, rwStart, lay.DataBase, rwFilesz, rwMemsz, pageAlign)
		writePhdr(3, 2 /*PT_DYNAMIC*/, 6, lay.DynamicFileOff, lay.DynamicBase, lay.DynamicSize, lay.DynamicSize, 8)
	} else {
		// R+X segment: ELF header + program headers + .text + .rodata,
		// starting at file offset 0 so p_vaddr == baseAddr maps the whole
		// header region too (entry resolves to base+0xB0, where .text
		// begins right after the header + two program headers).
		rxEnd := lay.RodataFileOff + lay.RodataSize
		writePhdr(0, 1 /*PT_LOAD*/, 5 /*R+X*/, 0, baseAddr, rxEnd, rxEnd, pageAlign)
		// R+W segment: .data + .bss (.bss is memsz-only, per its NOBITS-
		// like treatment — no file bytes, just virtual growth).
		rwFilesz := lay.DataSize
		rwMemsz := lay.BssBase + lay.BssSize - lay.DataBase
		writePhdr(1, 1, 6 /*R+W*/, lay.DataFileOff, lay.DataBase, rwFilesz, rwMemsz, pageAlign)
	}

	// Section contents.
	copyAt := func(off uint64, data []byte) {
		copy(buf[off:], data)
	}
	if dyn != nil {
		copyAt(lay.InterpFileOff, append([]byte("/lib64/ld-linux-x86-64.so.2"), 0))
		copyAt(lay.HashFileOff, dyn.Hash)
		copyAt(lay.DynsymFileOff, dyn.Dynsym)
		copyAt(lay.DynstrFileOff, dyn.Dynstr)
		copyAt(lay.RelaPltFileOff, dyn.RelaPlt)
		copyAt(lay.DynamicFileOff, dyn.Dynamic)
	}
	copyAt(lay.TextFileOff, l.Buffers[link.SecText])
	copyAt(lay.RodataFileOff, l.Buffers[link.SecRodata])
	copyAt(lay.DataFileOff, l.Buffers[link.SecData])
	copyAt(symtabOff, symtab)
	copyAt(strtabOff, strtab)
	copyAt(shstrtabOff, shstrtab)

	// Section headers: NULL, then secs[], then .symtab/.strtab/.shstrtab.
	writeShdr := func(i int, nameOff, shType uint32, flags, addr, off, size uint64, link_, info uint32, entsize uint64) {
		h := buf[shoff+uint64(i)*shdrSize:]
		putU32le(h[0:4], nameOff)
		putU32le(h[4:8], shType)
		putU64le(h[8:16], flags)
		putU64le(h[16:24], addr)
		putU64le(h[24:32], off)
		putU64le(h[32:40], size)
		putU32le(h[40:44], link_)
		putU32le(h[44:48], info)
		putU64le(h[56:64], entsize)
	}
	symtabShIdx := uint32(len(secs) + 1)
	for i, s := range secs {
		writeShdr(i+1, shNameOff[i], s.shType, s.flags, s.addr, s.off, s.sz, 0, 0, 0)
	}
	writeShdr(len(secs)+1, symtabNameOff, 2, 0, 0, symtabOff, uint64(len(symtab)), symtabShIdx+1, 0, symEntSize)
	writeShdr(len(secs)+2, strtabNameOff, 3, 0, 0, strtabOff, uint64(len(strtab)), 0, 0, 1)
	writeShdr(len(secs)+3, shstrtabNameOff, 3, 0, 0, shstrtabOff, uint64(len(shstrtab)), 0, 0, 1)

	return buf
}

func putU16le(b []byte, v uint16) {
	b[0], b[1] = byte(v), byte(v>>8)
}
