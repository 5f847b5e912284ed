package pelink

import (
	"github.com/tinyrange/rtgc/internal/link"
)

const (
	optHdrSize = 112 + 16*8 // PE32+ optional header + 16 data directories
)

// emit implements §4.9 Phase 8 for PE: DOS stub, "PE\0\0" signature, COFF
// file header, PE32+ optional header, section table, then section data —
// mirroring std/compiler/pe64.go's own header ordering, re-cut for a
// merged multi-object image with an optional import table.
func emit(l *link.Linker, lay *layoutResult, imp *importSection) []byte {
	hasImports := len(imp.funcs) > 0

	type namedSec struct {
		name                  string
		characteristics       uint32
		rva, fileOff, size    uint64
		rawSize               uint64
	}
	secs := []namedSec{
		{".text", 0x60000020, lay.TextRVA, lay.TextFileOff, lay.TextSize, lay.TextRawSize},
		{".rdata", 0x40000040, lay.RodataRVA, lay.RodataFileOff, lay.RodataSize, lay.RodataRawSize},
		{".data", 0xC0000040, lay.DataRVA, lay.DataFileOff, lay.DataSize, lay.DataRawSize},
		{".bss", 0xC0000080, lay.BssRVA, 0, lay.BssSize, 0},
	}

	peHdrOff := uint64(dosStubSize)
	coffHdrOff := peHdrOff + 4
	optHdrOff := coffHdrOff + 20
	secTableOff := optHdrOff + optHdrSize

	fileLen := lay.TextFileOff + lay.TextRawSize
	fileLen = maxU64(fileLen, lay.RodataFileOff+lay.RodataRawSize)
	fileLen = maxU64(fileLen, lay.DataFileOff+lay.DataRawSize)

	buf := make([]byte, fileLen)

	// DOS stub: "MZ" + e_lfanew pointing at the PE signature.
	buf[0], buf[1] = 'M', 'Z'
	putU32le(buf[0x3C:0x40], uint32(peHdrOff))

	// PE signature.
	buf[peHdrOff], buf[peHdrOff+1], buf[peHdrOff+2], buf[peHdrOff+3] = 'P', 'E', 0, 0

	// COFF file header.
	coff := buf[coffHdrOff:]
	putU16le(coff[0:2], 0x8664) // IMAGE_FILE_MACHINE_AMD64
	putU16le(coff[2:4], uint16(len(secs)))
	putU32le(coff[8:12], 0) // PointerToSymbolTable: no COFF symtab in the final image
	putU32le(coff[12:16], 0)
	putU16le(coff[16:18], uint16(optHdrSize))
	putU16le(coff[18:20], 0x0002|0x0020) // EXECUTABLE_IMAGE | LARGE_ADDRESS_AWARE

	// PE32+ optional header.
	opt := buf[optHdrOff:]
	putU16le(opt[0:2], 0x20b) // PE32+
	opt[2], opt[3] = 14, 0    // linker version
	putU32le(opt[4:8], uint32(lay.TextSize))
	putU32le(opt[8:12], uint32(lay.RodataSize+lay.DataSize))
	putU32le(opt[12:16], uint32(lay.BssSize))
	putU32le(opt[16:20], uint32(lay.EntryRVA))
	putU32le(opt[20:24], uint32(lay.TextRVA))
	putU64le(opt[24:32], imageBase)
	putU32le(opt[32:36], sectionAlign)
	putU32le(opt[36:40], fileAlign)
	putU16le(opt[40:42], 6) // MajorOSVersion
	putU16le(opt[42:44], 0)
	putU16le(opt[44:46], 0)
	putU16le(opt[46:48], 0)
	putU16le(opt[48:50], 6) // MajorSubsystemVersion
	putU16le(opt[50:52], 0)
	putU32le(opt[52:56], 0) // Win32VersionValue
	putU32le(opt[56:60], uint32(lay.SizeOfImage))
	putU32le(opt[60:64], uint32(lay.SizeOfHeaders))
	putU32le(opt[64:68], 0) // CheckSum
	putU16le(opt[68:70], 3) // IMAGE_SUBSYSTEM_WINDOWS_CUI
	putU16le(opt[70:72], 0x0140) // DYNAMIC_BASE | NX_COMPAT
	putU64le(opt[72:80], 0x100000) // SizeOfStackReserve
	putU64le(opt[80:88], 0x1000)   // SizeOfStackCommit
	putU64le(opt[88:96], 0x100000) // SizeOfHeapReserve
	putU64le(opt[96:104], 0x1000)  // SizeOfHeapCommit
	putU32le(opt[104:108], 0)      // LoaderFlags
	putU32le(opt[108:112], 16)     // NumberOfRvaAndSizes

	dataDirs := opt[112:]
	if hasImports {
		putU32le(dataDirs[8:12], uint32(lay.DirRVA))                  // Import Table directory
		putU32le(dataDirs[12:16], uint32(len(imp.Dir)))
		putU32le(dataDirs[96:100], uint32(lay.IATRVA)) // IAT directory (index 12)
		putU32le(dataDirs[100:104], uint32(len(imp.IAT)))
	}

	// Section table.
	for i, s := range secs {
		h := buf[secTableOff+uint64(i)*sectionHdrSize:]
		name := []byte(s.name)
		copy(h[0:8], name)
		putU32le(h[8:12], uint32(s.size))
		putU32le(h[12:16], uint32(s.rva))
		putU32le(h[16:20], uint32(s.rawSize))
		putU32le(h[20:24], uint32(s.fileOff))
		putU32le(h[36:40], s.characteristics)
	}

	// Section data.
	copy(buf[lay.TextFileOff:], l.Buffers[link.SecText])
	copy(buf[lay.RodataFileOff:], l.Buffers[link.SecRodata])
	copy(buf[lay.DataFileOff:], l.Buffers[link.SecData])

	return buf
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
