// Package archive implements the `ar`/.lib archive reader consumed by
// Phase 3 of both linkers (spec §4.9): the common member-header and
// symbol-index parsing shared by `internal/link/elfld` and
// `internal/link/pelink`. Grounded on
// other_examples/fd4d81bc_syncthing-syncthing__vendor-github.com-akavel-rsrc-coff-coff.go.go
// (the akavel/rsrc COFF reader vendored into syncthing) for the general
// shape of parsing a fixed-width binary header followed by a symbol
// table, re-cut here from single-object COFF parsing to the `ar`
// container format that wraps many members (ELF `.o`, COFF `.obj`, or,
// on PE, short import objects) plus a leading symbol-index member.
package archive

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/tinyrange/rtgc/internal/rtgerr"
)

// magic is the fixed 8-byte signature every `ar` archive (both the
// traditional Unix format and Microsoft's .lib, which is `ar` with a
// different symbol-index member layout) begins with.
const magic = "!<arch>\n"

const headerSize = 60

// Member is one archive member: its name, raw contents, and the byte
// offset of its header within the archive (used as a stable identity
// for "already loaded" tracking during iterative Phase 3 resolution).
type Member struct {
	Name   string
	Data   []byte
	Offset int
}

// Archive is a parsed `ar` container: all members in file order, plus a
// symbol-to-member index built from the leading special members
// (`/` for GNU/SysV ar, `/SYM64/` or the first linker member for COFF
// import libraries).
type Archive struct {
	Path    string
	Members []Member

	// symbolIndex maps an exported symbol name to the byte offset (within
	// the archive) of the header of the member that defines it, per the
	// ar "symbol table" member's {count, offsets[count], names} layout.
	symbolIndex map[string]int
	byOffset    map[int]*Member
}

// IsArchive reports whether data begins with the `ar` magic, letting a
// driver distinguish an archive from a bare relocatable object before
// choosing which parser to call.
func IsArchive(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}

// Parse reads an entire `ar`/.lib archive from data. It returns a
// MalformedObject error (wrapping rtgerr.ErrMalformedObject) if the
// magic is missing or a member header is truncated or unparsable.
func Parse(path string, data []byte) (*Archive, error) {
	if len(data) < len(magic) || string(data[:len(magic)]) != magic {
		return nil, &rtgerr.MalformedObject{File: path, Reason: "missing ar magic"}
	}

	a := &Archive{
		Path:        path,
		symbolIndex: make(map[string]int),
		byOffset:    make(map[int]*Member),
	}

	var longNames []byte
	pos := len(magic)
	for pos+headerSize <= len(data) {
		hdr := data[pos : pos+headerSize]
		nameField := strings.TrimRight(string(hdr[0:16]), " ")
		sizeField := strings.TrimSpace(string(hdr[48:58]))
		size, err := strconv.Atoi(sizeField)
		if err != nil || size < 0 {
			return nil, &rtgerr.MalformedObject{File: path, Reason: "bad member size field"}
		}

		memberOff := pos
		dataStart := pos + headerSize
		dataEnd := dataStart + size
		if dataEnd > len(data) {
			return nil, &rtgerr.MalformedObject{File: path, Reason: "truncated member data"}
		}
		body := data[dataStart:dataEnd]

		switch {
		case nameField == "/" || nameField == "":
			// GNU/SysV symbol-index member: uint32 count (big-endian) then
			// count uint32 offsets (big-endian), then count NUL-terminated
			// names.
			a.parseGNUSymbolIndex(body)
		case nameField == "/SYM64/":
			a.parseSym64Index(body)
		case nameField == "//":
			// GNU long-filename member: a blob of "name/\n"-terminated
			// strings referenced by later members via "/<offset>" names.
			longNames = body
		default:
			name := nameField
			if strings.HasPrefix(name, "/") {
				if off, err := strconv.Atoi(name[1:]); err == nil && longNames != nil {
					name = extractLongName(longNames, off)
				}
			}
			name = strings.TrimSuffix(name, "/")
			m := Member{Name: name, Data: body, Offset: memberOff}
			a.Members = append(a.Members, m)
			a.byOffset[memberOff] = &a.Members[len(a.Members)-1]
		}

		// Members are padded to an even byte boundary.
		advance := headerSize + size
		if size%2 != 0 {
			advance++
		}
		pos += advance
	}

	return a, nil
}

func extractLongName(blob []byte, off int) string {
	if off < 0 || off >= len(blob) {
		return ""
	}
	rest := blob[off:]
	if i := bytes.IndexByte(rest, '\n'); i >= 0 {
		return strings.TrimSuffix(string(rest[:i]), "/")
	}
	return strings.TrimSuffix(string(rest), "/")
}

func (a *Archive) parseGNUSymbolIndex(body []byte) {
	if len(body) < 4 {
		return
	}
	count := int(binary.BigEndian.Uint32(body[0:4]))
	offsets := make([]int, count)
	for i := 0; i < count; i++ {
		base := 4 + i*4
		if base+4 > len(body) {
			return
		}
		offsets[i] = int(binary.BigEndian.Uint32(body[base : base+4]))
	}
	names := body[4+count*4:]
	for i := 0; i < count; i++ {
		name, rest, ok := cutNUL(names)
		if !ok {
			return
		}
		a.symbolIndex[name] = offsets[i]
		names = rest
	}
}

// parseSym64Index handles the less common 64-bit symbol-index member
// (offsets are uint64, little-endian per Microsoft's SYM64 convention,
// used only for archives exceeding the 32-bit offset range).
func (a *Archive) parseSym64Index(body []byte) {
	if len(body) < 8 {
		return
	}
	count := int(binary.LittleEndian.Uint64(body[0:8]))
	offsets := make([]int, count)
	for i := 0; i < count; i++ {
		base := 8 + i*8
		if base+8 > len(body) {
			return
		}
		offsets[i] = int(binary.LittleEndian.Uint64(body[base : base+8]))
	}
	names := body[8+count*8:]
	for i := 0; i < count; i++ {
		name, rest, ok := cutNUL(names)
		if !ok {
			return
		}
		a.symbolIndex[name] = offsets[i]
		names = rest
	}
}

func cutNUL(b []byte) (string, []byte, bool) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, false
	}
	return string(b[:i]), b[i+1:], true
}

// Lookup returns the member defining name and whether it was found, per
// the archive's symbol index (built from the leading `/` or `/SYM64/`
// member during Parse).
func (a *Archive) Lookup(name string) (*Member, bool) {
	off, ok := a.symbolIndex[name]
	if !ok {
		return nil, false
	}
	m, ok := a.byOffset[off]
	return m, ok
}

// shortImportSig1/shortImportSig2 are the two uint16 fields (Sig1=0x0000, Sig2=0xFFFF)
// that mark a COFF member as a Windows "short import" object rather than
// a regular COFF .obj, per spec §4.9 Phase 3.
const (
	shortImportSig1 = 0x0000
	shortImportSig2 = 0xFFFF
)

// ShortImport describes one PE short import object member's fixed-size
// header and trailing string data (symbol name, then DLL name).
type ShortImport struct {
	Symbol  string
	DLL     string
	Ordinal uint16
	// ByOrdinal is set when Ordinal should resolve the import
	// instead of Symbol (IMPORT_OBJECT_ORDINAL in the low bits of
	// NameType, per the Microsoft short-import header).
	ByOrdinal bool
}

// IsShortImport reports whether member data begins with the short
// import object's signature pair.
func IsShortImport(data []byte) bool {
	if len(data) < 20 {
		return false
	}
	sig1 := binary.LittleEndian.Uint16(data[0:2])
	sig2 := binary.LittleEndian.Uint16(data[2:4])
	return sig1 == shortImportSig1 && sig2 == shortImportSig2
}

// ParseShortImport decodes a short import object's 20-byte header
// (Sig1, Sig2, Version, Machine, TimeDateStamp, SizeOfData, Ordinal/Hint,
// Type+NameType bitfield) followed by the NUL-terminated symbol name and
// DLL name, per the Microsoft PE/COFF short-import layout.
func ParseShortImport(data []byte) (*ShortImport, error) {
	if !IsShortImport(data) {
		return nil, &rtgerr.MalformedObject{Reason: "not a short import object"}
	}
	if len(data) < 20 {
		return nil, &rtgerr.MalformedObject{Reason: "truncated short import header"}
	}
	ordinalOrHint := binary.LittleEndian.Uint16(data[16:18])
	typeField := binary.LittleEndian.Uint16(data[18:20])
	nameType := (typeField >> 2) & 0x7

	rest := data[20:]
	symbol, rest, ok := cutNULStr(rest)
	if !ok {
		return nil, &rtgerr.MalformedObject{Reason: "missing symbol name in short import"}
	}
	dll, _, ok := cutNULStr(rest)
	if !ok {
		return nil, &rtgerr.MalformedObject{Reason: "missing DLL name in short import"}
	}

	const importObjectOrdinal = 0 // IMPORT_OBJECT_NAME enum: 0=ordinal, 1..3=name variants
	return &ShortImport{
		Symbol:    symbol,
		DLL:       dll,
		Ordinal:   ordinalOrHint,
		ByOrdinal: nameType == importObjectOrdinal,
	}, nil
}

func cutNULStr(b []byte) (string, []byte, bool) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, false
	}
	return string(b[:i]), b[i+1:], true
}
