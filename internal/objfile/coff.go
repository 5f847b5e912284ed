package objfile

import (
	"github.com/tinyrange/rtgc/internal/objwriter"
	"github.com/tinyrange/rtgc/internal/rtgerr"
)

func coffRelocTypeFromCode(code uint16) RelocType {
	switch code {
	case 0x0001:
		return objwriter.RelAbs64
	case 0x0003:
		return objwriter.RelAddr32NB
	case 0x0004:
		return objwriter.RelPC32
	default:
		return objwriter.RelPC32
	}
}

// ParseCOFF decodes a COFF .obj written by internal/objwriter.WriteCOFF
// back into an Object. Section-defining symbols prepended for debug
// builds (storage class STATIC with one auxiliary record) are skipped —
// they exist only to anchor CodeView relocations the linker never merges
// — and every relocation's symbol-table index is remapped from the raw
// file index to this decoder's compacted Symbols index.
func ParseCOFF(name string, data []byte) (*Object, error) {
	malformed := func(reason string) (*Object, error) {
		return nil, &rtgerr.MalformedObject{File: name, Reason: reason}
	}
	const (
		fileHdrSize = 20
		secHdrSize  = 40
		symSize     = 18
		relSize     = 10
	)
	if len(data) < fileHdrSize {
		return malformed("file shorter than a COFF header")
	}
	machine := getU16(data[0:2])
	if machine != 0x8664 {
		return malformed("not IMAGE_FILE_MACHINE_AMD64")
	}
	numSecs := int(getU16(data[2:4]))
	symtabOff := int(getU32(data[8:12]))
	numSyms := int(getU32(data[12:16]))

	if fileHdrSize+numSecs*secHdrSize > len(data) {
		return malformed("truncated section header table")
	}

	type sec struct {
		name                                     string
		rawSize, rawPtr, relPtr                  uint32
		numRel                                   uint16
	}
	secs := make([]sec, numSecs)
	for i := 0; i < numSecs; i++ {
		h := data[fileHdrSize+i*secHdrSize:]
		secs[i] = sec{
			name:    cstr(h[0:8]),
			rawSize: getU32(h[16:20]),
			rawPtr:  getU32(h[20:24]),
			relPtr:  getU32(h[24:28]),
			numRel:  getU16(h[32:34]),
		}
	}

	if symtabOff+numSyms*symSize > len(data) {
		return malformed("truncated symbol table")
	}
	strtabOff := symtabOff + numSyms*symSize
	var strtab []byte
	if strtabOff+4 <= len(data) {
		strtabLen := int(getU32(data[strtabOff : strtabOff+4]))
		if strtabOff+strtabLen <= len(data) {
			strtab = data[strtabOff : strtabOff+strtabLen]
		}
	}
	lookupLongName := func(off uint32) string {
		if strtab == nil || int(off) >= len(strtab) {
			return ""
		}
		return cstr(strtab[off:])
	}

	obj := &Object{
		Name:     name,
		Sections: make(map[Section][]byte),
		Relocs:   make(map[Section][]Relocation),
	}

	secLogical := map[string]Section{
		".text": SecText, ".rdata": SecRodata, ".data": SecData, ".bss": SecBss,
	}
	secIndexToLogical := make(map[int]Section, numSecs)
	for i, s := range secs {
		if lsec, ok := secLogical[s.name]; ok {
			secIndexToLogical[i+1] = lsec // COFF section numbers are 1-based
			if s.name == ".bss" {
				obj.Sections[lsec] = make([]byte, s.rawSize)
				continue
			}
			if int(s.rawPtr+s.rawSize) > len(data) {
				return malformed("section data out of bounds: " + s.name)
			}
			obj.Sections[lsec] = append([]byte(nil), data[s.rawPtr:s.rawPtr+s.rawSize]...)
		}
	}

	fileToDecoded := make([]int, 0, numSyms)
	skipAux := 0
	for i := 0; i < numSyms; i++ {
		if skipAux > 0 {
			fileToDecoded = append(fileToDecoded, -1)
			skipAux--
			continue
		}
		rec := data[symtabOff+i*symSize:]
		var rawName string
		if getU32(rec[0:4]) == 0 {
			rawName = lookupLongName(getU32(rec[4:8]))
		} else {
			rawName = cstr(rec[0:8])
		}
		value := getU32(rec[8:12])
		secNum := getU16(rec[12:14])
		typ := getU16(rec[14:16])
		storageClass := rec[16]
		numAux := rec[17]

		if storageClass == 3 && numAux == 1 {
			// Section-defining debug-info symbol: skip it and its aux record.
			fileToDecoded = append(fileToDecoded, -1)
			skipAux = int(numAux)
			continue
		}

		sym := Symbol{Name: rawName, Value: uint64(value)}
		if typ == 0x20 {
			sym.Type = objwriter.TypeFunc
		}
		if storageClass == 3 {
			sym.Bind = objwriter.BindLocal
		} else {
			sym.Bind = objwriter.BindGlobal
		}
		if secNum == 0 {
			sym.Section = SecUndef
			sym.Defined = false
		} else if lsec, ok := secIndexToLogical[int(secNum)]; ok {
			sym.Section = lsec
			sym.Defined = true
		} else {
			sym.Section = SecUndef
			sym.Defined = true
		}

		fileToDecoded = append(fileToDecoded, len(obj.Symbols))
		obj.Symbols = append(obj.Symbols, sym)

		for a := 0; a < int(numAux); a++ {
			fileToDecoded = append(fileToDecoded, -1)
		}
		skipAux = 0
		i += int(numAux)
	}

	for i, s := range secs {
		lsec, ok := secIndexToLogical[i+1]
		if !ok || s.numRel == 0 {
			continue
		}
		if int(s.relPtr)+int(s.numRel)*relSize > len(data) {
			return malformed("truncated relocation table for " + s.name)
		}
		for j := 0; j < int(s.numRel); j++ {
			r := data[int(s.relPtr)+j*relSize:]
			offset := getU32(r[0:4])
			symIdx := int(getU32(r[4:8]))
			typeCode := getU16(r[8:10])
			decoded := -1
			if symIdx >= 0 && symIdx < len(fileToDecoded) {
				decoded = fileToDecoded[symIdx]
			}
			if decoded < 0 {
				return malformed("relocation references a non-mergeable symbol")
			}
			obj.Relocs[lsec] = append(obj.Relocs[lsec], Relocation{
				Offset: uint64(offset), SymIndex: decoded, Type: coffRelocTypeFromCode(typeCode),
			})
		}
	}

	return obj, nil
}
