package objwriter

// CodeView (.debug$S / .debug$T) emission per §4.8: the signature, the four
// fixed subsections of .debug$S (string table, file checksums, symbols,
// lines), and a minimal .debug$T type stream. Grounded on the CodeView
// layout prose in SPEC_FULL.md §6/spec.md §6 (subsection-header tuple
// {kind(4), length(4)}, packed records, 4-byte subsection padding) — no
// pack example repo emits CodeView, so this is built directly from the
// spec's field-level description rather than adapted from a teacher file.

const cvSignature = 0x00000004

const (
	cvSubStrTable     = 0xF3
	cvSubFileChksms   = 0xF4
	cvSubSymbols      = 0xF1
	cvSubLines        = 0xF2
)

const (
	symObjname  = 0x1101
	symCompile3 = 0x113C
	symGproc32  = 0x1110
	symFrameproc = 0x1012
	symRegrel32 = 0x1111
	symEnd      = 0x0006
)

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// subsection wraps data with its {kind, length} header and pads it to a
// 4-byte boundary, per §4.8.
func subsection(kind uint32, data []byte) []byte {
	out := make([]byte, 8)
	putU32(out[0:], kind)
	putU32(out[4:], uint32(len(data)))
	out = append(out, data...)
	return pad4(out)
}

// buildDebugS assembles the .debug$S section: signature, then the string
// table, file-checksum, symbols, and lines subsections in that fixed order.
func (w *Writer) buildDebugS() []byte {
	out := make([]byte, 4)
	putU32(out[0:], cvSignature)

	// String table subsection: empty string at offset 0, then the source
	// file path.
	strTab := []byte{0}
	fileNameOff := uint32(len(strTab))
	if w.SourceFile != "" {
		strTab = append(strTab, []byte(w.SourceFile)...)
	}
	strTab = append(strTab, 0)
	out = append(out, subsection(cvSubStrTable, strTab)...)

	// File-checksum subsection: one entry referencing the filename string,
	// zero-length checksum (no hash computed).
	chk := make([]byte, 6)
	putU32(chk[0:], fileNameOff)
	chk[4] = 0 // checksum length
	chk[5] = 0 // checksum kind: none
	chk = pad4(chk)
	out = append(out, subsection(cvSubFileChksms, chk)...)

	// Symbols subsection: S_OBJNAME, S_COMPILE3, then per function
	// S_GPROC32 + S_FRAMEPROC + S_REGREL32* + S_END.
	var syms []byte
	syms = append(syms, cvRecord(symObjname, func(b []byte) []byte {
		b = appendU32(b, 0) // signature
		b = append(b, []byte(w.SourceFile)...)
		return append(b, 0)
	})...)
	syms = append(syms, cvRecord(symCompile3, func(b []byte) []byte {
		b = appendU32(b, 0)  // flags
		b = appendU16(b, 0xD0) // machine: CV_CFL_X64
		b = appendU16(b, 0) // frontend major
		b = appendU16(b, 0)
		b = appendU16(b, 0)
		b = appendU16(b, 0) // backend major
		b = appendU16(b, 0)
		b = appendU16(b, 0)
		b = appendU16(b, 0)
		return append(b, []byte("rtgc")...)
	})...)

	for _, fn := range w.Funcs {
		syms = append(syms, cvRecord(symGproc32, func(b []byte) []byte {
			b = appendU32(b, 0) // pParent
			b = appendU32(b, 0) // pEnd
			b = appendU32(b, 0) // pNext
			b = appendU32(b, fn.Size)
			b = appendU32(b, 0) // debug start
			b = appendU32(b, fn.Size)
			b = appendU32(b, 0) // type index
			b = appendU32(b, fn.Offset) // .text offset as written; no SECREL32 relocation is emitted
			b = appendU16(b, 0)         // segment left 0; no SECTION relocation is emitted
			b = append(b, 0)            // flags
			return append(b, []byte(fn.Name)...)
		})...)
		syms = append(syms, cvRecord(symFrameproc, func(b []byte) []byte {
			b = appendU32(b, 0) // frame size
			b = appendU32(b, 0) // pad size
			b = appendU32(b, 0) // pad offset
			b = appendU32(b, 0) // callee save regs size
			b = appendU32(b, 0) // exception handler offset
			b = appendU16(b, 0) // exception handler section
			return appendU32(b, 0) // flags
		})...)
		for _, lv := range fn.Locals {
			syms = append(syms, cvRecord(symRegrel32, func(b []byte) []byte {
				b = appendU32(b, uint32(int32(lv.FrameOffset)))
				b = appendU32(b, lv.TypeIndex)
				b = appendU16(b, 334) // CV_AMD64_RBP-relative register id
				return append(b, []byte(lv.Name+"\x00")...)
			})...)
		}
		syms = append(syms, cvRecord(symEnd, func(b []byte) []byte { return b })...)
	}
	out = append(out, subsection(cvSubSymbols, syms)...)

	// Lines subsection: one block per function, address range + per-line
	// entries packed as 24-bit line number + 1-bit statement flag.
	var lines []byte
	for _, fn := range w.Funcs {
		entries := w.Lines[SecText]
		block := make([]byte, 12)
		putU32(block[0:], fn.Offset) // .text offset as written, not relocated
		putU16(block[4:], 0)         // section index left 0, not relocated
		putU16(block[6:], 0)         // flags
		putU32(block[8:], fn.Size)
		var blockEntries []byte
		for _, e := range entries {
			if e.Offset < fn.Offset || e.Offset >= fn.Offset+fn.Size {
				continue
			}
			rec := make([]byte, 8)
			putU32(rec[0:], e.Offset-fn.Offset)
			putU32(rec[4:], (e.Line&0x00FFFFFF)|0x80000000) // statement flag set
			blockEntries = append(blockEntries, rec...)
		}
		block = append(block, blockEntries...)
		lines = append(lines, block...)
	}
	if len(lines) > 0 {
		out = append(out, subsection(cvSubLines, lines)...)
	}

	return out
}

// cvRecord wraps one CodeView symbol record with its {length(2), kind(2)}
// header (the length covers kind+body, per CodeView convention) and pads
// the body to a 2-byte boundary as CodeView symbol records require.
func cvRecord(kind uint16, build func([]byte) []byte) []byte {
	body := build(nil)
	for len(body)%2 != 0 {
		body = append(body, 0)
	}
	rec := make([]byte, 4)
	putU16(rec[2:], kind)
	rec = append(rec, body...)
	putU16(rec[0:], uint16(len(rec)-2))
	return rec
}

// buildDebugT assembles a minimal .debug$T type stream: just the
// CodeView signature and no user-defined types, since this spec's IR
// carries no struct/array type descriptions the writer would need to
// encode as LF_STRUCTURE/LF_ARRAY records — functions reference type
// index 0 (T_NOTYPE) in their S_GPROC32/S_REGREL32 records above.
func (w *Writer) buildDebugT() []byte {
	out := make([]byte, 4)
	putU32(out[0:], cvSignature)
	return out
}
