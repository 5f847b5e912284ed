package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/tinyrange/rtgc/internal/rtgerr"
)

func padHeader(name string, size int) []byte {
	h := make([]byte, headerSize)
	copy(h, []byte(name))
	for i := len(name); i < 16; i++ {
		h[i] = ' '
	}
	for i := 16; i < 48; i++ {
		h[i] = ' '
	}
	sizeStr := []byte(itoa(size))
	copy(h[48:], sizeStr)
	for i := 48 + len(sizeStr); i < 58; i++ {
		h[i] = ' '
	}
	h[58] = 0x60
	h[59] = 0x0A
	return h
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func appendMember(buf *bytes.Buffer, name string, data []byte) int {
	off := buf.Len()
	buf.Write(padHeader(name, len(data)))
	buf.Write(data)
	if len(data)%2 != 0 {
		buf.WriteByte('\n')
	}
	return off
}

func buildTestArchive(t *testing.T) ([]byte, int, int) {
	t.Helper()
	obj1 := bytes.Repeat([]byte{0x01}, 10)
	obj2 := bytes.Repeat([]byte{0x02}, 11) // odd length, exercises padding

	var body bytes.Buffer
	off1 := appendMember(&body, "one.o", obj1)
	off2 := appendMember(&body, "two.o", obj2)

	// GNU symbol index member: count, offsets[], NUL-terminated names.
	// Offsets are absolute file offsets of each member's header; the member
	// area starts after the magic, the index header and the 23-byte index
	// body padded to 24.
	memberArea := len(magic) + headerSize + 24
	var symBody bytes.Buffer
	countBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(countBuf, 2)
	symBody.Write(countBuf)
	o1 := make([]byte, 4)
	binary.BigEndian.PutUint32(o1, uint32(memberArea+off1))
	symBody.Write(o1)
	o2 := make([]byte, 4)
	binary.BigEndian.PutUint32(o2, uint32(memberArea+off2))
	symBody.Write(o2)
	symBody.WriteString("alpha\x00beta\x00")

	var full bytes.Buffer
	full.WriteString(magic)
	full.Write(padHeader("/", symBody.Len()))
	full.Write(symBody.Bytes())
	if symBody.Len()%2 != 0 {
		full.WriteByte('\n')
	}
	fullOff := full.Len()
	full.Write(body.Bytes())

	return full.Bytes(), fullOff + off1, fullOff + off2
}

func TestParseFindsMembersAndSymbolIndex(t *testing.T) {
	data, wantOff1, wantOff2 := buildTestArchive(t)
	a, err := Parse("test.a", data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(a.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(a.Members))
	}
	if a.Members[0].Name != "one.o" || a.Members[1].Name != "two.o" {
		t.Fatalf("unexpected member names: %q %q", a.Members[0].Name, a.Members[1].Name)
	}

	m, ok := a.Lookup("alpha")
	if !ok {
		t.Fatalf("expected to find symbol alpha")
	}
	if m.Offset != wantOff1 {
		t.Fatalf("alpha resolved to offset %d, want %d", m.Offset, wantOff1)
	}

	m2, ok := a.Lookup("beta")
	if !ok {
		t.Fatalf("expected to find symbol beta")
	}
	if m2.Offset != wantOff2 {
		t.Fatalf("beta resolved to offset %d, want %d", m2.Offset, wantOff2)
	}

	if _, ok := a.Lookup("gamma"); ok {
		t.Fatalf("did not expect to find symbol gamma")
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	_, err := Parse("bad.a", []byte("not an archive"))
	if err == nil {
		t.Fatalf("expected an error for missing magic")
	}
	if !errors.Is(err, rtgerr.ErrMalformedObject) {
		t.Fatalf("expected ErrMalformedObject, got %v", err)
	}
}

func TestParseRejectsTruncatedMember(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.Write(padHeader("x.o", 100))
	buf.Write([]byte{1, 2, 3}) // far short of the declared 100 bytes

	_, err := Parse("trunc.a", buf.Bytes())
	if !errors.Is(err, rtgerr.ErrMalformedObject) {
		t.Fatalf("expected ErrMalformedObject for truncated member, got %v", err)
	}
}

func TestIsShortImportAndParse(t *testing.T) {
	var buf bytes.Buffer
	hdr := make([]byte, 20)
	binary.LittleEndian.PutUint16(hdr[0:2], shortImportSig1)
	binary.LittleEndian.PutUint16(hdr[2:4], shortImportSig2)
	binary.LittleEndian.PutUint16(hdr[16:18], 42) // ordinal/hint
	binary.LittleEndian.PutUint16(hdr[18:20], 1<<2) // NameType = 1 (name, not ordinal)
	buf.Write(hdr)
	buf.WriteString("GetProcAddress\x00")
	buf.WriteString("kernel32.dll\x00")

	if !IsShortImport(buf.Bytes()) {
		t.Fatalf("expected IsShortImport to detect the signature")
	}

	si, err := ParseShortImport(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseShortImport: %v", err)
	}
	if si.Symbol != "GetProcAddress" || si.DLL != "kernel32.dll" {
		t.Fatalf("unexpected short import: %+v", si)
	}
	if si.ByOrdinal {
		t.Fatalf("expected ByOrdinal=false for a named import")
	}
}

func TestIsShortImportFalseForRegularObject(t *testing.T) {
	// A COFF .obj begins with IMAGE_FILE_MACHINE_AMD64 (0x8664), not the
	// 0x0000/0xFFFF short-import signature pair.
	data := []byte{0x64, 0x86, 0x01, 0x00}
	data = append(data, make([]byte, 16)...)
	if IsShortImport(data) {
		t.Fatalf("did not expect a regular COFF header to look like a short import")
	}
}
