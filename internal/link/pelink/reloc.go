package pelink

import (
	"math"

	"github.com/tinyrange/rtgc/internal/link"
	"github.com/tinyrange/rtgc/internal/objwriter"
	"github.com/tinyrange/rtgc/internal/rtgerr"
)

func (lay *layoutResult) sectionBase(sec link.Section) uint64 {
	switch sec {
	case link.SecText:
		return imageBase + lay.TextRVA
	case link.SecRodata:
		return imageBase + lay.RodataRVA
	case link.SecData:
		return imageBase + lay.DataRVA
	case link.SecBss:
		return imageBase + lay.BssRVA
	}
	return imageBase
}

// applyRelocations implements §4.9 Phase 7 for PE: IMAGE_REL_AMD64_ADDR64
// (S+ImageBase, 8 bytes), IMAGE_REL_AMD64_REL32 (S-(P+4), 4 bytes signed),
// and IMAGE_REL_AMD64_ADDR32NB (S as an RVA, 4 bytes unsigned).
func applyRelocations(l *link.Linker, lay *layoutResult) error {
	for sec, relocs := range l.Relocs {
		buf := l.Buffers[sec]
		base := lay.sectionBase(sec)
		for _, r := range relocs {
			sym := l.Syms.Get(r.SymIndex)
			if !sym.Defined {
				return &rtgerr.UndefinedSymbol{Name: sym.Name}
			}
			s := sym.Value
			switch r.Type {
			case objwriter.RelAbs64:
				v := uint64(int64(s) + r.Addend)
				for i := 0; i < 8; i++ {
					buf[r.Offset+uint64(i)] = byte(v >> (8 * i))
				}
			case objwriter.RelPC32:
				p := base + r.Offset
				v := int64(s) + r.Addend - int64(p)
				if v < math.MinInt32 || v > math.MaxInt32 {
					return &rtgerr.RelocOverflow{Symbol: sym.Name, Type: "IMAGE_REL_AMD64_REL32", Value: v}
				}
				put32(buf, r.Offset, uint32(int32(v)))
			case objwriter.RelAddr32NB:
				rva := int64(s) - int64(imageBase) + r.Addend
				if rva < 0 || rva > math.MaxUint32 {
					return &rtgerr.RelocOverflow{Symbol: sym.Name, Type: "IMAGE_REL_AMD64_ADDR32NB", Value: rva}
				}
				put32(buf, r.Offset, uint32(rva))
			default:
				return &rtgerr.UnsupportedReloc{Type: uint32(r.Type)}
			}
		}
	}
	return nil
}

func put32(buf []byte, off uint64, v uint32) {
	buf[off], buf[off+1], buf[off+2], buf[off+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
