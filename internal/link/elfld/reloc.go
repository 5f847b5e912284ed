package elfld

import (
	"math"

	"github.com/tinyrange/rtgc/internal/link"
	"github.com/tinyrange/rtgc/internal/objwriter"
	"github.com/tinyrange/rtgc/internal/rtgerr"
)

func (lay *layoutResult) sectionBase(sec link.Section) uint64 {
	switch sec {
	case link.SecText:
		return lay.TextBase
	case link.SecRodata:
		return lay.RodataBase
	case link.SecData:
		return lay.DataBase
	case link.SecBss:
		return lay.BssBase
	default:
		return 0
	}
}

// applyRelocations implements §4.9 Phase 7 for ELF: for each relocation,
// compute S (the resolved symbol value) + A (the addend) and, for PC-
// relative types, subtract P (the patch site's VA), then write the
// result into the merged section buffer at the recorded width,
// range-checking per the Phase 7 table.
func applyRelocations(l *link.Linker, lay *layoutResult) error {
	for sec, relocs := range l.Relocs {
		buf := l.Buffers[sec]
		base := lay.sectionBase(sec)
		for _, r := range relocs {
			sym := l.Syms.Get(r.SymIndex)
			if !sym.Defined {
				return &rtgerr.UndefinedSymbol{Name: sym.Name}
			}
			s := int64(sym.Value)
			a := r.Addend
			p := int64(base) + int64(r.Offset)

			if int(r.Offset) >= len(buf) {
				return &rtgerr.MalformedObject{Reason: "relocation offset out of section bounds"}
			}

			switch r.Type {
			case objwriter.RelAbs64:
				putU64le(buf[r.Offset:r.Offset+8], uint64(s+a))
			case objwriter.RelPC32:
				v := s + a - p
				if v < math.MinInt32 || v > math.MaxInt32 {
					return &rtgerr.RelocOverflow{Symbol: sym.Name, Type: "R_X86_64_PC32", Value: v}
				}
				putU32le(buf[r.Offset:r.Offset+4], uint32(int32(v)))
			case objwriter.RelAbs32:
				v := s + a
				if v < 0 || v > math.MaxUint32 {
					return &rtgerr.RelocOverflow{Symbol: sym.Name, Type: "R_X86_64_32", Value: v}
				}
				putU32le(buf[r.Offset:r.Offset+4], uint32(v))
			case objwriter.RelAbs32Signed:
				v := s + a
				if v < math.MinInt32 || v > math.MaxInt32 {
					return &rtgerr.RelocOverflow{Symbol: sym.Name, Type: "R_X86_64_32S", Value: v}
				}
				putU32le(buf[r.Offset:r.Offset+4], uint32(int32(v)))
			default:
				return &rtgerr.UnsupportedReloc{Type: uint32(r.Type)}
			}
		}
	}
	return nil
}
