package ssa

import "github.com/tinyrange/rtgc/internal/ir"

// InsertPhis implements §4.2(c): the standard iterated-dominance-frontier
// algorithm. A "canonical variable" is one of fn.Vars — the single vreg the
// IR builder threads every read and write of a source-level variable
// through (internal/irbuilder never reuses a non-canonical vreg across
// blocks, so those never need a phi). Must run after ComputeDominators and
// ComputeDominanceFrontiers.
func InsertPhis(fn *ir.Function) {
	for _, vi := range fn.Vars {
		definingBlocks := findDefiningBlocks(fn, vi.VReg)
		if vi.IsParam {
			// The entry block implicitly defines every parameter.
			if !containsBlock(definingBlocks, fn.Entry) {
				definingBlocks = append(definingBlocks, fn.Entry)
			}
		}
		if len(definingBlocks) == 0 {
			continue
		}

		hasPhi := make(map[ir.BlockID]bool)
		worklist := append([]ir.BlockID(nil), definingBlocks...)
		for len(worklist) > 0 {
			d := worklist[len(worklist)-1]
			worklist = worklist[:len(worklist)-1]
			for _, y := range fn.Block(d).DomFrontier {
				if hasPhi[y] {
					continue
				}
				yb := fn.Block(y)
				phi := ir.NewPhi(varNameOf(fn, vi.VReg), yb.Preds)
				yb.Insts = append([]ir.Instruction{*phi}, yb.Insts...)
				hasPhi[y] = true
				worklist = append(worklist, y)
			}
		}
	}
}

// findDefiningBlocks returns every block containing an instruction whose
// destination is vr.
func findDefiningBlocks(fn *ir.Function, vr ir.VReg) []ir.BlockID {
	var out []ir.BlockID
	for _, b := range fn.Blocks {
		for i := range b.Insts {
			if d, ok := b.Insts[i].Defines(); ok && d == vr {
				out = append(out, b.ID)
				break
			}
		}
	}
	return out
}

func varNameOf(fn *ir.Function, vr ir.VReg) string {
	for name, vi := range fn.Vars {
		if vi.VReg == vr {
			return name
		}
	}
	return ""
}
