package licm

import (
	"github.com/tinyrange/rtgc/internal/dataflow"
	"github.com/tinyrange/rtgc/internal/ir"
)

// obtainPreheader implements §4.6 step 2: reuse an existing single outside
// predecessor whose only successor is the header, or synthesize a new one.
func obtainPreheader(fn *ir.Function, loop *dataflow.Loop) ir.BlockID {
	header := fn.Block(loop.Header)
	var outside []ir.BlockID
	for _, p := range header.Preds {
		if !loop.Body[p] {
			outside = append(outside, p)
		}
	}

	if len(outside) == 1 {
		cand := fn.Block(outside[0])
		if len(cand.Succs) == 1 && cand.Succs[0] == header.ID {
			return cand.ID
		}
	}

	return synthesizePreheader(fn, loop.Header, outside)
}

// synthesizePreheader creates a new block between header and its outside
// predecessors, redirects every outside predecessor's terminator to it,
// and rewrites header's phis so the slots previously carrying one value
// per outside predecessor collapse into a single slot naming the new
// preheader. When a header phi has more than one outside predecessor, the
// preheader gets its own phi merging those values first.
func synthesizePreheader(fn *ir.Function, headerID ir.BlockID, outside []ir.BlockID) ir.BlockID {
	header := fn.Block(headerID)
	pre := fn.AddBlock(header.Label + ".preheader")

	outsideSet := make(map[ir.BlockID]bool, len(outside))
	for _, o := range outside {
		outsideSet[o] = true
	}
	origPreds := append([]ir.BlockID(nil), header.Preds...)
	headerPhis := header.Phis()

	replacement := make([]ir.Operand, len(headerPhis))
	for pi, phi := range headerPhis {
		var args []ir.Operand
		for i, p := range origPreds {
			if outsideSet[p] {
				args = append(args, phi.PhiArgs[i])
			}
		}
		if len(args) == 1 {
			replacement[pi] = args[0]
			continue
		}
		newPhi := ir.NewPhi(phi.PhiVar, append([]ir.BlockID(nil), outside...))
		copy(newPhi.PhiArgs, args)
		dst := fn.NewVReg()
		newPhi.Dst = ir.VRegOperand(dst, nil)
		pre.Insts = append(pre.Insts, *newPhi)
		replacement[pi] = ir.VRegOperand(dst, nil)
	}

	newHeaderPreds := []ir.BlockID{pre.ID}
	for _, p := range origPreds {
		if !outsideSet[p] {
			newHeaderPreds = append(newHeaderPreds, p)
		}
	}

	for pi, phi := range headerPhis {
		newArgs := make([]ir.Operand, len(newHeaderPreds))
		newArgs[0] = replacement[pi]
		j := 1
		for i, p := range origPreds {
			if !outsideSet[p] {
				newArgs[j] = phi.PhiArgs[i]
				j++
			}
		}
		phi.PhiArgs = newArgs
		phi.PhiPreds = append([]ir.BlockID(nil), newHeaderPreds...)
	}

	for _, p := range outside {
		pb := fn.Block(p)
		redirectTerminator(pb, headerID, pre.ID)
		fn.RemoveEdge(p, headerID)
		fn.AddEdge(p, pre.ID)
	}
	fn.AddEdge(pre.ID, headerID)
	// AddEdge/RemoveEdge only append/filter in place, so header.Preds may
	// now be ordered arbitrarily; pin it to match the PhiPreds order just
	// assigned above (preheader first, then the unchanged in-loop preds).
	header.Preds = append([]ir.BlockID(nil), newHeaderPreds...)

	pre.Append(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(headerID)})

	return pre.ID
}

// redirectTerminator rewrites every target in b's terminator that names
// from to name to instead.
func redirectTerminator(b *ir.Block, from, to ir.BlockID) {
	term := b.Terminator()
	switch term.Op {
	case ir.OpJump:
		if term.Src1.Label == from {
			term.Src1 = ir.LabelOperand(to)
		}
	case ir.OpBranch:
		if term.Src2.Label == from {
			term.Src2 = ir.LabelOperand(to)
		}
		if term.BrFalse == from {
			term.BrFalse = to
		}
	case ir.OpSwitch:
		for i := range term.Cases {
			if term.Cases[i].Target == from {
				term.Cases[i].Target = to
			}
		}
		if term.Default == from {
			term.Default = to
		}
	}
}
