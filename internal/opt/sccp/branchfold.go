package sccp

import "github.com/tinyrange/rtgc/internal/ir"

// foldBranches implements §4.4's branch folding: any branch whose condition
// resolved to CONST becomes a jump to the taken arm, and the dead arm loses
// b as a predecessor.
//
// SPEC_FULL.md §6 resolves the noted latent bug here (Design Notes: "SCCP
// branch folding does not currently fix up phi nodes in the dead target;
// ... An implementation should update those phis' pred arrays"): before
// detaching the dead edge, this records b's predecessor index in the dead
// target and removes that slot from every phi's PhiArgs/PhiPreds there, so
// a phi's argument count keeps matching its block's (now-shorter)
// predecessor count.
func foldBranches(fn *ir.Function, cells map[ir.VReg]Cell) int {
	folded := 0
	for _, b := range fn.Blocks {
		term := b.Terminator()
		if term.Op != ir.OpBranch {
			continue
		}

		c := cellOf(cells, term.Src1)
		if c.State != Const {
			continue
		}

		taken := term.BrFalse
		dead := term.Src2.Label
		if c.Value != 0 {
			taken, dead = term.Src2.Label, term.BrFalse
		}

		*term = ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(taken), Line: term.Line}

		deadBlock := fn.Block(dead)
		predIdx := deadBlock.PredIndex(b.ID)
		fn.RemoveEdge(b.ID, dead)
		if predIdx >= 0 {
			removePhiSlot(deadBlock, predIdx)
		}
		folded++
	}
	return folded
}

// removePhiSlot deletes index idx from PhiArgs and PhiPreds of every phi at
// the head of b, keeping both arrays aligned with b.Preds after a
// predecessor is dropped.
func removePhiSlot(b *ir.Block, idx int) {
	for _, phi := range b.Phis() {
		if idx >= len(phi.PhiArgs) {
			continue
		}
		phi.PhiArgs = append(phi.PhiArgs[:idx], phi.PhiArgs[idx+1:]...)
		phi.PhiPreds = append(phi.PhiPreds[:idx], phi.PhiPreds[idx+1:]...)
	}
}
