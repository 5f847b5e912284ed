package sccp

import (
	"testing"

	"github.com/tinyrange/rtgc/internal/ir"
)

// straightLineConstFold builds: v0=const 2; v1=const 3; v2=add v0,v1; return v2.
func straightLineConstFold() *ir.Function {
	fn := ir.NewFunction("f")
	entry := fn.AddBlock("entry")
	fn.Entry = entry.ID

	v0, v1, v2 := fn.NewVReg(), fn.NewVReg(), fn.NewVReg()
	entry.Append(ir.Instruction{Op: ir.OpConst, Dst: ir.VRegOperand(v0, nil), Src1: ir.IntOperand(2)})
	entry.Append(ir.Instruction{Op: ir.OpConst, Dst: ir.VRegOperand(v1, nil), Src1: ir.IntOperand(3)})
	entry.Append(ir.Instruction{Op: ir.OpAdd, Dst: ir.VRegOperand(v2, nil), Src1: ir.VRegOperand(v0, nil), Src2: ir.VRegOperand(v1, nil)})
	entry.Append(ir.Instruction{Op: ir.OpReturn, Src1: ir.VRegOperand(v2, nil)})
	ir.BuildCFG(fn)
	return fn
}

func TestConstantFoldsArithmetic(t *testing.T) {
	fn := straightLineConstFold()
	folded, _ := Run(fn)
	if folded == 0 {
		t.Fatal("expected at least one instruction folded to a constant")
	}

	entry := fn.Block(fn.Entry)
	addInst := entry.Insts[2]
	if addInst.Op != ir.OpConst || addInst.Src1.ImmInt != 5 {
		t.Errorf("expected the add to fold to const 5, got op=%v val=%v", addInst.Op, addInst.Src1.ImmInt)
	}
}

// branchOnConst builds: v0=const 1; branch v0 -> then/else; then: return 1;
// else: return 2. Folding should turn the branch into a jump to then and
// drop else's predecessor.
func branchOnConst() (*ir.Function, ir.BlockID, ir.BlockID) {
	fn := ir.NewFunction("g")
	entry := fn.AddBlock("entry")
	fn.Entry = entry.ID
	thenB := fn.AddBlock("then")
	elseB := fn.AddBlock("else")

	v0 := fn.NewVReg()
	entry.Append(ir.Instruction{Op: ir.OpConst, Dst: ir.VRegOperand(v0, nil), Src1: ir.IntOperand(1)})
	entry.Append(ir.Instruction{Op: ir.OpBranch, Src1: ir.VRegOperand(v0, nil), Src2: ir.LabelOperand(thenB.ID), BrFalse: elseB.ID})
	thenB.Append(ir.Instruction{Op: ir.OpReturn, Src1: ir.IntOperand(1)})
	elseB.Append(ir.Instruction{Op: ir.OpReturn, Src1: ir.IntOperand(2)})
	ir.BuildCFG(fn)
	return fn, thenB.ID, elseB.ID
}

func TestBranchFoldingDropsDeadArm(t *testing.T) {
	fn, thenID, elseID := branchOnConst()
	_, folded := Run(fn)
	if folded != 1 {
		t.Fatalf("expected 1 branch folded, got %d", folded)
	}

	entry := fn.Block(fn.Entry)
	if entry.Terminator().Op != ir.OpJump {
		t.Fatalf("expected entry's terminator to become a jump, got %v", entry.Terminator().Op)
	}
	if len(entry.Succs) != 1 || entry.Succs[0] != thenID {
		t.Errorf("expected entry's only successor to be then, got %v", entry.Succs)
	}
	elseBlock := fn.Block(elseID)
	for _, p := range elseBlock.Preds {
		if p == fn.Entry {
			t.Error("else block should no longer list entry as a predecessor")
		}
	}
}

// branchWithPhiFixup builds v0=const 0; branch v0 -> merge/then; then:
// jump merge. The dead arm's target ("merge") carries a phi over its two
// predecessors (entry, then); folding the branch must shrink the phi's
// arg/pred arrays to match merge's surviving predecessor count.
func branchWithPhiFixup() (*ir.Function, ir.BlockID) {
	fn := ir.NewFunction("h")
	entry := fn.AddBlock("entry")
	fn.Entry = entry.ID
	thenB := fn.AddBlock("then")
	merge := fn.AddBlock("merge")

	v0 := fn.NewVReg()
	entry.Append(ir.Instruction{Op: ir.OpConst, Dst: ir.VRegOperand(v0, nil), Src1: ir.IntOperand(0)})
	entry.Append(ir.Instruction{Op: ir.OpBranch, Src1: ir.VRegOperand(v0, nil), Src2: ir.LabelOperand(merge.ID), BrFalse: thenB.ID})

	thenB.Append(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(merge.ID)})
	ir.BuildCFG(fn)

	phi := ir.NewPhi("x", merge.Preds)
	phi.PhiArgs[0] = ir.IntOperand(10)
	phi.PhiArgs[1] = ir.IntOperand(20)
	merge.Insts = append([]ir.Instruction{*phi}, merge.Insts...)
	merge.Append(ir.Instruction{Op: ir.OpReturn, Src1: phi.Dst})

	return fn, merge.ID
}

func TestBranchFoldingFixesUpDeadTargetPhi(t *testing.T) {
	fn, mergeID := branchWithPhiFixup()
	Run(fn)

	merge := fn.Block(mergeID)
	if len(merge.Preds) != 1 {
		t.Fatalf("expected merge to have 1 surviving predecessor, got %d", len(merge.Preds))
	}
	phis := merge.Phis()
	if len(phis) != 1 {
		t.Fatalf("expected exactly 1 phi at merge, got %d", len(phis))
	}
	if len(phis[0].PhiArgs) != 1 || len(phis[0].PhiPreds) != 1 {
		t.Errorf("expected phi arg/pred arrays shrunk to 1, got args=%d preds=%d",
			len(phis[0].PhiArgs), len(phis[0].PhiPreds))
	}
}
