package gvn

import (
	"testing"

	"github.com/tinyrange/rtgc/internal/ir"
)

// redundantAdd builds: v0=param; v1=param; v2=add v0,v1; v3=add v0,v1;
// return v3 — the second add is a redundant recomputation of the first.
func redundantAdd() *ir.Function {
	fn := ir.NewFunction("f")
	entry := fn.AddBlock("entry")
	fn.Entry = entry.ID

	v0 := fn.DeclareVar("a", nil, true)
	v1 := fn.DeclareVar("b", nil, true)
	fn.Params = []string{"a", "b"}
	fn.ParamVersions = []ir.VReg{v0, v1}

	v2, v3 := fn.NewVReg(), fn.NewVReg()
	entry.Append(ir.Instruction{Op: ir.OpAdd, Dst: ir.VRegOperand(v2, nil), Src1: ir.VRegOperand(v0, nil), Src2: ir.VRegOperand(v1, nil)})
	entry.Append(ir.Instruction{Op: ir.OpAdd, Dst: ir.VRegOperand(v3, nil), Src1: ir.VRegOperand(v0, nil), Src2: ir.VRegOperand(v1, nil)})
	entry.Append(ir.Instruction{Op: ir.OpReturn, Src1: ir.VRegOperand(v3, nil)})
	ir.BuildCFG(fn)
	return fn
}

func TestGVNEliminatesRedundantAdd(t *testing.T) {
	fn := redundantAdd()
	n := Run(fn)
	if n != 1 {
		t.Fatalf("expected 1 redundant expression eliminated, got %d", n)
	}

	entry := fn.Block(fn.Entry)
	second := entry.Insts[1]
	if second.Op != ir.OpCopy {
		t.Fatalf("expected the second add to become a copy, got %v", second.Op)
	}
}

func TestGVNDoesNotMergeDifferentImmediates(t *testing.T) {
	fn := ir.NewFunction("g")
	entry := fn.AddBlock("entry")
	fn.Entry = entry.ID
	v0 := fn.NewVReg()
	v1, v2 := fn.NewVReg(), fn.NewVReg()
	entry.Append(ir.Instruction{Op: ir.OpConst, Dst: ir.VRegOperand(v0, nil), Src1: ir.IntOperand(1)})
	entry.Append(ir.Instruction{Op: ir.OpAdd, Dst: ir.VRegOperand(v1, nil), Src1: ir.VRegOperand(v0, nil), Src2: ir.IntOperand(1)})
	entry.Append(ir.Instruction{Op: ir.OpAdd, Dst: ir.VRegOperand(v2, nil), Src1: ir.VRegOperand(v0, nil), Src2: ir.IntOperand(-1)})
	ir.BuildCFG(fn)

	n := Run(fn)
	if n != 0 {
		t.Fatalf("expected no merges across different immediates, got %d", n)
	}
}
