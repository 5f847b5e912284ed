package regalloc

import (
	"testing"

	"github.com/tinyrange/rtgc/internal/ir"
)

// straightLine builds: v0=param a; v1=param b; v2=add v0,v1; v3=mul v2,v2;
// return v3 — three live vregs, well under the 14-register budget.
func straightLine() *ir.Function {
	fn := ir.NewFunction("f")
	entry := fn.AddBlock("entry")
	fn.Entry = entry.ID

	v0 := fn.DeclareVar("a", nil, true)
	v1 := fn.DeclareVar("b", nil, true)
	fn.Params = []string{"a", "b"}
	fn.ParamVersions = []ir.VReg{v0, v1}

	v2, v3 := fn.NewVReg(), fn.NewVReg()
	entry.Append(ir.Instruction{Op: ir.OpAdd, Dst: ir.VRegOperand(v2, nil), Src1: ir.VRegOperand(v0, nil), Src2: ir.VRegOperand(v1, nil)})
	entry.Append(ir.Instruction{Op: ir.OpMul, Dst: ir.VRegOperand(v3, nil), Src1: ir.VRegOperand(v2, nil), Src2: ir.VRegOperand(v2, nil)})
	entry.Append(ir.Instruction{Op: ir.OpReturn, Src1: ir.VRegOperand(v3, nil)})
	ir.BuildCFG(fn)
	return fn
}

func TestAllocatesWithinBudgetNoSpills(t *testing.T) {
	fn := straightLine()
	a := New()
	spills := a.Run(fn)
	if spills != 0 {
		t.Fatalf("expected no spills for 4 live vregs, got %d", spills)
	}
	for v, assign := range fn.RegAlloc {
		if assign.IsSpill {
			t.Errorf("vreg %d unexpectedly spilled", v)
		}
		if int(assign.Reg) < 0 || int(assign.Reg) >= NumGPR {
			t.Errorf("vreg %d assigned out-of-range register %d", v, assign.Reg)
		}
	}
}

// manyLiveVregs builds NumGPR+3 simultaneously-live vregs (all read by a
// single trailing instruction) to force spilling.
func manyLiveVregs() (*ir.Function, []ir.VReg) {
	fn := ir.NewFunction("g")
	entry := fn.AddBlock("entry")
	fn.Entry = entry.ID

	n := NumGPR + 3
	vregs := make([]ir.VReg, n)
	for i := 0; i < n; i++ {
		v := fn.NewVReg()
		vregs[i] = v
		entry.Append(ir.Instruction{Op: ir.OpConst, Dst: ir.VRegOperand(v, nil), Src1: ir.IntOperand(int64(i))})
	}
	acc := vregs[0]
	for i := 1; i < n; i++ {
		next := fn.NewVReg()
		entry.Append(ir.Instruction{Op: ir.OpAdd, Dst: ir.VRegOperand(next, nil), Src1: ir.VRegOperand(acc, nil), Src2: ir.VRegOperand(vregs[i], nil)})
		acc = next
	}
	entry.Append(ir.Instruction{Op: ir.OpReturn, Src1: ir.VRegOperand(acc, nil)})
	ir.BuildCFG(fn)
	return fn, vregs
}

func TestSpillsWhenOverCapacity(t *testing.T) {
	fn, _ := manyLiveVregs()
	a := New()
	spills := a.Run(fn)
	if spills == 0 {
		t.Fatal("expected at least one spill with more live vregs than registers")
	}
	positions, order := linearize(fn)
	intervals := computeIntervals(fn, positions, order)
	for i, a := range intervals {
		for _, b := range intervals[i+1:] {
			ra, rb := fn.RegAlloc[a.VReg], fn.RegAlloc[b.VReg]
			if ra.IsSpill || rb.IsSpill || a.End < b.Start || b.End < a.Start {
				continue
			}
			if ra.Reg == rb.Reg {
				t.Errorf("register %d double-booked among simultaneously live vregs", ra.Reg)
			}
		}
	}
}

func TestPinExcludesRegisterFromPool(t *testing.T) {
	fn := straightLine()
	a := New()
	var pinned ir.VReg
	for _, v := range fn.ParamVersions {
		pinned = v
		break
	}
	a.Pin(pinned, 3)
	a.Run(fn)

	if fn.RegAlloc[pinned].Reg != 3 || fn.RegAlloc[pinned].IsSpill {
		t.Fatalf("expected pinned vreg to keep register 3, got %+v", fn.RegAlloc[pinned])
	}
	for v, assign := range fn.RegAlloc {
		if v == pinned {
			continue
		}
		if !assign.IsSpill && assign.Reg == 3 {
			t.Errorf("vreg %d was assigned register 3, which should be reserved for the pinned vreg", v)
		}
	}
}
