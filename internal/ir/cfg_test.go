package ir

import "testing"

// buildDiamond constructs entry → (then, els) → merge, the shape §4.1
// specifies for if/else lowering, and returns the function before BuildCFG
// has been run.
func buildDiamond() *Function {
	f := NewFunction("g")
	entry := f.AddBlock("entry")
	then := f.AddBlock("then")
	els := f.AddBlock("else")
	merge := f.AddBlock("merge")

	cond := f.NewVReg()
	entry.Append(Instruction{Op: OpConst, Dst: VRegOperand(cond, nil), Src1: IntOperand(1)})
	entry.Append(Instruction{
		Op: OpBranch, Src1: VRegOperand(cond, nil),
		Src2: LabelOperand(then.ID), BrFalse: els.ID,
	})

	then.Append(Instruction{Op: OpJump, Src1: LabelOperand(merge.ID)})
	els.Append(Instruction{Op: OpJump, Src1: LabelOperand(merge.ID)})
	merge.Append(Instruction{Op: OpReturn})

	return f
}

func TestBuildCFGDiamond(t *testing.T) {
	f := buildDiamond()
	BuildCFG(f)

	tests := []struct {
		name          string
		id            BlockID
		wantPreds     []BlockID
		wantSuccs     []BlockID
	}{
		{"entry", 0, nil, []BlockID{1, 2}},
		{"then", 1, []BlockID{0}, []BlockID{3}},
		{"else", 2, []BlockID{0}, []BlockID{3}},
		{"merge", 3, []BlockID{1, 2}, nil},
	}
	for _, tc := range tests {
		b := f.Block(tc.id)
		if !equalIDs(b.Preds, tc.wantPreds) {
			t.Errorf("%s: preds = %v, want %v", tc.name, b.Preds, tc.wantPreds)
		}
		if !equalIDs(b.Succs, tc.wantSuccs) {
			t.Errorf("%s: succs = %v, want %v", tc.name, b.Succs, tc.wantSuccs)
		}
	}
}

func TestRemoveEdge(t *testing.T) {
	f := buildDiamond()
	BuildCFG(f)

	f.RemoveEdge(0, 2)
	entry, els := f.Block(0), f.Block(2)
	if equalIDs(entry.Succs, []BlockID{1, 2}) {
		t.Errorf("entry.Succs still contains the removed edge: %v", entry.Succs)
	}
	if len(els.Preds) != 0 {
		t.Errorf("else.Preds = %v, want empty after RemoveEdge", els.Preds)
	}
}

func equalIDs(a, b []BlockID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
