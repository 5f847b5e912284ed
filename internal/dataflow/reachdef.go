package dataflow

import (
	"github.com/tinyrange/rtgc/internal/bitset"
	"github.com/tinyrange/rtgc/internal/ir"
)

// DefID identifies one definition — one instruction instance that writes a
// vreg — in program order across a whole function. Reaching definitions,
// unlike liveness, must distinguish multiple definitions of the same vreg
// (routine pre-SSA, and still possible post-SSA at a vreg that's reused by
// a later pass), so its domain is definitions, not vregs.
type DefID int

// DefLoc locates one definition.
type DefLoc struct {
	Block ir.BlockID
	Inst  int
	VReg  ir.VReg
}

// ReachingDefs holds the gen/kill sets and the converged reach_in/reach_out
// sets of §4.3's reaching-definitions analysis, each a bitset over DefID.
type ReachingDefs struct {
	Defs     []DefLoc
	Gen      map[ir.BlockID]*bitset.Set
	Kill     map[ir.BlockID]*bitset.Set
	ReachIn  map[ir.BlockID]*bitset.Set
	ReachOut map[ir.BlockID]*bitset.Set
}

// ComputeReachingDefs runs §4.3's forward fixed-point reaching-definitions
// analysis: gen[b] holds, for each vreg defined in b, only the last such
// definition in the block; kill[b] holds every other definition (in any
// block) of a vreg b also defines.
func ComputeReachingDefs(fn *ir.Function) *ReachingDefs {
	r := &ReachingDefs{
		Gen:      make(map[ir.BlockID]*bitset.Set),
		Kill:     make(map[ir.BlockID]*bitset.Set),
		ReachIn:  make(map[ir.BlockID]*bitset.Set),
		ReachOut: make(map[ir.BlockID]*bitset.Set),
	}

	defsByVReg := make(map[ir.VReg][]DefID)
	lastInBlock := make(map[ir.BlockID]map[ir.VReg]DefID, len(fn.Blocks))
	for _, b := range fn.Blocks {
		lastInBlock[b.ID] = make(map[ir.VReg]DefID)
		for i := range b.Insts {
			if d, ok := b.Insts[i].Defines(); ok {
				id := DefID(len(r.Defs))
				r.Defs = append(r.Defs, DefLoc{Block: b.ID, Inst: i, VReg: d})
				defsByVReg[d] = append(defsByVReg[d], id)
				lastInBlock[b.ID][d] = id
			}
		}
	}

	n := len(r.Defs)
	for _, b := range fn.Blocks {
		gen := bitset.New(n)
		kill := bitset.New(n)
		for v, lastID := range lastInBlock[b.ID] {
			gen.Set(int(lastID))
			for _, id := range defsByVReg[v] {
				if id != lastID {
					kill.Set(int(id))
				}
			}
		}
		r.Gen[b.ID] = gen
		r.Kill[b.ID] = kill
		r.ReachIn[b.ID] = bitset.New(n)
		r.ReachOut[b.ID] = bitset.New(n)
	}

	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			in := bitset.New(n)
			for _, p := range b.Preds {
				in.Or(r.ReachOut[p])
			}
			out := in.Clone()
			out.AndNot(r.Kill[b.ID])
			out.Or(r.Gen[b.ID])

			if !in.Equal(r.ReachIn[b.ID]) {
				r.ReachIn[b.ID] = in
				changed = true
			}
			if !out.Equal(r.ReachOut[b.ID]) {
				r.ReachOut[b.ID] = out
				changed = true
			}
		}
	}

	return r
}
