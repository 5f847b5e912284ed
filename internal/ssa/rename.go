package ssa

import "github.com/tinyrange/rtgc/internal/ir"

// renamer carries the per-variable vreg stacks used throughout §4.2(d).
// canonical maps a pre-SSA canonical vreg (one of fn.Vars) to its source
// name and never changes once built; pushedName records which variable a
// freshly allocated vreg belongs to, so a block's own pushes can be undone
// without re-deriving them from the (already rewritten) instruction list.
type renamer struct {
	fn         *ir.Function
	stacks     map[string][]ir.VReg
	canonical  map[ir.VReg]string
	pushedName map[ir.VReg]string
	children   map[ir.BlockID][]ir.BlockID
}

// Rename implements §4.2(d). Must run after ComputeDominators,
// ComputeDominanceFrontiers, and InsertPhis.
func Rename(fn *ir.Function) {
	r := &renamer{
		fn:         fn,
		stacks:     make(map[string][]ir.VReg),
		canonical:  make(map[ir.VReg]string, len(fn.Vars)),
		pushedName: make(map[ir.VReg]string),
		children:   domChildren(fn),
	}
	for name, vi := range fn.Vars {
		r.canonical[vi.VReg] = name
	}

	fn.ParamVersions = make([]ir.VReg, len(fn.Params))
	for i, pname := range fn.Params {
		fresh := fn.NewVReg()
		r.push(pname, fresh)
		fn.ParamVersions[i] = fresh
	}

	r.renameBlock(fn.Entry)
}

// domChildren groups blocks by their Idom, giving the dominator tree's
// children lists for the rename DFS.
func domChildren(fn *ir.Function) map[ir.BlockID][]ir.BlockID {
	out := make(map[ir.BlockID][]ir.BlockID)
	for _, b := range fn.Blocks {
		if b.ID == fn.Entry || b.Idom == ir.NoBlock {
			continue
		}
		out[b.Idom] = append(out[b.Idom], b.ID)
	}
	return out
}

func (r *renamer) push(name string, v ir.VReg) {
	r.stacks[name] = append(r.stacks[name], v)
	r.pushedName[v] = name
}

func (r *renamer) top(name string) (ir.VReg, bool) {
	s := r.stacks[name]
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

func (r *renamer) pop(name string) {
	s := r.stacks[name]
	r.stacks[name] = s[:len(s)-1]
}

// renameBlock implements one DFS visit: phi destinations, then non-phi
// substitution, then filling this block's contribution to each successor's
// phis, then recursing on dominator-tree children, then undoing exactly the
// pushes made here.
func (r *renamer) renameBlock(id ir.BlockID) {
	b := r.fn.Block(id)
	var pushedHere []ir.VReg

	for i := range b.Insts {
		if b.Insts[i].Op != ir.OpPhi {
			break
		}
		v := r.fn.NewVReg()
		r.push(b.Insts[i].PhiVar, v)
		pushedHere = append(pushedHere, v)
		b.Insts[i].Dst = ir.VRegOperand(v, nil)
	}

	for i := range b.Insts {
		in := &b.Insts[i]
		if in.Op == ir.OpPhi {
			continue
		}

		if in.Src1.IsVReg() {
			if name, ok := r.canonical[in.Src1.VReg]; ok {
				if top, ok := r.top(name); ok {
					in.Src1 = ir.VRegOperand(top, in.Src1.Type)
				}
			}
		}
		if in.Op != ir.OpBranch && in.Src2.IsVReg() {
			if name, ok := r.canonical[in.Src2.VReg]; ok {
				if top, ok := r.top(name); ok {
					in.Src2 = ir.VRegOperand(top, in.Src2.Type)
				}
			}
		}

		if in.Dst.IsVReg() {
			if name, ok := r.canonical[in.Dst.VReg]; ok {
				fresh := r.fn.NewVReg()
				r.push(name, fresh)
				pushedHere = append(pushedHere, fresh)
				in.Dst = ir.VRegOperand(fresh, in.Dst.Type)
			}
		}
	}

	for _, s := range b.Succs {
		sb := r.fn.Block(s)
		predIdx := sb.PredIndex(id)
		if predIdx < 0 {
			continue
		}
		for i := range sb.Insts {
			if sb.Insts[i].Op != ir.OpPhi {
				break
			}
			phi := &sb.Insts[i]
			if top, ok := r.top(phi.PhiVar); ok {
				phi.PhiArgs[predIdx] = ir.VRegOperand(top, nil)
			} else {
				phi.PhiArgs[predIdx] = ir.IntOperand(0)
			}
		}
	}

	for _, c := range r.children[id] {
		r.renameBlock(c)
	}

	for i := len(pushedHere) - 1; i >= 0; i-- {
		r.pop(r.pushedName[pushedHere[i]])
	}
}
