// Package ssa converts a CFG-complete, pre-SSA internal/ir.Function into
// minimal SSA form: dominator tree, dominance frontiers, phi insertion, and
// variable renaming, per §4.2. Grounded on the dominator-tree-walk
// construction in other_examples' aclements-go-misc obj/internal/ssa/ssa.go
// (RPO numbering, two-finger idom intersection, iterated-DF phi placement,
// and a rename pass carrying one value stack per source variable),
// reshaped from that package's block-argument SSA form onto internal/ir's
// explicit phi instructions.
package ssa

import "github.com/tinyrange/rtgc/internal/ir"

// computeRPO performs a DFS from fn's entry block and returns blocks in
// reverse postorder, along with each reachable block's RPO index.
func computeRPO(fn *ir.Function) ([]ir.BlockID, map[ir.BlockID]int) {
	visited := make(map[ir.BlockID]bool, len(fn.Blocks))
	var post []ir.BlockID

	var visit func(id ir.BlockID)
	visit = func(id ir.BlockID) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, s := range fn.Block(id).Succs {
			visit(s)
		}
		post = append(post, id)
	}
	visit(fn.Entry)

	rpo := make([]ir.BlockID, len(post))
	index := make(map[ir.BlockID]int, len(post))
	for i := range post {
		rpo[i] = post[len(post)-1-i]
	}
	for i, id := range rpo {
		index[id] = i
	}
	return rpo, index
}

// ComputeDominators implements §4.2(a): iterative dominator-tree
// construction over the reverse-postorder block list, using the two-finger
// walk to intersect predecessor idoms by RPO index. Writes the result into
// each reachable block's Idom field; unreachable blocks keep Idom ==
// ir.NoBlock.
func ComputeDominators(fn *ir.Function) {
	rpo, index := computeRPO(fn)
	if len(rpo) == 0 {
		return
	}

	idom := make(map[ir.BlockID]ir.BlockID, len(rpo))
	idom[fn.Entry] = fn.Entry

	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == fn.Entry {
				continue
			}
			var newIdom ir.BlockID
			haveFirst := false
			for _, p := range fn.Block(b).Preds {
				if _, ok := idom[p]; !ok {
					continue
				}
				if !haveFirst {
					newIdom = p
					haveFirst = true
					continue
				}
				newIdom = intersect(newIdom, p, idom, index)
			}
			if !haveFirst {
				continue
			}
			if cur, ok := idom[b]; !ok || cur != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	for _, blk := range fn.Blocks {
		blk.Idom = ir.NoBlock
	}
	for id, d := range idom {
		if id == fn.Entry {
			fn.Block(id).Idom = ir.NoBlock
		} else {
			fn.Block(id).Idom = d
		}
	}
}

// intersect walks two blocks' idom chains upward in lockstep, comparing RPO
// indices, until they meet at their common dominator — the standard
// "two-finger" algorithm.
func intersect(a, b ir.BlockID, idom map[ir.BlockID]ir.BlockID, index map[ir.BlockID]int) ir.BlockID {
	for a != b {
		for index[a] > index[b] {
			a = idom[a]
		}
		for index[b] > index[a] {
			b = idom[b]
		}
	}
	return a
}

// ComputeDominanceFrontiers implements §4.2(b). Must run after
// ComputeDominators. For every join point (≥2 predecessors), each
// predecessor's idom chain is walked upward, adding the join point to every
// node visited strictly before reaching the join point's own idom.
func ComputeDominanceFrontiers(fn *ir.Function) {
	for _, blk := range fn.Blocks {
		blk.DomFrontier = nil
	}
	for _, b := range fn.Blocks {
		if len(b.Preds) < 2 {
			continue
		}
		for _, p := range b.Preds {
			runner := p
			for runner != ir.NoBlock && runner != fn.Block(b.ID).Idom {
				rb := fn.Block(runner)
				if !containsBlock(rb.DomFrontier, b.ID) {
					rb.DomFrontier = append(rb.DomFrontier, b.ID)
				}
				runner = rb.Idom
			}
		}
	}
}

func containsBlock(ids []ir.BlockID, id ir.BlockID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
