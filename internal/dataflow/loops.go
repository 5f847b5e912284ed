package dataflow

import "github.com/tinyrange/rtgc/internal/ir"

// Loop is one natural loop: its header and every block in its body
// (including the header).
type Loop struct {
	Header ir.BlockID
	Body   map[ir.BlockID]bool
}

// ComputeLoops implements §4.3's loop detection. Requires Idom to already
// be populated (internal/ssa.ComputeDominators). A back edge is any edge
// b->h where h dominates b; its natural loop body is the header plus every
// block that can reach b without passing through h, found by reverse DFS
// from b over predecessor edges. Each block's LoopDepth counts how many
// loop bodies it belongs to; its LoopHeader is set to the innermost
// containing loop's header by applying loops largest-body-first, so a
// smaller (more deeply nested) loop's assignment is applied last and wins.
func ComputeLoops(fn *ir.Function) []*Loop {
	for _, b := range fn.Blocks {
		b.LoopDepth = 0
		b.LoopHeader = ir.NoBlock
	}

	var loops []*Loop
	for _, b := range fn.Blocks {
		for _, s := range b.Succs {
			if dominates(fn, s, b.ID) {
				loops = append(loops, naturalLoop(fn, s, b.ID))
			}
		}
	}

	for _, l := range loops {
		for id := range l.Body {
			fn.Block(id).LoopDepth++
		}
	}

	sorted := append([]*Loop(nil), loops...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && len(sorted[j].Body) > len(sorted[j-1].Body); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	for _, l := range sorted {
		for id := range l.Body {
			fn.Block(id).LoopHeader = l.Header
		}
	}

	return loops
}

// dominates reports whether h dominates b by walking b's idom chain.
func dominates(fn *ir.Function, h, b ir.BlockID) bool {
	cur := b
	for {
		if cur == h {
			return true
		}
		if cur == fn.Entry {
			return false
		}
		cur = fn.Block(cur).Idom
		if cur == ir.NoBlock {
			return false
		}
	}
}

// naturalLoop computes the natural loop body for back edge b->h.
func naturalLoop(fn *ir.Function, h, b ir.BlockID) *Loop {
	body := map[ir.BlockID]bool{h: true, b: true}
	stack := []ir.BlockID{b}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == h {
			continue
		}
		for _, p := range fn.Block(cur).Preds {
			if !body[p] {
				body[p] = true
				stack = append(stack, p)
			}
		}
	}
	return &Loop{Header: h, Body: body}
}
