package ssa

import "github.com/tinyrange/rtgc/internal/ir"

// Construct runs all four steps of §4.2 over fn in order and marks it SSA.
// fn must already be CFG-complete (ir.BuildCFG has run).
func Construct(fn *ir.Function) {
	ComputeDominators(fn)
	ComputeDominanceFrontiers(fn)
	InsertPhis(fn)
	Rename(fn)
	fn.SSA = true
}
