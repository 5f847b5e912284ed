// Package licm implements loop-invariant code motion (§4.6): per-loop
// invariance detection, preheader synthesis, and hoisting. Grounded on the
// teacher's block-rewiring style in std/compiler/backend.go (redirecting a
// block's terminator targets when splicing new blocks into a control-flow
// graph), extended with the phi-rewriting preheader synthesis other_
// examples' aclements-go-misc ssa.go performs when inserting a block on an
// edge with existing phi users.
package licm

import (
	"github.com/tinyrange/rtgc/internal/dataflow"
	"github.com/tinyrange/rtgc/internal/ir"
)

// Run applies LICM to fn given its precomputed natural loops, processing
// innermost loops first (body size ascending — a loop nested inside
// another always has a body no larger than its enclosing loop's). Returns
// the number of instructions hoisted.
func Run(fn *ir.Function, loops []*dataflow.Loop) int {
	ordered := append([]*dataflow.Loop(nil), loops...)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && len(ordered[j].Body) < len(ordered[j-1].Body); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	moved := 0
	for _, loop := range ordered {
		invariant := computeInvariant(fn, loop)
		if len(invariant) == 0 {
			continue
		}
		preheader := obtainPreheader(fn, loop)
		moved += hoist(fn, loop, invariant, preheader)
	}
	return moved
}

// licmEligibleOp reports whether op may ever be hoisted: side-effect-free,
// non-terminator, non-phi, non-load, non-alloca (§4.6 step 1a). Address-
// only memory ops (addr-of, member, index-addr) compute a value without
// reading memory, so they're eligible; index and load themselves read
// memory and are excluded.
func licmEligibleOp(op ir.Opcode) bool {
	switch op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
		ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr,
		ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe,
		ir.OpNeg, ir.OpNot, ir.OpBitNot, ir.OpCast,
		ir.OpConst, ir.OpCopy, ir.OpAddrOf, ir.OpMember, ir.OpIndexAddr:
		return true
	default:
		return false
	}
}

// computeInvariant iterates §4.6 step 1 to a fixed point and returns the
// set of vregs defined by a loop-invariant instruction.
func computeInvariant(fn *ir.Function, loop *dataflow.Loop) map[ir.VReg]bool {
	invariant := make(map[ir.VReg]bool)
	changed := true
	for changed {
		changed = false
		for id := range loop.Body {
			b := fn.Block(id)
			for i := range b.Insts {
				in := &b.Insts[i]
				dst, ok := in.Defines()
				if !ok || invariant[dst] || !licmEligibleOp(in.Op) {
					continue
				}
				if operandInvariant(fn, loop, invariant, in.Src1) && operandInvariant(fn, loop, invariant, in.Src2) {
					invariant[dst] = true
					changed = true
				}
			}
		}
	}
	return invariant
}

func operandInvariant(fn *ir.Function, loop *dataflow.Loop, invariant map[ir.VReg]bool, op ir.Operand) bool {
	if !op.IsVReg() {
		return true
	}
	if invariant[op.VReg] {
		return true
	}
	return !definedInLoop(fn, loop, op.VReg)
}

func definedInLoop(fn *ir.Function, loop *dataflow.Loop, v ir.VReg) bool {
	for id := range loop.Body {
		for i := range fn.Block(id).Insts {
			if d, ok := fn.Block(id).Insts[i].Defines(); ok && d == v {
				return true
			}
		}
	}
	return false
}

// hoist moves every instruction whose destination is marked invariant out
// of its current block and into just before the preheader's terminator,
// in the relative order their owning blocks were created (a stable proxy
// for program order, since the IR builder creates blocks as it encounters
// them in source).
func hoist(fn *ir.Function, loop *dataflow.Loop, invariant map[ir.VReg]bool, preheader ir.BlockID) int {
	pre := fn.Block(preheader)
	var hoisted []ir.Instruction
	moved := 0

	for _, b := range fn.Blocks {
		if b.ID == preheader || !loop.Body[b.ID] {
			continue
		}
		var kept []ir.Instruction
		for _, in := range b.Insts {
			if d, ok := in.Defines(); ok && in.Op != ir.OpPhi && invariant[d] {
				hoisted = append(hoisted, in)
				moved++
				continue
			}
			kept = append(kept, in)
		}
		b.Insts = kept
	}

	insertAt := len(pre.Insts) - 1
	out := append([]ir.Instruction(nil), pre.Insts[:insertAt]...)
	out = append(out, hoisted...)
	out = append(out, pre.Insts[insertAt:]...)
	pre.Insts = out
	return moved
}
