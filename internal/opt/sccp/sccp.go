package sccp

import "github.com/tinyrange/rtgc/internal/ir"

// Run applies SCCP to fn in place: the lattice iteration, the rewrite
// phase, and branch folding, in that order. Returns the number of
// instructions folded to a constant and the number of branches resolved,
// for callers that want to iterate passes until a fixed point.
func Run(fn *ir.Function) (foldedConsts, foldedBranches int) {
	cells := iterate(fn)
	foldedConsts = rewrite(fn, cells)
	foldedBranches = foldBranches(fn, cells)
	return
}

// iterate runs §4.4's lattice fixed-point to convergence and returns the
// final per-vreg cells.
func iterate(fn *ir.Function) map[ir.VReg]Cell {
	cells := make(map[ir.VReg]Cell, fn.NumVRegs())
	for _, v := range fn.ParamVersions {
		cells[v] = Cell{State: Bottom}
	}

	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			for i := range b.Insts {
				in := &b.Insts[i]
				dst, ok := in.Defines()
				if !ok {
					continue
				}
				newCell := evalInst(in, cells)
				old, existed := cells[dst]
				if !existed {
					old = Cell{State: Top}
				}
				merged := meet(old, newCell)
				if merged != old {
					cells[dst] = merged
					changed = true
				}
			}
		}
	}
	return cells
}

// evalInst computes the lattice value an instruction's destination should
// take given the current cells, per §4.4's per-opcode rules.
func evalInst(in *ir.Instruction, cells map[ir.VReg]Cell) Cell {
	switch in.Op {
	case ir.OpConst:
		if in.Src1.Kind == ir.KindImmInt {
			return Cell{State: Const, Value: in.Src1.ImmInt}
		}
		return Cell{State: Bottom}
	case ir.OpCopy:
		return cellOf(cells, in.Src1)
	case ir.OpPhi:
		m := Cell{State: Top}
		for _, a := range in.PhiArgs {
			m = meet(m, cellOf(cells, a))
		}
		return m
	case ir.OpNeg, ir.OpNot, ir.OpBitNot:
		return evalUnary(in.Op, cellOf(cells, in.Src1))
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
		ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr,
		ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		return evalBinary(in.Op, cellOf(cells, in.Src1), cellOf(cells, in.Src2))
	default:
		return Cell{State: Bottom}
	}
}

func evalUnary(op ir.Opcode, a Cell) Cell {
	if a.State == Top {
		return Cell{State: Top}
	}
	if a.State == Bottom {
		return Cell{State: Bottom}
	}
	switch op {
	case ir.OpNeg:
		return Cell{State: Const, Value: -a.Value}
	case ir.OpNot:
		if a.Value == 0 {
			return Cell{State: Const, Value: 1}
		}
		return Cell{State: Const, Value: 0}
	case ir.OpBitNot:
		return Cell{State: Const, Value: ^a.Value}
	}
	return Cell{State: Bottom}
}

// evalBinary evaluates a binary op over two cells with wrapping signed
// 64-bit semantics (SPEC_FULL.md §6 resolves the open question on overflow
// this way — Go's native int64 arithmetic already wraps, so no explicit
// masking is needed beyond letting +, -, * run). Division and modulus by a
// zero constant produce no result: the destination stays at whatever the
// lattice already holds this iteration, unless either source is BOTTOM, in
// which case the destination is BOTTOM regardless.
func evalBinary(op ir.Opcode, a, b Cell) Cell {
	if a.State == Bottom || b.State == Bottom {
		return Cell{State: Bottom}
	}
	if a.State == Top || b.State == Top {
		return Cell{State: Top}
	}

	x, y := a.Value, b.Value
	switch op {
	case ir.OpAdd:
		return Cell{State: Const, Value: x + y}
	case ir.OpSub:
		return Cell{State: Const, Value: x - y}
	case ir.OpMul:
		return Cell{State: Const, Value: x * y}
	case ir.OpDiv:
		if y == 0 {
			return Cell{State: Top}
		}
		return Cell{State: Const, Value: x / y}
	case ir.OpMod:
		if y == 0 {
			return Cell{State: Top}
		}
		return Cell{State: Const, Value: x % y}
	case ir.OpAnd:
		return Cell{State: Const, Value: x & y}
	case ir.OpOr:
		return Cell{State: Const, Value: x | y}
	case ir.OpXor:
		return Cell{State: Const, Value: x ^ y}
	case ir.OpShl:
		return Cell{State: Const, Value: x << uint64(y&63)}
	case ir.OpShr:
		return Cell{State: Const, Value: x >> uint64(y&63)}
	case ir.OpEq:
		return boolCell(x == y)
	case ir.OpNe:
		return boolCell(x != y)
	case ir.OpLt:
		return boolCell(x < y)
	case ir.OpLe:
		return boolCell(x <= y)
	case ir.OpGt:
		return boolCell(x > y)
	case ir.OpGe:
		return boolCell(x >= y)
	}
	return Cell{State: Bottom}
}

func boolCell(v bool) Cell {
	if v {
		return Cell{State: Const, Value: 1}
	}
	return Cell{State: Const, Value: 0}
}
