// Package gvn implements global value numbering / common subexpression
// elimination (§4.5), scoped by a dominator-tree preorder walk so a cached
// expression always dominates its later, identical use. Grounded on the
// teacher's single-pass instruction rewrite style in std/compiler/ir.go,
// reshaped around a value-number table the way other_examples' aclements-
// go-misc ssa.go threads a vreg-keyed value map through its own passes.
package gvn

import "github.com/tinyrange/rtgc/internal/ir"

// operandKey identifies an operand's value identity for hashing: a vreg
// contributes its current value number, an immediate contributes its own
// bits directly. Keeping the two tagged separately (rather than packing
// both into one integer space) means a negative immediate can never be
// mistaken for a value number.
type operandKey struct {
	kind ir.OperandKind
	vn   int64
	imm  int64
	fimm float64
}

type exprKey struct {
	op   ir.Opcode
	src1 operandKey
	src2 operandKey
}

// Run processes fn's blocks in dominator-tree preorder, maintaining one
// value-number table for the whole function (children-first semantics, per
// §4.5), and returns the number of instructions rewritten to a copy of an
// earlier equivalent computation.
func Run(fn *ir.Function) int {
	vn := make(map[ir.VReg]int64, fn.NumVRegs())
	table := make(map[exprKey]ir.VReg)
	var next int64
	rewritten := 0

	fresh := func(v ir.VReg) {
		vn[v] = next
		next++
	}

	for _, id := range domPreorder(fn) {
		b := fn.Block(id)
		for i := range b.Insts {
			in := &b.Insts[i]
			dst, ok := in.Defines()
			if !ok {
				continue
			}

			switch {
			case in.Op == ir.OpCopy:
				if in.Src1.IsVReg() {
					if v, ok := vn[in.Src1.VReg]; ok {
						vn[dst] = v
						continue
					}
				}
				fresh(dst)

			case in.Op == ir.OpConst || in.Op == ir.OpPhi:
				fresh(dst)

			case in.Op.IsPure():
				key := exprKey{op: in.Op, src1: keyFor(in.Src1, vn), src2: keyFor(in.Src2, vn)}
				if producer, ok := table[key]; ok {
					*in = ir.Instruction{
						Op:   ir.OpCopy,
						Dst:  in.Dst,
						Src1: ir.VRegOperand(producer, in.Src1.Type),
						Line: in.Line,
					}
					vn[dst] = vn[producer]
					rewritten++
				} else {
					table[key] = dst
					fresh(dst)
				}

			default:
				fresh(dst)
			}
		}
	}
	return rewritten
}

func keyFor(op ir.Operand, vn map[ir.VReg]int64) operandKey {
	switch op.Kind {
	case ir.KindVReg:
		return operandKey{kind: ir.KindVReg, vn: vn[op.VReg]}
	case ir.KindImmInt:
		return operandKey{kind: ir.KindImmInt, imm: op.ImmInt}
	case ir.KindImmFloat:
		return operandKey{kind: ir.KindImmFloat, fimm: op.ImmFloat}
	default:
		return operandKey{kind: op.Kind}
	}
}

// domPreorder walks the dominator tree (built from each block's Idom field)
// from the entry block in preorder.
func domPreorder(fn *ir.Function) []ir.BlockID {
	children := make(map[ir.BlockID][]ir.BlockID)
	for _, b := range fn.Blocks {
		if b.ID == fn.Entry || b.Idom == ir.NoBlock {
			continue
		}
		children[b.Idom] = append(children[b.Idom], b.ID)
	}

	var order []ir.BlockID
	var visit func(id ir.BlockID)
	visit = func(id ir.BlockID) {
		order = append(order, id)
		for _, c := range children[id] {
			visit(c)
		}
	}
	visit(fn.Entry)
	return order
}
