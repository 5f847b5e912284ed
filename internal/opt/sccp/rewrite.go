package sccp

import "github.com/tinyrange/rtgc/internal/ir"

// rewrite implements §4.4's rewrite phase: every CONST vreg use (in a
// non-phi source or a phi argument) is replaced by its literal immediate;
// additionally, a non-phi instruction whose destination resolved to CONST
// and whose opcode is side-effect-free is replaced in place by a `const`
// of that value. Returns how many instructions were folded to constants.
func rewrite(fn *ir.Function, cells map[ir.VReg]Cell) int {
	folded := 0
	for _, b := range fn.Blocks {
		for i := range b.Insts {
			in := &b.Insts[i]

			if in.Op == ir.OpPhi {
				for a := range in.PhiArgs {
					replaceIfConst(&in.PhiArgs[a], cells)
				}
				continue
			}

			replaceIfConst(&in.Src1, cells)
			if in.Op != ir.OpBranch {
				replaceIfConst(&in.Src2, cells)
			}

			if in.Op == ir.OpConst || !in.Op.IsPure() {
				continue
			}
			dst, ok := in.Defines()
			if !ok {
				continue
			}
			if c, ok := cells[dst]; ok && c.State == Const {
				ty := in.Dst.Type
				*in = ir.Instruction{
					Op:   ir.OpConst,
					Dst:  ir.VRegOperand(dst, ty),
					Src1: ir.IntOperand(c.Value),
					Line: in.Line,
				}
				folded++
			}
		}
	}
	return folded
}

func replaceIfConst(op *ir.Operand, cells map[ir.VReg]Cell) {
	if !op.IsVReg() {
		return
	}
	if c, ok := cells[op.VReg]; ok && c.State == Const {
		*op = ir.IntOperand(c.Value)
	}
}
