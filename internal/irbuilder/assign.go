package irbuilder

import (
	"github.com/tinyrange/rtgc/internal/ast"
	"github.com/tinyrange/rtgc/internal/ir"
)

// lowerAssign lowers the RHS first, then dispatches on the LHS shape, per
// §4.1: identifier → copy to the canonical vreg; dereference → store;
// array access → index-addr + store; member access → member + store.
// Returns the assigned value, so assignment can be used as an expression.
func (b *Builder) lowerAssign(node *ast.Node) ir.Operand {
	lhs := node.Children[0]
	rhs := node.Children[1]
	val := b.lowerExpr(rhs)

	switch lhs.Kind {
	case ast.Ident:
		vi, ok := b.fn.Vars[lhs.Name]
		if !ok {
			vi = &ir.VarInfo{VReg: b.fn.DeclareVar(lhs.Name, toIRType(lhs.Type), false)}
		}
		b.emit(ir.Instruction{Op: ir.OpCopy, Dst: ir.VRegOperand(vi.VReg, vi.Type), Src1: val, Line: node.Line})
	case ast.Unary:
		if lhs.UnOp != ast.UnDeref {
			return val
		}
		ptr := b.lowerExpr(lhs.Children[0])
		b.emit(ir.Instruction{Op: ir.OpStore, Src1: ptr, Src2: val, Line: node.Line})
	case ast.Index:
		base := b.lowerExpr(lhs.Children[0])
		idx := b.lowerExpr(lhs.Children[1])
		addr := b.fresh(lhs.Type)
		b.emit(ir.Instruction{Op: ir.OpIndexAddr, Dst: addr, Src1: base, Src2: idx, Line: node.Line})
		b.emit(ir.Instruction{Op: ir.OpStore, Src1: addr, Src2: val, Line: node.Line})
	case ast.Member:
		base := b.lowerExpr(lhs.Children[0])
		addr := b.fresh(lhs.Type)
		b.emit(ir.Instruction{Op: ir.OpMember, Dst: addr, Src1: base, Src2: ir.VarOperand(lhs.Name), Line: node.Line})
		b.emit(ir.Instruction{Op: ir.OpStore, Src1: addr, Src2: val, Line: node.Line})
	}
	return val
}
