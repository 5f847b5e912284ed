package irbuilder

import (
	"github.com/tinyrange/rtgc/internal/ast"
	"github.com/tinyrange/rtgc/internal/ir"
)

// lowerCall lowers a call expression: each argument is lowered left to
// right, each immediately followed by its own `param` instruction (so
// argument evaluation order and parameter emission order match exactly,
// per §4.1), then a single `call` instruction names the callee and the
// argument count.
func (b *Builder) lowerCall(node *ast.Node) ir.Operand {
	callee := node.Children[0]
	args := node.Children[1:]

	for _, a := range args {
		v := b.lowerExpr(a)
		b.emit(ir.Instruction{Op: ir.OpParam, Src1: v, Line: node.Line})
	}

	dst := ir.None()
	if node.Type != nil && node.Type.Kind != ast.Void {
		dst = b.fresh(node.Type)
	}

	var fnOperand ir.Operand
	if callee.Kind == ast.Ident {
		fnOperand = ir.FuncRefOperand(callee.Name)
	} else {
		fnOperand = b.lowerExpr(callee)
	}

	b.emit(ir.Instruction{
		Op:   ir.OpCall,
		Dst:  dst,
		Src1: fnOperand,
		Src2: ir.IntOperand(int64(len(args))),
		Line: node.Line,
	})
	return dst
}
