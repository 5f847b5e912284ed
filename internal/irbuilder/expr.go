package irbuilder

import (
	"github.com/tinyrange/rtgc/internal/ast"
	"github.com/tinyrange/rtgc/internal/ir"
)

// lowerExpr lowers an expression node and returns the operand holding its
// result, per §4.1's "Expression lowering" rules.
func (b *Builder) lowerExpr(node *ast.Node) ir.Operand {
	switch node.Kind {
	case ast.IntLit:
		dst := b.fresh(node.Type)
		b.emit(ir.Instruction{Op: ir.OpConst, Dst: dst, Src1: ir.IntOperand(node.IntVal), Line: node.Line})
		return dst
	case ast.FloatLit:
		dst := b.fresh(node.Type)
		b.emit(ir.Instruction{Op: ir.OpConst, Dst: dst, Src1: ir.FloatOperand(node.FloatVal), Line: node.Line})
		return dst
	case ast.StringLit:
		id := b.prog.Strings.Intern(node.StringVal)
		dst := b.fresh(node.Type)
		b.emit(ir.Instruction{Op: ir.OpConst, Dst: dst, Src1: ir.StrOperand(node.StringVal), Line: node.Line})
		_ = id
		return dst
	case ast.Ident:
		// Each use gets its own fresh temp (a copy of the canonical vreg),
		// which keeps every use syntactically distinct before SSA renaming
		// — the builder need not reason about reaching definitions itself.
		vi, ok := b.fn.Vars[node.Name]
		if !ok {
			return ir.None()
		}
		dst := b.fresh(node.Type)
		b.emit(ir.Instruction{Op: ir.OpCopy, Dst: dst, Src1: ir.VRegOperand(vi.VReg, vi.Type), Line: node.Line})
		return dst
	case ast.Binary:
		return b.lowerBinary(node)
	case ast.Unary:
		return b.lowerUnary(node)
	case ast.Cast:
		src := b.lowerExpr(node.Children[0])
		dst := b.fresh(node.Type)
		b.emit(ir.Instruction{Op: ir.OpCast, Dst: dst, Src1: src, Line: node.Line})
		return dst
	case ast.Index:
		base := b.lowerExpr(node.Children[0])
		idx := b.lowerExpr(node.Children[1])
		dst := b.fresh(node.Type)
		b.emit(ir.Instruction{Op: ir.OpIndex, Dst: dst, Src1: base, Src2: idx, Line: node.Line})
		return dst
	case ast.Member:
		// member always yields an address (symmetric with index/index-addr:
		// index loads, index-addr only computes the address); reading a
		// field therefore takes a member + load, mirroring §4.1's
		// assignment rule "member access (emit member + store)".
		base := b.lowerExpr(node.Children[0])
		addr := b.fresh(node.Type)
		b.emit(ir.Instruction{Op: ir.OpMember, Dst: addr, Src1: base, Src2: ir.VarOperand(node.Name), Line: node.Line})
		dst := b.fresh(node.Type)
		b.emit(ir.Instruction{Op: ir.OpLoad, Dst: dst, Src1: addr, Line: node.Line})
		return dst
	case ast.Call:
		return b.lowerCall(node)
	case ast.Assign:
		return b.lowerAssign(node)
	default:
		return ir.None()
	}
}

// fresh allocates a new temp vreg typed ty.
func (b *Builder) fresh(ty *ast.Type) ir.Operand {
	v := b.fn.NewVReg()
	return ir.VRegOperand(v, toIRType(ty))
}

// lowerBinary lowers a binary expression. Arithmetic/comparison operators
// lower directly; && and || are lowered to explicit CFG (§4.1): a fresh rhs
// block and merge block, a conditional branch on the LHS that short-
// circuits to merge with the appropriate constant, and a two-argument phi
// at merge combining the short-circuit constant with the (boolean-
// normalized) RHS value.
func (b *Builder) lowerBinary(node *ast.Node) ir.Operand {
	switch node.BinOp {
	case ast.OpLAnd:
		return b.lowerShortCircuit(node, true)
	case ast.OpLOr:
		return b.lowerShortCircuit(node, false)
	}

	lhs := b.lowerExpr(node.Children[0])
	rhs := b.lowerExpr(node.Children[1])
	dst := b.fresh(node.Type)
	op := binOpcode(node.BinOp)
	b.emit(ir.Instruction{Op: op, Dst: dst, Src1: lhs, Src2: rhs, Line: node.Line})
	return dst
}

func binOpcode(op ast.BinOp) ir.Opcode {
	switch op {
	case ast.OpAdd:
		return ir.OpAdd
	case ast.OpSub:
		return ir.OpSub
	case ast.OpMul:
		return ir.OpMul
	case ast.OpDiv:
		return ir.OpDiv
	case ast.OpMod:
		return ir.OpMod
	case ast.OpBitAnd:
		return ir.OpAnd
	case ast.OpBitOr:
		return ir.OpOr
	case ast.OpBitXor:
		return ir.OpXor
	case ast.OpShl:
		return ir.OpShl
	case ast.OpShr:
		return ir.OpShr
	case ast.OpEq:
		return ir.OpEq
	case ast.OpNe:
		return ir.OpNe
	case ast.OpLt:
		return ir.OpLt
	case ast.OpLe:
		return ir.OpLe
	case ast.OpGt:
		return ir.OpGt
	case ast.OpGe:
		return ir.OpGe
	default:
		return ir.OpNop
	}
}

// lowerShortCircuit implements the && (isAnd=true) / || (isAnd=false)
// CFG lowering from §4.1.
func (b *Builder) lowerShortCircuit(node *ast.Node, isAnd bool) ir.Operand {
	rhsBlock := b.newBlock("scrhs")
	mergeBlock := b.newBlock("scmerge")

	lhs := b.lowerExpr(node.Children[0])
	entryBlock := b.cur

	// && short-circuits to merge-with-false when LHS is false;
	// || short-circuits to merge-with-true when LHS is true.
	if isAnd {
		b.emit(ir.Instruction{Op: ir.OpBranch, Src1: lhs, Src2: ir.LabelOperand(rhsBlock.ID), BrFalse: mergeBlock.ID})
	} else {
		b.emit(ir.Instruction{Op: ir.OpBranch, Src1: lhs, Src2: ir.LabelOperand(mergeBlock.ID), BrFalse: rhsBlock.ID})
	}

	b.cur = rhsBlock
	rhs := b.lowerExpr(node.Children[1])
	// Normalize the RHS to 0/1 by comparing with 0, per §4.1.
	rhsBool := b.fresh(node.Type)
	b.emit(ir.Instruction{Op: ir.OpNe, Dst: rhsBool, Src1: rhs, Src2: ir.IntOperand(0), Line: node.Line})
	rhsExit := b.cur
	b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(mergeBlock.ID)})

	b.cur = mergeBlock
	shortVal := int64(0)
	if !isAnd {
		shortVal = 1
	}
	phi := ir.NewPhi("", []ir.BlockID{entryBlock.ID, rhsExit.ID})
	result := b.fresh(node.Type)
	phi.Dst = result
	phi.PhiArgs[0] = ir.IntOperand(shortVal)
	phi.PhiArgs[1] = rhsBool
	b.cur.Append(*phi)
	return result
}

// lowerUnary lowers unary and pre/post increment/decrement expressions.
func (b *Builder) lowerUnary(node *ast.Node) ir.Operand {
	switch node.UnOp {
	case ast.UnNeg, ast.UnNot, ast.UnBitNot:
		src := b.lowerExpr(node.Children[0])
		dst := b.fresh(node.Type)
		op := ir.OpNeg
		if node.UnOp == ast.UnNot {
			op = ir.OpNot
		} else if node.UnOp == ast.UnBitNot {
			op = ir.OpBitNot
		}
		b.emit(ir.Instruction{Op: op, Dst: dst, Src1: src, Line: node.Line})
		return dst
	case ast.UnAddr:
		operand := b.lowerExpr(node.Children[0])
		dst := b.fresh(node.Type)
		b.emit(ir.Instruction{Op: ir.OpAddrOf, Dst: dst, Src1: operand, Line: node.Line})
		return dst
	case ast.UnDeref:
		ptr := b.lowerExpr(node.Children[0])
		dst := b.fresh(node.Type)
		b.emit(ir.Instruction{Op: ir.OpLoad, Dst: dst, Src1: ptr, Line: node.Line})
		return dst
	case ast.UnPreInc, ast.UnPreDec, ast.UnPostInc, ast.UnPostDec:
		return b.lowerIncDec(node)
	default:
		return ir.None()
	}
}

// lowerIncDec lowers pre/post increment/decrement. It produces the old or
// new value per the operator, and, when the operand is a simple
// identifier, also writes the updated value back to the canonical vreg
// (§4.1).
func (b *Builder) lowerIncDec(node *ast.Node) ir.Operand {
	target := node.Children[0]
	old := b.lowerExpr(target)
	delta := int64(1)
	if node.UnOp == ast.UnPreDec || node.UnOp == ast.UnPostDec {
		delta = -1
	}
	updated := b.fresh(node.Type)
	b.emit(ir.Instruction{Op: ir.OpAdd, Dst: updated, Src1: old, Src2: ir.IntOperand(delta), Line: node.Line})

	if target.Kind == ast.Ident {
		if vi, ok := b.fn.Vars[target.Name]; ok {
			b.emit(ir.Instruction{Op: ir.OpCopy, Dst: ir.VRegOperand(vi.VReg, vi.Type), Src1: updated, Line: node.Line})
		}
	}

	if node.UnOp == ast.UnPreInc || node.UnOp == ast.UnPreDec {
		return updated
	}
	return old
}
