package irbuilder

import (
	"fmt"

	"github.com/tinyrange/rtgc/internal/ast"
	"github.com/tinyrange/rtgc/internal/ir"
)

// lowerBlock lowers every statement in a Block node in order, starting a
// fresh dead block before any statement that follows a terminator.
func (b *Builder) lowerBlock(node *ast.Node) {
	for _, stmt := range node.Children {
		b.deadBlockIfTerminated()
		b.lowerStmt(stmt)
	}
}

func (b *Builder) lowerStmt(node *ast.Node) {
	switch node.Kind {
	case ast.VarDecl:
		b.lowerVarDecl(node)
	case ast.Return:
		b.lowerReturn(node)
	case ast.If:
		b.lowerIf(node)
	case ast.While:
		b.lowerWhile(node)
	case ast.DoWhile:
		b.lowerDoWhile(node)
	case ast.For:
		b.lowerFor(node)
	case ast.Switch:
		b.lowerSwitch(node)
	case ast.Break:
		b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(b.breakTarget()), Line: node.Line})
	case ast.Continue:
		b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(b.continueTarget()), Line: node.Line})
	case ast.Goto:
		target := b.fn.BlockByLabel(node.Name)
		if target != nil {
			b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(target.ID), Line: node.Line})
		}
	case ast.Label:
		target := b.newBlock(node.Name)
		if len(b.cur.Insts) == 0 || !b.cur.Insts[len(b.cur.Insts)-1].Op.IsTerminator() {
			b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(target.ID), Line: node.Line})
		}
		b.cur = target
	case ast.Assert:
		b.lowerAssert(node)
	case ast.Block:
		b.lowerBlock(node)
	default:
		// Expression statement (including bare Assign, Call, inc/dec).
		b.lowerExpr(node)
	}
}

func (b *Builder) lowerVarDecl(node *ast.Node) {
	v := b.fn.DeclareVar(node.Name, toIRType(node.Type), false)
	if node.Init != nil {
		val := b.lowerExpr(node.Init)
		b.emit(ir.Instruction{Op: ir.OpCopy, Dst: ir.VRegOperand(v, toIRType(node.Type)), Src1: val, Line: node.Line})
	}
}

func (b *Builder) lowerReturn(node *ast.Node) {
	var val ir.Operand
	if len(node.Children) > 0 {
		val = b.lowerExpr(node.Children[0])
	}
	b.emit(ir.Instruction{Op: ir.OpReturn, Src1: val, Line: node.Line})
}

func (b *Builder) lowerAssert(node *ast.Node) {
	// Lowered as a conditional branch to a trap block when the asserted
	// condition is false; the trap block itself has no successors (its
	// terminator is a Return so every block keeps exactly one
	// terminator — the external codegen maps it to a target-specific
	// abort sequence).
	cond := b.lowerExpr(node.Children[0])
	okBlock := b.newBlock("assertok")
	trapBlock := b.newBlock("asserttrap")
	b.emit(ir.Instruction{Op: ir.OpBranch, Src1: cond, Src2: ir.LabelOperand(okBlock.ID), BrFalse: trapBlock.ID, Line: node.Line})

	b.cur = trapBlock
	b.emit(ir.Instruction{Op: ir.OpReturn, Line: node.Line})

	b.cur = okBlock
}

// lowerIf follows the if/then/[else]/merge block pattern from §4.1's table.
func (b *Builder) lowerIf(node *ast.Node) {
	thenBlock := b.newBlock("then")
	var elseBlock *ir.Block
	if node.Else != nil {
		elseBlock = b.newBlock("else")
	}
	mergeBlock := b.newBlock("endif")
	falseTarget := mergeBlock.ID
	if elseBlock != nil {
		falseTarget = elseBlock.ID
	}

	cond := b.lowerExpr(node.Cond)
	b.emit(ir.Instruction{Op: ir.OpBranch, Src1: cond, Src2: ir.LabelOperand(thenBlock.ID), BrFalse: falseTarget, Line: node.Line})

	b.cur = thenBlock
	b.lowerBlock(node.Then)
	if len(b.cur.Insts) == 0 || !b.cur.Insts[len(b.cur.Insts)-1].Op.IsTerminator() {
		b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(mergeBlock.ID)})
	}

	if elseBlock != nil {
		b.cur = elseBlock
		if node.Else.Kind == ast.If {
			b.lowerStmt(node.Else)
		} else {
			b.lowerBlock(node.Else)
		}
		if len(b.cur.Insts) == 0 || !b.cur.Insts[len(b.cur.Insts)-1].Op.IsTerminator() {
			b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(mergeBlock.ID)})
		}
	}

	b.cur = mergeBlock
}

// lowerWhile follows while's cond/body/exit pattern: jump→cond; cond:
// branch(cond-value)→body/exit; body ends with jump→cond.
func (b *Builder) lowerWhile(node *ast.Node) {
	condBlock := b.newBlock("whilecond")
	bodyBlock := b.newBlock("whilebody")
	exitBlock := b.newBlock("whileexit")

	b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(condBlock.ID), Line: node.Line})

	b.cur = condBlock
	cond := b.lowerExpr(node.Cond)
	b.emit(ir.Instruction{Op: ir.OpBranch, Src1: cond, Src2: ir.LabelOperand(bodyBlock.ID), BrFalse: exitBlock.ID, Line: node.Line})

	b.pushLoop(exitBlock.ID, condBlock.ID)
	b.cur = bodyBlock
	b.lowerBlock(node.Then)
	if len(b.cur.Insts) == 0 || !b.cur.Insts[len(b.cur.Insts)-1].Op.IsTerminator() {
		b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(condBlock.ID)})
	}
	b.popLoop()

	b.cur = exitBlock
}

// lowerDoWhile follows do-while's body/cond/exit pattern: jump→body; body
// ends with jump→cond; cond: branch→body/exit.
func (b *Builder) lowerDoWhile(node *ast.Node) {
	bodyBlock := b.newBlock("dobody")
	condBlock := b.newBlock("docond")
	exitBlock := b.newBlock("doexit")

	b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(bodyBlock.ID), Line: node.Line})

	b.pushLoop(exitBlock.ID, condBlock.ID)
	b.cur = bodyBlock
	b.lowerBlock(node.Then)
	if len(b.cur.Insts) == 0 || !b.cur.Insts[len(b.cur.Insts)-1].Op.IsTerminator() {
		b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(condBlock.ID)})
	}
	b.popLoop()

	b.cur = condBlock
	cond := b.lowerExpr(node.Cond)
	b.emit(ir.Instruction{Op: ir.OpBranch, Src1: cond, Src2: ir.LabelOperand(bodyBlock.ID), BrFalse: exitBlock.ID, Line: node.Line})

	b.cur = exitBlock
}

// lowerFor follows for's init/cond/body/incr/exit pattern: init emitted in
// the current block; jump→cond; cond: branch→body/exit; body: jump→incr;
// incr: jump→cond.
func (b *Builder) lowerFor(node *ast.Node) {
	if node.Init != nil {
		b.lowerStmt(node.Init)
	}

	condBlock := b.newBlock("forcond")
	bodyBlock := b.newBlock("forbody")
	incrBlock := b.newBlock("forincr")
	exitBlock := b.newBlock("forexit")

	b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(condBlock.ID), Line: node.Line})

	b.cur = condBlock
	if node.Cond != nil {
		cond := b.lowerExpr(node.Cond)
		b.emit(ir.Instruction{Op: ir.OpBranch, Src1: cond, Src2: ir.LabelOperand(bodyBlock.ID), BrFalse: exitBlock.ID, Line: node.Line})
	} else {
		b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(bodyBlock.ID)})
	}

	b.pushLoop(exitBlock.ID, incrBlock.ID)
	b.cur = bodyBlock
	if node.Then != nil {
		b.lowerBlock(node.Then)
	}
	if len(b.cur.Insts) == 0 || !b.cur.Insts[len(b.cur.Insts)-1].Op.IsTerminator() {
		b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(incrBlock.ID)})
	}
	b.popLoop()

	b.cur = incrBlock
	if node.Post != nil {
		b.lowerStmt(node.Post)
	}
	b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(condBlock.ID)})

	b.cur = exitBlock
}

// lowerSwitch creates one block per case and one for default (if present),
// plus an exit block, and emits a single OpSwitch terminator recording the
// (value, target) pairs and the default target — matching §4.1's table and
// the Design Notes' note that case-block assembly order is preserved from
// source, which is what makes C's fall-through semantics (each case block
// falling into the next unless it ends with its own break) come out right:
// a case body that does not end in break/return simply jumps to the next
// case block in source order instead of to the switch's exit.
func (b *Builder) lowerSwitch(node *ast.Node) {
	scrut := b.lowerExpr(node.Cond)
	switchBlock := b.cur
	exitBlock := b.newBlock("switchexit")

	type caseBlock struct {
		value    int64
		isDef    bool
		block    *ir.Block
		bodyNode *ast.Node
	}
	var blocks []caseBlock
	for _, c := range node.Children {
		if c.Kind == ast.Default {
			blocks = append(blocks, caseBlock{isDef: true, block: b.newBlock("default"), bodyNode: c})
		} else {
			blocks = append(blocks, caseBlock{value: c.Cond.IntVal, block: b.newBlock(fmt.Sprintf("case%d", c.Cond.IntVal)), bodyNode: c})
		}
	}

	var cases []ir.SwitchCase
	defaultTarget := exitBlock.ID
	for _, cb := range blocks {
		if cb.isDef {
			defaultTarget = cb.block.ID
		} else {
			cases = append(cases, ir.SwitchCase{Value: cb.value, Target: cb.block.ID})
		}
	}
	switchBlock.Append(ir.Instruction{Op: ir.OpSwitch, Src1: scrut, Cases: cases, Default: defaultTarget, Line: node.Line})

	b.pushBreakOnly(exitBlock.ID)
	for i, cb := range blocks {
		b.cur = cb.block
		b.lowerBlock(cb.bodyNode)
		if len(b.cur.Insts) == 0 || !b.cur.Insts[len(b.cur.Insts)-1].Op.IsTerminator() {
			// Fall through to the next case block in source order, or to
			// exit if this was the last one.
			fallTo := exitBlock.ID
			if i+1 < len(blocks) {
				fallTo = blocks[i+1].block.ID
			}
			b.emit(ir.Instruction{Op: ir.OpJump, Src1: ir.LabelOperand(fallTo)})
		}
	}
	b.popBreakOnly()

	b.cur = exitBlock
}
