// Package irbuilder lowers a typed AST (internal/ast) for one function at a
// time into the three-address IR (internal/ir), per §4.1. Grounded on the
// teacher's Compiler in std/compiler/ir.go: a small context object carrying
// the current function, the current emission block, and parallel
// break/continue label stacks, with one compileX method per AST production
// (there: compileIf/compileFor/compileSwitch/compileBinaryExpr/...; here:
// lowerIf/lowerFor/lowerSwitch/lowerBinary/...).
package irbuilder

import (
	"github.com/tinyrange/rtgc/internal/ast"
	"github.com/tinyrange/rtgc/internal/ir"
)

// Builder lowers one function's AST into IR. Create a fresh Builder per
// function — break/continue stacks and the current block do not survive
// across functions, matching the teacher's per-function Compiler reset
// (compileFunc re-enters with empty c.breaks/c.continues).
type Builder struct {
	prog *ir.Program
	fn   *ir.Function
	cur  *ir.Block

	breaks    []ir.BlockID
	continues []ir.BlockID

	labelSeq int
}

// New returns a builder that will lower functions into prog.
func New(prog *ir.Program) *Builder {
	return &Builder{prog: prog}
}

// LowerFunc lowers a FuncDecl node into a new ir.Function, appends it to
// the program, and returns it. A void-only parameter list (a single "void"
// parameter) must already have been normalized to zero parameters by the
// caller that constructs FuncDecl nodes — ast.Node's Params has no
// representation for "void" by design (see ast.go), so there is nothing
// left to special-case here.
func (b *Builder) LowerFunc(node *ast.Node) *ir.Function {
	fn := ir.NewFunction(node.Name)
	fn.RetType = toIRType(node.Type)
	b.fn = fn
	b.breaks = nil
	b.continues = nil

	entry := fn.AddBlock("entry")
	fn.Entry = entry.ID
	b.cur = entry

	for _, p := range node.Params {
		v := fn.DeclareVar(p.Name, toIRType(p.Type), true)
		fn.Params = append(fn.Params, p.Name)
		_ = v
	}

	if node.Body != nil {
		b.lowerBlock(node.Body)
	}

	// A function whose body never reaches a return gets an implicit one.
	if len(b.cur.Insts) == 0 || !b.cur.Insts[len(b.cur.Insts)-1].Op.IsTerminator() {
		b.emit(ir.Instruction{Op: ir.OpReturn, Line: node.Line})
	}

	ir.BuildCFG(fn)
	b.prog.Funcs = append(b.prog.Funcs, fn)
	return fn
}

func toIRType(t *ast.Type) *ir.TypeInfo {
	if t == nil {
		return nil
	}
	out := &ir.TypeInfo{Kind: ir.TypeKind(t.Kind), Name: t.Name, Size: t.Size, Align: t.Align}
	if t.Elem != nil {
		out.Elem = toIRType(t.Elem)
	}
	return out
}

// emit appends in to the current block.
func (b *Builder) emit(in ir.Instruction) {
	b.cur.Append(in)
}

// newBlock allocates a fresh block with a synthetic, unique label.
func (b *Builder) newBlock(prefix string) *ir.Block {
	b.labelSeq++
	return b.fn.AddBlock(prefixLabel(prefix, b.labelSeq))
}

func prefixLabel(prefix string, n int) string {
	const digits = "0123456789"
	buf := []byte(prefix)
	buf = append(buf, '.')
	if n == 0 {
		return string(append(buf, '0'))
	}
	var tmp []byte
	for n > 0 {
		tmp = append(tmp, digits[n%10])
		n /= 10
	}
	for i := len(tmp) - 1; i >= 0; i-- {
		buf = append(buf, tmp[i])
	}
	return string(buf)
}

// deadBlockIfTerminated starts a fresh, unreachable block after the
// current block's last instruction became a terminator, so later
// statements in the same lexical block still have somewhere to land
// (§4.1: "subsequent statements of the same lexical block are placed into
// a fresh dead block so that every block has at most one terminator").
func (b *Builder) deadBlockIfTerminated() {
	if len(b.cur.Insts) == 0 {
		return
	}
	if b.cur.Insts[len(b.cur.Insts)-1].Op.IsTerminator() {
		b.cur = b.newBlock("dead")
	}
}

func (b *Builder) pushLoop(breakTarget, continueTarget ir.BlockID) {
	b.breaks = append(b.breaks, breakTarget)
	b.continues = append(b.continues, continueTarget)
}

func (b *Builder) popLoop() {
	b.breaks = b.breaks[:len(b.breaks)-1]
	b.continues = b.continues[:len(b.continues)-1]
}

// pushBreakOnly/popBreakOnly push just the break-target stack, used by
// switch: a switch's break exits the switch, but continue inside a switch
// must still reach the nearest *enclosing loop*, so the continue stack is
// left untouched.
func (b *Builder) pushBreakOnly(breakTarget ir.BlockID) {
	b.breaks = append(b.breaks, breakTarget)
}

func (b *Builder) popBreakOnly() {
	b.breaks = b.breaks[:len(b.breaks)-1]
}

func (b *Builder) breakTarget() ir.BlockID    { return b.breaks[len(b.breaks)-1] }
func (b *Builder) continueTarget() ir.BlockID { return b.continues[len(b.continues)-1] }
