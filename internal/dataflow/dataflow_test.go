package dataflow

import (
	"testing"

	"github.com/tinyrange/rtgc/internal/ast"
	"github.com/tinyrange/rtgc/internal/ir"
	"github.com/tinyrange/rtgc/internal/irbuilder"
	"github.com/tinyrange/rtgc/internal/ssa"
)

func intTy() *ast.Type { return &ast.Type{Kind: ast.Int64, Name: "int", Size: 8, Align: 8} }

// loopFunc lowers: int h(int n){ int s=0; int i=0; while(i<n){ s=s+i; i=i+1; } return s; }
func loopFunc() *ast.Node {
	zero := func() *ast.Node { return &ast.Node{Kind: ast.IntLit, IntVal: 0, Type: intTy()} }
	one := func() *ast.Node { return &ast.Node{Kind: ast.IntLit, IntVal: 1, Type: intTy()} }
	ident := func(n string) *ast.Node { return &ast.Node{Kind: ast.Ident, Name: n, Type: intTy()} }
	assign := func(name string, rhs *ast.Node) *ast.Node {
		return &ast.Node{Kind: ast.Assign, Children: []*ast.Node{ident(name), rhs}}
	}

	sDecl := &ast.Node{Kind: ast.VarDecl, Name: "s", Type: intTy(), Init: zero()}
	iDecl := &ast.Node{Kind: ast.VarDecl, Name: "i", Type: intTy(), Init: zero()}

	cond := &ast.Node{Kind: ast.Binary, BinOp: ast.OpLt, Children: []*ast.Node{ident("i"), ident("n")}, Type: intTy()}
	sPlusI := &ast.Node{Kind: ast.Binary, BinOp: ast.OpAdd, Children: []*ast.Node{ident("s"), ident("i")}, Type: intTy()}
	iPlus1 := &ast.Node{Kind: ast.Binary, BinOp: ast.OpAdd, Children: []*ast.Node{ident("i"), one()}, Type: intTy()}
	loopBody := &ast.Node{Kind: ast.Block, Children: []*ast.Node{
		assign("s", sPlusI),
		assign("i", iPlus1),
	}}
	whileStmt := &ast.Node{Kind: ast.While, Cond: cond, Then: loopBody}

	ret := &ast.Node{Kind: ast.Return, Children: []*ast.Node{ident("s")}}
	body := &ast.Node{Kind: ast.Block, Children: []*ast.Node{sDecl, iDecl, whileStmt, ret}}
	return &ast.Node{
		Kind: ast.FuncDecl, Name: "h", Type: intTy(),
		Params: []ast.Param{{Name: "n", Type: intTy()}},
		Body:   body,
	}
}

func buildLoop(t *testing.T) *ir.Function {
	t.Helper()
	prog := ir.NewProgram()
	fn := irbuilder.New(prog).LowerFunc(loopFunc())
	ssa.Construct(fn)
	return fn
}

func TestLivenessConverges(t *testing.T) {
	fn := buildLoop(t)
	ComputeDefUse(fn)
	ComputeLiveness(fn)

	entry := fn.Block(fn.Entry)
	if entry.LiveIn.PopCount() != 0 {
		t.Errorf("entry block should have no live-in vregs in this function, got %d", entry.LiveIn.PopCount())
	}
}

func TestReachingDefsGenKillDisjointPerBlock(t *testing.T) {
	fn := buildLoop(t)
	r := ComputeReachingDefs(fn)

	for _, b := range fn.Blocks {
		gen, kill := r.Gen[b.ID], r.Kill[b.ID]
		for _, e := range gen.Elems() {
			if kill.Test(e) {
				t.Errorf("block %s: def %d is in both gen and kill", b.Label, e)
			}
		}
	}
}

func TestComputeLoopsFindsBackEdge(t *testing.T) {
	fn := buildLoop(t)
	loops := ComputeLoops(fn)

	if len(loops) != 1 {
		t.Fatalf("expected exactly 1 loop, got %d", len(loops))
	}
	header := fn.Block(loops[0].Header)
	if len(header.Preds) != 2 {
		t.Errorf("loop header should have 2 preds (entry jump + back edge), got %d", len(header.Preds))
	}
	for id := range loops[0].Body {
		b := fn.Block(id)
		if b.LoopDepth != 1 {
			t.Errorf("block %s in loop body should have LoopDepth 1, got %d", b.Label, b.LoopDepth)
		}
		if b.LoopHeader != loops[0].Header {
			t.Errorf("block %s should have LoopHeader %v, got %v", b.Label, loops[0].Header, b.LoopHeader)
		}
	}
}
