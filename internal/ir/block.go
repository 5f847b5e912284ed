package ir

import "github.com/tinyrange/rtgc/internal/bitset"

// Block is a maximal straight-line instruction sequence with one entry and
// one exit. Instructions live in a contiguous slice (Go's slice backing
// array already gives the arena-of-instructions layout the Design Notes ask
// for — no extra per-instruction heap allocation, and instructions are
// addressable by block-local index). Analysis slots (Idom, DomFrontier,
// LoopHeader, LoopDepth, Live*) are populated by internal/ssa and
// internal/dataflow and are zero-valued until then.
//
// Invariant: for every successor s of b, b appears in s.Preds (and
// symmetrically). Block id 0 (the entry) is never a successor of any block.
// Phi instructions appear only as a prefix of Insts, and a phi's argument
// count equals len(b.Preds), with PhiPreds[i] == b.Preds[i].
type Block struct {
	ID    BlockID
	Label string
	Insts []Instruction

	Preds []BlockID
	Succs []BlockID

	// Populated by internal/ssa.
	Idom        BlockID
	DomFrontier []BlockID

	// Populated by internal/dataflow.
	LoopHeader BlockID
	LoopDepth  int
	LiveIn     *bitset.Set
	LiveOut    *bitset.Set
	Def        *bitset.Set
	Use        *bitset.Set
}

// NewBlock returns an empty block with the given id and label.
func NewBlock(id BlockID, label string) *Block {
	return &Block{ID: id, Label: label, Idom: NoBlock, LoopHeader: NoBlock}
}

// Append adds an instruction to the end of the block.
func (b *Block) Append(in Instruction) {
	b.Insts = append(b.Insts, in)
}

// Terminator returns the block's last instruction, which by invariant is
// always its sole terminator. Panics on an empty block — callers only
// invoke this once lowering has completed.
func (b *Block) Terminator() *Instruction {
	return &b.Insts[len(b.Insts)-1]
}

// Phis returns the prefix of b.Insts that are phi instructions.
func (b *Block) Phis() []*Instruction {
	var out []*Instruction
	for i := range b.Insts {
		if b.Insts[i].Op != OpPhi {
			break
		}
		out = append(out, &b.Insts[i])
	}
	return out
}

// PredIndex returns the index of pred within b.Preds, or -1 if pred is not
// a predecessor of b.
func (b *Block) PredIndex(pred BlockID) int {
	for i, p := range b.Preds {
		if p == pred {
			return i
		}
	}
	return -1
}

// addEdge records to as a successor of from and from as a predecessor of to,
// skipping the edge if it already exists (a switch with repeated case
// targets, or a self-loop recorded twice, must not duplicate the edge).
func addEdge(blocks map[BlockID]*Block, from, to BlockID) {
	f, t := blocks[from], blocks[to]
	for _, s := range f.Succs {
		if s == to {
			return
		}
	}
	f.Succs = append(f.Succs, to)
	t.Preds = append(t.Preds, from)
}
