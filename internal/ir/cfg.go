package ir

// BuildCFG derives predecessor/successor edges for every block in f from
// each block's last instruction (§4.1, "after all lowering, the CFG edges
// are derived from each block's last instruction"):
//
//	jump            → one edge to its label
//	branch          → edges to the true label and the false target
//	return          → no edges
//	switch          → one edge per case target, plus the default target
//	anything else   → a fall-through edge to block id+1
//
// Existing Preds/Succs are discarded and rebuilt from scratch, so BuildCFG
// is safe to call again after a pass restructures the instruction stream
// (it is not safe to call after a pass has already hand-maintained edges
// itself, e.g. LICM's preheader synthesis, which edits Preds/Succs
// directly instead).
func BuildCFG(f *Function) {
	blocks := make(map[BlockID]*Block, len(f.Blocks))
	for _, b := range f.Blocks {
		b.Preds = nil
		b.Succs = nil
		blocks[b.ID] = b
	}
	for _, b := range f.Blocks {
		if len(b.Insts) == 0 {
			continue
		}
		term := &b.Insts[len(b.Insts)-1]
		switch term.Op {
		case OpJump:
			addEdge(blocks, b.ID, term.Src1.Label)
		case OpBranch:
			addEdge(blocks, b.ID, term.Src2.Label)
			addEdge(blocks, b.ID, term.BrFalse)
		case OpReturn:
			// no successors
		case OpSwitch:
			for _, c := range term.Cases {
				addEdge(blocks, b.ID, c.Target)
			}
			addEdge(blocks, b.ID, term.Default)
		default:
			// Non-terminator last instruction: fall through to the next
			// block by id. Only valid mid-construction, before every
			// block has been closed with an explicit terminator.
			next := b.ID + 1
			if _, ok := blocks[next]; ok {
				addEdge(blocks, b.ID, next)
			}
		}
	}
}
