package ir

// VarInfo describes an entry in a function's variable table: a source-level
// name mapped to its canonical (pre-SSA) vreg, resolved type, and whether it
// is a parameter.
type VarInfo struct {
	VReg    VReg
	Type    *TypeInfo
	IsParam bool
}

// PhysReg identifies one of the fourteen allocatable general-purpose
// registers the linear-scan allocator (§4.7) targets.
type PhysReg int

// Assignment is the linear-scan allocator's verdict for one vreg: either a
// physical register or a spill slot, never both.
type Assignment struct {
	Reg       PhysReg
	IsSpill   bool
	SpillSlot int
}

// Function is one compiled function: its blocks, entry point, the vreg
// namespace, its variable table, and (after passes run) its SSA flag,
// parameter entry-versions, and register allocation.
type Function struct {
	Name     string
	Blocks   []*Block
	Entry    BlockID
	Params   []string
	RetType  *TypeInfo
	Vars     map[string]*VarInfo
	SSA      bool
	nextVReg VReg

	// ParamVersions[i] is the vreg implicitly defined for Params[i] at
	// function entry, populated by internal/ssa's rename pass (§4.2d).
	ParamVersions []VReg

	RegAlloc map[VReg]Assignment
}

// NewFunction returns an empty function ready for the IR builder to lower
// statements into.
func NewFunction(name string) *Function {
	return &Function{
		Name: name,
		Vars: make(map[string]*VarInfo),
	}
}

// NewVReg allocates and returns a fresh virtual register.
func (f *Function) NewVReg() VReg {
	v := f.nextVReg
	f.nextVReg++
	return v
}

// NumVRegs returns one past the highest vreg id ever allocated — the size
// a caller should use for per-vreg arrays or bitsets.
func (f *Function) NumVRegs() int {
	return int(f.nextVReg)
}

// AddBlock appends a new block with a fresh id and returns it.
func (f *Function) AddBlock(label string) *Block {
	b := NewBlock(BlockID(len(f.Blocks)), label)
	f.Blocks = append(f.Blocks, b)
	return b
}

// Block returns the block with the given id.
func (f *Function) Block(id BlockID) *Block {
	return f.Blocks[id]
}

// BlockByLabel finds a block by its human label, or nil.
func (f *Function) BlockByLabel(label string) *Block {
	for _, b := range f.Blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}

// DeclareVar registers a source-level variable, allocating its canonical
// vreg.
func (f *Function) DeclareVar(name string, ty *TypeInfo, isParam bool) VReg {
	v := f.NewVReg()
	f.Vars[name] = &VarInfo{VReg: v, Type: ty, IsParam: isParam}
	return v
}

// AddEdge records a CFG edge between two blocks of f, keeping Preds/Succs
// symmetric (§3's invariant). BuildCFG (cfg.go) records its edges through
// the unexported addEdge; LICM's preheader synthesis calls AddEdge
// directly.
func (f *Function) AddEdge(from, to BlockID) {
	blocks := make(map[BlockID]*Block, len(f.Blocks))
	for _, b := range f.Blocks {
		blocks[b.ID] = b
	}
	addEdge(blocks, from, to)
}

// RemoveEdge removes the from→to edge from both endpoints' adjacency
// lists, used when branch folding (§4.4) or dead-block pruning drops a
// predecessor.
func (f *Function) RemoveEdge(from, to BlockID) {
	fb, tb := f.Block(from), f.Block(to)
	fb.Succs = removeBlockID(fb.Succs, to)
	tb.Preds = removeBlockID(tb.Preds, from)
}

func removeBlockID(ids []BlockID, target BlockID) []BlockID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
