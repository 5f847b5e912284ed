// Package regalloc implements the target-independent linear-scan register
// allocator of §4.7: a fixed 14-GPR inventory, per-vreg live intervals
// computed over a linear instruction position, sorted by start, and a
// single scan that expires, allocates, or spills. Grounded on the
// teacher's frame-slot bookkeeping (Function.RegAlloc / spill-slot indices
// mirror std/compiler/backend.go's curFrameSize local-slot counter), and on
// other_examples' linear-scan allocator references for the expire/
// allocate/spill loop shape.
package regalloc

import "github.com/tinyrange/rtgc/internal/ir"

// NumGPR is the fixed allocatable general-purpose register count: AMD64's
// sixteen GPRs minus rsp and rbp (stack and frame pointers, never handed
// out by the allocator).
const NumGPR = 14

// Interval is a vreg's live range expressed in linear instruction
// positions: [Start, End] inclusive, covering every position the vreg is
// read or written, including phi arguments.
type Interval struct {
	VReg  ir.VReg
	Start int
	End   int
}

// Allocator runs linear-scan over one function's intervals. Pin lets a
// caller pre-color a vreg to a specific physical register before the scan
// begins (§6's supplemented extension point, resolving the Open Question
// on ABI/special-purpose register constraints) — the scan skips pinned
// vregs in its free-register pool and never reassigns or spills them.
type Allocator struct {
	pins map[ir.VReg]ir.PhysReg
}

// New returns an allocator with no pre-colored vregs.
func New() *Allocator {
	return &Allocator{pins: make(map[ir.VReg]ir.PhysReg)}
}

// Pin pre-colors vreg to a fixed physical register. Must be called before
// Run. The pinned vreg is excluded from the free-register pool for the
// whole scan (no other vreg may be assigned that register), and its own
// interval is recorded as pinned in the result rather than scanned.
func (a *Allocator) Pin(vreg ir.VReg, reg ir.PhysReg) {
	a.pins[vreg] = reg
}

// Run allocates fn's vregs, writing the result into fn.RegAlloc, and
// returns the number of spill slots used.
func (a *Allocator) Run(fn *ir.Function) int {
	positions, order := linearize(fn)
	intervals := computeIntervals(fn, positions, order)

	fn.RegAlloc = make(map[ir.VReg]ir.Assignment, len(intervals)+len(a.pins))
	for v, r := range a.pins {
		fn.RegAlloc[v] = ir.Assignment{Reg: r}
	}

	free := make([]bool, NumGPR)
	for i := range free {
		free[i] = true
	}
	for _, r := range a.pins {
		if int(r) >= 0 && int(r) < NumGPR {
			free[r] = false
		}
	}

	sortByStart(intervals)

	var active []Interval
	nextSlot := 0

	expire := func(start int) {
		kept := active[:0]
		for _, iv := range active {
			if iv.End < start {
				free[fn.RegAlloc[iv.VReg].Reg] = true
			} else {
				kept = append(kept, iv)
			}
		}
		active = kept
	}

	sortByEndDesc := func() *Interval {
		if len(active) == 0 {
			return nil
		}
		maxI := 0
		for i := 1; i < len(active); i++ {
			if active[i].End > active[maxI].End {
				maxI = i
			}
		}
		return &active[maxI]
	}

	for _, cur := range intervals {
		if _, pinned := a.pins[cur.VReg]; pinned {
			continue
		}

		expire(cur.Start)

		reg, ok := firstFree(free)
		if ok {
			free[reg] = false
			fn.RegAlloc[cur.VReg] = ir.Assignment{Reg: ir.PhysReg(reg)}
			active = append(active, cur)
			continue
		}

		victim := sortByEndDesc()
		if victim != nil && victim.End > cur.End {
			victimVReg := victim.VReg
			stolen := fn.RegAlloc[victimVReg].Reg
			fn.RegAlloc[victimVReg] = ir.Assignment{IsSpill: true, SpillSlot: nextSlot}
			nextSlot++
			fn.RegAlloc[cur.VReg] = ir.Assignment{Reg: stolen}

			kept := active[:0]
			for _, iv := range active {
				if iv.VReg != victimVReg {
					kept = append(kept, iv)
				}
			}
			active = append(kept, cur)
		} else {
			fn.RegAlloc[cur.VReg] = ir.Assignment{IsSpill: true, SpillSlot: nextSlot}
			nextSlot++
		}
	}

	return nextSlot
}

func firstFree(free []bool) (int, bool) {
	for i, f := range free {
		if f {
			return i, true
		}
	}
	return 0, false
}

func sortByStart(intervals []Interval) {
	for i := 1; i < len(intervals); i++ {
		for j := i; j > 0 && intervals[j].Start < intervals[j-1].Start; j-- {
			intervals[j], intervals[j-1] = intervals[j-1], intervals[j]
		}
	}
}

// linearize assigns a position to every instruction by a forward walk over
// blocks in id order (§4.7 step 1), returning each instruction's position
// keyed by (block, local index) and the block visitation order.
func linearize(fn *ir.Function) (map[ir.BlockID][]int, []ir.BlockID) {
	positions := make(map[ir.BlockID][]int, len(fn.Blocks))
	order := make([]ir.BlockID, len(fn.Blocks))
	pos := 0
	for i, b := range fn.Blocks {
		order[i] = b.ID
		blockPos := make([]int, len(b.Insts))
		for j := range b.Insts {
			blockPos[j] = pos
			pos++
		}
		positions[b.ID] = blockPos
	}
	return positions, order
}

// computeIntervals records, for every vreg, the first and last linear
// position it is read or written at (§4.7 step 1), scanning blocks in id
// order so positions are monotonic across the whole function.
func computeIntervals(fn *ir.Function, positions map[ir.BlockID][]int, order []ir.BlockID) []Interval {
	first := make(map[ir.VReg]int)
	last := make(map[ir.VReg]int)
	seen := make(map[ir.VReg]bool)

	touch := func(v ir.VReg, pos int) {
		if !seen[v] {
			seen[v] = true
			first[v] = pos
		}
		if pos > last[v] {
			last[v] = pos
		}
		if pos < first[v] {
			first[v] = pos
		}
	}

	for _, id := range order {
		b := fn.Block(id)
		blockPos := positions[id]
		for i := range b.Insts {
			in := &b.Insts[i]
			pos := blockPos[i]
			if d, ok := in.Defines(); ok {
				touch(d, pos)
			}
			in.Uses(func(op *ir.Operand) {
				touch(op.VReg, pos)
			})
		}
	}

	intervals := make([]Interval, 0, len(first))
	for v := range first {
		intervals = append(intervals, Interval{VReg: v, Start: first[v], End: last[v]})
	}
	return intervals
}
