// Package regalloc assigns physical registers to the virtual registers a
// target's lowering left behind in a CgFunction, then lays out the frame
// (callee-save and spill slots) and resolves abstract FrameIndex operands
// to concrete SP-relative offsets.
//
// The allocator is a linear scan over numbered-instruction-order liveness
// intervals: CGIR here has no loop-aware spill-cost model yet, and a
// single interval per vreg is enough for the frame-layout guarantees the
// prolog/epilog pass depends on.
package regalloc

import (
	"sort"

	"github.com/mirvm/mirc/internal/cgir"
	"github.com/mirvm/mirc/internal/mirerr"
)

// RegFile describes one target's allocatable registers per class: the
// preferred allocation order (volatile first, then callee-save aliases)
// and which registers are callee-saved.
type RegFile struct {
	// Order lists allocatable PhysRegs for a class, volatile-first.
	Order map[cgir.RegClass][]cgir.PhysReg
	// CalleeSaved marks which of Order's registers must be preserved
	// across calls if clobbered.
	CalleeSaved map[cgir.PhysReg]bool
}

// IsCalleeSaved reports whether r must be saved/restored in the prolog/
// epilog if the allocator assigns it.
func (rf RegFile) IsCalleeSaved(r cgir.PhysReg) bool { return rf.CalleeSaved[r] }

// liveInterval is a vreg's first-def to last-use instruction-order span,
// the linear-scan allocator's input.
type liveInterval struct {
	vreg       cgir.VReg
	start, end int // position indices into the function's flattened instruction order
}

// instrPos pairs a CgInstruction with its flattened position, needed
// because CgBasicBlock/CgInstruction don't carry an absolute index.
type instrPos struct {
	instr *cgir.CgInstruction
	pos   int
}

// flatten assigns every instruction in fn a position in block-then-intra-
// block order, matching how the lowering pass appended them.
func flatten(fn *cgir.CgFunction) []instrPos {
	var out []instrPos
	pos := 0
	for _, b := range fn.Blocks() {
		for i := b.FirstInstr(); i != nil; i = i.Next() {
			out = append(out, instrPos{instr: i, pos: pos})
			pos++
		}
	}
	return out
}

// computeIntervals derives one liveInterval per distinct vreg referenced
// across fn, from its earliest def/use position to its latest.
func computeIntervals(fn *cgir.CgFunction) []liveInterval {
	flat := flatten(fn)
	byID := make(map[uint32]*liveInterval)
	var order []uint32

	touch := func(r cgir.VReg, pos int) {
		if !r.IsVirtual {
			return
		}
		iv, ok := byID[r.ID]
		if !ok {
			iv = &liveInterval{vreg: r, start: pos, end: pos}
			byID[r.ID] = iv
			order = append(order, r.ID)
			return
		}
		if pos < iv.start {
			iv.start = pos
		}
		if pos > iv.end {
			iv.end = pos
		}
	}

	for _, ip := range flat {
		for _, d := range ip.instr.Defs {
			if d.Kind == cgir.OperandReg {
				touch(d.Reg, ip.pos)
			}
		}
		for _, u := range ip.instr.Uses {
			if u.Kind == cgir.OperandReg {
				touch(u.Reg, ip.pos)
			}
		}
	}

	out := make([]liveInterval, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// Result is the outcome of Allocate: a vreg ID -> PhysReg assignment plus
// the set of callee-saved registers actually clobbered (needed by the
// prolog/epilog pass).
type Result struct {
	Assignment map[uint32]cgir.PhysReg
	Clobbered  map[cgir.PhysReg]bool
	// Spilled holds vreg IDs that didn't fit in a register and were
	// instead assigned a stack slot (FrameInfo object index).
	Spilled map[uint32]int
}

// Allocate runs linear-scan register allocation over fn. It
// never fails outright on exhaustion (registers beyond the free pool are
// spilled to a fresh stack object) but returns mirerr.ErrRegAllocFailed
// when a vreg's class has neither a free register nor an active interval
// to spill, i.e. when rf lists no registers for that class.
func Allocate(fn *cgir.CgFunction, rf RegFile) (*Result, error) {
	intervals := computeIntervals(fn)

	res := &Result{
		Assignment: make(map[uint32]cgir.PhysReg, len(intervals)),
		Clobbered:  make(map[cgir.PhysReg]bool),
		Spilled:    make(map[uint32]int),
	}

	active := map[cgir.RegClass][]*liveInterval{}
	free := map[cgir.RegClass][]cgir.PhysReg{}
	for class, order := range rf.Order {
		cp := make([]cgir.PhysReg, len(order))
		copy(cp, order)
		free[class] = cp
	}

	expireBefore := func(class cgir.RegClass, pos int) {
		var still []*liveInterval
		for _, iv := range active[class] {
			if iv.end < pos {
				r := res.Assignment[iv.vreg.ID]
				free[class] = append(free[class], r)
			} else {
				still = append(still, iv)
			}
		}
		active[class] = still
	}

	for i := range intervals {
		iv := &intervals[i]
		class := iv.vreg.Class
		expireBefore(class, iv.start)

		if len(free[class]) == 0 {
			if len(active[class]) == 0 {
				return nil, mirerr.New(mirerr.PhaseRegalloc, fn.Index, mirerr.ErrRegAllocFailed)
			}
			// Spill the active interval with the furthest end (classic
			// linear-scan spill heuristic).
			furthest, furthestIdx := active[class][0], 0
			for j, a := range active[class][1:] {
				if a.end > furthest.end {
					furthest, furthestIdx = a, j+1
				}
			}
			if furthest.end > iv.end {
				slot := fn.Frame.NewStackObject(8, 8, cgir.StackIDLocal)
				res.Spilled[furthest.vreg.ID] = slot
				r := res.Assignment[furthest.vreg.ID]
				delete(res.Assignment, furthest.vreg.ID)
				active[class] = append(active[class][:furthestIdx], active[class][furthestIdx+1:]...)
				res.Assignment[iv.vreg.ID] = r
				active[class] = append(active[class], iv)
				continue
			}
			slot := fn.Frame.NewStackObject(8, 8, cgir.StackIDLocal)
			res.Spilled[iv.vreg.ID] = slot
			continue
		}

		r := free[class][0]
		free[class] = free[class][1:]
		res.Assignment[iv.vreg.ID] = r
		if rf.IsCalleeSaved(r) {
			res.Clobbered[r] = true
		}
		active[class] = append(active[class], iv)
	}

	return res, nil
}
