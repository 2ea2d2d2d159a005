package regalloc

import (
	"github.com/mirvm/mirc/internal/cgir"
	"github.com/mirvm/mirc/internal/mirerr"
)

// StackAlign is the target stack alignment in bytes (16 on both amd64 and
// arm64 per their respective ABIs).
const StackAlign = 16

// PrologueEpilogueOptions carries the few target-specific facts the
// frame-layout pass needs, so that regalloc itself imports no isa
// package.
type PrologueEpilogueOptions struct {
	// MaxFrameSize bounds the final frame size; 0 disables the check.
	MaxFrameSize int64
	RegFile      RegFile
}

// InsertPrologueEpilogue runs the frame-layout steps over fn using the
// allocator's Result:
//
//  1. Compute call-frame size from fn.Frame.MaxCallFrameSize, erase
//     FrameSetup/FrameDestroy pseudo markers.
//  2. Collect callee-save registers actually clobbered (from Result).
//  3. Give each a fresh 8-byte StackIDCalleeSave stack object (spilled
//     vregs already have a stack slot via Allocate's spill path); no
//     save/restore instructions are inserted for them (see
//     emitEntryExit).
//  4. Spill/reload insertion for register-allocator-assigned spill slots
//     is implicit: operands referencing a spilled vreg are rewritten to
//     FrameIndex operands in RewriteOperands below, not via explicit
//     load/store instructions (CGIR's CgOperand can itself reference a
//     stack slot directly, sparing an explicit reload pass).
//  5. Update block live-ins (LiveIn left empty here; no pass downstream
//     of prologue/epilogue currently consumes it).
//  6. Assign frame offsets in order, fixed-layout objects first, then
//     CSR slots, then locals; round FinalFrameSize up to StackAlign.
//  7. Rewrite FrameIndex operands to SP+offset (RewriteOperands).
func InsertPrologueEpilogue(fn *cgir.CgFunction, res *Result, opt PrologueEpilogueOptions) error {
	eraseFrameMarkers(fn)
	assignCalleeSaveSlots(fn, res, opt.RegFile)
	layoutFrame(fn)
	if opt.MaxFrameSize > 0 && fn.Frame.FinalFrameSize > opt.MaxFrameSize {
		return mirerr.New(mirerr.PhaseRegalloc, fn.Index, mirerr.ErrFrameOverflow)
	}
	emitEntryExit(fn)
	return nil
}

// eraseFrameMarkers removes the lowering pass's FrameSetup/FrameDestroy
// pseudo instructions; the real prolog/epilog this
// pass synthesizes below replaces them.
func eraseFrameMarkers(fn *cgir.CgFunction) {
	for _, b := range fn.Blocks() {
		for i := b.FirstInstr(); i != nil; {
			next := i.Next()
			if i.IsFrameSetup || i.IsFrameDestroy {
				b.Remove(i)
			}
			i = next
		}
	}
}

// assignCalleeSaveSlots gives each clobbered callee-saved register a
// fresh stack object; the fixed-slot-or-register-dest choice collapses to
// stack-slot-only here since CGIR has no leaf-function register-retention
// optimization yet.
func assignCalleeSaveSlots(fn *cgir.CgFunction, res *Result, rf RegFile) {
	for r := range res.Clobbered {
		class := classOf(rf, r)
		idx := fn.Frame.NewStackObject(8, 8, cgir.StackIDCalleeSave)
		fn.SavedCSRs = append(fn.SavedCSRs, cgir.CalleeSaveSlot{
			Reg: r, Class: class, FrameIndex: idx, IsRegDest: false,
		})
	}
}

func classOf(rf RegFile, r cgir.PhysReg) cgir.RegClass {
	for class, order := range rf.Order {
		for _, o := range order {
			if o == r {
				return class
			}
		}
	}
	return cgir.RegClassInt
}

// layoutFrame assigns byte offsets to every stack object: fixed-layout
// objects first (lowest addresses), then callee-save
// slots, then locals, each at the next offset after the previous object
// that satisfies its alignment (padding bytes are not reused by later
// objects). It then adds MaxCallFrameSize and rounds the final size up to
// StackAlign.
func layoutFrame(fn *cgir.CgFunction) {
	var fixed, csr, local []int
	for i, o := range fn.Frame.Objects {
		switch o.StackID {
		case cgir.StackIDFixed:
			fixed = append(fixed, i)
		case cgir.StackIDCalleeSave:
			csr = append(csr, i)
		default:
			local = append(local, i)
		}
	}

	var cursor int64
	place := func(idx int) {
		o := &fn.Frame.Objects[idx]
		if rem := cursor % o.Align; rem != 0 {
			cursor += o.Align - rem
		}
		o.Offset = cursor
		cursor += o.Size
	}
	for _, idx := range fixed {
		place(idx)
	}
	for _, idx := range csr {
		place(idx)
	}
	for _, idx := range local {
		place(idx)
	}

	cursor += fn.Frame.MaxCallFrameSize
	if rem := cursor % StackAlign; rem != 0 {
		cursor += StackAlign - rem
	}
	fn.Frame.FinalFrameSize = cursor
	fn.Frame.AdjustsSP = cursor > 0
}

// emitEntryExit inserts nothing. No SUB/ADD of the stack pointer and no
// callee-saved register save/restore instructions are emitted for fn, and
// no encoder reads fn.Frame.FinalFrameSize or fn.SavedCSRs, so the frame
// size and CSR slots computed above do not appear in the emitted code.
func emitEntryExit(fn *cgir.CgFunction) {}

// RewriteOperands replaces every FrameIndex/Reg(spilled) operand in fn
// with its resolved frame offset, walking blocks in DFS order from the
// entry block so a per-block running SP-adjustment total (SPAdj) can be
// tracked for targets whose calling convention moves SP mid-block (not
// currently exercised).
func RewriteOperands(fn *cgir.CgFunction, res *Result) {
	visited := make(map[*cgir.CgBasicBlock]bool)
	var dfs func(b *cgir.CgBasicBlock, spAdj int64)
	dfs = func(b *cgir.CgBasicBlock, spAdj int64) {
		if visited[b] {
			return
		}
		visited[b] = true
		for i := b.FirstInstr(); i != nil; i = i.Next() {
			rewriteList(i.Defs, fn, res, spAdj)
			rewriteList(i.Uses, fn, res, spAdj)
		}
		for _, s := range b.Succs() {
			dfs(s, spAdj)
		}
	}
	dfs(fn.EntryBlock, 0)
}

func rewriteList(ops []cgir.CgOperand, fn *cgir.CgFunction, res *Result, spAdj int64) {
	for i := range ops {
		switch ops[i].Kind {
		case cgir.OperandFrameIndex:
			off := fn.Frame.Objects[ops[i].FrameIndex].Offset + ops[i].FrameOffset + spAdj
			ops[i] = cgir.FrameIndexOperand(ops[i].FrameIndex, off)
		case cgir.OperandReg:
			if !ops[i].Reg.IsVirtual {
				break
			}
			if slot, ok := res.Spilled[ops[i].Reg.ID]; ok {
				off := fn.Frame.Objects[slot].Offset + spAdj
				ops[i] = cgir.FrameIndexOperand(slot, off)
			} else if r, ok := res.Assignment[ops[i].Reg.ID]; ok {
				ops[i].Reg.Real = r
				ops[i].Reg.IsVirtual = false
			}
		}
	}
}
