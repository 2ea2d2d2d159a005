// Package peephole implements two local CGIR cleanups: end-of-block
// fallthrough-branch deletion, and the cmp/setcc/test/jne -> jcc fusion
// that recovers the redundant compare sequence
// internal/cgir/isa/amd64 deliberately emits at lowering time.
package peephole

import "github.com/mirvm/mirc/internal/cgir"

// Opcodes used by the fusion pattern, passed in by the caller's isa
// package since peephole itself stays target-agnostic (it only reasons
// about the ClobbersFlags/ReadsFlags/IsBranch shape, not concrete
// opcodes) except for the one substitution below, which needs to know
// the target's actual CMP/SETCC/TEST/JCC opcode values to recognize and
// rewrite the pattern.
type FusionOpcodes struct {
	Cmp, Setcc, Test, Jcc uint32
}

// Run applies both cleanups to every block of fn in place.
func Run(fn *cgir.CgFunction, fo FusionOpcodes) {
	removeFallthroughBranches(fn)
	fuseCompareBranch(fn, fo)
}

// removeFallthroughBranches deletes an unconditional branch that targets
// exactly the block lexically following it in fn.Blocks() order. Lowering
// always emits one after a conditional branch's false edge, and after
// every check pseudo-op's passing edge, most of which fall through in
// practice.
func removeFallthroughBranches(fn *cgir.CgFunction) {
	blocks := fn.Blocks()
	for idx, b := range blocks {
		last := b.LastInstr()
		if last == nil || !last.IsUnconditionalBranch {
			continue
		}
		if idx+1 >= len(blocks) {
			continue
		}
		next := blocks[idx+1]
		if branchTarget(last) == next {
			b.Remove(last)
		}
	}
}

func branchTarget(i *cgir.CgInstruction) *cgir.CgBasicBlock {
	for _, u := range i.Uses {
		if u.Kind == cgir.OperandBlockRef {
			return u.Block
		}
	}
	return nil
}

// fuseCompareBranch finds the four-instruction shape icmp lowering
// produces (CMP ; SETcc dst ; TEST dst,dst ; JCC ne, target) and collapses
// it to a single (CMP ; JCC cc, target), preserving the original
// comparison's condition code and deleting the now-dead SETcc/TEST. The
// rewritten JCC still reads the flags CMP itself set, so no liveness
// update beyond deleting the two intermediate instructions is needed.
func fuseCompareBranch(fn *cgir.CgFunction, fo FusionOpcodes) {
	for _, b := range fn.Blocks() {
		for i := b.FirstInstr(); i != nil; {
			next := i.Next()
			if i.Op == fo.Cmp {
				if tryFuseAt(b, i, fo) {
					// re-scan from the instruction after the original CMP,
					// since SETcc/TEST were just removed.
					next = i.Next()
				}
			}
			i = next
		}
	}
}

func tryFuseAt(b *cgir.CgBasicBlock, cmp *cgir.CgInstruction, fo FusionOpcodes) bool {
	setcc := cmp.Next()
	if setcc == nil || setcc.Op != fo.Setcc || len(setcc.Defs) == 0 {
		return false
	}
	dst := setcc.Defs[0]

	test := setcc.Next()
	if test == nil || test.Op != fo.Test || len(test.Uses) != 2 {
		return false
	}
	if !sameOperand(test.Uses[0], dst) || !sameOperand(test.Uses[1], dst) {
		return false
	}

	jcc := test.Next()
	if jcc == nil || jcc.Op != fo.Jcc || len(jcc.Uses) < 1 {
		return false
	}
	// The TEST/JNE pair only proves "dst != 0"; the original comparison's
	// own condition code, carried as SETcc's first immediate use operand,
	// is what the fused JCC must use instead of JNE's.
	var cc cgir.CgOperand
	for _, u := range setcc.Uses {
		if u.Kind == cgir.OperandImm {
			cc = u
			break
		}
	}

	newJcc := &cgir.CgInstruction{
		Op:       fo.Jcc,
		IsBranch: true,
		ReadsFlags: true,
		Uses:     append([]cgir.CgOperand{cc}, jcc.Uses[1:]...),
	}
	b.InsertAfter(jcc, newJcc)
	b.Remove(jcc)
	b.Remove(test)
	b.Remove(setcc)
	return true
}

func sameOperand(a, b cgir.CgOperand) bool {
	if a.Kind != cgir.OperandReg || b.Kind != cgir.OperandReg {
		return false
	}
	return a.Reg.ID == b.Reg.ID && a.Reg.IsVirtual == b.Reg.IsVirtual && a.Reg.Real == b.Reg.Real
}
