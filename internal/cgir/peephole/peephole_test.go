package peephole

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirvm/mirc/internal/cgir"
)

const (
	opCMP uint32 = iota + 100
	opSETCC
	opTEST
	opJCC
	opJMP
)

func testFusionOpcodes() FusionOpcodes {
	return FusionOpcodes{Cmp: opCMP, Setcc: opSETCC, Test: opTEST, Jcc: opJCC}
}

func TestFuseCompareBranchCollapsesFourInstructions(t *testing.T) {
	fn := cgir.NewCgFunction(0, "f")
	entry := fn.NewBlock()
	target := fn.NewBlock()
	fn.AddSucc(entry, target)

	a := fn.NewVReg(cgir.RegClassInt)
	bv := fn.NewVReg(cgir.RegClassInt)
	dst := fn.NewVReg(cgir.RegClassInt)

	entry.Append(&cgir.CgInstruction{Op: opCMP, Uses: []cgir.CgOperand{cgir.RegOperand(a), cgir.RegOperand(bv)}, ClobbersFlags: true})
	entry.Append(&cgir.CgInstruction{Op: opSETCC, Defs: []cgir.CgOperand{cgir.RegOperand(dst)}, Uses: []cgir.CgOperand{cgir.ImmOperand(4)}})
	entry.Append(&cgir.CgInstruction{Op: opTEST, Uses: []cgir.CgOperand{cgir.RegOperand(dst), cgir.RegOperand(dst)}})
	entry.Append(&cgir.CgInstruction{Op: opJCC, Uses: []cgir.CgOperand{cgir.ImmOperand(1), cgir.BlockOperand(target)}, IsBranch: true})

	Run(fn, testFusionOpcodes())

	var ops []uint32
	for i := entry.FirstInstr(); i != nil; i = i.Next() {
		ops = append(ops, i.Op)
	}
	require.Equal(t, []uint32{opCMP, opJCC}, ops)
}

func TestRemoveFallthroughBranchDeletesRedundantJump(t *testing.T) {
	fn := cgir.NewCgFunction(0, "f")
	entry := fn.NewBlock()
	next := fn.NewBlock()
	fn.AddSucc(entry, next)

	entry.Append(&cgir.CgInstruction{Op: opJMP, Uses: []cgir.CgOperand{cgir.BlockOperand(next)}, IsBranch: true, IsUnconditionalBranch: true})

	Run(fn, testFusionOpcodes())
	require.Nil(t, entry.LastInstr())
}
