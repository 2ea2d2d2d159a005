package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirvm/mirc/internal/cgir"
)

func testRegFile() RegFile {
	return RegFile{
		Order: map[cgir.RegClass][]cgir.PhysReg{
			cgir.RegClassInt: {10, 11, 12, 13},
		},
		CalleeSaved: map[cgir.PhysReg]bool{12: true, 13: true},
	}
}

func buildChainFunction(n int) *cgir.CgFunction {
	fn := cgir.NewCgFunction(0, "chain")
	b := fn.NewBlock()
	prev := fn.NewVReg(cgir.RegClassInt)
	b.Append(&cgir.CgInstruction{Op: 1, Defs: []cgir.CgOperand{cgir.RegOperand(prev)}})
	for i := 0; i < n; i++ {
		next := fn.NewVReg(cgir.RegClassInt)
		b.Append(&cgir.CgInstruction{
			Op:   2,
			Defs: []cgir.CgOperand{cgir.RegOperand(next)},
			Uses: []cgir.CgOperand{cgir.RegOperand(prev)},
		})
		prev = next
	}
	b.Append(&cgir.CgInstruction{Op: 3, Uses: []cgir.CgOperand{cgir.RegOperand(prev)}, IsReturn: true})
	return fn
}

func TestAllocateFitsWithinFreeRegisters(t *testing.T) {
	fn := buildChainFunction(2)
	res, err := Allocate(fn, testRegFile())
	require.NoError(t, err)
	require.Len(t, res.Spilled, 0)
	require.Equal(t, 3, len(res.Assignment))
}

func TestAllocateSpillsWhenExhausted(t *testing.T) {
	fn := cgir.NewCgFunction(0, "wide")
	b := fn.NewBlock()
	var vregs []cgir.VReg
	for i := 0; i < 6; i++ {
		v := fn.NewVReg(cgir.RegClassInt)
		b.Append(&cgir.CgInstruction{Op: 1, Defs: []cgir.CgOperand{cgir.RegOperand(v)}})
		vregs = append(vregs, v)
	}
	uses := make([]cgir.CgOperand, len(vregs))
	for i, v := range vregs {
		uses[i] = cgir.RegOperand(v)
	}
	b.Append(&cgir.CgInstruction{Op: 2, Uses: uses, IsReturn: true})

	res, err := Allocate(fn, testRegFile())
	require.NoError(t, err)
	require.NotEmpty(t, res.Spilled, "expected at least one spill with only 4 physical registers for 6 live vregs")
}

func TestInsertPrologueEpilogueRoundsFrameSize(t *testing.T) {
	fn := buildChainFunction(1)
	res, err := Allocate(fn, testRegFile())
	require.NoError(t, err)

	err = InsertPrologueEpilogue(fn, res, PrologueEpilogueOptions{RegFile: testRegFile()})
	require.NoError(t, err)
	require.True(t, fn.Frame.FinalFrameSize%StackAlign == 0)
}

func TestInsertPrologueEpilogueFrameOverflow(t *testing.T) {
	fn := buildChainFunction(1)
	fn.Frame.NewStackObject(1<<20, 8, cgir.StackIDLocal)
	res, err := Allocate(fn, testRegFile())
	require.NoError(t, err)

	err = InsertPrologueEpilogue(fn, res, PrologueEpilogueOptions{RegFile: testRegFile(), MaxFrameSize: 4096})
	require.Error(t, err)
}
