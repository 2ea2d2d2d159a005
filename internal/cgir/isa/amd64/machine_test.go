package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirvm/mirc/internal/cgir"
	"github.com/mirvm/mirc/internal/mir"
)

func TestLowerClzEmitsBsrCmoveXorSequence(t *testing.T) {
	ctx := mir.NewContext()
	sig := ctx.FunctionType(mir.I32, []mir.Type{mir.I32})
	fn := ctx.NewFunction(0, sig)
	b := fn.NewBlock()
	x := fn.EmitConstInt(b, mir.I32, 1, false)
	clzI := fn.EmitUnary(b, mir.OpClz, mir.I32, x)
	fn.EmitReturn(b, []mir.Value{clzI})

	target := &Machine{}
	cgFn := cgir.Lower(target, fn)

	var ops []Opcode
	for _, blk := range cgFn.Blocks() {
		for i := blk.FirstInstr(); i != nil; i = i.Next() {
			ops = append(ops, Opcode(i.Op))
		}
	}
	require.Contains(t, ops, OpBSR)
	require.Contains(t, ops, OpCMOVCC)
	require.Contains(t, ops, OpXOR)
}

func TestLowerPopcntEmitsSWARSequence(t *testing.T) {
	ctx := mir.NewContext()
	sig := ctx.FunctionType(mir.I32, []mir.Type{mir.I32})
	fn := ctx.NewFunction(0, sig)
	b := fn.NewBlock()
	x := fn.EmitConstInt(b, mir.I32, 0x55555555, false)
	pc := fn.EmitUnary(b, mir.OpPopcnt, mir.I32, x)
	fn.EmitReturn(b, []mir.Value{pc})

	target := &Machine{}
	cgFn := cgir.Lower(target, fn)

	var count int
	for _, blk := range cgFn.Blocks() {
		for i := blk.FirstInstr(); i != nil; i = i.Next() {
			if Opcode(i.Op) == OpIMUL {
				count++
			}
		}
	}
	require.Equal(t, 1, count, "the SWAR sequence multiplies exactly once")
}

func TestRegClassForSelectsFloatBank(t *testing.T) {
	m := &Machine{}
	require.Equal(t, cgir.RegClassFloat, m.RegClassFor(mir.F64))
	require.Equal(t, cgir.RegClassInt, m.RegClassFor(mir.I64))
}

// checkFunction builds a one-block function with exception plumbing so a
// single check pseudo-op can be lowered in isolation.
func checkFunction(t *testing.T) (*mir.Context, *mir.Function) {
	t.Helper()
	ctx := mir.NewContext()
	sig := ctx.FunctionType(mir.I32, []mir.Type{mir.I32, mir.I32})
	fn := ctx.NewFunction(0, sig)
	fn.NewBlock() // entry
	handling := fn.NewBlock()
	ret := fn.NewBlock()
	exnID := fn.NewVariable(mir.I32)
	fn.SetExceptionPlumbing(int32(exnID.Index), handling, ret)
	return ctx, fn
}

// loweredJccConds collects the condition-code immediates of every JCC in
// the lowered function, in emission order.
func loweredJccConds(fn *mir.Function) []CondCode {
	cgFn := cgir.Lower(&Machine{}, fn)
	var conds []CondCode
	for _, blk := range cgFn.Blocks() {
		for i := blk.FirstInstr(); i != nil; i = i.Next() {
			if Opcode(i.Op) == OpJCC {
				conds = append(conds, CondCode(i.Uses[0].Imm))
			}
		}
	}
	return conds
}

func loweredOps(fn *mir.Function) []Opcode {
	cgFn := cgir.Lower(&Machine{}, fn)
	var ops []Opcode
	for _, blk := range cgFn.Blocks() {
		for i := blk.FirstInstr(); i != nil; i = i.Next() {
			ops = append(ops, Opcode(i.Op))
		}
	}
	return ops
}

func TestLowerCheckDivZeroTrapsOnEqual(t *testing.T) {
	_, fn := checkFunction(t)
	entry := fn.Blocks()[0]
	y := fn.EmitConstInt(entry, mir.I32, 7, true)
	zero := fn.EmitConstInt(entry, mir.I32, 0, true)
	cont := fn.NewBlock()
	fn.EmitCheck(entry, mir.OpCheckDivZero, mir.ErrIntegerDivByZero, y, zero, cont)
	fn.EmitReturn(cont, []mir.Value{y})

	conds := loweredJccConds(fn)
	require.Contains(t, conds, CondE, "division traps exactly when the divisor equals zero")
	require.NotContains(t, conds, CondNE)
}

func TestLowerCheckGasTrapsOnBelow(t *testing.T) {
	_, fn := checkFunction(t)
	entry := fn.Blocks()[0]
	gas := fn.EmitConstInt(entry, mir.I64, 100, false)
	delta := fn.EmitConstInt(entry, mir.I64, 3, false)
	cont := fn.NewBlock()
	fn.EmitCheck(entry, mir.OpCheckGas, mir.ErrGasLimitExceeded, gas, delta, cont)
	fn.EmitReturn(cont, nil)

	require.Contains(t, loweredJccConds(fn), CondB, "gas traps when gas_left < delta")
}

func TestLowerCheckMemoryAccessTrapsOnAbove(t *testing.T) {
	_, fn := checkFunction(t)
	entry := fn.Blocks()[0]
	end := fn.EmitConstInt(entry, mir.I64, 4096, false)
	size := fn.EmitConstInt(entry, mir.I64, 65536, false)
	cont := fn.NewBlock()
	fn.EmitCheck(entry, mir.OpCheckMemoryAccess, mir.ErrOutOfBoundsMemory, end, size, cont)
	fn.EmitReturn(cont, nil)

	require.Contains(t, loweredJccConds(fn), CondA, "access traps when its end exceeds the memory size")
}

func TestLowerCheckNaNUsesUcomisAndParity(t *testing.T) {
	_, fn := checkFunction(t)
	entry := fn.Blocks()[0]
	x := fn.EmitConstFloat32(entry, 1.5)
	cont := fn.NewBlock()
	fn.EmitCheck(entry, mir.OpCheckFPToIntNaN, mir.ErrInvalidConversionToInteger, x, nil, cont)
	fn.EmitReturn(cont, nil)

	require.Contains(t, loweredOps(fn), OpUCOMISS)
	require.Contains(t, loweredJccConds(fn), CondP, "a NaN operand raises the parity flag")
}

func TestLowerCheckFPRangeDirections(t *testing.T) {
	_, fn := checkFunction(t)
	entry := fn.Blocks()[0]
	x := fn.EmitConstFloat64(entry, 0)
	lo := fn.EmitConstFloat64(entry, -2147483649.0)
	hi := fn.EmitConstFloat64(entry, 2147483648.0)
	mid := fn.NewBlock()
	fn.EmitCheckFPRange(entry, mir.ErrIntegerOverflow, x, lo, false, mid)
	cont := fn.NewBlock()
	fn.EmitCheckFPRange(mid, mir.ErrIntegerOverflow, x, hi, true, cont)
	fn.EmitReturn(cont, nil)

	conds := loweredJccConds(fn)
	require.Contains(t, conds, CondBE, "lower bound traps on value <= lo")
	require.Contains(t, conds, CondAE, "upper bound traps on value >= hi")
}

func TestLowerCheckedAddBranchesOnOverflowFlag(t *testing.T) {
	_, fn := checkFunction(t)
	entry := fn.Blocks()[0]
	x := fn.EmitConstInt(entry, mir.I64, 1, true)
	y := fn.EmitConstInt(entry, mir.I64, 2, true)
	r := fn.EmitCheckedArith(entry, mir.OpWasmAddOverflow, mir.I64, x, y)
	cont := fn.NewBlock()
	fn.EmitCheck(entry, mir.OpCheckArithOverflow, mir.ErrIntegerOverflow, r, nil, cont)
	fn.EmitReturn(cont, []mir.Value{r})

	require.Contains(t, loweredJccConds(fn), CondO, "checked arithmetic branches on the overflow flag")
}

func TestLowerSignedDivOverflowTestsBothOperands(t *testing.T) {
	_, fn := checkFunction(t)
	entry := fn.Blocks()[0]
	x := fn.EmitConstInt(entry, mir.I32, 5, true)
	y := fn.EmitConstInt(entry, mir.I32, 3, true)
	cont := fn.NewBlock()
	fn.EmitCheck(entry, mir.OpCheckSignedDivOverflow, mir.ErrIntegerOverflow, x, y, cont)
	fn.EmitReturn(cont, nil)

	ops := loweredOps(fn)
	var xors, ors int
	for _, op := range ops {
		switch op {
		case OpXOR:
			xors++
		case OpOR:
			ors++
		}
	}
	require.GreaterOrEqual(t, xors, 2, "both dividend-vs-MIN and divisor-vs--1 must be tested")
	require.GreaterOrEqual(t, ors, 1)
	require.Contains(t, loweredJccConds(fn), CondE)
}

func TestLowerFcmpOrderedEqFoldsParity(t *testing.T) {
	ctx := mir.NewContext()
	sig := ctx.FunctionType(mir.I32, []mir.Type{mir.F64, mir.F64})
	fn := ctx.NewFunction(0, sig)
	b := fn.NewBlock()
	x := fn.EmitConstFloat64(b, 1)
	y := fn.EmitConstFloat64(b, 2)
	cmp := fn.EmitFcmp(b, mir.FCondEq, x, y)
	fn.EmitReturn(b, []mir.Value{cmp})

	cgFn := cgir.Lower(&Machine{}, fn)
	var setConds []CondCode
	var haveAnd bool
	for _, blk := range cgFn.Blocks() {
		for i := blk.FirstInstr(); i != nil; i = i.Next() {
			switch Opcode(i.Op) {
			case OpSETCC:
				setConds = append(setConds, CondCode(i.Uses[0].Imm))
			case OpAND:
				haveAnd = true
			}
		}
	}
	require.Contains(t, setConds, CondE)
	require.Contains(t, setConds, CondNP, "ordered equality must reject NaN via the parity flag")
	require.True(t, haveAnd)
}

func TestLowerRemSNormalizesNegOneDivisor(t *testing.T) {
	ctx := mir.NewContext()
	sig := ctx.FunctionType(mir.I32, []mir.Type{mir.I32, mir.I32})
	fn := ctx.NewFunction(0, sig)
	b := fn.NewBlock()
	x := fn.EmitConstInt(b, mir.I32, 5, true)
	y := fn.EmitConstInt(b, mir.I32, 3, true)
	rem := fn.EmitBinary(b, mir.OpRemS, mir.I32, x, y)
	fn.EmitReturn(b, []mir.Value{rem})

	require.Contains(t, loweredOps(fn), OpCMOVCC, "rem_s replaces a -1 divisor with 1 before IDIV")
}
