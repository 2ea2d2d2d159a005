package mir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSimpleFunction(t *testing.T, c *Context) *Function {
	t.Helper()
	ptrI64 := c.PointerType(I64, 0)
	sig := c.FunctionType(I32, []Type{ptrI64, I32})
	fn := c.NewFunction(0, sig)

	instPtr := fn.NewVariable(ptrI64)
	require.Equal(t, InstancePointerVar, instPtr.Index)
	param0 := fn.NewVariable(I32)
	require.Equal(t, 1, param0.Index)

	entry := fn.NewBlock()
	excReturn := fn.NewBlock()
	handling := fn.NewBlock()
	excIDVar := fn.NewVariable(I32)
	fn.SetExceptionPlumbing(int32(excIDVar.Index), handling, excReturn)

	x := fn.EmitDRead(entry, param0)
	zero := fn.EmitConstInt(entry, I32, 0, true)
	cond := fn.EmitIcmp(entry, ICondEq, x, zero)

	okBlk := fn.NewBlock()
	fn.EmitBrIf(entry, cond, fn.ExceptionSetBlock(ErrIntegerDivByZero), okBlk)
	fn.EmitReturn(okBlk, []Value{x})
	fn.EmitUnreachable(handling)
	fn.EmitReturn(excReturn, []Value{zero})

	return fn
}

func TestFunction_BuildAndCFG(t *testing.T) {
	c := NewContext()
	fn := buildSimpleFunction(t, c)

	entry := fn.Blocks()[0]
	term := entry.Terminator()
	require.NotNil(t, term)
	require.Equal(t, OpBrIf, term.Op())

	setBlk := term.Target()
	require.True(t, setBlk.IsExceptionSet)
	require.Equal(t, ErrIntegerDivByZero, setBlk.ExceptionCode)

	require.Len(t, entry.Succs(), 2)
	require.Contains(t, setBlk.Preds(), entry)
}

func TestFunction_ExceptionSetBlock_Memoized(t *testing.T) {
	c := NewContext()
	fn := buildSimpleFunction(t, c)
	again := fn.ExceptionSetBlock(ErrIntegerDivByZero)
	require.Same(t, fn.ExceptionSetBlock(ErrIntegerDivByZero), again)

	other := fn.ExceptionSetBlock(ErrOutOfBoundsMemory)
	require.NotSame(t, again, other)
	require.Equal(t, int64(ErrOutOfBoundsMemory), other.FirstInstr().ConstInt().SignExtended())
}

func TestBasicBlock_PredsDeduped(t *testing.T) {
	c := NewContext()
	ptrI64 := c.PointerType(I64, 0)
	sig := c.FunctionType(Void, []Type{ptrI64})
	fn := c.NewFunction(0, sig)
	fn.NewVariable(ptrI64)

	entry := fn.NewBlock()
	target := fn.NewBlock()
	one := fn.EmitConstInt(entry, I32, 1, true)
	fn.EmitSwitch(entry, one, []*BasicBlock{target, target, target})
	require.Len(t, entry.Succs(), 3, "successors permit duplicates for multi-way branches")
	require.Len(t, target.Preds(), 1, "but predecessors are deduplicated")
}
