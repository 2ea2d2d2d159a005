package wasmfront

import (
	"testing"

	"github.com/mirvm/mirc/internal/mir"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		StackCheckMode:         0,
		StackCostLimit:         1 << 20,
		PerFunctionCost:        1,
		CacheMemoryBaseAndSize: true,
		Layout: Layout{
			StackCostOffset:     0x10,
			MemoryBaseOffset:    0x20,
			MemorySizeOffset:    0x28,
			ExceptionOffset:     0x30,
		},
	}
}

// buildAddFunction simulates what an external bytecode visitor would do for
// a function `(i32, i32) -> i32 { return local.get 0 + local.get 1 }`.
func buildAddFunction(t *testing.T) (*mir.Context, *mir.Module, *Builder) {
	ctx := mir.NewContext()
	mod := mir.NewModule()
	sig := ctx.FunctionType(mir.I32, []mir.Type{ctx.PointerType(mir.I8, 0), mir.I32, mir.I32})
	b := NewBuilder(ctx, mod, 0, sig, nil, testOptions())

	b.ReadLocal(0)
	b.ReadLocal(1)
	b.Binary(mir.OpAdd, mir.I32)
	v := b.Pop()
	b.Return([]Operand{ValueOperand(v)})
	b.End() // close func-entry marker
	b.Finalize(ctx.FunctionType(mir.Void, []mir.Type{ctx.PointerType(mir.I8, 0), mir.I32}))
	return ctx, mod, b
}

func TestBuilderSimpleAdd(t *testing.T) {
	_, mod, b := buildAddFunction(t)
	require.Len(t, mod.Functions, 1)
	fn := mod.Functions[0]
	require.NotNil(t, fn)
	require.NotNil(t, b.fn.ExceptionHandlingBlock())
	require.NotNil(t, b.fn.ExceptionReturnBlock())
	require.Greater(t, len(fn.Blocks()), 1)
}

func TestBuilderDivTrapWiring(t *testing.T) {
	ctx := mir.NewContext()
	mod := mir.NewModule()
	sig := ctx.FunctionType(mir.I32, []mir.Type{ctx.PointerType(mir.I8, 0), mir.I32, mir.I32})
	b := NewBuilder(ctx, mod, 0, sig, nil, testOptions())

	b.ReadLocal(0)
	b.ReadLocal(1)
	b.DivS(mir.I32, true)
	v := b.Pop()
	b.Return([]Operand{ValueOperand(v)})
	b.End()
	b.Finalize(ctx.FunctionType(mir.Void, []mir.Type{ctx.PointerType(mir.I8, 0), mir.I32}))

	foundDivZero, foundOverflow := false, false
	for _, blk := range b.fn.Blocks() {
		if blk.IsExceptionSet {
			switch blk.ExceptionCode {
			case mir.ErrIntegerDivByZero:
				foundDivZero = true
			case mir.ErrIntegerOverflow:
				foundOverflow = true
			}
		}
	}
	require.True(t, foundDivZero)
	require.True(t, foundOverflow)
}

func TestBuilderIfElseMerge(t *testing.T) {
	ctx := mir.NewContext()
	mod := mir.NewModule()
	sig := ctx.FunctionType(mir.I32, []mir.Type{ctx.PointerType(mir.I8, 0), mir.I32})
	b := NewBuilder(ctx, mod, 0, sig, nil, testOptions())

	b.ReadLocal(0)
	cond := b.Pop()
	b.If(cond, mir.I32)
	b.ConstI(mir.I32, 1, true)
	v1 := b.Pop()
	b.Push(v1)
	b.Else()
	b.ConstI(mir.I32, 2, true)
	v2 := b.Pop()
	b.Push(v2)
	b.End()
	res := b.Pop()
	b.Return([]Operand{ValueOperand(res)})
	b.End()
	b.Finalize(ctx.FunctionType(mir.Void, []mir.Type{ctx.PointerType(mir.I8, 0), mir.I32}))

	require.Greater(t, len(b.fn.Blocks()), 3)
}

func TestChecksTerminateTheirBlocks(t *testing.T) {
	ctx := mir.NewContext()
	mod := mir.NewModule()
	sig := ctx.FunctionType(mir.I32, []mir.Type{ctx.PointerType(mir.I8, 0), mir.I32, mir.I32})
	b := NewBuilder(ctx, mod, 0, sig, nil, testOptions())

	b.ReadLocal(0)
	b.ReadLocal(1)
	b.DivS(mir.I32, true)
	v := b.Pop()
	b.Return([]Operand{ValueOperand(v)})
	b.End()
	b.Finalize(ctx.FunctionType(mir.Void, []mir.Type{ctx.PointerType(mir.I8, 0), mir.I32}))

	// Every terminated block's successor set must exactly match its
	// terminator's targets; check pseudo-ops carry {set-block, cont}.
	var sawCheck bool
	for _, blk := range b.fn.Blocks() {
		term := blk.Terminator()
		if term == nil {
			continue
		}
		var want []*mir.BasicBlock
		switch term.Op() {
		case mir.OpJump:
			want = []*mir.BasicBlock{term.Target()}
		case mir.OpBrIf:
			want = []*mir.BasicBlock{term.Target(), term.ElseTarget()}
		case mir.OpSwitch:
			want = term.SwitchTargets()
		case mir.OpReturn, mir.OpUnreachable:
			want = nil
		default: // check pseudo-ops
			sawCheck = true
			want = []*mir.BasicBlock{term.Target(), term.ElseTarget()}
		}
		require.ElementsMatch(t, want, blk.Succs(),
			"block %d's successors must match its terminator's targets", blk.Index)
	}
	require.True(t, sawCheck, "the div_s body must contain check terminators")
}

func TestDivSOverflowCheckCarriesBothOperands(t *testing.T) {
	ctx := mir.NewContext()
	mod := mir.NewModule()
	sig := ctx.FunctionType(mir.I32, []mir.Type{ctx.PointerType(mir.I8, 0), mir.I32, mir.I32})
	b := NewBuilder(ctx, mod, 0, sig, nil, testOptions())

	b.ReadLocal(0)
	b.ReadLocal(1)
	b.DivS(mir.I32, true)
	v := b.Pop()
	b.Return([]Operand{ValueOperand(v)})
	b.End()
	b.Finalize(ctx.FunctionType(mir.Void, []mir.Type{ctx.PointerType(mir.I8, 0), mir.I32}))

	var found bool
	for _, blk := range b.fn.Blocks() {
		for i := blk.FirstInstr(); i != nil; i = i.Next() {
			if i.Op() == mir.OpCheckSignedDivOverflow {
				found = true
				op1, op2 := i.CheckOperands()
				require.NotNil(t, op1, "dividend operand")
				require.NotNil(t, op2, "divisor operand: MIN/-1 needs both to decide")
			}
		}
	}
	require.True(t, found)
}
