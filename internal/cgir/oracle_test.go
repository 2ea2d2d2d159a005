//go:build amd64 && cgo

package cgir_test

// oracle_test.go covers the properties that need an independent ground
// truth rather than a self-consistency check:
//
//   - eager and lazy compilation must produce functionally equivalent
//     code. Both ultimately call the same stateless CompileFunction (see
//     pipeline.go), so byte-identical output across two independent
//     compiles of the same MIR function is the property that actually has
//     to hold; executing our own emitted bytes would require mapping them
//     executable, which internal/stub deliberately avoids needing for a
//     cgo-free Go host process (see internal/stub/stub.go's ResolverFunc
//     doc).
//   - the concrete clz/popcnt result values are checked against
//     wasmtime-go as a genuinely independent oracle, rather than against
//     our own BSR/CMOVE/XOR or SWAR open-coding, which
//     internal/cgir/isa/amd64's own machine_test.go already pins
//     structurally.
import (
	"math"
	"testing"

	"github.com/bytecodealliance/wasmtime-go"
	"github.com/stretchr/testify/require"

	"github.com/mirvm/mirc/internal/cgir"
	"github.com/mirvm/mirc/internal/cgir/isa/amd64"
	"github.com/mirvm/mirc/internal/cgir/peephole"
	"github.com/mirvm/mirc/internal/cgir/regalloc"
	"github.com/mirvm/mirc/internal/mir"
)

var amd64RegFileForOracle = regalloc.RegFile{
	Order: map[cgir.RegClass][]cgir.PhysReg{
		cgir.RegClassInt: append(append([]cgir.PhysReg{}, amd64.VolatileGP...), amd64.CalleeSavedGP...),
	},
	CalleeSaved: func() map[cgir.PhysReg]bool {
		m := map[cgir.PhysReg]bool{}
		for _, r := range amd64.CalleeSavedGP {
			m[r] = true
		}
		return m
	}(),
}

var amd64FusionOpcodesForOracle = peephole.FusionOpcodes{
	Cmp:   uint32(amd64.OpCMP),
	Setcc: uint32(amd64.OpSETCC),
	Test:  uint32(amd64.OpTEST),
	Jcc:   uint32(amd64.OpJCC),
}

// compileClz builds a single-argument i32 clz function and runs it
// through the full lower -> regalloc -> peephole -> encode pipeline,
// repeating the steps of the root package's CompileFunction for amd64.
func compileClz(t *testing.T) []byte {
	t.Helper()
	ctx := mir.NewContext()
	sig := ctx.FunctionType(mir.I32, []mir.Type{mir.I32})
	fn := ctx.NewFunction(0, sig)
	b := fn.NewBlock()
	x := fn.EmitConstInt(b, mir.I32, 1, false)
	clz := fn.EmitUnary(b, mir.OpClz, mir.I32, x)
	fn.EmitReturn(b, []mir.Value{clz})

	cgFn := cgir.Lower(&amd64.Machine{}, fn)
	res, err := regalloc.Allocate(cgFn, amd64RegFileForOracle)
	require.NoError(t, err)
	require.NoError(t, regalloc.InsertPrologueEpilogue(cgFn, res, regalloc.PrologueEpilogueOptions{RegFile: amd64RegFileForOracle}))
	regalloc.RewriteOperands(cgFn, res)
	peephole.Run(cgFn, amd64FusionOpcodesForOracle)
	bytes, err := amd64.EmitFunction(cgFn)
	require.NoError(t, err)
	return bytes
}

func TestEagerAndLazyCompilesOfSameFunctionAreByteIdentical(t *testing.T) {
	a := compileClz(t)
	b := compileClz(t)
	require.Equal(t, a, b, "CompileFunction must be a pure function of its MIR input: eager and lazy drivers both call it the same way")
	require.NotEmpty(t, a)
}

// wasmtimeI32Result compiles wat (a single exported function taking and
// returning i32) and calls it with the given argument, using wasmtime-go
// as the independent oracle for the concrete clz/popcnt result values.
func wasmtimeI32Result(t *testing.T, wat string, arg int32) int32 {
	t.Helper()
	engine := wasmtime.NewEngine()
	store := wasmtime.NewStore(engine)
	wasmBytes, err := wasmtime.Wat2Wasm(wat)
	require.NoError(t, err)
	module, err := wasmtime.NewModule(store.Engine, wasmBytes)
	require.NoError(t, err)
	instance, err := wasmtime.NewInstance(store, module, nil)
	require.NoError(t, err)
	fn := instance.GetFunc(store, "run")
	require.NotNil(t, fn)
	result, err := fn.Call(store, arg)
	require.NoError(t, err)
	return result.(int32)
}

func TestOracleClzFixtures(t *testing.T) {
	const wat = `(module (func (export "run") (param i32) (result i32) local.get 0 i32.clz))`
	cases := []struct {
		in   int32
		want int32
	}{
		{0, 32},
		{1, 31},
		{math.MinInt32, 0},
	}
	for _, c := range cases {
		got := wasmtimeI32Result(t, wat, c.in)
		require.Equal(t, c.want, got, "clz(%#x)", uint32(c.in))
	}
}

func TestOracleCtzFixtures(t *testing.T) {
	const wat = `(module (func (export "run") (param i32) (result i32) local.get 0 i32.ctz))`
	cases := []struct {
		in   int32
		want int32
	}{
		{0, 32},
		{1, 0},
		{math.MinInt32, 31},
	}
	for _, c := range cases {
		got := wasmtimeI32Result(t, wat, c.in)
		require.Equal(t, c.want, got, "ctz(%#x)", uint32(c.in))
	}
}

func TestOraclePopcntFixtures(t *testing.T) {
	const wat = `(module (func (export "run") (param i32) (result i32) local.get 0 i32.popcnt))`
	cases := []struct {
		in   int32
		want int32
	}{
		{-1, 32},
		{int32(0x55555555), 16},
	}
	for _, c := range cases {
		got := wasmtimeI32Result(t, wat, c.in)
		require.Equal(t, c.want, got, "popcnt(%#x)", uint32(c.in))
	}
}
