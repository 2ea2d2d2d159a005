package mirc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirvm/mirc/internal/mir"
	"github.com/mirvm/mirc/internal/mirtext"
	"github.com/mirvm/mirc/internal/wasmfront"
)

// TestCompileFunctionProducesBytes exercises the full per-function
// pipeline (lower -> regalloc -> peephole -> encode) over a MIR function
// parsed from the text form.
func TestCompileFunctionProducesBytes(t *testing.T) {
	src := `
func %0 (i32, i32) -> i32 {
  var $2 i32;
  @entry:
  $2 = add($0, $1);
  return $2;
}
`
	ctx := mir.NewContext()
	mod, err := mirtext.Parse(ctx, src)
	require.NoError(t, err)

	cfg := DefaultConfig()
	bytes, err := CompileFunction(cfg, mod.Functions[0])
	require.NoError(t, err)
	require.NotEmpty(t, bytes)
}

// TestCompileModuleEagerCompilesEveryFunctionOnce checks that every
// function of a two-function module with a forward call gets non-empty
// code. It does not count compiles or check their order; the scheduler's
// TestCompileEagerPublishesEveryFunction counts the calls.
func TestCompileModuleEagerCompilesEveryFunctionOnce(t *testing.T) {
	src := `
func %0 (i32) -> i32 {
  @entry:
  return call %1 ($0);
}
func %1 (i32) -> i32 {
  @entry:
  return $0;
}
`
	ctx := mir.NewContext()
	mod, err := mirtext.Parse(ctx, src)
	require.NoError(t, err)

	cfg := DefaultConfig()
	st, code, err := CompileModuleEager(cfg, mod)
	require.NoError(t, err)
	require.Len(t, code, 2)
	for i := range code {
		require.NotEmpty(t, code[i])
	}
	_ = st
}

// TestNewLazyDriverResolvesStubHitExactlyOnce checks that N goroutines
// concurrently invoking the same never-compiled function all receive the
// same address and that code was produced, through the real pipeline
// rather than a mock backend. The compile count is not observed here; the
// scheduler package's TestResolveStubHitCompilesOnceUnderConcurrency
// counts it.
func TestNewLazyDriverResolvesStubHitExactlyOnce(t *testing.T) {
	src := `
func %0 (i32, i32) -> i32 {
  var $2 i32;
  @entry:
  $2 = add($0, $1);
  return $2;
}
`
	ctx := mir.NewContext()
	mod, err := mirtext.Parse(ctx, src)
	require.NoError(t, err)

	cfg := DefaultConfig()
	driver, code := NewLazyDriver(cfg, mod, 0x10000)
	defer driver.Shutdown()

	const n = 8
	results := make(chan int64, n)
	for i := 0; i < n; i++ {
		go func() {
			addr, err := driver.ResolveStubHit(0)
			require.NoError(t, err)
			results <- addr
		}()
	}
	for i := 0; i < n; i++ {
		require.Equal(t, int64(0), <-results)
	}
	require.NotEmpty(t, code[0])
}

func TestFrontendOptionsTranslatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GasMeteringEnabled = true
	cfg.GasCosts = GasCostTable{"add": 3, "not_a_real_op": 9}
	cfg.Layout.GasOffset = 0x88

	opt := FrontendOptions(cfg, wasmfront.HostCallbacks{SetException: 7})
	require.Equal(t, int(StackCheckSoftCounted), opt.StackCheckMode)
	require.Equal(t, uint64(3), opt.GasCosts[mir.OpAdd])
	require.Len(t, opt.GasCosts, 1, "unknown mnemonics are dropped")
	require.Equal(t, int64(0x88), opt.Layout.GasOffset)
	require.Equal(t, int32(7), opt.Hosts.SetException)
	require.False(t, opt.CPUExceptionMode, "soft memory checks imply software exception returns")
}
