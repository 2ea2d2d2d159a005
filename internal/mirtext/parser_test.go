package mirtext

import (
	"testing"

	"github.com/mirvm/mirc/internal/mir"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleFunction(t *testing.T) {
	src := `
func %0 (i32, i32) -> i32 {
  var $2 i32;
  @entry:
  $2 = add($0, $1);
  return $2;
}
`
	ctx := mir.NewContext()
	mod, err := Parse(ctx, src)
	require.NoError(t, err)
	require.Len(t, mod.Functions, 1)
	fn := mod.Functions[0]
	require.Len(t, fn.Blocks(), 1)
	entry := fn.Blocks()[0]
	require.NotNil(t, entry.Terminator())
	require.Equal(t, mir.OpReturn, entry.Terminator().Op())
}

func TestParseForwardCall(t *testing.T) {
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
	mod, err := Parse(ctx, src)
	require.NoError(t, err)
	require.Len(t, mod.Functions, 2)
	// The argument's dread is emitted first; the call follows it.
	callInstr := mod.Functions[0].Blocks()[0].FirstInstr().Next()
	require.Equal(t, mir.OpCall, callInstr.Op())
	require.Equal(t, mir.I32, callInstr.Type())
}

func TestParseBranchesAndSwitch(t *testing.T) {
	src := `
func %0 (i32) -> i32 {
  @entry:
  br_if $0, @a, @b;
  @a:
  br @done;
  @b:
  switch $0, @done [0 -> @a, 1 -> @b];
  @done:
  return $0;
}
`
	ctx := mir.NewContext()
	mod, err := Parse(ctx, src)
	require.NoError(t, err)
	fn := mod.Functions[0]
	require.GreaterOrEqual(t, len(fn.Blocks()), 4)
}

func TestParseUnknownOpcodeFails(t *testing.T) {
	src := `
func %0 () -> void {
  @entry:
  $0 = bogus_op($0);
  return;
}
`
	ctx := mir.NewContext()
	_, err := Parse(ctx, src)
	require.Error(t, err)
}
