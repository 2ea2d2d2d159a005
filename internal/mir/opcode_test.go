package mir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpcode_TerminatorsAndStatements(t *testing.T) {
	for _, op := range []Opcode{OpJump, OpBrIf, OpSwitch, OpReturn, OpUnreachable} {
		require.True(t, op.IsTerminator(), op.String())
		require.True(t, op.IsStatement(), op.String())
	}
	for _, op := range []Opcode{OpAdd, OpIcmp, OpConstant, OpDRead, OpLoad, OpCall} {
		require.False(t, op.IsTerminator(), op.String())
		require.False(t, op.IsStatement(), op.String())
	}
	require.True(t, OpStore.IsStatement())
	require.False(t, OpStore.IsTerminator())
}

func TestOpcode_String(t *testing.T) {
	require.Equal(t, "add", OpAdd.String())
	require.Equal(t, "br_if", OpBrIf.String())
	require.Equal(t, "unknown", Opcode(999999).String())
}

func TestErrorCode_String(t *testing.T) {
	require.Equal(t, "integer-overflow", ErrIntegerOverflow.String())
	require.Equal(t, "unknown-error-code", ErrorCode(999).String())
}
