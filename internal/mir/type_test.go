package mir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContext_PointerType_PerfectCanonicalizer(t *testing.T) {
	c := NewContext()
	a := c.PointerType(I32, 0)
	b := c.PointerType(I32, 0)
	require.Equal(t, a, b, "equal (elem, addrSpace) pairs must intern to the same Type")

	d := c.PointerType(I64, 0)
	require.NotEqual(t, a, d)

	e := c.PointerType(I32, 1)
	require.NotEqual(t, a, e, "address space is part of the structural key")

	require.Equal(t, PointerType{Elem: I32, AddrSpace: 0}, c.PointerTypeOf(a))
}

func TestContext_FunctionType_PerfectCanonicalizer(t *testing.T) {
	c := NewContext()
	a := c.FunctionType(I32, []Type{I64, F32})
	b := c.FunctionType(I32, []Type{I64, F32})
	require.Equal(t, a, b)

	d := c.FunctionType(I32, []Type{F32, I64})
	require.NotEqual(t, a, d, "parameter order is part of the structural key")

	nested := c.PointerType(a, 0)
	nested2 := c.PointerType(b, 0)
	require.Equal(t, nested, nested2, "pointer-to-function-type must also canonicalize structurally")
}

func TestType_ScalarProperties(t *testing.T) {
	require.True(t, I32.IsInt())
	require.True(t, I64.IsInt())
	require.False(t, F32.IsInt())
	require.True(t, F32.IsFloat())
	require.Equal(t, 32, I32.Bits())
	require.Equal(t, 64, F64.Bits())
	require.Equal(t, 4, I32.Size())
	require.Equal(t, "i32", I32.String())
	require.Equal(t, "void", Void.String())
}
