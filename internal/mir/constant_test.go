package mir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContext_ConstI_PerfectCanonicalizer(t *testing.T) {
	c := NewContext()
	a := c.ConstI(42, 32, true)
	b := c.ConstI(42, 32, true)
	require.Same(t, a, b)

	d := c.ConstI(42, 64, true)
	require.NotSame(t, a, d, "bit width is part of the interning key")

	e := c.ConstI(0xFFFFFFFF, 32, false)
	f := c.ConstI(0xFFFFFFFFFFFFFFFF, 32, false)
	require.Same(t, e, f, "values must be truncated to width before interning")
}

func TestConstantInt_SignExtended(t *testing.T) {
	c := NewContext()
	negOne32 := c.ConstI(0xFFFFFFFF, 32, true)
	require.Equal(t, int64(-1), negOne32.SignExtended())

	intMin32 := c.ConstI(0x80000000, 32, true)
	require.Equal(t, int64(math.MinInt32), intMin32.SignExtended())

	unsignedMax := c.ConstI(0xFFFFFFFF, 32, false)
	require.Equal(t, int64(0xFFFFFFFF), unsignedMax.SignExtended())
}

func TestContext_ConstF_Canonicalizer(t *testing.T) {
	c := NewContext()
	a := c.ConstF32(1.5)
	b := c.ConstF32(1.5)
	require.Same(t, a, b)
	require.Equal(t, float64(1.5), a.Float64())

	d := c.ConstF64(1.5)
	require.NotSame(t, a, d, "f32 and f64 bit patterns must not alias even with the same mathematical value")
	require.Equal(t, 1.5, d.Float64())
}
