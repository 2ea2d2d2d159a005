package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterner_PerfectCanonicalizer(t *testing.T) {
	in := NewInterner[string, int]("test")
	a := in.Intern("k1", func() int { return 1 })
	b := in.Intern("k1", func() int { return 2 })
	require.Same(t, a, b, "equal keys must yield the same canonical pointer")
	require.Equal(t, 1, *b, "the second constructor must not run once a key is already interned")

	c := in.Intern("k2", func() int { return 3 })
	require.NotSame(t, a, c)
	require.Equal(t, 2, in.Len())
}

func TestInterner_Reset(t *testing.T) {
	in := NewInterner[string, int]("test")
	in.Intern("k1", func() int { return 1 })
	in.Reset()
	require.Equal(t, 0, in.Len())
	p := in.Intern("k1", func() int { return 9 })
	require.Equal(t, 9, *p)
}
