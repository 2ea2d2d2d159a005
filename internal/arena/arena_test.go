package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArena_AllocateAcrossPages(t *testing.T) {
	a := New[int]("test")
	var ptrs []*int
	for i := 0; i < pageSize*3+7; i++ {
		p := a.Allocate()
		*p = i
		ptrs = append(ptrs, p)
	}
	require.Equal(t, pageSize*3+7, a.Len())
	for i, p := range ptrs {
		require.Equal(t, i, *p)
	}
	for i := range ptrs {
		require.Equal(t, i, *a.View(i))
	}
}

func TestArena_ResetReusesPages(t *testing.T) {
	a := New[int]("test")
	for i := 0; i < pageSize+1; i++ {
		a.Allocate()
	}
	require.Equal(t, 2, cap(a.pages))
	a.Reset()
	require.Equal(t, 0, a.Len())
	p := a.Allocate()
	require.Equal(t, 0, *p, "reset must zero reused backing storage")
	require.Equal(t, 2, cap(a.pages), "reset must keep the underlying page capacity for reuse")
}

type structT struct {
	X, Y int
	S    string
}

func TestArena_ZeroedOnAllocate(t *testing.T) {
	a := New[structT]("struct")
	p := a.Allocate()
	require.Equal(t, structT{}, *p)
	p.X, p.Y, p.S = 1, 2, "hi"
	q := a.Allocate()
	require.Equal(t, structT{}, *q, "a fresh allocation must not see a previous allocation's contents")
}
