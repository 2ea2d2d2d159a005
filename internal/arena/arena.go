// Package arena implements the per-thread bump allocator that every MIR
// compile uses. Nothing allocated from an Arena is ever freed individually;
// the whole arena is dropped (via Reset, for reuse across functions on the
// same worker) when the compile of one function completes.
package arena

import (
	"unsafe"

	"github.com/mirvm/mirc/internal/mirdebug"
)

const pageSize = 512

// Arena is a monotonic bump allocator for values of type T. It is not
// thread-safe: each compile thread owns its own Arena(s), grouped in a
// mir.Context (see internal/mir/context.go).
type Arena[T any] struct {
	pages     []*[pageSize]T
	index     int
	allocated int

	// highWater and label are only maintained when
	// mirdebug.ArenaTrackingEnabled is true.
	highWater int
	label     string
}

// New returns an empty Arena ready to allocate T.
func New[T any](label string) Arena[T] {
	var a Arena[T]
	a.label = label
	a.Reset()
	return a
}

// Allocate returns a pointer to a fresh, zeroed T carved out of the arena.
// The returned pointer is valid until the arena is Reset.
func (a *Arena[T]) Allocate() *T {
	if a.index == pageSize {
		if len(a.pages) == cap(a.pages) {
			a.pages = append(a.pages, new([pageSize]T))
		} else {
			i := len(a.pages)
			a.pages = a.pages[:i+1]
			if a.pages[i] == nil {
				a.pages[i] = new([pageSize]T)
			}
		}
		a.index = 0
	}
	ret := &a.pages[len(a.pages)-1][a.index]
	a.index++
	a.allocated++
	if mirdebug.ArenaTrackingEnabled && a.allocated > a.highWater {
		a.highWater = a.allocated
	}
	return ret
}

// View returns the i-th allocated T, in allocation order. Used by MIR/CGIR
// code that stores dense indices instead of pointers.
func (a *Arena[T]) View(i int) *T {
	page, index := i/pageSize, i%pageSize
	return &a.pages[page][index]
}

// Len returns the number of T allocated since the last Reset.
func (a *Arena[T]) Len() int { return a.allocated }

// Reset releases every allocation made from this arena. Call this exactly
// once per function compile, after the function's code generation and
// linking are complete, never while any goroutine may still read the
// arena's contents.
func (a *Arena[T]) Reset() {
	for _, page := range a.pages {
		var zero T
		for i := range page {
			page[i] = zero
		}
	}
	a.pages = a.pages[:0]
	a.index = pageSize
	a.allocated = 0
}

// ByteFootprint estimates the bytes currently retained by this arena's
// backing pages, used only by the debug allocation tracker.
func (a *Arena[T]) ByteFootprint() uintptr {
	var zero T
	return uintptr(len(a.pages)) * pageSize * unsafe.Sizeof(zero)
}

// HighWaterMark returns the largest Len() ever observed, when
// mirdebug.ArenaTrackingEnabled is set; zero otherwise.
func (a *Arena[T]) HighWaterMark() int { return a.highWater }

// Label names the arena for diagnostics (e.g. "mir.Instruction").
func (a *Arena[T]) Label() string { return a.label }
