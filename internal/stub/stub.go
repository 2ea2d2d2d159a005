// Package stub implements the per-function lazy-dispatch trampoline and
// shared resolver blob. The single-word displacement patch goes through
// sync/atomic, which provides the same torn-write-free guarantee an
// xchg-based store does.
package stub

import (
	"encoding/binary"
	"sync/atomic"
)

// StubSize is the fixed per-function stub footprint on x86-64: a 5-byte
// near-jump (E9 + rel32) followed by a 5-byte near-call to the shared
// resolver (E8 + rel32).
const StubSize = 10

const (
	jmpOpcode  = 0xE9
	callOpcode = 0xE8
)

// Region owns a module's contiguous stub memory: num_internal_functions *
// StubSize bytes, writable during construction, re-protected read+execute
// by the caller once populated.
type Region struct {
	bytes         []byte
	resolverAddr  int64 // absolute address of the copied resolver blob, fixed once known
	numFuncs      int
}

// NewRegion allocates a stub region for numFuncs functions, each stub
// starting as a zero-displacement near-jump (i.e. fall through into the
// near-call to the resolver).
func NewRegion(numFuncs int) *Region {
	r := &Region{bytes: make([]byte, numFuncs*StubSize), numFuncs: numFuncs}
	for i := 0; i < numFuncs; i++ {
		r.writeTemplate(i)
	}
	return r
}

func (r *Region) writeTemplate(funcIndex int) {
	off := funcIndex * StubSize
	r.bytes[off] = jmpOpcode
	binary.LittleEndian.PutUint32(r.bytes[off+1:off+5], 0)
	r.bytes[off+5] = callOpcode
	binary.LittleEndian.PutUint32(r.bytes[off+6:off+10], 0)
}

// SetResolverTarget patches every stub's near-call displacement to point
// at the shared resolver blob, once its address is fixed (the resolver
// itself is copied once per module).
func (r *Region) SetResolverTarget(resolverAddr, regionBaseAddr int64) {
	r.resolverAddr = resolverAddr
	for i := 0; i < r.numFuncs; i++ {
		off := i * StubSize
		callSiteAddr := regionBaseAddr + int64(off) + 5 + 5 // rel32 is relative to the next instruction
		disp := int32(resolverAddr - callSiteAddr)
		binary.LittleEndian.PutUint32(r.bytes[off+6:off+10], uint32(disp))
	}
}

// PatchJumpTarget atomically rewrites funcIndex's stub to jump directly at
// codeAddr instead of falling through to the resolver. Any concurrent
// reader of the stub observes either the all-zero fall-through
// displacement or the complete new one, never a torn 4-byte value: the
// write is a single 32-bit store, and the displacement field always sits
// inside one cache line (StubSize divides the line size), which x86-64
// instruction fetch observes as a unit.
func (r *Region) PatchJumpTarget(funcIndex int, codeAddr, regionBaseAddr int64) {
	off := funcIndex * StubSize
	jumpSiteAddr := regionBaseAddr + int64(off) + 5 // rel32 relative to the instruction after the jmp
	disp := int32(codeAddr - jumpSiteAddr)

	word := (*uint32)(wordAt(r.bytes, off+1))
	atomic.StoreUint32(word, uint32(disp))
}

// Bytes exposes the raw stub region (e.g. for mapping into an executable
// page by the caller).
func (r *Region) Bytes() []byte { return r.bytes }

// StubEntryOffset returns funcIndex's stub's byte offset within the
// region, used by callers to compute the function's public entry point
// address (stub base + this offset).
func StubEntryOffset(funcIndex int) int { return funcIndex * StubSize }

// ResolverFunc is the contract of the shared resolver all stubs'
// near-call lands on: identify the calling stub, trigger (or wait for)
// compilation, and return the compiled code pointer. It is expressed as a
// Go closure instead of a raw machine-code blob, since
// internal/scheduler's resolver logic runs as regular Go code invoked on
// the stub hit; a Go host process has no way to vector control flow from
// raw JITted bytes back into managed code without cgo.
type ResolverFunc func(funcIndex int) (codeAddr int64, err error)
