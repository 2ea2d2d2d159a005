package wasmfront

import "github.com/mirvm/mirc/internal/mir"

// MaxX86Displacement is the largest constant displacement the x86-64
// encoder can fold directly into an addressing mode.
const MaxX86Displacement = int64(1)<<31 - 1 // INT32_MAX

// Load emits a checked WASM memory load:
//  (a) a bounds check in soft-check mode,
//  (b) the static offset added with explicit adds (see effectiveAddress;
//      the load itself always carries displacement 0),
//  (c) an inttoptr of memory_base+base,
//  (d) the load itself.
// base is the already-popped address operand; offset is the instruction's
// static immediate offset; softCheck selects the software-vs-hardware
// bounds-checking mode.
func (b *Builder) Load(typ mir.Type, base mir.Value, offset int64, softCheck bool) {
	ptr := b.effectiveAddress(base, offset, typ.Size(), softCheck)
	b.Push(b.fn.EmitLoad(b.curBlock, typ, ptr, nil, 1, 0))
}

// Store emits a checked WASM memory store; value is the already-popped
// value operand.
func (b *Builder) Store(base, value mir.Value, offset int64, size int, softCheck bool) {
	ptr := b.effectiveAddress(base, offset, size, softCheck)
	b.fn.EmitStore(b.curBlock, ptr, nil, value, 1, 0)
}

// effectiveAddress computes memory_base + base (+folded offset), emitting
// the bounds check first when softCheck is set.
func (b *Builder) effectiveAddress(base mir.Value, offset int64, size int, softCheck bool) mir.Value {
	if softCheck {
		accessEnd := b.fn.EmitConstInt(b.curBlock, mir.I64, uint64(offset)+uint64(size), false)
		lenNeeded := b.fn.EmitBinary(b.curBlock, mir.OpAdd, mir.I64, base, accessEnd)
		b.CheckedTrap(mir.OpCheckMemoryAccess, mir.ErrOutOfBoundsMemory, lenNeeded, b.memorySize())
	}

	baseAddr := base
	foldedOffset := offset
	if offset > MaxX86Displacement {
		// an offset beyond the x86-64 32-bit signed displacement range is
		// added to base here; a smaller one is added after the memory base
		// below.
		extra := b.fn.EmitConstInt(b.curBlock, mir.I64, uint64(offset), false)
		baseAddr = b.fn.EmitBinary(b.curBlock, mir.OpAdd, mir.I64, base, extra)
		foldedOffset = 0
	}

	base64 := baseAddr
	if base64.Type() != mir.I64 {
		base64 = b.fn.EmitConvert(b.curBlock, mir.OpUExt, mir.I64, baseAddr)
	}
	withBase := b.fn.EmitBinary(b.curBlock, mir.OpAdd, mir.I64, b.memoryBase64(), base64)
	var ptr mir.Value = withBase
	if foldedOffset != 0 {
		off := b.fn.EmitConstInt(b.curBlock, mir.I64, uint64(foldedOffset), false)
		ptr = b.fn.EmitBinary(b.curBlock, mir.OpAdd, mir.I64, withBase, off)
	}
	return b.fn.EmitConvert(b.curBlock, mir.OpBitcast, b.ctx.PointerType(mir.I8, 0), ptr)
}

func (b *Builder) memoryBase64() mir.Value {
	base := b.memoryBase()
	return b.fn.EmitConvert(b.curBlock, mir.OpBitcast, mir.I64, base)
}
