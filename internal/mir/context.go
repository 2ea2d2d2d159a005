package mir

import "github.com/mirvm/mirc/internal/arena"

// Context is the per-compile-thread allocator and interner set.
// A Context has no locking and is not safe for concurrent use; each
// goroutine that builds MIR works on its own Context.
type Context struct {
	pointerTypes   []PointerType
	pointerTypeIdx map[string]int32

	functionTypes   []FunctionType
	functionTypeIdx map[string]int32

	intConsts   arena.Interner[intConstKey, ConstantInt]
	floatConsts arena.Interner[floatConstKey, ConstantFloat]

	// Per-function arenas. Reset between functions by (*Context).Reset.
	instrs arena.Arena[Instruction]
	blocks arena.Arena[BasicBlock]
	vars   arena.Arena[Variable]
}

// NewContext returns a Context ready to compile functions on the calling
// goroutine.
func NewContext() *Context {
	return &Context{
		pointerTypeIdx:  make(map[string]int32),
		functionTypeIdx: make(map[string]int32),
		intConsts:       arena.NewInterner[intConstKey, ConstantInt]("mir.ConstantInt"),
		floatConsts:     arena.NewInterner[floatConstKey, ConstantFloat]("mir.ConstantFloat"),
		instrs:          arena.New[Instruction]("mir.Instruction"),
		blocks:          arena.New[BasicBlock]("mir.BasicBlock"),
		vars:            arena.New[Variable]("mir.Variable"),
	}
}

// Reset releases every per-function allocation. Call this after a
// function's MIR has been fully lowered to CGIR and no further MIR access
// is needed. Interned types/constants are
// module-scoped and are NOT reset here; call ResetAll to drop those too.
func (c *Context) Reset() {
	c.instrs.Reset()
	c.blocks.Reset()
	c.vars.Reset()
}

// ResetAll resets per-function state and drops interned types/constants.
func (c *Context) ResetAll() {
	c.Reset()
	c.pointerTypes = c.pointerTypes[:0]
	for k := range c.pointerTypeIdx {
		delete(c.pointerTypeIdx, k)
	}
	c.functionTypes = c.functionTypes[:0]
	for k := range c.functionTypeIdx {
		delete(c.functionTypeIdx, k)
	}
	c.intConsts.Reset()
	c.floatConsts.Reset()
}

// PointerType interns a pointer-to-elem type in the given address space.
// Equal (elem, addrSpace) pairs always yield the same Type.
func (c *Context) PointerType(elem Type, addrSpace uint8) Type {
	key := pointerKey(elem, addrSpace)
	if i, ok := c.pointerTypeIdx[key]; ok {
		return Type{kind: KindPointer, idx: i}
	}
	i := int32(len(c.pointerTypes))
	c.pointerTypes = append(c.pointerTypes, PointerType{Elem: elem, AddrSpace: addrSpace})
	c.pointerTypeIdx[key] = i
	return Type{kind: KindPointer, idx: i}
}

// FunctionType interns a (ret, params...) function type. params is copied.
func (c *Context) FunctionType(ret Type, params []Type) Type {
	cp := make([]Type, len(params))
	copy(cp, params)
	ft := FunctionType{Ret: ret, Params: cp}
	key := ft.key()
	if i, ok := c.functionTypeIdx[key]; ok {
		return Type{kind: KindFunction, idx: i}
	}
	i := int32(len(c.functionTypes))
	c.functionTypes = append(c.functionTypes, ft)
	c.functionTypeIdx[key] = i
	return Type{kind: KindFunction, idx: i}
}

// PointerTypeOf resolves a KindPointer Type back to its descriptor.
func (c *Context) PointerTypeOf(t Type) PointerType {
	if t.kind != KindPointer {
		panic("mir: PointerTypeOf on non-pointer Type")
	}
	return c.pointerTypes[t.idx]
}

// FunctionTypeOf resolves a KindFunction Type back to its descriptor.
func (c *Context) FunctionTypeOf(t Type) FunctionType {
	if t.kind != KindFunction {
		panic("mir: FunctionTypeOf on non-function Type")
	}
	return c.functionTypes[t.idx]
}
