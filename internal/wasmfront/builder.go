package wasmfront

import (
	"github.com/mirvm/mirc/internal/mir"
)

// HostCallbacks are the four host-function-pointer constants emitted code
// calls across the module/instance boundary.
// At the MIR level each value is used as the callee function index of a
// direct OpCall (see Finalize), typed by the signature Finalize is given.
type HostCallbacks struct {
	GrowMemory     int32 // growInstanceMemoryOnJIT
	SetException   int32 // setInstanceExceptionOnJIT
	TriggerTrap    int32 // triggerInstanceExceptionOnJIT
	ThrowException int32 // throwInstanceExceptionOnJIT
}

// Options configures one Builder for the lifetime of the module compile.
// It mirrors the fields of the root
// package's CompileConfig without importing it, to avoid a dependency
// cycle (internal/wasmfront is lower in the graph than the root mirc
// package, which wires Options from CompileConfig).
type Options struct {
	StackCheckMode  int // 0 = soft-counted, 1 = guard-page, 2 = boundary-compare
	StackCostLimit  uint64
	PerFunctionCost uint64
	GuardPageSize   uint64

	CacheMemoryBaseAndSize bool

	GasMeteringEnabled bool
	GasCosts           map[mir.Opcode]uint64

	CPUExceptionMode bool // if true, ExceptionReturn rethrows instead of returning a typed zero
	Layout           Layout
	Hosts            HostCallbacks
}

// Layout mirrors mirc.InstanceLayout's offsets the builder needs directly.
// Duplicated here rather than imported for the same
// dependency-direction reason as Options above.
type Layout struct {
	StackCostOffset     int64
	StackBoundaryOffset int64
	GasOffset           int64
	ExceptionOffset     int64
	MemoryBaseOffset    int64
	MemorySizeOffset    int64
}

// Builder translates one WASM function body into MIR. Create
// one per function via NewBuilder; it is not reusable across functions.
type Builder struct {
	ctx *mir.Context
	fn  *mir.Function
	opt Options

	instancePtr    mir.Value // ptrtoint'd instance pointer local
	instancePtrVar mir.Variable
	memoryBaseVar  *mir.Variable
	memorySizeVar  *mir.Variable
	localVars      []mir.Variable

	curBlock  *mir.BasicBlock
	opStack   []Operand
	ctrlStack []BlockInfo
}

// NewBuilder creates a Builder for function funcIndex of sig, appends it to
// mod, and runs the per-function initialization sequence.
func NewBuilder(ctx *mir.Context, mod *mir.Module, funcIndex int, sig mir.Type, localTypes []mir.Type, opt Options) *Builder {
	fn := ctx.NewFunction(funcIndex, sig)
	b := &Builder{ctx: ctx, fn: fn, opt: opt}

	instPtrVar := fn.NewVariable(ctx.PointerType(mir.I8, 0))
	b.instancePtrVar = instPtrVar

	entry := fn.NewBlock()
	b.curBlock = entry
	b.pushControl(BlockKindFuncEntry, mir.Void)

	// step 1: materialize the instance pointer as a stable i64 local.
	ptrRead := fn.EmitDRead(entry, instPtrVar)
	asInt := fn.EmitConvert(entry, mir.OpBitcast, mir.I64, ptrRead)
	instVar := fn.NewVariable(mir.I64)
	fn.EmitDAssign(entry, instVar, asInt)
	b.instancePtr = fn.EmitDRead(entry, instVar)

	// step 2: exception-return block, wired once the exception-id
	// variable also exists (done lazily, see Trap/Finalize).
	exnRet := fn.NewBlock()
	exnIDVar := fn.NewVariable(mir.I32)
	fn.SetExceptionPlumbing(int32(exnIDVar.Index), fn.NewBlock(), exnRet)

	// step 3: stack-overflow check.
	b.emitStackCheck()

	// step 4: optionally cache memory base/size once.
	if opt.CacheMemoryBaseAndSize {
		b.cacheMemoryBaseAndSize()
	}

	// params take the next variable indices, after the instance pointer
	// (index 0, per mir.InstancePointerVar), its i64 copy, the exception-id
	// variable and any cached memory base/size; LocalVar maps WASM local i
	// to them. sig.Params[0] is the instance pointer type itself, so WASM
	// params start at sig.Params[1].
	ft := ctx.FunctionTypeOf(sig)
	for _, pt := range ft.Params[1:] {
		v := fn.NewVariable(pt)
		b.localVars = append(b.localVars, v)
	}

	// step 5: zero-initialize every declared local (not parameters -
	// those already hold the caller's argument per the calling
	// convention; this loop only covers WASM `local` declarations).
	// Emitted into the current block: the stack check's continuation in
	// soft-counted and boundary-compare modes, the entry block itself in
	// guard-page mode.
	for _, lt := range localTypes {
		v := fn.NewVariable(lt)
		b.zeroInit(b.curBlock, v)
		b.localVars = append(b.localVars, v)
	}

	mod.AddFunction(fn)
	return b
}

// Function returns the MIR function under construction.
func (b *Builder) Function() *mir.Function { return b.fn }

// CurrentBlock returns the block new instructions are appended to.
func (b *Builder) CurrentBlock() *mir.BasicBlock { return b.curBlock }

func (b *Builder) zeroInit(block *mir.BasicBlock, v mir.Variable) {
	var zero mir.Value
	switch {
	case v.Type.IsFloat():
		if v.Type == mir.F32 {
			zero = b.fn.EmitConstFloat32(block, 0)
		} else {
			zero = b.fn.EmitConstFloat64(block, 0)
		}
	default:
		zero = b.fn.EmitConstInt(block, v.Type, 0, true)
	}
	b.fn.EmitDAssign(block, v, zero)
}

// LocalVar returns the Variable backing WASM local index i (0-based,
// params followed by declared locals).
func (b *Builder) LocalVar(i int) mir.Variable { return b.localVars[i] }

// ReadLocal emits a dread of local i and pushes it as an Operand, matching
// the driver's `local.get` handling.
func (b *Builder) ReadLocal(i int) {
	v := b.LocalVar(i)
	b.pushOperand(ValueOperand(b.fn.EmitDRead(b.curBlock, v)))
}

// WriteLocal emits a dassign to local i from the top of the operand stack
// (`local.set`), or peeks without popping (`local.tee`) when tee is true.
func (b *Builder) WriteLocal(i int, tee bool) {
	var o Operand
	if tee {
		o = b.peekOperand()
	} else {
		o = b.popOperand()
	}
	b.fn.EmitDAssign(b.curBlock, b.LocalVar(i), b.extractOperand(o))
}

// ---- operand stack ----

func (b *Builder) pushOperand(o Operand) { b.opStack = append(b.opStack, o) }

func (b *Builder) popOperand() Operand {
	o := b.opStack[len(b.opStack)-1]
	b.opStack = b.opStack[:len(b.opStack)-1]
	return o
}

func (b *Builder) peekOperand() Operand { return b.opStack[len(b.opStack)-1] }

// Push/Pop expose the operand stack to the external decoder driver.
func (b *Builder) Push(v mir.Value) { b.pushOperand(ValueOperand(v)) }
func (b *Builder) Pop() mir.Value { return b.extractOperand(b.popOperand()) }
func (b *Builder) PopN(n int) []mir.Value {
	vs := make([]mir.Value, n)
	for i := n - 1; i >= 0; i-- {
		vs[i] = b.Pop()
	}
	return vs
}

// ---- stack-overflow checking ----

func (b *Builder) emitStackCheck() {
	switch b.opt.StackCheckMode {
	case 0: // soft-counted
		cur := b.fn.EmitLoad(b.curBlock, mir.I64, b.instancePtr, nil, 1, b.opt.Layout.StackCostOffset)
		delta := b.fn.EmitConstInt(b.curBlock, mir.I64, b.opt.PerFunctionCost, false)
		updated := b.fn.EmitBinary(b.curBlock, mir.OpAdd, mir.I64, cur, delta)
		b.fn.EmitStore(b.curBlock, b.instancePtr, nil, updated, 1, b.opt.Layout.StackCostOffset)
		limit := b.fn.EmitConstInt(b.curBlock, mir.I64, b.opt.StackCostLimit, false)
		b.CheckedTrap(mir.OpCheckStackCounted, mir.ErrCallStackExhausted, updated, limit)
	case 1: // guard-page probe; faults in hardware, no branch to emit
		b.fn.EmitCheck(b.curBlock, mir.OpCheckStackGuardProbe, mir.ErrCallStackExhausted, nil, nil, nil)
	default: // boundary compare
		boundary := b.fn.EmitLoad(b.curBlock, mir.I64, b.instancePtr, nil, 1, b.opt.Layout.StackBoundaryOffset)
		b.CheckedTrap(mir.OpCheckStackBoundary, mir.ErrCallStackExhausted, boundary, nil)
	}
}

// cacheMemoryBaseAndSize loads memory base/size into stable locals once,
// avoiding a reload on every memory access. Reloaded
// explicitly after any call that may cross the host boundary.
func (b *Builder) cacheMemoryBaseAndSize() {
	baseVar := b.fn.NewVariable(b.ctx.PointerType(mir.I8, 0))
	sizeVar := b.fn.NewVariable(mir.I64)
	b.memoryBaseVar = &baseVar
	b.memorySizeVar = &sizeVar
	b.ReloadMemoryBaseAndSize()
}

// ReloadMemoryBaseAndSize re-reads memory base/size from the instance into
// the cached locals. Called by cacheMemoryBaseAndSize and by
// PostCallExceptionCheck after any call that may have grown memory.
func (b *Builder) ReloadMemoryBaseAndSize() {
	if b.memoryBaseVar == nil {
		return
	}
	base := b.fn.EmitLoad(b.curBlock, b.ctx.PointerType(mir.I8, 0), b.instancePtr, nil, 1, b.opt.Layout.MemoryBaseOffset)
	size := b.fn.EmitLoad(b.curBlock, mir.I64, b.instancePtr, nil, 1, b.opt.Layout.MemorySizeOffset)
	b.fn.EmitDAssign(b.curBlock, *b.memoryBaseVar, base)
	b.fn.EmitDAssign(b.curBlock, *b.memorySizeVar, size)
}

func (b *Builder) memoryBase() mir.Value {
	if b.memoryBaseVar != nil {
		return b.fn.EmitDRead(b.curBlock, *b.memoryBaseVar)
	}
	return b.fn.EmitLoad(b.curBlock, b.ctx.PointerType(mir.I8, 0), b.instancePtr, nil, 1, b.opt.Layout.MemoryBaseOffset)
}

func (b *Builder) memorySize() mir.Value {
	if b.memorySizeVar != nil {
		return b.fn.EmitDRead(b.curBlock, *b.memorySizeVar)
	}
	return b.fn.EmitLoad(b.curBlock, mir.I64, b.instancePtr, nil, 1, b.opt.Layout.MemorySizeOffset)
}

// Trap emits a branch to the exception-set block for code and marks the
// current point unreachable.
func (b *Builder) Trap(code mir.ErrorCode) {
	target := b.fn.ExceptionSetBlock(code)
	b.fn.EmitJump(b.curBlock, target)
	b.markUnreachable()
}

// CheckedTrap emits a check pseudo-op (op) over operand1/operand2 that
// branches to code's exception-set block on failure, then continues in a
// fresh fallthrough block (used by memory/div/conversion/gas checks, which
// (unlike Trap) do not make the current point unreachable since the
// check may pass). The check terminates the current block; emission
// resumes in the continuation.
func (b *Builder) CheckedTrap(op mir.Opcode, code mir.ErrorCode, operand1, operand2 mir.Value) {
	cont := b.fn.NewBlock()
	b.fn.EmitCheck(b.curBlock, op, code, operand1, operand2, cont)
	b.curBlock = cont
}

// checkedTrapFPRange is CheckedTrap's variant for the float-to-int range
// half-checks, which carry a boundary direction.
func (b *Builder) checkedTrapFPRange(x, bound mir.Value, upper bool) {
	cont := b.fn.NewBlock()
	b.fn.EmitCheckFPRange(b.curBlock, mir.ErrIntegerOverflow, x, bound, upper, cont)
	b.curBlock = cont
}

// Finalize fills in the shared exception-handling block, which reads the
// exception-id written by an exception-set block, passes it to the host
// "set exception" callback, then branches to the exception-return block;
// and it fills in the exception-return block itself. Exception-set blocks
// are wired to the handling block when ExceptionSetBlock creates them.
// Call this exactly once, after the entire function body has been emitted.
func (b *Builder) Finalize(hostFuncSig mir.Type) {
	handling := b.fn.ExceptionHandlingBlock()
	exnIDVar := mir.Variable{Index: int(b.fn.ExceptionIDVar()), Type: mir.I32}
	idVal := b.fn.EmitDRead(handling, exnIDVar)
	b.fn.EmitCall(handling, b.opt.Hosts.SetException, hostFuncSig, mir.Void, []mir.Value{idVal})
	retBlk := b.fn.ExceptionReturnBlock()
	b.fn.EmitJump(handling, retBlk)

	if b.opt.CPUExceptionMode {
		b.fn.EmitCall(retBlk, b.opt.Hosts.ThrowException, hostFuncSig, mir.Void, nil)
		b.fn.EmitUnreachable(retBlk)
		return
	}
	ft := b.ctx.FunctionTypeOf(b.fn.Type)
	if ft.Ret == mir.Void {
		b.fn.EmitReturn(retBlk, nil)
		return
	}
	var zero mir.Value
	if ft.Ret.IsFloat() {
		if ft.Ret == mir.F32 {
			zero = b.fn.EmitConstFloat32(retBlk, 0)
		} else {
			zero = b.fn.EmitConstFloat64(retBlk, 0)
		}
	} else {
		zero = b.fn.EmitConstInt(retBlk, ft.Ret, 0, true)
	}
	b.fn.EmitReturn(retBlk, []mir.Value{zero})
}

// PostCallExceptionCheck re-reads memory (since a host call may have grown
// it) and checks the instance exception flag, branching to the
// exception-return block on non-zero. Required after every import/indirect call,
// and after every call in non-CPU-exception mode.
func (b *Builder) PostCallExceptionCheck() {
	b.ReloadMemoryBaseAndSize()
	flag := b.fn.EmitLoad(b.curBlock, mir.I32, b.instancePtr, nil, 1, b.opt.Layout.ExceptionOffset)
	zero := b.fn.EmitConstInt(b.curBlock, mir.I32, 0, true)
	cmp := b.fn.EmitIcmp(b.curBlock, mir.ICondNe, flag, zero)
	cont := b.fn.NewBlock()
	b.fn.EmitBrIf(b.curBlock, cmp, b.fn.ExceptionReturnBlock(), cont)
	b.curBlock = cont
}
