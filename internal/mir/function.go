package mir

// Function is one compiled unit: an index into the owning Module, a
// function Type, a dense variable list, a dense basic-block list including
// on-demand exception-set blocks, and the exception-handling/return blocks.
type Function struct {
	ctx *Context

	Index int
	Type  Type // KindFunction

	vars   []*Variable
	blocks []*BasicBlock

	exceptionSetBlocks    map[ErrorCode]*BasicBlock
	exceptionIDVar        int32 // -1 until SetExceptionPlumbing is called
	exceptionHandlingBlk  *BasicBlock
	exceptionReturnBlk    *BasicBlock
}

// NewFunction creates a Function with the given type index. The first
// parameter of typ is implicitly the instance pointer; the
// caller (component C) is responsible for declaring Variable 0 with a
// matching pointer type immediately after.
func (c *Context) NewFunction(index int, typ Type) *Function {
	return &Function{
		ctx:            c,
		Index:          index,
		Type:           typ,
		exceptionIDVar: -1,
	}
}

// NewVariable allocates a new dense-indexed Variable of type typ.
func (f *Function) NewVariable(typ Type) Variable {
	v := f.ctx.vars.Allocate()
	*v = Variable{Index: len(f.vars), Type: typ}
	f.vars = append(f.vars, v)
	return *v
}

// Variables returns the dense variable list in index order.
func (f *Function) Variables() []*Variable { return f.vars }

// NewBlock allocates a new BasicBlock and appends it to the function's
// dense block list.
func (f *Function) NewBlock() *BasicBlock {
	b := f.ctx.blocks.Allocate()
	*b = BasicBlock{Index: len(f.blocks), fn: f}
	f.blocks = append(f.blocks, b)
	return b
}

// Blocks returns the dense block list in creation order.
func (f *Function) Blocks() []*BasicBlock { return f.blocks }

// SetExceptionPlumbing records the variable and blocks that
// ExceptionSetBlock wires new set-blocks into.
func (f *Function) SetExceptionPlumbing(idVar int32, handling, ret *BasicBlock) {
	f.exceptionIDVar = idVar
	f.exceptionHandlingBlk = handling
	f.exceptionReturnBlk = ret
}

// ExceptionHandlingBlock returns the shared block that all exception-set
// blocks branch to.
func (f *Function) ExceptionHandlingBlock() *BasicBlock { return f.exceptionHandlingBlk }

// ExceptionReturnBlock returns the function's common early-exit block.
func (f *Function) ExceptionReturnBlock() *BasicBlock { return f.exceptionReturnBlk }

// ExceptionIDVar returns the Variable index the exception code is written
// into before branching to the handling block.
func (f *Function) ExceptionIDVar() int32 { return f.exceptionIDVar }

// ExceptionSetBlock returns the unique block for error code, creating it
// (and its body: write code into the exception-id variable, branch to the
// exception-handling block) the first time it's requested for this
// function.
func (f *Function) ExceptionSetBlock(code ErrorCode) *BasicBlock {
	if f.exceptionSetBlocks == nil {
		f.exceptionSetBlocks = make(map[ErrorCode]*BasicBlock)
	}
	if b, ok := f.exceptionSetBlocks[code]; ok {
		return b
	}
	if f.exceptionIDVar < 0 || f.exceptionHandlingBlk == nil {
		panic("mir: ExceptionSetBlock requested before SetExceptionPlumbing")
	}
	b := f.NewBlock()
	b.IsExceptionSet = true
	b.ExceptionCode = code
	codeConst := f.ctx.ConstI(uint64(uint32(code)), 32, true)
	constInstr := f.newRaw(b, OpConstant, I32)
	constInstr.constInt = codeConst
	assign := f.newRaw(b, OpDAssign, Void)
	assign.varIndex = f.exceptionIDVar
	assign.arg0 = constInstr
	f.emitJump(b, f.exceptionHandlingBlk)
	f.exceptionSetBlocks[code] = b
	return b
}

// newRaw allocates a bare Instruction and appends it to block. Internal
// helper shared by every typed constructor below and by
// internal/wasmfront's builder.
func (f *Function) newRaw(block *BasicBlock, op Opcode, typ Type) *Instruction {
	i := f.ctx.instrs.Allocate()
	*i = Instruction{op: op, typ: typ}
	block.append(i)
	return i
}

// ---- Generic instruction constructors used by the frontend builder ----

func (f *Function) EmitUnary(block *BasicBlock, op Opcode, typ Type, x Value) *Instruction {
	i := f.newRaw(block, op, typ)
	i.arg0 = x
	return i
}

func (f *Function) EmitBinary(block *BasicBlock, op Opcode, typ Type, x, y Value) *Instruction {
	i := f.newRaw(block, op, typ)
	i.arg0, i.arg1 = x, y
	return i
}

func (f *Function) EmitIcmp(block *BasicBlock, cond ICond, x, y Value) *Instruction {
	i := f.newRaw(block, OpIcmp, I32)
	i.arg0, i.arg1, i.icond = x, y, cond
	return i
}

func (f *Function) EmitFcmp(block *BasicBlock, cond FCond, x, y Value) *Instruction {
	i := f.newRaw(block, OpFcmp, I32)
	i.arg0, i.arg1, i.fcond = x, y, cond
	return i
}

func (f *Function) EmitSelect(block *BasicBlock, typ Type, cond, ifTrue, ifFalse Value) *Instruction {
	i := f.newRaw(block, OpSelect, typ)
	i.arg0, i.arg1, i.arg2 = cond, ifTrue, ifFalse
	return i
}

func (f *Function) EmitConvert(block *BasicBlock, op Opcode, typ Type, x Value) *Instruction {
	i := f.newRaw(block, op, typ)
	i.arg0 = x
	return i
}

func (f *Function) EmitConstInt(block *BasicBlock, typ Type, value uint64, signed bool) *Instruction {
	i := f.newRaw(block, OpConstant, typ)
	i.constInt = f.ctx.ConstI(value, byte(typ.Bits()), signed)
	return i
}

func (f *Function) EmitConstFloat32(block *BasicBlock, value float32) *Instruction {
	i := f.newRaw(block, OpConstant, F32)
	i.constFloat = f.ctx.ConstF32(value)
	return i
}

func (f *Function) EmitConstFloat64(block *BasicBlock, value float64) *Instruction {
	i := f.newRaw(block, OpConstant, F64)
	i.constFloat = f.ctx.ConstF64(value)
	return i
}

func (f *Function) EmitDRead(block *BasicBlock, v Variable) *Instruction {
	i := f.newRaw(block, OpDRead, v.Type)
	i.varIndex = int32(v.Index)
	return i
}

func (f *Function) EmitDAssign(block *BasicBlock, v Variable, value Value) *Instruction {
	i := f.newRaw(block, OpDAssign, Void)
	i.varIndex = int32(v.Index)
	i.arg0 = value
	return i
}

// EmitLoad emits a load from base(+index*scale)+offset. index may be nil.
func (f *Function) EmitLoad(block *BasicBlock, typ Type, base, index Value, scale uint8, offset int64) *Instruction {
	i := f.newRaw(block, OpLoad, typ)
	i.arg0, i.arg1 = base, index
	i.hasIndex = index != nil
	i.memScale, i.memOffset = scale, offset
	return i
}

// EmitStore emits a store of value to base(+index*scale)+offset. index may
// be nil.
func (f *Function) EmitStore(block *BasicBlock, base, index, value Value, scale uint8, offset int64) *Instruction {
	i := f.newRaw(block, OpStore, Void)
	i.arg0, i.arg1 = base, value
	if index != nil {
		i.arg2 = index
		i.hasIndex = true
	}
	i.memScale, i.memOffset = scale, offset
	return i
}

func (f *Function) EmitCall(block *BasicBlock, calleeIndex int32, sig Type, resultTyp Type, args []Value) *Instruction {
	i := f.newRaw(block, OpCall, resultTyp)
	i.calleeFuncIndex = calleeIndex
	i.calleeSig = sig
	i.extraArgs = append([]Value(nil), args...)
	return i
}

// SetCalleeResolved back-patches a forward-referenced direct call's callee
// signature and result type once the target function has been fully parsed
// (internal/mirtext's pending-calls list). Only the text parser calls it;
// the WASM builder always knows the callee's signature up front via the
// module's type table.
func (i *Instruction) SetCalleeResolved(sig Type, resultTyp Type) {
	i.calleeSig = sig
	i.typ = resultTyp
}

func (f *Function) EmitICall(block *BasicBlock, fnPtr Value, sig Type, resultTyp Type, args []Value) *Instruction {
	i := f.newRaw(block, OpICall, resultTyp)
	i.arg0 = fnPtr
	i.calleeSig = sig
	i.extraArgs = append([]Value(nil), args...)
	return i
}

// emitJump appends an unconditional branch to target and wires the CFG
// edge, without returning the instruction (used internally where the
// caller doesn't need it, e.g. ExceptionSetBlock bodies).
func (f *Function) emitJump(block *BasicBlock, target *BasicBlock) {
	f.EmitJump(block, target)
}

func (f *Function) EmitJump(block *BasicBlock, target *BasicBlock) *Instruction {
	i := f.newRaw(block, OpJump, Void)
	i.target = target
	block.addSucc(target)
	return i
}

func (f *Function) EmitBrIf(block *BasicBlock, cond Value, ifTrue, ifFalse *BasicBlock) *Instruction {
	i := f.newRaw(block, OpBrIf, Void)
	i.arg0 = cond
	i.target, i.elseTarget = ifTrue, ifFalse
	block.addSucc(ifTrue)
	block.addSucc(ifFalse)
	return i
}

func (f *Function) EmitSwitch(block *BasicBlock, scrutinee Value, targets []*BasicBlock) *Instruction {
	i := f.newRaw(block, OpSwitch, Void)
	i.arg0 = scrutinee
	i.switchTargets = append([]*BasicBlock(nil), targets...)
	for _, t := range targets {
		block.addSucc(t)
	}
	return i
}

func (f *Function) EmitReturn(block *BasicBlock, values []Value) *Instruction {
	i := f.newRaw(block, OpReturn, Void)
	if len(values) > 0 {
		i.arg0 = values[0]
		i.extraArgs = append([]Value(nil), values[1:]...)
	}
	return i
}

func (f *Function) EmitUnreachable(block *BasicBlock) *Instruction {
	return f.newRaw(block, OpUnreachable, Void)
}

// EmitCheck emits one of the WASM bounds/div-zero/NaN/overflow/gas pseudo
// checks. A branching check terminates its block: the failing edge goes
// to code's exception-set block and the passing edge to cont, so the
// block's successors exactly match the check's two targets. operand2 may
// be nil for checks that only need one value (e.g. div-by-zero only needs
// the divisor). The guard-page probe is the one non-branching check (it
// faults in hardware); callers pass a nil cont for it and the probe stays
// a plain mid-block statement with no CFG edges.
func (f *Function) EmitCheck(block *BasicBlock, op Opcode, code ErrorCode, operand1, operand2 Value, cont *BasicBlock) *Instruction {
	i := f.newRaw(block, op, Void)
	i.arg0, i.arg1 = operand1, operand2
	i.errCode = code
	if cont != nil {
		i.target = f.ExceptionSetBlock(code)
		i.elseTarget = cont
		block.addSucc(i.target)
		block.addSucc(cont)
	}
	return i
}

// EmitCheckFPRange emits one half of the trapping float-to-int range
// check: branch to code's exception-set block when x <= bound (upper
// false) or x >= bound (upper true), continuing in cont otherwise. The
// boundary values themselves are exclusive, so equality traps.
func (f *Function) EmitCheckFPRange(block *BasicBlock, code ErrorCode, x, bound Value, upper bool, cont *BasicBlock) *Instruction {
	i := f.EmitCheck(block, OpCheckFPToIntRange, code, x, bound, cont)
	if upper {
		i.u64a = 1
	}
	return i
}

// EmitCheckedArith emits a checked 64-bit arithmetic op. It yields the primary result value; the overflow branch is
// wired by the caller to ExceptionSetBlock(ErrIntegerOverflow) via an
// immediately following OpCheckArithOverflow check; see internal/wasmfront's
// WasmCheckedAdd for the exact sequence, since the flag itself is
// architecture-dependent (it becomes a condition-code read only after CGIR
// lowering).
func (f *Function) EmitCheckedArith(block *BasicBlock, op Opcode, typ Type, x, y Value) *Instruction {
	i := f.newRaw(block, op, typ)
	i.arg0, i.arg1 = x, y
	return i
}
