package wasmfront

import "github.com/mirvm/mirc/internal/mir"

// BlockKind tags a control-stack entry.
type BlockKind int

const (
	BlockKindFuncEntry BlockKind = iota
	BlockKindBlock
	BlockKindLoop
	BlockKindIf
)

// BlockInfo is one control-stack entry.
type BlockInfo struct {
	Kind BlockKind

	// ResultVar holds the block's result operand, or is nil when the
	// block's arity is 0.
	ResultVar   *mir.Variable
	HasResult   bool

	// StackDepthAtEntry is the operand-stack size when the block was
	// entered, used to validate/clear extra operands at `end`.
	StackDepthAtEntry int

	// JumpBlock is the block a `br`/`br_if` targeting this level jumps
	// to: the loop header for BlockKindLoop, the continuation block for
	// everything else.
	JumpBlock *mir.BasicBlock

	// NextBlock is the `if`'s else-candidate block, where Else() resumes
	// emission as the else body.
	NextBlock *mir.BasicBlock

	// BranchInstr is the `if`'s conditional branch instruction; its false
	// edge targets NextBlock and is never retargeted.
	BranchInstr *mir.Instruction

	// Reachable tracks whether control can still fall off the end of the
	// current block (false after an unconditional branch/unreachable).
	Reachable bool

	// contBlock is the block code continues in after this construct
	// ends; for BlockKindBlock/If it is JumpBlock itself, for
	// BlockKindLoop it is a distinct fresh block.
	contBlock *mir.BasicBlock
}

// pushControl starts a new Wasm structured-control construct.
func (b *Builder) pushControl(kind BlockKind, resultTyp mir.Type) *BlockInfo {
	info := BlockInfo{
		Kind:              kind,
		StackDepthAtEntry: len(b.opStack),
		Reachable:         true,
	}
	if resultTyp != mir.Void {
		v := b.fn.NewVariable(resultTyp)
		info.ResultVar = &v
		info.HasResult = true
	}
	b.ctrlStack = append(b.ctrlStack, info)
	return &b.ctrlStack[len(b.ctrlStack)-1]
}

// Block begins a `block` construct.
func (b *Builder) Block(resultTyp mir.Type) {
	cont := b.fn.NewBlock()
	info := b.pushControl(BlockKindBlock, resultTyp)
	info.JumpBlock = cont
	info.contBlock = cont
}

// Loop begins a `loop` construct. Unlike Block/If, loop's body starts in a
// fresh block immediately.
func (b *Builder) Loop(resultTyp mir.Type) {
	header := b.fn.NewBlock()
	b.fn.EmitJump(b.curBlock, header)
	info := b.pushControl(BlockKindLoop, resultTyp)
	info.JumpBlock = header // br to a loop jumps backward to its header
	cont := b.fn.NewBlock()
	info.contBlock = cont
	b.curBlock = header
}

// If begins an `if` construct; cond is the already-popped condition value.
func (b *Builder) If(cond mir.Value, resultTyp mir.Type) {
	thenBlk := b.fn.NewBlock()
	elseBlk := b.fn.NewBlock() // tentative else/continuation target
	br := b.fn.EmitBrIf(b.curBlock, cond, thenBlk, elseBlk)
	info := b.pushControl(BlockKindIf, resultTyp)
	info.JumpBlock = elseBlk // continuation, patched to a dedicated cont block by Else()
	info.NextBlock = elseBlk
	info.BranchInstr = br
	info.contBlock = elseBlk
	b.curBlock = thenBlk
}

// Else ends the then-body with a jump to a fresh continuation block (which
// becomes the `if`'s JumpBlock and contBlock) and resumes emission in the
// tentative else block, which the `if`'s false edge already targets.
func (b *Builder) Else() {
	top := &b.ctrlStack[len(b.ctrlStack)-1]
	if top.Kind != BlockKindIf {
		panic("wasmfront: Else() without a matching If()")
	}
	cont := b.fn.NewBlock()
	if top.Reachable {
		if top.HasResult && len(b.opStack) > top.StackDepthAtEntry {
			res := b.popOperand()
			b.fn.EmitDAssign(b.curBlock, *top.ResultVar, b.extractOperand(res))
		}
		b.fn.EmitJump(b.curBlock, cont)
	}
	b.opStack = b.opStack[:top.StackDepthAtEntry]
	top.JumpBlock = cont
	top.contBlock = cont
	b.curBlock = top.NextBlock // the tentative else block becomes the real else body
	top.Reachable = true
}

// End closes the innermost control-stack construct.
func (b *Builder) End() {
	top := b.ctrlStack[len(b.ctrlStack)-1]
	b.ctrlStack = b.ctrlStack[:len(b.ctrlStack)-1]

	if top.Kind == BlockKindFuncEntry {
		return
	}

	if top.Reachable {
		if top.HasResult && len(b.opStack) > top.StackDepthAtEntry {
			res := b.popOperand()
			b.fn.EmitDAssign(b.curBlock, *top.ResultVar, b.extractOperand(res))
		}
		b.fn.EmitJump(b.curBlock, top.contBlock)
	}
	b.opStack = b.opStack[:top.StackDepthAtEntry]
	b.curBlock = top.contBlock
	if top.HasResult {
		b.pushOperand(ValueOperand(b.fn.EmitDRead(b.curBlock, *top.ResultVar)))
	}
}

// blockInfoAt returns the control-stack entry `level` deep from the top
// (level 0 = innermost), matching Wasm's br/br_if/br_table level encoding.
func (b *Builder) blockInfoAt(level int) *BlockInfo {
	i := len(b.ctrlStack) - 1 - level
	return &b.ctrlStack[i]
}

// Br translates an unconditional `br level`.
func (b *Builder) Br(level int) {
	target := b.blockInfoAt(level)
	if target.HasResult && target.Kind != BlockKindLoop {
		if len(b.opStack) > 0 {
			res := b.peekOperand()
			b.fn.EmitDAssign(b.curBlock, *target.ResultVar, b.extractOperand(res))
		}
	}
	b.fn.EmitJump(b.curBlock, target.JumpBlock)
	b.markUnreachable()
}

// BrIf translates a conditional `br_if level`.
func (b *Builder) BrIf(cond mir.Value, level int) {
	target := b.blockInfoAt(level)
	if target.HasResult && target.Kind != BlockKindLoop && len(b.opStack) > 0 {
		res := b.peekOperand()
		b.fn.EmitDAssign(b.curBlock, *target.ResultVar, b.extractOperand(res))
	}
	fallthroughBlk := b.fn.NewBlock()
	b.fn.EmitBrIf(b.curBlock, cond, target.JumpBlock, fallthroughBlk)
	b.curBlock = fallthroughBlk
}

// BrTable translates `br_table levels..., default`.
func (b *Builder) BrTable(scrutinee mir.Value, levels []int, defaultLevel int) {
	var top Operand
	haveTop := len(b.opStack) > 0
	if haveTop {
		top = b.peekOperand()
	}

	trampoline := make(map[int]*mir.BasicBlock)
	trampolineFor := func(level int) *mir.BasicBlock {
		if blk, ok := trampoline[level]; ok {
			return blk
		}
		target := b.blockInfoAt(level)
		tb := b.fn.NewBlock()
		if target.HasResult && target.Kind != BlockKindLoop && haveTop {
			b.fn.EmitDAssign(tb, *target.ResultVar, b.extractOperand(top))
		}
		b.fn.EmitJump(tb, target.JumpBlock)
		trampoline[level] = tb
		return tb
	}

	targets := make([]*mir.BasicBlock, len(levels)+1)
	for i, lvl := range levels {
		targets[i] = trampolineFor(lvl)
	}
	targets[len(targets)-1] = trampolineFor(defaultLevel)
	b.fn.EmitSwitch(b.curBlock, scrutinee, targets)
	b.markUnreachable()
}

// markUnreachable records that control cannot fall off the current
// emission point (after an unconditional branch, return, or
// unreachable), and opens a fresh dead block so further emission within
// the same structured-control body (validated-but-unreachable code,
// always legal WASM) has somewhere to go.
func (b *Builder) markUnreachable() {
	if len(b.ctrlStack) > 0 {
		b.ctrlStack[len(b.ctrlStack)-1].Reachable = false
	}
	b.curBlock = b.fn.NewBlock()
}

// Return emits `return` with the given operands.
func (b *Builder) Return(vals []Operand) {
	vs := make([]mir.Value, len(vals))
	for i, o := range vals {
		vs[i] = b.extractOperand(o)
	}
	b.fn.EmitReturn(b.curBlock, vs)
	b.markUnreachable()
}

// Unreachable emits the `unreachable` trap directly (distinct from the
// checked error-code traps, which go through Trap()).
func (b *Builder) Unreachable() {
	b.Trap(mir.ErrUnreachable)
}
