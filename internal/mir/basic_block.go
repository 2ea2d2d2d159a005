package mir

// BasicBlock is an ordered sequence of Instructions plus its CFG edges.
// Successors may contain duplicates for multi-way branches
// (e.g. a switch with two cases sharing a target); Preds never does, since
// it mirrors the deduplicated set of blocks that actually branch here.
type BasicBlock struct {
	Index int
	fn    *Function

	first, last *Instruction

	preds []*BasicBlock
	succs []*BasicBlock

	// IsExceptionSet is true for an auto-synthesized per-error-code block.
	IsExceptionSet bool
	ExceptionCode  ErrorCode
}

// FirstInstr/LastInstr expose the intra-block instruction list for
// iteration by later passes (lowering, peephole).
func (b *BasicBlock) FirstInstr() *Instruction { return b.first }
func (b *BasicBlock) LastInstr() *Instruction { return b.last }

// Preds/Succs return the block's CFG edges.
func (b *BasicBlock) Preds() []*BasicBlock { return b.preds }
func (b *BasicBlock) Succs() []*BasicBlock { return b.succs }

// Terminator returns the block's control-transfer instruction, or nil if
// the block has not been terminated yet.
func (b *BasicBlock) Terminator() *Instruction {
	if b.last != nil && b.last.op.IsTerminator() {
		return b.last
	}
	return nil
}

// append links instr as the new last instruction of b.
func (b *BasicBlock) append(instr *Instruction) {
	instr.blk = b
	if b.last == nil {
		b.first, b.last = instr, instr
		return
	}
	instr.prev = b.last
	b.last.next = instr
	b.last = instr
}

// addSucc records a CFG edge from b to target, permitting duplicates (for
// multi-way branches where two cases share a target).
func (b *BasicBlock) addSucc(target *BasicBlock) {
	b.succs = append(b.succs, target)
	target.addPred(b)
}

// addPred records b as a predecessor of target exactly once.
func (b *BasicBlock) addPred(pred *BasicBlock) {
	for _, p := range b.preds {
		if p == pred {
			return
		}
	}
	b.preds = append(b.preds, pred)
}
