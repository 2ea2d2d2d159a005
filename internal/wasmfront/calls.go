package wasmfront

import "github.com/mirvm/mirc/internal/mir"

// Call emits a direct call (`call funcIndex`) and, when crossCallCheck is
// set (an import, or any call in non-CPU-exception mode),
// re-reads memory and checks the instance exception flag afterward.
func (b *Builder) Call(funcIndex int32, sig, resultTyp mir.Type, args []mir.Value, crossCallCheck bool) {
	r := b.fn.EmitCall(b.curBlock, funcIndex, sig, resultTyp, args)
	if resultTyp != mir.Void {
		b.Push(r)
	}
	if crossCallCheck {
		b.PostCallExceptionCheck()
	}
}

// CallIndirect emits an indirect call through a table slot, verifying in
// order:
//  1. index < table size                       -> ErrUndefinedElement
//  2. table slot != -1 (uninitialized sentinel) -> ErrUninitializedElement
//  3. actual type index == expected              -> ErrIndirectCallTypeMismatch
// then loading the function pointer and emitting the icall. Always followed
// by the post-call exception recheck: any call that crosses the host
// boundary may have grown memory or raised an exception, so memory
// base/size are re-read and the instance exception flag is checked.
func (b *Builder) CallIndirect(tableIndex mir.Value, expectedTypeIndex int32, sig, resultTyp mir.Type, args []mir.Value, elemBaseOffset, elemSizeOffset, typeIndexesBaseOffset, funcPtrsBaseOffset int64) {
	tableSize := b.fn.EmitLoad(b.curBlock, mir.I64, b.instancePtr, nil, 1, elemSizeOffset)
	idx64 := tableIndex
	if idx64.Type() != mir.I64 {
		idx64 = b.fn.EmitConvert(b.curBlock, mir.OpUExt, mir.I64, tableIndex)
	}
	cmp := b.fn.EmitIcmp(b.curBlock, mir.ICondGeU, idx64, tableSize)
	b.trapIf(cmp, mir.ErrUndefinedElement)

	typeIdxBase := b.fn.EmitLoad(b.curBlock, b.ctx.PointerType(mir.I32, 0), b.instancePtr, nil, 1, typeIndexesBaseOffset)
	actualTypeIdxPtr := b.fn.EmitLoad(b.curBlock, mir.I32, typeIdxBase, idx64, 4, 0)

	var negOneI32 int32 = -1
	negOne := b.fn.EmitConstInt(b.curBlock, mir.I32, uint64(uint32(negOneI32)), true)
	uninit := b.fn.EmitIcmp(b.curBlock, mir.ICondEq, actualTypeIdxPtr, negOne)
	b.trapIf(uninit, mir.ErrUninitializedElement)

	expected := b.fn.EmitConstInt(b.curBlock, mir.I32, uint64(uint32(expectedTypeIndex)), true)
	mismatch := b.fn.EmitIcmp(b.curBlock, mir.ICondNe, actualTypeIdxPtr, expected)
	b.trapIf(mismatch, mir.ErrIndirectCallTypeMismatch)

	fnPtrsBase := b.fn.EmitLoad(b.curBlock, b.ctx.PointerType(b.ctx.PointerType(mir.I8, 0), 0), b.instancePtr, nil, 1, funcPtrsBaseOffset)
	fnPtr := b.fn.EmitLoad(b.curBlock, b.ctx.PointerType(mir.I8, 0), fnPtrsBase, idx64, 8, 0)

	r := b.fn.EmitICall(b.curBlock, fnPtr, sig, resultTyp, args)
	if resultTyp != mir.Void {
		b.Push(r)
	}
	b.PostCallExceptionCheck()
}

// trapIf branches to code's exception-set block when cond is true,
// continuing in a fresh fallthrough block otherwise.
func (b *Builder) trapIf(cond mir.Value, code mir.ErrorCode) {
	target := b.fn.ExceptionSetBlock(code)
	cont := b.fn.NewBlock()
	b.fn.EmitBrIf(b.curBlock, cond, target, cont)
	b.curBlock = cont
}
