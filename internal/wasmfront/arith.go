package wasmfront

import "github.com/mirvm/mirc/internal/mir"

// Binary emits a plain binary arithmetic/bitwise op (add/sub/mul/and/or/xor/
// shifts/rotates/min/max/copysign), popping two operands and pushing the
// result.
func (b *Builder) Binary(op mir.Opcode, typ mir.Type) {
	y := b.Pop()
	x := b.Pop()
	b.Push(b.fn.EmitBinary(b.curBlock, op, typ, x, y))
}

// Unary emits a plain unary op (neg/abs/sqrt/ceil/floor/nearest/clz/ctz/
// popcnt), popping one operand and pushing the result.
func (b *Builder) Unary(op mir.Opcode, typ mir.Type) {
	x := b.Pop()
	b.Push(b.fn.EmitUnary(b.curBlock, op, typ, x))
}

// Icmp/Fcmp emit a comparison, pushing an i32 boolean result.
func (b *Builder) Icmp(cond mir.ICond) {
	y := b.Pop()
	x := b.Pop()
	b.Push(b.fn.EmitIcmp(b.curBlock, cond, x, y))
}

func (b *Builder) Fcmp(cond mir.FCond) {
	y := b.Pop()
	x := b.Pop()
	b.Push(b.fn.EmitFcmp(b.curBlock, cond, x, y))
}

// Select pops (cond, ifFalse, ifTrue) per WASM's stack order and pushes the
// chosen value.
func (b *Builder) Select(typ mir.Type) {
	cond := b.Pop()
	ifFalse := b.Pop()
	ifTrue := b.Pop()
	b.Push(b.fn.EmitSelect(b.curBlock, typ, cond, ifTrue, ifFalse))
}

// DivS/DivU/RemS/RemU emit division with its trap checks: a zero-check
// (software mode or non-x86), and for signed division an INT_MIN/-1
// overflow check; signed remainder special-cases the -1 divisor to return
// 0 without trapping.
func (b *Builder) DivS(typ mir.Type, softwareCheck bool) {
	y := b.Pop()
	x := b.Pop()
	if softwareCheck {
		zero := b.fn.EmitConstInt(b.curBlock, typ, 0, true)
		b.CheckedTrap(mir.OpCheckDivZero, mir.ErrIntegerDivByZero, y, zero)
	}
	// INT_MIN/-1 overflow check: the pseudo-op carries the dividend and
	// the divisor; the lowering materializes MIN and -1 itself from the
	// operand width and traps only when both x == MIN and y == -1 hold.
	b.CheckedTrap(mir.OpCheckSignedDivOverflow, mir.ErrIntegerOverflow, x, y)
	b.Push(b.fn.EmitBinary(b.curBlock, mir.OpDivS, typ, x, y))
}

func (b *Builder) DivU(typ mir.Type, softwareCheck bool) {
	y := b.Pop()
	x := b.Pop()
	if softwareCheck {
		zero := b.fn.EmitConstInt(b.curBlock, typ, 0, false)
		b.CheckedTrap(mir.OpCheckDivZero, mir.ErrIntegerDivByZero, y, zero)
	}
	b.Push(b.fn.EmitBinary(b.curBlock, mir.OpDivU, typ, x, y))
}

func (b *Builder) RemS(typ mir.Type, softwareCheck bool) {
	y := b.Pop()
	x := b.Pop()
	if softwareCheck {
		zero := b.fn.EmitConstInt(b.curBlock, typ, 0, true)
		b.CheckedTrap(mir.OpCheckDivZero, mir.ErrIntegerDivByZero, y, zero)
	}
	// rem_s(MIN, -1) == 0 without trapping: the OpRemS lowering replaces
	// a -1 divisor with 1 before dividing (rem(x, 1) == 0), so no
	// overflow check pseudo-op is emitted here (unlike DivS).
	b.Push(b.fn.EmitBinary(b.curBlock, mir.OpRemS, typ, x, y))
}

func (b *Builder) RemU(typ mir.Type, softwareCheck bool) {
	y := b.Pop()
	x := b.Pop()
	if softwareCheck {
		zero := b.fn.EmitConstInt(b.curBlock, typ, 0, false)
		b.CheckedTrap(mir.OpCheckDivZero, mir.ErrIntegerDivByZero, y, zero)
	}
	b.Push(b.fn.EmitBinary(b.curBlock, mir.OpRemU, typ, x, y))
}

// WasmFPToSI/WasmFPToUI emit the trapping float-to-int expansion: NaN
// check, range check against the precise boundary constants, then the
// conversion.
func (b *Builder) WasmFPToSI(srcTyp, dstTyp mir.Type) {
	x := b.Pop()
	b.CheckedTrap(mir.OpCheckFPToIntNaN, mir.ErrInvalidConversionToInteger, x, nil)
	lo, hi := fpToSIBounds(srcTyp, dstTyp)
	b.checkedTrapFPRange(x, b.floatConst(srcTyp, lo), false)
	b.checkedTrapFPRange(x, b.floatConst(srcTyp, hi), true)
	b.Push(b.fn.EmitConvert(b.curBlock, mir.OpWasmFPToSI, dstTyp, x))
}

func (b *Builder) WasmFPToUI(srcTyp, dstTyp mir.Type) {
	x := b.Pop()
	b.CheckedTrap(mir.OpCheckFPToIntNaN, mir.ErrInvalidConversionToInteger, x, nil)
	lo, hi := fpToUIBounds(srcTyp, dstTyp)
	b.checkedTrapFPRange(x, b.floatConst(srcTyp, lo), false)
	b.checkedTrapFPRange(x, b.floatConst(srcTyp, hi), true)
	b.Push(b.fn.EmitConvert(b.curBlock, mir.OpWasmFPToUI, dstTyp, x))
}

func (b *Builder) floatConst(typ mir.Type, v float64) mir.Value {
	if typ == mir.F32 {
		return b.fn.EmitConstFloat32(b.curBlock, float32(v))
	}
	return b.fn.EmitConstFloat64(b.curBlock, v)
}

// fpToSIBounds/fpToUIBounds return the exact (exclusive) boundary values a
// source float must lie strictly between to convert to dstTyp without
// trapping.
func fpToSIBounds(src, dst mir.Type) (lo, hi float64) {
	switch dst.Bits() {
	case 32:
		if src == mir.F32 {
			// largest f32 below -2^31 (f32 spacing there is 256)
			return -2147483904.0, 2147483648.0
		}
		return -2147483649.0, 2147483648.0
	default:
		if src == mir.F32 {
			// largest f32 below -2^63 (f32 spacing there is 2^40)
			return -9223373136366403584.0, 9223372036854775808.0
		}
		return -9223372036854777856.0, 9223372036854775808.0
	}
}

func fpToUIBounds(src, dst mir.Type) (lo, hi float64) {
	switch dst.Bits() {
	case 32:
		return -1.0, 4294967296.0
	default:
		return -1.0, 18446744073709551616.0
	}
}

// WasmCheckedAdd/Sub/Mul emit checked arithmetic: the checked pseudo-op
// computes the result and leaves the overflow state behind, and the
// immediately following OpCheckArithOverflow branches on it to the
// integer-overflow set-block. The lowering keeps the two adjacent so the
// flag state survives between them.
func (b *Builder) WasmCheckedAdd(typ mir.Type) {
	y := b.Pop()
	x := b.Pop()
	r := b.fn.EmitCheckedArith(b.curBlock, mir.OpWasmAddOverflow, typ, x, y)
	b.CheckedTrap(mir.OpCheckArithOverflow, mir.ErrIntegerOverflow, r, nil)
	b.Push(r)
}

func (b *Builder) WasmCheckedSub(typ mir.Type) {
	y := b.Pop()
	x := b.Pop()
	r := b.fn.EmitCheckedArith(b.curBlock, mir.OpWasmSubOverflow, typ, x, y)
	b.CheckedTrap(mir.OpCheckArithOverflow, mir.ErrIntegerOverflow, r, nil)
	b.Push(r)
}

func (b *Builder) WasmCheckedMul(typ mir.Type) {
	y := b.Pop()
	x := b.Pop()
	r := b.fn.EmitCheckedArith(b.curBlock, mir.OpWasmMulOverflow, typ, x, y)
	b.CheckedTrap(mir.OpCheckArithOverflow, mir.ErrIntegerOverflow, r, nil)
	b.Push(r)
}

// Convert emits a plain (non-trapping) conversion.
func (b *Builder) Convert(op mir.Opcode, dstTyp mir.Type) {
	x := b.Pop()
	b.Push(b.fn.EmitConvert(b.curBlock, op, dstTyp, x))
}

// Const pushes an integer or float constant.
func (b *Builder) ConstI(typ mir.Type, value uint64, signed bool) {
	b.Push(b.fn.EmitConstInt(b.curBlock, typ, value, signed))
}

func (b *Builder) ConstF32(v float32) { b.Push(b.fn.EmitConstFloat32(b.curBlock, v)) }
func (b *Builder) ConstF64(v float64) { b.Push(b.fn.EmitConstFloat64(b.curBlock, v)) }
