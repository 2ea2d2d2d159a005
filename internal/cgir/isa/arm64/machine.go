package arm64

import (
	"github.com/mirvm/mirc/internal/cgir"
	"github.com/mirvm/mirc/internal/mir"
)

// Machine implements cgir.Target for AArch64. Unlike amd64's BSR/CMOVE/XOR clz expansion, AArch64 has a
// native CLZ instruction, so clz lowers to one instruction; ctz is
// synthesized as clz(rbit(x)) since AArch64 has no dedicated
// count-trailing-zeros instruction either.
type Machine struct{}

var _ cgir.Target = (*Machine)(nil)

func (m *Machine) RegClassFor(t mir.Type) cgir.RegClass {
	if t.IsFloat() {
		return cgir.RegClassFloat
	}
	return cgir.RegClassInt
}

func (m *Machine) NewFunction(fn *mir.Function) *cgir.CgFunction {
	return cgir.NewCgFunction(fn.Index, "")
}

func inst(op Opcode, defs, uses []cgir.CgOperand) *cgir.CgInstruction {
	return &cgir.CgInstruction{Op: uint32(op), Defs: defs, Uses: uses}
}

func (m *Machine) LowerInstruction(lb *cgir.LowerBuilder, instr *mir.Instruction) {
	switch instr.Op() {
	case mir.OpAdd, mir.OpSub, mir.OpMul, mir.OpAnd, mir.OpOr, mir.OpXor,
		mir.OpShl, mir.OpShrS, mir.OpShrU, mir.OpRotr:
		m.lowerIntBinary(lb, instr)
	case mir.OpDivS, mir.OpDivU:
		m.lowerDiv(lb, instr)
	case mir.OpRemS, mir.OpRemU:
		m.lowerRem(lb, instr)
	case mir.OpClz:
		x := instr.Arg()
		dst := lb.VRegFor(instr)
		lb.Emit(inst(OpCLZ, []cgir.CgOperand{cgir.RegOperand(dst)}, []cgir.CgOperand{cgir.RegOperand(lb.VRegFor(x))}))
	case mir.OpCtz:
		x := instr.Arg()
		dst := lb.VRegFor(instr)
		tmp := lb.CgFn.NewVReg(cgir.RegClassInt)
		xv := lb.VRegFor(x)
		lb.Emit(inst(OpRBIT, []cgir.CgOperand{cgir.RegOperand(tmp)}, []cgir.CgOperand{cgir.RegOperand(xv)}))
		lb.Emit(inst(OpCLZ, []cgir.CgOperand{cgir.RegOperand(dst)}, []cgir.CgOperand{cgir.RegOperand(tmp)}))
	case mir.OpPopcnt:
		x := instr.Arg()
		dst := lb.VRegFor(instr)
		// CNT operates per-byte on a SIMD register; a full implementation
		// moves the GPR into a vector register, applies CNT, then ADDV to
		// horizontally sum the per-byte counts. Modeled as one pseudo-op
		// here since cgir treats vector register moves as an amd64-only
		// concern today.
		lb.Emit(inst(OpCNT, []cgir.CgOperand{cgir.RegOperand(dst)}, []cgir.CgOperand{cgir.RegOperand(lb.VRegFor(x))}))
	case mir.OpIcmp:
		x, y := instr.Arg2()
		dst := lb.VRegFor(instr)
		lb.Emit(inst(OpCMP, nil, []cgir.CgOperand{cgir.RegOperand(lb.VRegFor(x)), cgir.RegOperand(lb.VRegFor(y))}))
		lb.Emit(inst(OpCSET, []cgir.CgOperand{cgir.RegOperand(dst)}, []cgir.CgOperand{cgir.ImmOperand(int64(condFromICond(instr.ICond())))}))
	case mir.OpFcmp:
		m.lowerFcmp(lb, instr)
	case mir.OpSelect:
		cond, a, b, _ := instr.Args()
		dst := lb.VRegFor(instr)
		lb.Emit(inst(OpCMP, nil, []cgir.CgOperand{cgir.RegOperand(lb.VRegFor(cond)), cgir.ImmOperand(0)}))
		lb.Emit(inst(OpCSEL, []cgir.CgOperand{cgir.RegOperand(dst)},
			[]cgir.CgOperand{cgir.RegOperand(lb.VRegFor(a)), cgir.RegOperand(lb.VRegFor(b)), cgir.ImmOperand(int64(CondNE))}))
	case mir.OpConstant:
		dst := lb.VRegFor(instr)
		var bits int64
		if instr.Type().IsFloat() {
			if c := instr.ConstFloat(); c != nil {
				bits = int64(c.Bits)
			}
		} else if c := instr.ConstInt(); c != nil {
			bits = int64(c.Bits)
		}
		lb.Emit(inst(OpMOVZ, []cgir.CgOperand{cgir.RegOperand(dst)}, []cgir.CgOperand{cgir.ImmOperand(bits)}))
	case mir.OpLoad:
		base := instr.MemBase()
		off, _ := instr.MemOffsetScale()
		dst := lb.VRegFor(instr)
		lb.Emit(inst(OpLDR, []cgir.CgOperand{cgir.RegOperand(dst)},
			[]cgir.CgOperand{cgir.RegOperand(lb.VRegFor(base)), cgir.ImmOperand(off)}))
	case mir.OpStore:
		base := instr.MemBase()
		val := instr.StoreValue()
		off, _ := instr.MemOffsetScale()
		lb.Emit(inst(OpSTR, nil,
			[]cgir.CgOperand{cgir.RegOperand(lb.VRegFor(base)), cgir.ImmOperand(off), cgir.RegOperand(lb.VRegFor(val))}))
	case mir.OpCall, mir.OpICall:
		m.lowerCall(lb, instr)
	case mir.OpJump:
		ci := inst(OpB, nil, []cgir.CgOperand{cgir.BlockOperand(lb.CgBlockFor(instr.Target()))})
		ci.IsBranch, ci.IsUnconditionalBranch = true, true
		lb.Emit(ci)
	case mir.OpBrIf:
		cond := instr.Condition()
		lb.Emit(inst(OpCMP, nil, []cgir.CgOperand{cgir.RegOperand(lb.VRegFor(cond)), cgir.ImmOperand(0)}))
		jcc := inst(OpBCOND, nil, []cgir.CgOperand{cgir.ImmOperand(int64(CondNE)), cgir.BlockOperand(lb.CgBlockFor(instr.Target()))})
		jcc.IsBranch = true
		lb.Emit(jcc)
		jmp := inst(OpB, nil, []cgir.CgOperand{cgir.BlockOperand(lb.CgBlockFor(instr.ElseTarget()))})
		jmp.IsBranch, jmp.IsUnconditionalBranch = true, true
		lb.Emit(jmp)
	case mir.OpReturn:
		vals := instr.ReturnValues()
		uses := make([]cgir.CgOperand, len(vals))
		for i, v := range vals {
			uses[i] = cgir.RegOperand(lb.VRegFor(v))
		}
		ci := inst(OpRET, nil, uses)
		ci.IsReturn = true
		lb.Emit(ci)
	case mir.OpUnreachable:
		lb.Emit(inst(OpBRK, nil, nil))
	case mir.OpWasmAddOverflow, mir.OpWasmSubOverflow, mir.OpWasmMulOverflow:
		m.lowerCheckedArith(lb, instr)
	case mir.OpCheckMemoryAccess, mir.OpCheckStackCounted, mir.OpCheckStackGuardProbe,
		mir.OpCheckStackBoundary, mir.OpCheckDivZero, mir.OpCheckSignedDivOverflow,
		mir.OpCheckFPToIntNaN, mir.OpCheckFPToIntRange, mir.OpCheckArithOverflow,
		mir.OpCheckGas, mir.OpGasSub:
		m.lowerCheck(lb, instr)
	}
}

func (m *Machine) lowerIntBinary(lb *cgir.LowerBuilder, instr *mir.Instruction) {
	x, y, _, _ := instr.Args()
	dst := lb.VRegFor(instr)
	op := map[mir.Opcode]Opcode{
		mir.OpAdd: OpADD, mir.OpSub: OpSUB, mir.OpMul: OpMUL,
		mir.OpAnd: OpAND, mir.OpOr: OpORR, mir.OpXor: OpEOR,
		mir.OpShl: OpLSL, mir.OpShrS: OpASR, mir.OpShrU: OpLSR, mir.OpRotr: OpROR,
	}[instr.Op()]
	lb.Emit(inst(op, []cgir.CgOperand{cgir.RegOperand(dst)},
		[]cgir.CgOperand{cgir.RegOperand(lb.VRegFor(x)), cgir.RegOperand(lb.VRegFor(y))}))
}

func (m *Machine) lowerDiv(lb *cgir.LowerBuilder, instr *mir.Instruction) {
	x, y, _, _ := instr.Args()
	dst := lb.VRegFor(instr)
	op := OpSDIV
	if instr.Op() == mir.OpDivU {
		op = OpUDIV
	}
	lb.Emit(inst(op, []cgir.CgOperand{cgir.RegOperand(dst)},
		[]cgir.CgOperand{cgir.RegOperand(lb.VRegFor(x)), cgir.RegOperand(lb.VRegFor(y))}))
}

// lowerRem synthesizes a%b as a - (a/b)*b via SDIV/UDIV + MSUB, since
// AArch64 has no remainder instruction.
func (m *Machine) lowerRem(lb *cgir.LowerBuilder, instr *mir.Instruction) {
	x, y, _, _ := instr.Args()
	dst := lb.VRegFor(instr)
	xv, yv := lb.VRegFor(x), lb.VRegFor(y)
	q := lb.CgFn.NewVReg(cgir.RegClassInt)
	op := OpSDIV
	if instr.Op() == mir.OpRemU {
		op = OpUDIV
	}
	lb.Emit(inst(op, []cgir.CgOperand{cgir.RegOperand(q)}, []cgir.CgOperand{cgir.RegOperand(xv), cgir.RegOperand(yv)}))
	lb.Emit(inst(OpMSUB, []cgir.CgOperand{cgir.RegOperand(dst)},
		[]cgir.CgOperand{cgir.RegOperand(q), cgir.RegOperand(yv), cgir.RegOperand(xv)}))
}

func (m *Machine) lowerCall(lb *cgir.LowerBuilder, instr *mir.Instruction) {
	args := instr.CallArgs()
	uses := make([]cgir.CgOperand, 0, len(args)+1)
	if instr.Op() == mir.OpICall {
		uses = append(uses, cgir.RegOperand(lb.VRegFor(instr.IndirectCallee())))
	}
	for _, a := range args {
		uses = append(uses, cgir.RegOperand(lb.VRegFor(a)))
	}
	op := OpBL
	if instr.Op() == mir.OpICall {
		op = OpBLR
	}
	var defs []cgir.CgOperand
	if instr.Type() != mir.Void {
		defs = []cgir.CgOperand{cgir.RegOperand(lb.VRegFor(instr))}
	}
	ci := inst(op, defs, uses)
	ci.IsCall = true
	lb.Emit(ci)
}

// lowerCheck implements the WASM pseudo check-ops: a flag-setting compare
// chosen per opcode, a b.cond on the failing condition to the check's
// exception-set block, and an unconditional branch to its continuation
// (both targets ride on the instruction itself).
func (m *Machine) lowerCheck(lb *cgir.LowerBuilder, instr *mir.Instruction) {
	switch instr.Op() {
	case mir.OpGasSub:
		return
	case mir.OpCheckStackGuardProbe:
		// a load below SP provokes the guard-page fault; no branch.
		dead := lb.CgFn.NewVReg(cgir.RegClassInt)
		sp := cgir.VReg{ID: uint32(StackPointerReg), Class: cgir.RegClassInt, Real: StackPointerReg}
		lb.Emit(inst(OpLDR, []cgir.CgOperand{cgir.RegOperand(dead)}, []cgir.CgOperand{cgir.RegOperand(sp), cgir.ImmOperand(-4096)}))
		return
	}
	setBlock := instr.Target()
	cont := instr.ElseTarget()
	if setBlock == nil || cont == nil {
		return
	}
	op1, op2v := instr.CheckOperands()

	var cond CondCode
	switch instr.Op() {
	case mir.OpCheckDivZero:
		// trap when the divisor is zero.
		lb.Emit(inst(OpCMP, nil, []cgir.CgOperand{cgir.RegOperand(lb.VRegFor(op1)), cgir.RegOperand(lb.VRegFor(op2v))}))
		cond = CondEQ
	case mir.OpCheckMemoryAccess, mir.OpCheckStackCounted:
		// trap when the access end / accumulated cost exceeds the limit.
		lb.Emit(inst(OpCMP, nil, []cgir.CgOperand{cgir.RegOperand(lb.VRegFor(op1)), cgir.RegOperand(lb.VRegFor(op2v))}))
		cond = CondHI
	case mir.OpCheckStackBoundary:
		// trap when SP has grown down past the boundary.
		sp := cgir.VReg{ID: uint32(StackPointerReg), Class: cgir.RegClassInt, Real: StackPointerReg}
		lb.Emit(inst(OpCMP, nil, []cgir.CgOperand{cgir.RegOperand(sp), cgir.RegOperand(lb.VRegFor(op1))}))
		cond = CondCC
	case mir.OpCheckGas:
		// trap when gas_left < delta.
		lb.Emit(inst(OpCMP, nil, []cgir.CgOperand{cgir.RegOperand(lb.VRegFor(op1)), cgir.RegOperand(lb.VRegFor(op2v))}))
		cond = CondCC
	case mir.OpCheckSignedDivOverflow:
		// trap when x == MIN && y == -1: (x ^ MIN) | (y ^ -1) is zero
		// exactly on that pair.
		xv, yv := lb.VRegFor(op1), lb.VRegFor(op2v)
		minImm := int64(-0x80000000)
		if op1.Type().Bits() == 64 {
			minImm = -0x8000000000000000
		}
		tmin := lb.CgFn.NewVReg(cgir.RegClassInt)
		tneg := lb.CgFn.NewVReg(cgir.RegClassInt)
		t1 := lb.CgFn.NewVReg(cgir.RegClassInt)
		t2 := lb.CgFn.NewVReg(cgir.RegClassInt)
		lb.Emit(inst(OpMOVZ, []cgir.CgOperand{cgir.RegOperand(tmin)}, []cgir.CgOperand{cgir.ImmOperand(minImm)}))
		lb.Emit(inst(OpEOR, []cgir.CgOperand{cgir.RegOperand(t1)}, []cgir.CgOperand{cgir.RegOperand(xv), cgir.RegOperand(tmin)}))
		lb.Emit(inst(OpMOVZ, []cgir.CgOperand{cgir.RegOperand(tneg)}, []cgir.CgOperand{cgir.ImmOperand(-1)}))
		lb.Emit(inst(OpEOR, []cgir.CgOperand{cgir.RegOperand(t2)}, []cgir.CgOperand{cgir.RegOperand(yv), cgir.RegOperand(tneg)}))
		combined := lb.CgFn.NewVReg(cgir.RegClassInt)
		lb.Emit(inst(OpORR, []cgir.CgOperand{cgir.RegOperand(combined)}, []cgir.CgOperand{cgir.RegOperand(t1), cgir.RegOperand(t2)}))
		lb.Emit(inst(OpCMP, nil, []cgir.CgOperand{cgir.RegOperand(combined), cgir.ImmOperand(0)}))
		cond = CondEQ
	case mir.OpCheckFPToIntNaN:
		// fcmp x, x leaves V set exactly when x is NaN.
		xv := lb.VRegFor(op1)
		lb.Emit(inst(OpFCMP, nil, []cgir.CgOperand{cgir.RegOperand(xv), cgir.RegOperand(xv)}))
		cond = CondVS
	case mir.OpCheckFPToIntRange:
		// exclusive boundaries: trap on x <= lo or x >= hi; NaN was
		// already rejected by the preceding NaN check, so the ordered
		// condition codes suffice.
		lb.Emit(inst(OpFCMP, nil, []cgir.CgOperand{cgir.RegOperand(lb.VRegFor(op1)), cgir.RegOperand(lb.VRegFor(op2v))}))
		if instr.RangeCheckUpper() {
			cond = CondGE
		} else {
			cond = CondLS
		}
	case mir.OpCheckArithOverflow:
		// lowerCheckedArith normalized its overflow state to a CMP whose
		// NE condition means overflow.
		cond = CondNE
	default:
		return
	}

	jcc := inst(OpBCOND, nil, []cgir.CgOperand{cgir.ImmOperand(int64(cond)), cgir.BlockOperand(lb.CgBlockFor(setBlock))})
	jcc.IsBranch = true
	lb.Emit(jcc)
	jmp := inst(OpB, nil, []cgir.CgOperand{cgir.BlockOperand(lb.CgBlockFor(cont))})
	jmp.IsBranch, jmp.IsUnconditionalBranch = true, true
	lb.Emit(jmp)
}

// lowerCheckedArith lowers wasm_*add/sub/mul_overflow so that it always
// ends with a CMP whose NE condition means overflow, giving the following
// OpCheckArithOverflow a single contract regardless of the operation:
// add/sub use ADDS/SUBS and materialize the V flag with CSET; multiply
// uses the SMULH identity (the high half must equal the sign-extension of
// the low half when no overflow occurred).
func (m *Machine) lowerCheckedArith(lb *cgir.LowerBuilder, instr *mir.Instruction) {
	x, y, _, _ := instr.Args()
	dst := lb.VRegFor(instr)
	xv, yv := lb.VRegFor(x), lb.VRegFor(y)

	if instr.Op() == mir.OpWasmMulOverflow {
		hi := lb.CgFn.NewVReg(cgir.RegClassInt)
		sign := lb.CgFn.NewVReg(cgir.RegClassInt)
		lb.Emit(inst(OpMUL, []cgir.CgOperand{cgir.RegOperand(dst)}, []cgir.CgOperand{cgir.RegOperand(xv), cgir.RegOperand(yv)}))
		lb.Emit(inst(OpSMULH, []cgir.CgOperand{cgir.RegOperand(hi)}, []cgir.CgOperand{cgir.RegOperand(xv), cgir.RegOperand(yv)}))
		lb.Emit(inst(OpASR, []cgir.CgOperand{cgir.RegOperand(sign)}, []cgir.CgOperand{cgir.RegOperand(dst), cgir.ImmOperand(63)}))
		lb.Emit(inst(OpCMP, nil, []cgir.CgOperand{cgir.RegOperand(hi), cgir.RegOperand(sign)}))
		return
	}

	op := OpADDS
	if instr.Op() == mir.OpWasmSubOverflow {
		op = OpSUBS
	}
	lb.Emit(inst(op, []cgir.CgOperand{cgir.RegOperand(dst)}, []cgir.CgOperand{cgir.RegOperand(xv), cgir.RegOperand(yv)}))
	ov := lb.CgFn.NewVReg(cgir.RegClassInt)
	lb.Emit(inst(OpCSET, []cgir.CgOperand{cgir.RegOperand(ov)}, []cgir.CgOperand{cgir.ImmOperand(int64(CondVS))}))
	lb.Emit(inst(OpCMP, nil, []cgir.CgOperand{cgir.RegOperand(ov), cgir.ImmOperand(0)}))
}

func condFromICond(c mir.ICond) CondCode {
	switch c {
	case mir.ICondEq:
		return CondEQ
	case mir.ICondNe:
		return CondNE
	case mir.ICondLtS:
		return CondLT
	case mir.ICondLtU:
		return CondCC
	case mir.ICondLeS:
		return CondLE
	case mir.ICondLeU:
		return CondLS
	case mir.ICondGtS:
		return CondGT
	case mir.ICondGtU:
		return CondHI
	case mir.ICondGeS:
		return CondGE
	default:
		return CondCS
	}
}

// lowerFcmp emits FCMP plus the CSET form that honors the
// ordered/unordered distinction. A64's FCMP maps unordered to
// N=0 Z=0 C=1 V=1, so most conditions have a single NaN-correct code
// (MI/LS for ordered </<=, LT/LE/HI/CS for the unordered variants, EQ for
// ordered-eq, NE for unordered-ne); ordered-ne and unordered-eq need the
// overflow flag folded in with a second CSET.
func (m *Machine) lowerFcmp(lb *cgir.LowerBuilder, instr *mir.Instruction) {
	x, y := instr.Arg2()
	dst := lb.VRegFor(instr)
	lb.Emit(inst(OpFCMP, nil, []cgir.CgOperand{cgir.RegOperand(lb.VRegFor(x)), cgir.RegOperand(lb.VRegFor(y))}))

	cset := func(into cgir.VReg, cc CondCode) {
		lb.Emit(inst(OpCSET, []cgir.CgOperand{cgir.RegOperand(into)}, []cgir.CgOperand{cgir.ImmOperand(int64(cc))}))
	}

	switch instr.FCond() {
	case mir.FCondNe: // ordered not-equal: NE && !unordered
		tmp := lb.CgFn.NewVReg(cgir.RegClassInt)
		cset(dst, CondNE)
		cset(tmp, CondVC)
		lb.Emit(inst(OpAND, []cgir.CgOperand{cgir.RegOperand(dst)}, []cgir.CgOperand{cgir.RegOperand(dst), cgir.RegOperand(tmp)}))
	case mir.FCondEqUnordered: // equal or unordered
		tmp := lb.CgFn.NewVReg(cgir.RegClassInt)
		cset(dst, CondEQ)
		cset(tmp, CondVS)
		lb.Emit(inst(OpORR, []cgir.CgOperand{cgir.RegOperand(dst)}, []cgir.CgOperand{cgir.RegOperand(dst), cgir.RegOperand(tmp)}))
	default:
		cset(dst, singleFCond(instr.FCond()))
	}
}

// singleFCond maps the FConds expressible as one A64 condition code; the
// two needing a second flag are handled directly in lowerFcmp.
func singleFCond(c mir.FCond) CondCode {
	switch c {
	case mir.FCondEq:
		return CondEQ
	case mir.FCondNeUnordered:
		return CondNE
	case mir.FCondLt:
		return CondMI
	case mir.FCondLe:
		return CondLS
	case mir.FCondGt:
		return CondGT
	case mir.FCondGe:
		return CondGE
	case mir.FCondLtUnordered:
		return CondLT
	case mir.FCondLeUnordered:
		return CondLE
	case mir.FCondGtUnordered:
		return CondHI
	default: // FCondGeUnordered
		return CondCS
	}
}
