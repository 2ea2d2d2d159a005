package arm64

// Opcode is the AArch64 CGIR instruction tag.
type Opcode uint32

const (
	OpInvalid Opcode = iota

	OpMOV
	OpMOVZ
	OpMOVN
	OpMOVK

	OpADD
	OpADDS // flag-setting add, used by checked arithmetic
	OpSUB
	OpSUBS // flag-setting subtract
	OpMUL
	OpSMULH // signed multiply high, used by the checked-multiply overflow test
	OpSDIV
	OpUDIV
	OpMSUB // multiply-subtract, used to synthesize remainder: r = a - (a/b)*b
	OpAND
	OpORR
	OpEOR
	OpMVN
	OpLSL
	OpLSR
	OpASR
	OpROR

	OpCLZ  // native count-leading-zeros; no open-coding needed unlike amd64
	OpRBIT // bit-reverse, used with CLZ to synthesize ctz: ctz(x) = clz(rbit(x))
	OpCNT  // vector population count over a single byte lane, summed for popcnt

	OpCMP
	OpCCMP
	OpCSET
	OpCSEL
	OpBCOND
	OpB
	OpBL
	OpBLR
	OpRET

	OpFADD
	OpFSUB
	OpFMUL
	OpFDIV
	OpFSQRT
	OpFABS
	OpFNEG
	OpFCMP
	OpFCVTZS // float -> signed int, round toward zero
	OpFCVTZU // float -> unsigned int, round toward zero
	OpSCVTF  // signed int -> float
	OpUCVTF  // unsigned int -> float
	OpFCVT   // f32<->f64

	OpLDR
	OpSTR

	OpBRK // unreachable trap

	OpFrameSetup
	OpFrameDestroy
)

// CondCode is an AArch64 condition code (AAPCS64 / A64 "Condition codes").
type CondCode uint8

const (
	CondEQ CondCode = iota
	CondNE
	CondCS // carry set / unsigned >=
	CondCC // carry clear / unsigned <
	CondMI
	CondPL
	CondVS
	CondVC
	CondHI // unsigned >
	CondLS // unsigned <=
	CondGE
	CondLT
	CondGT
	CondLE
)

var opcodeNames = map[Opcode]string{
	OpMOV: "mov", OpMOVZ: "movz", OpMOVN: "movn", OpMOVK: "movk",
	OpADD: "add", OpADDS: "adds", OpSUB: "sub", OpSUBS: "subs",
	OpMUL: "mul", OpSMULH: "smulh", OpSDIV: "sdiv", OpUDIV: "udiv", OpMSUB: "msub",
	OpAND: "and", OpORR: "orr", OpEOR: "eor", OpMVN: "mvn",
	OpLSL: "lsl", OpLSR: "lsr", OpASR: "asr", OpROR: "ror",
	OpCLZ: "clz", OpRBIT: "rbit", OpCNT: "cnt",
	OpCMP: "cmp", OpCCMP: "ccmp", OpCSET: "cset", OpCSEL: "csel",
	OpBCOND: "b.cond", OpB: "b", OpBL: "bl", OpBLR: "blr", OpRET: "ret",
	OpFADD: "fadd", OpFSUB: "fsub", OpFMUL: "fmul", OpFDIV: "fdiv", OpFSQRT: "fsqrt",
	OpFABS: "fabs", OpFNEG: "fneg", OpFCMP: "fcmp",
	OpFCVTZS: "fcvtzs", OpFCVTZU: "fcvtzu", OpSCVTF: "scvtf", OpUCVTF: "ucvtf", OpFCVT: "fcvt",
	OpLDR: "ldr", OpSTR: "str", OpBRK: "brk",
	OpFrameSetup: "frame_setup", OpFrameDestroy: "frame_destroy",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return "unknown"
}
