package mirtext

import "github.com/mirvm/mirc/internal/mir"

// typeByName maps the primitive-type keywords of the MIR text grammar
// to mir.Type. Pointer/function types are not expressible in the
// text form (tests only need scalars).
var typeByName = map[string]mir.Type{
	"i8": mir.I8, "i16": mir.I16, "i32": mir.I32, "i64": mir.I64,
	"f32": mir.F32, "f64": mir.F64, "void": mir.Void,
}

// opByName maps the grammar's expression/statement mnemonics to mir.Opcode.
// The mnemonics are the same strings mir.Opcode.String returns; the map is
// written by hand, covers no WASM pseudo-op, and no test compares it with
// mir's own name table.
var opByName = map[string]mir.Opcode{
	"add": mir.OpAdd, "sub": mir.OpSub, "mul": mir.OpMul,
	"div_s": mir.OpDivS, "div_u": mir.OpDivU, "rem_s": mir.OpRemS, "rem_u": mir.OpRemU,
	"min": mir.OpMin, "max": mir.OpMax, "copysign": mir.OpCopysign,
	"abs": mir.OpAbs, "neg": mir.OpNeg, "sqrt": mir.OpSqrt,
	"ceil": mir.OpCeil, "floor": mir.OpFloor, "trunc_f": mir.OpTruncF, "nearest": mir.OpNearest,
	"clz": mir.OpClz, "ctz": mir.OpCtz, "popcnt": mir.OpPopcnt,
	"shl": mir.OpShl, "shr_s": mir.OpShrS, "shr_u": mir.OpShrU,
	"rotl": mir.OpRotl, "rotr": mir.OpRotr,
	"and": mir.OpAnd, "or": mir.OpOr, "xor": mir.OpXor,
	"icmp": mir.OpIcmp, "fcmp": mir.OpFcmp, "select": mir.OpSelect,
	"trunc": mir.OpTrunc, "sext": mir.OpSExt, "uext": mir.OpUExt,
	"sitofp": mir.OpSIToFP, "uitofp": mir.OpUIToFP,
	"fptrunc": mir.OpFPTrunc, "fpext": mir.OpFPExt, "bitcast": mir.OpBitcast,
	"wasm_fptosi": mir.OpWasmFPToSI, "wasm_fptoui": mir.OpWasmFPToUI,
	"load": mir.OpLoad, "store": mir.OpStore, "const": mir.OpConstant,
	"call": mir.OpCall, "icall": mir.OpICall,
	"br": mir.OpJump, "br_if": mir.OpBrIf, "switch": mir.OpSwitch,
	"return": mir.OpReturn, "unreachable": mir.OpUnreachable,
}

// icondByName / fcondByName map condition-code mnemonics used by icmp/fcmp
// expressions.
var icondByName = map[string]mir.ICond{
	"eq": mir.ICondEq, "ne": mir.ICondNe,
	"lt_s": mir.ICondLtS, "lt_u": mir.ICondLtU,
	"le_s": mir.ICondLeS, "le_u": mir.ICondLeU,
	"gt_s": mir.ICondGtS, "gt_u": mir.ICondGtU,
	"ge_s": mir.ICondGeS, "ge_u": mir.ICondGeU,
}

var fcondByName = map[string]mir.FCond{
	"eq": mir.FCondEq, "ne": mir.FCondNe, "lt": mir.FCondLt, "le": mir.FCondLe,
	"gt": mir.FCondGt, "ge": mir.FCondGe,
	"eq_u": mir.FCondEqUnordered, "ne_u": mir.FCondNeUnordered,
	"lt_u": mir.FCondLtUnordered, "le_u": mir.FCondLeUnordered,
	"gt_u": mir.FCondGtUnordered, "ge_u": mir.FCondGeUnordered,
}
