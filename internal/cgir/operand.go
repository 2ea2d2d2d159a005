// Package cgir implements the machine-level IR each target lowers MIR
// into: CgFunction/CgBasicBlock/CgInstruction mirror
// mir.Function/BasicBlock/Instruction's shape but carry target opcodes
// and operands instead of the architecture-neutral MIR opcode set.
package cgir

import "fmt"

// RegClass is a register bank (general-purpose or floating point).
type RegClass uint8

const (
	RegClassInt RegClass = iota
	RegClassFloat
	numRegClass
)

// VReg is a virtual register: either a not-yet-allocated pseudo register
// (IsVirtual true) or a pre-colored physical register.
type VReg struct {
	ID        uint32
	Class     RegClass
	IsVirtual bool
	// Real is the physical register number when !IsVirtual, or the
	// register this VReg has been assigned to post-allocation.
	Real PhysReg
}

// PhysReg is a target physical register number; its meaning (which named
// register e.g. RAX/XMM0) is defined by each isa package's register file.
type PhysReg uint16

// InvalidPhysReg marks an unallocated VReg.
const InvalidPhysReg PhysReg = 0xFFFF

func (v VReg) String() string {
	if v.IsVirtual {
		return fmt.Sprintf("%%v%d", v.ID)
	}
	return fmt.Sprintf("%%p%d", v.Real)
}

// OperandKind tags a CgOperand variant.
type OperandKind uint8

const (
	OperandReg OperandKind = iota
	OperandImm
	OperandBlockRef
	OperandFrameIndex
	OperandSymbol
)

// CgOperand is a single CGIR instruction operand.
type CgOperand struct {
	Kind OperandKind

	Reg  VReg
	Imm  int64

	Block *CgBasicBlock

	// FrameIndex identifies an abstract stack object in the owning
	// CgFunction's FrameInfo; eliminated to SP/FP+offset by the
	// regalloc/frame pass.
	FrameIndex int
	// FrameOffset is an additional static offset applied after the frame
	// index is resolved (e.g. sub-field access within a stack object).
	FrameOffset int64

	// Symbol names an external address (a host callback, or a constant
	// pool entry) resolved by the linker/stub builder, not by regalloc.
	Symbol string
}

func RegOperand(r VReg) CgOperand { return CgOperand{Kind: OperandReg, Reg: r} }
func ImmOperand(v int64) CgOperand { return CgOperand{Kind: OperandImm, Imm: v} }
func BlockOperand(b *CgBasicBlock) CgOperand { return CgOperand{Kind: OperandBlockRef, Block: b} }
func FrameIndexOperand(idx int, off int64) CgOperand {
	return CgOperand{Kind: OperandFrameIndex, FrameIndex: idx, FrameOffset: off}
}
func SymbolOperand(name string) CgOperand { return CgOperand{Kind: OperandSymbol, Symbol: name} }

func (o CgOperand) String() string {
	switch o.Kind {
	case OperandReg:
		return o.Reg.String()
	case OperandImm:
		return fmt.Sprintf("$%d", o.Imm)
	case OperandBlockRef:
		if o.Block != nil {
			return fmt.Sprintf("bb%d", o.Block.Index)
		}
		return "bb?"
	case OperandFrameIndex:
		return fmt.Sprintf("fi%d+%d", o.FrameIndex, o.FrameOffset)
	case OperandSymbol:
		return "@" + o.Symbol
	default:
		return "?"
	}
}
