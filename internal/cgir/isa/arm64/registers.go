// Package arm64 implements the secondary AArch64 CGIR target. It mirrors
// isa/amd64's structure but is kept intentionally thinner: AArch64's 3-address, flag-optional instruction
// set needs none of amd64's 2-address MOV-before-op dance or the
// BSR/CMOVE-based clz open-coding (AArch64 has native CLZ/RBIT), so the
// lowering here is simpler by construction rather than by omission.
package arm64

import "github.com/mirvm/mirc/internal/cgir"

// PhysReg numbers for the 31 general-purpose registers (X0-X30, X31 is
// either SP or the zero register depending on context and is modeled
// separately) and 32 SIMD/FP registers (V0-V31).
const (
	X0 cgir.PhysReg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29 // frame pointer (FP)
	X30 // link register (LR)
)

const (
	vBase       = 31
	V0Reg       = cgir.PhysReg(vBase + 0)
	V1Reg       = cgir.PhysReg(vBase + 1)
	V2Reg       = cgir.PhysReg(vBase + 2)
	V3Reg       = cgir.PhysReg(vBase + 3)
)

// StackPointerReg is modeled as a synthetic register distinct from X31's
// zero-register encoding, resolved to the correct encoding bit pattern by
// the encoder depending on instruction class.
const StackPointerReg = cgir.PhysReg(63)

const FramePointerReg = X29
const LinkReg = X30

// CalleeSavedGP lists the AAPCS64 callee-saved general-purpose registers.
var CalleeSavedGP = []cgir.PhysReg{X19, X20, X21, X22, X23, X24, X25, X26, X27, X28, FramePointerReg}

// VolatileGP lists caller-saved general-purpose registers.
var VolatileGP = []cgir.PhysReg{X0, X1, X2, X3, X4, X5, X6, X7, X8, X9, X10, X11, X12, X13, X14, X15}

// ArgRegsGP are the AAPCS64 integer argument registers in order.
var ArgRegsGP = []cgir.PhysReg{X0, X1, X2, X3, X4, X5, X6, X7}

func regName(r cgir.PhysReg) string {
	if r == StackPointerReg {
		return "sp"
	}
	if int(r) < vBase {
		names := [...]string{
			"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7", "x8", "x9",
			"x10", "x11", "x12", "x13", "x14", "x15", "x16", "x17", "x18", "x19",
			"x20", "x21", "x22", "x23", "x24", "x25", "x26", "x27", "x28", "fp", "lr",
		}
		return names[r]
	}
	return "v?"
}
