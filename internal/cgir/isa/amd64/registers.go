// Package amd64 implements the x86-64 CGIR target: instruction selection
// from MIR, register/frame passes' ISA hooks, and the
// peephole-eligible instruction shapes. clz/ctz/popcnt are open-coded
// (BSR/BSF plus the SWAR popcount) rather than emitted as LZCNT/TZCNT/
// POPCNT, so the generated code never depends on a CPUID check.
package amd64

import "github.com/mirvm/mirc/internal/cgir"

// PhysReg numbers for the 16 general-purpose and 16 XMM registers. Ordering
// matches the System V AMD64 encoding (RAX=0 .. R15=15; XMM0=16 .. XMM15=31)
// so register-number arithmetic used by the encoder (ModRM/REX bits) stays
// direct.
const (
	RAX cgir.PhysReg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// XMM register numbers, offset by 16 from the GP bank so a single PhysReg
// space covers both classes without collision.
const (
	xmmBase         = 16
	XMM0Reg         = cgir.PhysReg(xmmBase + 0)
	XMM1Reg         = cgir.PhysReg(xmmBase + 1)
	XMM2Reg         = cgir.PhysReg(xmmBase + 2)
	XMM3Reg         = cgir.PhysReg(xmmBase + 3)
)

// CalleeSavedGP lists the System V AMD64 callee-saved general-purpose
// registers, used by the prolog/epilog pass.
var CalleeSavedGP = []cgir.PhysReg{RBX, RBP, R12, R13, R14, R15}

// VolatileGP lists caller-saved GP registers, preferred first in
// allocation order.
var VolatileGP = []cgir.PhysReg{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11}

// ArgRegsGP are the System V AMD64 integer argument registers in order.
var ArgRegsGP = []cgir.PhysReg{RDI, RSI, RDX, RCX, R8, R9}

// StackPointerReg / FramePointerReg name the two special GP registers the
// frame-index elimination pass rewrites FrameIndex operands against.
const (
	StackPointerReg = RSP
	FramePointerReg = RBP
)

func regName(r cgir.PhysReg) string {
	names := [...]string{
		"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
		"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
		"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return "?"
}
