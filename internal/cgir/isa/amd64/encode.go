package amd64

import "encoding/binary"

// Encoder accumulates encoded machine code for one function.
type Encoder struct {
	buf []byte
	// RelocBlockRefs records, for each emitted branch targeting a CGIR
	// block, the byte offset of its 4-byte rel32 field and the target
	// block index; EmitFunction patches these once every block's start
	// offset is known.
	RelocBlockRefs []BlockReloc
}

// BlockReloc is one not-yet-resolved rel32 branch displacement.
type BlockReloc struct {
	Offset     int // byte offset of the 4-byte field within Encoder.buf
	TargetBlk  int // CgBasicBlock.Index
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Len() int { return len(e.buf) }

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) emit(b ...byte) { e.buf = append(e.buf, b...) }

func (e *Encoder) emitU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

func (e *Encoder) emitU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

// rex builds a REX prefix byte. w selects the 64-bit operand size; r/x/b
// are the extension bits for ModRM.reg, SIB.index and ModRM.rm/SIB.base
// respectively (Intel SDM vol 2, 2.2.1).
func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | (rm & 7)
}

// needsRex reports whether encoding a register pair needs a REX prefix
// because a register number is >= 8; operand width is not considered.
func needsRex(regs ...byte) bool {
	for _, r := range regs {
		if r >= 8 {
			return true
		}
	}
	return false
}

// EncodeMovRegReg emits "mov dst, src" for 64-bit general-purpose
// registers (opcode 0x89 /r, register-to-register form).
func (e *Encoder) EncodeMovRegReg(dst, src byte) {
	e.emit(rex(true, src >= 8, false, dst >= 8), 0x89, modrm(3, src&7, dst&7))
}

// EncodeMovRegImm64 emits "mov dst, imm64" (opcode 0xB8+rd with a trailing
// 8-byte immediate, the only general-purpose form that can load a full
// 64-bit immediate directly).
func (e *Encoder) EncodeMovRegImm64(dst byte, imm uint64) {
	e.emit(rex(true, false, false, dst >= 8), 0xB8+(dst&7))
	e.emitU64(imm)
}

// EncodeArithRegReg emits a register-register ALU op (ADD/SUB/AND/OR/XOR/
// CMP) using its standard /r encoding; opcodeByte is the op's base opcode
// (e.g. 0x01 for ADD, 0x29 for SUB, 0x21 for AND, 0x09 for OR, 0x31 for
// XOR, 0x39 for CMP; all "r/m, reg" forms with dst as r/m).
func (e *Encoder) EncodeArithRegReg(opcodeByte, dst, src byte) {
	e.emit(rex(true, src >= 8, false, dst >= 8), opcodeByte, modrm(3, src&7, dst&7))
}

// EncodeTestRegReg emits "test dst, src" (0x85 /r).
func (e *Encoder) EncodeTestRegReg(dst, src byte) {
	e.emit(rex(true, src >= 8, false, dst >= 8), 0x85, modrm(3, src&7, dst&7))
}

// EncodeSetcc emits "setcc dst8" (0x0F 0x9<cc> /0), zero-extending the
// condition result into the low byte of dst.
func (e *Encoder) EncodeSetcc(cc CondCode, dst byte) {
	e.emit(rex(false, false, false, dst >= 8), 0x0F, 0x90+byte(ccToTttn(cc)), modrm(3, 0, dst&7))
}

// EncodeJcc emits a near (rel32) conditional jump (0x0F 0x8<cc> rel32) and
// records a BlockReloc for the immediate field so the linker can patch it.
func (e *Encoder) EncodeJcc(cc CondCode, targetBlk int) {
	e.emit(0x0F, 0x80+byte(ccToTttn(cc)))
	e.RelocBlockRefs = append(e.RelocBlockRefs, BlockReloc{Offset: len(e.buf), TargetBlk: targetBlk})
	e.emitU32(0)
}

// EncodeJmp emits a near unconditional jump (0xE9 rel32).
func (e *Encoder) EncodeJmp(targetBlk int) {
	e.emit(0xE9)
	e.RelocBlockRefs = append(e.RelocBlockRefs, BlockReloc{Offset: len(e.buf), TargetBlk: targetBlk})
	e.emitU32(0)
}

// EncodeCall emits a near relative call (0xE8 rel32) to a symbol resolved
// by the stub/linker layer; callers patch e.buf[offset:offset+4] once the
// callee's address is known.
func (e *Encoder) EncodeCall() (rel32Offset int) {
	e.emit(0xE8)
	off := len(e.buf)
	e.emitU32(0)
	return off
}

// EncodeRet emits a bare "ret" (0xC3).
func (e *Encoder) EncodeRet() { e.emit(0xC3) }

// EncodeUD2 emits the two-byte illegal instruction used for unreachable
// code (0x0F 0x0B).
func (e *Encoder) EncodeUD2() { e.emit(0x0F, 0x0B) }

// EncodeBsr/EncodeBsf emit "bsr dst, src" / "bsf dst, src" (0x0F 0xBD /r,
// 0x0F 0xBC /r), the clz/ctz open-coding primitives.
func (e *Encoder) EncodeBsr(dst, src byte) {
	e.emit(rex(true, dst >= 8, false, src >= 8), 0x0F, 0xBD, modrm(3, dst&7, src&7))
}

func (e *Encoder) EncodeBsf(dst, src byte) {
	e.emit(rex(true, dst >= 8, false, src >= 8), 0x0F, 0xBC, modrm(3, dst&7, src&7))
}

// EncodeUcomis emits "ucomiss a, b" (0F 2E /r) or "ucomisd a, b"
// (66 0F 2E /r). a and b are PhysReg numbers from the XMM bank, which
// starts at 16 in this package's register numbering.
func (e *Encoder) EncodeUcomis(is64 bool, a, b byte) {
	a -= 16
	b -= 16
	if is64 {
		e.emit(0x66)
	}
	if a >= 8 || b >= 8 {
		e.emit(rex(false, a >= 8, false, b >= 8))
	}
	e.emit(0x0F, 0x2E, modrm(3, a&7, b&7))
}

// EncodeCmovcc emits "cmovcc dst, src" (0x0F 0x4<cc> /r).
func (e *Encoder) EncodeCmovcc(cc CondCode, dst, src byte) {
	e.emit(rex(true, dst >= 8, false, src >= 8), 0x0F, 0x40+byte(ccToTttn(cc)), modrm(3, dst&7, src&7))
}

// EncodeImulRegImm32 emits "imul dst, dst, imm32" (0x69 /r id), used by the
// popcnt SWAR multiply step.
func (e *Encoder) EncodeImulRegImm32(dst byte, imm int32) {
	e.emit(rex(true, false, false, dst >= 8), 0x69, modrm(3, dst&7, dst&7))
	e.emitU32(uint32(imm))
}

// EncodeShiftRegImm8 emits a C1 /n group shift (SHL=/4, SHR=/5, SAR=/7)
// with an 8-bit immediate count.
func (e *Encoder) EncodeShiftRegImm8(ext, dst, count byte) {
	e.emit(rex(true, false, false, dst >= 8), 0xC1, modrm(3, ext, dst&7), count)
}

// ccToTttn maps CondCode to the x86 "tttn" nibble used by Jcc/SETcc/CMOVcc
// opcode encodings (Intel SDM vol 2, table "Condition Test (tttn) Field
// Encoding").
func ccToTttn(cc CondCode) byte {
	switch cc {
	case CondO:
		return 0x0
	case CondC:
		return 0x2
	case CondE:
		return 0x4
	case CondNE:
		return 0x5
	case CondBE:
		return 0x6
	case CondA:
		return 0x7
	case CondL:
		return 0xC
	case CondGE:
		return 0xD
	case CondLE:
		return 0xE
	case CondG:
		return 0xF
	case CondB:
		return 0x2
	case CondAE:
		return 0x3
	case CondP:
		return 0xA
	case CondNP:
		return 0xB
	default:
		return 0x4
	}
}
