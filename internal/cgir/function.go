package cgir

// CgInstruction is a target-opcode instruction over CgOperands. Op is an
// opaque per-target code (isa/amd64 and isa/arm64 each define their own
// Opcode enum range and a String() for it); cgir itself never switches on
// Op, keeping this package target-agnostic.
type CgInstruction struct {
	Op   uint32
	Defs []CgOperand // operands this instruction writes (usually at most one reg)
	Uses []CgOperand // operands this instruction reads

	// Flags record target-independent facts the register/frame/peephole
	// passes need without reaching into target-specific opcode tables:
	IsCall       bool
	IsReturn     bool
	IsBranch     bool
	IsUnconditionalBranch bool
	ClobbersFlags bool // writes the condition-flags register
	ReadsFlags    bool // e.g. Jcc/SETcc/CMOVcc

	// IsFrameSetup/IsFrameDestroy mark call-frame adjustment pseudo
	// instructions erased by prolog/epilog insertion.
	IsFrameSetup   bool
	IsFrameDestroy bool
	FrameAdjust    int64

	blk        *CgBasicBlock
	prev, next *CgInstruction
}

func (i *CgInstruction) Block() *CgBasicBlock { return i.blk }
func (i *CgInstruction) Next() *CgInstruction { return i.next }
func (i *CgInstruction) Prev() *CgInstruction { return i.prev }

// CgBasicBlock mirrors mir.BasicBlock's shape at the machine level.
type CgBasicBlock struct {
	Index int
	fn    *CgFunction

	first, last *CgInstruction

	preds []*CgBasicBlock
	succs []*CgBasicBlock

	// LiveIn is populated by the register/frame passes.
	LiveIn []VReg
}

func (b *CgBasicBlock) FirstInstr() *CgInstruction { return b.first }
func (b *CgBasicBlock) LastInstr() *CgInstruction { return b.last }
func (b *CgBasicBlock) Preds() []*CgBasicBlock { return b.preds }
func (b *CgBasicBlock) Succs() []*CgBasicBlock { return b.succs }

// Append adds instr at the end of b.
func (b *CgBasicBlock) Append(instr *CgInstruction) {
	instr.blk = b
	if b.last == nil {
		b.first, b.last = instr, instr
		return
	}
	instr.prev = b.last
	b.last.next = instr
	b.last = instr
}

// InsertBefore inserts instr immediately before mark (used by spill/reload
// insertion).
func (b *CgBasicBlock) InsertBefore(mark, instr *CgInstruction) {
	instr.blk = b
	instr.prev = mark.prev
	instr.next = mark
	if mark.prev != nil {
		mark.prev.next = instr
	} else {
		b.first = instr
	}
	mark.prev = instr
}

// InsertAfter inserts instr immediately after mark.
func (b *CgBasicBlock) InsertAfter(mark, instr *CgInstruction) {
	instr.blk = b
	instr.next = mark.next
	instr.prev = mark
	if mark.next != nil {
		mark.next.prev = instr
	} else {
		b.last = instr
	}
	mark.next = instr
}

// Remove unlinks instr from b's instruction list.
func (b *CgBasicBlock) Remove(instr *CgInstruction) {
	if instr.prev != nil {
		instr.prev.next = instr.next
	} else {
		b.first = instr.next
	}
	if instr.next != nil {
		instr.next.prev = instr.prev
	} else {
		b.last = instr.prev
	}
}

func (b *CgBasicBlock) addSucc(t *CgBasicBlock) {
	b.succs = append(b.succs, t)
	t.addPred(b)
}

func (b *CgBasicBlock) addPred(p *CgBasicBlock) {
	for _, x := range b.preds {
		if x == p {
			return
		}
	}
	b.preds = append(b.preds, p)
}

// StackObject is one abstract stack slot in a FrameInfo.
type StackObject struct {
	Size    int64
	Align   int64
	Offset  int64 // resolved by the frame-layout pass; meaningless before then
	StackID int   // distinguishes fixed-layout/CSR/local allocation regions

	// Fixed is true for a caller-mandated fixed-layout object (e.g. a
	// spilled incoming parameter at a known offset), laid out before CSR
	// slots and locals.
	Fixed bool
}

const (
	StackIDFixed = iota
	StackIDCalleeSave
	StackIDLocal
)

// FrameInfo owns a CgFunction's abstract stack objects and call-frame
// bookkeeping.
type FrameInfo struct {
	Objects []StackObject

	MaxCallFrameSize int64
	AdjustsSP        bool

	// FinalFrameSize is set by the prolog/epilog pass once layout is
	// complete.
	FinalFrameSize int64
}

// NewStackObject allocates a new abstract stack object and returns its
// index (used as a CgOperand.FrameIndex).
func (fi *FrameInfo) NewStackObject(size, align int64, stackID int) int {
	fi.Objects = append(fi.Objects, StackObject{Size: size, Align: align, StackID: stackID, Fixed: stackID == StackIDFixed})
	return len(fi.Objects) - 1
}

// CgFunction is one function's machine-level IR.
type CgFunction struct {
	Index int
	Name  string

	blocks []*CgBasicBlock
	nextVReg uint32

	Frame FrameInfo

	// SavedCSRs is populated by the prolog/epilog pass.
	SavedCSRs []CalleeSaveSlot

	EntryBlock *CgBasicBlock
}

// CalleeSaveSlot records where one callee-saved physical register's value
// is preserved across the function body.
type CalleeSaveSlot struct {
	Reg        PhysReg
	Class      RegClass
	FrameIndex int  // valid when !IsRegDest
	ToRegister PhysReg
	IsRegDest  bool
}

func NewCgFunction(index int, name string) *CgFunction {
	return &CgFunction{Index: index, Name: name}
}

func (f *CgFunction) NewBlock() *CgBasicBlock {
	b := &CgBasicBlock{Index: len(f.blocks), fn: f}
	f.blocks = append(f.blocks, b)
	if f.EntryBlock == nil {
		f.EntryBlock = b
	}
	return b
}

func (f *CgFunction) Blocks() []*CgBasicBlock { return f.blocks }

// NewVReg allocates a fresh virtual register of the given class.
func (f *CgFunction) NewVReg(class RegClass) VReg {
	id := f.nextVReg
	f.nextVReg++
	return VReg{ID: id, Class: class, IsVirtual: true, Real: InvalidPhysReg}
}

// AddSucc wires a CFG edge from a to b (exposed for lowering, which builds
// the CGIR CFG to mirror MIR's).
func (f *CgFunction) AddSucc(a, b *CgBasicBlock) { a.addSucc(b) }

// NumVRegs returns how many virtual registers have been allocated.
func (f *CgFunction) NumVRegs() int { return int(f.nextVReg) }
