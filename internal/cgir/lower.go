package cgir

import "github.com/mirvm/mirc/internal/mir"

// Target is the per-architecture instruction-selection contract.
// internal/cgir/isa/amd64 and internal/cgir/isa/arm64 each implement one
// Target.
type Target interface {
	// NewFunction returns a fresh, empty CgFunction for fn (e.g. with the
	// ABI-mandated entry block shape already present).
	NewFunction(fn *mir.Function) *CgFunction

	// LowerInstruction selects and appends target instructions for instr
	// into lb's current block, consulting/updating lb's value map for
	// operand resolution.
	LowerInstruction(lb *LowerBuilder, instr *mir.Instruction)

	// RegClassFor returns the register class a MIR Type lives in.
	RegClassFor(t mir.Type) RegClass
}

// LowerBuilder carries the state shared across one function's lowering:
// the CgFunction under construction, a MIR-block -> CGIR-block map, and a
// MIR-value -> VReg map (every SSA-valued MIR instruction becomes exactly
// one virtual register).
type LowerBuilder struct {
	Target Target
	MIRFn  *mir.Function
	CgFn   *CgFunction

	blockMap map[*mir.BasicBlock]*CgBasicBlock
	valueMap map[mir.Value]VReg

	cur *CgBasicBlock
}

// Lower runs Target over every block/instruction of fn and returns the
// resulting CgFunction.
func Lower(target Target, fn *mir.Function) *CgFunction {
	cgFn := target.NewFunction(fn)
	lb := &LowerBuilder{
		Target:   target,
		MIRFn:    fn,
		CgFn:     cgFn,
		blockMap: make(map[*mir.BasicBlock]*CgBasicBlock, len(fn.Blocks())),
		valueMap: make(map[mir.Value]VReg),
	}
	for _, mb := range fn.Blocks() {
		lb.blockMap[mb] = cgFn.NewBlock()
	}
	for _, mb := range fn.Blocks() {
		cb := lb.blockMap[mb]
		for _, succ := range mb.Succs() {
			cgFn.AddSucc(cb, lb.blockMap[succ])
		}
	}
	for _, mb := range fn.Blocks() {
		lb.cur = lb.blockMap[mb]
		for instr := mb.FirstInstr(); instr != nil; instr = instr.Next() {
			target.LowerInstruction(lb, instr)
		}
	}
	return cgFn
}

// CgBlockFor resolves the CGIR block a MIR block was lowered into.
func (lb *LowerBuilder) CgBlockFor(b *mir.BasicBlock) *CgBasicBlock { return lb.blockMap[b] }

// CurrentBlock returns the block new instructions are appended to.
func (lb *LowerBuilder) CurrentBlock() *CgBasicBlock { return lb.cur }

// SetCurrentBlock redirects subsequent Emit calls, used when a target's
// lowering of one MIR instruction needs multiple CGIR blocks (e.g. a
// checked operation's branch-to-set-block sequence).
func (lb *LowerBuilder) SetCurrentBlock(b *CgBasicBlock) { lb.cur = b }

// NewBlock allocates an extra CGIR block not corresponding 1:1 to a MIR
// block (used for multi-instruction expansions).
func (lb *LowerBuilder) NewBlock() *CgBasicBlock { return lb.CgFn.NewBlock() }

// VRegFor returns the VReg holding v's result, allocating a fresh one of
// the appropriate class on first use.
func (lb *LowerBuilder) VRegFor(v mir.Value) VReg {
	if v == nil {
		return VReg{}
	}
	if r, ok := lb.valueMap[v]; ok {
		return r
	}
	r := lb.CgFn.NewVReg(lb.Target.RegClassFor(v.Type()))
	lb.valueMap[v] = r
	return r
}

// BindResult records that instr's lowered form defines vreg, so later
// MIR instructions using instr as an operand resolve to the same VReg.
func (lb *LowerBuilder) BindResult(instr *mir.Instruction, vreg VReg) {
	lb.valueMap[instr] = vreg
}

// Emit appends a fully-built CgInstruction to the current block.
func (lb *LowerBuilder) Emit(i *CgInstruction) *CgInstruction {
	lb.cur.Append(i)
	return i
}
