// Package wasmfront implements the event-driven WASM→MIR translator. It
// consumes opcode events from an external bytecode visitor (decoding the
// raw WebAssembly binary is the visitor's job, not ours) and emits MIR
// for one function at a time via internal/mir, finishing with the shared
// exception plumbing.
package wasmfront

import "github.com/mirvm/mirc/internal/mir"

// Operand is a single WASM operand-stack slot. It always holds an
// SSA-valued MIR instruction; variable reads are pushed as the dread
// instruction that produced them.
type Operand struct {
	val mir.Value
	typ mir.Type
}

// ValueOperand wraps an already-computed MIR value.
func ValueOperand(v mir.Value) Operand { return Operand{val: v, typ: v.Type()} }

// Type returns the operand's WASM-level type.
func (o Operand) Type() mir.Type { return o.typ }

// extractOperand normalizes o to a usable mir.Value. In this builder
// every Operand already carries a concrete Value: the external visitor is
// responsible for pushing variable reads through (*Builder).ReadLocal,
// which itself emits the dread. extractOperand stays the single choke
// point other methods call even though the variable-vs-value branch
// collapses to an identity here.
func (b *Builder) extractOperand(o Operand) mir.Value {
	return o.val
}
