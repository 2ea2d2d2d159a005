package wasmfront

import "github.com/mirvm/mirc/internal/mir"

// ChargeGas implements gas metering: when enabled, each
// appropriate opcode emits a check `gas_left < delta` -> gas-limit-exceeded,
// followed by `gas_left -= delta`. Call this once per metered opcode,
// before emitting the opcode's own MIR.
func (b *Builder) ChargeGas(op mir.Opcode) {
	if !b.opt.GasMeteringEnabled {
		return
	}
	delta, ok := b.opt.GasCosts[op]
	if !ok || delta == 0 {
		return
	}
	cur := b.fn.EmitLoad(b.curBlock, mir.I64, b.instancePtr, nil, 1, b.opt.Layout.GasOffset)
	deltaV := b.fn.EmitConstInt(b.curBlock, mir.I64, delta, false)
	b.CheckedTrap(mir.OpCheckGas, mir.ErrGasLimitExceeded, cur, deltaV)
	updated := b.fn.EmitBinary(b.curBlock, mir.OpSub, mir.I64, cur, deltaV)
	b.fn.EmitStore(b.curBlock, b.instancePtr, nil, updated, 1, b.opt.Layout.GasOffset)
}
