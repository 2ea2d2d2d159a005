package mir

// Module is the top-level compile unit: its functions in index order
// (function types are interned in the Context). Unlike Function/BasicBlock/Instruction,
// Module and its Functions slice are not arena-allocated: a module
// outlives any single function's compile and is read concurrently by
// multiple worker goroutines once published, so it is plain
// heap-allocated, ordinary Go data.
type Module struct {
	Functions []*Function
}

// NewModule returns an empty Module.
func NewModule() *Module {
	return &Module{}
}

// AddFunction appends fn to the module and returns its index, which must
// equal fn.Index.
func (m *Module) AddFunction(fn *Function) int {
	if fn.Index != len(m.Functions) {
		panic("mir: function index must match append position")
	}
	m.Functions = append(m.Functions, fn)
	return fn.Index
}
