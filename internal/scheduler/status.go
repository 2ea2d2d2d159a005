// Package scheduler drives eager and lazy compilation of a module's
// functions. The worker pool is built on sync.Mutex+sync.Cond over a
// bounded queue rather than an unbounded channel: an unbounded channel
// would silently lose the bounded-queue backpressure and the
// tail-task-drains-before-shutdown ordering the drivers rely on.
package scheduler

import "sync/atomic"

// Status is a function's compile-status state.
type Status uint32

const (
	StatusNone Status = iota
	StatusPending
	StatusInProgress
	StatusDone
	// StatusFailed short-circuits a module once any function's background
	// compile errors; there is no recovery from a failed background
	// compile, so the module is marked failed and every
	// further stub hit returns that same error without retrying.
	StatusFailed
)

// StatusTable is the atomic per-function compile-status array plus the
// published code-pointer array.
type StatusTable struct {
	status []atomic.Uint32
	code   []atomic.Int64 // holds the compiled code's base address once Done
	errs   []error         // written before the StatusFailed store that publishes them
}

func NewStatusTable(numFuncs int) *StatusTable {
	return &StatusTable{
		status: make([]atomic.Uint32, numFuncs),
		code:   make([]atomic.Int64, numFuncs),
		errs:   make([]error, numFuncs),
	}
}

func (t *StatusTable) Load(funcIndex int) Status {
	return Status(t.status[funcIndex].Load())
}

// TryBeginCompile CASes funcIndex from None to Pending, returning true iff
// this caller won the race and must perform the compile.
func (t *StatusTable) TryBeginCompile(funcIndex int) bool {
	return t.status[funcIndex].CompareAndSwap(uint32(StatusNone), uint32(StatusPending))
}

// MarkInProgress transitions Pending -> InProgress once a worker actually
// starts running the compile (as opposed to merely having claimed it).
func (t *StatusTable) MarkInProgress(funcIndex int) {
	t.status[funcIndex].Store(uint32(StatusInProgress))
}

// PublishDone stores the compiled code's address and release-publishes
// Done. atomic.Int64.Store/Load on the code slot plus atomic.Uint32
// on the status slot together give the same release/acquire pairing the
// original gets from std::memory_order_release/acquire.
func (t *StatusTable) PublishDone(funcIndex int, codeAddr int64) {
	t.code[funcIndex].Store(codeAddr)
	t.status[funcIndex].Store(uint32(StatusDone))
}

// PublishFailed marks funcIndex (and, per ShortCircuitModule, every
// function) permanently failed.
func (t *StatusTable) PublishFailed(funcIndex int, err error) {
	t.errs[funcIndex] = err
	t.status[funcIndex].Store(uint32(StatusFailed))
	t.ShortCircuitModule(err)
}

// CodeAddr returns the published code address; only meaningful once
// Load(funcIndex) == StatusDone.
func (t *StatusTable) CodeAddr(funcIndex int) int64 {
	return t.code[funcIndex].Load()
}

func (t *StatusTable) Err(funcIndex int) error {
	return t.errs[funcIndex]
}

// ShortCircuitModule marks every not-yet-Done function Failed.
func (t *StatusTable) ShortCircuitModule(err error) {
	for i := range t.status {
		for {
			cur := Status(t.status[i].Load())
			if cur == StatusDone || cur == StatusFailed {
				break
			}
			t.errs[i] = err
			if t.status[i].CompareAndSwap(uint32(cur), uint32(StatusFailed)) {
				break
			}
		}
	}
}
