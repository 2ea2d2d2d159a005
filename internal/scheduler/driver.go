package scheduler

import (
	"runtime"
	"sync"

	"github.com/mirvm/mirc/internal/stub"
)

// DispatchStrategy selects which functions a lazy driver eagerly
// background-compiles at module publish time, before any stub is ever
// hit.
type DispatchStrategy int

const (
	DispatchDepthFirst DispatchStrategy = iota
	DispatchInOrder
	DispatchEntryOnly
)

// CompileFunc compiles one function to executable code, returning its
// base address. It is supplied by the root mirc package, which wires
// together wasmfront -> mir -> cgir.Lower -> regalloc -> peephole ->
// encode for one function index.
type CompileFunc func(funcIndex int) (codeAddr int64, err error)

// CallGraph gives DispatchDepthFirst the successor edges to walk from
// each entry point (e.g. exported functions); absent for modules that
// don't need call-graph-ordered prefetch.
type CallGraph func(funcIndex int) []int

// ResolvedPoolSize returns 1 + hardware concurrency, capped at 8.
func ResolvedPoolSize() int {
	n := 1 + runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	return n
}

// Driver owns one module's background-compile machinery: the status
// table, the worker pool, and the stub region its resolver patches.
type Driver struct {
	status  *StatusTable
	pool    *Pool
	stubs   *stub.Region
	compile CompileFunc

	regionBase int64

	// inProgress lets a resolver call block on another worker's
	// in-flight compile of the same function rather than racing it: a
	// stub hit for a function already InProgress waits for completion
	// and reads the published pointer.
	mu         sync.Mutex
	inProgress map[int]*sync.Cond
}

// NewDriver constructs a Driver for a module of numFuncs functions backed
// by compile, with a fresh stub region at regionBase and a pool sized per
// ResolvedPoolSize (or an explicit poolSize if > 0).
func NewDriver(numFuncs int, compile CompileFunc, regionBase int64, poolSize int) *Driver {
	if poolSize <= 0 {
		poolSize = ResolvedPoolSize()
	}
	return &Driver{
		status:     NewStatusTable(numFuncs),
		pool:       NewPool(poolSize, numFuncs+1),
		stubs:      stub.NewRegion(numFuncs),
		compile:    compile,
		regionBase: regionBase,
		inProgress: make(map[int]*sync.Cond),
	}
}

func (d *Driver) Status() *StatusTable { return d.status }
func (d *Driver) Stubs() *stub.Region { return d.stubs }

// CompileEager runs every function's compile synchronously, in function
// index order, on the calling goroutine.
func CompileEager(numFuncs int, compile CompileFunc) (*StatusTable, error) {
	st := NewStatusTable(numFuncs)
	for i := 0; i < numFuncs; i++ {
		st.TryBeginCompile(i)
		st.MarkInProgress(i)
		addr, err := compile(i)
		if err != nil {
			st.ShortCircuitModule(err)
			return st, err
		}
		st.PublishDone(i, addr)
	}
	return st, nil
}

// Publish starts lazy mode: every function begins None with its stub
// pointing at the resolver; strategy-selected functions are proactively
// submitted to the pool so common call paths are warm before their first
// invocation.
func (d *Driver) Publish(strategy DispatchStrategy, entryPoints []int, graph CallGraph) {
	switch strategy {
	case DispatchEntryOnly:
		for _, e := range entryPoints {
			d.dispatchAsync(e)
		}
	case DispatchInOrder:
		for i := 0; i < len(d.status.status); i++ {
			d.dispatchAsync(i)
		}
	case DispatchDepthFirst:
		visited := make(map[int]bool)
		var walk func(int)
		walk = func(f int) {
			if visited[f] {
				return
			}
			visited[f] = true
			d.dispatchAsync(f)
			if graph != nil {
				for _, succ := range graph(f) {
					walk(succ)
				}
			}
		}
		for _, e := range entryPoints {
			walk(e)
		}
	}
}

func (d *Driver) dispatchAsync(funcIndex int) {
	if !d.status.TryBeginCompile(funcIndex) {
		return
	}
	d.pool.Submit(Task{FuncIndex: funcIndex, Run: func() { d.runCompile(funcIndex) }})
}

func (d *Driver) runCompile(funcIndex int) {
	d.status.MarkInProgress(funcIndex)
	addr, err := d.compile(funcIndex)

	// Publish before touching inProgress: a waiter that registers its
	// cond between the publish and the broadcast below re-checks the
	// status under d.mu and never sleeps through the wakeup.
	if err != nil {
		d.status.PublishFailed(funcIndex, err)
	} else {
		d.status.PublishDone(funcIndex, addr)
		d.stubs.PatchJumpTarget(funcIndex, addr, d.regionBase)
	}

	d.mu.Lock()
	if cond := d.inProgress[funcIndex]; cond != nil {
		delete(d.inProgress, funcIndex)
		cond.Broadcast()
	}
	d.mu.Unlock()
}

// ResolveStubHit is the lazy-mode resolver's entry point. It returns the function's code address once available,
// compiling synchronously on the caller's goroutine if no background
// compile has started yet.
func (d *Driver) ResolveStubHit(funcIndex int) (int64, error) {
	for {
		switch d.status.Load(funcIndex) {
		case StatusDone:
			return d.status.CodeAddr(funcIndex), nil
		case StatusFailed:
			return 0, d.status.Err(funcIndex)
		case StatusInProgress, StatusPending:
			d.waitForCompletion(funcIndex)
			continue
		case StatusNone:
			if d.status.TryBeginCompile(funcIndex) {
				d.runCompile(funcIndex)
				continue
			}
			// lost the race to another caller; wait on it instead.
			d.waitForCompletion(funcIndex)
		}
	}
}

func (d *Driver) waitForCompletion(funcIndex int) {
	d.mu.Lock()
	for {
		s := d.status.Load(funcIndex)
		if s != StatusInProgress && s != StatusPending {
			break
		}
		cond, ok := d.inProgress[funcIndex]
		if !ok {
			cond = sync.NewCond(&d.mu)
			d.inProgress[funcIndex] = cond
		}
		cond.Wait()
	}
	d.mu.Unlock()
}

// Shutdown tears down the pool.
func (d *Driver) Shutdown() { d.pool.Shutdown() }
