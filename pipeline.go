package mirc

// Pipeline wires together the components the rest of this module leaves
// as independent packages: wasmfront/mirtext build MIR, cgir.Lower maps it
// to a target's CGIR, internal/cgir/regalloc assigns registers and lays
// out the frame, internal/cgir/peephole cleans up the result, and the
// chosen isa package encodes bytes. internal/scheduler's CompileFunc is
// exactly one call to CompileFunction, closed over a *mir.Module and a
// CompileConfig.
import (
	"fmt"

	"github.com/mirvm/mirc/internal/cgir"
	"github.com/mirvm/mirc/internal/cgir/isa/amd64"
	"github.com/mirvm/mirc/internal/cgir/isa/arm64"
	"github.com/mirvm/mirc/internal/cgir/peephole"
	"github.com/mirvm/mirc/internal/cgir/regalloc"
	"github.com/mirvm/mirc/internal/mir"
	"github.com/mirvm/mirc/internal/mirdebug"
	"github.com/mirvm/mirc/internal/mirerr"
	"github.com/mirvm/mirc/internal/scheduler"
	"github.com/mirvm/mirc/internal/wasmfront"
)

// amd64RegFile is the one RegFile instance every amd64 compile shares;
// built once since RegFile is immutable.
var amd64RegFile = regalloc.RegFile{
	Order: map[cgir.RegClass][]cgir.PhysReg{
		cgir.RegClassInt: append(append([]cgir.PhysReg{}, amd64.VolatileGP...), amd64.CalleeSavedGP...),
	},
	CalleeSaved: calleeSavedSet(amd64.CalleeSavedGP),
}

func calleeSavedSet(regs []cgir.PhysReg) map[cgir.PhysReg]bool {
	m := make(map[cgir.PhysReg]bool, len(regs))
	for _, r := range regs {
		m[r] = true
	}
	return m
}

// amd64FusionOpcodes feeds internal/cgir/peephole the concrete opcode
// values it needs to recognize the documented cmp/setcc/test/jne->jcc
// pattern for the amd64 target.
var amd64FusionOpcodes = peephole.FusionOpcodes{
	Cmp:   uint32(amd64.OpCMP),
	Setcc: uint32(amd64.OpSETCC),
	Test:  uint32(amd64.OpTEST),
	Jcc:   uint32(amd64.OpJCC),
}

// Target picks the cgir.Target and RegFile for one architecture.
func targetFor(arch Arch) (cgir.Target, regalloc.RegFile, peephole.FusionOpcodes, error) {
	switch arch {
	case ArchAMD64:
		return &amd64.Machine{}, amd64RegFile, amd64FusionOpcodes, nil
	case ArchARM64:
		// AArch64 is the secondary target: it gets an empty RegFile and
		// FusionOpcodes, and CompileFunction stops after lowering for it
		// (no regalloc, peephole or encoding).
		return &arm64.Machine{}, regalloc.RegFile{}, peephole.FusionOpcodes{}, nil
	default:
		return nil, regalloc.RegFile{}, peephole.FusionOpcodes{}, fmt.Errorf("mirc: unknown arch %d", arch)
	}
}

// CompileFunction runs the full per-function pipeline: lowering,
// register/frame passes, peephole, encoding. It returns the function's
// relocated machine code bytes, ready for the scheduler to link into an
// executable region.
func CompileFunction(cfg CompileConfig, fn *mir.Function) ([]byte, error) {
	target, rf, fo, err := targetFor(cfg.Arch)
	if err != nil {
		return nil, err
	}

	cgFn := cgir.Lower(target, fn)

	if cfg.Arch == ArchAMD64 {
		res, err := regalloc.Allocate(cgFn, rf)
		if err != nil {
			return nil, mirerr.Newf(mirerr.PhaseRegalloc, fn.Index, mirerr.ErrRegAllocFailed, "allocating function %d", fn.Index)
		}
		if err := regalloc.InsertPrologueEpilogue(cgFn, res, regalloc.PrologueEpilogueOptions{RegFile: rf}); err != nil {
			return nil, err
		}
		regalloc.RewriteOperands(cgFn, res)
		peephole.Run(cgFn, fo)
		bytes, err := amd64.EmitFunction(cgFn)
		if err == nil && mirdebug.PerfMap != nil {
			mirdebug.PerfMap.AddEntry(int64(fn.Index), uint64(len(bytes)), fmt.Sprintf("jit_fn_%d", fn.Index))
		}
		return bytes, err
	}

	// AArch64: lowering-only path (see targetFor's comment); no backend
	// currently encodes CGIR to bytes for this target.
	return nil, fmt.Errorf("mirc: arm64 byte encoding is not implemented (lowering-only target)")
}

// CompileModuleEager runs scheduler.CompileEager over every function in
// mod using cfg, returning the populated status table.
func CompileModuleEager(cfg CompileConfig, mod *mir.Module) (*scheduler.StatusTable, [][]byte, error) {
	code := make([][]byte, len(mod.Functions))
	compile := func(i int) (int64, error) {
		bytes, err := CompileFunction(cfg, mod.Functions[i])
		if err != nil {
			return 0, err
		}
		code[i] = bytes
		// The address published to the status table is only meaningful
		// once a caller has linked `bytes` into an executable region;
		// CompileModuleEager itself stays allocation-free so it
		// can run under test without mmap, returning the function's index
		// into `code` as a placeholder address for status-table bookkeeping.
		return int64(i), nil
	}
	st, err := scheduler.CompileEager(len(mod.Functions), compile)
	return st, code, err
}

// NewLazyDriver constructs a scheduler.Driver for mod whose CompileFunc
// compiles one function via CompileFunction, storing the result in code
// (shared with the caller so a real linker can map it once available).
func NewLazyDriver(cfg CompileConfig, mod *mir.Module, regionBase int64) (*scheduler.Driver, [][]byte) {
	code := make([][]byte, len(mod.Functions))
	compile := func(i int) (int64, error) {
		bytes, err := CompileFunction(cfg, mod.Functions[i])
		if err != nil {
			return 0, err
		}
		code[i] = bytes
		return int64(i), nil
	}
	return scheduler.NewDriver(len(mod.Functions), compile, regionBase, cfg.ResolvedPoolSize()), code
}

// FrontendOptions derives the wasmfront.Options matching cfg, for callers
// that drive the WASM->MIR builder themselves before handing the resulting
// module to CompileModuleEager/NewLazyDriver. hosts carries the host
// callback handles the builder bakes into exception/grow plumbing.
func FrontendOptions(cfg CompileConfig, hosts wasmfront.HostCallbacks) wasmfront.Options {
	costs := make(map[mir.Opcode]uint64, len(cfg.GasCosts))
	for name, cost := range cfg.GasCosts {
		if op, ok := mir.OpcodeByName(name); ok {
			costs[op] = cost
		}
	}
	return wasmfront.Options{
		StackCheckMode:         int(cfg.StackCheckMode),
		StackCostLimit:         cfg.StackCostLimit,
		PerFunctionCost:        cfg.PerFunctionCost,
		GuardPageSize:          cfg.GuardPageSize,
		CacheMemoryBaseAndSize: true,
		GasMeteringEnabled:     cfg.GasMeteringEnabled,
		GasCosts:               costs,
		CPUExceptionMode:       !cfg.UseSoftMemCheck,
		Layout: wasmfront.Layout{
			StackCostOffset:     cfg.Layout.StackCostOffset,
			StackBoundaryOffset: cfg.Layout.StackBoundaryOffset,
			GasOffset:           cfg.Layout.GasOffset,
			ExceptionOffset:     cfg.Layout.ExceptionOffset,
			MemoryBaseOffset:    cfg.Layout.MemoryBaseOffset,
			MemorySizeOffset:    cfg.Layout.MemorySizeOffset,
		},
		Hosts: hosts,
	}
}
