// Package mirdebug centralizes the compile-time debug switches used across
// the compiler. Keeping them in one file means "where do we turn on tracing"
// is a single grep away instead of scattered per-package booleans.
package mirdebug

// Logging switches. They are false by default, and no code in this module
// reads them.
const (
	MIRBuilderLoggingEnabled = false
	LowerLoggingEnabled      = false
	RegAllocLoggingEnabled   = false
	SchedulerLoggingEnabled  = false
)

// Dump switches. They are false by default, and no code in this module reads
// them, so enabling one changes no output.
const (
	PrintMIR             = false
	PrintCGIRAfterLower  = false
	PrintCGIRAfterRA     = false
	PrintFinalMachineHex = false
)

// ArenaTrackingEnabled gates the per-arena allocation-size bookkeeping.
// It is off by default; when on, every Allocate also compares and updates
// the arena's high-water mark.
const ArenaTrackingEnabled = false

// Validation switches. They are true by default, but no validation pass in
// this module reads them.
const (
	RegAllocValidationEnabled = true
	MIRValidationEnabled      = true
)
