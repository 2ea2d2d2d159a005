package mirdebug

import (
	"fmt"
	"os"
	"strconv"
)

// PerfMapEnabled turns on writing of a /tmp/perf-<pid>.map file so that
// `perf top`/`perf report` can symbolicate JIT-generated code. Off by default.
const PerfMapEnabled = false

// PerfMap is the process-wide perf map writer, non-nil only when
// PerfMapEnabled is true.
var PerfMap *Perfmap

func init() {
	if PerfMapEnabled {
		pid := os.Getpid()
		filename := "/tmp/perf-" + strconv.Itoa(pid) + ".map"
		fh, err := os.OpenFile(filename, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			panic(err)
		}
		PerfMap = &Perfmap{fh: fh}
	}
}

// Perfmap accumulates entries and flushes them to the perf map file.
type Perfmap struct {
	entries []entry
	fh      *os.File
}

type entry struct {
	addr int64
	size uint64
	name string
}

// AddEntry records one function's address range and name.
func (f *Perfmap) AddEntry(addr int64, size uint64, name string) {
	f.entries = append(f.entries, entry{addr, size, name})
}

// Flush writes all pending entries to the perf map file and clears them.
func (f *Perfmap) Flush() error {
	for _, e := range f.entries {
		if _, err := fmt.Fprintf(f.fh, "%x %x %s\n", e.addr, e.size, e.name); err != nil {
			return err
		}
	}
	f.entries = f.entries[:0]
	return f.fh.Sync()
}
