// Command mirc parses a textual MIR module and runs it through the eager
// compile pipeline, printing a per-function summary. It exists for manual
// inspection during development; it is not itself part of the compiler
// core and stays deliberately thin.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mirvm/mirc"
	"github.com/mirvm/mirc/internal/mir"
	"github.com/mirvm/mirc/internal/mirtext"
)

func main() {
	os.Exit(doMain(os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut, stdErr io.Writer) int {
	flag.CommandLine.SetOutput(stdErr)

	var arch string
	flag.StringVar(&arch, "arch", "amd64", "target architecture: amd64 or arm64")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(stdErr, "usage: mirc [-arch amd64|arm64] <mir-text-file>")
		return 1
	}

	src, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(stdErr, err)
		return 1
	}

	ctx := mir.NewContext()
	mod, err := mirtext.Parse(ctx, string(src))
	if err != nil {
		fmt.Fprintln(stdErr, "parse error:", err)
		return 1
	}

	cfg := mirc.DefaultConfig()
	switch arch {
	case "amd64":
		cfg.Arch = mirc.ArchAMD64
	case "arm64":
		cfg.Arch = mirc.ArchARM64
	default:
		fmt.Fprintf(stdErr, "unknown arch %q\n", arch)
		return 1
	}

	_, code, err := mirc.CompileModuleEager(cfg, mod)
	if err != nil {
		fmt.Fprintln(stdErr, "compile error:", err)
		return 1
	}

	fmt.Fprintf(stdOut, "compiled %d function(s) for %s\n", len(mod.Functions), arch)
	for i, b := range code {
		fmt.Fprintf(stdOut, "  func %d: %d bytes\n", i, len(b))
	}
	return 0
}
