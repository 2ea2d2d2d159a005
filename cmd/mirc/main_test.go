package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMIR = `
func %0 (i32, i32) -> i32 {
  var $2 i32;
  @entry:
  $2 = add($0, $1);
  return $2;
}
`

func TestDoMainCompilesSampleModule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.mir")
	require.NoError(t, os.WriteFile(path, []byte(sampleMIR), 0o644))

	flag.CommandLine = flag.NewFlagSet("mirc", flag.ContinueOnError)
	os.Args = []string{"mirc", path}

	var out, errOut bytes.Buffer
	code := doMain(&out, &errOut)
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "compiled 1 function(s) for amd64")
	require.Empty(t, errOut.String())
}

func TestDoMainReportsParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.mir")
	require.NoError(t, os.WriteFile(path, []byte("func %0 () -> void { @entry: $0 = bogus_op($0); return; }"), 0o644))

	flag.CommandLine = flag.NewFlagSet("mirc", flag.ContinueOnError)
	os.Args = []string{"mirc", path}

	var out, errOut bytes.Buffer
	code := doMain(&out, &errOut)
	require.Equal(t, 1, code)
	require.Contains(t, errOut.String(), "parse error")
}
