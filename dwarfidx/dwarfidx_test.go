package dwarfidx_test

import (
	"os/exec"
	"path/filepath"
	"testing"

	"tracewright/dwarfidx"
)

// buildFixture compiles testdata/fixture/main.go with optimizations and
// inlining disabled (so main.target survives as a standalone subprogram)
// and returns the resulting binary's path, in the style of the pack's own
// on-the-fly fixture builds (golang-debug/internal/gocore/gocore_test.go).
func buildFixture(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available to build the DWARF fixture")
	}

	dir := t.TempDir()
	out := filepath.Join(dir, "fixture")

	cmd := exec.Command("go", "build", "-o", out, "-gcflags=all=-N -l", "./testdata/fixture")
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building DWARF fixture: %v\n%s", err, output)
	}
	return out
}

func TestFunctionAddressesFindsTarget(t *testing.T) {
	bin := buildFixture(t)

	idx, err := dwarfidx.Load(bin)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	addrs, err := idx.FunctionAddresses("main.target")
	if err != nil {
		t.Fatalf("FunctionAddresses: %v", err)
	}
	if len(addrs) != 1 {
		t.Fatalf("FunctionAddresses(main.target) = %v, want exactly one address", addrs)
	}
}

func TestFunctionAddressesCacheConsistency(t *testing.T) {
	bin := buildFixture(t)
	idx, err := dwarfidx.Load(bin)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	first, err := idx.FunctionAddresses("main.target")
	if err != nil {
		t.Fatalf("FunctionAddresses: %v", err)
	}
	second, err := idx.FunctionAddresses("main.target")
	if err != nil {
		t.Fatalf("FunctionAddresses: %v", err)
	}
	if len(first) != len(second) || (len(first) > 0 && first[0] != second[0]) {
		t.Fatalf("FunctionAddresses is not cache-consistent: %v != %v", first, second)
	}
}

func TestFunctionAddressesUnknownFunction(t *testing.T) {
	bin := buildFixture(t)
	idx, err := dwarfidx.Load(bin)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	addrs, err := idx.FunctionAddresses("main.no_such_function")
	if err != nil {
		t.Fatalf("FunctionAddresses: %v", err)
	}
	if len(addrs) != 0 {
		t.Fatalf("FunctionAddresses(main.no_such_function) = %v, want none", addrs)
	}
}

func TestPCToCodePointResolvesFunction(t *testing.T) {
	bin := buildFixture(t)
	idx, err := dwarfidx.Load(bin)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	addrs, err := idx.FunctionAddresses("main.target")
	if err != nil || len(addrs) != 1 {
		t.Fatalf("FunctionAddresses: %v, %v", addrs, err)
	}

	cp, err := idx.PCToCodePoint(addrs[0]+1, 0)
	if err != nil {
		t.Fatalf("PCToCodePoint: %v", err)
	}
	if !cp.HasFunc || cp.Function != "main.target" {
		t.Fatalf("PCToCodePoint = %+v, want Function=main.target", cp)
	}
	if !cp.HasLine || cp.Line == 0 {
		t.Fatalf("PCToCodePoint = %+v, want a resolved source line", cp)
	}
}

func TestPCToCodePointBaseOffset(t *testing.T) {
	bin := buildFixture(t)
	idx, err := dwarfidx.Load(bin)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	addrs, err := idx.FunctionAddresses("main.target")
	if err != nil || len(addrs) != 1 {
		t.Fatalf("FunctionAddresses: %v, %v", addrs, err)
	}

	const base = 0x10000
	cp, err := idx.PCToCodePoint(addrs[0]+base+1, base)
	if err != nil {
		t.Fatalf("PCToCodePoint: %v", err)
	}
	if !cp.HasFunc || cp.Function != "main.target" {
		t.Fatalf("PCToCodePoint with base offset = %+v, want Function=main.target", cp)
	}
	if cp.PC != addrs[0]+base+1 {
		t.Fatalf("PCToCodePoint.PC = %#x, want the runtime address that was queried", cp.PC)
	}
}
