package tracee_test

import (
	"os/exec"
	"path/filepath"
	"testing"

	"tracewright/arch"
	"tracewright/tracee"
)

// buildFixture compiles testdata/fixture/main.go with optimizations and
// inlining disabled, producing a real ELF+DWARF binary these tests launch
// under ptrace, in the same on-the-fly style as dwarfidx's fixture build.
func buildFixture(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available to build the tracee fixture")
	}

	dir := t.TempDir()
	out := filepath.Join(dir, "fixture")

	// Built as a position-independent executable so its DWARF low_pc values
	// are relative to a zero base, matching the ASLR model the Controller's
	// BaseAddress/PCToCodePoint arithmetic assumes (spec.md §4.6, §9).
	cmd := exec.Command("go", "build", "-o", out, "-buildmode=pie", "-gcflags=all=-N -l", "./testdata/fixture")
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building tracee fixture: %v\n%s", err, output)
	}
	return out
}

func launch(t *testing.T) *tracee.Controller {
	t.Helper()
	bin := buildFixture(t)
	ctl, err := tracee.Launch(bin)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { _ = ctl.Kill() })
	return ctl
}

// Scenario 2/1: hit a breakpoint installed by function name.
func TestAddBreakpointAtFunctionAndResumeHits(t *testing.T) {
	ctl := launch(t)

	sites, err := ctl.AddBreakpointAtFunction("main.target")
	if err != nil {
		t.Fatalf("AddBreakpointAtFunction: %v", err)
	}
	if sites != 1 {
		t.Fatalf("AddBreakpointAtFunction(main.target) installed %d sites, want 1", sites)
	}

	addrs, err := ctl.FunctionAddresses("main.target")
	if err != nil || len(addrs) != 1 {
		t.Fatalf("FunctionAddresses: %v, %v", addrs, err)
	}
	base, err := ctl.BaseAddress()
	if err != nil {
		t.Fatalf("BaseAddress: %v", err)
	}
	want := addrs[0] + base

	if err := ctl.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	pc, err := ctl.GetRegister(arch.PCRegister)
	if err != nil {
		t.Fatalf("GetRegister(PC): %v", err)
	}
	if pc != want+arch.TrapPCAdjustment {
		t.Fatalf("PC after breakpoint hit = %#x, want %#x", pc, want+arch.TrapPCAdjustment)
	}
}

// Scenario 3: resuming past a tripped breakpoint must not retrigger until
// a genuine second hit (target is called twice in the fixture).
func TestResumePastBreakpointTwice(t *testing.T) {
	ctl := launch(t)

	if _, err := ctl.AddBreakpointAtFunction("main.target"); err != nil {
		t.Fatalf("AddBreakpointAtFunction: %v", err)
	}
	addrs, _ := ctl.FunctionAddresses("main.target")
	base, _ := ctl.BaseAddress()
	want := addrs[0] + base

	if err := ctl.Resume(); err != nil {
		t.Fatalf("first Resume: %v", err)
	}
	pc, err := ctl.GetRegister(arch.PCRegister)
	if err != nil || pc != want+arch.TrapPCAdjustment {
		t.Fatalf("first hit PC = %#x, err=%v, want %#x", pc, err, want+arch.TrapPCAdjustment)
	}

	if err := ctl.Resume(); err != nil {
		t.Fatalf("second Resume: %v", err)
	}
	pc, err = ctl.GetRegister(arch.PCRegister)
	if err != nil || pc != want+arch.TrapPCAdjustment {
		t.Fatalf("second hit PC = %#x, err=%v, want %#x", pc, err, want+arch.TrapPCAdjustment)
	}
}

// Scenario 5: locating a non-existent function is a zero-site success.
func TestAddBreakpointAtFunctionNotFound(t *testing.T) {
	ctl := launch(t)

	sites, err := ctl.AddBreakpointAtFunction("main.no_such_function")
	if err != nil {
		t.Fatalf("AddBreakpointAtFunction: %v", err)
	}
	if sites != 0 {
		t.Fatalf("AddBreakpointAtFunction(no_such_function) = %d sites, want 0", sites)
	}
}

// Scenario 4: typed memory write then read.
func TestTypedMemoryWriteThenRead(t *testing.T) {
	ctl := launch(t)

	sp, err := ctl.GetRegister(arch.RSP)
	if err != nil {
		t.Fatalf("GetRegister(RSP): %v", err)
	}
	addr := uintptr(sp - 4096)

	if err := ctl.WriteTyped(addr, "u32", "3735928559"); err != nil {
		t.Fatalf("WriteTyped: %v", err)
	}

	got, err := ctl.ReadTyped(addr, "u32")
	if err != nil {
		t.Fatalf("ReadTyped(u32): %v", err)
	}
	if got != "3735928559" {
		t.Fatalf("ReadTyped(u32) = %q, want 3735928559", got)
	}

	gotByte, err := ctl.ReadTyped(addr, "u8")
	if err != nil {
		t.Fatalf("ReadTyped(u8): %v", err)
	}
	if gotByte != "239" {
		t.Fatalf("ReadTyped(u8) = %q, want 239", gotByte)
	}
}

// Scenario 6: register round-trip.
func TestRegisterRoundTrip(t *testing.T) {
	ctl := launch(t)

	if err := ctl.SetRegister(arch.RAX, 42); err != nil {
		t.Fatalf("SetRegister: %v", err)
	}
	got, err := ctl.GetRegister(arch.RAX)
	if err != nil {
		t.Fatalf("GetRegister: %v", err)
	}
	if got != 42 {
		t.Fatalf("GetRegister(RAX) = %d, want 42", got)
	}
}

func TestReadTypedUnknownTagIsBadInput(t *testing.T) {
	ctl := launch(t)

	sp, _ := ctl.GetRegister(arch.RSP)
	_, err := ctl.ReadTyped(uintptr(sp-4096), "nonsense")
	if err == nil {
		t.Fatal("expected an error for an unknown type tag")
	}
	if _, ok := err.(*tracee.BadInputError); !ok {
		t.Fatalf("ReadTyped with unknown tag returned %T, want *tracee.BadInputError", err)
	}
}

func TestKillTerminatesTracee(t *testing.T) {
	ctl := launch(t)

	if err := ctl.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
}
