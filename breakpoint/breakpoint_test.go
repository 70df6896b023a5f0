package breakpoint_test

import (
	"testing"

	"tracewright/breakpoint"
	"tracewright/dbgtest"
	"tracewright/ptrace"
)

func TestEnableDisableRoundTrip(t *testing.T) {
	pid := dbgtest.Launch(t, "/bin/sleep", "5")
	regs, err := ptrace.GetRegisters(pid)
	if err != nil {
		t.Fatalf("GetRegisters: %v", err)
	}
	addr := uintptr(regs.Rip)

	before, err := ptrace.PeekWord(pid, addr)
	if err != nil {
		t.Fatalf("PeekWord: %v", err)
	}

	bp := breakpoint.New(pid, addr)
	if err := bp.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	patched, err := ptrace.PeekWord(pid, addr)
	if err != nil {
		t.Fatalf("PeekWord after enable: %v", err)
	}
	if byte(patched) != 0xCC {
		t.Fatalf("low byte after Enable = %#x, want 0xcc", byte(patched))
	}
	if patched&^0xff != before&^0xff {
		t.Fatalf("Enable modified bytes outside the low byte: before=%#x patched=%#x", before, patched)
	}

	if err := bp.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	after, err := ptrace.PeekWord(pid, addr)
	if err != nil {
		t.Fatalf("PeekWord after disable: %v", err)
	}
	if after != before {
		t.Fatalf("word after Disable = %#x, want original %#x", after, before)
	}
}

func TestIdempotentEnable(t *testing.T) {
	pid := dbgtest.Launch(t, "/bin/sleep", "5")
	regs, err := ptrace.GetRegisters(pid)
	if err != nil {
		t.Fatalf("GetRegisters: %v", err)
	}
	addr := uintptr(regs.Rip)

	bp := breakpoint.New(pid, addr)
	if err := bp.Enable(); err != nil {
		t.Fatalf("first Enable: %v", err)
	}
	wordAfterFirst, err := ptrace.PeekWord(pid, addr)
	if err != nil {
		t.Fatalf("PeekWord: %v", err)
	}

	if err := bp.Enable(); err != nil {
		t.Fatalf("second Enable: %v", err)
	}
	wordAfterSecond, err := ptrace.PeekWord(pid, addr)
	if err != nil {
		t.Fatalf("PeekWord: %v", err)
	}

	if wordAfterFirst != wordAfterSecond {
		t.Fatalf("second Enable changed memory: %#x != %#x", wordAfterFirst, wordAfterSecond)
	}

	_ = bp.Disable()
}

func TestDisableWhileDisabledIsError(t *testing.T) {
	pid := dbgtest.Launch(t, "/bin/sleep", "5")
	regs, err := ptrace.GetRegisters(pid)
	if err != nil {
		t.Fatalf("GetRegisters: %v", err)
	}

	bp := breakpoint.New(pid, uintptr(regs.Rip))
	if err := bp.Disable(); err == nil {
		t.Fatal("expected an error disabling a never-enabled breakpoint")
	}
}
