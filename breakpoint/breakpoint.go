// Package breakpoint implements a single installed software breakpoint:
// the INT3-patch/restore state machine (spec.md §4.4).
package breakpoint

import (
	"fmt"

	"tracewright/arch"
	"tracewright/ptrace"
)

// Breakpoint owns the displaced byte at one address in a tracee and
// enables/disables a software trap there. It is created disabled; the
// owning table is responsible for destroying it only after Disable, or the
// tracee leaks a patched-in trap opcode.
type Breakpoint struct {
	pid     int
	addr    uintptr
	enabled bool
	saved   byte // valid iff enabled
}

// New creates a disabled breakpoint for pid at addr. Call Enable to arm it.
func New(pid int, addr uintptr) *Breakpoint {
	return &Breakpoint{pid: pid, addr: addr}
}

// Addr returns the breakpoint's address.
func (b *Breakpoint) Addr() uintptr { return b.addr }

// Enabled reports whether the breakpoint is currently armed.
func (b *Breakpoint) Enabled() bool { return b.enabled }

// DisabledError is returned by Disable when the breakpoint is not enabled;
// spec.md §3 (I3) makes this a programming error, not a recoverable one.
type DisabledError struct {
	Addr uintptr
}

func (e *DisabledError) Error() string {
	return fmt.Sprintf("breakpoint at %#x is already disabled", e.Addr)
}

// Enable installs the trap opcode at the breakpoint's address, saving the
// displaced byte first. Enabling an already-enabled breakpoint is a no-op
// success (spec.md §3 I3, §4.4).
func (b *Breakpoint) Enable() error {
	if b.enabled {
		return nil
	}

	word, err := ptrace.PeekWord(b.pid, b.addr)
	if err != nil {
		return err
	}

	saved := byte(word)
	patched := (word &^ 0xff) | uint64(arch.TrapInstruction)
	if err := ptrace.PokeWord(b.pid, b.addr, patched); err != nil {
		return err
	}

	b.saved = saved
	b.enabled = true
	return nil
}

// Disable restores the displaced byte and clears the saved-byte slot.
// Calling Disable while already disabled returns a *DisabledError.
func (b *Breakpoint) Disable() error {
	if !b.enabled {
		return &DisabledError{Addr: b.addr}
	}

	word, err := ptrace.PeekWord(b.pid, b.addr)
	if err != nil {
		return err
	}

	restored := (word &^ 0xff) | uint64(b.saved)
	if err := ptrace.PokeWord(b.pid, b.addr, restored); err != nil {
		return err
	}

	b.saved = 0
	b.enabled = false
	return nil
}
