//go:build linux && amd64

// Package ptrace is a thin, typed facade over the kernel's process-tracing
// syscall family. It is the only package that touches golang.org/x/sys/unix's
// Ptrace* primitives directly; everything above it (memio, breakpoint,
// tracee) goes through this interface.
package ptrace

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// TraceMe requests that the kernel allow this process's parent to trace it.
// It must be called from the child after fork and before exec; failure here
// is fatal to the child (spec.md §4.1).
func TraceMe() error {
	return unix.PtraceTraceme()
}

// NoSuchProcessError reports that a tracing primitive could not find the
// tracee (it has exited, or was never attached).
type NoSuchProcessError struct {
	Pid int
	Op  string
	Err error
}

func (e *NoSuchProcessError) Error() string {
	return fmt.Sprintf("ptrace %s(pid=%d): no such process: %v", e.Op, e.Pid, e.Err)
}

func (e *NoSuchProcessError) Unwrap() error { return e.Err }

// IOError reports a memory-access failure from the tracing primitive: an
// unmapped or unaligned address, or a protection fault.
type IOError struct {
	Pid  int
	Op   string
	Addr uintptr
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ptrace %s(pid=%d, addr=%#x): %v", e.Op, e.Pid, e.Addr, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func classify(pid int, op string, addr uintptr, err error) error {
	if err == nil {
		return nil
	}
	if err == unix.ESRCH {
		return &NoSuchProcessError{Pid: pid, Op: op, Err: err}
	}
	return &IOError{Pid: pid, Op: op, Addr: addr, Err: err}
}

// PeekWord returns the 64-bit word at addr in the tracee's address space.
func PeekWord(pid int, addr uintptr) (uint64, error) {
	var buf [8]byte
	n, err := unix.PtracePeekData(pid, addr, buf[:])
	if err != nil {
		return 0, classify(pid, "PEEKDATA", addr, err)
	}
	if n != len(buf) {
		return 0, &IOError{Pid: pid, Op: "PEEKDATA", Addr: addr, Err: fmt.Errorf("short read: got %d of 8 bytes", n)}
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// PokeWord writes a 64-bit word at addr in the tracee's address space.
func PokeWord(pid int, addr uintptr, word uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	n, err := unix.PtracePokeData(pid, addr, buf[:])
	if err != nil {
		return classify(pid, "POKEDATA", addr, err)
	}
	if n != len(buf) {
		return &IOError{Pid: pid, Op: "POKEDATA", Addr: addr, Err: fmt.Errorf("short write: wrote %d of 8 bytes", n)}
	}
	return nil
}

// ContinueTracee resumes the tracee until its next stop signal.
func ContinueTracee(pid int) error {
	if err := unix.PtraceCont(pid, 0); err != nil {
		return classify(pid, "CONT", 0, err)
	}
	return nil
}

// SingleStep executes exactly one instruction in the tracee, which then
// stops again.
func SingleStep(pid int) error {
	if err := unix.PtraceSingleStep(pid); err != nil {
		return classify(pid, "SINGLESTEP", 0, err)
	}
	return nil
}

// GetRegisters reads the tracee's full register file.
func GetRegisters(pid int) (unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		return unix.PtraceRegs{}, classify(pid, "GETREGS", 0, err)
	}
	return regs, nil
}

// SetRegisters replaces the tracee's full register file.
func SetRegisters(pid int, regs *unix.PtraceRegs) error {
	if err := unix.PtraceSetRegs(pid, regs); err != nil {
		return classify(pid, "SETREGS", 0, err)
	}
	return nil
}

// WaitForStop blocks until the tracee transitions from running to stopped.
// The status word is deliberately discarded: the core does not differentiate
// stop reasons beyond "stopped" (spec.md §4.1).
func WaitForStop(pid int) error {
	var status unix.WaitStatus
	_, err := unix.Wait4(pid, &status, 0, nil)
	if err != nil {
		return classify(pid, "WAIT4", 0, err)
	}
	return nil
}

// Attach begins tracing an already-running process from the parent side
// (the counterpart to TraceMe, which requests tracing from the child).
func Attach(pid int) error {
	if err := unix.PtraceAttach(pid); err != nil {
		return classify(pid, "ATTACH", 0, err)
	}
	return nil
}

// Detach stops tracing the process, letting it run free.
func Detach(pid int) error {
	if err := unix.PtraceDetach(pid); err != nil {
		return classify(pid, "DETACH", 0, err)
	}
	return nil
}

// Kill sends the tracee SIGKILL.
func Kill(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		return classify(pid, "KILL", 0, err)
	}
	return nil
}
