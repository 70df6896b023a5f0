// Package tracee implements the Tracee Controller: the top-level state
// that owns the breakpoint table, the DWARF index, and the base-address
// cache, and drives resume / step-instruction / step-over-breakpoint
// (spec.md §4.7).
package tracee

import (
	"errors"
	"fmt"

	"tracewright/ptrace"
)

// TraceeGoneError wraps a tracing primitive's "no such process" report
// (spec.md §7, kind 1). Typically terminal from the caller's perspective.
type TraceeGoneError struct {
	Op  string
	Err error
}

func (e *TraceeGoneError) Error() string {
	return fmt.Sprintf("tracee gone during %s: %v", e.Op, e.Err)
}

func (e *TraceeGoneError) Unwrap() error { return e.Err }

// MemoryAccessError wraps an I/O error from the tracing primitive: an
// unmapped address or a protection fault (spec.md §7, kind 2).
type MemoryAccessError struct {
	Op   string
	Addr uintptr
	Err  error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access failed during %s at %#x: %v", e.Op, e.Addr, e.Err)
}

func (e *MemoryAccessError) Unwrap() error { return e.Err }

// DwarfParseError wraps any error surfaced from the DWARF reader
// (spec.md §7, kind 3). It does not invalidate the Controller.
type DwarfParseError struct {
	Err error
}

func (e *DwarfParseError) Error() string {
	return fmt.Sprintf("dwarf: %v", e.Err)
}

func (e *DwarfParseError) Unwrap() error { return e.Err }

// NotFoundError reports that a query found nothing: no function by that
// name, or no base address discoverable (spec.md §7, kind 4). This is
// reported to the caller as data, not treated as a failure elsewhere in
// the Controller.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.What)
}

// BadInputError reports a malformed address, unknown register, or unknown
// type tag (spec.md §7, kind 5). The caller is expected to continue.
type BadInputError struct {
	Reason string
}

func (e *BadInputError) Error() string {
	return fmt.Sprintf("bad input: %s", e.Reason)
}

// FatalError wraps a failed fork, exec, or mmap (spec.md §7, kind 6). The
// caller should abort rather than continue the session.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// classifyPtraceErr maps an error surfaced from the ptrace package into the
// Controller's structured error kinds, leaving anything else (e.g. memio's
// own marshalling errors) untouched.
func classifyPtraceErr(op string, addr uintptr, err error) error {
	if err == nil {
		return nil
	}
	var noProc *ptrace.NoSuchProcessError
	if errors.As(err, &noProc) {
		return &TraceeGoneError{Op: op, Err: err}
	}
	var ioErr *ptrace.IOError
	if errors.As(err, &ioErr) {
		return &MemoryAccessError{Op: op, Addr: addr, Err: err}
	}
	return err
}
