package tracee

import (
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"tracewright/arch"
	"tracewright/breakpoint"
	"tracewright/dwarfidx"
	"tracewright/memio"
	"tracewright/procmap"
	"tracewright/ptrace"

	"golang.org/x/sys/unix"
)

// Controller is the top-level state of one debug session: the process
// handle, the breakpoint table, the DWARF index, the base-address cache,
// and the flag recording whether the last resume stepped over a tripped
// breakpoint (spec.md §3 "Controller state").
//
// The Controller exclusively owns the breakpoint table, the DWARF index,
// and the base-address cache. It is not safe for concurrent use: every
// operation assumes the tracee alternates strictly between Running and
// Stopped under this single caller's direction (spec.md §5).
type Controller struct {
	pid int

	breakpoints map[uintptr]*breakpoint.Breakpoint
	dwarf       *dwarfidx.Index

	baseAddr  uint64
	baseKnown bool

	lastStepWasOverBreakpoint bool
}

// Launch spawns cmd, which requests tracing of itself before exec'ing
// (SysProcAttr.Ptrace makes the Go runtime issue PTRACE_TRACEME in the
// child between fork and exec), waits for the initial post-exec stop, loads
// the DWARF index from the target binary, and returns the Controller.
// Failure at any step is fatal (spec.md §4.7, §7 kind 6).
func Launch(path string, args ...string) (*Controller, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return nil, &FatalError{Op: "exec", Err: err}
	}
	pid := cmd.Process.Pid

	if err := ptrace.WaitForStop(pid); err != nil {
		return nil, &FatalError{Op: "wait for initial stop", Err: err}
	}

	idx, err := dwarfidx.Load(path)
	if err != nil {
		return nil, &FatalError{Op: "mmap/parse executable", Err: &DwarfParseError{Err: err}}
	}

	slog.Info("launched tracee", "pid", pid, "path", path)

	return &Controller{
		pid:         pid,
		breakpoints: make(map[uintptr]*breakpoint.Breakpoint),
		dwarf:       idx,
	}, nil
}

// Attach wraps an already-running process, pid, for tracing. binaryPath
// names the executable image to load DWARF information from (typically
// discovered by the caller via /proc/<pid>/exe).
func Attach(pid int, binaryPath string) (*Controller, error) {
	if err := ptrace.Attach(pid); err != nil {
		return nil, &FatalError{Op: "PTRACE_ATTACH", Err: err}
	}
	if err := ptrace.WaitForStop(pid); err != nil {
		return nil, &FatalError{Op: "wait for attach stop", Err: err}
	}

	idx, err := dwarfidx.Load(binaryPath)
	if err != nil {
		return nil, &FatalError{Op: "mmap/parse executable", Err: &DwarfParseError{Err: err}}
	}

	slog.Info("attached to tracee", "pid", pid, "path", binaryPath)

	return &Controller{
		pid:         pid,
		breakpoints: make(map[uintptr]*breakpoint.Breakpoint),
		dwarf:       idx,
	}, nil
}

// Pid returns the tracee's process id.
func (c *Controller) Pid() int { return c.pid }

// AddBreakpointAt inserts a Breakpoint at addr (or retrieves the existing
// one) and enables it. A second call at an address with an existing
// enabled entry is a no-op that returns the existing entry (spec.md §3,
// §4.7).
func (c *Controller) AddBreakpointAt(addr uintptr) (*breakpoint.Breakpoint, error) {
	bp, ok := c.breakpoints[addr]
	if !ok {
		bp = breakpoint.New(c.pid, addr)
		c.breakpoints[addr] = bp
	}

	if err := bp.Enable(); err != nil {
		return nil, classifyPtraceErr("enable breakpoint", addr, err)
	}
	return bp, nil
}

// AddBreakpointAtFunction resolves name via the DWARF index, obtains the
// base address, and installs a breakpoint at each dwarf_addr+base site.
// Zero sites is a successful, reportable outcome, not an error (spec.md
// §4.7, §8 scenario 5).
func (c *Controller) AddBreakpointAtFunction(name string) (int, error) {
	addrs, err := c.dwarf.FunctionAddresses(name)
	if err != nil {
		return 0, &DwarfParseError{Err: err}
	}
	if len(addrs) == 0 {
		return 0, nil
	}

	base, err := c.BaseAddress()
	if err != nil {
		return 0, err
	}

	for _, dwarfAddr := range addrs {
		if _, err := c.AddBreakpointAt(uintptr(dwarfAddr + base)); err != nil {
			return 0, err
		}
	}
	return len(addrs), nil
}

// Resume steps over any breakpoint at the current PC, continues the
// tracee, and waits for its next stop (spec.md §4.7).
func (c *Controller) Resume() error {
	if err := c.StepOverBreakpoint(); err != nil {
		return err
	}
	if err := ptrace.ContinueTracee(c.pid); err != nil {
		return classifyPtraceErr("continue", 0, err)
	}
	return c.waitAfterResume()
}

// StepInstruction executes exactly one machine instruction, then waits.
// It clears the "last step was over a breakpoint" flag (spec.md §4.7).
func (c *Controller) StepInstruction() error {
	c.lastStepWasOverBreakpoint = false
	if err := ptrace.SingleStep(c.pid); err != nil {
		return classifyPtraceErr("singlestep", 0, err)
	}
	return c.waitAfterResume()
}

// StepOverBreakpoint reads the PC, computes the candidate breakpoint
// address as PC-1 (x86 leaves PC one past the trap), and if an enabled
// Breakpoint sits there, rewinds PC to it, disables it, single-steps past
// it, waits, then re-enables it so subsequent hits still trip. If no
// enabled Breakpoint is registered at the candidate address, this is a
// normal no-op, not an error (spec.md §4.7, §9 "Cyclic borrow").
func (c *Controller) StepOverBreakpoint() error {
	regs, err := ptrace.GetRegisters(c.pid)
	if err != nil {
		return classifyPtraceErr("getregs", 0, err)
	}

	candidate := uintptr(arch.PCRegister.Get(&regs) - arch.TrapPCAdjustment)
	bp, ok := c.breakpoints[candidate]
	if !ok || !bp.Enabled() {
		return nil
	}

	arch.PCRegister.Set(&regs, uint64(candidate))
	if err := ptrace.SetRegisters(c.pid, &regs); err != nil {
		return classifyPtraceErr("setregs", 0, err)
	}

	if err := bp.Disable(); err != nil {
		return err
	}

	if err := ptrace.SingleStep(c.pid); err != nil {
		return classifyPtraceErr("singlestep", 0, err)
	}
	if err := ptrace.WaitForStop(c.pid); err != nil {
		return classifyPtraceErr("wait", 0, err)
	}

	if err := bp.Enable(); err != nil {
		return err
	}

	c.lastStepWasOverBreakpoint = true
	return nil
}

func (c *Controller) waitAfterResume() error {
	if err := ptrace.WaitForStop(c.pid); err != nil {
		return classifyPtraceErr("wait", 0, err)
	}
	return nil
}

// ReadWord delegates to Memory I/O.
func (c *Controller) ReadWord(addr uintptr) (uint64, error) {
	v, err := ptrace.PeekWord(c.pid, addr)
	return v, classifyPtraceErr("peekword", addr, err)
}

// WriteWord delegates to Memory I/O.
func (c *Controller) WriteWord(addr uintptr, word uint64) error {
	return classifyPtraceErr("pokeword", addr, ptrace.PokeWord(c.pid, addr, word))
}

// ReadTyped reads a value of the given type tag at addr and returns its
// text representation (spec.md §6).
func (c *Controller) ReadTyped(addr uintptr, tag string) (string, error) {
	s, err := memio.ReadTyped(c.pid, addr, tag)
	if err != nil {
		return "", classifyMemioErr("read", addr, err)
	}
	return s, nil
}

// WriteTyped parses value according to tag and writes it at addr.
func (c *Controller) WriteTyped(addr uintptr, tag, value string) error {
	return classifyMemioErr("write", addr, memio.WriteTyped(c.pid, addr, tag, value))
}

func classifyMemioErr(op string, addr uintptr, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*memio.UnknownTypeTagError); ok {
		return &BadInputError{Reason: err.Error()}
	}
	return classifyPtraceErr(op, addr, err)
}

// GetRegister delegates to Tracing Primitives using the Arch Descriptor's
// layout.
func (c *Controller) GetRegister(r arch.Register) (uint64, error) {
	regs, err := ptrace.GetRegisters(c.pid)
	if err != nil {
		return 0, classifyPtraceErr("getregs", 0, err)
	}
	return r.Get(&regs), nil
}

// SetRegister delegates to Tracing Primitives using the Arch Descriptor's
// layout.
func (c *Controller) SetRegister(r arch.Register, v uint64) error {
	regs, err := ptrace.GetRegisters(c.pid)
	if err != nil {
		return classifyPtraceErr("getregs", 0, err)
	}
	r.Set(&regs, v)
	if err := ptrace.SetRegisters(c.pid, &regs); err != nil {
		return classifyPtraceErr("setregs", 0, err)
	}
	return nil
}

// Registers returns a full snapshot of the tracee's register file, for
// the REPL's bare "register" dump command (spec.md §6) via arch.Dump.
func (c *Controller) Registers() (unix.PtraceRegs, error) {
	regs, err := ptrace.GetRegisters(c.pid)
	if err != nil {
		return unix.PtraceRegs{}, classifyPtraceErr("getregs", 0, err)
	}
	return regs, nil
}

// BaseAddress returns the tracee's load base address, resolving and
// caching it on first call (spec.md §4.7).
func (c *Controller) BaseAddress() (uint64, error) {
	if c.baseKnown {
		return c.baseAddr, nil
	}

	base, err := procmap.BaseAddress(c.pid)
	if err != nil {
		return 0, &NotFoundError{What: "no base address discoverable: " + err.Error()}
	}

	c.baseAddr = base
	c.baseKnown = true
	return base, nil
}

// InvalidateBaseAddress forces the next BaseAddress call to re-read
// /proc/<pid>/maps. Exposed for completeness (spec.md §3 "valid until
// explicitly invalidated"); nothing in this debugger's scope triggers a
// remap, since tracing of exec'd descendants is out of scope (spec.md §1).
func (c *Controller) InvalidateBaseAddress() {
	c.baseKnown = false
}

// PCToCodePoint resolves a runtime PC to its owning function and source
// location, applying the cached base address.
func (c *Controller) PCToCodePoint(runtimePC uint64) (dwarfidx.CodePoint, error) {
	base, err := c.BaseAddress()
	if err != nil {
		return dwarfidx.CodePoint{}, err
	}
	cp, err := c.dwarf.PCToCodePoint(runtimePC, base)
	if err != nil {
		return dwarfidx.CodePoint{}, &DwarfParseError{Err: err}
	}
	return cp, nil
}

// FunctionAddresses resolves name to its DWARF-space entry addresses via
// the Controller's DWARF index.
func (c *Controller) FunctionAddresses(name string) ([]uint64, error) {
	addrs, err := c.dwarf.FunctionAddresses(name)
	if err != nil {
		return nil, &DwarfParseError{Err: err}
	}
	return addrs, nil
}

// Kill sends the tracee SIGKILL.
func (c *Controller) Kill() error {
	if err := ptrace.Kill(c.pid); err != nil {
		return classifyPtraceErr("kill", 0, err)
	}
	return nil
}

// Detach stops tracing the tracee, letting it run free.
func (c *Controller) Detach() error {
	if err := ptrace.Detach(c.pid); err != nil {
		return classifyPtraceErr("detach", 0, err)
	}
	return nil
}
