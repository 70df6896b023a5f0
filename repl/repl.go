// Package repl implements the interactive command-line driver that sits
// on top of the tracee Controller. The driver itself is out of the core
// debugger's scope (spec.md §1); this package implements only the
// external interface specified at spec.md §6, using github.com/chzyer/readline
// for line editing and history in place of the teacher's goreadline wrapper.
package repl

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"tracewright/arch"
	"tracewright/tracee"
)

const historyFile = ".tracewright_history"

// REPL reads commands from an interactive prompt and dispatches them to a
// Controller, printing results or errors (spec.md §6, §7 "the top-level
// driver catches [errors] at the REPL boundary and prints them").
type REPL struct {
	ctl *tracee.Controller
	out io.Writer
}

// New creates a driver for ctl, printing command output to out.
func New(ctl *tracee.Controller, out io.Writer) *REPL {
	return &REPL{ctl: ctl, out: out}
}

// Run reads commands from an interactive prompt until "exit" or EOF. It
// kills the tracee and returns the process exit status to use (spec.md
// §6: "exit ... kill tracee and exit with status 0").
func (r *REPL) Run() int {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "dbg> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
	})
	if err != nil {
		fmt.Fprintf(r.out, "could not start prompt: %v\n", err)
		return 1
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return r.handleExit()
		}
		if err != nil {
			fmt.Fprintf(r.out, "read error: %v\n", err)
			return 1
		}

		name, args := parseCommand(line)
		if name == "" {
			continue
		}
		if name == "exit" {
			return r.handleExit()
		}

		if err := r.dispatch(name, args); err != nil {
			fmt.Fprintf(r.out, "command failed: %v\n", err)
		}
	}
}

func (r *REPL) handleExit() int {
	if err := r.ctl.Kill(); err != nil {
		fmt.Fprintf(r.out, "could not kill tracee: %v\n", err)
	}
	return 0
}

func parseCommand(line string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func (r *REPL) dispatch(name string, args []string) error {
	switch name {
	case "continue", "c":
		return r.cmdContinue()
	case "stepi", "si":
		return r.cmdStepInstruction()
	case "break":
		return r.cmdBreak(args)
	case "register", "reg":
		return r.cmdRegister(args)
	case "read":
		return r.cmdRead(args)
	case "write":
		return r.cmdWrite(args)
	case "locate":
		return r.cmdLocate(args)
	default:
		fmt.Fprintf(r.out, "unrecognised command %q\n", name)
		return nil
	}
}

func (r *REPL) cmdContinue() error {
	if err := r.ctl.Resume(); err != nil {
		return err
	}
	return r.printStop()
}

func (r *REPL) cmdStepInstruction() error {
	if err := r.ctl.StepInstruction(); err != nil {
		return err
	}
	return r.printStop()
}

func (r *REPL) printStop() error {
	pc, err := r.ctl.GetRegister(arch.PCRegister)
	if err != nil {
		return err
	}
	cp, err := r.ctl.PCToCodePoint(pc)
	if err != nil {
		return err
	}
	if cp.HasFunc {
		fmt.Fprintf(r.out, "stopped at %#x in %s", cp.PC, cp.Function)
		if cp.HasLine {
			fmt.Fprintf(r.out, " (%s:%d)", cp.File, cp.Line)
		}
		fmt.Fprintln(r.out)
	} else {
		fmt.Fprintf(r.out, "stopped at %#x\n", cp.PC)
	}
	return nil
}

// cmdBreak handles "break 0x<addr>", "break <decimal>", and
// "break <function name>" (spec.md §6).
func (r *REPL) cmdBreak(args []string) error {
	if len(args) != 1 {
		return &tracee.BadInputError{Reason: "break requires exactly one argument"}
	}
	arg := args[0]

	if addr, ok := parseAddress(arg); ok {
		bp, err := r.ctl.AddBreakpointAt(addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "breakpoint installed at %#x\n", bp.Addr())
		return nil
	}

	sites, err := r.ctl.AddBreakpointAtFunction(arg)
	if err != nil {
		return err
	}
	if sites == 0 {
		fmt.Fprintf(r.out, "No locations found for %q\n", arg)
		return nil
	}
	fmt.Fprintf(r.out, "breakpoint installed at %d location(s) for %q\n", sites, arg)
	return nil
}

func parseAddress(s string) (uintptr, bool) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		return uintptr(n), true
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return uintptr(n), true
}

// cmdRegister handles "register get"/"reg r <name>", "register
// set"/"reg w <name> <value>", and the bare "register" dump (spec.md §6).
func (r *REPL) cmdRegister(args []string) error {
	if len(args) == 0 {
		regs, err := r.ctl.Registers()
		if err != nil {
			return err
		}
		arch.Dump(r.out, &regs)
		return nil
	}

	switch args[0] {
	case "get", "r":
		if len(args) != 2 {
			return &tracee.BadInputError{Reason: "register get requires a register name"}
		}
		reg, ok := arch.ParseRegister(args[1])
		if !ok {
			return &tracee.BadInputError{Reason: fmt.Sprintf("unknown register %q", args[1])}
		}
		v, err := r.ctl.GetRegister(reg)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%#x = %d\n", v, v)
		return nil
	case "set", "w":
		if len(args) != 3 {
			return &tracee.BadInputError{Reason: "register set requires a register name and a value"}
		}
		reg, ok := arch.ParseRegister(args[1])
		if !ok {
			return &tracee.BadInputError{Reason: fmt.Sprintf("unknown register %q", args[1])}
		}
		v, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return &tracee.BadInputError{Reason: fmt.Sprintf("malformed value %q", args[2])}
		}
		if err := r.ctl.SetRegister(reg, v); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s <- %#x = %d\n", reg, v, v)
		return nil
	default:
		return &tracee.BadInputError{Reason: fmt.Sprintf("unrecognised register subcommand %q", args[0])}
	}
}

// cmdRead handles "read addr[:type]" (spec.md §6); default type is
// 64-bit signed.
func (r *REPL) cmdRead(args []string) error {
	if len(args) != 1 {
		return &tracee.BadInputError{Reason: "read requires exactly one argument"}
	}
	addrStr, tag := splitTag(args[0], "i64")

	addr, ok := parseAddress(addrStr)
	if !ok {
		return &tracee.BadInputError{Reason: fmt.Sprintf("malformed address %q", addrStr)}
	}

	v, err := r.ctl.ReadTyped(addr, tag)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, v)
	return nil
}

// cmdWrite handles "write addr[:type] value" (spec.md §6).
func (r *REPL) cmdWrite(args []string) error {
	if len(args) != 2 {
		return &tracee.BadInputError{Reason: "write requires an address and a value"}
	}
	addrStr, tag := splitTag(args[0], "i64")

	addr, ok := parseAddress(addrStr)
	if !ok {
		return &tracee.BadInputError{Reason: fmt.Sprintf("malformed address %q", addrStr)}
	}

	if err := r.ctl.WriteTyped(addr, tag, args[1]); err != nil {
		return err
	}
	return nil
}

func splitTag(s, defaultTag string) (string, string) {
	addr, tag, ok := strings.Cut(s, ":")
	if !ok {
		return s, defaultTag
	}
	return addr, tag
}

// cmdLocate handles "locate <function>", printing the DWARF address,
// base, and sum separately (SPEC_FULL.md §5, grounded on the original
// source's locate handler).
func (r *REPL) cmdLocate(args []string) error {
	if len(args) != 1 {
		return &tracee.BadInputError{Reason: "locate requires a function name"}
	}
	name := args[0]

	addrs, err := r.ctl.FunctionAddresses(name)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		fmt.Fprintf(r.out, "No locations found for %q\n", name)
		return nil
	}

	base, err := r.ctl.BaseAddress()
	if err != nil {
		return err
	}

	for _, dwarfAddr := range addrs {
		fmt.Fprintf(r.out, "dwarf=%#x base=%#x sum=%#x\n", dwarfAddr, base, dwarfAddr+base)
	}
	return nil
}
