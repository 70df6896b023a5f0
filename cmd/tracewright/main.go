// Command tracewright is the interactive entrypoint: it wires --pid /
// --exec / --run to the tracee Controller and hands off to the REPL
// driver (spec.md §1 "driver... specified only at the interface").
package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"tracewright/repl"
	"tracewright/tracee"
)

func main() {
	// ptrace(2) requires every call after the initial attach/traceme to
	// come from the same OS thread; the teacher's main.go does the same
	// before touching proctl.
	runtime.LockOSThread()

	var (
		pid      int
		execPath string
		run      bool
	)

	root := &cobra.Command{
		Use:   "tracewright",
		Short: "a minimal source-level debugger for ELF/x86-64 executables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := start(pid, execPath, run)
			if err != nil {
				return err
			}
			status := repl.New(ctl, os.Stdout).Run()
			os.Exit(status)
			return nil
		},
	}

	root.Flags().IntVar(&pid, "pid", 0, "pid of an already-running process to attach to")
	root.Flags().StringVar(&execPath, "exec", "", "path to an executable to launch and debug")
	root.Flags().BoolVar(&run, "run", false, "compile the current Go package with debug info and debug it")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func start(pid int, execPath string, run bool) (*tracee.Controller, error) {
	switch {
	case run:
		const debugBinary = "./tracewright-debug"
		build := exec.Command("go", "build", "-o", debugBinary, "-gcflags", "all=-N -l")
		build.Stdout = os.Stdout
		build.Stderr = os.Stderr
		if err := build.Run(); err != nil {
			return nil, fmt.Errorf("could not compile program: %w", err)
		}
		defer os.Remove(debugBinary)
		return tracee.Launch(debugBinary)

	case pid != 0:
		binaryPath := fmt.Sprintf("/proc/%d/exe", pid)
		return tracee.Attach(pid, binaryPath)

	case execPath != "":
		return tracee.Launch(execPath)

	default:
		return nil, fmt.Errorf("one of --pid, --exec, or --run is required")
	}
}
