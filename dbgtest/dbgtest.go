// Package dbgtest provides the test-only harness used across this module's
// test suites to launch a tracee under ptrace, mirroring the teacher's
// proctl_test.go "helper.WithTestProcess" pattern.
package dbgtest

import (
	"os/exec"
	"runtime"
	"syscall"
	"testing"

	"tracewright/ptrace"
)

// Launch starts path under ptrace and blocks until the initial post-exec
// stop, returning the tracee's pid. It registers t.Cleanup to kill the
// tracee. Launch locks the calling goroutine to its OS thread before
// starting the tracee, because the kernel requires every later ptrace call
// to come from the thread that became the tracer; the test's own ptrace
// calls must therefore run on the same goroutine that called Launch.
func Launch(t *testing.T, path string, args ...string) int {
	t.Helper()
	runtime.LockOSThread()

	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		t.Fatalf("start %s: %v", path, err)
	}
	pid := cmd.Process.Pid

	if err := ptrace.WaitForStop(pid); err != nil {
		t.Fatalf("wait for initial stop: %v", err)
	}

	t.Cleanup(func() {
		_ = ptrace.Kill(pid)
		_, _ = cmd.Process.Wait()
	})

	return pid
}
