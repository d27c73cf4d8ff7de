package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// signalExitBase is added to the signal number of a child killed by a
// signal, matching the exit status a POSIX shell reports for it.
const signalExitBase = 128

// exitStatus interprets the result of cmd.Wait. A non-zero exit, including
// death by signal, is a normal outcome and yields a nil error; only a
// failure to wait at all is reported.
func exitStatus(state *os.ProcessState, waitErr error) (int, error) {
	if state == nil {
		return -1, fmt.Errorf("wait: %w", waitErr)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return exitCode(state), fmt.Errorf("wait: %w", waitErr)
	}
	return exitCode(state), nil
}

// exitCode returns the exit status recorded in state, or signalExitBase
// plus the signal number when the process was terminated by a signal.
func exitCode(state *os.ProcessState) int {
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return signalExitBase + int(status.Signal())
	}
	return state.ExitCode()
}
