//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr sets Linux-specific process attributes on cmd.
// Unless the child is meant to outlive its parent, Pdeathsig makes the
// kernel kill it when the parent dies, so an abruptly killed parent does
// not leave orphans behind.
func configureSysProcAttr(cmd *exec.Cmd, keepAlive bool) {
	if keepAlive {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
	}
}
