//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// detach starts cmd in a new session so it has no controlling terminal and
// receives no signals aimed at the supervisor's process group.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
