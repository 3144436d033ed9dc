//go:build !windows

package control

import (
	"os/exec"
	"syscall"
)

// configureDetached starts the child in a new session so it is detached from
// the controlling terminal and survives the orchestrator exiting.
func configureDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
