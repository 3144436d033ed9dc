//go:build windows

package control

import (
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

// configureDetached places the launcher in its own process group so console
// control events aimed at the orchestrator do not reach the server.
func configureDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}
