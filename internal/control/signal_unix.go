//go:build !windows

package control

import "syscall"

// signalProcess sends a signal to a Unix process.
func signalProcess(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
