//go:build windows

package control

import (
	"errors"
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
)

const processTerminate = 0x0001

// signalProcess only supports SIGKILL on Windows, mapped to TerminateProcess.
// Graceful requests go through ConsoleSignaler instead.
func signalProcess(pid int, sig syscall.Signal) error {
	if sig != syscall.SIGKILL {
		return errors.New("signal not supported on windows: " + sig.String())
	}
	h, err := syscall.OpenProcess(processTerminate, false, uint32(pid))
	if err != nil {
		return err
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	ret, _, err := procTerminateProcess.Call(uintptr(h), uintptr(1))
	if ret == 0 {
		return err
	}
	return nil
}
