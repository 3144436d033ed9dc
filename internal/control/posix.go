package control

import (
	"context"
	"syscall"
)

// PosixSignaler stops servers with SIGINT, then SIGTERM, then SIGKILL.
type PosixSignaler struct{}

func (PosixSignaler) GracefulSteps(t int) []Step {
	return []Step{
		{Stage: StageInterrupt, Budget: t / 2, Deliver: sendSignal(syscall.SIGINT)},
		{Stage: StageTerminate, Budget: t / 4, Deliver: sendSignal(syscall.SIGTERM)},
	}
}

func (PosixSignaler) Kill(_ context.Context, pid int64) error {
	return signalProcess(int(pid), syscall.SIGKILL)
}

func sendSignal(sig syscall.Signal) func(context.Context, int64) error {
	return func(_ context.Context, pid int64) error {
		return signalProcess(int(pid), sig)
	}
}
