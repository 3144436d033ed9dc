package resolver

import (
	"context"
	"os/exec"
	"time"
)

// DefaultCommandTimeout bounds every OS command issued by a resolver.
const DefaultCommandTimeout = 15 * time.Second

// Runner executes an OS command and returns its standard output.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec, each bounded by Timeout.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	// #nosec G204 -- command names are fixed by the callers, arguments are numeric or config values
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}
