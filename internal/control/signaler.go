package control

import (
	"context"
	"errors"
	"strings"

	"github.com/loykin/serverctl/internal/resolver"
)

// Stage names one rung of the stop escalation ladder.
type Stage string

const (
	StageManagement Stage = "management"
	StageKeystroke  Stage = "console_keystroke"
	StageCtrlC      Stage = "ctrl_c_event"
	StageCtrlBreak  Stage = "ctrl_break_event"
	StageTaskkill   Stage = "taskkill"
	StageInterrupt  Stage = "sigint"
	StageTerminate  Stage = "sigterm"
	StageForce      Stage = "force"
)

var errNotDelivered = errors.New("stop request not delivered")

// Step is one graceful stage: Deliver sends the request, after which the port
// is polled for up to Budget seconds.
type Step struct {
	Stage   Stage
	Budget  int
	Deliver func(ctx context.Context, pid int64) error
}

// Signaler provides the platform's graceful stages and its forced termination.
type Signaler interface {
	GracefulSteps(timeout int) []Step
	Kill(ctx context.Context, pid int64) error
}

// NewSignaler selects the signaler variant for goos.
func NewSignaler(goos string, r resolver.Runner) Signaler {
	if goos == "windows" {
		return &ConsoleSignaler{run: r}
	}
	return PosixSignaler{}
}

// outputSaysFalse reports whether a PowerShell boolean result was False.
func outputSaysFalse(out []byte) bool {
	return strings.EqualFold(strings.TrimSpace(string(out)), "false")
}
