package control

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/serverctl/internal/metrics"
)

// StopResult reports the outcome of the escalation ladder. ConfirmationRequired
// is a caller-facing flag only; no state is kept between calls.
type StopResult struct {
	Port                 int           `json:"port"`
	PID                  int64         `json:"pid,omitempty"`
	Stopped              bool          `json:"stopped"`
	NothingToDo          bool          `json:"nothing_to_do"`
	Stage                Stage         `json:"stage,omitempty"`
	ConfirmationRequired bool          `json:"confirmation_required"`
	Elapsed              time.Duration `json:"elapsed"`
}

// ValidateStop checks the port and timeout ranges of a stop request.
func ValidateStop(port, timeout int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: invalid port number: %d", ErrInvalidArgument, port)
	}
	if timeout < MinStopTimeout || timeout > MaxStopTimeout {
		return fmt.Errorf("%w: timeout must be between %d and %d seconds, got %d",
			ErrInvalidArgument, MinStopTimeout, MaxStopTimeout, timeout)
	}
	return nil
}

// Stop frees port by escalating from a management shutdown through console
// signals to forced termination. Each delivered stage polls the port until its
// budget runs out; a stage that cannot be delivered is skipped without waiting.
// Only invalid arguments and context cancellation are returned as errors.
func (c *Controller) Stop(ctx context.Context, port, timeout int, requireConfirmation bool) (StopResult, error) {
	if err := ValidateStop(port, timeout); err != nil {
		return StopResult{}, err
	}
	pid, _ := c.res.PIDForPort(ctx, port)
	return c.StopProcess(ctx, port, pid, timeout, requireConfirmation)
}

// StopProcess runs the ladder against pid, which the caller has already
// resolved as the owner of port. pid <= 0 means the port was free and no
// further OS command is issued.
func (c *Controller) StopProcess(ctx context.Context, port int, pid int64, timeout int, requireConfirmation bool) (StopResult, error) {
	if err := ValidateStop(port, timeout); err != nil {
		return StopResult{}, err
	}
	began := time.Now()
	if pid <= 0 {
		metrics.IncStop("nothing_to_do")
		slog.Info("No server is running", "port", port)
		return StopResult{Port: port, Stopped: true, NothingToDo: true}, nil
	}

	res := StopResult{Port: port, PID: pid}
	slog.Info("Stopping server", "port", port, "pid", pid, "timeout", timeout)

	steps := append([]Step{{Stage: StageManagement, Budget: timeout / 2, Deliver: c.managementShutdown}},
		c.sig.GracefulSteps(timeout)...)
	for _, s := range steps {
		if err := s.Deliver(ctx, pid); err != nil {
			slog.Warn("Stop stage not delivered", "stage", s.Stage, "pid", pid, "error", err)
			continue
		}
		metrics.IncStopAttempt(string(s.Stage))
		freed, err := c.waitFree(ctx, port, s.Budget)
		if err != nil {
			return res, err
		}
		if freed {
			res.Stage = s.Stage
			return c.finish(res, true, requireConfirmation, began), nil
		}
		slog.Info("Stop stage timed out", "stage", s.Stage, "pid", pid, "budget", s.Budget)
	}

	slog.Warn("Graceful shutdown timed out, forcing termination", "port", port, "pid", pid)
	if err := c.sig.Kill(ctx, pid); err != nil {
		slog.Error("Forced termination failed", "pid", pid, "error", err)
	}
	metrics.IncStopAttempt(string(StageForce))
	if err := c.clock.Sleep(ctx, c.settle); err != nil {
		return res, err
	}
	_, busy := c.res.PIDForPort(ctx, port)
	if !busy {
		res.Stage = StageForce
	}
	return c.finish(res, !busy, requireConfirmation, began), nil
}

// ForceStop runs the full ladder with the minimum timeout and no confirmation.
func (c *Controller) ForceStop(ctx context.Context, port int) (StopResult, error) {
	return c.Stop(ctx, port, MinStopTimeout, false)
}

func (c *Controller) finish(res StopResult, stopped, requireConfirmation bool, began time.Time) StopResult {
	res.Stopped = stopped
	res.ConfirmationRequired = stopped && requireConfirmation
	res.Elapsed = time.Since(began)
	if stopped {
		metrics.IncStop("stopped")
		slog.Info("Server stopped", "port", res.Port, "pid", res.PID, "stage", res.Stage)
	} else {
		metrics.IncStop("failed")
		slog.Error("Server still owns port after forced termination", "port", res.Port, "pid", res.PID)
	}
	metrics.ObserveStopDuration(res.Elapsed.Seconds())
	return res
}

// waitFree polls every poll interval, budget/interval times, and reports
// whether the port was observed free. The first check happens after one interval.
func (c *Controller) waitFree(ctx context.Context, port, budget int) (bool, error) {
	checks := int(time.Duration(budget) * time.Second / c.poll)
	for i := 0; i < checks; i++ {
		if err := c.clock.Sleep(ctx, c.poll); err != nil {
			return false, err
		}
		if _, busy := c.res.PIDForPort(ctx, port); !busy {
			return true, nil
		}
	}
	return false, nil
}

// managementShutdown asks the server to shut itself down through the HTTP
// management API, falling back to the management CLI.
func (c *Controller) managementShutdown(ctx context.Context, _ int64) error {
	httpErr := c.httpShutdown(ctx)
	if httpErr == nil {
		slog.Info("Shutdown requested via HTTP management interface", "url", c.mgmtURL)
		return nil
	}
	slog.Debug("HTTP management shutdown failed", "url", c.mgmtURL, "error", httpErr)

	if _, err := c.run.Output(ctx, c.cliScript, "--connect", "--command=:shutdown"); err != nil {
		return fmt.Errorf("http: %v; cli: %w", httpErr, err)
	}
	slog.Info("Shutdown requested via management CLI", "cli", c.cliScript)
	return nil
}

func (c *Controller) httpShutdown(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.mgmtURL, bytes.NewBufferString(`{"operation":"shutdown"}`))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("management endpoint returned %s", resp.Status)
	}
	return nil
}
