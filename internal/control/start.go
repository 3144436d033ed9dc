package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// StartResult describes a spawned server process.
type StartResult struct {
	PID    int    `json:"pid"`
	Script string `json:"script"`
	BinDir string `json:"bin_dir"`
}

// Start locates the startup script under installPath and launches it detached
// with the configured bind address. It returns as soon as the process exists;
// readiness is reported separately by the deployment monitor.
func (c *Controller) Start(ctx context.Context, installPath string) (StartResult, error) {
	if err := ctx.Err(); err != nil {
		return StartResult{}, err
	}
	script, err := FindScript(installPath, c.vendorPrefix, ScriptName(c.goos))
	if err != nil {
		return StartResult{}, err
	}
	if abs, err := filepath.Abs(script); err == nil {
		script = abs
	}
	bin := filepath.Dir(script)

	cmd := c.startCommand(script, bin)
	cmd.Dir = bin
	if len(c.env) > 0 {
		cmd.Env = c.env
	}
	configureDetached(cmd)

	var console *os.File
	if c.consoleLog != "" {
		// #nosec G304 -- path comes from operator configuration
		f, err := os.OpenFile(filepath.Clean(c.consoleLog), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return StartResult{}, fmt.Errorf("%w: open console log: %v", ErrLaunch, err)
		}
		console = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if console != nil {
			_ = console.Close()
		}
		return StartResult{}, fmt.Errorf("%w: %s: %v", ErrLaunch, script, err)
	}
	pid := cmd.Process.Pid
	slog.Info("Server launched", "script", script, "pid", pid, "bind", c.bind)

	// reap the launcher so it does not linger as a zombie
	go func() {
		_ = cmd.Wait()
		if console != nil {
			_ = console.Close()
		}
	}()
	return StartResult{PID: pid, Script: script, BinDir: bin}, nil
}

func (c *Controller) startCommand(script, bin string) *exec.Cmd {
	if c.goos == "windows" {
		// #nosec G204 -- script path is discovered on disk under the install directory
		return exec.Command("cmd", "/c", "start", "Server Console", "/D", bin, script, "-b", c.bind)
	}
	// #nosec G204 -- script path is discovered on disk under the install directory
	return exec.Command("bash", script, "-b", c.bind)
}
