package resolver

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/serverctl/internal/metrics"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// procSource is the in-process fallback used when the OS tools are missing.
type procSource interface {
	ListenPID(ctx context.Context, port int) (int64, bool)
	Cwd(ctx context.Context, pid int64) (string, bool)
	Cmdline(ctx context.Context, pid int64) (string, bool)
}

// Unix resolves with lsof, pwdx and ps, falling back to /proc and gopsutil.
type Unix struct {
	run      Runner
	sys      procSource
	procRoot string
}

func NewUnix(r Runner) *Unix {
	return &Unix{run: r, sys: gopsutilSource{}, procRoot: "/proc"}
}

func (u *Unix) PIDForPort(ctx context.Context, port int) (int64, bool) {
	pid, ok := u.pidForPort(ctx, port)
	metrics.IncPortResolution(ok)
	return pid, ok
}

func (u *Unix) pidForPort(ctx context.Context, port int) (int64, bool) {
	out, err := u.run.Output(ctx, "lsof", "-t", "-i:"+strconv.Itoa(port))
	if err == nil {
		if ls := lines(out); len(ls) > 0 {
			return parsePID(ls[0])
		}
		return 0, false
	}
	// lsof ran and exited non-zero: nothing listens on the port
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return 0, false
	}
	slog.Debug("lsof unavailable, using connection table", "port", port, "error", err)
	return u.sys.ListenPID(ctx, port)
}

func (u *Unix) WorkingDirectory(ctx context.Context, pid int64) (string, bool) {
	if pid <= 0 {
		return "", false
	}
	p := strconv.FormatInt(pid, 10)
	if out, err := u.run.Output(ctx, "pwdx", p); err == nil {
		if ls := lines(out); len(ls) > 0 {
			if _, dir, ok := strings.Cut(ls[0], ": "); ok && dir != "" {
				return dir, true
			}
		}
	}
	if dir, err := os.Readlink(filepath.Join(u.procRoot, p, "cwd")); err == nil && dir != "" {
		return dir, true
	}
	return u.sys.Cwd(ctx, pid)
}

func (u *Unix) CommandLine(ctx context.Context, pid int64) (string, bool) {
	if pid <= 0 {
		return "", false
	}
	if out, err := u.run.Output(ctx, "ps", "-p", strconv.FormatInt(pid, 10), "-o", "args", "--no-headers"); err == nil {
		if ls := lines(out); len(ls) > 0 {
			return ls[0], true
		}
	}
	return u.sys.Cmdline(ctx, pid)
}

func (u *Unix) StartedAt(_ context.Context, pid int64) (time.Time, bool) {
	return startedAt(pid)
}

type gopsutilSource struct{}

func (gopsutilSource) ListenPID(ctx context.Context, port int) (int64, bool) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return 0, false
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && c.Laddr.Port == uint32(port) && c.Pid > 0 {
			return int64(c.Pid), true
		}
	}
	return 0, false
}

func (gopsutilSource) Cwd(ctx context.Context, pid int64) (string, bool) {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", false
	}
	dir, err := p.CwdWithContext(ctx)
	if err != nil || dir == "" {
		return "", false
	}
	return dir, true
}

func (gopsutilSource) Cmdline(ctx context.Context, pid int64) (string, bool) {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", false
	}
	cl, err := p.CmdlineWithContext(ctx)
	if err != nil || cl == "" {
		return "", false
	}
	return cl, true
}
