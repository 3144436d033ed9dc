package resolver

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/serverctl/internal/metrics"
)

// Windows resolves ports with netstat/PowerShell and identities with wmic.
type Windows struct {
	run Runner
}

func NewWindows(r Runner) *Windows { return &Windows{run: r} }

func (w *Windows) PIDForPort(ctx context.Context, port int) (int64, bool) {
	pid, ok := w.pidForPort(ctx, port)
	metrics.IncPortResolution(ok)
	return pid, ok
}

func (w *Windows) pidForPort(ctx context.Context, port int) (int64, bool) {
	p := strconv.Itoa(port)

	if out, err := w.run.Output(ctx, "netstat", "-ano"); err == nil {
		if pid, ok := listeningPID(out, p); ok {
			return pid, true
		}
	} else {
		slog.Debug("netstat -ano failed", "port", port, "error", err)
	}

	if out, err := w.run.Output(ctx, "powershell", "-Command",
		"Get-NetTCPConnection -LocalPort "+p+" | Select-Object -ExpandProperty OwningProcess"); err == nil {
		if ls := lines(out); len(ls) > 0 {
			if pid, ok := parsePID(ls[0]); ok {
				return pid, true
			}
		}
	} else {
		slog.Debug("Get-NetTCPConnection failed", "port", port, "error", err)
	}

	if out, err := w.run.Output(ctx, "netstat", "-aon"); err == nil {
		if pid, ok := listeningPID(out, p); ok {
			return pid, true
		}
	}
	return 0, false
}

// listeningPID returns the PID column of the first LISTENING row whose local
// address binds exactly port.
func listeningPID(out []byte, port string) (int64, bool) {
	for _, l := range lines(out) {
		f := strings.Fields(l)
		if len(f) < 5 || !strings.EqualFold(f[3], "LISTENING") {
			continue
		}
		i := strings.LastIndexByte(f[1], ':')
		if i < 0 || f[1][i+1:] != port {
			continue
		}
		if pid, ok := parsePID(f[len(f)-1]); ok {
			return pid, true
		}
	}
	return 0, false
}

func (w *Windows) CommandLine(ctx context.Context, pid int64) (string, bool) {
	if pid <= 0 {
		return "", false
	}
	out, err := w.run.Output(ctx, "wmic", "process", "where", "processid="+strconv.FormatInt(pid, 10), "get", "commandline", "/value")
	if err != nil {
		slog.Debug("wmic query failed", "pid", pid, "error", err)
		return "", false
	}
	for _, l := range lines(out) {
		if v, ok := strings.CutPrefix(l, "CommandLine="); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// WorkingDirectory derives the directory from the -jar argument of the command
// line; without one the command line itself is returned.
func (w *Windows) WorkingDirectory(ctx context.Context, pid int64) (string, bool) {
	cl, ok := w.CommandLine(ctx, pid)
	if !ok {
		return "", false
	}
	if dir, ok := JarDir(cl); ok {
		return dir, true
	}
	return cl, true
}

func (w *Windows) StartedAt(_ context.Context, pid int64) (time.Time, bool) {
	return startedAt(pid)
}

// JarDir returns the directory containing the archive named after -jar.
// Quoted arguments may contain spaces. A bare volume or root is not a
// directory worth reporting.
func JarDir(cmdLine string) (string, bool) {
	f := splitArgs(cmdLine)
	for i := 0; i < len(f)-1; i++ {
		if f[i] != "-jar" {
			continue
		}
		jar := f[i+1]
		j := strings.LastIndexAny(jar, `\/`)
		if j <= 0 {
			return "", false
		}
		dir := jar[:j]
		if isVolumeOrRoot(dir) {
			return "", false
		}
		return dir, true
	}
	return "", false
}

// splitArgs splits a command line on whitespace, keeping double or single
// quoted runs together and dropping the quotes.
func splitArgs(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		in    bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote, in = r, true
		case r == ' ' || r == '\t':
			if in {
				out = append(out, cur.String())
				cur.Reset()
				in = false
			}
		default:
			cur.WriteRune(r)
			in = true
		}
	}
	if in {
		out = append(out, cur.String())
	}
	return out
}

func isVolumeOrRoot(dir string) bool {
	d := strings.TrimRight(dir, `\/`)
	if d == "" {
		return true
	}
	return len(d) == 2 && d[1] == ':'
}
