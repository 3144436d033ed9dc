package resolver

import (
	"bufio"
	"context"
	"strconv"
	"strings"
	"time"
)

// Resolver maps a listening port to its owning process and reads that
// process's identity. Every lookup is best effort: failures report false.
type Resolver interface {
	PIDForPort(ctx context.Context, port int) (int64, bool)
	WorkingDirectory(ctx context.Context, pid int64) (string, bool)
	CommandLine(ctx context.Context, pid int64) (string, bool)
	StartedAt(ctx context.Context, pid int64) (time.Time, bool)
}

// New selects the resolver variant for goos once. A nil runner uses ExecRunner.
func New(goos string, r Runner) Resolver {
	if r == nil {
		r = ExecRunner{}
	}
	if goos == "windows" {
		return NewWindows(r)
	}
	return NewUnix(r)
}

func startedAt(pid int64) (time.Time, bool) {
	secs := getProcStartUnix(int(pid))
	if secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

// lines splits command output into trimmed, non-empty lines.
func lines(b []byte) []string {
	var out []string
	s := bufio.NewScanner(strings.NewReader(string(b)))
	for s.Scan() {
		if l := strings.TrimSpace(s.Text()); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func parsePID(s string) (int64, bool) {
	pid, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
