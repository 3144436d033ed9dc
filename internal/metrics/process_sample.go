package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Sample is a point-in-time resource reading of a server process.
type Sample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// SampleProcess reads CPU and memory usage for pid.
func SampleProcess(ctx context.Context, pid int32) (Sample, error) {
	if pid <= 0 {
		return Sample{}, fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		slog.Debug("Failed to get CPU percent", "pid", pid, "error", err)
		cpu = 0
	}
	threads, err := proc.NumThreadsWithContext(ctx)
	if err != nil {
		threads = 0
	}
	s := Sample{
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		NumThreads: threads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDsWithContext(ctx); err == nil {
			s.NumFDs = fds
		}
	}
	return s, nil
}
