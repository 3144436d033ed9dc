package extract

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically forgets terminal tasks that ended more than TTL ago.
type Sweeper struct {
	engine    *Engine
	ttl       time.Duration
	schedule  string
	scheduler *cron.Cron
	entryID   cron.EntryID
	now       func() time.Time
}

// NewSweeper prepares a sweeper; schedule uses robfig/cron syntax such as
// "@every 10m".
func NewSweeper(e *Engine, ttl time.Duration, schedule string) *Sweeper {
	return &Sweeper{engine: e, ttl: ttl, schedule: schedule, scheduler: cron.New(), now: time.Now}
}

// Start registers the sweep and starts the scheduler.
func (s *Sweeper) Start() error {
	id, err := s.scheduler.AddFunc(s.schedule, func() { s.Sweep() })
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}
	s.entryID = id
	s.scheduler.Start()
	slog.Info("Extraction retention sweeper started", "schedule", s.schedule, "ttl", s.ttl)
	return nil
}

// Stop halts the scheduler and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.entryID != 0 {
		s.scheduler.Remove(s.entryID)
	}
	<-s.scheduler.Stop().Done()
}

// Sweep removes expired terminal tasks and returns how many were removed.
func (s *Sweeper) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	var expired []string
	s.engine.reg.Range(func(t Task) bool {
		if t.Status.Terminal() && t.EndTime != nil && t.EndTime.Before(cutoff) {
			expired = append(expired, t.ID)
		}
		return true
	})
	n := 0
	for _, id := range expired {
		if s.engine.Cleanup(id) == nil {
			n++
		}
	}
	if n > 0 {
		slog.Info("Swept extraction tasks", "removed", n)
	}
	return n
}
