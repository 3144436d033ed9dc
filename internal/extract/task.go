package extract

import (
	"sync"
	"time"
)

// Status is the lifecycle state of an extraction task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transitions will happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is a point-in-time copy of an extraction task.
type Task struct {
	ID              string     `json:"task_id"`
	Status          Status     `json:"status"`
	Message         string     `json:"message"`
	ZipPath         string     `json:"zip_file_path"`
	ExtractionPath  string     `json:"extraction_path,omitempty"`
	ProgressPercent int        `json:"progress_percentage"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// Duration is the elapsed time of the task; running tasks measure against now.
func (t Task) Duration() time.Duration {
	if t.EndTime != nil {
		return t.EndTime.Sub(t.StartTime)
	}
	return time.Since(t.StartTime)
}

// Record holds the live state of one task. Only the owning worker mutates it;
// everybody else reads through Snapshot.
type Record struct {
	mu sync.RWMutex
	t  Task
}

func newRecord(t Task) *Record {
	return &Record{t: t}
}

// ID is immutable after creation and needs no lock.
func (r *Record) ID() string { return r.t.ID }

// Snapshot returns a copy that shares no memory with the record.
func (r *Record) Snapshot() Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := r.t
	if r.t.EndTime != nil {
		end := *r.t.EndTime
		cp.EndTime = &end
	}
	return cp
}

func (r *Record) update(fn func(t *Task)) {
	r.mu.Lock()
	fn(&r.t)
	r.mu.Unlock()
}
