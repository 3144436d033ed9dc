package extract

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/serverctl/internal/metrics"
)

var (
	ErrSourceNotFound = errors.New("zip file not found")
	ErrPathTraversal  = errors.New("zip entry escapes extraction directory")
	ErrTaskNotFound   = errors.New("extraction task not found")
	ErrTaskActive     = errors.New("extraction task is not finished")
)

// Messages shown to clients polling a task.
const (
	MsgQueued     = "Extraction task queued"
	MsgInProgress = "Extraction in progress"
	MsgCompleted  = "Extraction completed successfully"
	MsgFailed     = "Extraction failed"
)

// Engine runs archive extractions on a Pool and tracks them in a Registry.
type Engine struct {
	reg        *Registry
	pool       *Pool
	uploadDir  string
	maxUpload  int64
	onTerminal func(Task)
	now        func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithUploadDir sets where Upload stores archives.
func WithUploadDir(dir string) Option { return func(e *Engine) { e.uploadDir = dir } }

// WithMaxUploadBytes caps the size of a single upload.
func WithMaxUploadBytes(n int64) Option { return func(e *Engine) { e.maxUpload = n } }

// WithTerminalHook registers fn to receive every task that reaches a terminal
// state. fn runs on the worker goroutine.
func WithTerminalHook(fn func(Task)) Option { return func(e *Engine) { e.onTerminal = fn } }

// NewEngine wires an engine to reg and pool.
func NewEngine(reg *Registry, pool *Pool, opts ...Option) *Engine {
	e := &Engine{reg: reg, pool: pool, maxUpload: DefaultMaxUploadBytes, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Registry exposes the task table.
func (e *Engine) Registry() *Registry { return e.reg }

// Submit registers a PENDING task for zipPath and queues it. The task id is
// returned immediately; extraction happens on a pool worker.
func (e *Engine) Submit(zipPath string) (string, error) {
	rec := newRecord(Task{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Message:   MsgQueued,
		ZipPath:   zipPath,
		StartTime: e.now(),
	})
	e.reg.Put(rec)
	if err := e.pool.Submit(func() { e.process(rec) }); err != nil {
		e.reg.Delete(rec.ID())
		if errors.Is(err, ErrQueueFull) {
			metrics.IncExtractionRejected()
		}
		slog.Warn("Extraction task rejected", "zip", zipPath, "error", err)
		return "", err
	}
	slog.Info("Extraction task queued", "task_id", rec.ID(), "zip", zipPath)
	return rec.ID(), nil
}

// Status returns a snapshot of task id.
func (e *Engine) Status(id string) (Task, bool) {
	rec, ok := e.reg.Get(id)
	if !ok {
		return Task{}, false
	}
	return rec.Snapshot(), true
}

// List returns snapshots of every known task.
func (e *Engine) List() []Task {
	out := make([]Task, 0, e.reg.Len())
	e.reg.Range(func(t Task) bool {
		out = append(out, t)
		return true
	})
	return out
}

// Cleanup forgets a finished task. Tasks still pending or running stay and
// ErrTaskActive is returned.
func (e *Engine) Cleanup(id string) error {
	removed, found := e.reg.DeleteIf(id, func(t Task) bool { return t.Status.Terminal() })
	switch {
	case !found:
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	case !removed:
		return fmt.Errorf("%w: %s", ErrTaskActive, id)
	}
	slog.Info("Cleaned up extraction task", "task_id", id)
	return nil
}

func (e *Engine) process(rec *Record) {
	metrics.AddExtractionActive(1)
	defer metrics.AddExtractionActive(-1)

	var dest string
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("extraction panic: %v", r)
			}
		}()
		rec.update(func(t *Task) {
			t.Status = StatusInProgress
			t.Message = MsgInProgress
			t.ProgressPercent = 0
		})
		dest, err = e.extract(rec)
	}()

	end := e.now()
	if err != nil {
		rec.update(func(t *Task) {
			t.Status = StatusFailed
			t.Message = MsgFailed
			t.ErrorMessage = err.Error()
			t.EndTime = &end
		})
		slog.Error("Extraction failed", "task_id", rec.ID(), "error", err)
	} else {
		rec.update(func(t *Task) {
			t.Status = StatusCompleted
			t.Message = MsgCompleted
			t.ExtractionPath = dest
			t.ProgressPercent = 100
			t.EndTime = &end
		})
		slog.Info("Extraction completed", "task_id", rec.ID(), "path", dest)
	}
	snap := rec.Snapshot()
	metrics.IncExtraction(string(snap.Status))
	if e.onTerminal != nil {
		e.onTerminal(snap)
	}
}

// Destination is the directory an archive extracts into: its own directory
// joined with the file name minus the extension.
func Destination(zipPath string) string {
	base := filepath.Base(zipPath)
	return filepath.Join(filepath.Dir(zipPath), strings.TrimSuffix(base, filepath.Ext(base)))
}

func (e *Engine) extract(rec *Record) (string, error) {
	zipPath := rec.Snapshot().ZipPath
	if _, err := os.Stat(zipPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, zipPath)
	}
	zr, err := zip.OpenReader(zipPath)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = zr.Close()
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, zipPath)
	}
	if err != nil {
		return "", fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer func() { _ = zr.Close() }()

	dest, err := filepath.Abs(Destination(zipPath))
	if err != nil {
		return "", err
	}

	// first pass: count and validate every entry before writing anything
	targets := make([]string, len(zr.File))
	for i, f := range zr.File {
		target, err := entryTarget(dest, f.Name)
		if err != nil {
			return "", err
		}
		targets[i] = target
	}
	total := len(zr.File)

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}
	step := max(1, total/10)
	for i, f := range zr.File {
		if err := writeEntry(f, targets[i]); err != nil {
			return "", fmt.Errorf("extract %s: %w", f.Name, err)
		}
		done := i + 1
		pct := done * 100 / total
		rec.update(func(t *Task) {
			t.ProgressPercent = pct
			t.Message = "Extracting: " + f.Name
		})
		if done%step == 0 {
			slog.Info("Extraction progress", "task_id", rec.ID(), "percent", pct, "done", done, "total", total)
		}
	}
	return dest, nil
}

func entryTarget(dest, name string) (string, error) {
	clean := filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}
	target := filepath.Join(dest, clean)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}
	return target, nil
}

func writeEntry(f *zip.File, target string) error {
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
