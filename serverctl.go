// Package serverctl discovers application-server installations on disk, tells
// which one owns the configured HTTP port, starts and stops them, reports
// deployment readiness and runs archive extractions in the background.
package serverctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"time"

	"github.com/loykin/serverctl/internal/config"
	"github.com/loykin/serverctl/internal/control"
	"github.com/loykin/serverctl/internal/deployment"
	"github.com/loykin/serverctl/internal/env"
	"github.com/loykin/serverctl/internal/extract"
	"github.com/loykin/serverctl/internal/history"
	"github.com/loykin/serverctl/internal/matcher"
	"github.com/loykin/serverctl/internal/metrics"
	"github.com/loykin/serverctl/internal/resolver"
	"github.com/loykin/serverctl/internal/scanner"
)

// Re-export core types for external consumers.

type Descriptor = scanner.Descriptor

type StopResult = control.StopResult

type StartResult = control.StartResult

type Task = extract.Task

type Details = deployment.Details

type DeploymentStatus = deployment.Status

type Config = config.FileConfig

type TaskStatus = extract.Status

const (
	TaskPending    = extract.StatusPending
	TaskInProgress = extract.StatusInProgress
	TaskCompleted  = extract.StatusCompleted
	TaskFailed     = extract.StatusFailed
)

var (
	ErrPortBusy       = errors.New("port is in use by another process")
	ErrAlreadyRunning = errors.New("server is already running")
)

// Active describes the process that owns a port. Descriptor is nil when the
// process could not be attributed to any scanned installation.
type Active struct {
	Descriptor       *Descriptor     `json:"server,omitempty"`
	Port             int             `json:"port"`
	PID              int64           `json:"pid"`
	CommandLine      string          `json:"command_line,omitempty"`
	WorkingDirectory string          `json:"working_directory,omitempty"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	Rule             matcher.Rule    `json:"rule,omitempty"`
	Usage            *metrics.Sample `json:"usage,omitempty"`
}

// Running is Active plus the deployments folder of the identified installation.
type Running struct {
	Active
	DeploymentsPath  string `json:"deployments_path,omitempty"`
	DeploymentsFound bool   `json:"deployments_found"`
}

// StopInfo previews what a stop on a port would terminate.
type StopInfo struct {
	Port                 int    `json:"port"`
	PID                  *int64 `json:"process_id"`
	ServerName           string `json:"server_name,omitempty"`
	ServerPath           string `json:"server_path,omitempty"`
	CommandLine          string `json:"command_line,omitempty"`
	WorkingDirectory     string `json:"working_directory,omitempty"`
	ActionRequired       bool   `json:"action_required"`
	Message              string `json:"message,omitempty"`
	Warning              string `json:"warning,omitempty"`
	ConfirmationEndpoint string `json:"confirmation_endpoint,omitempty"`
}

// Option customises an Orchestrator.
type Option func(*options)

type options struct {
	goos    string
	runner  resolver.Runner
	res     resolver.Resolver
	sink    history.Sink
	control []func(*control.Options)
}

// WithGOOS overrides the platform the command variants are chosen for.
func WithGOOS(goos string) Option { return func(o *options) { o.goos = goos } }

// WithRunner replaces the external command runner.
func WithRunner(r resolver.Runner) Option { return func(o *options) { o.runner = r } }

// WithResolver replaces the port/process resolver.
func WithResolver(r resolver.Resolver) Option { return func(o *options) { o.res = r } }

// WithHistory appends stop, start and extraction events to sink.
func WithHistory(sink history.Sink) Option { return func(o *options) { o.sink = sink } }

// WithControlOptions adjusts the controller options after they are derived
// from configuration.
func WithControlOptions(fn func(*control.Options)) Option {
	return func(o *options) { o.control = append(o.control, fn) }
}

// Orchestrator composes the scanner, resolver, matcher, controller, deployment
// monitor and extraction engine.
type Orchestrator struct {
	cfg     *config.FileConfig
	goos    string
	scan    *scanner.Scanner
	res     resolver.Resolver
	ctl     *control.Controller
	mon     *deployment.Monitor
	pool    *extract.Pool
	engine  *extract.Engine
	sweeper *extract.Sweeper
	sink    history.Sink
}

// New builds an Orchestrator from a validated configuration.
func New(fc *config.FileConfig, opts ...Option) (*Orchestrator, error) {
	if fc == nil {
		return nil, fmt.Errorf("%w: nil configuration", config.ErrInvalid)
	}
	o := options{goos: runtime.GOOS}
	for _, fn := range opts {
		fn(&o)
	}
	if o.runner == nil {
		o.runner = resolver.ExecRunner{Timeout: fc.Servers.CommandTimeout}
	}
	if o.res == nil {
		o.res = resolver.New(o.goos, o.runner)
	}

	s := fc.Servers
	overrides, err := s.LaunchEnv()
	if err != nil {
		return nil, err
	}
	var launchEnv []string
	if s.UseOSEnv || len(overrides) > 0 {
		launchEnv = env.New(s.UseOSEnv).Compose(overrides)
	}
	co := control.Options{
		GOOS:         o.goos,
		VendorPrefix: s.VendorPrefix,
		BindAddress:  s.BindAddress,
		CLIScript:    s.CLIScript,
		ConsoleLog:   s.ConsoleLog,
		Env:          launchEnv,
		Resolver:     o.res,
		Runner:       o.runner,
	}
	if s.ManagementPort > 0 {
		co.ManagementURL = control.ManagementURL(s.ManagementPort)
	}
	for _, fn := range o.control {
		fn(&co)
	}

	x := fc.Extraction
	pool := extract.NewPool(extract.PoolConfig{
		CoreSize:      x.CoreSize,
		MaxSize:       x.MaxSize,
		QueueCapacity: x.QueueCapacity,
		KeepAlive:     x.KeepAlive,
	})
	orc := &Orchestrator{
		cfg:  fc,
		goos: o.goos,
		scan: scanner.New(s.BaseDir, s.Prefix, s.Port),
		res:  o.res,
		ctl:  control.New(co),
		mon:  deployment.New(s.VendorPrefix),
		pool: pool,
		sink: o.sink,
	}
	orc.engine = extract.NewEngine(extract.NewRegistry(), pool,
		extract.WithUploadDir(fc.UploadDir()),
		extract.WithMaxUploadBytes(x.MaxUploadBytes),
		extract.WithTerminalHook(orc.recordExtraction),
	)
	if x.RetentionTTL > 0 && x.RetentionSchedule != "" {
		orc.sweeper = extract.NewSweeper(orc.engine, x.RetentionTTL, x.RetentionSchedule)
		if err := orc.sweeper.Start(); err != nil {
			_ = pool.Close(context.Background())
			return nil, err
		}
	}
	return orc, nil
}

// Config returns the configuration the orchestrator was built from.
func (o *Orchestrator) Config() *config.FileConfig { return o.cfg }

// Close stops background work and releases the history sink.
func (o *Orchestrator) Close(ctx context.Context) error {
	if o.sweeper != nil {
		o.sweeper.Stop()
	}
	err := o.pool.Close(ctx)
	if o.sink != nil {
		err = errors.Join(err, o.sink.Close())
	}
	return err
}

// Scan lists installations and marks the one owning the configured port.
func (o *Orchestrator) Scan(ctx context.Context) ([]Descriptor, error) {
	descs, err := o.scan.Scan()
	if err != nil {
		return nil, err
	}
	a, ok := o.activeOn(ctx, o.scan.Port, descs)
	if !ok || a.Descriptor == nil {
		return descs, nil
	}
	return matcher.MarkActive(descs, matcher.Result{Descriptor: *a.Descriptor, Rule: a.Rule}, a.PID), nil
}

// ResolveActive identifies the process listening on the configured port.
// ok is false when the port is free.
func (o *Orchestrator) ResolveActive(ctx context.Context) (Active, bool, error) {
	descs, err := o.scan.Scan()
	if err != nil {
		return Active{}, false, err
	}
	a, ok := o.activeOn(ctx, o.scan.Port, descs)
	if ok && a.Descriptor != nil {
		if s, err := metrics.SampleProcess(ctx, int32(a.PID)); err == nil {
			a.Usage = &s
			metrics.SetServerUsage(a.Descriptor.Name, s)
		}
	}
	return a, ok, nil
}

func (o *Orchestrator) activeOn(ctx context.Context, port int, descs []Descriptor) (Active, bool) {
	pid, ok := o.res.PIDForPort(ctx, port)
	if !ok {
		return Active{}, false
	}
	return o.describe(ctx, port, pid, descs), true
}

// describe reads the identity of pid and attributes it to one of descs.
func (o *Orchestrator) describe(ctx context.Context, port int, pid int64, descs []Descriptor) Active {
	a := Active{Port: port, PID: pid}
	a.WorkingDirectory, _ = o.res.WorkingDirectory(ctx, pid)
	a.CommandLine, _ = o.res.CommandLine(ctx, pid)
	if t, ok := o.res.StartedAt(ctx, pid); ok {
		a.StartedAt = &t
	}
	if m, ok := matcher.Match(a.WorkingDirectory, a.CommandLine, descs); ok {
		d := m.Descriptor.WithProcess(pid)
		a.Descriptor = &d
		a.Rule = m.Rule
	} else {
		slog.Debug("Process on port not attributed to any installation", "port", port, "pid", pid)
	}
	return a
}

// Running reports the active process together with its deployments folder.
func (o *Orchestrator) Running(ctx context.Context) (Running, bool, error) {
	a, ok, err := o.ResolveActive(ctx)
	if err != nil || !ok {
		return Running{}, false, err
	}
	r := Running{Active: a}
	if a.Descriptor != nil {
		r.DeploymentsPath, r.DeploymentsFound = deployment.LocateDeployments(a.Descriptor.Path)
	}
	return r, true, nil
}

// Start launches the named installation. It refuses when the configured port
// already has an owner.
func (o *Orchestrator) Start(ctx context.Context, name string) (StartResult, error) {
	desc, err := o.scan.Find(name)
	if err != nil {
		return StartResult{}, err
	}
	descs, err := o.scan.Scan()
	if err != nil {
		return StartResult{}, err
	}
	if a, busy := o.activeOn(ctx, o.scan.Port, descs); busy {
		metrics.IncStart("refused")
		if a.Descriptor != nil && a.Descriptor.Name == desc.Name {
			return StartResult{}, fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, name, a.PID)
		}
		return StartResult{}, fmt.Errorf("%w: port %d is owned by pid %d", ErrPortBusy, o.scan.Port, a.PID)
	}

	res, err := o.ctl.Start(ctx, desc.Path)
	if err != nil {
		metrics.IncStart("failed")
		o.record(history.Event{Type: history.EventStart, Name: name, Port: desc.Port, Result: "failed", Detail: err.Error()})
		return StartResult{}, err
	}
	metrics.IncStart("started")
	o.record(history.Event{Type: history.EventStart, Name: name, Port: desc.Port, PID: int64(res.PID), Result: "started"})
	return res, nil
}

// Stop frees port through the escalation ladder. The port is resolved once
// and the controller works from that PID.
func (o *Orchestrator) Stop(ctx context.Context, port, timeout int, requireConfirmation bool) (StopResult, error) {
	return o.stop(ctx, port, timeout, requireConfirmation)
}

// ForceStop runs the ladder with the shortest timeout.
func (o *Orchestrator) ForceStop(ctx context.Context, port int) (StopResult, error) {
	return o.stop(ctx, port, control.MinStopTimeout, false)
}

func (o *Orchestrator) stop(ctx context.Context, port, timeout int, requireConfirmation bool) (StopResult, error) {
	if err := control.ValidateStop(port, timeout); err != nil {
		return StopResult{}, err
	}
	pid, _ := o.res.PIDForPort(ctx, port)
	name := o.nameOf(ctx, port, pid)
	res, err := o.ctl.StopProcess(ctx, port, pid, timeout, requireConfirmation)
	o.recordStop(name, res, err)
	return res, err
}

// nameOf attributes pid for the history record. Nothing is looked up without
// a sink or a process.
func (o *Orchestrator) nameOf(ctx context.Context, port int, pid int64) string {
	if o.sink == nil || pid <= 0 {
		return ""
	}
	descs, err := o.scan.Scan()
	if err != nil {
		return ""
	}
	if a := o.describe(ctx, port, pid, descs); a.Descriptor != nil {
		return a.Descriptor.Name
	}
	return ""
}

// StopInfo previews the process a stop on port would terminate.
func (o *Orchestrator) StopInfo(ctx context.Context, port int) (StopInfo, error) {
	if port < 1 || port > 65535 {
		return StopInfo{}, fmt.Errorf("%w: invalid port number: %d", control.ErrInvalidArgument, port)
	}
	descs, err := o.scan.Scan()
	if err != nil {
		descs = nil
	}
	a, ok := o.activeOn(ctx, port, descs)
	if !ok {
		return StopInfo{Port: port, Message: "No server is running on port " + strconv.Itoa(port)}, nil
	}
	pid := a.PID
	info := StopInfo{
		Port:                 port,
		PID:                  &pid,
		ServerName:           "Unknown Server",
		ServerPath:           "Unknown Path",
		CommandLine:          a.CommandLine,
		WorkingDirectory:     a.WorkingDirectory,
		ActionRequired:       true,
		Warning:              "Stopping this server will terminate the running process and may cause data loss.",
		ConfirmationEndpoint: "/servers/" + strconv.Itoa(port) + "/stop?confirm=true",
	}
	if a.Descriptor != nil {
		info.ServerName = a.Descriptor.Name
		info.ServerPath = a.Descriptor.Path
	}
	return info, nil
}

// StartupStatus classifies the named installation. It is STOPPED unless the
// installation owns the configured port.
func (o *Orchestrator) StartupStatus(ctx context.Context, name string) (DeploymentStatus, error) {
	desc, err := o.scan.Find(name)
	if err != nil {
		return "", err
	}
	descs, err := o.scan.Scan()
	if err != nil {
		return "", err
	}
	a, ok := o.activeOn(ctx, o.scan.Port, descs)
	if !ok || a.Descriptor == nil || a.Descriptor.Name != desc.Name {
		return deployment.StatusStopped, nil
	}
	return o.mon.StartupStatus(desc.Path), nil
}

// DeploymentDetails lists the marker files of the named installation.
func (o *Orchestrator) DeploymentDetails(name string) (Details, error) {
	desc, err := o.scan.Find(name)
	if err != nil {
		return Details{}, err
	}
	return o.mon.Details(desc.Path), nil
}

// StartupScript reports the startup script of the named installation, if any.
func (o *Orchestrator) StartupScript(name string) (string, bool, error) {
	desc, err := o.scan.Find(name)
	if err != nil {
		return "", false, err
	}
	p, err := control.FindScript(desc.Path, o.cfg.Servers.VendorPrefix, control.ScriptName(o.goos))
	if err != nil {
		return "", false, nil
	}
	return p, true, nil
}

// SubmitExtraction queues extraction of zipPath and returns the task id.
func (o *Orchestrator) SubmitExtraction(zipPath string) (string, error) {
	return o.engine.Submit(zipPath)
}

// UploadAndExtract stores an uploaded archive and queues its extraction.
func (o *Orchestrator) UploadAndExtract(name string, r io.Reader) (id, path string, err error) {
	return o.engine.SubmitUpload(name, r)
}

// Upload stores an uploaded archive without extracting it.
func (o *Orchestrator) Upload(name string, r io.Reader) (string, error) {
	return o.engine.Upload(name, r)
}

func (o *Orchestrator) ExtractionStatus(id string) (Task, bool) { return o.engine.Status(id) }

func (o *Orchestrator) Extractions() []Task { return o.engine.List() }

func (o *Orchestrator) CleanupExtraction(id string) error { return o.engine.Cleanup(id) }

func (o *Orchestrator) recordStop(name string, res StopResult, err error) {
	ev := history.Event{Type: history.EventStop, Name: name, Port: res.Port, PID: res.PID, Stage: string(res.Stage)}
	switch {
	case err != nil:
		ev.Result, ev.Detail = "error", err.Error()
	case res.NothingToDo:
		ev.Result = "nothing_to_do"
	case res.Stopped:
		ev.Result = "stopped"
	default:
		ev.Result = "failed"
	}
	o.record(ev)
}

func (o *Orchestrator) recordExtraction(t Task) {
	o.record(history.Event{
		Type:   history.EventExtraction,
		Name:   t.ZipPath,
		Result: string(t.Status),
		Detail: firstNonEmpty(t.ErrorMessage, t.ExtractionPath),
		Ref:    t.ID,
	})
}

func (o *Orchestrator) record(ev history.Event) {
	if o.sink == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.sink.Send(ctx, ev); err != nil {
		slog.Warn("history sink send failed", "type", ev.Type, "error", err)
	}
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
