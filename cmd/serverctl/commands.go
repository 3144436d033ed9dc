package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loykin/serverctl"
	"github.com/loykin/serverctl/internal/config"
	"github.com/loykin/serverctl/internal/history"
	"github.com/loykin/serverctl/internal/history/factory"
	"github.com/loykin/serverctl/internal/logger"
	"github.com/loykin/serverctl/pkg/client"
)

// DefaultExtractWait bounds how long a local extract waits for its task.
const DefaultExtractWait = 30 * time.Minute

type command struct {
	out  io.Writer
	opts []serverctl.Option
}

func newCommand() command {
	return command{out: os.Stdout}
}

// signalContext is cancelled on SIGINT/SIGTERM so long stops can be aborted.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// build wires the orchestrator for fc, opening the history sink when enabled.
// The returned release func closes both.
func (c command) build(fc *config.FileConfig) (*serverctl.Orchestrator, func(), error) {
	opts := make([]serverctl.Option, 0, len(c.opts)+1)
	var sink history.Sink
	if fc.History.Enabled && fc.History.DSN != "" {
		s, err := factory.NewSinkFromDSN(fc.History.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open history: %w", err)
		}
		sink = s
		opts = append(opts, serverctl.WithHistory(sink))
	}
	opts = append(opts, c.opts...)

	orc, err := serverctl.New(fc, opts...)
	if err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		return nil, nil, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := orc.Close(ctx); err != nil {
			slog.Warn("orchestrator close", "error", err)
		}
	}
	return orc, release, nil
}

// open loads the config at path, installs the logger and builds the orchestrator.
func (c command) open(path string) (*serverctl.Orchestrator, func(), error) {
	fc, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	closeLog := logger.Setup(fc.Log)
	orc, release, err := c.build(fc)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return orc, func() {
		release()
		closeLog()
	}, nil
}

func (c command) List(configPath string) error {
	orc, release, err := c.open(configPath)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := signalContext()
	defer cancel()
	descs, err := orc.Scan(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, descs)
	return nil
}

type idleResp struct {
	Running bool   `json:"running"`
	Port    int    `json:"port"`
	Message string `json:"message"`
}

func (c command) Active(configPath string) error {
	orc, release, err := c.open(configPath)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := signalContext()
	defer cancel()
	run, ok, err := orc.Running(ctx)
	if err != nil {
		return err
	}
	if !ok {
		port := orc.Config().Servers.Port
		printJSON(c.out, idleResp{Port: port, Message: fmt.Sprintf("No server is running on port %d", port)})
		return nil
	}
	printJSON(c.out, run)
	return nil
}

func (c command) Start(configPath string, f ServerFlags) error {
	if f.Name == "" {
		return fmt.Errorf("server name is required")
	}
	orc, release, err := c.open(configPath)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := signalContext()
	defer cancel()
	res, err := orc.Start(ctx, f.Name)
	if errors.Is(err, serverctl.ErrAlreadyRunning) {
		_, _ = fmt.Fprintf(c.out, "Server %s is already running\n", f.Name)
		return nil
	}
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c command) Stop(configPath string, f StopFlags) error {
	orc, release, err := c.open(configPath)
	if err != nil {
		return err
	}
	defer release()

	s := orc.Config().Servers
	port, timeout := f.Port, f.Timeout
	if port == 0 {
		port = s.Port
	}
	if timeout == 0 {
		timeout = s.StopTimeout
	}

	ctx, cancel := signalContext()
	defer cancel()
	res, err := orc.Stop(ctx, port, timeout, f.Confirm)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	if !res.Stopped && !res.ConfirmationRequired {
		return fmt.Errorf("server on port %d did not stop within %ds", port, timeout)
	}
	return nil
}

func (c command) ForceStop(configPath string, f StopFlags) error {
	orc, release, err := c.open(configPath)
	if err != nil {
		return err
	}
	defer release()

	port := f.Port
	if port == 0 {
		port = orc.Config().Servers.Port
	}
	ctx, cancel := signalContext()
	defer cancel()
	res, err := orc.ForceStop(ctx, port)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	if !res.Stopped {
		return fmt.Errorf("server on port %d could not be stopped", port)
	}
	return nil
}

func (c command) StopInfo(configPath string, f StopFlags) error {
	orc, release, err := c.open(configPath)
	if err != nil {
		return err
	}
	defer release()

	port := f.Port
	if port == 0 {
		port = orc.Config().Servers.Port
	}
	ctx, cancel := signalContext()
	defer cancel()
	info, err := orc.StopInfo(ctx, port)
	if err != nil {
		return err
	}
	printJSON(c.out, info)
	return nil
}

type statusResp struct {
	Name          string                     `json:"name"`
	Status        serverctl.DeploymentStatus `json:"status"`
	StartupScript string                     `json:"startup_script,omitempty"`
}

func (c command) Status(configPath string, f ServerFlags) error {
	if f.Name == "" {
		return fmt.Errorf("server name is required")
	}
	orc, release, err := c.open(configPath)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := signalContext()
	defer cancel()
	st, err := orc.StartupStatus(ctx, f.Name)
	if err != nil {
		return err
	}
	resp := statusResp{Name: f.Name, Status: st}
	if p, ok, _ := orc.StartupScript(f.Name); ok {
		resp.StartupScript = p
	}
	printJSON(c.out, resp)
	return nil
}

func (c command) Details(configPath string, f ServerFlags) error {
	if f.Name == "" {
		return fmt.Errorf("server name is required")
	}
	orc, release, err := c.open(configPath)
	if err != nil {
		return err
	}
	defer release()

	d, err := orc.DeploymentDetails(f.Name)
	if err != nil {
		return err
	}
	printJSON(c.out, d)
	return nil
}

// Extract unpacks an archive next to itself. Without --api-url the work runs
// in this process and the command waits for the task to finish.
func (c command) Extract(configPath string, f ExtractFlags) error {
	if f.ZipPath == "" {
		return fmt.Errorf("zip file path is required")
	}
	zipPath, err := filepath.Abs(f.ZipPath)
	if err != nil {
		return err
	}
	if f.APIUrl != "" {
		api, err := f.client()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		res, err := api.SubmitExtraction(ctx, zipPath)
		if err != nil {
			return err
		}
		printJSON(c.out, res)
		return nil
	}

	orc, release, err := c.open(configPath)
	if err != nil {
		return err
	}
	defer release()

	id, err := orc.SubmitExtraction(zipPath)
	if err != nil {
		return err
	}
	wait := f.Wait
	if wait <= 0 {
		wait = DefaultExtractWait
	}
	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelWait := context.WithTimeout(ctx, wait)
	defer cancelWait()

	t, err := waitTask(ctx, orc, id)
	if err != nil {
		return err
	}
	printJSON(c.out, t)
	if t.Status == serverctl.TaskFailed {
		return fmt.Errorf("extraction failed: %s", t.ErrorMessage)
	}
	return nil
}

func waitTask(ctx context.Context, orc *serverctl.Orchestrator, id string) (serverctl.Task, error) {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		t, ok := orc.ExtractionStatus(id)
		if !ok {
			return serverctl.Task{}, fmt.Errorf("extraction task %s disappeared", id)
		}
		if t.Status.Terminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, fmt.Errorf("waiting for extraction %s: %w", id, ctx.Err())
		case <-tick.C:
		}
	}
}

func (c command) ExtractStatus(f TaskFlags) error {
	if f.ID == "" {
		return fmt.Errorf("task id is required")
	}
	api, err := f.client()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	res, err := api.ExtractionStatus(ctx, f.ID)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c command) ExtractCleanup(f TaskFlags) error {
	if f.ID == "" {
		return fmt.Errorf("task id is required")
	}
	api, err := f.client()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	res, err := api.CleanupExtraction(ctx, f.ID)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (f APIFlags) client() (*client.Client, error) {
	cfg := client.Config{
		BaseURL:  f.APIUrl,
		Timeout:  f.APITimeout,
		Insecure: f.APIInsecure,
	}
	if f.APICACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: f.APICACert}
	}
	return client.New(cfg)
}
