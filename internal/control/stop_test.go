package control

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.slept = append(f.slept, d)
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakeClock) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.slept)
}

type fakePorts struct {
	mu    sync.Mutex
	pid   int64
	busy  bool
	calls int
}

func (f *fakePorts) PIDForPort(context.Context, int) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if !f.busy {
		return 0, false
	}
	return f.pid, true
}

func (f *fakePorts) free() {
	f.mu.Lock()
	f.busy = false
	f.mu.Unlock()
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, key string) ([]byte, error)
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, key)
	}
	return nil, errors.New("not found: " + name)
}

type fakeSignaler struct {
	ports      *fakePorts
	freeOn     Stage
	undeliver  map[Stage]bool
	delivered  []Stage
	killed     bool
	freeOnKill bool
}

func (s *fakeSignaler) GracefulSteps(t int) []Step {
	mk := func(st Stage, budget int) Step {
		return Step{Stage: st, Budget: budget, Deliver: func(context.Context, int64) error {
			if s.undeliver[st] {
				return errNotDelivered
			}
			s.delivered = append(s.delivered, st)
			if s.freeOn == st {
				s.ports.free()
			}
			return nil
		}}
	}
	return []Step{mk(StageInterrupt, t/2), mk(StageTerminate, t/4)}
}

func (s *fakeSignaler) Kill(context.Context, int64) error {
	s.killed = true
	if s.freeOnKill {
		s.ports.free()
	}
	return nil
}

type harness struct {
	c     *Controller
	ports *fakePorts
	sig   *fakeSignaler
	clock *fakeClock
	run   *fakeRunner
	mgmt  *httptest.Server

	mu   sync.Mutex
	hits int
	body string
}

func (h *harness) mgmtHits() (int, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits, h.body
}

// newHarness builds a controller whose management endpoint answers with
// mgmtStatus; freeOnMgmt frees the port when the endpoint is hit.
func newHarness(t *testing.T, mgmtStatus int, freeOnMgmt bool) *harness {
	t.Helper()
	h := &harness{
		ports: &fakePorts{pid: 4242, busy: true},
		clock: &fakeClock{},
		run:   &fakeRunner{},
	}
	h.sig = &fakeSignaler{ports: h.ports, undeliver: map[Stage]bool{}}
	h.mgmt = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		h.mu.Lock()
		h.hits++
		h.body = string(b)
		h.mu.Unlock()
		if freeOnMgmt {
			h.ports.free()
		}
		w.WriteHeader(mgmtStatus)
	}))
	t.Cleanup(h.mgmt.Close)
	h.c = New(Options{
		GOOS:          "linux",
		ManagementURL: h.mgmt.URL + "/management",
		Resolver:      h.ports,
		Runner:        h.run,
		Signaler:      h.sig,
		Clock:         h.clock,
	})
	return h
}

func TestStop_RejectsInvalidArguments(t *testing.T) {
	h := newHarness(t, http.StatusOK, false)
	ctx := context.Background()
	for _, tc := range []struct{ port, timeout int }{
		{0, 30}, {65536, 30}, {8080, 5}, {8080, 9999}, {8080, 9}, {8080, 601},
	} {
		_, err := h.c.Stop(ctx, tc.port, tc.timeout, false)
		assert.ErrorIs(t, err, ErrInvalidArgument, "port=%d timeout=%d", tc.port, tc.timeout)
	}
	hits, _ := h.mgmtHits()
	assert.Zero(t, h.ports.calls)
	assert.Zero(t, hits)
	assert.Empty(t, h.run.calls)
}

func TestStop_NothingToDo(t *testing.T) {
	h := newHarness(t, http.StatusOK, false)
	h.ports.busy = false
	res, err := h.c.Stop(context.Background(), 8080, 30, true)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.True(t, res.NothingToDo)
	hits, _ := h.mgmtHits()
	assert.Equal(t, 1, h.ports.calls)
	assert.Zero(t, hits)
	assert.Empty(t, h.run.calls)
	assert.Empty(t, h.sig.delivered)
}

func TestStopProcess_UsesResolvedPID(t *testing.T) {
	h := newHarness(t, http.StatusOK, true)
	res, err := h.c.StopProcess(context.Background(), 8080, 4242, 30, false)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, int64(4242), res.PID)
	assert.Equal(t, StageManagement, res.Stage)
	// only the post-stage poll touches the port
	assert.Equal(t, 1, h.ports.calls)

	h2 := newHarness(t, http.StatusOK, false)
	res, err = h2.c.StopProcess(context.Background(), 8080, 0, 30, false)
	require.NoError(t, err)
	assert.True(t, res.NothingToDo)
	assert.Zero(t, h2.ports.calls)
	hits, _ := h2.mgmtHits()
	assert.Zero(t, hits)

	_, err = h2.c.StopProcess(context.Background(), 8080, 1, 5, false)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStop_ManagementShutdown(t *testing.T) {
	h := newHarness(t, http.StatusOK, true)
	res, err := h.c.Stop(context.Background(), 8080, 30, true)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, StageManagement, res.Stage)
	assert.Equal(t, int64(4242), res.PID)
	assert.True(t, res.ConfirmationRequired)
	_, body := h.mgmtHits()
	assert.JSONEq(t, `{"operation":"shutdown"}`, body)
	assert.Equal(t, []time.Duration{DefaultPollInterval}, h.clock.slept)
	assert.Empty(t, h.sig.delivered)
}

func TestStop_ConfirmationOnlyWhenRequested(t *testing.T) {
	h := newHarness(t, http.StatusOK, true)
	res, err := h.c.Stop(context.Background(), 8080, 30, false)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.False(t, res.ConfirmationRequired)
}

func TestStop_ManagementFallsBackToCLI(t *testing.T) {
	h := newHarness(t, http.StatusUnauthorized, false)
	h.run.fn = func(_ context.Context, key string) ([]byte, error) {
		if key == "jboss-cli.sh --connect --command=:shutdown" {
			h.ports.free()
			return []byte("{\"outcome\" => \"success\"}"), nil
		}
		return nil, errors.New("unexpected " + key)
	}
	res, err := h.c.Stop(context.Background(), 8080, 30, false)
	require.NoError(t, err)
	assert.Equal(t, StageManagement, res.Stage)
	hits, _ := h.mgmtHits()
	assert.Equal(t, 1, hits)
	assert.Equal(t, []string{"jboss-cli.sh --connect --command=:shutdown"}, h.run.calls)
}

func TestStop_UndeliveredStageIsSkippedWithoutWaiting(t *testing.T) {
	h := newHarness(t, http.StatusInternalServerError, false)
	h.sig.freeOn = StageInterrupt
	res, err := h.c.Stop(context.Background(), 8080, 30, false)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, StageInterrupt, res.Stage)
	// management failed both ways, so the only wait is the first SIGINT poll
	assert.Equal(t, 1, h.clock.count())
}

func TestStop_EscalatesToForce(t *testing.T) {
	h := newHarness(t, http.StatusOK, false)
	h.sig.freeOnKill = true
	res, err := h.c.Stop(context.Background(), 8080, 30, true)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, StageForce, res.Stage)
	assert.True(t, res.ConfirmationRequired)
	assert.Equal(t, []Stage{StageInterrupt, StageTerminate}, h.sig.delivered)
	assert.True(t, h.sig.killed)
	// 15s/2s=7 management polls, 15s/2s=7 SIGINT, 7s/2s=3 SIGTERM, one settle
	assert.Equal(t, 7+7+3+1, h.clock.count())
}

func TestStop_SkipsUndeliveredSignal(t *testing.T) {
	h := newHarness(t, http.StatusOK, false)
	h.sig.undeliver[StageInterrupt] = true
	h.sig.freeOn = StageTerminate
	res, err := h.c.Stop(context.Background(), 8080, 40, false)
	require.NoError(t, err)
	assert.Equal(t, StageTerminate, res.Stage)
	assert.Equal(t, []Stage{StageTerminate}, h.sig.delivered)
	// 20s/2s=10 management polls, then the first SIGTERM poll
	assert.Equal(t, 11, h.clock.count())
}

func TestStop_FailsWhenPortStaysBusy(t *testing.T) {
	h := newHarness(t, http.StatusOK, false)
	res, err := h.c.Stop(context.Background(), 8080, 10, true)
	require.NoError(t, err)
	assert.False(t, res.Stopped)
	assert.False(t, res.ConfirmationRequired)
	assert.Empty(t, res.Stage)
	assert.True(t, h.sig.killed)
}

func TestForceStop_UsesMinimumTimeout(t *testing.T) {
	h := newHarness(t, http.StatusOK, false)
	h.sig.freeOnKill = true
	res, err := h.c.ForceStop(context.Background(), 8080)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.False(t, res.ConfirmationRequired)
	// 5s/2s=2 management, 5s/2s=2 SIGINT, 2s/2s=1 SIGTERM, one settle
	assert.Equal(t, 2+2+1+1, h.clock.count())
}

func TestStop_ContextCancelled(t *testing.T) {
	h := newHarness(t, http.StatusOK, false)
	h.run.fn = func(ctx context.Context, _ string) ([]byte, error) { return nil, ctx.Err() }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.c.Stop(ctx, 8080, 30, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConsoleSignaler_Budgets(t *testing.T) {
	s := NewSignaler("windows", &fakeRunner{})
	budgets := func(t int) []int {
		var out []int
		for _, st := range s.GracefulSteps(t) {
			out = append(out, st.Budget)
		}
		return out
	}
	assert.Equal(t, []int{60, 30, 20, 15}, budgets(300))
	assert.Equal(t, []int{30, 15, 10, 7}, budgets(30))
	assert.Equal(t, []int{10, 5, 3, 2}, budgets(10))

	stages := []Stage{}
	for _, st := range s.GracefulSteps(30) {
		stages = append(stages, st.Stage)
	}
	assert.Equal(t, []Stage{StageKeystroke, StageCtrlC, StageCtrlBreak, StageTaskkill}, stages)
}

func TestConsoleSignaler_Delivery(t *testing.T) {
	r := &fakeRunner{fn: func(_ context.Context, key string) ([]byte, error) {
		switch {
		case strings.Contains(key, "SendCtrlC(77)"):
			return []byte("False\r\n"), nil
		case strings.Contains(key, "GenerateConsoleCtrlEvent(0, 77)"):
			return []byte("True\r\n"), nil
		case strings.Contains(key, "GenerateConsoleCtrlEvent(1, 77)"):
			return nil, errors.New("exit status 1")
		case key == "taskkill /PID 77", key == "taskkill /F /PID 77":
			return []byte("SUCCESS"), nil
		}
		return nil, errors.New("unexpected " + key)
	}}
	s := NewSignaler("windows", r)
	steps := s.GracefulSteps(60)
	ctx := context.Background()
	assert.ErrorIs(t, steps[0].Deliver(ctx, 77), errNotDelivered)
	assert.NoError(t, steps[1].Deliver(ctx, 77))
	assert.Error(t, steps[2].Deliver(ctx, 77))
	assert.NoError(t, steps[3].Deliver(ctx, 77))
	assert.NoError(t, s.Kill(ctx, 77))
	assert.Contains(t, r.calls, "taskkill /F /PID 77")
	assert.True(t, strings.HasPrefix(r.calls[0], "powershell -NoProfile -Command "))
}

func TestPosixSignaler_Budgets(t *testing.T) {
	steps := NewSignaler("linux", nil).GracefulSteps(300)
	require.Len(t, steps, 2)
	assert.Equal(t, StageInterrupt, steps[0].Stage)
	assert.Equal(t, 150, steps[0].Budget)
	assert.Equal(t, StageTerminate, steps[1].Stage)
	assert.Equal(t, 75, steps[1].Budget)
}

func TestManagementURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9990/management", ManagementURL(9990))
	c := New(Options{GOOS: "windows", Resolver: &fakePorts{}})
	assert.Equal(t, "jboss-cli.bat", c.cliScript)
	assert.Equal(t, ManagementURL(DefaultManagementPort), c.mgmtURL)
}
