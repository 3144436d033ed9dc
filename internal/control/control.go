package control

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/loykin/serverctl/internal/resolver"
)

var (
	ErrScriptNotFound  = errors.New("startup script not found")
	ErrLaunch          = errors.New("failed to launch server")
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	DefaultVendorPrefix   = "jboss-eap"
	DefaultBindAddress    = "0.0.0.0"
	DefaultManagementPort = 9990
	DefaultPollInterval   = 2 * time.Second
	DefaultSettleDelay    = 2 * time.Second

	MinStopTimeout = 10
	MaxStopTimeout = 600
)

// PortResolver reports which process owns a port.
type PortResolver interface {
	PIDForPort(ctx context.Context, port int) (int64, bool)
}

// Clock abstracts waiting so the ladder can be driven without real sleeps.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options configures a Controller. Zero values select defaults.
type Options struct {
	GOOS          string
	VendorPrefix  string
	BindAddress   string
	ManagementURL string
	CLIScript     string
	ConsoleLog    string
	Env           []string

	Resolver     PortResolver
	Runner       resolver.Runner
	Signaler     Signaler
	Clock        Clock
	HTTPClient   *http.Client
	PollInterval time.Duration
	SettleDelay  time.Duration
}

// Controller starts installations and drives the stop escalation ladder.
type Controller struct {
	goos         string
	vendorPrefix string
	bind         string
	mgmtURL      string
	cliScript    string
	consoleLog   string
	env          []string

	res    PortResolver
	run    resolver.Runner
	sig    Signaler
	clock  Clock
	http   *http.Client
	poll   time.Duration
	settle time.Duration
}

func New(o Options) *Controller {
	c := &Controller{
		goos:         o.GOOS,
		vendorPrefix: o.VendorPrefix,
		bind:         o.BindAddress,
		mgmtURL:      o.ManagementURL,
		cliScript:    o.CLIScript,
		consoleLog:   o.ConsoleLog,
		env:          o.Env,
		res:          o.Resolver,
		run:          o.Runner,
		sig:          o.Signaler,
		clock:        o.Clock,
		http:         o.HTTPClient,
		poll:         o.PollInterval,
		settle:       o.SettleDelay,
	}
	if c.goos == "" {
		c.goos = runtime.GOOS
	}
	if c.vendorPrefix == "" {
		c.vendorPrefix = DefaultVendorPrefix
	}
	if c.bind == "" {
		c.bind = DefaultBindAddress
	}
	if c.mgmtURL == "" {
		c.mgmtURL = ManagementURL(DefaultManagementPort)
	}
	if c.cliScript == "" {
		c.cliScript = "jboss-cli.sh"
		if c.goos == "windows" {
			c.cliScript = "jboss-cli.bat"
		}
	}
	if c.run == nil {
		c.run = resolver.ExecRunner{}
	}
	if c.res == nil {
		c.res = resolver.New(c.goos, c.run)
	}
	if c.sig == nil {
		c.sig = NewSignaler(c.goos, c.run)
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
	}
	if c.poll <= 0 {
		c.poll = DefaultPollInterval
	}
	if c.settle <= 0 {
		c.settle = DefaultSettleDelay
	}
	return c
}

// ManagementURL is the HTTP management endpoint on localhost:port.
func ManagementURL(port int) string {
	return "http://localhost:" + strconv.Itoa(port) + "/management"
}
