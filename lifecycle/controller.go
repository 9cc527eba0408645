package lifecycle

import (
	"context"
	"time"

	"github.com/frectonz/penny/health"
	"github.com/frectonz/penny/journal"
	"github.com/frectonz/penny/pennyclock"
	"github.com/frectonz/penny/rate"
	"github.com/frectonz/penny/runner"
	"github.com/frectonz/penny/xlog"
)

// cooldown is how long a controller stays in Failed before returning to
// Idle. The spec leaves the exact duration unspecified ("a short cooldown");
// this is short enough not to visibly delay a retried request but long
// enough to avoid hot-looping a command that fails instantly every time.
const cooldown = 2 * time.Second

// WarmUp is the hook invoked on every real (non-warm-up) acquire. The serve
// command wires this to the warmup package's Fanout.Fire, which walks the
// app's also_warm graph with its own decrementing TTL; the controller
// itself is oblivious to the graph shape.
type WarmUp func(host string)

// Deps are the collaborators a Controller is built from. Runner and Probe
// default to the production implementations; tests substitute fakes to
// drive the state machine without real processes or sockets.
type Deps struct {
	Clock   pennyclock.Clock
	Runner  runner.Runner
	Journal *journal.Journal
	WarmUp  WarmUp
	Probe   func(ctx context.Context, clk pennyclock.Clock, addr, path string, budget time.Duration, backoff health.Backoff) health.Result
}

func (d *Deps) setDefaults(cfg AppConfig) {
	if d.Clock == nil {
		d.Clock = pennyclock.Real
	}
	if d.Runner == nil {
		d.Runner = cfg.Command
	}
	if d.WarmUp == nil {
		d.WarmUp = func(string) {}
	}
	if d.Probe == nil {
		d.Probe = health.Probe
	}
}

// runState tracks the single active Run, if any, and the machinery needed
// to tell a stale async result (from an earlier run) apart from a current
// one.
type runState struct {
	gen         uint64
	runID       string
	handle      runner.Handle
	cancelProbe context.CancelFunc
}

// Controller is the per-app state machine (C6). Exactly one exists per
// configured app; the registry owns its construction and shutdown.
type Controller struct {
	cfg  AppConfig
	deps Deps
	log  *xlog.Logger

	mu           chan struct{} // binary semaphore; see lock/unlock below
	state        State
	n            int
	lastActivity time.Time
	run          *runState
	nextGen      uint64
	waiters      []*waiter
	idleGen      uint64
	idleTimer    pennyclock.Timer
	rateEst      rate.Estimator

	shuttingDown bool
	quiescent    []chan struct{}
}

// New constructs a controller in state Idle. It does not start the backend;
// the first acquire does.
func New(cfg AppConfig, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps.setDefaults(cfg)
	c := &Controller{
		cfg:   cfg,
		deps:  deps,
		log:   xlog.NewDomain("lifecycle." + cfg.Host),
		mu:    make(chan struct{}, 1),
		state: Idle,
	}
	c.mu <- struct{}{}
	return c, nil
}

func (c *Controller) lock()   { <-c.mu }
func (c *Controller) unlock() { c.mu <- struct{}{} }

// State returns the controller's current state. Intended for metrics and
// admin-API enrichment, not for making acquire decisions (which must go
// through Acquire itself to stay race-free).
func (c *Controller) State() State {
	c.lock()
	defer c.unlock()
	return c.state
}

// Host returns the app's hostname.
func (c *Controller) Host() string { return c.cfg.Host }

// CurrentPID returns the OS process ID of the active run's backend process,
// for admin-API resource-usage enrichment. ok is false when no run is
// currently active.
func (c *Controller) CurrentPID() (pid int, ok bool) {
	c.lock()
	defer c.unlock()
	if c.run == nil || c.run.handle == nil {
		return 0, false
	}
	pid = c.run.handle.Pid()
	return pid, pid != 0
}
