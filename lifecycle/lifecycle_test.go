package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/frectonz/penny/health"
	"github.com/frectonz/penny/pennyclock"
	"github.com/frectonz/penny/runner"
	"github.com/frectonz/penny/xlog"
)

// fakeHandle is a runner.Handle double whose Stop/Exited are driven
// explicitly by a test instead of a real process.
type fakeHandle struct {
	mu      sync.Mutex
	exited  chan struct{}
	stopped chan struct{}
	failure runner.Failure
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{exited: make(chan struct{}), stopped: make(chan struct{})}
}

func (h *fakeHandle) Stop(ctx context.Context, stopTimeout time.Duration) runner.Failure {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.stopped:
	default:
		close(h.stopped)
	}
	select {
	case <-h.exited:
	default:
		close(h.exited)
	}
	return h.failure
}

func (h *fakeHandle) Exited() <-chan struct{} { return h.exited }
func (h *fakeHandle) ExitErr() error          { return nil }
func (h *fakeHandle) Pid() int                { return 4242 }

// fakeRunner is a runner.Runner double. When gate is non-nil, Start blocks
// until it is closed, so a test can hold a spawn in flight deliberately.
type fakeRunner struct {
	mu       sync.Mutex
	startErr error
	gate     chan struct{}
	starts   chan *fakeHandle
	handles  []*fakeHandle
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{starts: make(chan *fakeHandle, 8)}
}

func (r *fakeRunner) Start(ctx context.Context, logger *xlog.Logger, onLog func(runner.LogLine)) (runner.Handle, error) {
	r.mu.Lock()
	gate := r.gate
	startErr := r.startErr
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if startErr != nil {
		return nil, startErr
	}

	h := newFakeHandle()
	r.mu.Lock()
	r.handles = append(r.handles, h)
	r.mu.Unlock()
	r.starts <- h
	return h, nil
}

// probeFunc builds a Deps.Probe that resolves immediately with result,
// ignoring the health backoff loop entirely.
func probeFunc(result health.Result) func(ctx context.Context, clk pennyclock.Clock, addr, path string, budget time.Duration, backoff health.Backoff) health.Result {
	return func(ctx context.Context, clk pennyclock.Clock, addr, path string, budget time.Duration, backoff health.Backoff) health.Result {
		return result
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

func currentN(c *Controller) int {
	c.lock()
	defer c.unlock()
	return c.n
}

func testConfig() AppConfig {
	return AppConfig{
		Host:            "app.test",
		Address:         "127.0.0.1:9999",
		HealthCheckPath: "/healthz",
		WaitPeriod:      50 * time.Millisecond,
		StartTimeout:    time.Second,
		StopTimeout:     time.Second,
	}
}

func newTestController(t *testing.T, cfg AppConfig, clk pennyclock.Clock, r *fakeRunner, probeResult health.Result) *Controller {
	t.Helper()
	c, err := New(cfg, Deps{
		Clock:  clk,
		Runner: r,
		Probe:  probeFunc(probeResult),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// TestAcquire_HealthySpawn_ResolvesFutureAndReachesRunning exercises the
// Idle -> Starting -> Running happy path: a parked waiter's Future resolves
// to the app's address once the probe succeeds.
func TestAcquire_HealthySpawn_ResolvesFutureAndReachesRunning(t *testing.T) {
	r := newFakeRunner()
	c := newTestController(t, testConfig(), pennyclock.Real, r, health.Ok)

	result := c.Acquire(time.Now(), false)
	if result.Kind != AcqWaiting {
		t.Fatalf("Kind = %v, want AcqWaiting", result.Kind)
	}

	addr, err := result.Future.Wait(context.Background())
	if err != nil {
		t.Fatalf("Future.Wait: %v", err)
	}
	if addr != testConfig().Address {
		t.Fatalf("addr = %q, want %q", addr, testConfig().Address)
	}

	waitUntil(t, time.Second, func() bool { return c.State() == Running })
	c.Release(time.Now())
	if n := currentN(c); n != 0 {
		t.Fatalf("n = %d after single acquire/release, want 0", n)
	}
}

// TestAcquire_StartFailure_DoesNotLeakInFlightCount pins the n-leak: a
// failed start must decrement n for every waiter it resolves with an error,
// exactly as many times as acquireLocked incremented it, or the idle timer
// can never arm again for this controller.
func TestAcquire_StartFailure_DoesNotLeakInFlightCount(t *testing.T) {
	r := newFakeRunner()
	c := newTestController(t, testConfig(), pennyclock.Real, r, health.Timeout)

	const waiters = 3
	results := make([]AcquireResult, waiters)
	for i := range results {
		results[i] = c.Acquire(time.Now(), false)
		if results[i].Kind != AcqWaiting {
			t.Fatalf("waiter %d: Kind = %v, want AcqWaiting", i, results[i].Kind)
		}
	}

	for i, res := range results {
		_, err := res.Future.Wait(context.Background())
		if err == nil {
			t.Fatalf("waiter %d: Wait returned nil error, want start failure", i)
		}
	}

	waitUntil(t, time.Second, func() bool { return c.State() == Failed })
	if n := currentN(c); n != 0 {
		t.Fatalf("n = %d after every waiter resolved with an error, want 0 (the front-end never calls Release on a failed acquire)", n)
	}

	// After the cooldown, the controller must still be able to arm an idle
	// timer on a later successful run -- i.e. n==0 really did stick, it
	// wasn't just a transient read between decrements.
	waitUntil(t, cooldown+2*time.Second, func() bool { return c.State() == Idle })
	if n := currentN(c); n != 0 {
		t.Fatalf("n = %d once back in Idle, want 0", n)
	}
}

// TestAcquireWarm_NeverParksAndSelfReleases covers C7's contract: a warm-up
// nudge must never leave n inflated, whether or not it actually started
// anything.
func TestAcquireWarm_NeverParksAndSelfReleases(t *testing.T) {
	r := newFakeRunner()
	c := newTestController(t, testConfig(), pennyclock.Real, r, health.Ok)

	c.AcquireWarm(time.Now())
	if n := currentN(c); n != 0 {
		t.Fatalf("n = %d immediately after AcquireWarm, want 0", n)
	}
	waitUntil(t, time.Second, func() bool { return c.State() == Running })
	if n := currentN(c); n != 0 {
		t.Fatalf("n = %d once the warmed app is Running, want 0", n)
	}
}

// TestIdleTimer_FiresAfterWaitPeriod drives the idle timeout deterministically
// through an injected FakeClock instead of a real sleep, and checks the
// controller stops the backend and returns to Idle.
func TestIdleTimer_FiresAfterWaitPeriod(t *testing.T) {
	base := time.Now()
	clk := clocktesting.NewFakeClock(base)
	r := newFakeRunner()
	cfg := testConfig()
	c := newTestController(t, cfg, clk, r, health.Ok)

	result := c.Acquire(clk.Now(), false)
	if _, err := result.Future.Wait(context.Background()); err != nil {
		t.Fatalf("Future.Wait: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return c.State() == Running })
	c.Release(clk.Now())

	clk.Step(cfg.WaitPeriod + time.Millisecond)
	waitUntil(t, time.Second, func() bool { return c.State() == Idle })

	handle := r.handles[0]
	select {
	case <-handle.stopped:
	default:
		t.Fatal("idle timeout did not stop the backend handle")
	}
	if n := currentN(c); n != 0 {
		t.Fatalf("n = %d once idled out, want 0", n)
	}
}

// TestShutdown_DuringInFlightSpawn_StillGoesQuiescent is a regression test:
// if Shutdown lands while startRun's spawn call hasn't returned yet (no
// handle assigned), the controller must not be left in Starting forever --
// the returned channel has to close once the spawn lands and is torn down.
func TestShutdown_DuringInFlightSpawn_StillGoesQuiescent(t *testing.T) {
	r := newFakeRunner()
	r.gate = make(chan struct{})
	c := newTestController(t, testConfig(), pennyclock.Real, r, health.Ok)

	result := c.Acquire(time.Now(), false)
	if result.Kind != AcqWaiting {
		t.Fatalf("Kind = %v, want AcqWaiting", result.Kind)
	}

	waitUntil(t, time.Second, func() bool { return c.State() == Starting })

	done := c.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown's channel never closed while the spawn was still in flight")
	}
	if got := c.State(); got != Idle {
		t.Fatalf("State() = %v after shutdown finalized an in-flight spawn, want Idle", got)
	}

	close(r.gate)
	select {
	case h := <-r.starts:
		select {
		case <-h.stopped:
		case <-time.After(time.Second):
			t.Fatal("spawned process was never stopped after landing post-shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("fake runner never observed the delayed Start call")
	}

	if got := c.State(); got != Idle {
		t.Fatalf("State() = %v after the delayed spawn was cleaned up, want Idle", got)
	}
}

// TestRelease_ToleratesExtraCalls covers release.go's documented contract
// that Release is safe to call more times than Acquire, post-shutdown.
func TestRelease_ToleratesExtraCalls(t *testing.T) {
	r := newFakeRunner()
	c := newTestController(t, testConfig(), pennyclock.Real, r, health.Ok)

	c.Release(time.Now())
	c.Release(time.Now())
	if n := currentN(c); n != 0 {
		t.Fatalf("n = %d after releasing with nothing acquired, want 0", n)
	}
}
