package lifecycle

import (
	"context"
	"time"

	"github.com/frectonz/penny/health"
	"github.com/frectonz/penny/journal"
	"github.com/frectonz/penny/rate"
	"github.com/frectonz/penny/runner"
)

func adaptiveWait(r, lowRate, highRate float64, minWait, maxWait time.Duration) time.Duration {
	return rate.AdaptiveWait(r, lowRate, highRate, minWait, maxWait)
}

func stoppedOutcomeForShutdown(shuttingDown bool) journal.Outcome {
	if shuttingDown {
		return journal.OutcomeStoppedOnDeploy
	}
	return journal.OutcomeStoppedOnIdle
}

// beginStartLocked moves Idle -> Starting: it creates a Run, invokes the
// runner, and kicks off the health probe. Must be called with the lock
// held; it does its actual I/O on background goroutines so no suspension
// happens under the lock, per §5.
func (c *Controller) beginStartLocked(now time.Time) {
	c.state = Starting
	c.nextGen++
	gen := c.nextGen

	rs := &runState{gen: gen}
	c.run = rs

	go c.startRun(gen, now)
}

// startRun does the actual spawn and probe outside the controller lock.
func (c *Controller) startRun(gen uint64, now time.Time) {
	ctx := context.Background()

	runID := ""
	if c.deps.Journal != nil {
		id, err := c.deps.Journal.BeginRun(ctx, c.cfg.Host, now.UnixMilli())
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to begin run journal entry")
		} else {
			runID = id
		}
	}

	onLog := func(l runner.LogLine) {
		if c.deps.Journal == nil || runID == "" {
			return
		}
		_ = c.deps.Journal.AppendLog(ctx, runID, l.Stream, l.Line, l.Timestamp.UnixMilli())
	}

	handle, err := c.deps.Runner.Start(ctx, c.log, onLog)
	if err != nil {
		c.log.Error().Err(err).Msg("spawn failed")
		c.finishFailedStart(gen, runID, now)
		return
	}

	probeCtx, cancel := context.WithCancel(ctx)

	c.lock()
	if c.run == nil || c.run.gen != gen {
		// Shutdown or a restart beat us here; stop what we just spawned.
		c.unlock()
		cancel()
		handle.Stop(ctx, c.cfg.StopTimeout)
		return
	}
	c.run.runID = runID
	c.run.handle = handle
	c.run.cancelProbe = cancel
	c.unlock()

	go c.watchExit(gen, handle)

	result := c.deps.Probe(probeCtx, c.deps.Clock, c.cfg.Address, c.cfg.HealthCheckPath, c.cfg.StartTimeout, c.cfg.HealthBackoff)
	c.onProbeResult(gen, result)
}

func (c *Controller) watchExit(gen uint64, handle runner.Handle) {
	<-handle.Exited()
	c.onProcessExited(gen)
}

func (c *Controller) onProbeResult(gen uint64, result health.Result) {
	c.lock()
	defer c.unlock()
	if c.run == nil || c.run.gen != gen || c.state != Starting {
		return
	}

	switch result {
	case health.Ok:
		c.state = Running
		resolveWaitersLocked(c, c.cfg.Address, nil)
		c.maybeArmIdleTimerLocked()
	case health.Timeout:
		resolveWaitersLocked(c, "", errStartFailed)
		c.finalizeAndFailLocked(journal.OutcomeStartFailed)
	case health.Cancelled:
		// Cancellation only happens because the process already exited or
		// shutdown preempted us; those paths finalize the run themselves.
	}
}

func (c *Controller) finishFailedStart(gen uint64, runID string, now time.Time) {
	c.lock()
	defer c.unlock()
	if c.run == nil || c.run.gen != gen {
		return
	}
	c.run.runID = runID
	resolveWaitersLocked(c, "", errStartFailed)
	c.finalizeAndFailLocked(journal.OutcomeStartFailed)
}

// onProcessExited handles an unsolicited exit: early during Starting, or
// unexpectedly during Running. An exit during Stopping is expected and
// handled synchronously by the goroutine that called Stop.
func (c *Controller) onProcessExited(gen uint64) {
	c.lock()
	defer c.unlock()
	if c.run == nil || c.run.gen != gen {
		return
	}

	switch c.state {
	case Starting:
		if c.run.cancelProbe != nil {
			c.run.cancelProbe()
		}
		resolveWaitersLocked(c, "", errStartFailed)
		c.finalizeAndFailLocked(journal.OutcomeStartFailed)
	case Running:
		c.finalizeAndFailLocked(journal.OutcomeCrashed)
	default:
		// Stopping: handled by the Stop() caller. Idle/Failed: stale.
	}
}

// finalizeAndFailLocked transitions to Failed, finalizes the run, and
// schedules the return to Idle after the cooldown.
func (c *Controller) finalizeAndFailLocked(outcome journal.Outcome) {
	c.state = Failed
	rs := c.run
	if rs != nil && c.deps.Journal != nil {
		go func(runID string) {
			if runID == "" {
				return
			}
			_ = c.deps.Journal.EndRun(context.Background(), runID, c.deps.Clock.Now().UnixMilli(), outcome)
		}(rs.runID)
	}

	gen := c.nextGen
	c.deps.Clock.AfterFunc(cooldown, func() {
		c.onCooldownElapsed(gen)
	})
}

func (c *Controller) onCooldownElapsed(gen uint64) {
	c.lock()
	if c.state != Failed || c.nextGen != gen {
		c.unlock()
		return
	}
	c.run = nil
	c.state = Idle
	if c.shuttingDown {
		c.unlock()
		c.notifyQuiescentIfDone()
		return
	}
	if len(c.waiters) > 0 {
		c.beginStartLocked(c.deps.Clock.Now())
	}
	c.unlock()
}

// beginStopLocked moves Running -> Stopping: cancels the idle timer,
// requests the backend stop, and schedules the Idle (or restart)
// transition once it has.
func (c *Controller) beginStopLocked(outcome journal.Outcome) {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.state = Stopping
	rs := c.run
	if rs == nil || rs.handle == nil {
		return
	}
	gen := rs.gen
	go c.stopRun(gen, rs.handle, rs.runID, outcome)
}

func (c *Controller) stopRun(gen uint64, handle runner.Handle, runID string, outcome journal.Outcome) {
	failure := handle.Stop(context.Background(), c.cfg.StopTimeout)
	if failure != runner.FailureNone {
		c.log.Warn().Str("failure", string(failure)).Msg("stop did not complete cleanly")
	}
	c.onStopped(gen, runID, outcome)
}

func (c *Controller) onStopped(gen uint64, runID string, outcome journal.Outcome) {
	c.lock()
	if c.run == nil || c.run.gen != gen {
		c.unlock()
		return
	}
	if c.deps.Journal != nil && runID != "" {
		go func() {
			_ = c.deps.Journal.EndRun(context.Background(), runID, c.deps.Clock.Now().UnixMilli(), outcome)
		}()
	}
	c.run = nil
	c.state = Idle

	if c.shuttingDown {
		c.unlock()
		c.notifyQuiescentIfDone()
		return
	}

	restart := len(c.waiters) > 0
	if restart {
		c.beginStartLocked(c.deps.Clock.Now())
	}
	c.unlock()
}
