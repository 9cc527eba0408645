package lifecycle

import (
	"time"
)

// Acquire signals that a request for this app has arrived. now drives the
// rate estimator and idle-timer cancellation; prefersHTML selects the
// cold-start page when one is configured and the app is still starting.
func (c *Controller) Acquire(now time.Time, prefersHTML bool) AcquireResult {
	result := c.acquireLocked(now, prefersHTML)
	c.deps.WarmUp(c.cfg.Host)
	return result
}

func (c *Controller) acquireLocked(now time.Time, prefersHTML bool) AcquireResult {
	c.lock()
	defer c.unlock()

	c.n++
	c.rateEst.Record(now)
	c.disarmIdleTimerLocked()

	if c.shuttingDown {
		c.n--
		return AcquireResult{Kind: AcqError, Err: errShuttingDown}
	}

	switch c.state {
	case Idle:
		w := c.parkWaiterLocked()
		c.beginStartLocked(now)
		return AcquireResult{Kind: AcqWaiting, Future: &Future{c: c, w: w}}

	case Starting:
		if prefersHTML && c.cfg.ColdStartPage != nil {
			c.n--
			return AcquireResult{Kind: AcqColdStart, Page: c.cfg.ColdStartPage}
		}
		w := c.parkWaiterLocked()
		return AcquireResult{Kind: AcqWaiting, Future: &Future{c: c, w: w}}

	case Running:
		return AcquireResult{Kind: AcqReady, Addr: c.cfg.Address}

	case Stopping:
		w := c.parkWaiterLocked()
		return AcquireResult{Kind: AcqWaiting, Future: &Future{c: c, w: w}}

	case Failed:
		// A cooldown is already scheduled; park the waiter so it is picked
		// up by the Idle->Starting restart onCooldownElapsed performs when
		// waiters are pending, instead of bouncing the caller immediately.
		w := c.parkWaiterLocked()
		return AcquireResult{Kind: AcqWaiting, Future: &Future{c: c, w: w}}

	default:
		c.n--
		return AcquireResult{Kind: AcqError, Err: errStartFailed}
	}
}

// AcquireWarm is the non-waiting acquire C7 fires on an app's also_warm
// relatives. It only nudges Idle apps into Starting; it never parks a
// waiter and never blocks, and immediately releases its own in-flight
// ticket so the warmed app gets its own fresh idle timer.
func (c *Controller) AcquireWarm(now time.Time) {
	c.lock()
	if c.shuttingDown {
		c.unlock()
		return
	}
	c.n++
	c.rateEst.Record(now)
	c.disarmIdleTimerLocked()
	if c.state == Idle {
		c.beginStartLocked(now)
	}
	c.unlock()
	c.Release(now)
}

func (c *Controller) parkWaiterLocked() *waiter {
	w := &waiter{ch: make(chan waiterResult, 1)}
	c.waiters = append(c.waiters, w)
	return w
}

// cancelWaiter detaches w from the parked list (if still there) and
// decrements n, matching the contract that dropping a Waiting future
// decrements n without disturbing the in-progress start.
func (c *Controller) cancelWaiter(w *waiter) {
	c.lock()
	defer c.unlock()
	for i, p := range c.waiters {
		if p == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	if c.n > 0 {
		c.n--
	}
	c.maybeArmIdleTimerLocked()
}

// resolveWaitersLocked delivers addr/err to every parked waiter. A waiter
// resolved with an error was never released by the caller (the front-end
// does not call Release on a failed acquire), so its n must be dropped
// here or it stays inflated forever and the idle timer can never arm again.
func resolveWaitersLocked(c *Controller, addr string, err error) {
	for _, w := range c.waiters {
		w.ch <- waiterResult{addr: addr, err: err}
		if err != nil && c.n > 0 {
			c.n--
		}
	}
	c.waiters = nil
	if err != nil {
		c.maybeArmIdleTimerLocked()
	}
}
