package lifecycle

import "time"

// Release must be called exactly once per successful Acquire that returned
// Ready, or per resolution of a Future returned by Acquire. It tolerates
// extra calls made after the controller has independently shut down.
func (c *Controller) Release(now time.Time) {
	c.lock()
	defer c.unlock()

	if c.n > 0 {
		c.n--
	}
	c.lastActivity = now
	c.maybeArmIdleTimerLocked()
}

// disarmIdleTimerLocked cancels any pending idle timer. Called on every
// acquire per §4.1: "n > 0 => no active idle_timer".
func (c *Controller) disarmIdleTimerLocked() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.idleGen++
}

// maybeArmIdleTimerLocked arms a fresh idle timer iff the app is Running
// and no in-flight requests remain. Called both from Release and right
// after the Starting->Running transition, since a warm-up acquire's
// immediate release can race either order.
func (c *Controller) maybeArmIdleTimerLocked() {
	if c.state != Running || c.n != 0 {
		return
	}
	if c.idleTimer != nil {
		return
	}
	wait := c.computeWaitLocked(c.lastActivity)
	gen := c.idleGen
	c.idleTimer = c.deps.Clock.AfterFunc(wait, func() {
		c.onIdleTimerFired(gen)
	})
}

// computeWaitLocked implements §4.4's fixed-or-adaptive idle duration.
func (c *Controller) computeWaitLocked(now time.Time) time.Duration {
	if !c.cfg.AdaptiveWait {
		return c.cfg.WaitPeriod
	}
	short, long := c.rateEst.RatePerHour(now)
	r := short
	if long > r {
		r = long
	}
	return adaptiveWait(r, c.cfg.LowRate, c.cfg.HighRate, c.cfg.MinWait, c.cfg.MaxWait)
}

func (c *Controller) onIdleTimerFired(gen uint64) {
	c.lock()
	defer c.unlock()
	if gen != c.idleGen || c.state != Running || c.n != 0 {
		return // stale fire, or activity arrived since it was armed
	}
	c.idleTimer = nil
	c.beginStopLocked(stoppedOutcomeForShutdown(c.shuttingDown))
}
