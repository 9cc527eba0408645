package lifecycle

import "github.com/frectonz/penny/journal"

// Shutdown initiates a graceful teardown: drains in-flight waiters with an
// error, stops the backend if one is running, finalizes any open run, and
// returns a channel that closes once the controller is quiescent (Idle,
// with no active run and no parked waiters).
func (c *Controller) Shutdown() <-chan struct{} {
	c.lock()
	c.shuttingDown = true
	done := make(chan struct{})

	if c.quiescentLocked() {
		c.unlock()
		close(done)
		return done
	}
	c.quiescent = append(c.quiescent, done)

	switch c.state {
	case Starting:
		if c.run != nil && c.run.cancelProbe != nil {
			c.run.cancelProbe()
		}
		resolveWaitersLocked(c, "", errShuttingDown)
		if c.run != nil && c.run.handle != nil {
			gen := c.run.gen
			handle := c.run.handle
			runID := c.run.runID
			go c.stopRun(gen, handle, runID, journal.OutcomeStoppedOnDeploy)
		} else if c.run != nil {
			// The spawn call itself hasn't returned yet, so there is no
			// handle to stop through. Clear the run now rather than leaving
			// it dangling: startRun's post-spawn check sees c.run == nil,
			// stops the process it just spawned, and returns without
			// touching controller state, so nothing else needs to finalize
			// this run for the controller to go quiescent.
			c.run = nil
			c.state = Idle
		}
	case Running:
		resolveWaitersLocked(c, "", errShuttingDown)
		c.beginStopLocked(journal.OutcomeStoppedOnDeploy)
	case Stopping:
		resolveWaitersLocked(c, "", errShuttingDown)
	case Idle, Failed:
		resolveWaitersLocked(c, "", errShuttingDown)
	}

	if c.quiescentLocked() {
		for _, ch := range c.quiescent {
			close(ch)
		}
		c.quiescent = nil
	}

	c.unlock()
	return done
}

func (c *Controller) quiescentLocked() bool {
	return c.state == Idle && c.run == nil && len(c.waiters) == 0
}

func (c *Controller) notifyQuiescentIfDone() {
	c.lock()
	defer c.unlock()
	if !c.quiescentLocked() {
		return
	}
	for _, ch := range c.quiescent {
		close(ch)
	}
	c.quiescent = nil
}
