// Package pennyclock supplies the injectable time source used by the
// lifecycle controller and its collaborators (C1). Production wiring uses
// the real clock; tests substitute k8s.io/utils/clock/testing.FakeClock so
// idle timers, backoff, and rate-window arithmetic can be driven
// deterministically instead of by wall-clock sleeps.
package pennyclock

import (
	"time"

	"k8s.io/utils/clock"
)

// Clock is k8s.io/utils/clock.WithTickerAndDelayedExecution: clock.Clock
// extended with tickers and AfterFunc. Re-exporting it as an alias keeps the
// dependency visible at every
// call site without forcing every package to import k8s.io/utils/clock
// directly.
type Clock = clock.WithTickerAndDelayedExecution

// Real is the production clock, backed by the operating system.
var Real Clock = clock.RealClock{}

// Timer mirrors clock.Timer; returned by AfterFunc and NewTimer so callers can
// stop a pending idle timer without leaking a goroutine.
type Timer = clock.Timer

// AfterFunc schedules f to run on its own goroutine once d has elapsed on
// c's notion of time. The returned Timer's Stop method cancels it, mirroring
// time.AfterFunc but honoring an injected clock.
func AfterFunc(c Clock, d time.Duration, f func()) Timer {
	return c.AfterFunc(d, f)
}
