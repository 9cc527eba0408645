// Package rate implements the traffic-rate estimator used to drive an app's
// adaptive idle timeout: a lock-free ring of per-minute request counters and
// the smoothstep interpolation that turns an observed rate into a wait
// duration.
package rate

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	ringSlots   = 30 // covers the long horizon; the short horizon reads a 5-slot suffix of the same ring
	shortWindow = 5 * time.Minute
	longWindow  = 30 * time.Minute
)

// bucket packs a unix-minute stamp (low 32 bits) and a count (high 32 bits)
// into a single word so Record can update it with one CAS loop, the same
// trick a fixed-window rate limiter uses to avoid a lock per request.
type bucket struct {
	v atomic.Uint64
}

func pack(minute uint32, count uint32) uint64 {
	return uint64(count)<<32 | uint64(minute)
}
func unpack(v uint64) (minute uint32, count uint32) {
	return uint32(v), uint32(v >> 32)
}

func (b *bucket) add(minute uint32, n uint32) {
	for {
		old := b.v.Load()
		oldMinute, oldCount := unpack(old)
		var count uint32
		if oldMinute == minute {
			count = oldCount + n
		} else {
			count = n
		}
		if b.v.CompareAndSwap(old, pack(minute, count)) {
			return
		}
	}
}

func (b *bucket) read(minute uint32) uint32 {
	m, count := unpack(b.v.Load())
	if m != minute {
		return 0
	}
	return count
}

// Estimator tracks request arrivals over the 5-minute and 30-minute
// horizons described in §4.4: ring-shaped counters granular to one-minute
// buckets, with lazy eviction -- a bucket is only ever overwritten the next
// time its slot comes back around, and reads simply ignore stale stamps.
type Estimator struct {
	buckets [ringSlots]bucket
}

func minuteOf(t time.Time) uint32 {
	return uint32(t.Unix() / 60)
}

// Record registers one event at time now.
func (e *Estimator) Record(now time.Time) {
	m := minuteOf(now)
	e.buckets[m%ringSlots].add(m, 1)
}

func (e *Estimator) sum(now time.Time, horizon time.Duration) uint64 {
	m := minuteOf(now)
	minutes := uint32(horizon / time.Minute)
	var total uint64
	for d := uint32(0); d < minutes; d++ {
		target := m - d
		total += uint64(e.buckets[target%ringSlots].read(target))
	}
	return total
}

// RatePerHour returns the short-window (5m) and long-window (30m) rates,
// each extrapolated to requests/hour: rate_per_hour = count * (3600 /
// horizon_secs). Buckets older than their horizon are excluded by the stamp
// check in sum, not by active eviction.
func (e *Estimator) RatePerHour(now time.Time) (short, long float64) {
	c5 := e.sum(now, shortWindow)
	c30 := e.sum(now, longWindow)
	short = float64(c5) * (3600 / shortWindow.Seconds())
	long = float64(c30) * (3600 / longWindow.Seconds())
	return
}

// AdaptiveWait maps an observed rate r to a wait duration in [minWait,
// maxWait] via the smoothstep polynomial 3x^2 - 2x^3, which is monotone and
// has zero derivative at both endpoints: t(lowRate) = minWait, t(highRate)
// = maxWait. The caller is expected to enforce lowRate < highRate (a config
// invariant), but a degenerate call still returns a sane clamp.
func AdaptiveWait(r, lowRate, highRate float64, minWait, maxWait time.Duration) time.Duration {
	if highRate <= lowRate {
		if r >= highRate {
			return maxWait
		}
		return minWait
	}
	x := (r - lowRate) / (highRate - lowRate)
	x = math.Max(0, math.Min(1, x))
	s := x * x * (3 - 2*x)
	return minWait + time.Duration(s*float64(maxWait-minWait))
}
