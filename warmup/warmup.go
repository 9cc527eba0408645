// Package warmup implements the warm-up fan-out (C7): on every acquire for
// a host, a non-waiting acquire is sent to each of its declared relatives,
// bounded by a decrementing TTL so cycles in the warm-up graph cannot
// amplify indefinitely.
package warmup

import (
	"time"

	"github.com/frectonz/penny/pennyclock"
)

// Warmable is the subset of *lifecycle.Controller the fan-out needs. Kept
// as an interface so tests can substitute a recorder instead of a full
// controller.
type Warmable interface {
	AcquireWarm(now time.Time)
}

// Lookup resolves a hostname to its controller, mirroring registry.Get.
type Lookup func(host string) (Warmable, bool)

// Graph is the immutable, read-only warm-up adjacency list built once at
// startup from every app's also_warm set. Cycles are permitted.
type Graph map[string][]string

// DefaultTTL is the starting TTL used by Fire: the host's direct relatives
// are warmed and propagation stops there, so a warmed app does not warm its
// own relatives.
const DefaultTTL = 1

// Fanout dispatches warm-up signals asynchronously.
type Fanout struct {
	edges  Graph
	lookup Lookup
	clock  pennyclock.Clock
}

// New builds a Fanout over edges, resolving hosts through lookup.
func New(edges Graph, lookup Lookup, clock pennyclock.Clock) *Fanout {
	if clock == nil {
		clock = pennyclock.Real
	}
	return &Fanout{edges: edges, lookup: lookup, clock: clock}
}

// Fire enqueues warm-up signals for host's relatives, starting at
// DefaultTTL. It never blocks the caller: each signal is dispatched on its
// own goroutine. A controller calls this once per real acquire; it is the
// TTL decrementing through the recursive fire below, not a second call from
// the warmed relative's own acquire, that keeps cycles from amplifying.
func (f *Fanout) Fire(host string) {
	f.fire(host, DefaultTTL)
}

func (f *Fanout) fire(host string, ttl int) {
	if ttl <= 0 {
		return
	}
	for _, relative := range f.edges[host] {
		w, ok := f.lookup(relative)
		if !ok {
			continue
		}
		go w.AcquireWarm(f.clock.Now())
		f.fire(relative, ttl-1)
	}
}
