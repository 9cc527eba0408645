// Package registry implements the app registry (C8): the hostname ->
// controller mapping built once at startup and consulted on every request.
package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/frectonz/penny/lifecycle"
)

// Registry is a read-mostly map from hostname to controller. Construction
// happens once at startup; the only mutation afterward is Shutdown tearing
// every controller down.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*lifecycle.Controller
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{controllers: make(map[string]*lifecycle.Controller)}
}

// Add registers a controller under its configured host. Intended to be
// called only during startup, before any Get or Shutdown call.
func (r *Registry) Add(c *lifecycle.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers[normalizeHost(c.Host())] = c
}

// Get looks up the controller for an incoming Host header. Matching is
// case-insensitive on the ASCII letters of the hostname component only; any
// :port suffix is ignored.
func (r *Registry) Get(host string) (*lifecycle.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[normalizeHost(host)]
	return c, ok
}

// normalizeHost strips a trailing :port and lowercases only the ASCII
// letters, leaving any other byte (non-ASCII hostname labels, IPv6
// brackets) untouched.
func normalizeHost(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		// Guard against an IPv6 literal's embedded colons: only strip a
		// port if the host has no ']' (no bracketed IPv6 address) or the
		// colon comes after the closing bracket.
		if b := strings.IndexByte(host, ']'); b < 0 || i > b {
			host = host[:i]
		}
	}
	buf := []byte(host)
	for i, b := range buf {
		if b >= 'A' && b <= 'Z' {
			buf[i] = b + ('a' - 'A')
		}
	}
	return string(buf)
}

// Shutdown invokes Shutdown on every controller in parallel and waits for
// all to quiesce or for ctx's deadline, whichever comes first.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	controllers := make([]*lifecycle.Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Add(1)
		go func(c *lifecycle.Controller) {
			defer wg.Done()
			select {
			case <-c.Shutdown():
			case <-ctx.Done():
			}
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// All returns every registered controller, for admin-API enumeration.
func (r *Registry) All() []*lifecycle.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*lifecycle.Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c)
	}
	return out
}
