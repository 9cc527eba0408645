// Package proxy implements the proxy front-end (C9): it terminates
// HTTP(S), routes by Host to the right lifecycle controller, and forwards
// bytes to the backend once the controller reports it is ready.
package proxy

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/frectonz/penny/lb"
	"github.com/frectonz/penny/lifecycle"
	"github.com/frectonz/penny/registry"
	"github.com/frectonz/penny/retry"
	"github.com/frectonz/penny/xlog"
)

// defaultAcquireDeadline bounds how long a request waits on a Waiting
// future before the front-end gives up and returns 504, per §4.8.
const defaultAcquireDeadline = 60 * time.Second

// hostRoute pairs a controller with the load balancer that forwards to its
// one configured backend address.
type hostRoute struct {
	ctrl *lifecycle.Controller
	lb   *lb.LoadBalancer
}

// Server is the HTTP(S) front-end. It holds no state of its own beyond the
// routing table; all app state lives in the controllers it looks up.
type Server struct {
	registry        *registry.Registry
	routes          map[string]*hostRoute
	acquireDeadline time.Duration
	log             *xlog.Logger
}

// New builds a front-end over reg. routes maps each configured hostname to
// its backend address; a load balancer is created per host up front.
func New(reg *registry.Registry, routes map[string]string) *Server {
	s := &Server{
		registry:        reg,
		routes:          make(map[string]*hostRoute, len(routes)),
		acquireDeadline: defaultAcquireDeadline,
		log:             xlog.NewDomain("proxy"),
	}
	for host, addr := range routes {
		ctrl, ok := reg.Get(host)
		if !ok {
			continue
		}
		balancer := &lb.LoadBalancer{Options: lb.Options{Retry: retry.Basic(), State: lb.StateNone}}
		balancer.AddUpstream(lb.NewHttpUpstream(addr))
		balancer.SetLogger(s.log)
		s.routes[normalizeHost(host)] = &hostRoute{ctrl: ctrl, lb: balancer}
	}
	return s
}

func normalizeHost(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return strings.ToLower(host)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := normalizeHost(r.Host)
	route, ok := s.routes[host]
	if !ok {
		http.NotFound(w, r)
		return
	}

	now := time.Now()
	result := route.ctrl.Acquire(now, isBrowserNavigation(r))

	switch result.Kind {
	case lifecycle.AcqReady:
		route.lb.ServeHTTP(w, r)
		route.ctrl.Release(time.Now())

	case lifecycle.AcqWaiting:
		s.serveWaiting(route, result.Future, w, r)

	case lifecycle.AcqColdStart:
		writeColdStartPage(w, result.Page)

	case lifecycle.AcqError:
		w.Header().Set("Retry-After", "2")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}
}

// serveWaiting blocks on the future up to the acquire deadline, then either
// forwards (releasing exactly once afterward), or reports 504/503.
func (s *Server) serveWaiting(route *hostRoute, future *lifecycle.Future, w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.acquireDeadline)
	defer cancel()

	_, err := future.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, "backend did not become ready in time", http.StatusGatewayTimeout)
			return
		}
		w.Header().Set("Retry-After", "2")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	route.lb.ServeHTTP(w, r)
	route.ctrl.Release(time.Now())
}

func writeColdStartPage(w http.ResponseWriter, page []byte) {
	w.Header().Set("Retry-After", "2")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write(page)
}
