package lb

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/frectonz/penny/retry"
	"github.com/frectonz/penny/xlog"
)

type requestContext struct {
	Request      *http.Request
	LoadBalancer *LoadBalancer
	Upstream     *Upstream
	Retrier      retry.Retrier
}

type requestContextKey struct{}

type LoadBalancer struct {
	Options
	logger    *xlog.Logger
	upstreams []*Upstream
	mu        sync.RWMutex
	counter   atomic.Uint32
}

type LoadBalancerMetrics struct {
	Upstreams []UpstreamMetrics `json:"upstreams,omitempty"`
}

func (lb *LoadBalancer) Healthy() bool {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	for _, u := range lb.upstreams {
		if u.Healthy.Load() {
			return true
		}
	}
	return false
}

func (lb *LoadBalancer) Metrics() LoadBalancerMetrics {
	us := lb.Upstreams()
	upstreams := make([]UpstreamMetrics, len(us))
	for i, u := range us {
		upstreams[i] = u.Metrics()
	}
	return LoadBalancerMetrics{
		Upstreams: upstreams,
	}
}

func (lb *LoadBalancer) getLogger() *xlog.Logger {
	if lb.logger == nil {
		return xlog.Default()
	}
	return lb.logger
}
func (lb *LoadBalancer) SetLogger(logger *xlog.Logger) {
	lb.logger = logger
}
func (lb *LoadBalancer) Upstreams() (us []*Upstream) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	us = make([]*Upstream, len(lb.upstreams))
	copy(us, lb.upstreams)
	return
}
func (lb *LoadBalancer) ClearUpstreams() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.upstreams = nil
}
func (lb *LoadBalancer) AddUpstream(u *Upstream) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.upstreams = append(lb.upstreams, u)
}
func (lb *LoadBalancer) RemoveUpstream(u *Upstream) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	filtered := lb.upstreams[:0]
	for _, existing := range lb.upstreams {
		if existing != u {
			filtered = append(filtered, existing)
		}
	}
	lb.upstreams = filtered
}

var ErrNoHealthyUpstreams = errors.New("no healthy upstreams")

func (lb *LoadBalancer) getHealthyIdxLocked(n uint32, bad *Upstream) (res *Upstream) {
	for _, u := range lb.upstreams {
		if !u.Healthy.Load() {
			continue
		}
		// If we're at the bad index, ignore
		if u == bad {
			continue
		}
		// If we're at the index, return
		res = u
		if n == 0 {
			break
		}
		// Decrement the index
		n--
	}
	if res == nil {
		res = bad
	}
	return
}

// NextUpstream picks a candidate upstream per the configured Strategy. Penny
// registers exactly one upstream per app (replica pools are a Non-goal), so
// in practice this degenerates to the len==1 fast path below; the
// multi-upstream branches are kept for config/strategy fidelity; penny's
// wiring never reaches them.
func (lb *LoadBalancer) NextUpstream(ctx *requestContext) (result *Upstream, err error) {
	// If there is a bad upstream, we won't use least-conn
	strat := lb.Strategy
	bad := ctx.Upstream
	if bad != nil {
		strat = StrategyRandom
	}

	// Generate the "entropy"
	var entropy uint32
	switch strat {
	case StrategyHash, StrategyRoundRobin:
		entropy = lb.counter.Add(1)
	case StrategyRandom:
		entropy = rand.Uint32()
	}

	lb.mu.RLock()
	defer lb.mu.RUnlock()

	// Handle fixed cases.
	count := uint32(len(lb.upstreams))
	if count == 0 {
		return nil, nil
	} else if count == 1 {
		return lb.upstreams[0], nil
	}

	// If least-conn:
	if strat == StrategyLeastConn {
		result = lb.upstreams[0]
		best := result.LoadFactor.Load()
		if !result.Healthy.Load() {
			best = 0x7fffffff
		}
		for _, upstream := range lb.upstreams[1:] {
			if !upstream.Healthy.Load() {
				continue
			}
			conns := upstream.LoadFactor.Load()
			if conns < best {
				result, best = upstream, conns
			}
		}
		return
	}

	// Count the healthy upstreams, prefetch the first one.
	healthyN := uint32(0)
	var first *Upstream
	for _, upstream := range lb.upstreams {
		if upstream.Healthy.Load() {
			if healthyN == 0 {
				first = upstream
			}
			healthyN++
		}
	}

	// If there's just one healthy upstream, use it.
	if healthyN <= 1 {
		return first, nil
	}

	// Pick the entry given the entropy.
	result = lb.getHealthyIdxLocked(entropy%healthyN, bad)
	return
}

// PickUpstream selects an upstream for the request. StateSticky is accepted
// for config compatibility but behaves like StateNone: sticky affinity needs
// a per-client session store, and Penny has no reason to keep one when every
// app has exactly one upstream.
func (lb *LoadBalancer) PickUpstream(ctx *requestContext) (result *Upstream, err error) {
	defer func() {
		if err == nil && result == nil {
			err = ErrNoHealthyUpstreams
		}
	}()
	return lb.NextUpstream(ctx)
}

type lbRetryHandler struct {
	*requestContext
}

func (h lbRetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.LoadBalancer.serveHTTP(h.requestContext, w, r)
}

func (lb *LoadBalancer) OnErrorResponse(ctx *requestContext, r *http.Response) http.Handler {
	// Determine traits.
	retriable := false
	var opt *ErrorOptions
	switch {
	// 5xx
	case 500 <= r.StatusCode && r.StatusCode <= 599:
		opt = lb.Error5xx
		retriable = ctx.Request.Method == http.MethodGet
	// 4xx
	case r.StatusCode == 404:
		opt = lb.Error404
	case 400 <= r.StatusCode && r.StatusCode <= 499:
		opt = lb.Error4xx
	}

	if opt != nil && opt.Handle != nil {
		return opt.Handle
	}

	// If bad request, we will never retry and it's not worth logging since it's the client's fault.
	if 400 <= r.StatusCode && r.StatusCode <= 499 {
		return nil
	}

	// If retriable:
	if retriable {
		if retryError := ctx.Retrier.ConsumeAny(); retryError == nil {
			lb.getLogger().Warn().Str("status", r.Status).Str("upstream", ctx.Upstream.Address).Msg("retriable server error")
			return lbRetryHandler{ctx}
		} else {
			lb.getLogger().Error().Str("status", r.Status).Err(retryError).Str("upstream", ctx.Upstream.Address).Msg("fatal server error")
		}
	}
	return nil
}

// StatusUpstreamError is reported to the client when forwarding to the app's
// backend fails and no retry succeeds.
const StatusUpstreamError = 527

func (lb *LoadBalancer) OnError(ctx *requestContext, w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		return
	}
	// If we can retry:
	if retryError := ctx.Retrier.Consume(err); retryError == nil {
		lb.getLogger().Warn().Err(err).Str("upstream", ctx.Upstream.Address).Msg("retriable upstream error")
		lb.serveHTTP(ctx, w, ctx.Request)
		return
	} else {
		lb.getLogger().Error().Err(err).Str("upstream", ctx.Upstream.Address).Msg("fatal upstream error")
	}
	http.Error(w, "upstream error", StatusUpstreamError)
}

func (lb *LoadBalancer) serveHTTP(ctx *requestContext, w http.ResponseWriter, r *http.Request) {
	us, err := lb.PickUpstream(ctx)
	if err != nil {
		lb.OnError(ctx, w, r, err)
	} else {
		ctx.Upstream = us
		us.ServeHTTP(w, r)
	}
}

func (lb *LoadBalancer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := &requestContext{}
	defer func() {
		ctx.Request = nil
		ctx.Upstream = nil
		ctx.LoadBalancer = nil
	}()

	cctx := context.WithValue(r.Context(), requestContextKey{}, ctx)
	r = r.WithContext(cctx)
	ctx.LoadBalancer = lb
	ctx.Retrier = lb.Retry.RetrierContext(cctx)
	ctx.Upstream = nil
	ctx.Request = r
	lb.serveHTTP(ctx, w, r)
}
