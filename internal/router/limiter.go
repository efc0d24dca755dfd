package router

import (
	"context"

	"golang.org/x/sync/semaphore"

	"switchboard/internal/api"
	"switchboard/internal/config"
)

// limiter bounds in-flight requests for one provider. The queue channel
// caps how many callers may wait behind the semaphore; beyond that
// depth new requests are rejected.
type limiter struct {
	limit int64
	sem   *semaphore.Weighted
	queue chan struct{}
}

// acquire reserves a request slot for the provider. The returned
// release func must be called when the request finishes. Providers
// without a limit get a no-op slot.
func (r *Router) acquire(ctx context.Context, p *config.Provider) (func(), error) {
	if p.Limit <= 0 {
		return func() {}, nil
	}

	l := r.limiterFor(p)
	release := func() { l.sem.Release(1) }

	if l.sem.TryAcquire(1) {
		return release, nil
	}

	// The limit is saturated: wait behind it, bounded by the queue depth.
	select {
	case l.queue <- struct{}{}:
	default:
		return nil, api.NewError(api.ErrRateLimited, "provider %q is at capacity", p.Name)
	}
	defer func() { <-l.queue }()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, api.WrapError(api.ErrRateLimited, err, "waiting for provider %q slot: %v", p.Name, err)
	}
	return release, nil
}

// limiterFor returns the provider's limiter, rebuilding it when the
// configured limit changed. Requests in flight under the old limiter
// drain against it.
func (r *Router) limiterFor(p *config.Provider) *limiter {
	if v, ok := r.limiters.Load(p.Name); ok {
		l := v.(*limiter)
		if l.limit == int64(p.Limit) {
			return l
		}
	}
	depth := r.queueDepth
	if depth < 0 {
		depth = 0
	}
	l := &limiter{
		limit: int64(p.Limit),
		sem:   semaphore.NewWeighted(int64(p.Limit)),
		queue: make(chan struct{}, depth),
	}
	r.limiters.Store(p.Name, l)
	return l
}
