package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cratedocs/proxy/internal/config"
	"github.com/cratedocs/proxy/internal/errors"
)

// HostLimiter gates outgoing requests with one token bucket per upstream
// host. Tokens refill continuously up to the burst ceiling; an empty bucket
// suspends the caller until a token arrives or the max wait passes.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	maxWait  time.Duration
}

// NewHostLimiter creates a limiter from config.
func NewHostLimiter(cfg config.RateLimitConfig) *HostLimiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		maxWait:  maxWait,
	}
}

func (h *HostLimiter) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.limiters[host]
	if !ok {
		lim = rate.NewLimiter(h.rps, h.burst)
		h.limiters[host] = lim
	}
	return lim
}

// Acquire consumes one token for host, waiting at most the configured max.
// Exceeding the max wait returns a KindRateLimited error; the caller's own
// cancellation comes back as the context error.
func (h *HostLimiter) Acquire(ctx context.Context, host string) error {
	waitCtx, cancel := context.WithTimeout(ctx, h.maxWait)
	defer cancel()

	if err := h.limiter(host).Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Newf(errors.KindRateLimited,
			"no rate limit token for %s within %s", host, h.maxWait).WithTarget(host)
	}
	return nil
}
