package fetch

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cratedocs/proxy/internal/config"
	"github.com/cratedocs/proxy/internal/errors"
	"github.com/cratedocs/proxy/internal/logging"
)

// maxResponseBytes caps how much of an upstream body is read. docs.rs pages
// for large crates run to a few MB; anything past this is pathological.
const maxResponseBytes = 10 << 20

// Response is a successful raw upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// attemptError carries per-attempt classification through the retry loop.
type attemptError struct {
	err         error
	retryable   bool
	rateLimited bool          // the local limiter wait expired
	retryAfter  time.Duration // upstream-provided delay, 0 if none
}

func (a *attemptError) Error() string { return a.err.Error() }
func (a *attemptError) Unwrap() error { return a.err }

// Client fetches upstream URLs with retry, backoff, per-host rate limiting
// and a per-host circuit breaker.
type Client struct {
	http      *http.Client
	limiter   *HostLimiter
	cfg       config.FetchConfig
	userAgent string

	breakerCfg config.BreakerConfig
	mu         sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker[*Response]
}

// NewClient creates a fetch client from config.
func NewClient(cfg config.FetchConfig, rl config.RateLimitConfig, bk config.BreakerConfig, userAgent string) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}

	return &Client{
		http:       &http.Client{},
		limiter:    NewHostLimiter(rl),
		cfg:        cfg,
		userAgent:  userAgent,
		breakerCfg: bk,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*Response]),
	}
}

// Fetch issues a GET against rawURL and returns the raw response. Failures
// come back classified: NotFound and non-429 4xx are fatal immediately,
// network errors / 5xx / 429 are retried up to the attempt budget and then
// surface as UpstreamUnavailable (or RateLimited when the local limiter was
// the only obstacle).
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, errors.Wrap(errors.KindInvalidRequest, "invalid upstream URL", err).WithTarget(rawURL)
	}

	br := c.breaker(u.Host)
	if br == nil {
		return c.fetchWithRetries(ctx, u)
	}

	resp, err := br.Execute(func() (*Response, error) {
		return c.fetchWithRetries(ctx, u)
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Wrap(errors.KindUpstreamUnavailable,
			"circuit open for upstream host", err).WithTarget(u.Host)
	}
	return resp, err
}

func (c *Client) fetchWithRetries(ctx context.Context, u *url.URL) (*Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BaseBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.Multiplier = c.cfg.BackoffMultiplier
	bo.RandomizationFactor = c.cfg.JitterFraction
	bo.MaxElapsedTime = 0 // the attempt budget bounds the loop, not elapsed time
	bo.Reset()

	var (
		lastAttempt *attemptError
		onlyLimiter = true
	)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := bo.NextBackOff()
			if lastAttempt != nil && lastAttempt.retryAfter > 0 {
				// upstream told us when to come back; believe it
				wait = lastAttempt.retryAfter
			}
			logging.Debug("retrying upstream fetch",
				zap.String("url", u.String()),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, aerr := c.attempt(ctx, u)
		if aerr == nil {
			return resp, nil
		}
		if !aerr.retryable {
			return nil, aerr.err
		}
		if !aerr.rateLimited {
			onlyLimiter = false
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastAttempt = aerr
	}

	kind := errors.KindUpstreamUnavailable
	msg := "retries exhausted"
	if onlyLimiter {
		kind = errors.KindRateLimited
		msg = "rate limiter wait exceeded on every attempt"
	}
	return nil, errors.Wrap(kind, msg, lastAttempt.err).
		WithTarget(u.String()).
		WithAttempts(c.cfg.MaxAttempts)
}

// attempt performs one rate-limited request with its own deadline.
func (c *Client) attempt(ctx context.Context, u *url.URL) (*Response, *attemptError) {
	if err := c.limiter.Acquire(ctx, u.Host); err != nil {
		if ctx.Err() != nil {
			return nil, &attemptError{err: err, retryable: false}
		}
		// limiter wait expired: retryable timeout, counted against the budget
		return nil, &attemptError{err: err, retryable: true, rateLimited: true}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &attemptError{
			err: errors.Wrap(errors.KindInvalidRequest, "building request", err).WithTarget(u.String()),
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		// connection refused, reset, DNS failure, attempt deadline: all retryable
		return nil, &attemptError{
			err:       errors.Wrap(errors.KindUpstreamUnavailable, "request failed", err).WithTarget(u.String()),
			retryable: true,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &attemptError{
			err:       errors.Wrap(errors.KindUpstreamUnavailable, "reading response body", err).WithTarget(u.String()),
			retryable: true,
		}
	}

	return c.classify(u, resp, body)
}

// classify applies the per-status table from the retry policy.
func (c *Client) classify(u *url.URL, resp *http.Response, body []byte) (*Response, *attemptError) {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return &Response{StatusCode: code, Header: resp.Header, Body: body}, nil

	case code == http.StatusNotFound || code == http.StatusGone:
		return nil, &attemptError{
			err: errors.Newf(errors.KindNotFound, "upstream resource not found%s", upstreamDetail(body)).
				WithTarget(u.String()),
		}

	case code == http.StatusTooManyRequests:
		return nil, &attemptError{
			err: errors.Newf(errors.KindUpstreamUnavailable, "upstream throttled the request%s", upstreamDetail(body)).
				WithTarget(u.String()),
			retryable:  true,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case code >= 500:
		return nil, &attemptError{
			err: errors.Newf(errors.KindUpstreamUnavailable, "upstream returned HTTP %d%s", code, upstreamDetail(body)).
				WithTarget(u.String()),
			retryable: true,
		}

	default: // remaining 4xx: the request itself is bad, retrying won't help
		return nil, &attemptError{
			err: errors.Newf(errors.KindInvalidRequest, "upstream rejected the request with HTTP %d%s", code, upstreamDetail(body)).
				WithTarget(u.String()),
		}
	}
}

// upstreamDetail pulls the human-readable detail out of a crates.io error
// body ({"errors":[{"detail":"..."}]}), empty string when absent.
func upstreamDetail(body []byte) string {
	detail := gjson.GetBytes(body, "errors.0.detail")
	if !detail.Exists() {
		return ""
	}
	return ": " + detail.String()
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// breaker returns the circuit breaker for host, nil when disabled.
func (c *Client) breaker(host string) *gobreaker.CircuitBreaker[*Response] {
	if !c.breakerCfg.Enabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	br, ok := c.breakers[host]
	if !ok {
		threshold := c.breakerCfg.FailureThreshold
		if threshold == 0 {
			threshold = 5
		}
		recovery := c.breakerCfg.RecoveryTimeout
		if recovery <= 0 {
			recovery = 60 * time.Second
		}
		maxHalfOpen := c.breakerCfg.HalfOpenMaxRequests
		if maxHalfOpen == 0 {
			maxHalfOpen = 3
		}

		br = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
			Name:        host,
			MaxRequests: maxHalfOpen,
			Timeout:     recovery,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				// a definitive upstream answer means the host is healthy,
				// and a starved local limiter says nothing about it
				switch errors.KindOf(err) {
				case errors.KindNotFound, errors.KindInvalidRequest, errors.KindRateLimited:
					return true
				}
				return false
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn("circuit breaker state change",
					zap.String("host", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
		c.breakers[host] = br
	}
	return br
}
