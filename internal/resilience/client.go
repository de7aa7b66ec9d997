package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EndpointStats are the observability counters for one endpoint.
type EndpointStats struct {
	Calls          int64         `json:"calls"`
	Successes      int64         `json:"successes"`
	Failures       int64         `json:"failures"`
	Rejections     int64         `json:"rejections"` // short-circuited by an open breaker
	BreakerOpens   int64         `json:"breaker_opens"`
	TotalLatency   time.Duration `json:"total_latency_ns"`
	LastCallAt     time.Time     `json:"last_call_at"`
	LastFailureMsg string        `json:"last_failure,omitempty"`
}

// Client wraps outbound calls with a per-call timeout, retry with exponential
// backoff, and per-endpoint circuit breaking. It carries no business logic.
type Client struct {
	breakers *EndpointBreakers
	retry    RetryConfig

	mu    sync.Mutex
	stats map[string]*EndpointStats
}

// NewClient builds a resilience client. Breaker state is shared by every
// call through this client targeting the same endpoint id.
func NewClient(retry RetryConfig, failureThreshold int, cooldown time.Duration) *Client {
	c := &Client{
		breakers: NewEndpointBreakers(failureThreshold, cooldown),
		retry:    retry,
		stats:    make(map[string]*EndpointStats),
	}
	c.breakers.OnStateChange(func(endpoint string, from, to CircuitState) {
		if to == CircuitOpen {
			c.incrOpens(endpoint)
		}
		zap.L().Warn("circuit breaker transition",
			zap.String("endpoint", endpoint),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	})
	return c
}

// CallVal issues fn against endpoint through the breaker and retry loop.
// Each attempt runs under its own timeout and is individually admitted and
// recorded by the breaker, so an open circuit stops the retry loop at once.
func CallVal[T any](ctx context.Context, c *Client, endpoint string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	br := c.breakers.Get(endpoint)

	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(endpoint)
	}

	return DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		var zero T
		if err := br.Allow(); err != nil {
			c.recordRejection(endpoint)
			return zero, err
		}

		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		start := time.Now()
		val, err := fn(callCtx)
		br.Record(err)
		c.recordOutcome(endpoint, time.Since(start), err)
		if err != nil {
			return zero, err
		}
		return val, nil
	})
}

// Call is CallVal for error-only calls.
func (c *Client) Call(ctx context.Context, endpoint string, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := CallVal(ctx, c, endpoint, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Breaker exposes the breaker for an endpoint, mainly for tests and the
// monitoring collector.
func (c *Client) Breaker(endpoint string) *Breaker {
	return c.breakers.Get(endpoint)
}

// BreakerStates snapshots every endpoint breaker.
func (c *Client) BreakerStates() map[string]CircuitState {
	return c.breakers.States()
}

// Stats returns a copy of the per-endpoint counters.
func (c *Client) Stats() map[string]EndpointStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]EndpointStats, len(c.stats))
	for name, s := range c.stats {
		out[name] = *s
	}
	return out
}

func (c *Client) statsFor(endpoint string) *EndpointStats {
	s, ok := c.stats[endpoint]
	if !ok {
		s = &EndpointStats{}
		c.stats[endpoint] = s
	}
	return s
}

func (c *Client) recordOutcome(endpoint string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.statsFor(endpoint)
	s.Calls++
	s.TotalLatency += latency
	s.LastCallAt = time.Now().UTC()
	if err != nil {
		s.Failures++
		s.LastFailureMsg = err.Error()
	} else {
		s.Successes++
	}
}

func (c *Client) recordRejection(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statsFor(endpoint).Rejections++
}

func (c *Client) incrOpens(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statsFor(endpoint).BreakerOpens++
}
