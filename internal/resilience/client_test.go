package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestClient(attempts, threshold int) *Client {
	return NewClient(fastRetry(attempts), threshold, 10*time.Second)
}

func TestClientCall_Success(t *testing.T) {
	c := newTestClient(3, 5)

	val, err := CallVal(context.Background(), c, "primary", time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 42, val)

	stats := c.Stats()["primary"]
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(1), stats.Successes)
	assert.Equal(t, int64(0), stats.Failures)
}

func TestClientCall_RetriesThenSucceeds(t *testing.T) {
	c := newTestClient(3, 10)
	calls := 0

	val, err := CallVal(context.Background(), c, "primary", time.Second, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errBoom, 502)
		}
		return "done", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 2, calls)

	stats := c.Stats()["primary"]
	assert.Equal(t, int64(2), stats.Calls)
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, int64(1), stats.Successes)
}

func TestClientCall_OpenCircuitShortCircuits(t *testing.T) {
	c := NewClient(fastRetry(1), 2, time.Hour)

	for i := 0; i < 2; i++ {
		err := c.Call(context.Background(), "primary", time.Second, func(ctx context.Context) error {
			return NewTransientError(errBoom, 500)
		})
		assert.Error(t, err)
	}

	// Third call must not reach the endpoint.
	reached := false
	err := c.Call(context.Background(), "primary", time.Second, func(ctx context.Context) error {
		reached = true
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, reached, "open breaker must reject before the network call")
	assert.Equal(t, int64(1), c.Stats()["primary"].Rejections)
	assert.Equal(t, int64(1), c.Stats()["primary"].BreakerOpens)
}

func TestClientCall_PerCallTimeout(t *testing.T) {
	c := newTestClient(1, 5)

	err := c.Call(context.Background(), "primary", 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, c.Breaker("primary").Failures(), "timeout counts toward the breaker")
}

func TestClientCall_BreakerIsolatedPerEndpoint(t *testing.T) {
	c := NewClient(fastRetry(1), 1, time.Hour)

	_ = c.Call(context.Background(), "primary", time.Second, func(ctx context.Context) error {
		return NewTransientError(errBoom, 500)
	})
	assert.Equal(t, CircuitOpen, c.BreakerStates()["primary"])

	err := c.Call(context.Background(), "verifier", time.Second, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err, "verifier endpoint unaffected by primary breaker")
}
