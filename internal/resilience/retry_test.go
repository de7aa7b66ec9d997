package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		JitterFraction: 0,
	}
}

func TestDoVal_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	val, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errBoom, 503)
		}
		return "ok", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, calls)
}

func TestDoVal_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(5), func(ctx context.Context) (string, error) {
		calls++
		return "", NewClientError(errBoom, 422)
	})

	assert.Error(t, err)
	assert.True(t, IsClientError(err))
	assert.Equal(t, 1, calls, "4xx-class errors are terminal")
}

func TestDoVal_CircuitOpenNotRetried(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(5), func(ctx context.Context) (string, error) {
		calls++
		return "", ErrCircuitOpen
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	calls := 0
	var retries []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error) { retries = append(retries, attempt) }

	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errBoom, 500)
	})

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDoVal_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := DoVal(ctx, fastRetry(5), func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(errBoom, 500)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffDelay_ExponentialWithCap(t *testing.T) {
	cfg := RetryConfig{
		BackoffBase:    100 * time.Millisecond,
		BackoffMax:     time.Second,
		JitterFraction: 0,
	}

	assert.Equal(t, 100*time.Millisecond, backoffDelay(0, cfg))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(1, cfg))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(2, cfg))
	assert.Equal(t, 800*time.Millisecond, backoffDelay(3, cfg))
	assert.Equal(t, time.Second, backoffDelay(4, cfg), "capped")
	assert.Equal(t, time.Second, backoffDelay(10, cfg))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient wrapper", NewTransientError(errBoom, 503), true},
		{"client error", NewClientError(errBoom, 404), false},
		{"circuit open", ErrCircuitOpen, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", eris.Wrap(context.DeadlineExceeded, "call"), true},
		{"io timeout string", eris.New("read tcp: i/o timeout"), true},
		{"plain error", errBoom, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	assert.True(t, IsTransient(ClassifyHTTPStatus(errBoom, 429)))
	assert.True(t, IsTransient(ClassifyHTTPStatus(errBoom, 500)))
	assert.True(t, IsTransient(ClassifyHTTPStatus(errBoom, 503)))
	assert.True(t, IsClientError(ClassifyHTTPStatus(errBoom, 400)))
	assert.True(t, IsClientError(ClassifyHTTPStatus(errBoom, 404)))
	assert.Equal(t, errBoom, ClassifyHTTPStatus(errBoom, 200))
}
