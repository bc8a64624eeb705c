package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	base := errors.New("boom")

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(NewTransient(base, 429)))
	assert.True(t, IsTransient(errors.New("read tcp: i/o timeout")))
	assert.True(t, IsTransient(errors.New("connection reset by peer")))

	// Permanent wins even when the message looks networky.
	assert.False(t, IsTransient(NewPermanent(errors.New("i/o timeout"))))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransient(errors.New("try again"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultRetryConfig(), func(ctx context.Context) error {
		calls++
		return NewPermanent(errors.New("invalid api key"))
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransient(errors.New("still down"), 500)
	})
	assert.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestDoValReturnsValue(t *testing.T) {
	v, err := DoVal(context.Background(), DefaultRetryConfig(), func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestDoRespectsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- Do(ctx, RetryConfig{MaxAttempts: 10, InitialBackoff: time.Hour}, func(ctx context.Context) error {
			calls++
			return NewTransient(errors.New("slow"), 503)
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.Error(t, <-errCh)
	assert.Equal(t, 1, calls)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Now()
	b := NewBreaker(CircuitConfig{FailureThreshold: 2, ResetTimeout: time.Minute}).
		WithNow(func() time.Time { return now })

	fail := func(ctx context.Context) error { return NewTransient(errors.New("down"), 503) }

	require.Error(t, b.Execute(context.Background(), fail))
	assert.Equal(t, CircuitClosed, b.State())

	require.Error(t, b.Execute(context.Background(), fail))
	assert.Equal(t, CircuitOpen, b.State())

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(CircuitConfig{FailureThreshold: 1, ResetTimeout: time.Minute}).
		WithNow(func() time.Time { return now })

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return NewTransient(errors.New("down"), 500)
	}))
	assert.Equal(t, CircuitOpen, b.State())

	// After the reset timeout a probe is allowed; success closes the circuit.
	now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, b.State())
	require.NoError(t, b.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreakerIgnoresPermanentErrors(t *testing.T) {
	b := NewBreaker(CircuitConfig{FailureThreshold: 1})
	for i := 0; i < 5; i++ {
		require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
			return NewPermanent(errors.New("bad key"))
		}))
	}
	assert.Equal(t, CircuitClosed, b.State())
}
