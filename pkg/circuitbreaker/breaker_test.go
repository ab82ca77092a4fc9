package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return New("test", Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      time.Second,
		now:              clock.now,
	})
}

func TestCircuitBreaker(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	ok := func() error { return nil }
	fail := func() error { return boom }

	t.Run("opens after consecutive failures", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(0, 0)}
		cb := newTestBreaker(clock)

		assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
		assert.Equal(t, StateClosed, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
		assert.Equal(t, StateOpen, cb.State())

		called := false
		err := cb.Execute(ctx, func() error { called = true; return nil })
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.False(t, called)
	})

	t.Run("half-open probe closes the circuit", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(0, 0)}
		cb := newTestBreaker(clock)
		_ = cb.Execute(ctx, fail)
		_ = cb.Execute(ctx, fail)

		clock.advance(2 * time.Second)
		assert.Equal(t, StateHalfOpen, cb.State())
		require.NoError(t, cb.Execute(ctx, ok))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("failed probe reopens", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(0, 0)}
		cb := newTestBreaker(clock)
		_ = cb.Execute(ctx, fail)
		_ = cb.Execute(ctx, fail)

		clock.advance(2 * time.Second)
		assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
		assert.Equal(t, StateOpen, cb.State())
	})

	t.Run("success resets failure count", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(0, 0)}
		cb := newTestBreaker(clock)
		_ = cb.Execute(ctx, fail)
		require.NoError(t, cb.Execute(ctx, ok))
		_ = cb.Execute(ctx, fail)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("cancellation is not a failure", func(t *testing.T) {
		clock := &fakeClock{t: time.Unix(0, 0)}
		cb := newTestBreaker(clock)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		for i := 0; i < 3; i++ {
			_ = cb.Execute(cctx, func() error { return cctx.Err() })
		}
		assert.Equal(t, StateClosed, cb.State())
	})
}
