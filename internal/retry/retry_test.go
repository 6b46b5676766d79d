package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("429")

type fakeClock struct {
	elapsed time.Duration
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.elapsed += d
	return nil
}

func isBusy(err error) bool { return errors.Is(err, errBusy) }

func TestDo_TwoRateLimitsThenSuccess(t *testing.T) {
	clock := &fakeClock{}
	p := Default(isBusy)
	p.Sleep = clock.sleep

	attempts := 0
	got, err := Do(context.Background(), p, func(ctx context.Context) (string, error) {
		attempts++
		if attempts <= 2 {
			return "", errBusy
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, p.InitialDelay*(1+2), clock.elapsed)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	clock := &fakeClock{}
	p := Default(isBusy)
	p.Sleep = clock.sleep
	boom := errors.New("boom")

	attempts := 0
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		attempts++
		return 0, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
	assert.Zero(t, clock.elapsed)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	clock := &fakeClock{}
	p := Default(isBusy)
	p.Sleep = clock.sleep

	attempts := 0
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errBusy
	})

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 6*time.Second, clock.elapsed)
}

func TestDo_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{Attempts: 5, InitialDelay: time.Hour, Retryable: isBusy}

	attempts := 0
	_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errBusy
	})

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, attempts)
}

func TestDelaySchedule(t *testing.T) {
	p := Policy{InitialDelay: time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
}

func TestLinearSchedule(t *testing.T) {
	p := Policy{InitialDelay: time.Second, Multiplier: 3, Linear: true}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 3*time.Second, p.Delay(3))

	clock := &fakeClock{}
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 3, InitialDelay: time.Second, Linear: true, Retryable: isBusy, Sleep: clock.sleep},
		func(context.Context) (int, error) {
			calls++
			return 0, errBusy
		})
	require.ErrorIs(t, err, errBusy)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3*time.Second, clock.elapsed)
}
