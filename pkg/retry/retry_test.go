package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("transient"))
		}
		return nil
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond))

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(boom)
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond))

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestDo_DoesNotRetryPlainErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("plain")
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond))

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	transient := errors.New("still down")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(transient)
	}, WithMaxAttempts(3), WithInitialDelay(time.Millisecond))

	assert.Equal(t, transient, err)
	assert.Equal(t, 3, calls)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func(ctx context.Context) error {
		calls++
		return Retryable(errors.New("transient"))
	})

	assert.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestDo_CustomRetryIf(t *testing.T) {
	sentinel := errors.New("special")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return sentinel
		}
		return nil
	},
		WithMaxAttempts(3),
		WithInitialDelay(time.Millisecond),
		WithRetryIf(func(err error) bool { return errors.Is(err, sentinel) }),
	)

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoWithData(t *testing.T) {
	calls := 0
	got, err := DoWithData(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errors.New("transient"))
		}
		return 42, nil
	}, WithInitialDelay(time.Millisecond))

	assert.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestCalculateDelay_CappedAtMax(t *testing.T) {
	r := New(
		WithInitialDelay(time.Second),
		WithMaxDelay(2*time.Second),
		WithMultiplier(10),
		WithJitter(0),
	)

	assert.Equal(t, time.Second, r.calculateDelay(1))
	assert.Equal(t, 2*time.Second, r.calculateDelay(2))
	assert.Equal(t, 2*time.Second, r.calculateDelay(5))
}
