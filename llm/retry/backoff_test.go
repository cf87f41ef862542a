package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryer_SuccessFirstTry(t *testing.T) {
	calls := 0
	err := NewRetryer(fastPolicy(), zap.NewNop()).Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_RetryThenSuccess(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy()
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }

	err := NewRetryer(p, zap.NewNop()).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryer_Exhausted(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := NewRetryer(fastPolicy(), nil).Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)
}

func TestRetryer_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	p := fastPolicy()
	p.Retryable = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	err := NewRetryer(p, nil).Do(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_ContextCancelled(t *testing.T) {
	p := fastPolicy()
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := NewRetryer(p, nil).Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("temporary")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryer_DelayBounds(t *testing.T) {
	r := NewRetryer(Policy{MaxRetries: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2}, nil)
	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 20*time.Millisecond, r.delay(2))
	assert.Equal(t, 40*time.Millisecond, r.delay(3))
	assert.Equal(t, 40*time.Millisecond, r.delay(6))

	r = NewRetryer(Policy{MaxRetries: 1, InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2, Jitter: true}, nil)
	for i := 0; i < 50; i++ {
		d := r.delay(3)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 50*time.Millisecond)
	}
}

func TestNewRetryer_Sanitizes(t *testing.T) {
	r := NewRetryer(Policy{MaxRetries: -1, Multiplier: 0.5}, nil)
	assert.Equal(t, 0, r.policy.MaxRetries)
	assert.Equal(t, 2.0, r.policy.Multiplier)
	assert.Equal(t, 500*time.Millisecond, r.policy.InitialDelay)
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), NewRetryer(fastPolicy(), nil), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("once")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = DoValue(context.Background(), NewRetryer(Policy{}, nil), func(context.Context) (string, error) {
		return "", errors.New("nope")
	})
	assert.EqualError(t, err, "nope")
}
