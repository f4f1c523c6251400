package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(_ context.Context) error { return errors.New("boom") }
func passing(_ context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})

	_ = b.Execute(context.Background(), failing)
	assert.Equal(t, BreakerClosed, b.State())
	_ = b.Execute(context.Background(), failing)
	assert.Equal(t, BreakerOpen, b.State())

	called := false
	err := b.Execute(context.Background(), func(_ context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	now := time.Now()
	var transitions []string
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		OnStateChange: func(from, to BreakerState) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})
	b.now = func() time.Time { return now }

	_ = b.Execute(context.Background(), failing)
	require.Equal(t, BreakerOpen, b.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, BreakerHalfOpen, b.State())

	require.NoError(t, b.Execute(context.Background(), passing))
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Second})
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), failing)
	}
	now = now.Add(2 * time.Second)
	_ = b.Execute(context.Background(), failing)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_CountsFilter(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		Counts:           func(err error) bool { return false },
	})
	_ = b.Execute(context.Background(), failing)
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestExecuteVal(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	v, err := ExecuteVal(context.Background(), b, func(_ context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
