package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerConfig{Failures: 2, Cooldown: time.Minute, Probes: 1})
	boom := errors.New("boom")
	fail := func(context.Context) (string, error) { return "", boom }

	_, err := cb.Complete(context.Background(), fail)
	assert.ErrorIs(t, err, boom)
	_, err = cb.Complete(context.Background(), fail)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "open", cb.State())

	called := false
	_, err = cb.Complete(context.Background(), func(context.Context) (string, error) {
		called = true
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_ClosesAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerConfig{Failures: 1, Cooldown: 20 * time.Millisecond, Probes: 1})

	_, err := cb.Complete(context.Background(), func(context.Context) (string, error) { return "", errors.New("down") })
	require.Error(t, err)
	require.Equal(t, "open", cb.State())

	time.Sleep(40 * time.Millisecond)
	text, err := cb.Complete(context.Background(), func(context.Context) (string, error) { return "back", nil })
	require.NoError(t, err)
	assert.Equal(t, "back", text)
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerConfig{Failures: 1, Cooldown: time.Minute, Probes: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cb.Complete(ctx, func(context.Context) (string, error) { return "ok", nil })
	assert.ErrorIs(t, err, context.Canceled)

	_, err = cb.Complete(context.Background(), func(context.Context) (string, error) { return "", context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "closed", cb.State())
	assert.Zero(t, cb.ConsecutiveFailures())
}
