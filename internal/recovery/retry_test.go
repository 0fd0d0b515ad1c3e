package recovery

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/risk-orchestrator/internal/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Strategy: BackoffFixed}
}

func TestDoRetriesDependencyErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), "fetch", nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return stderrors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnValidationError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "submit", nil, func(context.Context) error {
		calls++
		return errors.NewValidationError("bybit", "submit", "qty below minimum")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	cause := stderrors.New("timeout")
	err := Do(context.Background(), fastPolicy(2), "fetch", nil, func(context.Context) error {
		calls++
		return cause
	})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, Strategy: BackoffFixed}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, "fetch", nil, func(context.Context) error {
			calls++
			return stderrors.New("unavailable")
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.EqualError(t, err, "unavailable")
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
	assert.Equal(t, 1, calls)
}

func TestPolicyDelay(t *testing.T) {
	exp := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Strategy: BackoffExponential, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, exp.Delay(0))
	assert.Equal(t, 400*time.Millisecond, exp.Delay(2))
	assert.Equal(t, time.Second, exp.Delay(10))

	lin := Policy{BaseDelay: 100 * time.Millisecond, Strategy: BackoffLinear}
	assert.Equal(t, 300*time.Millisecond, lin.Delay(2))

	jit := Policy{BaseDelay: 100 * time.Millisecond, Strategy: BackoffFixed, Jitter: true}
	for i := 0; i < 20; i++ {
		d := jit.Delay(i)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 110*time.Millisecond)
	}
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(stderrors.New("503 service unavailable")))
	assert.False(t, Retryable(errors.NewValidationError("x", "y", "bad")))
}
