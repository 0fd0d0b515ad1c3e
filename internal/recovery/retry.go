// Package recovery retries collaborator calls that failed for transient reasons.
package recovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ducminhle1904/risk-orchestrator/internal/errors"
	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
)

// BackoffStrategy defines how the delay grows between attempts
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// Policy bounds the attempts of one operation
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Strategy    BackoffStrategy
	Multiplier  float64
	Jitter      bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Strategy:    BackoffExponential,
		Multiplier:  2,
		Jitter:      true,
	}
}

// NoRetry runs the operation once
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// Delay returns the wait before retry number attempt (0-based)
func (p Policy) Delay(attempt int) time.Duration {
	var delay time.Duration
	switch p.Strategy {
	case BackoffExponential:
		multiplier := 1.0
		for i := 0; i < attempt; i++ {
			multiplier *= p.Multiplier
		}
		delay = time.Duration(float64(p.BaseDelay) * multiplier)
	case BackoffLinear:
		delay = p.BaseDelay * time.Duration(attempt+1)
	default:
		delay = p.BaseDelay
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		// up to 10% extra
		if spread := int64(delay) / 10; spread > 0 {
			delay += time.Duration(rand.Int63n(spread))
		}
	}
	return delay
}

// Retryable reports whether err is a transient collaborator failure.
// Validation and invariant failures never succeed on retry.
func Retryable(err error) bool {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return false
	}
	return errors.CategoryOf(err) == errors.CategoryDependency
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends
func Do(ctx context.Context, p Policy, operation string, log *logger.Logger, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if log == nil {
		log = logger.Nop()
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				log.Info("%s succeeded after %d attempts", operation, attempt+1)
			}
			return nil
		}
		lastErr = err

		if !Retryable(err) || attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Delay(attempt)
		log.LogWarning(operation, "attempt %d failed, retrying in %v: %v", attempt+1, delay, err)
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}

	if p.MaxAttempts > 1 && Retryable(lastErr) {
		return fmt.Errorf("%s failed after %d attempts: %w", operation, p.MaxAttempts, lastErr)
	}
	return lastErr
}
