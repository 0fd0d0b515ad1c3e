package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Call when the breaker refuses the request
var ErrBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds configuration for a circuit breaker
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold" validate:"gt=0"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" validate:"gt=0"`
	SuccessThreshold uint32        `yaml:"success_threshold" validate:"gt=0"`
}

// StateChange describes one breaker transition
type StateChange struct {
	Name string
	From CircuitBreakerState
	To   CircuitBreakerState
	At   time.Time
}

// CircuitBreaker guards one external dependency.
//
// CLOSED counts consecutive failures and opens at FailureThreshold. OPEN
// refuses everything until RecoveryTimeout has passed since it opened, then
// becomes HALF_OPEN. HALF_OPEN lets exactly one probe through at a time;
// SuccessThreshold successful probes close it and any failure reopens it.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	now    func() time.Time

	mutex         sync.Mutex
	state         CircuitBreakerState
	failures      uint32
	successes     uint32
	lastFailure   time.Time
	openedAt      time.Time
	probeInFlight bool

	onStateChange func(StateChange)
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Name returns the dependency name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Config returns the breaker's thresholds
func (cb *CircuitBreaker) Config() BreakerConfig {
	return cb.config
}

// CanExecute reports whether a call to the dependency may proceed. In
// HALF_OPEN a true result reserves the single probe slot, so the caller must
// report the outcome with RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mutex.Lock()
	var change *StateChange
	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.recoveryElapsed() {
			change = cb.setState(StateHalfOpen)
			cb.probeInFlight = true
			allowed = true
		}
	case StateHalfOpen:
		if !cb.probeInFlight {
			cb.probeInFlight = true
			allowed = true
		}
	}
	cb.mutex.Unlock()

	cb.notify(change)
	return allowed
}

// RecordSuccess records a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	var change *StateChange

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probeInFlight = false
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			change = cb.setState(StateClosed)
		}
	case StateOpen:
		// late result from a call admitted before the breaker opened
	}
	cb.mutex.Unlock()

	cb.notify(change)
}

// RecordFailure records a failed call
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	var change *StateChange

	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			change = cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.probeInFlight = false
		change = cb.setState(StateOpen)
	case StateOpen:
	}
	cb.mutex.Unlock()

	cb.notify(change)
}

// Call runs fn if the breaker allows it and records the outcome
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.CanExecute() {
		return fmt.Errorf("%s: %w", cb.name, ErrBreakerOpen)
	}
	if err := fn(ctx); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// refresh promotes an OPEN breaker whose recovery timeout has elapsed to
// HALF_OPEN without consuming the probe slot
func (cb *CircuitBreaker) refresh() {
	cb.mutex.Lock()
	var change *StateChange
	if cb.state == StateOpen && cb.recoveryElapsed() {
		change = cb.setState(StateHalfOpen)
	}
	cb.mutex.Unlock()
	cb.notify(change)
}

func (cb *CircuitBreaker) recoveryElapsed() bool {
	return !cb.now().Before(cb.openedAt.Add(cb.config.RecoveryTimeout))
}

// setState must be called with the mutex held
func (cb *CircuitBreaker) setState(to CircuitBreakerState) *StateChange {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.successes = 0
	case StateHalfOpen:
		cb.successes = 0
		cb.probeInFlight = false
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
	}
	return &StateChange{Name: cb.name, From: from, To: to, At: cb.now()}
}

// notify runs the callback outside the mutex
func (cb *CircuitBreaker) notify(change *StateChange) {
	if change == nil || cb.onStateChange == nil {
		return
	}
	cb.onStateChange(*change)
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// CircuitBreakerStats holds statistics about a circuit breaker
type CircuitBreakerStats struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    uint32    `json:"failures"`
	Successes   uint32    `json:"successes"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	NextAttempt time.Time `json:"next_attempt,omitempty"`
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	stats := CircuitBreakerStats{
		Name:        cb.name,
		State:       cb.state.String(),
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
	}
	if cb.state == StateOpen {
		stats.NextAttempt = cb.openedAt.Add(cb.config.RecoveryTimeout)
	}
	return stats
}

// ForceOpen trips the breaker regardless of counters
func (cb *CircuitBreaker) ForceOpen() {
	cb.mutex.Lock()
	change := cb.setState(StateOpen)
	cb.mutex.Unlock()
	cb.notify(change)
}
