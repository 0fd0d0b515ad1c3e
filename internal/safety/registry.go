package safety

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
	"github.com/ducminhle1904/risk-orchestrator/internal/monitoring"
	"github.com/ducminhle1904/risk-orchestrator/internal/notifications"
)

// Names of the dependencies the core guards
const (
	BreakerPriceFeed        = "price_feed"
	BreakerNewsFeed         = "news_feed"
	BreakerBrokerConnection = "broker_connection"
	BreakerModelInference   = "model_inference"
)

// DefaultBreakerConfigs returns the standard thresholds per dependency
func DefaultBreakerConfigs() map[string]BreakerConfig {
	return map[string]BreakerConfig{
		BreakerPriceFeed:        {FailureThreshold: 3, RecoveryTimeout: 300 * time.Second, SuccessThreshold: 2},
		BreakerNewsFeed:         {FailureThreshold: 5, RecoveryTimeout: 600 * time.Second, SuccessThreshold: 2},
		BreakerBrokerConnection: {FailureThreshold: 2, RecoveryTimeout: 120 * time.Second, SuccessThreshold: 3},
		BreakerModelInference:   {FailureThreshold: 3, RecoveryTimeout: 60 * time.Second, SuccessThreshold: 2},
	}
}

// Degradation runs when a breaker changes state
type Degradation func(ctx context.Context, change StateChange)

// Registry owns every circuit breaker and applies the degradation action
// bound to a breaker when it opens or closes
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker

	hookMu    sync.RWMutex
	onOpen    map[string][]Degradation
	onClose   map[string][]Degradation
	observers []func(StateChange)

	notifier notifications.Notifier
	log      *logger.Logger
	now      func() time.Time
}

// RegistryOption customizes a Registry
type RegistryOption func(*Registry)

// WithClock overrides the time source for every breaker the registry creates
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry
func NewRegistry(notifier notifications.Notifier, log *logger.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	r := &Registry{
		breakers: make(map[string]*CircuitBreaker),
		onOpen:   make(map[string][]Degradation),
		onClose:  make(map[string][]Degradation),
		notifier: notifier,
		log:      log.With("circuit_breaker"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultRegistry creates a registry with the four standard breakers,
// overriding thresholds with any entry in overrides
func NewDefaultRegistry(notifier notifications.Notifier, log *logger.Logger, overrides map[string]BreakerConfig, opts ...RegistryOption) *Registry {
	r := NewRegistry(notifier, log, opts...)
	configs := DefaultBreakerConfigs()
	for name, cfg := range overrides {
		configs[name] = cfg
	}
	for name, cfg := range configs {
		r.Register(name, cfg)
	}
	return r
}

// Register gets an existing circuit breaker or creates a new one
func (r *Registry) Register(name string, config BreakerConfig) *CircuitBreaker {
	r.mutex.RLock()
	if cb, exists := r.breakers[name]; exists {
		r.mutex.RUnlock()
		return cb
	}
	r.mutex.RUnlock()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cb, exists := r.breakers[name]; exists {
		return cb
	}

	cb := NewCircuitBreaker(name, config)
	cb.now = r.now
	cb.onStateChange = r.handleStateChange
	r.breakers[name] = cb
	return cb
}

// Get gets an existing circuit breaker
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// MustGet returns the named breaker and panics if it was never registered
func (r *Registry) MustGet(name string) *CircuitBreaker {
	cb, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("circuit breaker %q is not registered", name))
	}
	return cb
}

// OnOpen binds a degradation action to the breaker's CLOSED/HALF_OPEN -> OPEN transition
func (r *Registry) OnOpen(name string, fn Degradation) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onOpen[name] = append(r.onOpen[name], fn)
}

// OnClose binds a recovery action to the breaker's HALF_OPEN -> CLOSED transition
func (r *Registry) OnClose(name string, fn Degradation) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onClose[name] = append(r.onClose[name], fn)
}

// Observe registers fn for every state change of every breaker
func (r *Registry) Observe(fn func(StateChange)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Registry) handleStateChange(change StateChange) {
	ctx := context.Background()

	r.log.Warning("circuit breaker %s: %s -> %s", change.Name, change.From, change.To)
	exportState(change.Name, change.To)

	severity := notifications.SeverityInfo
	if change.To == StateOpen {
		severity = notifications.SeverityWarning
		if change.Name == BreakerBrokerConnection {
			severity = notifications.SeverityCritical
		}
	}
	msg := fmt.Sprintf("circuit breaker %s changed %s -> %s", change.Name, change.From, change.To)
	if err := notifications.Send(ctx, r.notifier, severity, "circuit_breaker", msg, map[string]string{"breaker": change.Name}); err != nil {
		r.log.LogError("send breaker alert", err)
	}

	r.hookMu.RLock()
	var actions []Degradation
	switch change.To {
	case StateOpen:
		actions = append(actions, r.onOpen[change.Name]...)
	case StateClosed:
		actions = append(actions, r.onClose[change.Name]...)
	}
	observers := append([]func(StateChange){}, r.observers...)
	r.hookMu.RUnlock()

	for _, fn := range actions {
		fn(ctx, change)
	}
	for _, fn := range observers {
		fn(change)
	}
}

// Snapshot returns statistics for all circuit breakers, sorted by name
func (r *Registry) Snapshot() []CircuitBreakerStats {
	r.mutex.RLock()
	stats := make([]CircuitBreakerStats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.GetStats())
	}
	r.mutex.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// OpenBreakers returns the names of breakers that are not CLOSED
func (r *Registry) OpenBreakers() []string {
	var names []string
	for _, s := range r.Snapshot() {
		if s.State != StateClosed.String() {
			names = append(names, s.Name)
		}
	}
	return names
}

// Run periodically promotes OPEN breakers whose recovery timeout has elapsed,
// so HALF_OPEN is visible even when no caller is probing
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.mutex.RLock()
			breakers := make([]*CircuitBreaker, 0, len(r.breakers))
			for _, cb := range r.breakers {
				breakers = append(breakers, cb)
			}
			r.mutex.RUnlock()

			for _, cb := range breakers {
				cb.refresh()
				exportState(cb.Name(), cb.GetState())
			}
		}
	}
}

// exportState publishes the breaker gauge as 0 closed, 1 half-open, 2 open
func exportState(name string, state CircuitBreakerState) {
	switch state {
	case StateHalfOpen:
		monitoring.SetBreakerState(name, 1)
	case StateOpen:
		monitoring.SetBreakerState(name, 2)
	default:
		monitoring.SetBreakerState(name, 0)
	}
}
