package safety

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
	"github.com/ducminhle1904/risk-orchestrator/internal/notifications"
	"github.com/ducminhle1904/risk-orchestrator/internal/state"
	"github.com/ducminhle1904/risk-orchestrator/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type calibrationFlag struct{ unknown atomic.Bool }

func (c *calibrationFlag) SetCalibrationUnknown(v bool) { c.unknown.Store(v) }

func TestDefaultBreakerConfigs(t *testing.T) {
	cfgs := DefaultBreakerConfigs()
	assert.Equal(t, BreakerConfig{3, 300 * time.Second, 2}, cfgs[BreakerPriceFeed])
	assert.Equal(t, BreakerConfig{5, 600 * time.Second, 2}, cfgs[BreakerNewsFeed])
	assert.Equal(t, BreakerConfig{2, 120 * time.Second, 3}, cfgs[BreakerBrokerConnection])
	assert.Equal(t, BreakerConfig{3, 60 * time.Second, 2}, cfgs[BreakerModelInference])
}

func TestBreakerLifecycle(t *testing.T) {
	clock := newFakeClock()
	reg := NewDefaultRegistry(nil, logger.Nop(), nil, WithClock(clock.Now))
	cb := reg.MustGet(BreakerPriceFeed)

	var changes []StateChange
	reg.Observe(func(c StateChange) { changes = append(changes, c) })

	for i := 0; i < 3; i++ {
		require.True(t, cb.CanExecute())
		cb.RecordFailure()
	}
	assert.Equal(t, StateOpen, cb.GetState())

	clock.Advance(299 * time.Second)
	assert.False(t, cb.CanExecute(), "still within recovery timeout")

	clock.Advance(time.Second)
	assert.True(t, cb.CanExecute(), "first call after timeout is the probe")
	assert.Equal(t, StateHalfOpen, cb.GetState())
	assert.False(t, cb.CanExecute(), "only one probe in flight")

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.GetState())
	assert.True(t, cb.CanExecute())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.GetState())

	require.Len(t, changes, 3)
	assert.Equal(t, StateOpen, changes[0].To)
	assert.Equal(t, StateHalfOpen, changes[1].To)
	assert.Equal(t, StateClosed, changes[2].To)
}

func TestBreakerClosesOnlyThroughHalfOpen(t *testing.T) {
	clock := newFakeClock()
	reg := NewDefaultRegistry(nil, logger.Nop(), nil, WithClock(clock.Now))
	cb := reg.MustGet(BreakerBrokerConnection)

	var changes []StateChange
	reg.Observe(func(c StateChange) { changes = append(changes, c) })

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Equal(t, StateOpen, cb.GetState(), "success while open is ignored")

	clock.Advance(120 * time.Second)
	require.True(t, cb.CanExecute())
	cb.RecordFailure()
	clock.Advance(120 * time.Second)
	for cb.GetState() != StateClosed {
		require.True(t, cb.CanExecute())
		cb.RecordSuccess()
	}

	legal := map[CircuitBreakerState][]CircuitBreakerState{
		StateClosed:   {StateOpen},
		StateOpen:     {StateHalfOpen},
		StateHalfOpen: {StateClosed, StateOpen},
	}
	require.NotEmpty(t, changes)
	for _, c := range changes {
		assert.Contains(t, legal[c.From], c.To, "%s -> %s", c.From, c.To)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	reg := NewDefaultRegistry(nil, logger.Nop(), nil, WithClock(clock.Now))
	cb := reg.MustGet(BreakerBrokerConnection)

	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.GetState())

	clock.Advance(120 * time.Second)
	require.True(t, cb.CanExecute())
	cb.RecordSuccess()
	require.True(t, cb.CanExecute())
	cb.RecordFailure()

	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, uint32(0), cb.GetStats().Successes)
	assert.False(t, cb.CanExecute())
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("x", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute, SuccessThreshold: 1})
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestConcurrentHalfOpenAdmitsSingleProbe(t *testing.T) {
	clock := newFakeClock()
	reg := NewDefaultRegistry(nil, logger.Nop(), nil, WithClock(clock.Now))
	cb := reg.MustGet(BreakerModelInference)
	cb.ForceOpen()
	clock.Advance(time.Minute)

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.CanExecute() {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted)
}

func TestCallRecordsOutcome(t *testing.T) {
	cb := NewCircuitBreaker("broker", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour, SuccessThreshold: 1})
	ctx := context.Background()

	require.NoError(t, cb.Call(ctx, func(context.Context) error { return nil }))
	assert.Error(t, cb.Call(ctx, func(context.Context) error { return errors.New("503") }))
	err := cb.Call(ctx, func(context.Context) error { t.Fatal("must not run"); return nil })
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestPriceFeedOpenMovesSystemToObservation(t *testing.T) {
	alerts := notifications.NewRecorder(0)
	modes := state.NewManager(storage.NewMemory(), alerts, logger.Nop())
	reg := NewDefaultRegistry(alerts, logger.Nop(), nil)
	InstallDefaultDegradations(reg, modes, nil)

	cb := reg.MustGet(BreakerPriceFeed)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	current := modes.Current()
	assert.Equal(t, state.ModeObservation, current.Mode)
	assert.Contains(t, current.Reason, "price feed")
	assert.False(t, modes.AllowsNewEntries())
}

func TestPriceFeedOpenKeepsMoreRestrictiveMode(t *testing.T) {
	for _, start := range []state.Mode{state.ModePause, state.ModeEmergency} {
		t.Run(string(start), func(t *testing.T) {
			alerts := notifications.NewRecorder(0)
			modes := state.NewManager(nil, alerts, logger.Nop())
			if start == state.ModeEmergency {
				require.True(t, modes.Transition(context.Background(), state.ModeEmergency, "kill switch", "killswitch"))
			} else {
				require.True(t, modes.Transition(context.Background(), state.ModePause, "operator", "operator:ops"))
			}
			reg := NewDefaultRegistry(alerts, logger.Nop(), nil)
			InstallDefaultDegradations(reg, modes, nil)
			criticalBefore := alerts.Count(notifications.SeverityCritical)

			cb := reg.MustGet(BreakerPriceFeed)
			for i := 0; i < 3; i++ {
				cb.RecordFailure()
			}

			assert.Equal(t, start, modes.Mode())
			assert.NotEqual(t, "circuit_breaker:price_feed", modes.Current().Actor)
			assert.Equal(t, criticalBefore, alerts.Count(notifications.SeverityCritical), "no illegal transition may be attempted")
		})
	}
}

func TestBrokerOpenRaisesCriticalWithoutModeChange(t *testing.T) {
	alerts := notifications.NewRecorder(0)
	modes := state.NewManager(nil, nil, logger.Nop())
	reg := NewDefaultRegistry(alerts, logger.Nop(), nil)
	InstallDefaultDegradations(reg, modes, nil)

	cb := reg.MustGet(BreakerBrokerConnection)
	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, state.ModeNormal, modes.Mode())
	assert.Equal(t, 1, alerts.Count(notifications.SeverityCritical))
}

func TestModelInferenceOpenMarksCalibrationUnknown(t *testing.T) {
	clock := newFakeClock()
	flag := &calibrationFlag{}
	reg := NewDefaultRegistry(nil, logger.Nop(), nil, WithClock(clock.Now))
	InstallDefaultDegradations(reg, state.NewManager(nil, nil, nil), flag)

	cb := reg.MustGet(BreakerModelInference)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.True(t, flag.unknown.Load())

	clock.Advance(time.Minute)
	for i := 0; i < 2; i++ {
		require.True(t, cb.CanExecute())
		cb.RecordSuccess()
	}
	assert.False(t, flag.unknown.Load())
}

func TestRegistryRunPromotesExpiredBreakers(t *testing.T) {
	clock := newFakeClock()
	reg := NewDefaultRegistry(nil, logger.Nop(), nil, WithClock(clock.Now))
	cb := reg.MustGet(BreakerNewsFeed)
	cb.ForceOpen()
	clock.Advance(10 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = reg.Run(ctx, time.Millisecond); close(done) }()

	assert.Eventually(t, func() bool { return cb.GetState() == StateHalfOpen }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.True(t, cb.CanExecute(), "refresh must leave the probe slot free")
	assert.Equal(t, []string{BreakerNewsFeed}, reg.OpenBreakers())
}
