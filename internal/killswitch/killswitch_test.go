package killswitch

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
	"github.com/ducminhle1904/risk-orchestrator/internal/portfolio"
	"github.com/ducminhle1904/risk-orchestrator/internal/state"
	"github.com/ducminhle1904/risk-orchestrator/internal/storage"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

type staticPositions []types.Position

func (s staticPositions) Positions() []types.Position { return s }

type staticMetrics struct {
	mu sync.Mutex
	m  portfolio.Metrics
}

func (s *staticMetrics) Metrics() portfolio.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m
}

func (s *staticMetrics) set(m portfolio.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = m
}

type scriptedExecutor struct {
	mu      sync.Mutex
	orders  []types.OrderRequest
	failFor map[string]error
	block   map[string]bool
	calls   atomic.Int32
}

func (e *scriptedExecutor) Submit(ctx context.Context, order types.OrderRequest) (types.OrderAck, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.orders = append(e.orders, order)
	err := e.failFor[order.Symbol]
	block := e.block[order.Symbol]
	e.mu.Unlock()

	if block {
		<-ctx.Done()
		return types.OrderAck{}, ctx.Err()
	}
	if err != nil {
		return types.OrderAck{}, err
	}
	return types.OrderAck{OrderID: "ord-" + order.Symbol, ClientOrderID: order.ClientOrderID}, nil
}

type fixture struct {
	ks      *KillSwitch
	modes   *state.Manager
	exec    *scriptedExecutor
	metrics *staticMetrics
	alerts  *notifications.Recorder
	store   *storage.Memory
}

func newFixture(t *testing.T, positions []types.Position) *fixture {
	t.Helper()
	alerts := notifications.NewRecorder(0)
	store := storage.NewMemory()
	modes := state.NewManager(store, alerts, logger.Nop())
	exec := &scriptedExecutor{failFor: map[string]error{}, block: map[string]bool{}}
	metrics := &staticMetrics{}
	ks := New(modes, staticPositions(positions), exec, metrics, Options{
		OrderTimeout: 50 * time.Millisecond,
		Store:        store,
		Notifier:     alerts,
		Logger:       logger.Nop(),
	})
	return &fixture{ks: ks, modes: modes, exec: exec, metrics: metrics, alerts: alerts, store: store}
}

func threePositions() []types.Position {
	return []types.Position{
		{Symbol: "AAPL", Quantity: 10, MarkPrice: 190},
		{Symbol: "MSFT", Quantity: 5, MarkPrice: 410},
		{Symbol: "TSLA", Quantity: -3, MarkPrice: 250},
	}
}

func TestActivateWithBrokerFailure(t *testing.T) {
	f := newFixture(t, threePositions())
	f.exec.failFor["MSFT"] = errors.New("broker rejected")

	rec, fired := f.ks.Activate(context.Background(), "operator test", "alice")
	require.True(t, fired)

	assert.Equal(t, StatusTriggered, f.ks.Status())
	assert.Equal(t, state.ModeEmergency, f.modes.Mode())
	assert.True(t, rec.ModeTransitioned)

	require.Len(t, rec.Closed, 2)
	assert.Equal(t, "AAPL", rec.Closed[0].Symbol)
	assert.Equal(t, "TSLA", rec.Closed[1].Symbol)
	require.Len(t, rec.Failed, 1)
	assert.Equal(t, "MSFT", rec.Failed[0].Symbol)
	assert.Contains(t, rec.Failed[0].Error, "broker rejected")

	// orders are reduce-only market orders on the closing side
	require.Len(t, f.exec.orders, 3)
	assert.Equal(t, types.OrderSideSell, f.exec.orders[0].Side)
	assert.Equal(t, types.OrderSideBuy, f.exec.orders[2].Side)
	assert.InDelta(t, 3, f.exec.orders[2].Quantity, 1e-9)
	for _, o := range f.exec.orders {
		assert.True(t, o.ReduceOnly)
		assert.Equal(t, types.OrderTypeMarket, o.Type)
	}

	var crit *notifications.Alert
	for _, a := range f.alerts.Alerts() {
		if a.Source == component {
			a := a
			crit = &a
		}
	}
	require.NotNil(t, crit)
	assert.Equal(t, notifications.SeverityCritical, crit.Severity)
	assert.Contains(t, crit.Message, "AAPL")
	assert.Contains(t, crit.Message, "FAILED: MSFT")

	var persisted Record
	require.NoError(t, f.store.Load(context.Background(), storageKey, &persisted))
	assert.Equal(t, StatusTriggered, persisted.Status)
	assert.Len(t, persisted.Failed, 1)
}

func TestOrderTimeoutIsRecordedAndLoopContinues(t *testing.T) {
	f := newFixture(t, threePositions())
	f.exec.block["AAPL"] = true

	rec, fired := f.ks.Activate(context.Background(), "timeout test", "ops")
	require.True(t, fired)
	require.Len(t, rec.Failed, 1)
	assert.Equal(t, "AAPL", rec.Failed[0].Symbol)
	assert.Len(t, rec.Closed, 2)
}

func TestConcurrentActivationSubmitsOnce(t *testing.T) {
	f := newFixture(t, threePositions())

	var wg sync.WaitGroup
	var fired atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := f.ks.Activate(context.Background(), "race", "ops"); ok {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, int32(3), f.exec.calls.Load())
}

func TestEvaluateThresholds(t *testing.T) {
	tests := []struct {
		name    string
		metrics portfolio.Metrics
		trigger Trigger
		fires   bool
	}{
		{"healthy", portfolio.Metrics{Drawdown: 0.05, DailyLoss: 0.01, WeeklyLoss: 0.02}, "", false},
		{"at drawdown limit", portfolio.Metrics{Drawdown: 0.15}, "", false},
		{"drawdown", portfolio.Metrics{Drawdown: 0.16}, TriggerDrawdown, true},
		{"daily loss", portfolio.Metrics{DailyLoss: 0.031}, TriggerDailyLoss, true},
		{"weekly loss", portfolio.Metrics{WeeklyLoss: 0.051}, TriggerWeeklyLoss, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.metrics.set(tt.metrics)

			rec, fired := f.ks.Evaluate(context.Background())
			assert.Equal(t, tt.fires, fired)
			if tt.fires {
				assert.Equal(t, tt.trigger, rec.Trigger)
				assert.Equal(t, state.ModeEmergency, f.modes.Mode())
			} else {
				assert.Equal(t, StatusArmed, f.ks.Status())
			}
		})
	}
}

func TestReportCriticalError(t *testing.T) {
	f := newFixture(t, nil)
	rec, fired := f.ks.ReportCriticalError(context.Background(), "ledger", errors.New("negative cash"))
	require.True(t, fired)
	assert.Equal(t, TriggerCriticalError, rec.Trigger)
	assert.Contains(t, rec.Reason, "negative cash")
}

func TestResetRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	assert.ErrorIs(t, f.ks.Reset(ctx, "alice"), ErrNotTriggered)

	f.ks.Activate(ctx, "manual", "alice")
	f.metrics.set(portfolio.Metrics{Drawdown: 0.12})
	err := f.ks.Reset(ctx, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset ceiling")
	assert.Equal(t, StatusTriggered, f.ks.Status())
	assert.Equal(t, state.ModeEmergency, f.modes.Mode())

	f.metrics.set(portfolio.Metrics{Drawdown: 0.08})
	require.NoError(t, f.ks.Reset(ctx, "alice"))
	assert.Equal(t, StatusArmed, f.ks.Status())
	assert.Equal(t, state.ModePause, f.modes.Mode())
	assert.Equal(t, "alice", f.ks.Record().ResetBy)
}

func TestActivateAndResetFromPause(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, threePositions())
	require.True(t, f.modes.Transition(ctx, state.ModePause, "operator pause", "operator:ops"))
	criticalBefore := f.alerts.Count(notifications.SeverityCritical)

	rec, fired := f.ks.Activate(ctx, "manual", "alice")
	require.True(t, fired)
	assert.False(t, rec.ModeTransitioned)
	assert.Len(t, rec.Closed, 3, "the book is flattened even though the mode stays PAUSE")
	assert.True(t, f.ks.Triggered())
	assert.Equal(t, state.ModePause, f.modes.Mode())
	// only the activation alert itself, no illegal transition alert
	assert.Equal(t, criticalBefore+1, f.alerts.Count(notifications.SeverityCritical))

	require.NoError(t, f.ks.Reset(ctx, "alice"))
	assert.Equal(t, StatusArmed, f.ks.Status())
	assert.Equal(t, state.ModePause, f.modes.Mode())
	assert.Equal(t, criticalBefore+1, f.alerts.Count(notifications.SeverityCritical))
}

func TestRestoreKeepsTriggered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.ks.Activate(ctx, "before restart", "ops")

	restarted := New(f.modes, staticPositions(nil), f.exec, f.metrics, Options{Store: f.store})
	require.NoError(t, restarted.Restore(ctx))
	assert.Equal(t, StatusTriggered, restarted.Status())
	assert.Equal(t, "before restart", restarted.Record().Reason)

	_, fired := restarted.Activate(ctx, "again", "ops")
	assert.False(t, fired)
}

func TestSubscribersSeeActivation(t *testing.T) {
	f := newFixture(t, threePositions())
	var got []Record
	f.ks.Subscribe(func(r Record) { got = append(got, r) })

	f.ks.Activate(context.Background(), "manual", "ops")
	require.Len(t, got, 1)
	assert.Len(t, got[0].Closed, 3)
}
