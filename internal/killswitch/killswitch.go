package killswitch

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/ducminhle1904/risk-orchestrator/internal/errors"
	"github.com/ducminhle1904/risk-orchestrator/internal/execution"
	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
	"github.com/ducminhle1904/risk-orchestrator/internal/monitoring"
	"github.com/ducminhle1904/risk-orchestrator/internal/notifications"
	"github.com/ducminhle1904/risk-orchestrator/internal/portfolio"
	"github.com/ducminhle1904/risk-orchestrator/internal/risk"
	"github.com/ducminhle1904/risk-orchestrator/internal/state"
	"github.com/ducminhle1904/risk-orchestrator/internal/storage"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

// Activation thresholds. Not configurable.
const (
	MaxDrawdownPct   = risk.MaxDrawdownPct
	MaxDailyLossPct  = 0.03
	MaxWeeklyLossPct = 0.05

	// ResetDrawdownPct is the drawdown above which a reset is refused
	ResetDrawdownPct = 0.10
)

const (
	DefaultOrderTimeout = 5 * time.Second
	DefaultEvalInterval = 60 * time.Second

	storageKey = "kill_switch"
	component  = "killswitch"
)

var ErrNotTriggered = stderrors.New("kill switch is not triggered")

// Status of the switch
type Status string

const (
	StatusArmed     Status = "ARMED"
	StatusTriggered Status = "TRIGGERED"
)

// Trigger names what fired the switch
type Trigger string

const (
	TriggerDrawdown      Trigger = "drawdown"
	TriggerDailyLoss     Trigger = "daily_loss"
	TriggerWeeklyLoss    Trigger = "weekly_loss"
	TriggerCriticalError Trigger = "critical_error"
	TriggerManual        Trigger = "manual"
)

type ClosedPosition struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	OrderID  string  `json:"order_id"`
}

type FailedPosition struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	Error    string  `json:"error"`
}

// Record is the persisted outcome of an activation
type Record struct {
	ID               string           `json:"id"`
	Status           Status           `json:"status"`
	Trigger          Trigger          `json:"trigger"`
	Reason           string           `json:"reason"`
	ActivatedBy      string           `json:"activated_by"`
	ActivatedAt      time.Time        `json:"activated_at"`
	CompletedAt      time.Time        `json:"completed_at,omitempty"`
	ModeTransitioned bool             `json:"mode_transitioned"`
	Closed           []ClosedPosition `json:"closed"`
	Failed           []FailedPosition `json:"failed"`
	ResetBy          string           `json:"reset_by,omitempty"`
	ResetAt          time.Time        `json:"reset_at,omitempty"`
}

// ModeController is the part of the state manager the switch drives
type ModeController interface {
	Mode() state.Mode
	Transition(ctx context.Context, target state.Mode, reason, actor string) bool
}

// PositionLister returns a snapshot of the open ledger positions
type PositionLister interface {
	Positions() []types.Position
}

// MetricsSource provides drawdown and loss figures
type MetricsSource interface {
	Metrics() portfolio.Metrics
}

type Options struct {
	OrderTimeout time.Duration
	Store        storage.Store
	Notifier     notifications.Notifier
	Logger       *logger.Logger
	Now          func() time.Time
}

// KillSwitch flattens the book and forces EMERGENCY mode
type KillSwitch struct {
	status atomic.Int32 // 0 armed, 1 triggered

	mu     sync.RWMutex
	record Record

	modes     ModeController
	positions PositionLister
	executor  execution.Executor
	metrics   MetricsSource

	orderTimeout time.Duration
	store        storage.Store
	notifier     notifications.Notifier
	log          *logger.Logger
	now          func() time.Time

	subMu       sync.RWMutex
	subscribers []func(Record)
}

func New(modes ModeController, positions PositionLister, executor execution.Executor, metrics MetricsSource, opts Options) *KillSwitch {
	if opts.OrderTimeout <= 0 {
		opts.OrderTimeout = DefaultOrderTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &KillSwitch{
		record:       Record{Status: StatusArmed},
		modes:        modes,
		positions:    positions,
		executor:     executor,
		metrics:      metrics,
		orderTimeout: opts.OrderTimeout,
		store:        opts.Store,
		notifier:     opts.Notifier,
		log:          opts.Logger.With(component),
		now:          opts.Now,
	}
}

// Restore reloads a persisted record. A TRIGGERED record keeps the switch triggered.
func (k *KillSwitch) Restore(ctx context.Context) error {
	if k.store == nil {
		return nil
	}
	var saved Record
	err := k.store.Load(ctx, storageKey, &saved)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore kill switch: %w", err)
	}

	k.mu.Lock()
	k.record = saved
	k.mu.Unlock()

	if saved.Status == StatusTriggered {
		k.status.Store(1)
		k.log.Warning("kill switch restored in TRIGGERED state (activated %s by %s: %s)",
			saved.ActivatedAt.Format(time.RFC3339), saved.ActivatedBy, saved.Reason)
	}
	monitoring.SetKillSwitch(saved.Status == StatusTriggered)
	return nil
}

// Subscribe registers fn to run after every completed activation and reset
func (k *KillSwitch) Subscribe(fn func(Record)) {
	k.subMu.Lock()
	defer k.subMu.Unlock()
	k.subscribers = append(k.subscribers, fn)
}

func (k *KillSwitch) Status() Status {
	if k.status.Load() == 1 {
		return StatusTriggered
	}
	return StatusArmed
}

func (k *KillSwitch) Triggered() bool {
	return k.status.Load() == 1
}

// Record returns a copy of the current record
func (k *KillSwitch) Record() Record {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return copyRecord(k.record)
}

// Activate triggers the switch manually
func (k *KillSwitch) Activate(ctx context.Context, reason, by string) (Record, bool) {
	return k.trigger(ctx, TriggerManual, reason, by)
}

// ReportCriticalError lets a collaborator fire the switch on an unrecoverable error
func (k *KillSwitch) ReportCriticalError(ctx context.Context, source string, err error) (Record, bool) {
	reason := fmt.Sprintf("critical error in %s: %v", source, err)
	monitoring.RecordError(string(coreerrors.CategoryCatastrophic), source)
	return k.trigger(ctx, TriggerCriticalError, reason, source)
}

// Evaluate checks drawdown and loss thresholds and triggers when any is exceeded
func (k *KillSwitch) Evaluate(ctx context.Context) (Record, bool) {
	if k.metrics == nil || k.Triggered() {
		return k.Record(), false
	}
	m := k.metrics.Metrics()
	monitoring.UpdatePortfolio(m.Equity, m.Drawdown)

	switch {
	case m.Drawdown > MaxDrawdownPct:
		return k.trigger(ctx, TriggerDrawdown,
			fmt.Sprintf("drawdown %.2f%% exceeds %.0f%% limit", m.Drawdown*100, MaxDrawdownPct*100), "system")
	case m.DailyLoss > MaxDailyLossPct:
		return k.trigger(ctx, TriggerDailyLoss,
			fmt.Sprintf("daily loss %.2f%% exceeds %.0f%% limit", m.DailyLoss*100, MaxDailyLossPct*100), "system")
	case m.WeeklyLoss > MaxWeeklyLossPct:
		return k.trigger(ctx, TriggerWeeklyLoss,
			fmt.Sprintf("weekly loss %.2f%% exceeds %.0f%% limit", m.WeeklyLoss*100, MaxWeeklyLossPct*100), "system")
	}
	return k.Record(), false
}

// Run evaluates thresholds every interval until ctx is done
func (k *KillSwitch) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultEvalInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			k.Evaluate(ctx)
		}
	}
}

// trigger performs the activation exactly once. Later callers get the existing record.
func (k *KillSwitch) trigger(ctx context.Context, trigger Trigger, reason, by string) (Record, bool) {
	if !k.status.CompareAndSwap(0, 1) {
		k.log.Info("kill switch already triggered, ignoring %s trigger from %s", trigger, by)
		return k.Record(), false
	}

	rec := Record{
		ID:          uuid.NewString(),
		Status:      StatusTriggered,
		Trigger:     trigger,
		Reason:      reason,
		ActivatedBy: by,
		ActivatedAt: k.now(),
	}
	k.mu.Lock()
	k.record = rec
	k.mu.Unlock()

	k.log.Error("KILL SWITCH TRIGGERED (%s) by %s: %s", trigger, by, reason)
	monitoring.RecordKillSwitchActivation(string(trigger))

	// PAUSE cannot move to EMERGENCY; the book is flattened either way and Triggered
	// keeps the orchestrator from emitting while the switch is set
	if from := k.modes.Mode(); state.CanTransition(from, state.ModeEmergency) {
		rec.ModeTransitioned = k.modes.Transition(ctx, state.ModeEmergency, "kill switch: "+reason, by)
	}
	if !rec.ModeTransitioned {
		k.log.LogWarning("kill switch", "EMERGENCY transition refused, flattening anyway")
	}

	rec.Closed, rec.Failed = k.flatten(ctx)
	rec.CompletedAt = k.now()

	k.mu.Lock()
	k.record = rec
	k.mu.Unlock()

	if err := k.persist(ctx, rec); err != nil {
		k.log.LogError("persist kill switch record", err)
	}

	notifications.Send(ctx, k.notifier, notifications.SeverityCritical, component, activationMessage(rec), map[string]string{
		"trigger":      string(rec.Trigger),
		"activated_by": rec.ActivatedBy,
		"closed":       fmt.Sprint(len(rec.Closed)),
		"failed":       fmt.Sprint(len(rec.Failed)),
	})
	k.publish(rec)
	return copyRecord(rec), true
}

// flatten submits one market close per open position, sequentially. Failures are recorded
// and the loop continues.
func (k *KillSwitch) flatten(ctx context.Context) ([]ClosedPosition, []FailedPosition) {
	var (
		closed []ClosedPosition
		failed []FailedPosition
	)
	if k.positions == nil || k.executor == nil {
		return closed, failed
	}

	for _, pos := range k.positions.Positions() {
		qty := math.Abs(pos.Quantity)
		if qty == 0 {
			continue
		}
		order := types.OrderRequest{
			ClientOrderID:  "ks-" + uuid.NewString(),
			Symbol:         pos.Symbol,
			Side:           pos.CloseSide(),
			Type:           types.OrderTypeMarket,
			Quantity:       qty,
			ReferencePrice: pos.MarkPrice,
			ReduceOnly:     true,
			Reason:         "kill switch",
		}

		orderCtx, cancel := context.WithTimeout(ctx, k.orderTimeout)
		ack, err := k.executor.Submit(orderCtx, order)
		cancel()

		if err != nil {
			k.log.LogError("close "+pos.Symbol, err)
			failed = append(failed, FailedPosition{Symbol: pos.Symbol, Quantity: pos.Quantity, Error: err.Error()})
			continue
		}
		k.log.Info("closed %s %.8f (order %s)", pos.Symbol, pos.Quantity, ack.OrderID)
		closed = append(closed, ClosedPosition{Symbol: pos.Symbol, Quantity: pos.Quantity, OrderID: ack.OrderID})
	}
	return closed, failed
}

// Reset re-arms the switch and moves the system to PAUSE. Refused while drawdown is above 10%.
func (k *KillSwitch) Reset(ctx context.Context, confirmedBy string) error {
	if !k.Triggered() {
		return ErrNotTriggered
	}
	if strings.TrimSpace(confirmedBy) == "" {
		return coreerrors.NewValidationError(component, "reset", "reset requires a confirming operator")
	}
	if k.metrics != nil {
		if dd := k.metrics.Metrics().Drawdown; dd > ResetDrawdownPct {
			return coreerrors.NewValidationError(component, "reset",
				fmt.Sprintf("drawdown %.2f%% is above the %.0f%% reset ceiling", dd*100, ResetDrawdownPct*100))
		}
	}

	k.mu.Lock()
	rec := k.record
	rec.Status = StatusArmed
	rec.ResetBy = confirmedBy
	rec.ResetAt = k.now()
	k.record = rec
	k.mu.Unlock()
	k.status.Store(0)
	monitoring.SetKillSwitch(false)

	if k.modes.Mode() == state.ModePause {
		k.log.Info("kill switch reset, system already in %s", state.ModePause)
	} else if !k.modes.Transition(ctx, state.ModePause, "kill switch reset", confirmedBy) {
		k.log.LogWarning("kill switch reset", "PAUSE transition refused")
	}
	if err := k.persist(ctx, rec); err != nil {
		k.log.LogError("persist kill switch reset", err)
	}

	k.log.Warning("kill switch reset by %s", confirmedBy)
	notifications.Send(ctx, k.notifier, notifications.SeverityWarning, component,
		fmt.Sprintf("kill switch reset by %s, system in PAUSE", confirmedBy), nil)
	k.publish(copyRecord(rec))
	return nil
}

func (k *KillSwitch) persist(ctx context.Context, rec Record) error {
	if k.store == nil {
		return nil
	}
	return k.store.Save(ctx, storageKey, rec)
}

func (k *KillSwitch) publish(rec Record) {
	k.subMu.RLock()
	subs := append([]func(Record){}, k.subscribers...)
	k.subMu.RUnlock()
	for _, fn := range subs {
		fn(rec)
	}
}

func activationMessage(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "KILL SWITCH ACTIVATED: %s", rec.Reason)
	if len(rec.Closed) > 0 {
		parts := make([]string, 0, len(rec.Closed))
		for _, c := range rec.Closed {
			parts = append(parts, fmt.Sprintf("%s %.8g", c.Symbol, c.Quantity))
		}
		fmt.Fprintf(&b, "; closed: %s", strings.Join(parts, ", "))
	}
	if len(rec.Failed) > 0 {
		parts := make([]string, 0, len(rec.Failed))
		for _, f := range rec.Failed {
			parts = append(parts, fmt.Sprintf("%s %.8g (%s)", f.Symbol, f.Quantity, f.Error))
		}
		fmt.Fprintf(&b, "; FAILED: %s", strings.Join(parts, ", "))
	}
	if len(rec.Closed) == 0 && len(rec.Failed) == 0 {
		b.WriteString("; no open positions")
	}
	return b.String()
}

func copyRecord(r Record) Record {
	r.Closed = append([]ClosedPosition(nil), r.Closed...)
	r.Failed = append([]FailedPosition(nil), r.Failed...)
	return r
}
