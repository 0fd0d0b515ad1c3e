package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/risk-orchestrator/internal/execution"
	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
	"github.com/ducminhle1904/risk-orchestrator/internal/monitoring"
	"github.com/ducminhle1904/risk-orchestrator/internal/notifications"
	"github.com/ducminhle1904/risk-orchestrator/internal/recovery"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

// Tolerance is the largest relative quantity difference accepted as a match,
// as a fraction of the larger absolute quantity
var Tolerance = decimal.RequireFromString("0.001")

const component = "reconciler"

// Kind classifies a discrepancy
type Kind string

const (
	KindQuantityMismatch Kind = "quantity_mismatch"
	KindMissingInLedger  Kind = "missing_in_ledger"
	KindMissingAtBroker  Kind = "missing_at_broker"
)

type Discrepancy struct {
	Symbol         string  `json:"symbol"`
	Kind           Kind    `json:"kind"`
	LedgerQuantity float64 `json:"ledger_quantity"`
	BrokerQuantity float64 `json:"broker_quantity"`
	Delta          float64 `json:"delta"`
	DeltaPct       float64 `json:"delta_pct"`
}

// Result of one reconciliation run
type Result struct {
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Symbols       int           `json:"symbols"`
	Clean         bool          `json:"clean"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// Reconciler compares the broker's positions with the ledger. It never modifies either side.
type Reconciler struct {
	broker   execution.PositionSource
	ledger   execution.PositionSource
	notifier notifications.Notifier
	timeout  time.Duration
	log      *logger.Logger
	now      func() time.Time
	retry    recovery.Policy

	mu   sync.RWMutex
	last *Result
}

func New(broker, ledger execution.PositionSource, notifier notifications.Notifier, timeout time.Duration, log *logger.Logger) *Reconciler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		broker:   broker,
		ledger:   ledger,
		notifier: notifier,
		timeout:  timeout,
		log:      log.With(component),
		now:      time.Now,
		retry:    recovery.DefaultPolicy(),
	}
}

// WithRetry replaces the retry policy for the broker fetch
func (r *Reconciler) WithRetry(p recovery.Policy) *Reconciler {
	r.retry = p
	return r
}

// Last returns the most recent completed result
func (r *Reconciler) Last() (Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Result{}, false
	}
	return *r.last, true
}

// Run performs one reconciliation
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	res := Result{StartedAt: r.now()}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var brokerPositions []types.Position
	err := recovery.Do(ctx, r.retry, "fetch broker positions", r.log, func(ctx context.Context) error {
		var err error
		brokerPositions, err = r.broker.ListPositions(ctx)
		return err
	})
	if err != nil {
		monitoring.RecordReconciliation(0, err)
		r.log.LogError("fetch broker positions", err)
		notifications.Send(ctx, r.notifier, notifications.SeverityError, component,
			fmt.Sprintf("reconciliation could not fetch broker positions: %v", err), nil)
		return res, fmt.Errorf("fetch broker positions: %w", err)
	}
	ledgerPositions, err := r.ledger.ListPositions(ctx)
	if err != nil {
		monitoring.RecordReconciliation(0, err)
		return res, fmt.Errorf("fetch ledger positions: %w", err)
	}

	broker := map[string]decimal.Decimal{}
	for _, p := range brokerPositions {
		sym := strings.ToUpper(p.Symbol)
		broker[sym] = broker[sym].Add(decimal.NewFromFloat(p.Quantity))
	}
	ledger := map[string]decimal.Decimal{}
	for _, p := range ledgerPositions {
		sym := strings.ToUpper(p.Symbol)
		ledger[sym] = ledger[sym].Add(decimal.NewFromFloat(p.Quantity))
	}

	symbols := map[string]struct{}{}
	for s, q := range broker {
		if !q.IsZero() {
			symbols[s] = struct{}{}
		}
	}
	for s, q := range ledger {
		if !q.IsZero() {
			symbols[s] = struct{}{}
		}
	}

	for sym := range symbols {
		if d, ok := compare(sym, ledger[sym], broker[sym]); ok {
			res.Discrepancies = append(res.Discrepancies, d)
		}
	}
	sort.Slice(res.Discrepancies, func(i, j int) bool {
		return res.Discrepancies[i].Symbol < res.Discrepancies[j].Symbol
	})

	res.Symbols = len(symbols)
	res.Clean = len(res.Discrepancies) == 0
	res.FinishedAt = r.now()

	r.mu.Lock()
	r.last = &res
	r.mu.Unlock()

	monitoring.RecordReconciliation(len(res.Discrepancies), nil)
	if res.Clean {
		r.log.Info("reconciliation clean across %d symbols", res.Symbols)
		return res, nil
	}

	r.log.Error("reconciliation found %d discrepancies across %d symbols", len(res.Discrepancies), res.Symbols)
	notifications.Send(ctx, r.notifier, notifications.SeverityCritical, component, summarize(res),
		map[string]string{"discrepancies": fmt.Sprint(len(res.Discrepancies))})
	return res, nil
}

// compare flags a symbol when it exists on one side only, or when the
// quantities differ by more than Tolerance of the larger absolute quantity
func compare(symbol string, ledger, broker decimal.Decimal) (Discrepancy, bool) {
	d := Discrepancy{
		Symbol:         symbol,
		LedgerQuantity: ledger.InexactFloat64(),
		BrokerQuantity: broker.InexactFloat64(),
		Delta:          broker.Sub(ledger).InexactFloat64(),
	}
	switch {
	case ledger.IsZero() && !broker.IsZero():
		d.Kind = KindMissingInLedger
		d.DeltaPct = 1
		return d, true
	case broker.IsZero() && !ledger.IsZero():
		d.Kind = KindMissingAtBroker
		d.DeltaPct = 1
		return d, true
	}

	larger := decimal.Max(ledger.Abs(), broker.Abs())
	rel := broker.Sub(ledger).Abs().Div(larger)
	d.DeltaPct = rel.InexactFloat64()
	if rel.GreaterThan(Tolerance) {
		d.Kind = KindQuantityMismatch
		return d, true
	}
	return d, false
}

func summarize(res Result) string {
	parts := make([]string, 0, len(res.Discrepancies))
	for _, d := range res.Discrepancies {
		parts = append(parts, fmt.Sprintf("%s %s (ledger %.8g, broker %.8g)", d.Symbol, d.Kind, d.LedgerQuantity, d.BrokerQuantity))
	}
	return "reconciliation discrepancies: " + strings.Join(parts, "; ")
}
