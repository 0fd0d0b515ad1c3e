package orchestrator

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ducminhle1904/risk-orchestrator/internal/audit"
	coreerrors "github.com/ducminhle1904/risk-orchestrator/internal/errors"
	"github.com/ducminhle1904/risk-orchestrator/internal/execution"
	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
	"github.com/ducminhle1904/risk-orchestrator/internal/monitoring"
	"github.com/ducminhle1904/risk-orchestrator/internal/notifications"
	"github.com/ducminhle1904/risk-orchestrator/internal/regime"
	"github.com/ducminhle1904/risk-orchestrator/internal/risk"
	"github.com/ducminhle1904/risk-orchestrator/internal/safety"
	"github.com/ducminhle1904/risk-orchestrator/internal/state"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

const component = "orchestrator"

// Rejection reasons with a stable prefix
const (
	ReasonInvalidSignal   = "invalid signal"
	ReasonExpired         = "signal expired"
	ReasonDuplicate       = "duplicate signal"
	ReasonModeForbids     = "system mode forbids entries"
	ReasonModeForbidsExit = "system mode forbids exits"
	ReasonKillSwitch      = "kill switch triggered"
	ReasonRegime          = "regime incompatible"
	ReasonLowConfidence   = "low confidence"
	ReasonDefensiveFloor  = "defensive mode confidence floor"
	ReasonInternalPrefix  = "internal error: "
)

// ModeReader is the read side of the state manager
type ModeReader interface {
	Mode() state.Mode
	AllowsNewEntries() bool
	AllowsExits() bool
}

// TriggerReader reports whether the kill switch currently owns the book
type TriggerReader interface {
	Triggered() bool
}

// Book supplies the exposure snapshot and drawdown the risk gate evaluates against
type Book interface {
	Exposure() risk.Exposure
	Drawdown() float64
}

// Dependencies are the collaborators of the orchestrator. All are required except
// KillSwitch, Notifier and Logger.
type Dependencies struct {
	Modes         ModeReader
	KillSwitch    TriggerReader
	Regimes       regime.Provider
	Compatibility regime.Compatibility
	Gate          *risk.Gate
	Book          Book
	Executor      execution.Executor
	Breakers      *safety.Registry
	Audit         audit.Sink
	Notifier      notifications.Notifier
	Logger        *logger.Logger
}

// Outcome is the result of processing one signal
type Outcome struct {
	DecisionID    string
	Status        audit.Outcome
	Reason        string
	Stage         string
	Regime        regime.RegimeType
	WeightedScore float64
	Decision      risk.Decision
	Order         *types.OrderRequest
	Ack           *types.OrderAck
}

// Orchestrator runs every signal through the decision pipeline. Signals for one
// symbol are processed in arrival order by a single shard worker.
type Orchestrator struct {
	cfg  Config
	deps Dependencies

	validate   *validator.Validate
	dedupe     *deduper
	aggregator *confidenceAggregator
	queues     []chan types.Signal

	log *logger.Logger
	now func() time.Time
}

func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if deps.Modes == nil || deps.Regimes == nil || deps.Gate == nil || deps.Book == nil ||
		deps.Executor == nil || deps.Breakers == nil || deps.Audit == nil {
		return nil, fmt.Errorf("orchestrator: missing required dependency")
	}
	if deps.Compatibility == nil {
		deps.Compatibility = regime.DefaultCompatibility()
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}

	dedupe, err := newDeduper(cfg.DedupeTTL, cfg.DedupeMaxMB)
	if err != nil {
		return nil, err
	}

	queues := make([]chan types.Signal, cfg.Shards)
	for i := range queues {
		queues[i] = make(chan types.Signal, cfg.QueueSize)
	}

	return &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		validate:   validator.New(),
		dedupe:     dedupe,
		aggregator: newConfidenceAggregator(cfg.AggregationWindow, cfg.ProducerWeights),
		queues:     queues,
		log:        deps.Logger.With(component),
		now:        time.Now,
	}, nil
}

func (o *Orchestrator) shardFor(symbol string) int {
	h := fnv.New32a()
	h.Write([]byte(strings.ToUpper(symbol)))
	return int(h.Sum32() % uint32(len(o.queues)))
}

// Submit enqueues sig on its symbol's shard. It blocks while the shard is full.
func (o *Orchestrator) Submit(ctx context.Context, sig types.Signal) error {
	shard := o.shardFor(sig.Symbol)
	select {
	case o.queues[shard] <- sig:
		monitoring.SetQueueDepth(strconv.Itoa(shard), len(o.queues[shard]))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts one worker per shard and blocks until ctx is cancelled
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, q := range o.queues {
		shard, queue := strconv.Itoa(i), q
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case sig := <-queue:
					monitoring.SetQueueDepth(shard, len(queue))
					o.Process(ctx, sig)
				}
			}
		})
	}
	o.log.Info("orchestrator started with %d shards (queue size %d)", len(o.queues), o.cfg.QueueSize)
	err := g.Wait()
	if cerr := o.dedupe.close(); cerr != nil {
		o.log.LogError("close dedupe cache", cerr)
	}
	return err
}

// Process runs the full pipeline for one signal and audits the outcome
func (o *Orchestrator) Process(ctx context.Context, sig types.Signal) (out Outcome) {
	start := o.now()
	out = Outcome{DecisionID: uuid.NewString()}
	stage := "validation"
	mode := o.deps.Modes.Mode()

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("panic in %s while processing %s: %v", stage, sig.Symbol, r)
			monitoring.RecordError(string(coreerrors.CategoryInvariant), stage)
			out = Outcome{DecisionID: out.DecisionID, Status: audit.OutcomeError, Reason: ReasonInternalPrefix + stage, Stage: stage}
		}
		if out.Stage == "" {
			out.Stage = stage
		}
		o.finish(ctx, sig, mode, out, start)
	}()

	// 0. schema, expiry, idempotency
	if err := o.validate.Struct(sig); err != nil {
		return o.rejected(out, audit.OutcomeRejected, fmt.Sprintf("%s: %s", ReasonInvalidSignal, firstValidationError(err)))
	}
	stage = "expiry"
	if sig.Expired(o.now()) {
		return o.rejected(out, audit.OutcomeExpired, ReasonExpired)
	}
	stage = "dedupe"
	dup, err := o.dedupe.seen(sig.Key())
	if err != nil {
		o.log.LogError("dedupe lookup", err)
	}
	if dup {
		return o.rejected(out, audit.OutcomeDuplicate, ReasonDuplicate)
	}
	if sig.IsEntry() {
		o.aggregator.observe(sig)
	}

	// 1. operating mode
	stage = "mode"
	if reason, ok := o.modeAllows(sig); !ok {
		return o.rejected(out, audit.OutcomeRejected, reason)
	}

	// 2. regime
	stage = "regime"
	var current regime.Reading
	if sig.IsEntry() {
		reading, err := o.queryRegime(ctx, sig.Symbol)
		if err != nil {
			o.log.LogError("regime query for "+sig.Symbol, err)
			monitoring.RecordError(string(coreerrors.CategoryOf(err)), stage)
			return o.rejected(out, audit.OutcomeError, ReasonInternalPrefix+stage)
		}
		current = reading
		out.Regime = reading.Regime
		if !o.deps.Compatibility.Allows(sig.Strategy, reading.Regime) {
			return o.rejected(out, audit.OutcomeRejected,
				fmt.Sprintf("%s: strategy %s not allowed in %s", ReasonRegime, sig.Strategy, reading.Regime))
		}
	}

	// 3. risk gate
	stage = "risk"
	exposure := o.deps.Book.Exposure()
	decision := o.deps.Gate.Validate(sig, exposure, o.deps.Book.Drawdown(), current.Regime)
	out.Decision = decision
	if decision.InvariantViolation {
		o.log.Error("risk gate invariant violation for %s: %s", sig.Symbol, decision.RejectionReason)
		monitoring.RecordError(string(coreerrors.CategoryInvariant), stage)
		notifications.Send(ctx, o.deps.Notifier, notifications.SeverityCritical, component, decision.RejectionReason,
			map[string]string{"symbol": sig.Symbol, "signal_id": sig.ID})
	}
	if !decision.Approved {
		return o.rejected(out, audit.OutcomeRejected, decision.RejectionReason)
	}
	quantity := decision.AdjustedQuantity

	// 4. weighted confidence
	stage = "confidence"
	if sig.IsEntry() {
		score := o.aggregator.score(sig, o.now())
		out.WeightedScore = score
		switch {
		case score < o.cfg.MinConfidence:
			return o.rejected(out, audit.OutcomeDiscarded,
				fmt.Sprintf("%s: weighted score %.2f below %.2f", ReasonLowConfidence, score, o.cfg.MinConfidence))
		case o.deps.Modes.Mode() == state.ModeDefensive && score < o.cfg.DefensiveFloor:
			return o.rejected(out, audit.OutcomeRejected,
				fmt.Sprintf("%s: weighted score %.2f below %.2f", ReasonDefensiveFloor, score, o.cfg.DefensiveFloor))
		case score < o.cfg.FullConfidence:
			quantity = math.Floor(quantity * o.cfg.ReducedSizeFactor)
			if quantity <= 0 {
				return o.rejected(out, audit.OutcomeRejected, "position size is zero after confidence reduction")
			}
		}
	}

	// 5. emit
	stage = "execution"
	if reason, ok := o.modeAllows(sig); !ok {
		return o.rejected(out, audit.OutcomeRejected, reason)
	}
	order := o.buildOrder(out.DecisionID, sig, quantity, exposure)
	out.Order = &order

	ack, err := o.submit(ctx, order)
	if err != nil {
		o.log.LogError("submit order for "+sig.Symbol, err)
		monitoring.RecordError(string(coreerrors.CategoryOf(err)), stage)
		return o.rejected(out, audit.OutcomeError, ReasonInternalPrefix+stage)
	}
	out.Ack = &ack
	out.Status = audit.OutcomeApproved
	return out
}

func (o *Orchestrator) rejected(out Outcome, status audit.Outcome, reason string) Outcome {
	out.Status = status
	out.Reason = reason
	return out
}

func (o *Orchestrator) modeAllows(sig types.Signal) (string, bool) {
	if o.deps.KillSwitch != nil && o.deps.KillSwitch.Triggered() {
		return ReasonKillSwitch, false
	}
	if sig.IsEntry() {
		if !o.deps.Modes.AllowsNewEntries() {
			return ReasonModeForbids, false
		}
		return "", true
	}
	if !o.deps.Modes.AllowsExits() {
		return ReasonModeForbidsExit, false
	}
	return "", true
}

// queryRegime asks the provider through the model_inference breaker with a bounded timeout
func (o *Orchestrator) queryRegime(ctx context.Context, symbol string) (regime.Reading, error) {
	var reading regime.Reading
	breaker := o.deps.Breakers.MustGet(safety.BreakerModelInference)
	err := breaker.Call(ctx, func(ctx context.Context) error {
		rctx, cancel := context.WithTimeout(ctx, o.cfg.RegimeTimeout)
		defer cancel()
		r, err := o.deps.Regimes.Current(rctx, symbol)
		if err != nil {
			return coreerrors.NewDependencyError("regime", "current", err)
		}
		reading = r
		return nil
	})
	return reading, err
}

// submit sends the order through the broker_connection breaker with a bounded timeout
func (o *Orchestrator) submit(ctx context.Context, order types.OrderRequest) (types.OrderAck, error) {
	var ack types.OrderAck
	breaker := o.deps.Breakers.MustGet(safety.BreakerBrokerConnection)
	err := breaker.Call(ctx, func(ctx context.Context) error {
		ectx, cancel := context.WithTimeout(ctx, o.cfg.ExecutionTimeout)
		defer cancel()
		a, err := o.deps.Executor.Submit(ectx, order)
		if err != nil {
			return coreerrors.NewDependencyError("execution", "submit", err)
		}
		ack = a
		return nil
	})
	return ack, err
}

func (o *Orchestrator) buildOrder(decisionID string, sig types.Signal, quantity float64, exposure risk.Exposure) types.OrderRequest {
	order := types.OrderRequest{
		ClientOrderID:  decisionID,
		DecisionID:     decisionID,
		Symbol:         strings.ToUpper(sig.Symbol),
		Type:           types.OrderTypeMarket,
		Quantity:       quantity,
		ReferencePrice: sig.EntryPrice,
		Reason:         fmt.Sprintf("%s/%s", sig.Producer, sig.Strategy),
	}
	switch sig.Direction {
	case types.DirectionLong:
		order.Side = types.OrderSideBuy
	case types.DirectionShort:
		order.Side = types.OrderSideSell
	default:
		order.Side = types.OrderSideSell
		if exposure.Quantities[order.Symbol] < 0 {
			order.Side = types.OrderSideBuy
		}
		order.ReduceOnly = true
		return order
	}
	order.StopLoss = sig.StopLoss
	order.TakeProfit = sig.TargetPrice
	return order
}

// finish logs, exports and audits the outcome
func (o *Orchestrator) finish(ctx context.Context, sig types.Signal, mode state.Mode, out Outcome, start time.Time) {
	latency := o.now().Sub(start)
	monitoring.RecordDecision(string(out.Status), out.Stage, latency)

	if out.Status == audit.OutcomeApproved {
		o.log.Decision("APPROVED %s %s qty=%.4f score=%.2f regime=%s order=%s",
			sig.Direction, sig.Symbol, out.Order.Quantity, out.WeightedScore, out.Regime, out.Ack.OrderID)
	} else {
		o.log.Decision("%s %s %s from %s: %s", strings.ToUpper(string(out.Status)), sig.Direction, sig.Symbol, sig.Producer, out.Reason)
	}

	rec := audit.Record{
		ID:                out.DecisionID,
		SignalID:          sig.ID,
		Symbol:            strings.ToUpper(sig.Symbol),
		Producer:          sig.Producer,
		Strategy:          sig.Strategy,
		Direction:         string(sig.Direction),
		Outcome:           out.Status,
		Reason:            out.Reason,
		Mode:              string(mode),
		Regime:            string(out.Regime),
		Confidence:        sig.Confidence,
		WeightedScore:     out.WeightedScore,
		RequestedQuantity: out.Decision.RequestedQuantity,
		ApprovedQuantity:  out.Decision.AdjustedQuantity,
		Warnings:          out.Decision.Warnings,
		LatencyMs:         latency.Milliseconds(),
		Timestamp:         o.now().UTC(),
	}
	for _, adj := range out.Decision.Adjustments {
		rec.Adjustments = append(rec.Adjustments, fmt.Sprintf("%s (x%.2f)", adj.Reason, adj.Multiplier))
	}
	if out.Order != nil {
		rec.ApprovedQuantity = out.Order.Quantity
	}
	if out.Ack != nil {
		rec.OrderID = out.Ack.OrderID
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.AuditTimeout)
	defer cancel()
	if err := o.deps.Audit.Append(actx, rec); err != nil {
		o.log.LogError("append audit record "+rec.ID, err)
		monitoring.RecordError(string(coreerrors.CategoryDependency), "audit")
	}
}

func firstValidationError(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed %q", fe.Namespace(), fe.Tag())
	}
	return err.Error()
}
