package portfolio

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
	"github.com/ducminhle1904/risk-orchestrator/internal/risk"
	"github.com/ducminhle1904/risk-orchestrator/internal/storage"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

const (
	storageKey   = "ledger"
	quantityZero = 1e-9
)

// Position is one ledger entry
type Position = types.Position

// Metrics summarizes equity and losses for the kill switch and the status endpoint
type Metrics struct {
	Equity          float64   `json:"equity"`
	Cash            float64   `json:"cash"`
	PeakEquity      float64   `json:"peak_equity"`
	Drawdown        float64   `json:"drawdown"`
	DailyLoss       float64   `json:"daily_loss"`
	WeeklyLoss      float64   `json:"weekly_loss"`
	RealizedPnL     float64   `json:"realized_pnl"`
	OpenPositions   int       `json:"open_positions"`
	DayStartEquity  float64   `json:"day_start_equity"`
	WeekStartEquity float64   `json:"week_start_equity"`
	AsOf            time.Time `json:"as_of"`
}

// snapshot is the persisted form of the ledger
type snapshot struct {
	Cash            float64              `json:"cash"`
	RealizedPnL     float64              `json:"realized_pnl"`
	Positions       map[string]*Position `json:"positions"`
	Marks           map[string]float64   `json:"marks"`
	PeakEquity      float64              `json:"peak_equity"`
	DayStart        time.Time            `json:"day_start"`
	DayStartEquity  float64              `json:"day_start_equity"`
	WeekStart       time.Time            `json:"week_start"`
	WeekStartEquity float64              `json:"week_start_equity"`
	AppliedFills    []string             `json:"applied_fills"`
	Version         uint64               `json:"version"`
}

// Ledger is the internal record of positions and cash. ApplyFill is the only
// method that changes positions.
type Ledger struct {
	mu    sync.RWMutex
	state snapshot
	seen  map[string]struct{}

	persistMu        sync.Mutex
	persistedVersion uint64

	symbols      risk.SymbolDirectory
	correlations risk.CorrelationMatrix
	store        storage.Store
	log          *logger.Logger
	now          func() time.Time
	loc          *time.Location
}

// Options configures a Ledger
type Options struct {
	StartingCash float64
	Symbols      risk.SymbolDirectory
	Correlations risk.CorrelationMatrix
	Store        storage.Store
	Logger       *logger.Logger
	Location     *time.Location
	Now          func() time.Time
}

func NewLedger(opts Options) *Ledger {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	l := &Ledger{
		seen:         make(map[string]struct{}),
		symbols:      opts.Symbols,
		correlations: opts.Correlations,
		store:        opts.Store,
		log:          opts.Logger.With("ledger"),
		now:          opts.Now,
		loc:          opts.Location,
	}
	now := l.now().In(l.loc)
	l.state = snapshot{
		Cash:            opts.StartingCash,
		Positions:       make(map[string]*Position),
		Marks:           make(map[string]float64),
		PeakEquity:      opts.StartingCash,
		DayStart:        startOfDay(now),
		DayStartEquity:  opts.StartingCash,
		WeekStart:       startOfWeek(now),
		WeekStartEquity: opts.StartingCash,
	}
	return l
}

// Restore loads the persisted ledger, if any
func (l *Ledger) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	var saved snapshot
	err := l.store.Load(ctx, storageKey, &saved)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	if saved.Positions == nil {
		saved.Positions = make(map[string]*Position)
	}
	if saved.Marks == nil {
		saved.Marks = make(map[string]float64)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = saved
	l.persistedVersion = saved.Version
	l.seen = make(map[string]struct{}, len(saved.AppliedFills))
	for _, id := range saved.AppliedFills {
		l.seen[id] = struct{}{}
	}
	l.log.Info("restored ledger with %d open positions, cash %.2f", len(saved.Positions), saved.Cash)
	return nil
}

func fillKey(f types.Fill) string {
	return fmt.Sprintf("%s|%s|%d|%g", f.OrderID, f.ClientOrderID, f.FilledAt.UnixNano(), f.Quantity)
}

// ApplyFill books a confirmed execution. Re-delivered fills are ignored.
func (l *Ledger) ApplyFill(ctx context.Context, fill types.Fill) error {
	if fill.Quantity <= 0 || fill.Price <= 0 {
		return fmt.Errorf("invalid fill for %s: quantity %.8f price %.8f", fill.Symbol, fill.Quantity, fill.Price)
	}
	if fill.Side != types.OrderSideBuy && fill.Side != types.OrderSideSell {
		return fmt.Errorf("invalid fill side %q", fill.Side)
	}
	symbol := strings.ToUpper(fill.Symbol)
	key := fillKey(fill)

	l.mu.Lock()
	if _, dup := l.seen[key]; dup {
		l.mu.Unlock()
		l.log.Debug("ignoring duplicate fill %s", key)
		return nil
	}
	l.seen[key] = struct{}{}
	l.state.AppliedFills = append(l.state.AppliedFills, key)
	if len(l.state.AppliedFills) > 10000 {
		drop := l.state.AppliedFills[0]
		l.state.AppliedFills = l.state.AppliedFills[1:]
		delete(l.seen, drop)
	}

	signed := fill.SignedQuantity()
	pos, ok := l.state.Positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol, OpenedAt: fill.FilledAt}
		l.state.Positions[symbol] = pos
	}

	var realized float64
	switch {
	case math.Abs(pos.Quantity) < quantityZero || sameSign(pos.Quantity, signed):
		total := math.Abs(pos.Quantity) + fill.Quantity
		pos.AvgEntryPrice = (math.Abs(pos.Quantity)*pos.AvgEntryPrice + fill.Quantity*fill.Price) / total
		if math.Abs(pos.Quantity) < quantityZero {
			pos.OpenedAt = fill.FilledAt
		}
		pos.Quantity += signed
	default:
		closing := math.Min(math.Abs(pos.Quantity), fill.Quantity)
		direction := 1.0
		if pos.Quantity < 0 {
			direction = -1.0
		}
		realized = closing * (fill.Price - pos.AvgEntryPrice) * direction
		pos.Quantity += signed
		if math.Abs(pos.Quantity) > quantityZero && !sameSign(pos.Quantity, direction) {
			// flipped through zero: the remainder opens at the fill price
			pos.AvgEntryPrice = fill.Price
			pos.OpenedAt = fill.FilledAt
		}
	}
	realized -= fill.Fee
	pos.RealizedPnL += realized
	l.state.RealizedPnL += realized
	l.state.Cash -= signed*fill.Price + fill.Fee
	l.state.Marks[symbol] = fill.Price

	if math.Abs(pos.Quantity) < quantityZero {
		delete(l.state.Positions, symbol)
	}
	l.refreshLocked()
	l.state.Version++
	snap := l.copyLocked()
	l.mu.Unlock()

	l.log.Info("fill applied: %s %s %.8f @ %.4f (realized %.2f)", fill.Side, symbol, fill.Quantity, fill.Price, realized)
	return l.persist(ctx, snap)
}

// UpdateMark records the latest price for a symbol
func (l *Ledger) UpdateMark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Marks[strings.ToUpper(symbol)] = price
	l.refreshLocked()
}

// Positions returns open positions sorted by symbol
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.state.Positions))
	for _, p := range l.state.Positions {
		out = append(out, l.valuedLocked(*p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ListPositions satisfies the position source used by the reconciler and kill switch
func (l *Ledger) ListPositions(context.Context) ([]Position, error) {
	return l.Positions(), nil
}

// Position returns the open position for symbol
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.state.Positions[strings.ToUpper(symbol)]
	if !ok {
		return Position{}, false
	}
	return l.valuedLocked(*p), true
}

// Exposure builds the risk view of the current book
func (l *Ledger) Exposure() risk.Exposure {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e := risk.Exposure{
		Capital:        l.equityLocked(),
		Cash:           l.state.Cash,
		Quantities:     make(map[string]float64, len(l.state.Positions)),
		PositionValues: make(map[string]float64, len(l.state.Positions)),
		Sectors:        make(map[string]float64),
		AssetClasses:   make(map[types.AssetClass]float64),
		Currencies:     make(map[string]float64),
		Correlations:   l.correlations,
	}
	for symbol, p := range l.state.Positions {
		v := l.valuedLocked(*p).MarketValue()
		e.Quantities[symbol] = p.Quantity
		e.PositionValues[symbol] = v
		info := l.symbols.Lookup(symbol, types.SignalMetadata{})
		if info.Sector != "" {
			e.Sectors[info.Sector] += v
		}
		if info.AssetClass != "" {
			e.AssetClasses[info.AssetClass] += v
		}
		if info.Currency != "" {
			e.Currencies[info.Currency] += v
		}
	}
	return e
}

// Metrics returns equity, drawdown and period losses, rolling day/week baselines as needed
func (l *Ledger) Metrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshLocked()

	equity := l.equityLocked()
	m := Metrics{
		Equity:          equity,
		Cash:            l.state.Cash,
		PeakEquity:      l.state.PeakEquity,
		RealizedPnL:     l.state.RealizedPnL,
		OpenPositions:   len(l.state.Positions),
		DayStartEquity:  l.state.DayStartEquity,
		WeekStartEquity: l.state.WeekStartEquity,
		AsOf:            l.now(),
	}
	m.Drawdown = lossFraction(l.state.PeakEquity, equity)
	m.DailyLoss = lossFraction(l.state.DayStartEquity, equity)
	m.WeeklyLoss = lossFraction(l.state.WeekStartEquity, equity)
	return m
}

// Drawdown returns the decline from peak equity as a fraction
func (l *Ledger) Drawdown() float64 {
	return l.Metrics().Drawdown
}

// refreshLocked updates the peak and rolls the day/week baselines
func (l *Ledger) refreshLocked() {
	equity := l.equityLocked()
	if equity > l.state.PeakEquity {
		l.state.PeakEquity = equity
	}
	now := l.now().In(l.loc)
	if day := startOfDay(now); day.After(l.state.DayStart) {
		l.state.DayStart = day
		l.state.DayStartEquity = equity
	}
	if week := startOfWeek(now); week.After(l.state.WeekStart) {
		l.state.WeekStart = week
		l.state.WeekStartEquity = equity
	}
}

func (l *Ledger) equityLocked() float64 {
	equity := l.state.Cash
	for symbol, p := range l.state.Positions {
		equity += p.Quantity * l.markLocked(symbol, p.AvgEntryPrice)
	}
	return equity
}

func (l *Ledger) markLocked(symbol string, fallback float64) float64 {
	if m, ok := l.state.Marks[symbol]; ok && m > 0 {
		return m
	}
	return fallback
}

func (l *Ledger) valuedLocked(p Position) Position {
	p.MarkPrice = l.markLocked(p.Symbol, p.AvgEntryPrice)
	p.UnrealizedPnL = p.Quantity * (p.MarkPrice - p.AvgEntryPrice)
	return p
}

func (l *Ledger) copyLocked() snapshot {
	s := l.state
	s.Positions = make(map[string]*Position, len(l.state.Positions))
	for k, v := range l.state.Positions {
		p := *v
		s.Positions[k] = &p
	}
	s.Marks = make(map[string]float64, len(l.state.Marks))
	for k, v := range l.state.Marks {
		s.Marks[k] = v
	}
	s.AppliedFills = append([]string(nil), l.state.AppliedFills...)
	return s
}

func (l *Ledger) persist(ctx context.Context, snap snapshot) error {
	if l.store == nil {
		return nil
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	// a newer snapshot was already written by a concurrent fill
	if snap.Version <= l.persistedVersion {
		return nil
	}
	l.persistedVersion = snap.Version
	if err := l.store.Save(ctx, storageKey, snap); err != nil {
		l.log.LogError("persist ledger", err)
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func lossFraction(base, equity float64) float64 {
	if base <= 0 || equity >= base {
		return 0
	}
	return (base - equity) / base
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
