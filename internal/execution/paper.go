package execution

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

// PaperConfig controls simulated slippage and latency
type PaperConfig struct {
	SlippageBpsMin int           `yaml:"slippage_bps_min"`
	SlippageBpsMax int           `yaml:"slippage_bps_max"`
	Latency        time.Duration `yaml:"latency"`
	FeeBps         float64       `yaml:"fee_bps"`
}

// PriceSource returns the last known price for a symbol
type PriceSource interface {
	Position(symbol string) (types.Position, bool)
}

// PaperExecutor fills every order immediately at the reference price plus
// random slippage, and reports the fill to the handler
type PaperExecutor struct {
	cfg     PaperConfig
	handler FillHandler
	prices  PriceSource
	log     *logger.Logger

	mu        sync.Mutex
	rnd       *rand.Rand
	positions map[string]float64
}

func NewPaperExecutor(cfg PaperConfig, handler FillHandler, prices PriceSource, log *logger.Logger) *PaperExecutor {
	if cfg.SlippageBpsMax < cfg.SlippageBpsMin {
		cfg.SlippageBpsMax = cfg.SlippageBpsMin
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PaperExecutor{
		cfg:       cfg,
		handler:   handler,
		prices:    prices,
		log:       log.With("paper_executor"),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		positions: make(map[string]float64),
	}
}

func (p *PaperExecutor) Submit(ctx context.Context, order types.OrderRequest) (types.OrderAck, error) {
	if order.Quantity <= 0 {
		return types.OrderAck{}, fmt.Errorf("invalid order quantity %.8f", order.Quantity)
	}

	price := order.ReferencePrice
	if price <= 0 && p.prices != nil {
		if pos, ok := p.prices.Position(order.Symbol); ok {
			price = pos.MarkPrice
		}
	}
	if price <= 0 {
		return types.OrderAck{}, fmt.Errorf("no reference price for %s", order.Symbol)
	}

	if p.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return types.OrderAck{}, ctx.Err()
		case <-time.After(p.cfg.Latency):
		}
	}

	p.mu.Lock()
	bps := p.cfg.SlippageBpsMin
	if span := p.cfg.SlippageBpsMax - p.cfg.SlippageBpsMin; span > 0 {
		bps += p.rnd.Intn(span + 1)
	}
	p.mu.Unlock()

	slip := 1 + float64(bps)/10000
	if order.Side == types.OrderSideBuy {
		price *= slip
	} else {
		price /= slip
	}

	ack := types.OrderAck{
		OrderID:       "paper-" + uuid.NewString(),
		ClientOrderID: order.ClientOrderID,
		Status:        "Filled",
		SubmittedAt:   time.Now(),
	}
	fill := types.Fill{
		OrderID:       ack.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		Price:         price,
		Fee:           order.Quantity * price * p.cfg.FeeBps / 10000,
		FilledAt:      ack.SubmittedAt,
	}

	p.mu.Lock()
	symbol := strings.ToUpper(order.Symbol)
	p.positions[symbol] += fill.SignedQuantity()
	if math.Abs(p.positions[symbol]) < 1e-9 {
		delete(p.positions, symbol)
	}
	p.mu.Unlock()

	p.log.Info("paper fill %s %s %.8f @ %.4f (%d bps slippage)", order.Side, order.Symbol, order.Quantity, price, bps)
	if p.handler != nil {
		if err := p.handler.ApplyFill(ctx, fill); err != nil {
			return ack, fmt.Errorf("apply paper fill: %w", err)
		}
	}
	return ack, nil
}

// ListPositions returns the simulated venue's net positions
func (p *PaperExecutor) ListPositions(context.Context) ([]types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Position, 0, len(p.positions))
	for symbol, qty := range p.positions {
		out = append(out, types.Position{Symbol: symbol, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
