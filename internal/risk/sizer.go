package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/risk-orchestrator/internal/regime"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

// DefaultRegimeMultipliers is the standard regime sizing table
func DefaultRegimeMultipliers() map[regime.RegimeType]float64 {
	return map[regime.RegimeType]float64{
		regime.TrendingBull:   1.0,
		regime.RangeBound:     0.8,
		regime.TrendingBear:   0.7,
		regime.HighVolatility: 0.5,
		regime.Crisis:         0.0,
	}
}

// SizeResult is the output of PositionSizer.Size
type SizeResult struct {
	Quantity   float64
	RiskAmount float64
	// Capped is true when the 20% position clamp reduced the quantity
	Capped bool
}

// PositionSizer turns a signal into a whole-unit quantity using fixed fractional risk
type PositionSizer struct {
	baseRisk          float64
	regimeMultipliers map[regime.RegimeType]float64
}

// NewPositionSizer creates a sizer. Zero baseRisk and nil tables fall back to defaults.
func NewPositionSizer(baseRisk float64, regimeMultipliers map[regime.RegimeType]float64) *PositionSizer {
	if baseRisk <= 0 {
		baseRisk = DefaultBaseRiskPct
	}
	table := DefaultRegimeMultipliers()
	for k, v := range regimeMultipliers {
		table[k] = v
	}
	return &PositionSizer{baseRisk: baseRisk, regimeMultipliers: table}
}

// RegimeMultiplier returns the table value for r; unknown regimes size to zero
func (s *PositionSizer) RegimeMultiplier(r regime.RegimeType) float64 {
	return s.regimeMultipliers[r]
}

// Size computes
//
//	risk     = capital × baseRisk × confidence × regimeMult × calibrationMult
//	distance = |entry − stop|, or entry × 2% when zero
//	quantity = floor(min(floor(risk / distance) × entry, 20% × capital) / entry)
func (s *PositionSizer) Size(signal types.Signal, capital, regimeMultiplier, calibrationMultiplier float64) SizeResult {
	if capital <= 0 || signal.EntryPrice <= 0 {
		return SizeResult{}
	}

	entry := decimal.NewFromFloat(signal.EntryPrice)
	riskAmount := decimal.NewFromFloat(capital).
		Mul(decimal.NewFromFloat(s.baseRisk)).
		Mul(decimal.NewFromFloat(signal.Confidence)).
		Mul(decimal.NewFromFloat(regimeMultiplier)).
		Mul(decimal.NewFromFloat(calibrationMultiplier))

	distance := decimal.NewFromFloat(math.Abs(signal.EntryPrice - signal.StopLoss))
	if distance.IsZero() {
		distance = entry.Mul(decimal.NewFromFloat(MinStopDistancePct))
	}

	raw := riskAmount.Div(distance).Floor()
	value := raw.Mul(entry)
	maxValue := decimal.NewFromFloat(capital).Mul(decimal.NewFromFloat(MaxPositionPct))

	capped := false
	if value.GreaterThan(maxValue) {
		value = maxValue
		capped = true
	}

	qty := value.Div(entry).Floor()
	if qty.IsNegative() {
		qty = decimal.Zero
	}

	return SizeResult{
		Quantity:   qty.InexactFloat64(),
		RiskAmount: riskAmount.InexactFloat64(),
		Capped:     capped,
	}
}
