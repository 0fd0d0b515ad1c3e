package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/ducminhle1904/risk-orchestrator/internal/regime"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

// Adjustment records one change the gate made to the requested quantity
type Adjustment struct {
	Reason     string  `json:"reason"`
	Multiplier float64 `json:"multiplier"`
}

// Decision is the gate's verdict on one signal. It is never modified after Validate returns.
type Decision struct {
	Approved              bool         `json:"approved"`
	RequestedQuantity     float64      `json:"requested_quantity"`
	AdjustedQuantity      float64      `json:"adjusted_quantity"`
	Adjustments           []Adjustment `json:"adjustments,omitempty"`
	Warnings              []string     `json:"warnings,omitempty"`
	RejectionReason       string       `json:"rejection_reason,omitempty"`
	RiskAmount            float64      `json:"risk_amount"`
	RegimeMultiplier      float64      `json:"regime_multiplier"`
	CalibrationMultiplier float64      `json:"calibration_multiplier"`
	// InvariantViolation is set when the gate refused its own output as inconsistent
	InvariantViolation bool `json:"invariant_violation,omitempty"`
}

// CalibrationSource supplies the current calibration multiplier
type CalibrationSource interface {
	Multiplier() float64
}

// Gate applies the hard risk limits in a fixed order and sizes approved entries.
// It has no side effects.
type Gate struct {
	sizer       *PositionSizer
	calibration CalibrationSource
	symbols     SymbolDirectory
}

func NewGate(sizer *PositionSizer, calibration CalibrationSource, symbols SymbolDirectory) *Gate {
	if sizer == nil {
		sizer = NewPositionSizer(0, nil)
	}
	if symbols == nil {
		symbols = SymbolDirectory{}
	}
	return &Gate{sizer: sizer, calibration: calibration, symbols: symbols}
}

func reject(d Decision, format string, args ...interface{}) Decision {
	d.Approved = false
	d.AdjustedQuantity = 0
	d.RejectionReason = fmt.Sprintf(format, args...)
	return d
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// Validate checks signal against the book. Limits are evaluated in order and
// the first rejection wins:
//
//  1. cash reserve at least 10% of capital
//  2. drawdown at most 15%
//  3. sector exposure including the trade at most 40%
//  4. position value at most 20% of capital (capped, not rejected)
//  5. correlation with the book above 0.70 halves the size
//  6. USD exposure at most 50%, crypto at most 15%
func (g *Gate) Validate(signal types.Signal, exposure Exposure, drawdown float64, current regime.RegimeType) Decision {
	if !signal.IsEntry() {
		return g.validateClose(signal, exposure)
	}

	d := Decision{
		RegimeMultiplier:      g.sizer.RegimeMultiplier(current),
		CalibrationMultiplier: 0,
	}
	if g.calibration != nil {
		d.CalibrationMultiplier = g.calibration.Multiplier()
	}

	if exposure.Capital <= 0 {
		return reject(d, "capital unavailable")
	}

	if cash := exposure.CashReservePct(); cash < MinCashReservePct {
		return reject(d, "cash reserve %s below %s minimum", pct(cash), pct(MinCashReservePct))
	}

	if drawdown > MaxDrawdownPct {
		return reject(d, "drawdown %s exceeds %s ceiling", pct(drawdown), pct(MaxDrawdownPct))
	}

	size := g.sizer.Size(signal, exposure.Capital, d.RegimeMultiplier, d.CalibrationMultiplier)
	d.RequestedQuantity = size.Quantity
	d.RiskAmount = size.RiskAmount
	qty := size.Quantity
	if size.Capped {
		d.Adjustments = append(d.Adjustments, Adjustment{Reason: "sizer clamped trade value to " + pct(MaxPositionPct) + " of capital", Multiplier: 1})
	}

	info := g.symbols.Lookup(signal.Symbol, signal.Metadata)
	tradeValue := qty * signal.EntryPrice

	if info.Sector != "" {
		sectorPct := (exposure.Sectors[info.Sector] + tradeValue) / exposure.Capital
		if sectorPct > MaxSectorExposurePct {
			return reject(d, "sector %s exposure %s would exceed %s limit", info.Sector, pct(sectorPct), pct(MaxSectorExposurePct))
		}
	}

	held := exposure.PositionValues[strings.ToUpper(signal.Symbol)]
	maxValue := exposure.Capital * MaxPositionPct
	if held+tradeValue > maxValue {
		capped := math.Floor(math.Max(maxValue-held, 0) / signal.EntryPrice)
		if capped <= 0 {
			return reject(d, "position in %s already at %s of capital limit", signal.Symbol, pct(MaxPositionPct))
		}
		d.Adjustments = append(d.Adjustments, Adjustment{
			Reason:     fmt.Sprintf("position capped at %s of capital", pct(MaxPositionPct)),
			Multiplier: capped / qty,
		})
		qty = capped
	}

	if corr, with := exposure.MaxCorrelationWith(signal.Symbol); corr > MaxCorrelation {
		qty = math.Floor(qty * CorrelationSizeMultiplier)
		d.Adjustments = append(d.Adjustments, Adjustment{
			Reason:     fmt.Sprintf("correlation %.2f with %s above %.2f", corr, with, MaxCorrelation),
			Multiplier: CorrelationSizeMultiplier,
		})
		d.Warnings = append(d.Warnings, fmt.Sprintf("%s highly correlated with held %s (%.2f)", signal.Symbol, with, corr))
	}

	tradeValue = qty * signal.EntryPrice
	if info.Currency == "USD" {
		usdPct := (exposure.Currencies["USD"] + tradeValue) / exposure.Capital
		if usdPct > MaxUSDExposurePct {
			return reject(d, "USD exposure %s would exceed %s limit", pct(usdPct), pct(MaxUSDExposurePct))
		}
	}
	if info.AssetClass == types.AssetClassCrypto {
		cryptoPct := (exposure.AssetClasses[types.AssetClassCrypto] + tradeValue) / exposure.Capital
		if cryptoPct > MaxCryptoExposurePct {
			return reject(d, "crypto exposure %s would exceed %s limit", pct(cryptoPct), pct(MaxCryptoExposurePct))
		}
	}

	if qty <= 0 {
		return reject(d, "position size is zero (regime multiplier %.2f, calibration multiplier %.2f)", d.RegimeMultiplier, d.CalibrationMultiplier)
	}

	// a long entry spends cash, so the reserve must still hold once it fills
	if signal.Direction == types.DirectionLong {
		if after := (exposure.Cash - qty*signal.EntryPrice) / exposure.Capital; after < MinCashReservePct {
			return reject(d, "cash reserve after trade %s below %s minimum", pct(after), pct(MinCashReservePct))
		}
	}

	d.Approved = true
	d.AdjustedQuantity = qty
	return g.checkInvariants(d, signal, exposure.Capital)
}

// validateClose approves exits for the full held quantity; entry limits do not apply
func (g *Gate) validateClose(signal types.Signal, exposure Exposure) Decision {
	held := math.Abs(exposure.Quantities[strings.ToUpper(signal.Symbol)])
	d := Decision{RequestedQuantity: held}
	if held == 0 {
		return reject(d, "no open position in %s to close", signal.Symbol)
	}
	d.Approved = true
	d.AdjustedQuantity = held
	return d
}

func (g *Gate) checkInvariants(d Decision, signal types.Signal, capital float64) Decision {
	const epsilon = 1e-9
	switch {
	case d.AdjustedQuantity < 0:
		d = reject(d, "invariant violation: negative quantity %.4f", d.AdjustedQuantity)
		d.InvariantViolation = true
	case d.AdjustedQuantity*signal.EntryPrice > capital*MaxPositionPct+epsilon:
		d = reject(d, "invariant violation: trade value %.2f above hard cap %.2f", d.AdjustedQuantity*signal.EntryPrice, capital*MaxPositionPct)
		d.InvariantViolation = true
	}
	return d
}
