package regime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoReading is returned when the regime model never reported for the symbol or market
	ErrNoReading = errors.New("no regime reading available")
	// ErrStaleReading is returned when the latest reading is older than the allowed age
	ErrStaleReading = errors.New("regime reading is stale")
)

// Provider answers the current regime for a symbol
type Provider interface {
	Current(ctx context.Context, symbol string) (Reading, error)
}

// Tracker keeps the latest reading per symbol, plus a market-wide reading
// used when a symbol has none of its own
type Tracker struct {
	mu       sync.RWMutex
	readings map[string]Reading
	market   *Reading
	maxAge   time.Duration
	now      func() time.Time

	subMu       sync.RWMutex
	subscribers []func(RegimeChange)
}

// NewTracker creates a tracker rejecting readings older than maxAge (0 disables the check)
func NewTracker(maxAge time.Duration) *Tracker {
	return &Tracker{
		readings: make(map[string]Reading),
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Subscribe registers fn for regime changes
func (t *Tracker) Subscribe(fn func(RegimeChange)) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	t.subscribers = append(t.subscribers, fn)
}

// Update stores a new reading and publishes a change if the label moved
func (t *Tracker) Update(r Reading) error {
	if !r.Regime.Valid() {
		return fmt.Errorf("invalid regime reading: %q", r.Regime)
	}
	if r.Probability < 0 || r.Probability > 1 {
		return fmt.Errorf("invalid regime probability %.4f", r.Probability)
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = t.now()
	}
	r.Symbol = strings.ToUpper(r.Symbol)

	t.mu.Lock()
	var prev RegimeType
	if r.Symbol == "" {
		if t.market != nil {
			prev = t.market.Regime
		}
		t.market = &r
	} else {
		prev = t.readings[r.Symbol].Regime
		t.readings[r.Symbol] = r
	}
	t.mu.Unlock()

	if prev != "" && prev != r.Regime {
		change := RegimeChange{Symbol: r.Symbol, OldRegime: prev, NewRegime: r.Regime, At: r.UpdatedAt}
		t.subMu.RLock()
		subs := append([]func(RegimeChange){}, t.subscribers...)
		t.subMu.RUnlock()
		for _, fn := range subs {
			fn(change)
		}
	}
	return nil
}

// Current implements Provider
func (t *Tracker) Current(ctx context.Context, symbol string) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	t.mu.RLock()
	r, ok := t.readings[strings.ToUpper(symbol)]
	if !ok && t.market != nil {
		r, ok = *t.market, true
	}
	t.mu.RUnlock()

	if !ok {
		return Reading{}, ErrNoReading
	}
	if t.maxAge > 0 && t.now().Sub(r.UpdatedAt) > t.maxAge {
		return Reading{}, fmt.Errorf("%w: %s updated %s ago", ErrStaleReading, r.Regime, t.now().Sub(r.UpdatedAt).Round(time.Second))
	}
	return r, nil
}
