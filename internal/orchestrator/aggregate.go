package orchestrator

import (
	"strings"
	"sync"
	"time"

	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

type vote struct {
	direction  types.Direction
	confidence float64
	at         time.Time
}

// confidenceAggregator combines the latest opinion of each producer on a symbol
// into one weighted score
type confidenceAggregator struct {
	mu      sync.Mutex
	window  time.Duration
	weights map[string]float64
	votes   map[string]map[string]vote // symbol -> producer -> latest vote
}

func newConfidenceAggregator(window time.Duration, weights map[string]float64) *confidenceAggregator {
	w := make(map[string]float64, len(weights))
	for k, v := range weights {
		w[strings.ToLower(k)] = v
	}
	return &confidenceAggregator{
		window:  window,
		weights: w,
		votes:   make(map[string]map[string]vote),
	}
}

func (a *confidenceAggregator) weight(producer string) float64 {
	if w, ok := a.weights[strings.ToLower(producer)]; ok {
		return w
	}
	return 1.0
}

// observe records sig as its producer's latest vote on the symbol
func (a *confidenceAggregator) observe(sig types.Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sym := strings.ToUpper(sig.Symbol)
	byProducer, ok := a.votes[sym]
	if !ok {
		byProducer = make(map[string]vote)
		a.votes[sym] = byProducer
	}
	if prev, ok := byProducer[sig.Producer]; ok && prev.at.After(sig.Timestamp) {
		return
	}
	byProducer[sig.Producer] = vote{direction: sig.Direction, confidence: sig.Confidence, at: sig.Timestamp}
}

// score returns the weighted mean confidence of votes in the same direction as sig
// within the window ending at now. sig itself always counts.
func (a *confidenceAggregator) score(sig types.Signal, now time.Time) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	sym := strings.ToUpper(sig.Symbol)
	cutoff := now.Add(-a.window)

	var sum, weights float64
	counted := false
	for producer, v := range a.votes[sym] {
		if v.at.Before(cutoff) {
			delete(a.votes[sym], producer)
			continue
		}
		if v.direction != sig.Direction {
			continue
		}
		w := a.weight(producer)
		sum += w * v.confidence
		weights += w
		if producer == sig.Producer {
			counted = true
		}
	}
	if !counted {
		w := a.weight(sig.Producer)
		sum += w * sig.Confidence
		weights += w
	}
	if len(a.votes[sym]) == 0 {
		delete(a.votes, sym)
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}
