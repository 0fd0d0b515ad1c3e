package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

func voteSignal(producer string, dir types.Direction, confidence float64, at time.Time) types.Signal {
	return types.Signal{Symbol: "aapl", Producer: producer, Direction: dir, Confidence: confidence, Timestamp: at}
}

func TestAggregatorWindowAndDirection(t *testing.T) {
	now := time.Now()
	a := newConfidenceAggregator(5*time.Minute, map[string]float64{"Model": 3})

	a.observe(voteSignal("model", types.DirectionLong, 0.8, now.Add(-time.Minute)))
	a.observe(voteSignal("news", types.DirectionShort, 0.9, now.Add(-time.Minute)))
	a.observe(voteSignal("old", types.DirectionLong, 0.1, now.Add(-10*time.Minute)))

	sig := voteSignal("technical", types.DirectionLong, 0.4, now)
	a.observe(sig)

	// (3*0.8 + 1*0.4) / 4; the short vote and the expired vote are ignored
	assert.InDelta(t, 0.7, a.score(sig, now), 1e-9)
}

func TestAggregatorKeepsLatestPerProducer(t *testing.T) {
	now := time.Now()
	a := newConfidenceAggregator(time.Minute, nil)

	a.observe(voteSignal("p", types.DirectionLong, 0.9, now))
	a.observe(voteSignal("p", types.DirectionLong, 0.2, now.Add(-time.Second)))

	assert.InDelta(t, 0.9, a.score(voteSignal("p", types.DirectionLong, 0.9, now), now), 1e-9)
}

func TestAggregatorZeroWeightProducer(t *testing.T) {
	now := time.Now()
	a := newConfidenceAggregator(time.Minute, map[string]float64{"muted": 0})
	sig := voteSignal("muted", types.DirectionLong, 0.9, now)
	a.observe(sig)
	assert.Zero(t, a.score(sig, now))
}
