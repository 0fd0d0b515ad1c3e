package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/risk-orchestrator/internal/regime"
	"github.com/ducminhle1904/risk-orchestrator/internal/risk"
	"github.com/ducminhle1904/risk-orchestrator/internal/safety"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

type marks struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (m *marks) UpdateMark(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prices == nil {
		m.prices = map[string]float64{}
	}
	m.prices[symbol] = price
}

func testSource(h *Handlers) *KafkaSource {
	return &KafkaSource{
		cfg:      KafkaConfig{SignalTopic: "signals", RegimeTopic: "regime", PriceTopic: "prices"},
		handlers: h,
	}
}

func TestDispatchSignal(t *testing.T) {
	var got []types.Signal
	h := &Handlers{Signals: func(_ context.Context, s types.Signal) error {
		got = append(got, s)
		return nil
	}}
	payload, err := json.Marshal(types.Signal{ID: "s1", Symbol: "AAPL", Producer: "technical", Direction: types.DirectionLong})
	require.NoError(t, err)

	err = testSource(h).dispatch(context.Background(), &sarama.ConsumerMessage{Topic: "signals", Value: payload})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
}

func TestDecodeFailureCountsAgainstProducerBreaker(t *testing.T) {
	news := safety.NewCircuitBreaker(safety.BreakerNewsFeed, safety.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute, SuccessThreshold: 1})
	h := &Handlers{ProducerBreakers: map[string]*safety.CircuitBreaker{"news": news}}
	src := testSource(h)

	msg := &sarama.ConsumerMessage{
		Topic:   "signals",
		Value:   []byte("{not json"),
		Headers: []*sarama.RecordHeader{{Key: []byte("producer"), Value: []byte("News")}},
	}
	assert.Error(t, src.dispatch(context.Background(), msg))
	assert.Error(t, src.dispatch(context.Background(), msg))
	assert.Equal(t, safety.StateOpen, news.GetState())
}

func TestRegimeMessageUpdatesTrackerAndCalibration(t *testing.T) {
	tracker := regime.NewTracker(0)
	calibration := risk.NewCalibrationMonitor()
	h := &Handlers{Regimes: tracker, Calibration: calibration}

	calErr := 0.08
	payload, _ := json.Marshal(RegimeMessage{Regime: "range_bound", Probability: 0.7, CalibrationError: &calErr, UpdatedAt: time.Now()})
	require.NoError(t, testSource(h).dispatch(context.Background(), &sarama.ConsumerMessage{Topic: "regime", Value: payload}))

	reading, err := tracker.Current(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, regime.RangeBound, reading.Regime)
	assert.Equal(t, 0.8, calibration.Multiplier())
}

func TestBadRegimeFeedsModelBreaker(t *testing.T) {
	model := safety.NewCircuitBreaker(safety.BreakerModelInference, safety.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute, SuccessThreshold: 1})
	h := &Handlers{Regimes: regime.NewTracker(0), ModelBreaker: model}

	err := h.HandleRegime(context.Background(), []byte(`{"regime":"sideways","probability":0.5}`))
	assert.Error(t, err)
	assert.Equal(t, safety.StateOpen, model.GetState())
}

func TestPriceMessages(t *testing.T) {
	price := safety.NewCircuitBreaker(safety.BreakerPriceFeed, safety.BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute, SuccessThreshold: 1})
	m := &marks{}
	h := &Handlers{Marks: m, PriceBreaker: price}

	require.NoError(t, h.HandlePrice(context.Background(), []byte(`{"symbol":"aapl","price":190.5}`)))
	assert.Equal(t, 190.5, m.prices["AAPL"])

	for i := 0; i < 3; i++ {
		assert.Error(t, h.HandlePrice(context.Background(), []byte(`{"symbol":"aapl","price":0}`)))
	}
	assert.Equal(t, safety.StateOpen, price.GetState())
}

func TestUnknownTopic(t *testing.T) {
	err := testSource(&Handlers{}).dispatch(context.Background(), &sarama.ConsumerMessage{Topic: "other"})
	assert.Error(t, err)
}

func TestChannelSource(t *testing.T) {
	ch := make(chan types.Signal, 3)
	var ids []string
	src := NewChannelSource(ch, func(_ context.Context, s types.Signal) error {
		ids = append(ids, s.ID)
		return nil
	})
	ch <- types.Signal{ID: "a"}
	ch <- types.Signal{ID: "b"}
	close(ch)

	require.NoError(t, src.Run(context.Background()))
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestChannelSourceReturnsHandlerError(t *testing.T) {
	ch := make(chan types.Signal, 1)
	ch <- types.Signal{ID: "a"}
	src := NewChannelSource(ch, func(context.Context, types.Signal) error { return errors.New("queue closed") })
	assert.Error(t, src.Run(context.Background()))
}

func TestPublisherKeysBySymbol(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "ETHUSDT" {
			return fmt.Errorf("unexpected key %q", key)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "momentum-v3" {
			return fmt.Errorf("missing producer header")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewPublisher(producer, "signals")
	sig := types.Signal{ID: "s1", Symbol: "ethusdt", Producer: "momentum-v3"}
	_, _, err := pub.PublishSignal(sig)
	require.NoError(t, err)

	_, _, err = pub.PublishSignal(sig)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, pub.Close())
}
