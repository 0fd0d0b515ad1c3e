package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
	"github.com/ducminhle1904/risk-orchestrator/internal/regime"
	"github.com/ducminhle1904/risk-orchestrator/internal/safety"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

// Source delivers inbound messages until ctx is done
type Source interface {
	Run(ctx context.Context) error
}

// SignalHandler receives decoded signals, usually Orchestrator.Submit
type SignalHandler func(ctx context.Context, sig types.Signal) error

// RegimeMessage is the regime model's output on the regime topic
type RegimeMessage struct {
	Symbol           string    `json:"symbol"`
	Regime           string    `json:"regime"`
	Probability      float64   `json:"probability"`
	CalibrationError *float64  `json:"calibration_error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PriceMessage is one mark price on the price topic
type PriceMessage struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	At     time.Time `json:"at"`
}

type RegimeSink interface {
	Update(r regime.Reading) error
}

type CalibrationSink interface {
	Update(calibrationError float64)
}

type MarkSink interface {
	UpdateMark(symbol string, price float64)
}

// Handlers routes decoded messages to the core. Nil sinks drop their messages.
type Handlers struct {
	Signals     SignalHandler
	Regimes     RegimeSink
	Calibration CalibrationSink
	Marks       MarkSink

	// PriceBreaker and ModelBreaker record decode and delivery outcomes per feed
	PriceBreaker *safety.CircuitBreaker
	ModelBreaker *safety.CircuitBreaker
	// ProducerBreakers maps a producer name to the breaker guarding its feed
	ProducerBreakers map[string]*safety.CircuitBreaker

	Logger *logger.Logger
}

func (h *Handlers) log() *logger.Logger {
	if h.Logger == nil {
		return logger.Nop()
	}
	return h.Logger
}

func record(cb *safety.CircuitBreaker, err error) {
	if cb == nil {
		return
	}
	if err != nil {
		cb.RecordFailure()
		return
	}
	cb.RecordSuccess()
}

// HandleSignal decodes a signal payload. producer is the message's producer
// header, used to attribute decode failures.
func (h *Handlers) HandleSignal(ctx context.Context, producer string, payload []byte) error {
	var sig types.Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		record(h.ProducerBreakers[strings.ToLower(producer)], err)
		return fmt.Errorf("decode signal: %w", err)
	}
	record(h.ProducerBreakers[strings.ToLower(sig.Producer)], nil)
	if h.Signals == nil {
		return nil
	}
	return h.Signals(ctx, sig)
}

// HandleRegime applies a regime reading and, when present, the model's calibration error
func (h *Handlers) HandleRegime(_ context.Context, payload []byte) error {
	var msg RegimeMessage
	err := json.Unmarshal(payload, &msg)
	if err == nil {
		err = h.applyRegime(msg)
	}
	record(h.ModelBreaker, err)
	return err
}

func (h *Handlers) applyRegime(msg RegimeMessage) error {
	r, err := regime.ParseRegime(msg.Regime)
	if err != nil {
		return err
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = time.Now()
	}
	if h.Regimes != nil {
		if err := h.Regimes.Update(regime.Reading{
			Symbol:      msg.Symbol,
			Regime:      r,
			Probability: msg.Probability,
			UpdatedAt:   msg.UpdatedAt,
		}); err != nil {
			return err
		}
	}
	if msg.CalibrationError != nil && h.Calibration != nil {
		if *msg.CalibrationError < 0 {
			return fmt.Errorf("invalid calibration error %.4f", *msg.CalibrationError)
		}
		h.Calibration.Update(*msg.CalibrationError)
	}
	return nil
}

// HandlePrice applies a mark price
func (h *Handlers) HandlePrice(_ context.Context, payload []byte) error {
	var msg PriceMessage
	err := json.Unmarshal(payload, &msg)
	if err == nil && (msg.Symbol == "" || msg.Price <= 0) {
		err = fmt.Errorf("invalid price message for %q: %.8f", msg.Symbol, msg.Price)
	}
	record(h.PriceBreaker, err)
	if err != nil {
		return err
	}
	if h.Marks != nil {
		h.Marks.UpdateMark(strings.ToUpper(msg.Symbol), msg.Price)
	}
	return nil
}
