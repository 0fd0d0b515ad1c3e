package audit

import (
	"context"
	stderrors "errors"
	"sync"
	"time"
)

// Outcome of one signal through the decision pipeline
type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeExpired   Outcome = "expired"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeError     Outcome = "error"
)

// Outcomes in report order
var Outcomes = []Outcome{OutcomeApproved, OutcomeRejected, OutcomeDiscarded, OutcomeExpired, OutcomeDuplicate, OutcomeError}

// Record is one append-only audit entry
type Record struct {
	ID                string    `json:"id"`
	SignalID          string    `json:"signal_id"`
	Symbol            string    `json:"symbol"`
	Producer          string    `json:"producer"`
	Strategy          string    `json:"strategy"`
	Direction         string    `json:"direction"`
	Outcome           Outcome   `json:"outcome"`
	Reason            string    `json:"reason,omitempty"`
	Mode              string    `json:"mode"`
	Regime            string    `json:"regime,omitempty"`
	Confidence        float64   `json:"confidence"`
	WeightedScore     float64   `json:"weighted_score,omitempty"`
	RequestedQuantity float64   `json:"requested_quantity,omitempty"`
	ApprovedQuantity  float64   `json:"approved_quantity,omitempty"`
	Adjustments       []string  `json:"adjustments,omitempty"`
	Warnings          []string  `json:"warnings,omitempty"`
	OrderID           string    `json:"order_id,omitempty"`
	LatencyMs         int64     `json:"latency_ms"`
	Timestamp         time.Time `json:"timestamp"`
}

// Sink stores audit records. Implementations never modify an appended record.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Filter narrows a Reader query. Zero fields match everything.
type Filter struct {
	Symbol  string
	Outcome Outcome
	Since   time.Time
	Until   time.Time
	Limit   int
}

func (f Filter) Match(r Record) bool {
	if f.Symbol != "" && r.Symbol != f.Symbol {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Reader queries stored records in append order
type Reader interface {
	Query(ctx context.Context, filter Filter) ([]Record, error)
}

// Fanout appends to every sink and joins the errors
type Fanout []Sink

func (f Fanout) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range f {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Memory keeps records in memory. Used by tests and dry runs.
type Memory struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) Query(_ context.Context, filter Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if !filter.Match(r) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Records returns every stored record
func (m *Memory) Records() []Record {
	out, _ := m.Query(context.Background(), Filter{})
	return out
}
