package notifications

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
)

// Severity orders alerts by urgency
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity converts a config string to a Severity
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(s) {
	case "INFO":
		return SeverityInfo, nil
	case "WARNING", "WARN":
		return SeverityWarning, nil
	case "ERROR":
		return SeverityError, nil
	case "CRITICAL":
		return SeverityCritical, nil
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", s)
}

// Alert is a single operator notification
type Alert struct {
	Severity  Severity
	Source    string
	Message   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Text renders the alert for plain-text channels
func (a Alert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", a.Severity, a.Source, a.Message)
	if len(a.Metadata) > 0 {
		keys := make([]string, 0, len(a.Metadata))
		for k := range a.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, a.Metadata[k])
		}
	}
	return b.String()
}

// Notifier defines the interface for alert sinks
type Notifier interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// Send is a convenience wrapper that stamps and dispatches an alert
func Send(ctx context.Context, n Notifier, severity Severity, source, message string, metadata map[string]string) error {
	if n == nil {
		return nil
	}
	return n.SendAlert(ctx, Alert{
		Severity:  severity,
		Source:    source,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	})
}

// LogNotifier writes alerts to the structured log
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("alerts")}
}

func (n *LogNotifier) SendAlert(_ context.Context, alert Alert) error {
	switch alert.Severity {
	case SeverityCritical, SeverityError:
		n.log.Error("%s", alert.Text())
	case SeverityWarning:
		n.log.Warning("%s", alert.Text())
	default:
		n.log.Info("%s", alert.Text())
	}
	return nil
}

// Fanout delivers each alert to every sink at or above its minimum severity
type Fanout struct {
	sinks []fanoutSink
}

type fanoutSink struct {
	notifier    Notifier
	minSeverity Severity
}

func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a sink that receives alerts of at least minSeverity
func (f *Fanout) Add(n Notifier, minSeverity Severity) *Fanout {
	f.sinks = append(f.sinks, fanoutSink{notifier: n, minSeverity: minSeverity})
	return f
}

// SendAlert sends to all sinks and joins their errors
func (f *Fanout) SendAlert(ctx context.Context, alert Alert) error {
	var errs []error
	for _, s := range f.sinks {
		if alert.Severity < s.minSeverity {
			continue
		}
		if err := s.notifier.SendAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Recorder keeps alerts in memory. Used by the status endpoint and tests.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
	limit  int
}

func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) SendAlert(_ context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	if r.limit > 0 && len(r.alerts) > r.limit {
		r.alerts = r.alerts[len(r.alerts)-r.limit:]
	}
	return nil
}

// Alerts returns a copy of the recorded alerts
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Count returns how many recorded alerts have the given severity
func (r *Recorder) Count(severity Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Severity == severity {
			n++
		}
	}
	return n
}
