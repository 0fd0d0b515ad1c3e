package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "risk_core"

var startTime = time.Now()

var (
	// Decision metrics
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Signals processed by outcome",
		},
		[]string{"outcome", "reason"},
	)

	decisionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_latency_seconds",
			Help:      "Time from signal dequeue to decision",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shard_queue_depth",
			Help:      "Signals waiting per orchestrator shard",
		},
		[]string{"shard"},
	)

	// System state metrics
	systemMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_mode",
			Help:      "1 for the active operating mode, 0 otherwise",
		},
		[]string{"mode"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	killSwitchTriggered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kill_switch_triggered",
			Help:      "1 while the kill switch is triggered",
		},
	)

	killSwitchActivations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kill_switch_activations_total",
			Help:      "Kill switch activations by trigger",
		},
		[]string{"trigger"},
	)

	// Portfolio metrics
	drawdownGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drawdown_ratio",
			Help:      "Current drawdown from peak equity",
		},
	)

	equityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity",
			Help:      "Current ledger equity",
		},
	)

	reconcileDiscrepancies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconciliation_discrepancies",
			Help:      "Discrepancies found by the last reconciliation run",
		},
	)

	reconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_runs_total",
			Help:      "Reconciliation runs by result",
		},
		[]string{"result"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by category and component",
		},
		[]string{"category", "component"},
	)
)

func init() {
	prometheus.MustRegister(
		decisionsTotal,
		decisionLatency,
		queueDepth,
		systemMode,
		breakerState,
		killSwitchTriggered,
		killSwitchActivations,
		drawdownGauge,
		equityGauge,
		reconcileDiscrepancies,
		reconcileRuns,
		errorsTotal,
	)
}

// Handler serves the Prometheus metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDecision records a processed signal
func RecordDecision(outcome, reason string, latency time.Duration) {
	decisionsTotal.WithLabelValues(outcome, reason).Inc()
	decisionLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// SetQueueDepth updates the pending count of one shard
func SetQueueDepth(shard string, depth int) {
	queueDepth.WithLabelValues(shard).Set(float64(depth))
}

// SetMode marks mode as the active one among modes
func SetMode(mode string, modes []string) {
	for _, m := range modes {
		v := 0.0
		if m == mode {
			v = 1
		}
		systemMode.WithLabelValues(m).Set(v)
	}
}

// SetBreakerState exports a breaker state
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// SetKillSwitch exports whether the kill switch is triggered
func SetKillSwitch(triggered bool) {
	if triggered {
		killSwitchTriggered.Set(1)
		return
	}
	killSwitchTriggered.Set(0)
}

// RecordKillSwitchActivation counts an activation
func RecordKillSwitchActivation(trigger string) {
	killSwitchActivations.WithLabelValues(trigger).Inc()
	killSwitchTriggered.Set(1)
}

// UpdatePortfolio exports equity and drawdown
func UpdatePortfolio(equity, drawdown float64) {
	equityGauge.Set(equity)
	drawdownGauge.Set(drawdown)
}

// RecordReconciliation exports the result of a reconciliation run
func RecordReconciliation(discrepancies int, err error) {
	switch {
	case err != nil:
		reconcileRuns.WithLabelValues("error").Inc()
		return
	case discrepancies > 0:
		reconcileRuns.WithLabelValues("discrepancy").Inc()
	default:
		reconcileRuns.WithLabelValues("clean").Inc()
	}
	reconcileDiscrepancies.Set(float64(discrepancies))
}

// RecordError records an error metric
func RecordError(category, component string) {
	errorsTotal.WithLabelValues(category, component).Inc()
}
