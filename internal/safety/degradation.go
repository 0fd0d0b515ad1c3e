package safety

import (
	"context"

	"github.com/ducminhle1904/risk-orchestrator/internal/state"
)

// ModeController is the part of the state manager breakers may drive
type ModeController interface {
	Mode() state.Mode
	AllowsNewEntries() bool
	Transition(ctx context.Context, target state.Mode, reason, actor string) bool
}

// CalibrationFlag is flipped when model inference becomes unavailable
type CalibrationFlag interface {
	SetCalibrationUnknown(unknown bool)
}

// InstallDefaultDegradations binds the standard actions:
//   - price feed open: move to OBSERVATION, unless the system already takes no new entries
//   - broker connection open: critical alert only (raised by the registry)
//   - model inference open: calibration unknown, sizing falls to zero until it recovers
func InstallDefaultDegradations(r *Registry, modes ModeController, calibration CalibrationFlag) {
	r.OnOpen(BreakerPriceFeed, func(ctx context.Context, change StateChange) {
		if !modes.AllowsNewEntries() {
			r.log.Info("price feed breaker open, system already in %s, leaving mode unchanged", modes.Mode())
			return
		}
		if !modes.Transition(ctx, state.ModeObservation, "price feed circuit breaker open", "circuit_breaker:"+change.Name) {
			r.log.Warning("price feed breaker open but transition to %s was refused", state.ModeObservation)
		}
	})

	if calibration != nil {
		r.OnOpen(BreakerModelInference, func(context.Context, StateChange) {
			calibration.SetCalibrationUnknown(true)
		})
		r.OnClose(BreakerModelInference, func(context.Context, StateChange) {
			calibration.SetCalibrationUnknown(false)
		})
	}
}
