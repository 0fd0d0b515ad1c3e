package risk

import "sync"

// CalibrationMultiplier maps the model's expected calibration error to a size multiplier
func CalibrationMultiplier(calibrationError float64) float64 {
	switch {
	case calibrationError < 0.05:
		return 1.0
	case calibrationError <= 0.10:
		return 0.8
	case calibrationError <= 0.15:
		return 0.5
	default:
		return 0.0
	}
}

// CalibrationMonitor tracks the latest calibration error reported by the model
// service. Until a value is reported, or while the model inference breaker is
// open, calibration is unknown and the multiplier is 0.
type CalibrationMonitor struct {
	mu      sync.RWMutex
	value   float64
	known   bool
	unknown bool
}

func NewCalibrationMonitor() *CalibrationMonitor {
	return &CalibrationMonitor{}
}

// Update records a fresh calibration error
func (c *CalibrationMonitor) Update(calibrationError float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = calibrationError
	c.known = true
}

// SetCalibrationUnknown forces the unknown state while the model is unavailable
func (c *CalibrationMonitor) SetCalibrationUnknown(unknown bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unknown = unknown
}

// Multiplier returns the current calibration multiplier
func (c *CalibrationMonitor) Multiplier() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.unknown || !c.known {
		return 0
	}
	return CalibrationMultiplier(c.value)
}

// Snapshot returns the last error and whether it is currently usable
func (c *CalibrationMonitor) Snapshot() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.known && !c.unknown
}
