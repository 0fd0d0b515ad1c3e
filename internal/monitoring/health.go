package monitoring

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Check reports whether one part of the system is healthy, plus a detail payload
type Check func() (healthy bool, detail interface{})

type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]Check
	now    func() time.Time
}

type ComponentHealth struct {
	Healthy bool        `json:"healthy"`
	Detail  interface{} `json:"detail,omitempty"`
}

type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
	Degraded   []string                   `json:"degraded,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]Check),
		now:    time.Now,
	}
}

// AddCheck registers or replaces a named check
func (h *HealthChecker) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Status runs every check
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:     "healthy",
		Timestamp:  h.now(),
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Components: make(map[string]ComponentHealth, len(h.checks)),
	}
	for name, check := range h.checks {
		ok, detail := check()
		status.Components[name] = ComponentHealth{Healthy: ok, Detail: detail}
		if !ok {
			status.Degraded = append(status.Degraded, name)
		}
	}
	if len(status.Degraded) > 0 {
		sort.Strings(status.Degraded)
		status.Status = "degraded"
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Status()

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
