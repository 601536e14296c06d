// Package health serves liveness and readiness probes for the contagion
// stream server.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/opd-ai/go-contagion/pkg/engine"
)

// Probe paths served by Handler
const (
	LivenessPath  = "/health"
	ReadinessPath = "/ready"
)

const readinessTimeout = 5 * time.Second

// Status values reported by the probes
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusAlive     = "alive"
)

// HealthCheck is one probed component
type HealthCheck interface {
	// Name identifies the check in the readiness report
	Name() string
	// Check returns an error while the component is unhealthy
	Check(ctx context.Context) error
}

// HealthStatus is the readiness report
type HealthStatus struct {
	Status string                     `json:"status"`
	Checks map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth is the result of one check
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker aggregates the registered checks
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewHealthChecker creates a checker without checks, which reports healthy
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]HealthCheck)}
}

// AddCheck registers check, replacing any check of the same name
func (hc *HealthChecker) AddCheck(check HealthCheck) {
	hc.mu.Lock()
	hc.checks[check.Name()] = check
	hc.mu.Unlock()
}

// RemoveCheck unregisters the named check
func (hc *HealthChecker) RemoveCheck(name string) {
	hc.mu.Lock()
	delete(hc.checks, name)
	hc.mu.Unlock()
}

// CheckHealth runs every check. The report is healthy only if all pass.
func (hc *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	report := HealthStatus{
		Status: StatusHealthy,
		Checks: make(map[string]ComponentHealth, len(hc.checks)),
	}
	for name, check := range hc.checks {
		result := ComponentHealth{Status: StatusHealthy}
		if err := check.Check(ctx); err != nil {
			result = ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
			report.Status = StatusUnhealthy
		}
		report.Checks[name] = result
	}
	return report
}

// LivenessHandler answers 200 OK while the process can serve requests
func (hc *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": StatusAlive})
}

// ReadinessHandler runs every check and answers 200 OK when all pass, 503
// Service Unavailable otherwise
func (hc *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report := hc.CheckHealth(ctx)
	code := http.StatusOK
	if report.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Handler serves the liveness and readiness probes
func (hc *HealthChecker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(LivenessPath, hc.LivenessHandler)
	mux.HandleFunc(ReadinessPath, hc.ReadinessHandler)
	return mux
}

// SimulationHealthCheck reports a running simulation whose driver stopped
// advancing it. A finished run idles until restart and stays healthy.
type SimulationHealthCheck struct {
	status     func() engine.Status
	staleAfter time.Duration
}

// NewSimulationHealthCheck creates a check over the current runner status.
// The run is stale when it has not been advanced for staleAfter.
func NewSimulationHealthCheck(status func() engine.Status, staleAfter time.Duration) *SimulationHealthCheck {
	return &SimulationHealthCheck{
		status:     status,
		staleAfter: staleAfter,
	}
}

// Name returns the name of this health check.
func (s *SimulationHealthCheck) Name() string {
	return "simulation"
}

// Check verifies that a running simulation is being advanced
func (s *SimulationHealthCheck) Check(ctx context.Context) error {
	st := s.status()
	if !st.Running {
		return nil
	}
	if st.LastUpdate.IsZero() {
		return fmt.Errorf("simulation %s has not started", st.RunID)
	}
	if idle := time.Since(st.LastUpdate); idle > s.staleAfter {
		return fmt.Errorf("simulation %s stalled for %v at t=%.2fs", st.RunID, idle.Round(time.Millisecond), st.Time)
	}
	return nil
}

// StreamHealthCheck reports whether the stream listener accepts connections
type StreamHealthCheck struct {
	listening func() bool
}

// NewStreamHealthCheck creates a check for the stream listener
func NewStreamHealthCheck(listening func() bool) *StreamHealthCheck {
	return &StreamHealthCheck{
		listening: listening,
	}
}

// Name returns the name of this health check.
func (n *StreamHealthCheck) Name() string {
	return "stream"
}

// Check verifies that the stream listener is active.
func (n *StreamHealthCheck) Check(ctx context.Context) error {
	if !n.listening() {
		return fmt.Errorf("stream listener is not active")
	}
	return nil
}

// MemoryHealthCheck implements HealthCheck for memory usage monitoring.
type MemoryHealthCheck struct {
	maxMemoryMB    int64
	getMemoryUsage func() int64
}

// NewMemoryHealthCheck creates a health check for memory usage. A nil
// getMemoryUsage samples the Go heap.
func NewMemoryHealthCheck(maxMemoryMB int64, getMemoryUsage func() int64) *MemoryHealthCheck {
	if getMemoryUsage == nil {
		getMemoryUsage = HeapUsageMB
	}
	return &MemoryHealthCheck{
		maxMemoryMB:    maxMemoryMB,
		getMemoryUsage: getMemoryUsage,
	}
}

// Name returns the name of this health check.
func (m *MemoryHealthCheck) Name() string {
	return "memory"
}

// Check verifies that memory usage is within acceptable limits.
func (m *MemoryHealthCheck) Check(ctx context.Context) error {
	currentMB := m.getMemoryUsage()
	if currentMB > m.maxMemoryMB {
		return fmt.Errorf("memory usage %dMB exceeds limit %dMB", currentMB, m.maxMemoryMB)
	}
	return nil
}

// HeapUsageMB returns the allocated heap in megabytes
func HeapUsageMB() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.Alloc / 1024 / 1024)
}
