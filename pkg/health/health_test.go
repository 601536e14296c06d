package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/go-contagion/pkg/engine"
)

// stubCheck implements HealthCheck with a fixed result
type stubCheck struct {
	name    string
	healthy bool
}

func (s *stubCheck) Name() string {
	return s.name
}

func (s *stubCheck) Check(ctx context.Context) error {
	if !s.healthy {
		return fmt.Errorf("%s failed", s.name)
	}
	return nil
}

// blockingCheck waits for its context
type blockingCheck struct{}

func (blockingCheck) Name() string { return "blocking" }

func (blockingCheck) Check(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestHealthChecker_AddRemove(t *testing.T) {
	hc := NewHealthChecker()
	check := &stubCheck{name: "stub", healthy: true}

	hc.AddCheck(check)
	hc.AddCheck(&stubCheck{name: "stub", healthy: false})
	if len(hc.checks) != 1 {
		t.Fatalf("Expected checks with the same name to replace each other, got %d", len(hc.checks))
	}

	hc.RemoveCheck("stub")
	if len(hc.checks) != 0 {
		t.Errorf("Expected 0 checks after removal, got %d", len(hc.checks))
	}
}

func TestHealthChecker_CheckHealth(t *testing.T) {
	tests := []struct {
		name     string
		checks   []*stubCheck
		expected string
	}{
		{"NoChecks", nil, "healthy"},
		{"AllHealthy", []*stubCheck{{"a", true}, {"b", true}}, "healthy"},
		{"OneUnhealthy", []*stubCheck{{"a", true}, {"b", false}}, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			for _, check := range tt.checks {
				hc.AddCheck(check)
			}

			status := hc.CheckHealth(context.Background())
			if status.Status != tt.expected {
				t.Errorf("Expected status %s, got %s", tt.expected, status.Status)
			}
			for _, check := range tt.checks {
				result := status.Checks[check.name]
				if (result.Status == "healthy") != check.healthy {
					t.Errorf("Check %s: unexpected result %+v", check.name, result)
				}
				if !check.healthy && result.Message == "" {
					t.Errorf("Check %s: expected a failure message", check.name)
				}
			}
		})
	}
}

func TestHealthChecker_CheckHealthTimeout(t *testing.T) {
	hc := NewHealthChecker()
	hc.AddCheck(blockingCheck{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	status := hc.CheckHealth(ctx)
	if status.Status != "unhealthy" || status.Checks["blocking"].Status != "unhealthy" {
		t.Errorf("Expected the timed out check to be unhealthy, got %+v", status)
	}
}

func TestHealthChecker_Handler(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		healthy    bool
		wantCode   int
		wantStatus string
	}{
		{"Liveness", LivenessPath, false, http.StatusOK, "alive"},
		{"Ready", ReadinessPath, true, http.StatusOK, "healthy"},
		{"NotReady", ReadinessPath, false, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			hc.AddCheck(&stubCheck{name: "stub", healthy: tt.healthy})

			w := httptest.NewRecorder()
			hc.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantCode {
				t.Errorf("Expected status code %d, got %d", tt.wantCode, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected Content-Type application/json, got %s", ct)
			}

			var body struct {
				Status string `json:"status"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("Expected status %q, got %q", tt.wantStatus, body.Status)
			}
		})
	}
}

func TestSimulationHealthCheck(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		status  engine.Status
		wantErr string
	}{
		{"Advancing", engine.Status{RunID: "r", Running: true, LastUpdate: now}, ""},
		{"Finished", engine.Status{RunID: "r", Running: false, LastUpdate: now.Add(-time.Hour)}, ""},
		{"NotStarted", engine.Status{RunID: "r", Running: true}, "has not started"},
		{"Stalled", engine.Status{RunID: "r", Running: true, Time: 3, LastUpdate: now.Add(-time.Minute)}, "stalled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := NewSimulationHealthCheck(func() engine.Status { return tt.status }, 5*time.Second)
			if check.Name() != "simulation" {
				t.Errorf("Expected name 'simulation', got %s", check.Name())
			}

			err := check.Check(context.Background())
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestStreamHealthCheck(t *testing.T) {
	for _, listening := range []bool{true, false} {
		check := NewStreamHealthCheck(func() bool { return listening })
		if check.Name() != "stream" {
			t.Errorf("Expected name 'stream', got %s", check.Name())
		}
		if err := check.Check(context.Background()); (err == nil) != listening {
			t.Errorf("listening=%v: unexpected result %v", listening, err)
		}
	}
}

func TestMemoryHealthCheck(t *testing.T) {
	tests := []struct {
		name      string
		limitMB   int64
		currentMB int64
		wantErr   bool
	}{
		{"WithinLimit", 100, 50, false},
		{"AtLimit", 100, 100, false},
		{"OverLimit", 100, 150, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := NewMemoryHealthCheck(tt.limitMB, func() int64 { return tt.currentMB })
			if err := check.Check(context.Background()); (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemoryHealthCheck_SamplesHeap(t *testing.T) {
	check := NewMemoryHealthCheck(1<<20, nil)
	if err := check.Check(context.Background()); err != nil {
		t.Errorf("Heap usage should be below a terabyte: %v", err)
	}
	if HeapUsageMB() < 0 {
		t.Error("Heap usage must not be negative")
	}
}

func BenchmarkHealthChecker_CheckHealth(b *testing.B) {
	hc := NewHealthChecker()
	for i := 0; i < 10; i++ {
		hc.AddCheck(&stubCheck{name: fmt.Sprintf("check%d", i), healthy: true})
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hc.CheckHealth(ctx)
	}
}
