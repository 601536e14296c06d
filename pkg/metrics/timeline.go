// pkg/metrics/timeline.go
package metrics

import (
	"math"
	"sync"
)

// DefaultSteps is the default number of samples taken over a run
const DefaultSteps = 200

// Sample is the metrics of a population at a point in simulation time
type Sample struct {
	Time    float64 `json:"time"`
	Metrics Metrics `json:"metrics"`
}

// Timeline records metrics samples at a fixed spacing of simulation time
type Timeline struct {
	mu       sync.RWMutex
	duration float64
	step     float64
	samples  []Sample
	latest   Sample
	finished bool
}

// NewTimeline creates a timeline sampling duration/steps apart. steps below 1
// fall back to DefaultSteps.
func NewTimeline(duration float64, steps int) *Timeline {
	if steps < 1 {
		steps = DefaultSteps
	}
	return &Timeline{
		duration: duration,
		step:     duration / float64(steps),
		samples:  make([]Sample, 0, steps+2),
	}
}

// Step returns the sampling spacing
func (t *Timeline) Step() float64 {
	return t.step
}

// Record stores m as the latest metrics and appends a sample when at least
// one step passed since the previous sample. Samples are stamped on the step
// grid. Reports whether a sample was appended.
func (t *Timeline) Record(time float64, m Metrics) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latest = Sample{Time: time, Metrics: m}
	if t.finished {
		return false
	}

	if n := len(t.samples); n > 0 && time < t.samples[n-1].Time+t.step {
		return false
	}

	stamp := time
	if t.step > 0 {
		stamp = math.Floor(time/t.step) * t.step
	}
	t.samples = append(t.samples, Sample{Time: stamp, Metrics: m})
	return true
}

// Finish appends the final sample unconditionally. A run that stopped before
// its duration also gets m repeated at the duration so the series span the
// whole run. Later records only update the latest metrics.
func (t *Timeline) Finish(time float64, m Metrics) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latest = Sample{Time: time, Metrics: m}
	if t.finished {
		return
	}
	t.samples = append(t.samples, Sample{Time: time, Metrics: m})
	if time < t.duration {
		t.samples = append(t.samples, Sample{Time: t.duration, Metrics: m})
	}
	t.finished = true
}

// Samples returns a copy of the recorded samples
func (t *Timeline) Samples() []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Sample, len(t.samples))
	copy(out, t.samples)
	return out
}

// Latest returns the most recently recorded metrics
func (t *Timeline) Latest() Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// Finished reports whether Finish was called
func (t *Timeline) Finished() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finished
}
