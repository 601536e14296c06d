// pkg/engine/runner.go
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/go-contagion/pkg/entity"
	"github.com/opd-ai/go-contagion/pkg/event"
	"github.com/opd-ai/go-contagion/pkg/logging"
	"github.com/opd-ai/go-contagion/pkg/metrics"
)

// Frame is the outcome of one driver tick
type Frame struct {
	Time    float64
	Agents  []entity.Agent
	Metrics metrics.Metrics
	Running bool
}

// Status summarizes a runner for health reporting
type Status struct {
	RunID      string
	Time       float64
	Ticks      uint64
	Running    bool
	LastUpdate time.Time
}

// Runner drives a Simulation the way an interactive host does: it accumulates
// wall time, samples metrics into a Timeline and stops once the configured
// duration passed or no agent will change state within it.
type Runner struct {
	sim      *Simulation
	timeline *metrics.Timeline
	duration float64
	bus      *event.Bus
	logger   *logging.Logger
	runID    string

	mu         sync.RWMutex
	time       float64
	ticks      uint64
	running    bool
	last       Frame
	lastUpdate time.Time
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithSampleSteps sets how many metrics samples the timeline takes over the
// simulation duration.
func WithSampleSteps(steps int) RunnerOption {
	return func(r *Runner) {
		r.timeline = metrics.NewTimeline(r.duration, steps)
	}
}

// WithRunID sets the id reported in logs and run events
func WithRunID(id string) RunnerOption {
	return func(r *Runner) {
		r.runID = id
	}
}

// WithRunnerEventBus publishes the finish event to bus
func WithRunnerEventBus(bus *event.Bus) RunnerOption {
	return func(r *Runner) {
		r.bus = bus
	}
}

// WithRunnerLogger sets the runner's logger
func WithRunnerLogger(logger *logging.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a runner for sim
func NewRunner(sim *Simulation, opts ...RunnerOption) *Runner {
	duration := sim.Configuration().SimulationDuration
	r := &Runner{
		sim:      sim,
		duration: duration,
		timeline: metrics.NewTimeline(duration, metrics.DefaultSteps),
		running:  true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = logging.NewRunID()
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	return r
}

// RunID returns the run's id
func (r *Runner) RunID() string {
	return r.runID
}

// Timeline returns the sampled metrics
func (r *Runner) Timeline() *metrics.Timeline {
	return r.timeline
}

// Simulation returns the driven simulation
func (r *Runner) Simulation() *Simulation {
	return r.sim
}

// Running reports whether the run still goes on
func (r *Runner) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Status returns a snapshot of the runner's progress
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		RunID:      r.runID,
		Time:       r.time,
		Ticks:      r.ticks,
		Running:    r.running,
		LastUpdate: r.lastUpdate,
	}
}

// LastFrame returns the most recent frame
func (r *Runner) LastFrame() Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Advance feeds elapsed seconds of wall time to the simulation. Once the run
// finished it keeps returning the final frame. Events raised by the step are
// published after the runner's lock is released, so handlers may read it.
func (r *Runner) Advance(elapsed float64) (Frame, error) {
	var stepEvents, runEvents []event.Event
	frame, err := r.advance(elapsed, &stepEvents, &runEvents)
	publishAll(r.sim.bus, stepEvents)
	publishAll(r.bus, runEvents)
	return frame, err
}

func (r *Runner) advance(elapsed float64, stepEvents, runEvents *[]event.Event) (Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return r.last, nil
	}

	if elapsed > 0 {
		r.time += elapsed
	}
	r.lastUpdate = time.Now()

	if r.sim.Seeded() && r.time > r.duration {
		*runEvents = r.finish(r.last.Agents)
		return r.last, nil
	}

	agents, err := r.sim.step(elapsed)
	*stepEvents = r.sim.takeEvents()
	if err != nil {
		r.running = false
		return Frame{}, logging.WrapError(err, "simulation step %d failed", r.ticks)
	}
	r.ticks++

	if !willGoOn(agents, r.duration) {
		*runEvents = r.finish(agents)
		return r.last, nil
	}

	m := metrics.Compute(agents)
	r.timeline.Record(r.time, m)
	r.last = Frame{Time: r.time, Agents: agents, Metrics: m, Running: true}
	return r.last, nil
}

// willGoOn reports whether any agent changes state within duration
func willGoOn(agents []entity.Agent, duration float64) bool {
	for i := range agents {
		if agents[i].HasFutureWithin(duration) {
			return true
		}
	}
	return false
}

// finish closes the timeline and drops dead agents from the final frame. It
// returns the finish event for the runner's bus.
func (r *Runner) finish(agents []entity.Agent) []event.Event {
	m := metrics.Compute(agents)
	r.timeline.Finish(r.time, m)

	survivors := make([]entity.Agent, 0, len(agents))
	for _, a := range agents {
		if a.State.Kind() != entity.Dead {
			survivors = append(survivors, a)
		}
	}

	r.running = false
	r.last = Frame{Time: r.time, Agents: survivors, Metrics: m, Running: false}

	r.logger.Info(context.Background(), "simulation finished",
		"run_id", r.runID,
		"time", r.time,
		"ticks", r.ticks,
		"susceptible", m.Susceptible,
		"dead", m.Dead,
		"immune", m.Immune)

	if r.bus == nil {
		return nil
	}
	return []event.Event{event.NewRunEvent(event.SimulationFinished, r, r.runID, r.time, m)}
}

// Run advances the runner on every tick of interval with the measured wall
// time, multiplied by speed, and passes each frame to onFrame. It returns nil
// once the run finished, or the context's or callback's error.
func (r *Runner) Run(ctx context.Context, interval time.Duration, speed float64, onFrame func(Frame) error) error {
	if interval <= 0 {
		return fmt.Errorf("invalid tick interval %v", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			elapsed := now.Sub(last).Seconds() * speed
			last = now

			frame, err := r.Advance(elapsed)
			if err != nil {
				return err
			}
			if err := onFrame(frame); err != nil {
				return err
			}
			if !frame.Running {
				return nil
			}
		}
	}
}

// Drain advances the runner in fixed steps of dt without waiting until the
// run finishes. onFrame may be nil.
func (r *Runner) Drain(dt float64, onFrame func(Frame) error) (Frame, error) {
	if !(dt > 0) {
		return Frame{}, fmt.Errorf("invalid step %v", dt)
	}

	for {
		frame, err := r.Advance(dt)
		if err != nil {
			return frame, err
		}
		if onFrame != nil {
			if err := onFrame(frame); err != nil {
				return frame, err
			}
		}
		if !frame.Running {
			return frame, nil
		}
	}
}
