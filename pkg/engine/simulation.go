// pkg/engine/simulation.go
package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"

	"github.com/opd-ai/go-contagion/pkg/config"
	"github.com/opd-ai/go-contagion/pkg/entity"
	"github.com/opd-ai/go-contagion/pkg/event"
	"github.com/opd-ai/go-contagion/pkg/logging"
	"github.com/opd-ai/go-contagion/pkg/physics"
)

const (
	// MaxTimeProgress caps the simulated time of a single step (20 Hz)
	MaxTimeProgress = 0.05
	// RasterCount is the grid resolution used for neighbor search
	RasterCount = 20
)

// ErrLayoutUnsatisfiable is returned when the configured number of agents
// cannot be placed in the arena with the minimum spacing.
var ErrLayoutUnsatisfiable = errors.New("too many agents to fit into the arena")

// Simulation advances a population of agents through time. It is not safe
// for concurrent use; drivers serialize calls to Step.
type Simulation struct {
	config config.Configuration
	arena  physics.Arena
	rng    *rand.Rand
	bus    *event.Bus
	logger *logging.Logger

	agents  []entity.Agent
	seeded  bool
	time    float64
	steps   uint64
	pending []event.Event
}

// Option configures a Simulation
type Option func(*Simulation)

// WithSeed seeds the simulation's PCG random source
func WithSeed(seed1, seed2 uint64) Option {
	return func(s *Simulation) {
		s.rng = rand.New(rand.NewPCG(seed1, seed2))
	}
}

// WithRand sets the random source
func WithRand(rng *rand.Rand) Option {
	return func(s *Simulation) {
		s.rng = rng
	}
}

// WithEventBus publishes simulation events to bus
func WithEventBus(bus *event.Bus) Option {
	return func(s *Simulation) {
		s.bus = bus
	}
}

// WithLogger sets the logger used for seeding diagnostics
func WithLogger(logger *logging.Logger) Option {
	return func(s *Simulation) {
		s.logger = logger
	}
}

// WithPopulation starts the simulation from agents instead of seeding one.
// The first Step then advances time like any other.
func WithPopulation(agents []entity.Agent) Option {
	return func(s *Simulation) {
		s.agents = slices.Clone(agents)
		s.seeded = true
	}
}

// WithArena overrides the default 2:1 arena
func WithArena(arena physics.Arena) Option {
	return func(s *Simulation) {
		s.arena = arena
	}
}

// NewSimulation creates a simulation for cfg. Without WithSeed or WithRand the
// random source is seeded from the runtime.
func NewSimulation(cfg config.Configuration, opts ...Option) *Simulation {
	s := &Simulation{
		config: cfg,
		arena:  physics.DefaultArena,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// Configuration returns the configuration the simulation runs on
func (s *Simulation) Configuration() config.Configuration {
	return s.config
}

// Time returns the simulated time, the sum of all capped step durations
func (s *Simulation) Time() float64 {
	return s.time
}

// Steps returns the number of steps taken after seeding
func (s *Simulation) Steps() uint64 {
	return s.steps
}

// Seeded reports whether the population exists
func (s *Simulation) Seeded() bool {
	return s.seeded
}

// Agents returns a copy of the current population
func (s *Simulation) Agents() []entity.Agent {
	return slices.Clone(s.agents)
}

// Step advances the simulation by elapsed seconds, capped at MaxTimeProgress,
// and returns a copy of the resulting population. The first call seeds the
// population and returns it unmoved; it fails with ErrLayoutUnsatisfiable
// when no layout exists, leaving the simulation unseeded. Events raised by
// the step are published once it completed.
func (s *Simulation) Step(elapsed float64) ([]entity.Agent, error) {
	agents, err := s.step(elapsed)
	publishAll(s.bus, s.takeEvents())
	return agents, err
}

// step is Step without publishing; the raised events stay queued until
// takeEvents.
func (s *Simulation) step(elapsed float64) ([]entity.Agent, error) {
	if !s.seeded {
		if err := s.seed(); err != nil {
			return nil, err
		}
		return s.Agents(), nil
	}

	dt := clampTimeProgress(elapsed)
	next := s.advanceAgents(dt)
	s.resolveAgentCollisions(next, dt)
	s.resolveWallCollisions(next)

	s.agents = next
	s.time += dt
	s.steps++

	return s.Agents(), nil
}

func (s *Simulation) seed() error {
	agents, err := s.generatePopulation()
	if err != nil {
		s.logger.Error(context.Background(), "population seeding failed", err,
			"points", s.config.Behavior.NumberOfPoints)
		return err
	}

	s.agents = agents
	s.seeded = true

	s.logger.Debug(context.Background(), "population seeded",
		"points", len(agents),
		"moving_share", s.config.Behavior.MovingShare)

	if len(agents) > 0 {
		s.publish(event.NewSeedEvent(s, len(agents), agents[0].ID()))
	}
	return nil
}

// publish queues e for the bus
func (s *Simulation) publish(e event.Event) {
	if s.bus != nil {
		s.pending = append(s.pending, e)
	}
}

// takeEvents returns and clears the queued events
func (s *Simulation) takeEvents() []event.Event {
	events := s.pending
	s.pending = nil
	return events
}

func publishAll(bus *event.Bus, events []event.Event) {
	if bus == nil {
		return
	}
	for _, e := range events {
		bus.Publish(e)
	}
}

// clampTimeProgress bounds a step duration to [0, MaxTimeProgress]
func clampTimeProgress(elapsed float64) float64 {
	if !(elapsed > 0) {
		return 0
	}
	return min(MaxTimeProgress, elapsed)
}

// advanceAgents applies due state transitions and moves every agent along its
// actual velocity.
func (s *Simulation) advanceAgents(dt float64) []entity.Agent {
	factor := s.config.Behavior.InfectiousSpeedReductionFactor
	next := make([]entity.Agent, len(s.agents))

	for i, agent := range s.agents {
		agent.State = agent.State.Advance(dt, s.transitionVisitor(agent.ID()))
		agent.Center = agent.Center.Add(agent.ActualVelocity(factor).Scale(dt))
		next[i] = agent
	}
	return next
}

// resolveWallCollisions pushes agents back inside the arena and mirrors their
// velocity on each wall they crossed.
func (s *Simulation) resolveWallCollisions(agents []entity.Agent) {
	radius := s.config.Fixed.PointRadius
	for i := range agents {
		center, velocity, changed := s.arena.Reflect(agents[i].Center, agents[i].NominalVelocity, radius)
		if changed {
			agents[i].Center = center
			agents[i].NominalVelocity = velocity
		}
	}
}

// transitionVisitor returns a callback publishing state transitions of agent
// id, or nil when nobody listens.
func (s *Simulation) transitionVisitor(id uint64) func(from, to entity.State) {
	if s.bus == nil || !s.bus.HasSubscribers(event.StateTransition) {
		return nil
	}
	return func(from, to entity.State) {
		s.publish(event.NewTransitionEvent(s, id, from.Kind(), to.Kind(), s.time))
	}
}
