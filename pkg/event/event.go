// pkg/event/event.go
package event

import (
	"sync"

	"github.com/opd-ai/go-contagion/pkg/entity"
	"github.com/opd-ai/go-contagion/pkg/metrics"
)

// Type represents the type of event
type Type string

// Simulation event types
const (
	PopulationSeeded    Type = "population_seeded"
	AgentExposed        Type = "agent_exposed"
	StateTransition     Type = "state_transition"
	AgentCollision      Type = "agent_collision"
	SimulationFinished  Type = "simulation_finished"
	SimulationRestarted Type = "simulation_restarted"
	ClientConnected     Type = "client_connected"
	ClientDisconnected  Type = "client_disconnected"
)

// Event is the base interface for all events
type Event interface {
	GetType() Type
	GetSource() interface{}
}

// BaseEvent provides common functionality for all events
type BaseEvent struct {
	EventType Type
	Source    interface{}
}

// GetType returns the event type
func (e *BaseEvent) GetType() Type {
	return e.EventType
}

// GetSource returns the event source
func (e *BaseEvent) GetSource() interface{} {
	return e.Source
}

// Handler is a function that handles events
type Handler func(Event)

// Subscription is a handle to a registered handler
type Subscription struct {
	ID     uint64
	Cancel func()
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus manages event subscriptions and dispatching. Handlers run synchronously
// on the publishing goroutine.
type Bus struct {
	handlers map[Type][]subscription
	nextID   uint64
	mu       sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]subscription),
		nextID:   1,
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType Type, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})

	return &Subscription{
		ID:     id,
		Cancel: func() { b.unsubscribe(eventType, id) },
	}
}

func (b *Bus) unsubscribe(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribed handlers
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := b.handlers[event.GetType()]
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(event)
	}
}

// HasSubscribers reports whether anything listens for eventType
func (b *Bus) HasSubscribers(eventType Type) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType]) > 0
}

// Specific event implementations

// SeedEvent is published once the initial population exists
type SeedEvent struct {
	BaseEvent
	AgentCount  int
	PatientZero uint64
}

// NewSeedEvent creates a new population seeded event
func NewSeedEvent(source interface{}, agentCount int, patientZero uint64) *SeedEvent {
	return &SeedEvent{
		BaseEvent:   BaseEvent{EventType: PopulationSeeded, Source: source},
		AgentCount:  agentCount,
		PatientZero: patientZero,
	}
}

// ExposureEvent records an infection passed from one agent to another
type ExposureEvent struct {
	BaseEvent
	AgentID  uint64
	SourceID uint64
	Time     float64
}

// NewExposureEvent creates a new exposure event
func NewExposureEvent(source interface{}, agentID, sourceID uint64, time float64) *ExposureEvent {
	return &ExposureEvent{
		BaseEvent: BaseEvent{EventType: AgentExposed, Source: source},
		AgentID:   agentID,
		SourceID:  sourceID,
		Time:      time,
	}
}

// TransitionEvent records a scheduled state change of an agent
type TransitionEvent struct {
	BaseEvent
	AgentID uint64
	From    entity.Kind
	To      entity.Kind
	Time    float64
}

// NewTransitionEvent creates a new state transition event
func NewTransitionEvent(source interface{}, agentID uint64, from, to entity.Kind, time float64) *TransitionEvent {
	return &TransitionEvent{
		BaseEvent: BaseEvent{EventType: StateTransition, Source: source},
		AgentID:   agentID,
		From:      from,
		To:        to,
		Time:      time,
	}
}

// CollisionEvent contains information about agent collisions
type CollisionEvent struct {
	BaseEvent
	EntityA uint64
	EntityB uint64
	Impact  float64
}

// NewCollisionEvent creates a new collision event. impact is the fraction of
// the tick at which the agents touched.
func NewCollisionEvent(source interface{}, entityA, entityB uint64, impact float64) *CollisionEvent {
	return &CollisionEvent{
		BaseEvent: BaseEvent{EventType: AgentCollision, Source: source},
		EntityA:   entityA,
		EntityB:   entityB,
		Impact:    impact,
	}
}

// RunEvent marks the end or restart of a simulation run
type RunEvent struct {
	BaseEvent
	RunID   string
	Time    float64
	Metrics metrics.Metrics
}

// NewRunEvent creates a new run lifecycle event
func NewRunEvent(eventType Type, source interface{}, runID string, time float64, m metrics.Metrics) *RunEvent {
	return &RunEvent{
		BaseEvent: BaseEvent{EventType: eventType, Source: source},
		RunID:     runID,
		Time:      time,
		Metrics:   m,
	}
}

// ClientEvent contains information about stream client connections
type ClientEvent struct {
	BaseEvent
	ClientID string
	Remote   string
}

// NewClientEvent creates a new client event
func NewClientEvent(eventType Type, source interface{}, clientID, remote string) *ClientEvent {
	return &ClientEvent{
		BaseEvent: BaseEvent{EventType: eventType, Source: source},
		ClientID:  clientID,
		Remote:    remote,
	}
}
