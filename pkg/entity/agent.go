// pkg/entity/agent.go
package entity

import (
	"github.com/EngoEngine/ecs"
	"github.com/opd-ai/go-contagion/pkg/physics"
)

// DeadFadeDuration is how long a dead agent stays visible after death
const DeadFadeDuration = 1.0

// Agent is a single individual in the arena. Agents are plain values: the
// engine hands out copies, never references into its own population.
type Agent struct {
	ecs.BasicEntity
	Center          physics.Vector2D
	NominalVelocity physics.Vector2D
	FullyProtected  bool
	State           State
}

// NewAgent creates an agent with a fresh entity id
func NewAgent(center, velocity physics.Vector2D, protected bool, state State) Agent {
	return Agent{
		BasicEntity:     ecs.NewBasic(),
		Center:          center,
		NominalVelocity: velocity,
		FullyProtected:  protected,
		State:           state,
	}
}

// Moving reports whether the agent has a nominal velocity
func (a Agent) Moving() bool {
	return !a.NominalVelocity.IsZero()
}

// ActualVelocity returns the velocity the agent moves with in its current
// state. Dead agents stand still; infectious ones are slowed by factor.
func (a Agent) ActualVelocity(infectiousFactor float64) physics.Vector2D {
	switch a.State.Kind() {
	case Dead:
		return physics.Vector2D{}
	case Infectious:
		return a.NominalVelocity.Scale(infectiousFactor)
	default:
		return a.NominalVelocity
	}
}

// Visible reports whether the agent should still be drawn and collided with
func (a Agent) Visible() bool {
	return !(a.State.Kind() == Dead && a.State.Clock() > DeadFadeDuration)
}

// HasFutureWithin reports whether the agent's state changes at or before t
func (a Agent) HasFutureWithin(t float64) bool {
	return a.State.HasFutureWithin(t)
}

// CanBeInfectedBy reports whether contact with other would expose a
func (a Agent) CanBeInfectedBy(other Agent) bool {
	return a.State.Kind() == Susceptible &&
		other.State.Kind() == Infectious &&
		!a.FullyProtected &&
		!other.FullyProtected
}

// Collides reports whether the two agents' circles overlap
func (a Agent) Collides(other Agent, squaredRadius float64) bool {
	return physics.Overlapping(a.Center, other.Center, squaredRadius)
}
