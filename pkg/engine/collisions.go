// pkg/engine/collisions.go
package engine

import (
	"context"
	"slices"

	"github.com/opd-ai/go-contagion/pkg/entity"
	"github.com/opd-ai/go-contagion/pkg/event"
	"github.com/opd-ai/go-contagion/pkg/physics"
)

// contact is the earliest collision of an agent within a step
type contact struct {
	neighbor entity.Agent
	impact   float64
}

// resolveAgentCollisions handles agent to agent contacts after movement.
// Every agent reacts to the first neighbor it touched during the step; all
// reads come from the positions at the start of this pass, so the order of
// agents does not matter. Only one contact per agent and step is handled.
func (s *Simulation) resolveAgentCollisions(agents []entity.Agent, dt float64) {
	snapshot := slices.Clone(agents)

	visible := make([]int, 0, len(snapshot))
	slot := make([]int, len(snapshot))
	centers := make([]physics.Vector2D, 0, len(snapshot))
	for i := range snapshot {
		slot[i] = -1
		if snapshot[i].Visible() {
			slot[i] = len(visible)
			visible = append(visible, i)
			centers = append(centers, snapshot[i].Center)
		}
	}

	raster := physics.NewRasterizer(centers, RasterCount)
	var neighbors []int

	for i := range snapshot {
		if slot[i] < 0 {
			continue
		}

		neighbors = raster.AppendNeighbors(neighbors[:0], slot[i])
		c, ok := s.firstContact(snapshot[i], snapshot, visible, neighbors, dt)
		if !ok {
			continue
		}

		agents[i] = s.collide(snapshot[i], c, dt)
	}
}

// firstContact returns the overlapping neighbor with the earliest time of
// impact. Ties keep the first neighbor found.
func (s *Simulation) firstContact(agent entity.Agent, snapshot []entity.Agent, visible, neighbors []int, dt float64) (contact, bool) {
	factor := s.config.Behavior.InfectiousSpeedReductionFactor
	squaredRadius := s.config.Fixed.SquaredPointRadius

	var first contact
	found := false

	agentStart := agent.Center.Sub(agent.ActualVelocity(factor).Scale(dt))
	for _, k := range neighbors {
		neighbor := snapshot[visible[k]]
		if !agent.Collides(neighbor, squaredRadius) {
			continue
		}

		neighborStart := neighbor.Center.Sub(neighbor.ActualVelocity(factor).Scale(dt))
		impact := physics.TimeOfImpact(agentStart, agent.Center, neighborStart, neighbor.Center, squaredRadius)
		if !found || impact < first.impact {
			first = contact{neighbor: neighbor, impact: impact}
			found = true
		}
	}

	return first, found
}

// collide moves a moving agent back to the point of impact, deflects it away
// from the neighbor and transmits the illness if possible.
func (s *Simulation) collide(agent entity.Agent, c contact, dt float64) entity.Agent {
	factor := s.config.Behavior.InfectiousSpeedReductionFactor

	if velocity := agent.ActualVelocity(factor); !velocity.IsZero() {
		rewind := (1 - c.impact) * dt
		agentAtImpact := agent.Center.Sub(velocity.Scale(rewind))
		neighborAtImpact := c.neighbor.Center.Sub(c.neighbor.ActualVelocity(factor).Scale(rewind))

		agent.Center = agentAtImpact
		if deflected, ok := physics.Deflect(neighborAtImpact.Sub(agentAtImpact), s.config.Fixed.VelocityAbs); ok {
			agent.NominalVelocity = deflected
		} else {
			s.logger.Debug(context.Background(), "degenerate contact, keeping velocity",
				"agent", agent.ID(),
				"neighbor", c.neighbor.ID(),
				"impact", c.impact)
		}
	}

	if s.bus != nil && s.bus.HasSubscribers(event.AgentCollision) {
		s.publish(event.NewCollisionEvent(s, agent.ID(), c.neighbor.ID(), c.impact))
	}

	if agent.CanBeInfectedBy(c.neighbor) {
		agent.State = s.expose(agent.ID(), c.neighbor.ID())
	}

	return agent
}

// expose draws the course of a new infection and applies whatever part of it
// is already due.
func (s *Simulation) expose(agentID, sourceID uint64) entity.State {
	s.publish(event.NewExposureEvent(s, agentID, sourceID, s.time))

	state := entity.NewExposed(0).WithFuture(s.futureForExposed())
	return state.Resolve(0, s.transitionVisitor(agentID))
}
