// pkg/engine/future.go
package engine

import (
	"github.com/opd-ai/go-contagion/pkg/entity"
)

// The whole course of an illness is drawn when an agent is exposed (or, for
// the initial patient, when it is seeded). Later steps only replay the
// schedule.

// futureForExposed draws whether an exposed agent turns infectious or
// immune after the incubation period, and everything that follows.
func (s *Simulation) futureForExposed() entity.Future {
	incubation := s.config.Illness.IncubationPeriod

	if s.chance(s.config.Illness.InfectiousShare) {
		return entity.Future{
			Time: incubation,
			Next: entity.NewInfectious(incubation).WithFuture(s.futureForInfectious(incubation)),
		}
	}

	return entity.Future{
		Time: incubation,
		Next: s.immuneAt(incubation),
	}
}

// futureForInfectious draws whether an agent infectious since clock dies or
// recovers when the infectious period ends.
func (s *Simulation) futureForInfectious(clock float64) entity.Future {
	end := clock + s.config.Illness.InfectiousDuration

	if s.chance(s.config.DeathProbability()) {
		return entity.Future{Time: end, Next: entity.NewDead(0)}
	}

	return entity.Future{Time: end, Next: s.immuneAt(end)}
}

// futureForImmune draws whether immunity gained at clock wears off. ok is
// false for permanent immunity.
func (s *Simulation) futureForImmune(clock float64) (f entity.Future, ok bool) {
	if s.chance(s.config.Immunity.PermanentImmunityShare) {
		return entity.Future{}, false
	}

	return entity.Future{
		Time: clock + s.config.Immunity.ImmunityDurationOfNonPermanentImmunes,
		Next: entity.NewSusceptible(),
	}, true
}

func (s *Simulation) immuneAt(clock float64) entity.State {
	immune := entity.NewImmune(clock)
	if f, ok := s.futureForImmune(clock); ok {
		immune = immune.WithFuture(f)
	}
	return immune
}

// chance returns true with probability p
func (s *Simulation) chance(p float64) bool {
	return s.rng.Float64() < p
}
