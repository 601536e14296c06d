// pkg/entity/state.go
package entity

import "fmt"

// Kind is the health state category of an agent
type Kind int

const (
	Susceptible Kind = iota
	Exposed
	Infectious
	Immune
	Dead
)

var kindNames = []string{"Susceptible", "Exposed", "Infectious", "Immune", "Dead"}

// String returns the string representation of a state kind
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

// MarshalText encodes the kind by name
func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("invalid state kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a kind name
func (k *Kind) UnmarshalText(text []byte) error {
	kind, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseKind converts a kind name back to a Kind
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown state kind %q", name)
}

// Kinds lists every kind in presentation order
func Kinds() []Kind {
	return []Kind{Susceptible, Exposed, Infectious, Immune, Dead}
}

// transition is one scheduled step of a state's future
type transition struct {
	at   float64
	kind Kind
}

// Future is the next scheduled transition of a state: at clock value Time
// the state becomes Next.
type Future struct {
	Time float64
	Next State
}

// State is an immutable health state. Clock counts time within the course of
// the illness (for Dead, time since death). The remaining schedule is stored
// flat; every accessor returns a fresh value.
type State struct {
	kind  Kind
	clock float64
	plan  []transition
}

// NewSusceptible returns the healthy state. It has no future.
func NewSusceptible() State {
	return State{kind: Susceptible}
}

// NewExposed returns an exposed state at the given clock
func NewExposed(clock float64) State {
	return State{kind: Exposed, clock: clock}
}

// NewInfectious returns an infectious state at the given clock
func NewInfectious(clock float64) State {
	return State{kind: Infectious, clock: clock}
}

// NewImmune returns an immune state at the given clock
func NewImmune(clock float64) State {
	return State{kind: Immune, clock: clock}
}

// NewDead returns a dead state. sinceDeath is the time passed since death.
func NewDead(sinceDeath float64) State {
	return State{kind: Dead, clock: sinceDeath}
}

// Kind returns the state's category
func (s State) Kind() Kind {
	return s.kind
}

// Clock returns the state's clock value
func (s State) Clock() float64 {
	return s.clock
}

// WithFuture returns a copy of s scheduled to follow f. Dead and Susceptible
// never carry a future.
func (s State) WithFuture(f Future) State {
	if s.kind == Dead || s.kind == Susceptible {
		return s.withoutPlan()
	}
	plan := make([]transition, 0, 1+len(f.Next.plan))
	plan = append(plan, transition{at: f.Time, kind: f.Next.kind})
	plan = append(plan, f.Next.plan...)
	s.plan = plan
	return s
}

func (s State) withoutPlan() State {
	s.plan = nil
	return s
}

// Future returns the next scheduled transition, if any
func (s State) Future() (Future, bool) {
	if len(s.plan) == 0 || s.kind == Dead || s.kind == Susceptible {
		return Future{}, false
	}
	head := s.plan[0]
	next := State{kind: head.kind, clock: head.at}
	if head.kind == Dead || head.kind == Susceptible {
		next.clock = 0
	} else {
		next.plan = s.plan[1:len(s.plan):len(s.plan)]
	}
	return Future{Time: head.at, Next: next}, true
}

// HasFutureWithin reports whether a transition is scheduled at or before t
func (s State) HasFutureWithin(t float64) bool {
	f, ok := s.Future()
	return ok && f.Time <= t
}

// Bumped returns s with its clock advanced by dt
func (s State) Bumped(dt float64) State {
	s.clock += dt
	return s
}

// Resolve applies every transition due at clock value at, in order. Each
// applied state takes its transition time as its clock. visit, if non-nil, is
// called for every transition.
func (s State) Resolve(at float64, visit func(from, to State)) State {
	for {
		f, ok := s.Future()
		if !ok || f.Time > at {
			return s
		}
		if visit != nil {
			visit(s, f.Next)
		}
		s = f.Next
	}
}

// Advance moves the state forward by dt: if a transition falls within the
// new clock value the schedule is resolved, otherwise the clock is bumped.
// Susceptible states never change.
func (s State) Advance(dt float64, visit func(from, to State)) State {
	switch s.kind {
	case Susceptible:
		return s
	case Dead:
		return s.Bumped(dt)
	}
	newTime := s.clock + dt
	if s.HasFutureWithin(newTime) {
		return s.Resolve(newTime, visit)
	}
	return s.Bumped(dt)
}

// Equal reports whether two states have the same kind, clock and schedule
func (s State) Equal(other State) bool {
	if s.kind != other.kind || s.clock != other.clock || len(s.plan) != len(other.plan) {
		return false
	}
	for i := range s.plan {
		if s.plan[i] != other.plan[i] {
			return false
		}
	}
	return true
}

// Schedule returns the remaining transitions as (time, kind) pairs
func (s State) Schedule() []Future {
	out := make([]Future, 0, len(s.plan))
	for cur, ok := s.Future(); ok; cur, ok = cur.Next.Future() {
		out = append(out, cur)
	}
	return out
}

func (s State) String() string {
	if f, ok := s.Future(); ok {
		return fmt.Sprintf("%s(%.3f -> %s@%.3f)", s.kind, s.clock, f.Next.kind, f.Time)
	}
	return fmt.Sprintf("%s(%.3f)", s.kind, s.clock)
}
