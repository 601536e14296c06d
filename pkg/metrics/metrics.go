// pkg/metrics/metrics.go
package metrics

import (
	"github.com/opd-ai/go-contagion/pkg/entity"
)

// Metrics holds the fraction of the population in each state
type Metrics struct {
	Susceptible float64 `json:"susceptible"`
	Exposed     float64 `json:"exposed"`
	Infectious  float64 `json:"infectious"`
	Dead        float64 `json:"dead"`
	Immune      float64 `json:"immune"`
}

// Compute reduces a population to state fractions. An empty population
// yields all zeros.
func Compute(agents []entity.Agent) Metrics {
	var counts [5]int
	for i := range agents {
		counts[agents[i].State.Kind()]++
	}

	total := float64(len(agents))
	if total == 0 {
		total = 1
	}

	return Metrics{
		Susceptible: float64(counts[entity.Susceptible]) / total,
		Exposed:     float64(counts[entity.Exposed]) / total,
		Infectious:  float64(counts[entity.Infectious]) / total,
		Dead:        float64(counts[entity.Dead]) / total,
		Immune:      float64(counts[entity.Immune]) / total,
	}
}

// Of returns the fraction for a single kind
func (m Metrics) Of(kind entity.Kind) float64 {
	switch kind {
	case entity.Susceptible:
		return m.Susceptible
	case entity.Exposed:
		return m.Exposed
	case entity.Infectious:
		return m.Infectious
	case entity.Dead:
		return m.Dead
	case entity.Immune:
		return m.Immune
	default:
		return 0
	}
}

// Sum returns the total of all fractions
func (m Metrics) Sum() float64 {
	return m.Susceptible + m.Exposed + m.Infectious + m.Dead + m.Immune
}
