// pkg/engine/population.go
package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/opd-ai/go-contagion/pkg/entity"
	"github.com/opd-ai/go-contagion/pkg/physics"
)

const (
	// minimumCenterSideSpacing is the distance between an outer box edge and
	// the arena wall, in point radii.
	minimumCenterSideSpacing = 4
	// preferredPointSpacing is the initial gap between neighboring boxes, in
	// point radii. It is relaxed stepwise down to minimumPointSpacing.
	preferredPointSpacing = 2
	minimumPointSpacing   = 1
	pointSpacingStep      = 0.5

	maxPlacementAttempts = 10
	// aimedDistanceFactor * r^2 is the squared center distance at which a
	// placement attempt is accepted right away (about 4.5 radii).
	aimedDistanceFactor = 20
)

// box is a rectangle a single agent center is drawn from
type box struct {
	minX, maxX float64
	minY, maxY float64
}

func (b box) random(s *Simulation) physics.Vector2D {
	return physics.Vector2D{
		X: b.minX + s.rng.Float64()*(b.maxX-b.minX),
		Y: b.minY + s.rng.Float64()*(b.maxY-b.minY),
	}
}

// populationBuckets counts agents per category
type populationBuckets struct {
	protectedMoving    int
	unprotectedMoving  int
	protectedResting   int
	unprotectedResting int
}

func (b populationBuckets) total() int {
	return b.protectedMoving + b.unprotectedMoving + b.protectedResting + b.unprotectedResting
}

// generatePopulation places the initial patient first, followed by the
// susceptible agents bucket by bucket.
func (s *Simulation) generatePopulation() ([]entity.Agent, error) {
	n := s.config.Behavior.NumberOfPoints
	if n < 1 {
		return nil, nil
	}

	ranges, err := s.centerRanges(n)
	if err != nil {
		return nil, err
	}
	centers := s.generateCenters(ranges)

	agents := make([]entity.Agent, 0, n)
	agents = append(agents, s.patientZero(centers[0]))
	if n == 1 {
		return agents, nil
	}

	buckets := s.bucketCounts(n, agents[0].Moving(), agents[0].FullyProtected)
	next := 1
	for _, group := range []struct {
		count     int
		moving    bool
		protected bool
	}{
		{buckets.protectedMoving, true, true},
		{buckets.unprotectedMoving, true, false},
		{buckets.protectedResting, false, true},
		{buckets.unprotectedResting, false, false},
	} {
		for i := 0; i < group.count; i++ {
			var velocity physics.Vector2D
			if group.moving {
				velocity = s.randomVelocity()
			}
			agents = append(agents, entity.NewAgent(centers[next], velocity, group.protected, entity.NewSusceptible()))
			next++
		}
	}

	return agents, nil
}

// patientZero creates the initially infectious agent. It moves unless nobody
// moves and is protected only when its whole category is.
func (s *Simulation) patientZero(center physics.Vector2D) entity.Agent {
	behavior := s.config.Behavior
	moving := behavior.MovingShare != 0

	protected := behavior.ProtectionShareAmongResting == 1
	if moving {
		protected = behavior.ProtectionShareAmongMoving == 1
	}

	var velocity physics.Vector2D
	if moving {
		velocity = s.randomVelocity()
	}

	state := entity.NewInfectious(0).WithFuture(s.futureForInfectious(0))
	return entity.NewAgent(center, velocity, protected, state)
}

// bucketCounts apportions n agents to the four categories and removes the
// slot taken by the initial patient. The result always totals n-1.
func (s *Simulation) bucketCounts(n int, seedMoving, seedProtected bool) populationBuckets {
	behavior := s.config.Behavior

	moving := int(math.Round(behavior.MovingShare * float64(n)))
	resting := n - moving
	protectedMoving := int(math.Round(behavior.ProtectionShareAmongMoving * float64(moving)))
	protectedResting := int(math.Round(behavior.ProtectionShareAmongResting * float64(resting)))

	counts := [4]int{
		protectedMoving,
		moving - protectedMoving,
		protectedResting,
		resting - protectedResting,
	}

	switch {
	case seedMoving && moving > 0 && seedProtected && counts[0] > 0:
		counts[0]--
	case seedMoving && moving > 0:
		counts[1]--
	case seedProtected && counts[2] > 0:
		counts[2]--
	default:
		counts[3]--
	}

	rebalance(&counts)

	return populationBuckets{
		protectedMoving:    counts[0],
		unprotectedMoving:  counts[1],
		protectedResting:   counts[2],
		unprotectedResting: counts[3],
	}
}

// rebalance clears a negative bucket by taking the missing slots from the
// first buckets that have some.
func rebalance(counts *[4]int) {
	for i := range counts {
		for counts[i] < 0 {
			donor := -1
			for j := range counts {
				if counts[j] > 0 {
					donor = j
					break
				}
			}
			if donor < 0 {
				counts[i] = 0
				break
			}
			counts[donor]--
			counts[i]++
		}
	}
}

// randomVelocity returns a velocity of magnitude VelocityAbs in a uniformly
// random x component and random y sign.
func (s *Simulation) randomVelocity() physics.Vector2D {
	v := s.config.Fixed.VelocityAbs
	x := -v + s.rng.Float64()*2*v
	sign := float64(2*s.rng.IntN(2) - 1)
	return physics.Vector2D{
		X: x,
		Y: math.Sqrt(math.Max(0, s.config.Fixed.SquaredVelocityAbs-x*x)) * sign,
	}
}

// generateCenters draws one center per box, keeping for each the attempt
// farthest from the centers placed so far.
func (s *Simulation) generateCenters(ranges []box) []physics.Vector2D {
	aimed := aimedDistanceFactor * s.config.Fixed.SquaredPointRadius
	centers := make([]physics.Vector2D, 0, len(ranges))

	for _, b := range ranges {
		var best physics.Vector2D
		bestDistance := -1.0

		for attempt := 0; attempt < maxPlacementAttempts; attempt++ {
			candidate := b.random(s)
			if len(centers) == 0 {
				best = candidate
				break
			}

			distance := minDistanceSquared(candidate, centers)
			if distance > bestDistance {
				best, bestDistance = candidate, distance
			}
			if distance >= aimed {
				break
			}
		}

		centers = append(centers, best)
	}

	return centers
}

func minDistanceSquared(p physics.Vector2D, others []physics.Vector2D) float64 {
	best := math.Inf(1)
	for _, o := range others {
		best = min(best, p.DistanceSquared(o))
	}
	return best
}

// gridDimensions returns a near 2:1 grid of at least n boxes
func gridDimensions(n int) (xCount, yCount int) {
	yUnrounded := math.Sqrt(float64(n) / 2)
	xCount = int(2 * yUnrounded)
	yCount = int(yUnrounded)

	if xCount*yCount < n {
		xCount++
		if xCount*yCount < n {
			xCount--
			yCount++
		}
		if xCount*yCount < n {
			xCount++
		}
	}
	return xCount, yCount
}

// centerRanges splits the arena into a grid of boxes separated by the point
// spacing and returns n of them in random order.
func (s *Simulation) centerRanges(n int) ([]box, error) {
	xCount, yCount := gridDimensions(n)
	radius := s.config.Fixed.PointRadius
	side := minimumCenterSideSpacing * radius

	spacing := float64(preferredPointSpacing)
	var separator, xLength, yLength float64
	for {
		separator = (spacing + 2) * radius
		xLength = (s.arena.Width - float64(xCount-1)*separator - 2*side) / float64(xCount)
		yLength = (s.arena.Height - float64(yCount-1)*separator - 2*side) / float64(yCount)

		if xLength > 0 && yLength > 0 {
			break
		}
		if spacing <= minimumPointSpacing {
			return nil, fmt.Errorf("%w: %d agents in a %dx%d grid", ErrLayoutUnsatisfiable, n, xCount, yCount)
		}
		spacing -= pointSpacingStep
		s.logger.Debug(context.Background(), "relaxing point spacing", "spacing", spacing, "points", n)
	}

	ranges := make([]box, 0, xCount*yCount)
	for x := 0; x < xCount; x++ {
		xOrigin := side + float64(x)*(xLength+separator)
		for y := 0; y < yCount; y++ {
			yOrigin := side + float64(y)*(yLength+separator)
			ranges = append(ranges, box{
				minX: xOrigin, maxX: xOrigin + xLength,
				minY: yOrigin, maxY: yOrigin + yLength,
			})
		}
	}

	s.rng.Shuffle(len(ranges), func(i, j int) {
		ranges[i], ranges[j] = ranges[j], ranges[i]
	})
	return ranges[:n], nil
}
