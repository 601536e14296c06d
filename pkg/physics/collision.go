// pkg/physics/collision.go
package physics

import "math"

// Overlapping reports whether two discs of equal radius overlap. The radius is
// passed squared so callers can precompute it once.
func Overlapping(a, b Vector2D, squaredRadius float64) bool {
	return a.DistanceSquared(b) < 4*squaredRadius
}

// TimeOfImpact returns the fraction t in [0, 1] of a tick at which two discs of
// equal radius first touch. Each disc moves linearly from its start to its end
// center during the tick. Results that fall outside [0, 1] or are not finite
// (near-parallel motion, two resting discs) are reported as 0.
func TimeOfImpact(aStart, aEnd, bStart, bEnd Vector2D, squaredRadius float64) float64 {
	a := aStart.Sub(bStart)
	b := aEnd.Sub(aStart).Sub(bEnd.Sub(bStart))
	bLengthSquared := b.LengthSquared()

	p := 2 * a.Dot(b) / bLengthSquared
	q := (a.LengthSquared() - 4*squaredRadius) / bLengthSquared

	t := -p/2 - math.Sqrt(p*p/4-q)
	if t > 1 || t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return 0
	}
	return t
}

// Deflect returns a velocity of magnitude speed pointing away from connecting,
// the vector from the moving disc to the disc it hit. ok is false when the
// geometry is degenerate and no finite velocity exists.
func Deflect(connecting Vector2D, speed float64) (velocity Vector2D, ok bool) {
	sign := connecting.Sign()
	ratio := connecting.X / connecting.Y

	velocity.Y = speed / math.Sqrt(ratio*ratio+1) * -sign.Y
	velocity.X = math.Sqrt(speed*speed-velocity.Y*velocity.Y) * -sign.X

	if !velocity.IsFinite() {
		return Vector2D{}, false
	}
	return velocity, true
}
