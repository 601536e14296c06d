package physics

// Arena is the axis-aligned rectangle [0, Width] x [0, Height] agents live in.
type Arena struct {
	Width  float64
	Height float64
}

// DefaultArena is the 2:1 unit arena.
var DefaultArena = Arena{Width: 1, Height: 0.5}

// Overshoot returns how far a disc at center with the given radius reaches past
// the walls. Components are negative past the low wall, positive past the high
// wall and zero when the disc is inside on that axis.
func (a Arena) Overshoot(center Vector2D, radius float64) Vector2D {
	var offset Vector2D

	switch {
	case center.X-radius < 0:
		offset.X = center.X - radius
	case center.X+radius > a.Width:
		offset.X = center.X + radius - a.Width
	}

	switch {
	case center.Y-radius < 0:
		offset.Y = center.Y - radius
	case center.Y+radius > a.Height:
		offset.Y = center.Y + radius - a.Height
	}

	return offset
}

// Reflect pushes a disc back inside the arena and flips the velocity component
// of every wall it crossed. changed is false when the disc was already inside.
func (a Arena) Reflect(center, velocity Vector2D, radius float64) (Vector2D, Vector2D, bool) {
	offset := a.Overshoot(center, radius)
	if offset.IsZero() {
		return center, velocity, false
	}

	center = center.Sub(offset)
	if offset.X != 0 {
		velocity.X = -velocity.X
	}
	if offset.Y != 0 {
		velocity.Y = -velocity.Y
	}
	return center, velocity, true
}
