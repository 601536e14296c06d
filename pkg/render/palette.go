package render

import (
	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/opd-ai/go-contagion/pkg/entity"
)

// Palette maps agent states to colors
type Palette struct {
	Background colorful.Color
	Border     colorful.Color
	states     [5]colorful.Color
}

// DefaultPalette returns the classic scheme: grey susceptible, light red
// exposed, dark red infectious, green immune and black dead agents on white.
func DefaultPalette() Palette {
	var p Palette
	p.Background = colorful.Color{R: 1, G: 1, B: 1}
	p.Border = colorful.Color{}
	p.states[entity.Susceptible] = colorful.Color{R: 0.8, G: 0.8, B: 0.8}
	p.states[entity.Exposed] = colorful.Color{R: 1, G: 0.6, B: 0.6}
	p.states[entity.Infectious] = colorful.Color{R: 0.8}
	p.states[entity.Immune] = colorful.Color{G: 0.8}
	p.states[entity.Dead] = colorful.Color{}
	return p
}

// Color returns the color of kind
func (p Palette) Color(kind entity.Kind) colorful.Color {
	if int(kind) < 0 || int(kind) >= len(p.states) {
		return p.Border
	}
	return p.states[kind]
}

// SetColor overrides the color of kind
func (p *Palette) SetColor(kind entity.Kind, c colorful.Color) {
	if int(kind) >= 0 && int(kind) < len(p.states) {
		p.states[kind] = c
	}
}

// AgentColor returns the color an agent is drawn with. Dead agents fade into
// the background over entity.DeadFadeDuration.
func (p Palette) AgentColor(a *entity.Agent) colorful.Color {
	c := p.Color(a.State.Kind())
	if a.State.Kind() != entity.Dead {
		return c
	}
	t := min(1, max(0, a.State.Clock()/entity.DeadFadeDuration))
	return c.BlendLab(p.Background, t).Clamped()
}

// layer orders overlapping agents; higher layers are drawn on top
func layer(kind entity.Kind) int {
	switch kind {
	case entity.Dead:
		return 1
	case entity.Infectious:
		return 2
	case entity.Exposed:
		return 3
	case entity.Susceptible:
		return 4
	case entity.Immune:
		return 5
	}
	return 0
}

func tcellColor(c colorful.Color) tcell.Color {
	r, g, b := c.Clamped().RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}

func chartColor(c colorful.Color) drawing.Color {
	r, g, b := c.Clamped().RGB255()
	return drawing.Color{R: r, G: g, B: b, A: 255}
}
