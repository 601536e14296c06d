package render

import (
	"fmt"

	"github.com/gdamore/tcell/v2"

	"github.com/opd-ai/go-contagion/pkg/entity"
	"github.com/opd-ai/go-contagion/pkg/metrics"
	"github.com/opd-ai/go-contagion/pkg/physics"
)

const (
	agentRune          = '●'
	protectedAgentRune = '◉'
	// cellAspect is the height of a terminal cell relative to its width
	cellAspect = 2
	legendRows = 1
)

// cell is the agent drawn into one screen position
type cell struct {
	r     rune
	kind  entity.Kind
	style tcell.Style
	set   bool
}

// TerminalRenderer draws the arena, its agents and a legend onto a tcell
// screen. It implements entity.Renderer.
type TerminalRenderer struct {
	screen  tcell.Screen
	palette Palette
	arena   physics.Arena

	width  int
	height int
	cells  []cell

	time    float64
	metrics metrics.Metrics
}

// NewTerminalRenderer creates a renderer drawing onto screen. The screen must
// be initialized.
func NewTerminalRenderer(screen tcell.Screen, palette Palette) *TerminalRenderer {
	r := &TerminalRenderer{
		screen:  screen,
		palette: palette,
		arena:   physics.DefaultArena,
	}
	r.Resize()
	return r
}

// Resize fits the arena into the current screen size, keeping its aspect
// ratio and leaving room for the border and legend.
func (r *TerminalRenderer) Resize() {
	sw, sh := r.screen.Size()
	width := max(1, sw-2)
	height := max(1, sh-2-legendRows)

	ratio := r.arena.Height / r.arena.Width / cellAspect
	if fit := int(float64(width) * ratio); fit < height {
		height = max(1, fit)
	} else {
		width = max(1, int(float64(height)/ratio))
	}

	r.width, r.height = width, height
	r.cells = make([]cell, width*height)
}

// Size returns the arena size in screen cells
func (r *TerminalRenderer) Size() (width, height int) {
	return r.width, r.height
}

// SetStatus sets the time and metrics shown in the legend
func (r *TerminalRenderer) SetStatus(time float64, m metrics.Metrics) {
	r.time = time
	r.metrics = m
}

// worldToScreen converts arena coordinates to a cell inside the border
func (r *TerminalRenderer) worldToScreen(pos physics.Vector2D) (int, int) {
	x := int(pos.X / r.arena.Width * float64(r.width))
	y := int(pos.Y / r.arena.Height * float64(r.height))
	return min(max(x, 0), r.width-1), min(max(y, 0), r.height-1)
}

// Clear implements entity.Renderer
func (r *TerminalRenderer) Clear() {
	clear(r.cells)
}

// RenderAgent implements entity.Renderer. Agents sharing a cell are resolved
// by state layer.
func (r *TerminalRenderer) RenderAgent(agent *entity.Agent) {
	if agent == nil {
		return
	}

	x, y := r.worldToScreen(agent.Center)
	c := &r.cells[y*r.width+x]
	kind := agent.State.Kind()
	if c.set && layer(c.kind) > layer(kind) {
		return
	}

	ch := agentRune
	if agent.FullyProtected {
		ch = protectedAgentRune
	}
	*c = cell{
		r:     ch,
		kind:  kind,
		style: r.background().Foreground(tcellColor(r.palette.AgentColor(agent))),
		set:   true,
	}
}

// Present implements entity.Renderer
func (r *TerminalRenderer) Present() {
	r.screen.Clear()
	r.drawBorder()

	bg := r.background()
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			c := r.cells[y*r.width+x]
			if c.set {
				r.screen.SetContent(x+1, y+1, c.r, nil, c.style)
			} else {
				r.screen.SetContent(x+1, y+1, ' ', nil, bg)
			}
		}
	}

	r.drawLegend(r.height + 2)
	r.screen.Show()
}

func (r *TerminalRenderer) background() tcell.Style {
	return tcell.StyleDefault.Background(tcellColor(r.palette.Background))
}

func (r *TerminalRenderer) drawBorder() {
	style := r.background().Foreground(tcellColor(r.palette.Border))
	right, bottom := r.width+1, r.height+1

	for x := 1; x < right; x++ {
		r.screen.SetContent(x, 0, tcell.RuneHLine, nil, style)
		r.screen.SetContent(x, bottom, tcell.RuneHLine, nil, style)
	}
	for y := 1; y < bottom; y++ {
		r.screen.SetContent(0, y, tcell.RuneVLine, nil, style)
		r.screen.SetContent(right, y, tcell.RuneVLine, nil, style)
	}
	r.screen.SetContent(0, 0, tcell.RuneULCorner, nil, style)
	r.screen.SetContent(right, 0, tcell.RuneURCorner, nil, style)
	r.screen.SetContent(0, bottom, tcell.RuneLLCorner, nil, style)
	r.screen.SetContent(right, bottom, tcell.RuneLRCorner, nil, style)
}

// drawLegend writes the simulated time and one colored entry per state
func (r *TerminalRenderer) drawLegend(row int) {
	x := r.drawText(0, row, fmt.Sprintf("t=%.1fs", r.time), tcell.StyleDefault) + 2
	for _, kind := range entity.Kinds() {
		style := tcell.StyleDefault.Foreground(tcellColor(r.palette.Color(kind)))
		r.screen.SetContent(x, row, agentRune, nil, style)
		x = r.drawText(x+2, row, fmt.Sprintf("%s %.0f%%", kind, 100*r.metrics.Of(kind)), tcell.StyleDefault) + 2
	}
}

func (r *TerminalRenderer) drawText(x, y int, text string, style tcell.Style) int {
	for _, ch := range text {
		r.screen.SetContent(x, y, ch, nil, style)
		x++
	}
	return x
}

// IsQuit reports whether ev asks the viewer to close (q, Esc or Ctrl-C)
func IsQuit(ev tcell.Event) bool {
	key, ok := ev.(*tcell.EventKey)
	if !ok {
		return false
	}
	switch key.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyRune:
		return key.Rune() == 'q' || key.Rune() == 'Q'
	}
	return false
}
