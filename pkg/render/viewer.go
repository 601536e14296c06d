package render

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"

	"github.com/opd-ai/go-contagion/pkg/entity"
	"github.com/opd-ai/go-contagion/pkg/metrics"
)

// Viewer shows frames on a terminal screen and forwards key presses. Draw
// must be called from a single goroutine.
type Viewer struct {
	screen   tcell.Screen
	renderer *TerminalRenderer
	keys     chan rune
	quit     chan struct{}
	resized  atomic.Bool

	quitOnce  sync.Once
	closeOnce sync.Once
}

// NewViewer initializes screen and starts listening for its events
func NewViewer(screen tcell.Screen, palette Palette) (*Viewer, error) {
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize screen: %w", err)
	}
	screen.HideCursor()

	v := &Viewer{
		screen:   screen,
		renderer: NewTerminalRenderer(screen, palette),
		keys:     make(chan rune, 8),
		quit:     make(chan struct{}),
	}
	go v.pollEvents()
	return v, nil
}

func (v *Viewer) pollEvents() {
	for {
		ev := v.screen.PollEvent()
		if ev == nil {
			return
		}
		if IsQuit(ev) {
			v.quitOnce.Do(func() { close(v.quit) })
			continue
		}

		switch ev := ev.(type) {
		case *tcell.EventResize:
			v.resized.Store(true)
		case *tcell.EventKey:
			if ev.Key() != tcell.KeyRune {
				continue
			}
			select {
			case v.keys <- ev.Rune():
			default:
			}
		}
	}
}

// Draw presents one frame
func (v *Viewer) Draw(time float64, m metrics.Metrics, agents []entity.Agent) {
	if v.resized.Swap(false) {
		v.renderer.Resize()
		v.screen.Sync()
	}
	v.renderer.SetStatus(time, m)
	entity.RenderAll(v.renderer, agents)
}

// Renderer returns the renderer drawing the arena
func (v *Viewer) Renderer() *TerminalRenderer {
	return v.renderer
}

// Quit is closed once the user asked to quit
func (v *Viewer) Quit() <-chan struct{} {
	return v.quit
}

// Keys delivers other rune keys. Keys are dropped while nobody reads.
func (v *Viewer) Keys() <-chan rune {
	return v.keys
}

// Close restores the terminal
func (v *Viewer) Close() {
	v.closeOnce.Do(v.screen.Fini)
}
