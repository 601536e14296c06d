// pkg/render/renderer.go
package render

import (
	"context"

	"github.com/opd-ai/go-contagion/pkg/entity"
	"github.com/opd-ai/go-contagion/pkg/logging"
)

// NullRenderer is a headless implementation of entity.Renderer. It counts
// the agents of every frame per state and logs the tally at debug level.
type NullRenderer struct {
	logger *logging.Logger
	counts [5]int
	frames uint64
}

// NewNullRenderer creates a new NullRenderer logging to logger
func NewNullRenderer(logger *logging.Logger) *NullRenderer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &NullRenderer{logger: logger}
}

// Clear implements entity.Renderer.
func (d *NullRenderer) Clear() {
	d.counts = [5]int{}
}

// RenderAgent implements entity.Renderer.
func (d *NullRenderer) RenderAgent(agent *entity.Agent) {
	if agent == nil {
		return
	}
	if kind := agent.State.Kind(); int(kind) >= 0 && int(kind) < len(d.counts) {
		d.counts[kind]++
	}
}

// Present implements entity.Renderer.
func (d *NullRenderer) Present() {
	d.frames++
	d.logger.Debug(context.Background(), "frame rendered",
		"frame", d.frames,
		"susceptible", d.counts[entity.Susceptible],
		"exposed", d.counts[entity.Exposed],
		"infectious", d.counts[entity.Infectious],
		"immune", d.counts[entity.Immune],
		"dead", d.counts[entity.Dead],
	)
}

// Count returns how many agents of kind the last frame drew
func (d *NullRenderer) Count(kind entity.Kind) int {
	if int(kind) < 0 || int(kind) >= len(d.counts) {
		return 0
	}
	return d.counts[kind]
}

// Frames returns the number of presented frames
func (d *NullRenderer) Frames() uint64 {
	return d.frames
}
