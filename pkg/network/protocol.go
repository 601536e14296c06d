// pkg/network/protocol.go
package network

import (
	"encoding/json"
	"fmt"

	"github.com/opd-ai/go-contagion/pkg/engine"
	"github.com/opd-ai/go-contagion/pkg/entity"
	"github.com/opd-ai/go-contagion/pkg/metrics"
	"github.com/opd-ai/go-contagion/pkg/physics"
	"github.com/opd-ai/go-contagion/pkg/validation"
)

// Message types on the stream
const (
	MessageTypeFrame   = "frame"
	MessageTypeError   = "error"
	MessageTypeRestart = validation.MessageTypeRestart
)

// AgentFrame is the wire form of a visible agent
type AgentFrame struct {
	ID        uint64      `json:"id"`
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	State     entity.Kind `json:"state"`
	Protected bool        `json:"protected,omitempty"`
}

// FrameMessage carries one simulation frame to stream clients
type FrameMessage struct {
	Type    string          `json:"type"`
	RunID   string          `json:"runId"`
	Time    float64         `json:"time"`
	Running bool            `json:"running"`
	Metrics metrics.Metrics `json:"metrics"`
	Agents  []AgentFrame    `json:"agents"`
}

// ControlMessage is sent by clients to steer the simulation. A restart
// without preset keeps the current one; without seed a fresh one is drawn.
type ControlMessage struct {
	Type   string  `json:"type"`
	Preset string  `json:"preset,omitempty"`
	Seed   *uint64 `json:"seed,omitempty"`
}

// ErrorMessage reports a rejected control message to its sender
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewFrameMessage converts a runner frame, dropping agents that are no
// longer visible.
func NewFrameMessage(runID string, frame engine.Frame) FrameMessage {
	agents := make([]AgentFrame, 0, len(frame.Agents))
	for i := range frame.Agents {
		a := &frame.Agents[i]
		if !a.Visible() {
			continue
		}
		agents = append(agents, AgentFrame{
			ID:        a.ID(),
			X:         a.Center.X,
			Y:         a.Center.Y,
			State:     a.State.Kind(),
			Protected: a.FullyProtected,
		})
	}

	return FrameMessage{
		Type:    MessageTypeFrame,
		RunID:   runID,
		Time:    frame.Time,
		Running: frame.Running,
		Metrics: frame.Metrics,
		Agents:  agents,
	}
}

// AgentList rebuilds drawable agents from the frame. Schedules are not
// transmitted, so every state carries a zero clock.
func (m FrameMessage) AgentList() []entity.Agent {
	agents := make([]entity.Agent, 0, len(m.Agents))
	for _, a := range m.Agents {
		agents = append(agents, entity.NewAgent(
			physics.Vector2D{X: a.X, Y: a.Y},
			physics.Vector2D{},
			a.Protected,
			stateOf(a.State),
		))
	}
	return agents
}

func stateOf(kind entity.Kind) entity.State {
	switch kind {
	case entity.Exposed:
		return entity.NewExposed(0)
	case entity.Infectious:
		return entity.NewInfectious(0)
	case entity.Immune:
		return entity.NewImmune(0)
	case entity.Dead:
		return entity.NewDead(0)
	default:
		return entity.NewSusceptible()
	}
}

// DecodeControlMessage parses and validates a control message. The preset
// name is returned normalized.
func DecodeControlMessage(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("failed to parse control message: %w", err)
	}

	if err := validation.ValidateMessageType(msg.Type); err != nil {
		return ControlMessage{}, err
	}

	preset, err := validation.ValidatePresetName(msg.Preset)
	if err != nil {
		return ControlMessage{}, err
	}
	msg.Preset = preset

	return msg, nil
}
