package entity

// Renderer draws agents
type Renderer interface {
	RenderAgent(agent *Agent)
	Clear()
	Present()
}

// RenderAll clears r, draws every visible agent and presents the result
func RenderAll(r Renderer, agents []Agent) {
	r.Clear()
	for i := range agents {
		if agents[i].Visible() {
			r.RenderAgent(&agents[i])
		}
	}
	r.Present()
}
