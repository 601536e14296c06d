package network

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opd-ai/go-contagion/pkg/config"
	"github.com/opd-ai/go-contagion/pkg/engine"
	"github.com/opd-ai/go-contagion/pkg/entity"
	"github.com/opd-ai/go-contagion/pkg/event"
	"github.com/opd-ai/go-contagion/pkg/physics"
)

func testEnv() *config.EnvironmentConfig {
	return &config.EnvironmentConfig{
		Preset:                            config.PresetMock,
		Seed:                              7,
		TickRate:                          30,
		SampleSteps:                       50,
		SpeedMultiplier:                   1,
		ServerAddr:                        "127.0.0.1",
		MaxClients:                        4,
		ReadTimeout:                       5 * time.Second,
		WriteTimeout:                      2 * time.Second,
		CircuitBreakerMaxRequests:         1,
		CircuitBreakerInterval:            60 * time.Second,
		CircuitBreakerTimeout:             time.Second,
		CircuitBreakerMaxConsecutiveFails: 3,
		ControlMessagesPerSecond:          5,
		ControlBurst:                      5,
	}
}

func newTestServer(t *testing.T, env *config.EnvironmentConfig, opts ...ServerOption) (*StreamServer, *httptest.Server) {
	t.Helper()
	server, err := NewStreamServer(env, PresetRunnerFactory(env.Preset, env.SampleSteps, nil, nil), opts...)
	if err != nil {
		t.Fatalf("NewStreamServer failed: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Stop(ctx)
		ts.Close()
	})
	return server, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + StreamPath
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// readType reads messages until one of type msgType arrives
func readType(t *testing.T, conn *websocket.Conn, msgType string, v interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.Fatalf("Invalid message %s: %v", data, err)
		}
		if envelope.Type == msgType {
			if err := json.Unmarshal(data, v); err != nil {
				t.Fatalf("Failed to decode %s: %v", msgType, err)
			}
			return
		}
	}
}

func TestNewStreamServer_UnknownPreset(t *testing.T) {
	env := testEnv()
	env.Preset = "zombies"

	_, err := NewStreamServer(env, PresetRunnerFactory(env.Preset, 10, nil, nil))
	if err == nil {
		t.Error("Expected an error for an unknown preset")
	}
}

func TestStreamServer_BroadcastsFrames(t *testing.T) {
	server, ts := newTestServer(t, testEnv())
	conn := dial(t, ts)
	waitFor(t, "client registration", func() bool { return server.ClientCount() == 1 })

	server.tick(context.Background(), engine.MaxTimeProgress)

	var frame FrameMessage
	readType(t, conn, MessageTypeFrame, &frame)

	if len(frame.Agents) != 150 {
		t.Errorf("Expected 150 agents in the first frame, got %d", len(frame.Agents))
	}
	if !frame.Running {
		t.Error("Expected a running simulation")
	}
	if frame.RunID != server.Runner().RunID() {
		t.Errorf("Expected run id %s, got %s", server.Runner().RunID(), frame.RunID)
	}
	if frame.Agents[0].State != entity.Infectious {
		t.Errorf("Expected the first agent to be infectious, got %v", frame.Agents[0].State)
	}
}

func TestStreamServer_RestartControl(t *testing.T) {
	bus := event.NewEventBus()
	restarted := make(chan string, 1)
	bus.Subscribe(event.SimulationRestarted, func(e event.Event) {
		restarted <- e.(*event.RunEvent).RunID
	})

	server, ts := newTestServer(t, testEnv(), WithServerEventBus(bus))
	conn := dial(t, ts)
	waitFor(t, "client registration", func() bool { return server.ClientCount() == 1 })

	before := server.Runner()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"restart","preset":"lab","seed":3}`)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	select {
	case runID := <-restarted:
		if runID == before.RunID() {
			t.Error("Expected a new run id after restart")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for restart event")
	}

	after := server.Runner()
	if after == before {
		t.Fatal("Expected the runner to be replaced")
	}
	if got := after.Simulation().Configuration().SimulationDuration; got != 60 {
		t.Errorf("Expected lab preset duration 60, got %v", got)
	}

	server.tick(context.Background(), engine.MaxTimeProgress)
	var frame FrameMessage
	readType(t, conn, MessageTypeFrame, &frame)
	if frame.RunID != after.RunID() {
		t.Errorf("Expected frames of the new run, got %s", frame.RunID)
	}
}

func TestStreamServer_RejectsInvalidControl(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"UnknownPreset", `{"type":"restart","preset":"zombies"}`, "unknown preset"},
		{"UnknownType", `{"type":"fire"}`, "unknown message type"},
		{"InvalidJSON", `{"type":`, "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, ts := newTestServer(t, testEnv())
			conn := dial(t, ts)
			waitFor(t, "client registration", func() bool { return server.ClientCount() == 1 })
			before := server.Runner()

			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
				t.Fatalf("WriteMessage failed: %v", err)
			}

			var msg ErrorMessage
			readType(t, conn, MessageTypeError, &msg)
			if !strings.Contains(msg.Message, tt.want) {
				t.Errorf("Expected error containing %q, got %q", tt.want, msg.Message)
			}
			if server.Runner() != before {
				t.Error("Rejected message must not restart the simulation")
			}
		})
	}
}

func TestStreamServer_RateLimitsControl(t *testing.T) {
	env := testEnv()
	env.ControlMessagesPerSecond = 1
	env.ControlBurst = 1
	server, ts := newTestServer(t, env)
	conn := dial(t, ts)
	waitFor(t, "client registration", func() bool { return server.ClientCount() == 1 })

	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"restart"}`)); err != nil {
			t.Fatalf("WriteMessage failed: %v", err)
		}
	}

	var msg ErrorMessage
	readType(t, conn, MessageTypeError, &msg)
	if !strings.Contains(msg.Message, "rate limit") {
		t.Errorf("Expected a rate limit error, got %q", msg.Message)
	}
}

func TestStreamServer_ServerFull(t *testing.T) {
	env := testEnv()
	env.MaxClients = 1
	server, ts := newTestServer(t, env)

	dial(t, ts)
	waitFor(t, "client registration", func() bool { return server.ClientCount() == 1 })

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("Expected handshake failure, got %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %+v", resp)
	}
}

func TestStreamServer_FinishedRunIdles(t *testing.T) {
	env := testEnv()
	factory := func(preset string, seed *uint64) (*engine.Runner, error) {
		agent := entity.NewAgent(physics.Vector2D{X: 0.5, Y: 0.25}, physics.Vector2D{}, false, entity.NewSusceptible())
		sim := engine.NewSimulation(config.New(config.DefaultOptions()), engine.WithSeed(1, 1), engine.WithPopulation([]entity.Agent{agent}))
		return engine.NewRunner(sim), nil
	}
	server, err := NewStreamServer(env, factory)
	if err != nil {
		t.Fatalf("NewStreamServer failed: %v", err)
	}
	defer server.Stop(context.Background())

	ctx := context.Background()
	server.tick(ctx, engine.MaxTimeProgress)

	server.runnerLock.Lock()
	finished := server.finalSent
	server.runnerLock.Unlock()
	if !finished {
		t.Fatal("Expected the run to finish without any future")
	}

	ticks := server.Runner().Status().Ticks
	server.tick(ctx, engine.MaxTimeProgress)
	if server.Runner().Status().Ticks != ticks {
		t.Error("Finished run must not be advanced")
	}

	if err := server.Restart(ctx, "", nil); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	server.runnerLock.Lock()
	finished = server.finalSent
	server.runnerLock.Unlock()
	if finished {
		t.Error("Restart must resume broadcasting")
	}
}

func TestStreamServer_BroadcastsStepFailure(t *testing.T) {
	factory := func(preset string, seed *uint64) (*engine.Runner, error) {
		sim := engine.NewSimulation(config.New(config.DefaultOptions()), engine.WithSeed(1, 2),
			engine.WithArena(physics.Arena{Width: 0.05, Height: 0.05}))
		return engine.NewRunner(sim), nil
	}
	server, err := NewStreamServer(testEnv(), factory)
	if err != nil {
		t.Fatalf("NewStreamServer failed: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	defer server.Stop(context.Background())

	conn := dial(t, ts)
	waitFor(t, "client registration", func() bool { return server.ClientCount() == 1 })

	server.tick(context.Background(), engine.MaxTimeProgress)

	var msg ErrorMessage
	readType(t, conn, MessageTypeError, &msg)
	if !strings.Contains(msg.Message, "fit into the arena") {
		t.Errorf("Unexpected error message %q", msg.Message)
	}
}

func TestStreamServer_FinishHandlerUsesServer(t *testing.T) {
	bus := event.NewEventBus()
	factory := func(preset string, seed *uint64) (*engine.Runner, error) {
		agent := entity.NewAgent(physics.Vector2D{X: 0.5, Y: 0.25}, physics.Vector2D{}, false, entity.NewSusceptible())
		sim := engine.NewSimulation(config.New(config.DefaultOptions()), engine.WithSeed(1, 1), engine.WithPopulation([]entity.Agent{agent}))
		return engine.NewRunner(sim, engine.WithRunnerEventBus(bus)), nil
	}
	server, err := NewStreamServer(testEnv(), factory)
	if err != nil {
		t.Fatalf("NewStreamServer failed: %v", err)
	}
	defer server.Stop(context.Background())

	statuses := make(chan engine.Status, 1)
	bus.Subscribe(event.SimulationFinished, func(event.Event) {
		statuses <- server.Runner().Status()
	})

	done := make(chan struct{})
	go func() {
		server.tick(context.Background(), engine.MaxTimeProgress)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tick blocked while a finish handler used the server")
	}
	if status := <-statuses; status.Running {
		t.Error("Expected the handler to see the finished run")
	}
}

func TestStreamServer_ClientEvents(t *testing.T) {
	bus := event.NewEventBus()
	events := make(chan event.Type, 4)
	for _, typ := range []event.Type{event.ClientConnected, event.ClientDisconnected} {
		bus.Subscribe(typ, func(e event.Event) { events <- e.GetType() })
	}

	server, ts := newTestServer(t, testEnv(), WithServerEventBus(bus))
	conn := dial(t, ts)

	expect := func(want event.Type) {
		t.Helper()
		select {
		case got := <-events:
			if got != want {
				t.Errorf("Expected %s, got %s", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for %s", want)
		}
	}

	expect(event.ClientConnected)
	conn.Close()
	expect(event.ClientDisconnected)
	waitFor(t, "client removal", func() bool { return server.ClientCount() == 0 })
}

func TestStreamServer_StartStop(t *testing.T) {
	server, err := NewStreamServer(testEnv(), PresetRunnerFactory(config.PresetMock, 20, nil, nil))
	if err != nil {
		t.Fatalf("NewStreamServer failed: %v", err)
	}

	if server.Addr() != "" || server.Listening() {
		t.Error("Server must not listen before Start")
	}
	if err := server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !server.Listening() || server.Addr() == "" {
		t.Fatal("Expected server to listen after Start")
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+server.Addr()+StreamPath, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var frame FrameMessage
	readType(t, conn, MessageTypeFrame, &frame)
	if frame.RunID == "" {
		t.Error("Expected frames from the simulation loop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if server.Listening() {
		t.Error("Expected server to stop listening")
	}
}

func TestPresetRunnerFactory(t *testing.T) {
	factory := PresetRunnerFactory(config.PresetMock, 20, nil, nil)

	if _, err := factory("zombies", nil); err == nil {
		t.Error("Expected an error for an unknown preset")
	}

	seed := uint64(99)
	first := func() []entity.Agent {
		runner, err := factory("", &seed)
		if err != nil {
			t.Fatalf("factory failed: %v", err)
		}
		frame, err := runner.Advance(0.05)
		if err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
		return frame.Agents
	}

	a, b := first(), first()
	if len(a) != len(b) || len(a) == 0 {
		t.Fatalf("Unexpected population sizes %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Center != b[i].Center {
			t.Fatalf("Agent %d differs between identically seeded runs", i)
		}
	}
}
