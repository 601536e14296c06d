// pkg/network/server.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opd-ai/go-contagion/pkg/config"
	"github.com/opd-ai/go-contagion/pkg/engine"
	"github.com/opd-ai/go-contagion/pkg/event"
	"github.com/opd-ai/go-contagion/pkg/logging"
	"github.com/opd-ai/go-contagion/pkg/validation"
)

const (
	// clientQueueSize is the number of frames buffered per client before new
	// frames are dropped for it
	clientQueueSize = 8
	// StreamPath is the websocket endpoint
	StreamPath = "/ws"
)

// ErrServerFull is returned when MaxClients clients are connected
var ErrServerFull = errors.New("server full")

// RunnerFactory creates the runner for a (re)started simulation. An empty
// preset selects the default one; a nil seed draws a random one.
type RunnerFactory func(preset string, seed *uint64) (*engine.Runner, error)

// PresetRunnerFactory builds runners from the named presets
func PresetRunnerFactory(defaultPreset string, sampleSteps int, logger *logging.Logger, bus *event.Bus) RunnerFactory {
	if logger == nil {
		logger = logging.Discard()
	}
	return func(preset string, seed *uint64) (*engine.Runner, error) {
		if preset == "" {
			preset = defaultPreset
		}
		opts, err := config.Preset(preset)
		if err != nil {
			return nil, err
		}

		s := rand.Uint64()
		if seed != nil {
			s = *seed
		}

		runID := logging.NewRunID()
		sim := engine.NewSimulation(config.New(opts),
			engine.WithSeed(s, s),
			engine.WithEventBus(bus),
			engine.WithLogger(logger.With("run_id", runID, "preset", preset, "seed", s)),
		)
		return engine.NewRunner(sim,
			engine.WithRunID(runID),
			engine.WithSampleSteps(sampleSteps),
			engine.WithRunnerEventBus(bus),
			engine.WithRunnerLogger(logger),
		), nil
	}
}

// StreamServer runs a simulation and broadcasts its frames to websocket
// clients
type StreamServer struct {
	env       *config.EnvironmentConfig
	factory   RunnerFactory
	validator *validation.ControlValidator
	bus       *event.Bus
	logger    *logging.Logger
	upgrader  websocket.Upgrader

	runnerLock sync.Mutex
	runner     *engine.Runner
	finalSent  bool

	clients     map[string]*Client
	clientsLock sync.RWMutex

	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Client is a connected stream client
type Client struct {
	ID     string
	Remote string

	conn      *websocket.Conn
	send      chan []byte
	sender    *Sender
	done      chan struct{}
	closeOnce sync.Once
}

// ServerOption configures a StreamServer
type ServerOption func(*StreamServer)

// WithServerEventBus publishes client and restart events to bus
func WithServerEventBus(bus *event.Bus) ServerOption {
	return func(s *StreamServer) {
		s.bus = bus
	}
}

// WithServerLogger sets the server's logger
func WithServerLogger(logger *logging.Logger) ServerOption {
	return func(s *StreamServer) {
		s.logger = logger
	}
}

// NewStreamServer creates a server and its first simulation from the
// configured preset and seed
func NewStreamServer(env *config.EnvironmentConfig, factory RunnerFactory, opts ...ServerOption) (*StreamServer, error) {
	s := &StreamServer{
		env:       env,
		factory:   factory,
		validator: validation.NewControlValidator(float64(env.ControlMessagesPerSecond), env.ControlBurst),
		clients:   make(map[string]*Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}

	seed := env.Seed
	runner, err := factory(env.Preset, &seed)
	if err != nil {
		s.validator.Close()
		return nil, fmt.Errorf("failed to create simulation: %w", err)
	}
	s.runner = runner

	return s, nil
}

// Handler returns the HTTP handler serving the stream endpoint
func (s *StreamServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(StreamPath, s.handleWebSocket)
	return mux
}

// Start listens on address and starts the simulation loop
func (s *StreamServer) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.env.ReadTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running.Store(true)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "stream server stopped unexpectedly", err)
			s.running.Store(false)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.simulationLoop(ctx)
	}()

	s.logger.Info(ctx, "stream server started", "address", listener.Addr().String())
	return nil
}

// Stop closes every client, shuts the HTTP server down and stops the
// simulation loop
func (s *StreamServer) Stop(ctx context.Context) error {
	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
	}

	s.clientsLock.RLock()
	for _, client := range s.clients {
		client.close()
	}
	s.clientsLock.RUnlock()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	s.validator.Close()

	s.logger.Info(ctx, "stream server stopped")
	return err
}

// Addr returns the listening address, or "" before Start
func (s *StreamServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listening reports whether the server accepts connections
func (s *StreamServer) Listening() bool {
	return s.running.Load()
}

// Runner returns the current simulation runner
func (s *StreamServer) Runner() *engine.Runner {
	s.runnerLock.Lock()
	defer s.runnerLock.Unlock()
	return s.runner
}

// ClientCount returns the number of connected clients
func (s *StreamServer) ClientCount() int {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	return len(s.clients)
}

// simulationLoop advances the runner at the configured tick rate with the
// measured wall time
func (s *StreamServer) simulationLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(max(1, s.env.TickRate)))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last).Seconds() * s.env.SpeedMultiplier
			last = now
			s.tick(ctx, elapsed)
		}
	}
}

// tick advances the simulation and broadcasts the frame. A finished run is
// broadcast once and then idles until the next restart. The runner is
// advanced outside runnerLock so event handlers may use the server.
func (s *StreamServer) tick(ctx context.Context, elapsed float64) {
	s.runnerLock.Lock()
	if s.finalSent {
		s.runnerLock.Unlock()
		return
	}
	runner := s.runner
	s.runnerLock.Unlock()

	frame, err := runner.Advance(elapsed)

	s.runnerLock.Lock()
	current := s.runner == runner
	if current && (err != nil || !frame.Running) {
		s.finalSent = true
	}
	s.runnerLock.Unlock()

	if !current {
		return
	}
	if err != nil {
		s.logger.Error(ctx, "simulation failed", err, "run_id", runner.RunID())
		s.broadcastError(ctx, err)
		return
	}

	if _, err := s.Broadcast(NewFrameMessage(runner.RunID(), frame)); err != nil {
		s.logger.Error(ctx, "failed to broadcast frame", err)
	}
}

// Restart replaces the running simulation
func (s *StreamServer) Restart(ctx context.Context, preset string, seed *uint64) error {
	runner, err := s.factory(preset, seed)
	if err != nil {
		return fmt.Errorf("failed to restart simulation: %w", err)
	}

	s.runnerLock.Lock()
	s.runner = runner
	s.finalSent = false
	s.runnerLock.Unlock()

	s.logger.Info(ctx, "simulation restarted", "run_id", runner.RunID(), "preset", preset)
	if s.bus != nil {
		s.bus.Publish(event.NewRunEvent(event.SimulationRestarted, s, runner.RunID(), 0, runner.LastFrame().Metrics))
	}
	return nil
}

// Broadcast sends msg to every client and returns how many queued it.
// Clients whose queue is full skip the message.
func (s *StreamServer) Broadcast(msg interface{}) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to encode message: %w", err)
	}

	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()

	delivered := 0
	for _, client := range s.clients {
		if client.enqueue(data) {
			delivered++
		}
	}
	return delivered, nil
}

func (s *StreamServer) broadcastError(ctx context.Context, cause error) {
	if _, err := s.Broadcast(ErrorMessage{Type: MessageTypeError, Message: cause.Error()}); err != nil {
		s.logger.Error(ctx, "failed to broadcast error", err)
	}
}

// handleWebSocket upgrades the connection and serves the client until it
// disconnects
func (s *StreamServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ClientCount() >= s.env.MaxClients {
		s.logger.Warn(r.Context(), "rejecting connection, server full", "remote", r.RemoteAddr)
		http.Error(w, ErrServerFull.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &Client{
		ID:     uuid.NewString(),
		Remote: r.RemoteAddr,
		conn:   conn,
		send:   make(chan []byte, clientQueueSize),
		done:   make(chan struct{}),
	}
	client.sender = NewSender("client-"+client.ID, s.env, s.logger)

	s.addClient(client)
	defer s.removeClient(client)

	go s.writeLoop(client)
	s.readLoop(r.Context(), client)
}

func (s *StreamServer) addClient(client *Client) {
	s.clientsLock.Lock()
	s.clients[client.ID] = client
	s.clientsLock.Unlock()

	s.logger.Info(context.Background(), "client connected", "client_id", client.ID, "remote", client.Remote)
	if s.bus != nil {
		s.bus.Publish(event.NewClientEvent(event.ClientConnected, s, client.ID, client.Remote))
	}
}

func (s *StreamServer) removeClient(client *Client) {
	s.clientsLock.Lock()
	delete(s.clients, client.ID)
	s.clientsLock.Unlock()

	client.close()
	s.validator.Forget(client.ID)

	s.logger.Info(context.Background(), "client removed", "client_id", client.ID)
	if s.bus != nil {
		s.bus.Publish(event.NewClientEvent(event.ClientDisconnected, s, client.ID, client.Remote))
	}
}

// readLoop handles control messages until the connection fails
func (s *StreamServer) readLoop(ctx context.Context, client *Client) {
	conn := client.conn
	conn.SetReadLimit(validation.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.env.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.env.ReadTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug(ctx, "client read failed", "client_id", client.ID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.env.ReadTimeout))

		if err := s.handleControl(ctx, client, data); err != nil {
			s.logger.Warn(ctx, "rejected control message", "client_id", client.ID, "error", err)
			s.sendError(client, err)
		}
	}
}

func (s *StreamServer) handleControl(ctx context.Context, client *Client, data []byte) error {
	if err := s.validator.ValidateMessage(data, client.ID); err != nil {
		return err
	}

	msg, err := DecodeControlMessage(data)
	if err != nil {
		return err
	}

	switch msg.Type {
	case MessageTypeRestart:
		return s.Restart(ctx, msg.Preset, msg.Seed)
	default:
		return fmt.Errorf("unhandled message type %q", msg.Type)
	}
}

func (s *StreamServer) sendError(client *Client, err error) {
	data, mErr := json.Marshal(ErrorMessage{Type: MessageTypeError, Message: err.Error()})
	if mErr != nil {
		return
	}
	client.enqueue(data)
}

// writeLoop drains the client's queue through its circuit breaker and keeps
// the connection alive with pings
func (s *StreamServer) writeLoop(client *Client) {
	ping := time.NewTicker(s.env.ReadTimeout * 9 / 10)
	defer ping.Stop()

	ctx := context.Background()
	for {
		select {
		case <-client.done:
			return
		case data := <-client.send:
			err := client.sender.Execute(ctx, func() error {
				client.conn.SetWriteDeadline(time.Now().Add(s.env.WriteTimeout))
				return client.conn.WriteMessage(websocket.TextMessage, data)
			})
			if err != nil && client.sender.Open() {
				s.logger.Warn(ctx, "dropping unresponsive client", "client_id", client.ID, "error", err)
				client.close()
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(s.env.WriteTimeout)
			if err := client.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				client.close()
				return
			}
		}
	}
}

// enqueue queues data unless the client is closed or its queue is full
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
