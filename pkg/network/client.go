// pkg/network/client.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opd-ai/go-contagion/pkg/config"
	"github.com/opd-ai/go-contagion/pkg/logging"
	"github.com/opd-ai/go-contagion/pkg/validation"
)

var (
	// ErrNotConnected is returned when sending on a client without connection
	ErrNotConnected = errors.New("not connected")
	// ErrClientClosed is returned when connecting a client whose connection
	// already ended
	ErrClientClosed = errors.New("client closed")
)

// StreamClient receives frames from a StreamServer and sends it control
// messages. A client serves a single connection; create a new one to
// reconnect.
type StreamClient struct {
	conn   *websocket.Conn
	sender *Sender
	logger *logging.Logger

	frames chan FrameMessage
	errors chan ErrorMessage

	mu        sync.Mutex
	connected bool
	used      bool
	err       error
	done      chan struct{}

	connectionTimeout time.Duration
	writeTimeout      time.Duration
}

// NewStreamClient creates a client using the timeouts and breaker settings
// of envConfig
func NewStreamClient(envConfig *config.EnvironmentConfig, logger *logging.Logger) *StreamClient {
	if logger == nil {
		logger = logging.Discard()
	}
	return &StreamClient{
		sender:            NewSender("stream-client", envConfig, logger),
		logger:            logger,
		frames:            make(chan FrameMessage, clientQueueSize),
		errors:            make(chan ErrorMessage, clientQueueSize),
		done:              make(chan struct{}),
		connectionTimeout: envConfig.ReadTimeout,
		writeTimeout:      envConfig.WriteTimeout,
	}
}

// Connect dials the stream at url and starts receiving frames
func (c *StreamClient) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("already connected")
	}
	if c.used {
		return ErrClientClosed
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectionTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.used = true
	go c.messageLoop()

	c.logger.Info(ctx, "connected to stream", "url", url)
	return nil
}

// Frames returns the channel of received frames. It is closed when the
// connection ends. Frames are dropped while the channel is full.
func (c *StreamClient) Frames() <-chan FrameMessage {
	return c.frames
}

// Errors returns the channel of errors reported by the server
func (c *StreamClient) Errors() <-chan ErrorMessage {
	return c.errors
}

// Done is closed when the connection ends
func (c *StreamClient) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection
func (c *StreamClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Restart asks the server to restart the simulation. An empty preset keeps
// the current one and a nil seed lets the server choose.
func (c *StreamClient) Restart(ctx context.Context, preset string, seed *uint64) error {
	return c.send(ctx, ControlMessage{Type: MessageTypeRestart, Preset: preset, Seed: seed})
}

// Close sends a close frame and closes the connection
func (c *StreamClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.connected = false
	c.mu.Unlock()

	if !connected {
		return nil
	}

	deadline := time.Now().Add(c.writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return conn.Close()
}

// send writes msg through the circuit breaker
func (c *StreamClient) send(ctx context.Context, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if len(data) > validation.MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}

	return c.sender.Execute(ctx, func() error {
		deadline := time.Now().Add(c.writeTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		c.conn.SetWriteDeadline(deadline)
		return c.conn.WriteMessage(websocket.TextMessage, data)
	})
}

// messageLoop dispatches incoming messages until the connection fails
func (c *StreamClient) messageLoop() {
	defer func() {
		close(c.frames)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case MessageTypeFrame:
			c.handleFrame(data)
		case MessageTypeError:
			c.handleError(data)
		default:
			// Ignore unknown message types
		}
	}
}

func (c *StreamClient) handleFrame(data []byte) {
	var frame FrameMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}

	select {
	case c.frames <- frame:
	default:
	}
}

func (c *StreamClient) handleError(data []byte) {
	var msg ErrorMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	select {
	case c.errors <- msg:
	default:
	}
}

func (c *StreamClient) handleDisconnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasConnected := c.connected
	c.connected = false
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || !wasConnected {
		return
	}
	c.err = err
	c.logger.Warn(context.Background(), "stream connection lost", "error", err)
}
