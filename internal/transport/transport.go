// Package transport implements the duplex Controller<->Engine channel
// described in §4.J: a reconnecting websocket client that queues outbound
// events while disconnected and flushes them in order on reconnect, plus
// a test-mode stdout pretty-printer. Grounded on the teacher's
// internal/gateway/ws_control_plane.go (send-channel write pump split
// from a blocking read pump, SetReadDeadline/PongHandler keepalive,
// JSON frame envelopes), adapted from the Controller's server-side
// session to the Engine's reconnecting client role.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/just-every/magi/pkg/events"
)

// TalkToUserMessageID tags the message_complete event an Engine emits for
// each talk_to_user tool call, so the Controller can route its content to
// the chat bridge as well as the UI.
const TalkToUserMessageID = "talk_to_user"

const (
	reconnectBackoff = 3 * time.Second
	pongWait         = 45 * time.Second
	writeWait        = 10 * time.Second
	pingInterval     = 15 * time.Second
	sendBufferSize   = 256
)

// Frame is one message on the Engine<->Controller channel, per §4.J.
type Frame struct {
	Type      string          `json:"type"`
	ProcessID string          `json:"processId,omitempty"`
	Event     *events.Event   `json:"event,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ConnectPayload is the Controller's connect handshake payload.
type ConnectPayload struct {
	ControllerPort int    `json:"controllerPort"`
	CoreProcessID  string `json:"coreProcessId"`
}

// ProjectUpdate is a project_update payload from the Controller.
type ProjectUpdate struct {
	ProjectID string `json:"project_id"`
	Failed    bool   `json:"failed,omitempty"`
	Message   string `json:"message"`
}

// SystemCommand is a system_command payload from the Controller.
type SystemCommand struct {
	Command string `json:"command"` // "pause" | "resume"
}

// Handler receives inbound Controller->Engine frames by type.
type Handler struct {
	OnConnect       func(ConnectPayload)
	OnProcessEvent  func(json.RawMessage)
	OnProjectUpdate func(ProjectUpdate)
	OnSystemMessage func(message string)
	OnSystemCommand func(SystemCommand)
}

// Persistable reports whether an event kind is written to disk history
// and logged to stdout outside test mode. Large/high-frequency kinds are
// excluded, per §4.J Reliability.
func Persistable(kind events.Kind) bool {
	switch kind {
	case events.KindMessageDelta:
		return false
	case events.KindToolCallDelta:
		return false
	default:
		return true
	}
}

// Channel is a reconnecting duplex websocket client identified by
// processId.
type Channel struct {
	url           string
	processID     string
	handler       Handler
	log           *slog.Logger
	testMode      bool
	maxDisconnect time.Duration

	mu             sync.Mutex
	conn           *websocket.Conn
	queue          []Frame
	closed         bool
	controllerPort int
	coreProcessID  string
}

// Config configures a Channel.
type Config struct {
	URL       string
	ProcessID string
	Handler   Handler
	Logger    *slog.Logger
	TestMode  bool // pretty-print to stdout instead of dialing a socket

	// MaxDisconnect bounds how long the channel keeps reconnecting without
	// success before Run returns ErrDisconnectedTooLong. Zero reconnects
	// forever.
	MaxDisconnect time.Duration
}

// ErrDisconnectedTooLong is returned by Run when the Controller stays
// unreachable past Config.MaxDisconnect; the Engine treats it as fatal.
var ErrDisconnectedTooLong = errors.New("transport: controller unreachable past disconnect threshold")

// New creates a Channel. Run must be called to start the connect loop.
func New(cfg Config) *Channel {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		url:           cfg.URL,
		processID:     cfg.ProcessID,
		handler:       cfg.Handler,
		log:           log,
		testMode:      cfg.TestMode,
		maxDisconnect: cfg.MaxDisconnect,
	}
}

// Run connects and reconnects every reconnectBackoff until ctx is
// cancelled, per §4.J Reconnection.
func (c *Channel) Run(ctx context.Context) error {
	if c.testMode {
		<-ctx.Done()
		return ctx.Err()
	}

	var downSince time.Time
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil
		}
		wasConnected, err := c.runOnce(ctx)
		if err != nil {
			c.log.Warn("transport: connection lost, reconnecting", "error", err, "backoff", reconnectBackoff)
		}
		if wasConnected {
			downSince = time.Time{}
		}
		if c.maxDisconnect > 0 {
			if downSince.IsZero() {
				downSince = time.Now()
			} else if time.Since(downSince) > c.maxDisconnect {
				return ErrDisconnectedTooLong
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

// runOnce dials, pumps until the connection drops, and reports whether a
// connection was ever established this attempt.
func (c *Channel) runOnce(ctx context.Context) (bool, error) {
	c.mu.Lock()
	target := c.url
	c.mu.Unlock()
	dialURL, err := url.Parse(target)
	if err != nil {
		return false, fmt.Errorf("transport: parse url: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL.String(), nil)
	if err != nil {
		return false, fmt.Errorf("transport: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- c.readLoop(conn) }()
	go func() { errc <- c.pingLoop(runCtx, conn) }()

	c.flushQueue()

	select {
	case err := <-errc:
		return true, err
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("transport: dropping malformed frame", "error", err)
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Channel) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (c *Channel) dispatch(frame Frame) {
	switch frame.Type {
	case "connect":
		var payload ConnectPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return
		}
		c.applyHandshake(payload)
		if c.handler.OnConnect != nil {
			c.handler.OnConnect(payload)
		}
	case "process_event":
		if c.handler.OnProcessEvent != nil {
			c.handler.OnProcessEvent(frame.Payload)
		}
	case "project_update":
		var payload ProjectUpdate
		if err := json.Unmarshal(frame.Payload, &payload); err == nil && c.handler.OnProjectUpdate != nil {
			c.handler.OnProjectUpdate(payload)
		}
	case "system_message":
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(frame.Payload, &payload); err == nil && c.handler.OnSystemMessage != nil {
			c.handler.OnSystemMessage(payload.Message)
		}
	case "system_command":
		var payload SystemCommand
		if err := json.Unmarshal(frame.Payload, &payload); err == nil && c.handler.OnSystemCommand != nil {
			c.handler.OnSystemCommand(payload)
		}
	}
}

// applyHandshake stores the Controller's advertised port and core process
// id. A port change rewrites the dial URL and drops the connection so the
// next reconnect lands on the new listener.
func (c *Channel) applyHandshake(payload ConnectPayload) {
	c.mu.Lock()
	prevPort := c.controllerPort
	c.controllerPort = payload.ControllerPort
	c.coreProcessID = payload.CoreProcessID
	conn := c.conn
	var rewriteErr error
	if prevPort != 0 && payload.ControllerPort != 0 && prevPort != payload.ControllerPort {
		if parsed, err := url.Parse(c.url); err == nil {
			parsed.Host = fmt.Sprintf("%s:%d", parsed.Hostname(), payload.ControllerPort)
			c.url = parsed.String()
		} else {
			rewriteErr = err
		}
	} else {
		conn = nil
	}
	c.mu.Unlock()

	if rewriteErr != nil {
		c.log.Warn("transport: cannot rewrite dial url for new port", "error", rewriteErr)
		return
	}
	if conn != nil {
		c.log.Info("transport: controller moved port, reconnecting", "port", payload.ControllerPort)
		_ = conn.Close()
	}
}

// CoreProcessID returns the Overseer process id announced by the last
// connect handshake, or empty before one arrives.
func (c *Channel) CoreProcessID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coreProcessID
}

// Send enqueues an event for delivery wrapped as {processId, event}, per
// §4.J Message types (Engine -> Controller). If disconnected the frame is
// queued and flushed on the next reconnect, in order.
func (c *Channel) Send(ev events.Event) {
	frame := Frame{Type: "event", ProcessID: c.processID, Event: &ev}

	if c.testMode {
		c.printTestMode(ev)
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.enqueue(frame)
		return
	}
	if err := c.writeFrame(conn, frame); err != nil {
		c.enqueue(frame)
	}
}

func (c *Channel) enqueue(frame Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, frame)
}

func (c *Channel) flushQueue() {
	c.mu.Lock()
	conn := c.conn
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	for i, frame := range pending {
		if conn == nil || c.writeFrame(conn, frame) != nil {
			// Keep ordering: requeue everything from the failure onward.
			c.mu.Lock()
			c.queue = append(pending[i:], c.queue...)
			c.mu.Unlock()
			return
		}
	}
}

func (c *Channel) writeFrame(conn *websocket.Conn, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// printTestMode pretty-prints an event to stdout, streaming message_delta
// via raw writes and object-dumping everything else, per §4.J Test mode.
func (c *Channel) printTestMode(ev events.Event) {
	if ev.Kind == events.KindMessageDelta {
		fmt.Print(ev.Delta)
		return
	}
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", ev)
		return
	}
	fmt.Println(string(data))
}

// Close marks the channel closed; a subsequent Run call is a no-op.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
