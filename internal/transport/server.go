package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/just-every/magi/pkg/events"
)

// EngineHub is the Controller-side counterpart of Channel: it accepts
// Engine websocket connections at /ws/engine/<processId>, relays inbound
// Frames to a caller-supplied handler, and lets the Controller push
// project_update/system_message/system_command frames back down to a
// specific Engine. Grounded on the teacher's
// internal/gateway/ws_control_plane.go (a websocket.Upgrader struct
// field initialized in the constructor, Upgrade(w, r, nil) inside the
// HTTP handler, one goroutine per connection).
type EngineHub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	// OnFrame is invoked for every inbound frame, with the owning
	// processId attached.
	OnFrame func(processID string, frame Frame)

	mu             sync.Mutex
	conns          map[string]*websocket.Conn
	controllerPort int
	coreProcessID  string
}

// SetHandshake records the port and core process id announced in the
// connect frame sent to each Engine on accept.
func (h *EngineHub) SetHandshake(controllerPort int, coreProcessID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controllerPort = controllerPort
	h.coreProcessID = coreProcessID
}

// NewEngineHub constructs an EngineHub. onFrame may be nil.
func NewEngineHub(log *slog.Logger, onFrame func(processID string, frame Frame)) *EngineHub {
	if log == nil {
		log = slog.Default()
	}
	return &EngineHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		OnFrame: onFrame,
		conns:   make(map[string]*websocket.Conn),
	}
}

// HandleConnect upgrades r to a websocket and registers the connection
// under processID. Blocks, reading frames, until the connection closes.
func (h *EngineHub) HandleConnect(w http.ResponseWriter, r *http.Request, processID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("transport: engine upgrade failed", "process_id", processID, "error", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.conns[processID] = conn
	port := h.controllerPort
	coreID := h.coreProcessID
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, processID)
		h.mu.Unlock()
	}()

	// Handshake first, per the channel contract: the Engine stores the
	// port and core process id before any other traffic.
	h.Send(processID, Frame{
		Type:      "connect",
		ProcessID: processID,
		Payload:   mustJSON(ConnectPayload{ControllerPort: port, CoreProcessID: coreID}),
	})

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.log.Info("transport: engine disconnected", "process_id", processID, "error", err)
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.log.Warn("transport: dropping malformed engine frame", "process_id", processID, "error", err)
			continue
		}
		if h.OnFrame != nil {
			h.OnFrame(processID, frame)
		}
	}
}

// Send pushes frame to the Engine registered under processID. Returns
// false if no such Engine is connected.
func (h *EngineHub) Send(processID string, frame Frame) bool {
	h.mu.Lock()
	conn := h.conns[processID]
	h.mu.Unlock()
	if conn == nil {
		return false
	}
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Warn("transport: marshal frame", "error", err)
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.log.Warn("transport: write to engine failed", "process_id", processID, "error", err)
		return false
	}
	return true
}

// SendSystemCommand pushes a system_command frame to processID.
func (h *EngineHub) SendSystemCommand(processID string, cmd SystemCommand) bool {
	payload, _ := json.Marshal(cmd)
	return h.Send(processID, Frame{Type: "system_command", ProcessID: processID, Payload: payload})
}

// Connected reports whether processID currently has a live connection.
func (h *EngineHub) Connected(processID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[processID]
	return ok
}

// UIHub fans events out to connected browser UI clients, per §6 UI
// socket. Outbound frames use the same websocket.Upgrader idiom as
// EngineHub; its frame shape is a bare JSON object rather than the
// Engine<->Controller Frame envelope, per spec.md §6.
type UIHub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	// OnCommand is invoked for every inbound UI frame.
	OnCommand func(UIFrame)

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// UIFrame is one inbound or outbound UI-socket message, per spec.md §6.
type UIFrame struct {
	Type      string          `json:"type"`
	ProcessID string          `json:"processId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewUIHub constructs a UIHub.
func NewUIHub(log *slog.Logger, onCommand func(UIFrame)) *UIHub {
	if log == nil {
		log = slog.Default()
	}
	return &UIHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:       log,
		OnCommand: onCommand,
		clients:   make(map[*websocket.Conn]struct{}),
	}
}

// HandleConnect upgrades r to a websocket and registers it as a UI
// client. Blocks until the connection closes.
func (h *UIHub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("transport: ui upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	h.broadcastOne(conn, UIFrame{Type: "server:info", Payload: mustJSON(map[string]string{"version": "dev"})})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame UIFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.log.Warn("transport: dropping malformed ui frame", "error", err)
			continue
		}
		if h.OnCommand != nil {
			h.OnCommand(frame)
		}
	}
}

// Broadcast sends frame to every connected UI client.
func (h *UIHub) Broadcast(frame UIFrame) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.broadcastOne(c, frame)
	}
}

func (h *UIHub) broadcastOne(conn *websocket.Conn, frame UIFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.log.Warn("transport: ui broadcast write failed", "error", err)
	}
}

// BroadcastProcessLogs sends a process:logs frame carrying ev rendered as
// a log line.
func (h *UIHub) BroadcastProcessLogs(processID string, ev events.Event) {
	h.Broadcast(UIFrame{
		Type:      "process:logs",
		ProcessID: processID,
		Payload:   mustJSON(map[string]any{"id": processID, "logs": ev}),
	})
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
