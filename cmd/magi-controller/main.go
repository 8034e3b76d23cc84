// Command magi-controller launches and supervises magi-engine workers,
// relays their events to connected browser UIs, and serves each task's
// output directory over HTTP. Grounded on the teacher's
// cmd/nexus/main.go root-command construction and
// internal/gateway/http_server.go's mux/listener wiring.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/just-every/magi/internal/bridge"
	"github.com/just-every/magi/internal/config"
	"github.com/just-every/magi/internal/observability"
	"github.com/just-every/magi/internal/security"
	"github.com/just-every/magi/internal/staticserve"
	"github.com/just-every/magi/internal/supervisor"
	"github.com/just-every/magi/internal/transport"
	"github.com/just-every/magi/pkg/events"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	var enginePath string

	cmd := &cobra.Command{
		Use:   "magi-controller",
		Short: "Run the MAGI Controller (Engine supervisor, UI socket, static output server)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envFile, enginePath)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a .env file to load before reading the environment")
	cmd.Flags().StringVar(&enginePath, "engine-path", "magi-engine", "path to the magi-engine binary to spawn as the core worker")
	return cmd
}

func run(ctx context.Context, envFile, enginePath string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "controller")
	metrics := observability.NewMetrics()
	securityMgr := security.New()

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var chatBridge bridge.ChatBridge
	if cfg.DiscordBotToken != "" {
		d, err := bridge.NewDiscord(bridge.DiscordConfig{Token: cfg.DiscordBotToken, ChannelID: cfg.DiscordChannelID, Logger: log})
		if err != nil {
			log.Warn("controller: discord bridge unavailable", "error", err)
		} else {
			chatBridge = d
			defer func() { _ = chatBridge.Close() }()
		}
	}

	// coreID is minted below, after the listeners exist; the hub closure
	// reads it at dispatch time.
	var coreID string

	reg := newRegistry()
	uiHub := transport.NewUIHub(log, func(frame transport.UIFrame) {
		handleUIFrame(log, reg, frame)
	})

	engineHub := transport.NewEngineHub(log, func(processID string, frame transport.Frame) {
		handleEngineFrame(runCtx, log, metrics, reg, uiHub, chatBridge, coreID, processID, frame)
	})

	static := staticserve.New(staticserve.Config{
		Addr:    fmt.Sprintf(":%d", cfg.StaticPort),
		RootDir: cfg.DataDir,
		Logger:  log,
	})
	if err := static.Start(); err != nil {
		return fmt.Errorf("controller: start static server: %w", err)
	}
	defer func() { _ = static.Shutdown(context.Background()) }()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/engine/", func(w http.ResponseWriter, r *http.Request) {
		processID := strings.TrimPrefix(r.URL.Path, "/ws/engine/")
		if processID == "" {
			http.Error(w, "missing processId", http.StatusBadRequest)
			return
		}
		engineHub.HandleConnect(w, r, processID)
	})
	mux.HandleFunc("/ws/ui", func(w http.ResponseWriter, r *http.Request) {
		uiHub.HandleConnect(w, r)
	})
	mux.HandleFunc("/patches/", func(w http.ResponseWriter, r *http.Request) {
		handlePatchDecision(w, r, securityMgr)
	})

	addr := fmt.Sprintf(":%d", cfg.ControllerPort)
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("controller: listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("controller: http server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	coreID = "AI-" + uuid.NewString()[:8]
	engineHub.SetHandshake(cfg.ControllerPort, coreID)
	reg.create(coreID, "core", cfg.DataDir)
	uiHub.Broadcast(transport.UIFrame{Type: "process:create", ProcessID: coreID, Payload: mustJSON(processCreatePayload(coreID, "core", supervisor.StatusStarted))})

	engineCmd, err := spawnEngine(runCtx, enginePath, cfg.ControllerPort, coreID)
	if err != nil {
		return fmt.Errorf("controller: spawn core engine: %w", err)
	}

	if chatBridge != nil {
		go relayBridge(runCtx, log, chatBridge, engineHub, coreID)
	}

	<-runCtx.Done()
	log.Info("controller: shutting down")
	if engineCmd.Process != nil {
		_ = engineCmd.Process.Signal(syscall.SIGTERM)
	}
	return nil
}

// spawnEngine launches enginePath as the core Engine worker, pointed back
// at this Controller's websocket listener.
func spawnEngine(ctx context.Context, enginePath string, controllerPort int, coreID string) (*exec.Cmd, error) {
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws/engine/%s", controllerPort, coreID)
	cmd := exec.CommandContext(ctx, enginePath, "--controller-url", url, "--test-mode=false")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "MAGI_CORE_PROCESS_ID="+coreID)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// relayBridge forwards inbound chat text to the core Engine as a
// system_message frame. The outbound leg lives in handleEngineFrame,
// which delivers the core process's talk_to_user events back through
// chatBridge.Send.
func relayBridge(ctx context.Context, log *slog.Logger, chatBridge bridge.ChatBridge, engineHub *transport.EngineHub, coreID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-chatBridge.Inbound():
			if !ok {
				return
			}
			payload, _ := json.Marshal(struct {
				Message string `json:"message"`
			}{Message: text})
			if !engineHub.Send(coreID, transport.Frame{Type: "system_message", ProcessID: coreID, Payload: payload}) {
				log.Warn("controller: core engine not connected, dropping bridge message")
			}
		}
	}
}

func handlePatchDecision(w http.ResponseWriter, r *http.Request, mgr *security.Manager) {
	patchID := strings.TrimPrefix(r.URL.Path, "/patches/")
	parts := strings.SplitN(patchID, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "expected /patches/<id>/approve or /reject", http.StatusBadRequest)
		return
	}
	id, action := parts[0], parts[1]

	var err error
	switch action {
	case "approve":
		err = mgr.ApprovePatch(r.Context(), id)
	case "reject":
		err = mgr.RejectPatch(r.Context(), id)
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleUIFrame(log *slog.Logger, reg *registry, frame transport.UIFrame) {
	switch frame.Type {
	case "command:run":
		log.Info("controller: ui command:run", "payload", string(frame.Payload))
	case "process:command":
		log.Info("controller: ui process:command", "process_id", frame.ProcessID, "payload", string(frame.Payload))
	case "process:terminate":
		log.Info("controller: ui process:terminate", "process_id", frame.ProcessID)
	default:
		log.Warn("controller: unknown ui frame type", "type", frame.Type)
	}
}

func handleEngineFrame(ctx context.Context, log *slog.Logger, metrics *observability.Metrics, reg *registry, uiHub *transport.UIHub, chatBridge bridge.ChatBridge, coreID, processID string, frame transport.Frame) {
	switch frame.Type {
	case "event":
		if frame.Event == nil {
			return
		}
		ev := *frame.Event
		if ev.Kind == events.KindCostUpdate && ev.Usage != nil {
			metrics.RecordProviderRequest(providerForModel(ev.Usage.Model), ev.Usage.Model, "success", 0, ev.Usage.Cost)
		}
		reg.observe(processID)
		uiHub.BroadcastProcessLogs(processID, ev)
		if chatBridge != nil && processID == coreID &&
			ev.Kind == events.KindMessageComplete && ev.MessageID == transport.TalkToUserMessageID && ev.FullContent != "" {
			if err := chatBridge.Send(ctx, ev.FullContent); err != nil {
				log.Warn("controller: bridge send failed", "error", err)
			}
		}
	default:
		log.Warn("controller: unknown engine frame type", "type", frame.Type, "process_id", processID)
	}
}

func providerForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	case strings.HasPrefix(model, "grok"):
		return "grok"
	case strings.HasPrefix(model, "deepseek"):
		return "deepseek"
	default:
		return "openai"
	}
}

func processCreatePayload(id, command string, status supervisor.Status) map[string]any {
	colors := supervisor.ColorsFor(id)
	return map[string]any{
		"id":      id,
		"command": command,
		"status":  string(status),
		"colors":  colors,
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

// registry tracks the Controller's view of every Engine process it has
// spawned, for process:create/process:update UI bookkeeping. It is
// intentionally narrower than internal/supervisor.Supervisor, which owns
// the Engine-side task lifecycle; the Controller only needs liveness and
// a data directory per processId.
type registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	ID           string
	Command      string
	DataDir      string
	LastObserved time.Time
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*registryEntry)}
}

func (r *registry) create(id, command, dataDir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &registryEntry{ID: id, Command: command, DataDir: dataDir, LastObserved: time.Now().UTC()}
}

func (r *registry) observe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.LastObserved = time.Now().UTC()
	}
}
