// Command magi-engine runs one Engine worker: the provider registry, model
// rotation, tool registry/executor, agent runtime, process supervisor, and
// the Overseer monologue loop, relaying every event to the Controller over
// a reconnecting websocket (or to stdout in -test-mode). Grounded on the
// teacher's cmd/nexus/main.go root-command construction (cobra.Command with
// persistent flags, explicit service wiring in main rather than a DI
// container).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/just-every/magi/internal/agentrt"
	"github.com/just-every/magi/internal/config"
	"github.com/just-every/magi/internal/history"
	"github.com/just-every/magi/internal/memory"
	"github.com/just-every/magi/internal/observability"
	"github.com/just-every/magi/internal/overseer"
	"github.com/just-every/magi/internal/providers"
	"github.com/just-every/magi/internal/providers/anthropic"
	"github.com/just-every/magi/internal/providers/deepseek"
	"github.com/just-every/magi/internal/providers/google"
	"github.com/just-every/magi/internal/providers/grok"
	"github.com/just-every/magi/internal/providers/openai"
	"github.com/just-every/magi/internal/providers/openrouter"
	"github.com/just-every/magi/internal/rotation"
	"github.com/just-every/magi/internal/supervisor"
	"github.com/just-every/magi/internal/tools"
	"github.com/just-every/magi/internal/tools/memorytools"
	"github.com/just-every/magi/internal/tools/overseertools"
	"github.com/just-every/magi/internal/transport"
	"github.com/just-every/magi/internal/usage"
	"github.com/just-every/magi/pkg/convo"
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
	var controllerURL string
	var testMode bool

	cmd := &cobra.Command{
		Use:   "magi-engine",
		Short: "Run a MAGI Engine worker (the Overseer monologue loop and its agent runtime)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envFile, controllerURL, testMode)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a .env file to load before reading the environment")
	cmd.Flags().StringVar(&controllerURL, "controller-url", "", "Controller websocket URL (overrides -test-mode)")
	cmd.Flags().BoolVar(&testMode, "test-mode", true, "pretty-print events to stdout instead of dialing the Controller")
	return cmd
}

func run(ctx context.Context, envFile, controllerURL string, testMode bool) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if controllerURL != "" {
		testMode = false
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "engine")

	metrics := observability.NewMetrics()
	tracer, shutdownTracer, err := observability.NewTracer(observability.TraceConfig{ServiceName: "magi-engine", ServiceVersion: "dev"})
	if err != nil {
		return fmt.Errorf("engine: start tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	providerRegistry := buildProviders(ctx, cfg, log)
	rot := rotation.New(defaultRotationConfig())
	toolRegistry := tools.NewRegistry()
	executor := tools.NewExecutor(toolRegistry, tools.DefaultExecConfig())
	runtime := agentrt.New(providerRegistry, rot, executor)

	costTracker := usage.NewTracker(usage.DefaultTrackerConfig())
	quotaGuard := usage.NewQuotaGuard(costTracker)
	quotaGuard.SetLimits(cfg.PerProcessQuotaUSD, cfg.GlobalQuotaUSD)

	hist := history.New(history.Config{AIName: "Magi", Logger: log})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("engine: create data dir: %w", err)
	}

	memStore, err := memory.New(memory.Config{Path: filepath.Join(cfg.DataDir, "memory.db")})
	if err != nil {
		return fmt.Errorf("engine: open memory store: %w", err)
	}
	defer func() { _ = memStore.Close() }()

	coreID := "AI-" + uuid.NewString()[:8]

	var channel *transport.Channel
	var sup *supervisor.Supervisor
	channel = transport.New(transport.Config{
		URL:           controllerURL,
		ProcessID:     coreID,
		Logger:        log,
		TestMode:      testMode,
		MaxDisconnect: cfg.MaxControllerDisconnect,
		Handler: transport.Handler{
			OnProjectUpdate: func(u transport.ProjectUpdate) {
				sup.ReceiveProjectUpdate(u.ProjectID, u.Message)
			},
			OnSystemMessage: func(message string) {
				hist.Append(convo.NewSystem(message))
			},
			OnSystemCommand: func(cmd transport.SystemCommand) {
				switch cmd.Command {
				case "pause":
					sup.Pause()
					executor.InterruptWaiting("system pause")
				case "resume":
					sup.Resume()
					executor.InterruptWaiting("system resume")
				}
			},
		},
	})

	sup = supervisor.New(supervisor.Config{
		Controller:     &transportController{channel: channel},
		HealthInterval: cfg.TaskHealthCheckInterval,
	})
	sup.SetCoreProcessID(coreID)
	runtime.SetGate(sup)

	overseerAgent := &agentrt.Agent{
		ID:           coreID,
		Name:         "Magi",
		Instructions: "You are Magi, an autonomous multi-agent orchestrator. Use your tools to start, monitor, and complete tasks.",
	}

	msgLog, err := transport.OpenMessageLog(filepath.Join(cfg.DataDir, coreID, "messages.json"))
	if err != nil {
		return fmt.Errorf("engine: open message log: %w", err)
	}

	onEvent := func(ev events.Event) {
		if ev.Kind == events.KindCostUpdate && ev.Usage != nil {
			costTracker.Observe(coreID, *ev.Usage)
			metrics.RecordProviderRequest(providerForModel(ev.Usage.Model), ev.Usage.Model, "success", 0, ev.Usage.Cost)
		}
		if transport.Persistable(ev.Kind) {
			if err := msgLog.Append(ev); err != nil {
				log.Warn("engine: message log append failed", "error", err)
			}
		}
		channel.Send(ev)
	}

	loop := overseer.New(overseer.Config{
		Runtime:             runtime,
		Agent:               overseerAgent,
		History:             hist,
		Supervisor:          sup,
		Status:              &engineStatus{sup: sup, executor: executor, memory: memStore},
		HealthCheckInterval: cfg.TaskHealthCheckInterval,
		OnEvent:             onEvent,
	})

	overseertools.RegisterAll(toolRegistry, sup, loop, func(ctx context.Context, message, affect, document string, incomplete bool) error {
		onEvent(events.NewMessageComplete(transport.TalkToUserMessageID, message, nil))
		return nil
	})
	memorytools.RegisterAll(toolRegistry, memStore)
	overseerAgent.Tools = toolRegistry.List()

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	transportErr := make(chan error, 1)
	go func() {
		if err := channel.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Error("engine: transport exited", "error", err)
			transportErr <- err
			cancel()
		}
	}()

	log.Info("engine: starting overseer loop", "process_id", coreID)
	spanCtx, span := tracer.StartOverseerTurn(runCtx)
	runErr := loop.Run(spanCtx)
	observability.RecordError(span, runErr)
	select {
	case err := <-transportErr:
		return fmt.Errorf("engine: fatal controller disconnect: %w", err)
	default:
	}
	if runErr != nil && runCtx.Err() == nil {
		return fmt.Errorf("engine: overseer loop: %w", runErr)
	}
	return nil
}

func defaultRotationConfig() rotation.Config {
	return rotation.Config{
		Classes: map[string]rotation.ClassConfig{
			"standard": {
				Models: []string{"claude-sonnet-4-5", "gpt-5", "gemini-2.5-pro"},
				Scores: map[string]int{"claude-sonnet-4-5": 40, "gpt-5": 35, "gemini-2.5-pro": 25},
			},
			"monologue": {
				Models: []string{"claude-sonnet-4-5", "gpt-5"},
				Scores: map[string]int{"claude-sonnet-4-5": 60, "gpt-5": 40},
			},
		},
	}
}

func buildProviders(ctx context.Context, cfg config.Config, log *slog.Logger) *providers.Registry {
	reg := providers.NewRegistry()

	if cfg.Keys.Anthropic != "" {
		reg.Register(anthropic.New(anthropic.Config{APIKey: cfg.Keys.Anthropic, Logger: log}), "claude-")
	}
	if cfg.Keys.OpenAI != "" {
		reg.Register(openai.New(openai.Config{APIKey: cfg.Keys.OpenAI, Logger: log}), "gpt-", "o1", "o3")
	}
	if cfg.Keys.Google != "" {
		if p, err := google.New(ctx, google.Config{APIKey: cfg.Keys.Google, Logger: log}); err == nil {
			reg.Register(p, "gemini-")
		} else {
			log.Warn("engine: google provider unavailable", "error", err)
		}
	}
	if cfg.Keys.Grok != "" {
		reg.Register(grok.New(grok.Config{APIKey: cfg.Keys.Grok, Logger: log}), "grok-")
	}
	if cfg.Keys.OpenRouter != "" {
		reg.Register(openrouter.New(openrouter.Config{APIKey: cfg.Keys.OpenRouter, Logger: log}), "openrouter/")
	}
	if cfg.Keys.Deepseek != "" {
		reg.Register(deepseek.New(deepseek.Config{APIKey: cfg.Keys.Deepseek, Logger: log}), "deepseek-")
	}
	return reg
}

func providerForModel(model string) string {
	switch {
	case len(model) >= 6 && model[:6] == "claude":
		return "anthropic"
	case len(model) >= 6 && model[:6] == "gemini":
		return "google"
	case len(model) >= 4 && model[:4] == "grok":
		return "grok"
	case len(model) >= 8 && model[:8] == "deepseek":
		return "deepseek"
	default:
		return "openai"
	}
}

// transportController satisfies supervisor.Controller by forwarding
// lifecycle notifications over the Engine<->Controller channel.
type transportController struct {
	channel *transport.Channel
}

func (t *transportController) ProcessStart(p *supervisor.Process) {
	t.channel.Send(events.Event{Kind: events.KindMessageComplete, MessageID: p.ID, FullContent: p.Task})
}

func (t *transportController) CommandStart(taskID, text string) {}

func (t *transportController) TaskWaiting(taskID string, elapsedSeconds int) {}

// engineStatus implements overseer.StatusSource by reading the live
// supervisor, tool executor, and memory store.
type engineStatus struct {
	sup      *supervisor.Supervisor
	executor *tools.Executor
	memory   *memory.Store
}

func (e *engineStatus) ActiveProjects() []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range e.sup.List() {
		if isTerminalStatus(p.Status) {
			continue
		}
		for _, id := range p.ProjectIDs {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func (e *engineStatus) ActiveTasks() []string {
	var out []string
	for _, p := range e.sup.List() {
		if isTerminalStatus(p.Status) {
			continue
		}
		out = append(out, fmt.Sprintf("%s (%s): %s", p.ID, p.Status, p.Name))
	}
	return out
}

func (e *engineStatus) RunningTools() []*tools.RunningTool { return e.executor.Running() }

func (e *engineStatus) ShortTermMemories() []string {
	return e.memory.ShortTermSummaries(context.Background(), 5)
}

func isTerminalStatus(s supervisor.Status) bool {
	switch s {
	case supervisor.StatusCompleted, supervisor.StatusFailed, supervisor.StatusTerminated:
		return true
	default:
		return false
	}
}
