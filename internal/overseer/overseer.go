// Package overseer runs the infinite monologue loop described in §4.I: a
// cooperative, single-threaded turn cycle that drains pending sub-agent
// threads, injects a System Status and a prompt guide ahead of each
// provider call, invokes the agent runtime with a one-round tool-call
// budget, and sleeps the thought delay set by set_thought_delay between
// turns. Grounded
// on the teacher's internal/agents/heartbeat (periodic-sweep ticker,
// mutex-protected status map) adapted from per-agent health polling to
// the Overseer's own turn-boundary health sweep.
package overseer

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/just-every/magi/internal/agentrt"
	"github.com/just-every/magi/internal/history"
	"github.com/just-every/magi/internal/supervisor"
	"github.com/just-every/magi/internal/tools"
	"github.com/just-every/magi/pkg/convo"
	"github.com/just-every/magi/pkg/events"
)

const (
	talkToUserTool           = "talk_to_user"
	defaultHealthCheckSpec   = "@every 10m"
	mindWanderingProbability = 0.10
)

// cronParser accepts the "@every <duration>" descriptor form, matching the
// teacher's internal/tasks.cronParser configuration verbatim.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// allowedThoughtDelays are the only values set_thought_delay accepts,
// per §4.I step 5 / §6.
var allowedThoughtDelays = []int{0, 2, 4, 8, 16, 32, 64, 128}

// IsValidThoughtDelay reports whether seconds is one of the enumerated
// thought-delay values.
func IsValidThoughtDelay(seconds int) bool {
	for _, v := range allowedThoughtDelays {
		if v == seconds {
			return true
		}
	}
	return false
}

// StatusSource supplies the dynamic facts the System Status message
// reports. Implementations read from whatever registries are live.
type StatusSource interface {
	ActiveProjects() []string
	ActiveTasks() []string
	RunningTools() []*tools.RunningTool
	ShortTermMemories() []string
}

// Loop drives the Overseer's monologue turns.
type Loop struct {
	runtime    *agentrt.Runtime
	agent      *agentrt.Agent
	history    *history.Store
	supervisor *supervisor.Supervisor
	status     StatusSource
	onEvent    func(events.Event)

	rng          *rand.Rand
	thoughtDelay atomic.Int64 // seconds; set via SetThoughtDelay / set_thought_delay tool
	startedAt    time.Time
	healthSched  cron.Schedule
	nextHealth   time.Time

	interrupt chan struct{}
}

// Config configures a Loop.
type Config struct {
	Runtime    *agentrt.Runtime
	Agent      *agentrt.Agent
	History    *history.Store
	Supervisor *supervisor.Supervisor
	Status     StatusSource
	OnEvent    func(events.Event)

	// HealthCheckInterval gates CheckAllTaskHealth sweeps. Zero uses
	// defaultHealthCheckSpec (10m), matching TASK_HEALTH_CHECK_INTERVAL_MS.
	HealthCheckInterval time.Duration
}

// New creates a monologue Loop. Agent.MaxToolCallRoundsPerTurn is forced
// to 1, per §4.I step 2.
func New(cfg Config) *Loop {
	cfg.Agent.MaxToolCallRoundsPerTurn = 1
	cfg.Agent.ModelClass = "monologue"

	spec := defaultHealthCheckSpec
	if cfg.HealthCheckInterval > 0 {
		spec = fmt.Sprintf("@every %s", cfg.HealthCheckInterval)
	}
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		// cfg.HealthCheckInterval formats as a valid Go duration string,
		// which "@every" always accepts; this path is unreachable.
		schedule, _ = cronParser.Parse(defaultHealthCheckSpec)
	}

	now := time.Now()
	return &Loop{
		runtime:     cfg.Runtime,
		agent:       cfg.Agent,
		history:     cfg.History,
		supervisor:  cfg.Supervisor,
		status:      cfg.Status,
		onEvent:     cfg.OnEvent,
		rng:         rand.New(rand.NewSource(now.UnixNano())),
		startedAt:   now,
		healthSched: schedule,
		nextHealth:  schedule.Next(now),
		interrupt:   make(chan struct{}, 1),
	}
}

// Interrupt wakes the loop from its thought-delay sleep early, per the
// interruptWaiting suspension point in §4.I step 5.
func (l *Loop) Interrupt() {
	select {
	case l.interrupt <- struct{}{}:
	default:
	}
}

// SetThoughtDelay sets the between-turn sleep duration. seconds must be one
// of allowedThoughtDelays.
func (l *Loop) SetThoughtDelay(seconds int) error {
	if !IsValidThoughtDelay(seconds) {
		return fmt.Errorf("overseer: invalid thought delay %ds, must be one of %v", seconds, allowedThoughtDelays)
	}
	l.thoughtDelay.Store(int64(seconds))
	return nil
}

// ThoughtDelay returns the current between-turn sleep duration.
func (l *Loop) ThoughtDelay() time.Duration {
	return time.Duration(l.thoughtDelay.Load()) * time.Second
}

// Run executes monologue turns until ctx is cancelled, which §4.I treats
// as a shutdown signal.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := l.turn(ctx); err != nil {
			return fmt.Errorf("overseer: turn failed: %w", err)
		}

		if err := l.sleepThoughtDelay(ctx); err != nil {
			return err
		}
	}
}

func (l *Loop) turn(ctx context.Context) error {
	l.history.DrainThreads()
	l.maybeRunHealthSweep()

	conv := convo.New()
	conv.Append(l.history.Snapshot()...)

	l.agent.Hooks.OnRequest = l.buildOnRequestHook()

	updated, err := l.runtime.Run(ctx, l.agent, conv, l.onEvent)
	if err != nil {
		return err
	}

	// Persist every message the runtime appended beyond what was already
	// in history (the injected developer messages are turn-scoped and
	// intentionally excluded from persistence).
	injected := len(l.history.Snapshot())
	for i := injected; i < len(updated.Messages); i++ {
		if updated.Messages[i].Role == convo.RoleDeveloper {
			continue
		}
		l.history.Append(updated.Messages[i])
	}
	return nil
}

func (l *Loop) sleepThoughtDelay(ctx context.Context) error {
	delay := l.ThoughtDelay()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.interrupt:
		return nil
	case <-timer.C:
		return nil
	}
}

func (l *Loop) maybeRunHealthSweep() {
	now := time.Now()
	if now.Before(l.nextHealth) {
		return
	}
	l.nextHealth = l.healthSched.Next(now)
	if l.supervisor != nil {
		go l.supervisor.CheckAllTaskHealth()
	}
}

// buildOnRequestHook returns an onRequest closure that appends the System
// Status developer message and the prompt-guide nudge, per §4.I steps 3-4.
// When the guide decides the user is owed a reply it also pins the turn's
// tool choice to talk_to_user; the pin is cleared again on every hook run
// so it never outlives the turn that needed it.
func (l *Loop) buildOnRequestHook() func(ctx context.Context, conv *convo.Conversation) *convo.Conversation {
	return func(ctx context.Context, conv *convo.Conversation) *convo.Conversation {
		out := conv.Clone()
		out.Append(convo.NewDeveloper(l.systemStatus()))
		nudge, forceTalk := l.promptGuide(out)
		if nudge != "" {
			out.Append(convo.NewDeveloper(nudge))
		}
		l.agent.ForcedTool = ""
		if forceTalk {
			l.agent.ForcedTool = talkToUserTool
		}
		return out
	}
}

func (l *Loop) systemStatus() string {
	var sb strings.Builder
	sb.WriteString("System Status\n")
	fmt.Fprintf(&sb, "current_time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "time_running: %s\n", time.Since(l.startedAt).Round(time.Second))
	fmt.Fprintf(&sb, "thought_delay: %s\n", l.ThoughtDelay())

	if l.status != nil {
		fmt.Fprintf(&sb, "active_projects: %s\n", strings.Join(l.status.ActiveProjects(), ", "))
		fmt.Fprintf(&sb, "active_tasks: %s\n", strings.Join(l.status.ActiveTasks(), ", "))

		var toolNames []string
		for _, rt := range l.status.RunningTools() {
			toolNames = append(toolNames, rt.ToolName)
		}
		fmt.Fprintf(&sb, "running_tools: %s\n", strings.Join(toolNames, ", "))
		fmt.Fprintf(&sb, "short_term_memories: %s\n", strings.Join(l.status.ShortTermMemories(), "; "))
	}
	return sb.String()
}

// promptGuide implements §4.I step 4: on an unanswered UserSaid it returns
// a nudge AND asks the caller to force the turn's tool choice to
// talk_to_user; right after the overseer spoke it nudges against
// pestering; otherwise it occasionally nudges toward mind-wandering.
func (l *Loop) promptGuide(conv *convo.Conversation) (string, bool) {
	switch lastSpeechState(conv.Messages) {
	case speechAwaitingReply:
		return fmt.Sprintf("The user is waiting on a reply. Use the %s tool now.", talkToUserTool), true
	case speechJustReplied:
		return "You just replied to the user. Don't pester them again unless you have something new and important to say.", false
	default:
		if l.rng.Float64() < mindWanderingProbability {
			return "Feel free to let your mind wander and explore a tangential idea before returning to the task at hand.", false
		}
		return "", false
	}
}

type speechState int

const (
	speechNeutral speechState = iota
	speechAwaitingReply
	speechJustReplied
)

func lastSpeechState(messages []convo.Message) speechState {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Type == convo.TypeFunctionCall && m.Name == talkToUserTool {
			return speechJustReplied
		}
		if m.Type == convo.TypeMessage && m.Role == convo.RoleUser {
			return speechAwaitingReply
		}
	}
	return speechNeutral
}
