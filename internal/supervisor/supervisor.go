// Package supervisor implements the process/task registry owning the
// started->running->(waiting<->running)->completed|failed|terminated
// lifecycle, plus the pause/resume and health-check operations the
// Overseer drives. Grounded on the teacher's internal/jobs.Store/MemoryStore
// (mutex-protected map, insertion-ordered keys, per-record cancelFunc,
// clone-on-read isolation), adapted from async tool-call jobs to
// long-lived sub-agent processes.
package supervisor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/just-every/magi/internal/history"
	"github.com/just-every/magi/pkg/convo"
)

// Status is a Process's lifecycle state, per §4.H.
type Status string

const (
	StatusStarted    Status = "started"
	StatusRunning    Status = "running"
	StatusWaiting    Status = "waiting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTerminated
}

// Process is one supervised task record.
type Process struct {
	ID         string
	Name       string
	Task       string
	Context    string
	Warnings   string
	Goal       string
	Type       string
	ProjectIDs []string

	Status         Status
	CreatedAt      time.Time
	LastObservedAt time.Time
	Output         string
	Error          string

	history *history.Store

	cancelFunc context.CancelFunc
}

func cloneProcess(p *Process) *Process {
	if p == nil {
		return nil
	}
	clone := *p
	clone.ProjectIDs = append([]string(nil), p.ProjectIDs...)
	return &clone
}

// Controller is the narrow contract the supervisor notifies on lifecycle
// events, satisfied by the Controller-facing transport layer.
type Controller interface {
	ProcessStart(p *Process)
	CommandStart(taskID, text string)
	TaskWaiting(taskID string, elapsedSeconds int)
}

// Supervisor owns the process registry and the designated core (Overseer)
// process id, per §4.H.
type Supervisor struct {
	mu            sync.RWMutex
	processes     map[string]*Process
	order         []string
	coreProcessID string
	paused        bool
	resumeCh      chan struct{}

	controller     Controller
	healthInterval time.Duration
	ptys           map[string]PTY
}

// PTY is the narrow contract a pause/resume-attached terminal implements.
type PTY interface {
	Write(data []byte) (int, error)
}

// Config configures a Supervisor.
type Config struct {
	Controller     Controller
	HealthInterval time.Duration // default 2 minutes
}

// New creates a Supervisor with an empty registry.
func New(cfg Config) *Supervisor {
	interval := cfg.HealthInterval
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Supervisor{
		processes:      make(map[string]*Process),
		controller:     cfg.Controller,
		healthInterval: interval,
		ptys:           make(map[string]PTY),
	}
}

// SetCoreProcessID designates the Overseer's process id.
func (s *Supervisor) SetCoreProcessID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coreProcessID = id
}

func newProcessID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return "AI-" + hex.EncodeToString(buf)
}

// StartTask registers a new process, per §4.H start_task. It validates
// that at most 3 unique project ids are given and fires process_start.
func (s *Supervisor) StartTask(name, task, taskContext, warnings, goal, procType string, projectIDs []string) (*Process, error) {
	unique := map[string]bool{}
	for _, id := range projectIDs {
		unique[id] = true
	}
	if len(unique) > 3 {
		return nil, fmt.Errorf("supervisor: at most 3 unique project ids allowed, got %d", len(unique))
	}

	p := &Process{
		ID:             newProcessID(),
		Name:           name,
		Task:           task,
		Context:        taskContext,
		Warnings:       warnings,
		Goal:           goal,
		Type:           procType,
		ProjectIDs:     projectIDs,
		Status:         StatusStarted,
		CreatedAt:      time.Now(),
		LastObservedAt: time.Now(),
		history:        history.New(history.Config{AIName: name}),
	}

	s.mu.Lock()
	s.processes[p.ID] = p
	s.order = append(s.order, p.ID)
	s.mu.Unlock()

	if s.controller != nil {
		s.controller.ProcessStart(cloneProcess(p))
	}
	return cloneProcess(p), nil
}

// observeProgress transitions started->running on first progress event and
// refreshes LastObservedAt. Callers report progress as it happens.
func (s *Supervisor) observeProgress(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return
	}
	p.LastObservedAt = time.Now()
	if p.Status == StatusStarted {
		p.Status = StatusRunning
	}
}

// SetWaiting marks a process as waiting on external input, e.g. a
// wait_for_* tool call.
func (s *Supervisor) SetWaiting(id string) {
	s.transition(id, StatusWaiting)
}

// SetRunning transitions a waiting process back to running.
func (s *Supervisor) SetRunning(id string) {
	s.transition(id, StatusRunning)
}

// Complete marks a process completed with its final output.
func (s *Supervisor) Complete(id, output string) {
	s.mu.Lock()
	if p, ok := s.processes[id]; ok {
		p.Status = StatusCompleted
		p.Output = output
		p.LastObservedAt = time.Now()
	}
	s.mu.Unlock()
}

// Fail marks a process failed with an error message.
func (s *Supervisor) Fail(id, errMsg string) {
	s.mu.Lock()
	if p, ok := s.processes[id]; ok {
		p.Status = StatusFailed
		p.Error = errMsg
		p.LastObservedAt = time.Now()
	}
	s.mu.Unlock()
}

// Terminate marks a process externally terminated and invokes its
// registered cancel function, if any.
func (s *Supervisor) Terminate(id string) {
	s.mu.Lock()
	p, ok := s.processes[id]
	if ok {
		p.Status = StatusTerminated
		p.LastObservedAt = time.Now()
		if p.cancelFunc != nil {
			p.cancelFunc()
		}
	}
	s.mu.Unlock()
}

func (s *Supervisor) transition(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok || p.Status.terminal() {
		return
	}
	p.Status = status
	p.LastObservedAt = time.Now()
}

// SetCancelFunc attaches a context.CancelFunc to a process so Terminate
// can abort its in-flight work.
func (s *Supervisor) SetCancelFunc(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.processes[id]; ok {
		p.cancelFunc = cancel
	}
}

// Get returns a cloned snapshot of a process by id.
func (s *Supervisor) Get(id string) (*Process, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processes[id]
	return cloneProcess(p), ok
}

// List returns cloned snapshots of every process, in registration order.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Process, 0, len(s.order))
	for _, id := range s.order {
		if p, ok := s.processes[id]; ok {
			out = append(out, cloneProcess(p))
		}
	}
	return out
}

// SendMessage emits command_start targeted at taskID; text == "stop" is
// the terminate shortcut, per §4.H send_message.
func (s *Supervisor) SendMessage(taskID, text string) {
	if text == "stop" {
		s.Terminate(taskID)
		return
	}
	s.observeProgress(taskID)
	if s.controller != nil {
		s.controller.CommandStart(taskID, text)
	}
}

// GetTaskStatus renders a summary or full-history string for taskID, per
// §4.H get_task_status.
func (s *Supervisor) GetTaskStatus(taskID string, detailed bool) (string, error) {
	s.mu.RLock()
	raw, ok := s.processes[taskID]
	p := cloneProcess(raw)
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("supervisor: unknown task %q", taskID)
	}

	if !detailed {
		return fmt.Sprintf("%s [%s] status=%s last_observed=%s", p.ID, p.Name, p.Status, p.LastObservedAt.Format(time.RFC3339)), nil
	}
	return renderDetailedStatus(p), nil
}

func renderDetailedStatus(p *Process) string {
	out := fmt.Sprintf("%s [%s] status=%s goal=%q\ntask: %s\n", p.ID, p.Name, p.Status, p.Goal, p.Task)
	for _, m := range p.history.Snapshot() {
		out += fmt.Sprintf("- %s: %s\n", m.Role, m.Content)
	}
	if p.Output != "" {
		out += "output: " + p.Output + "\n"
	}
	if p.Error != "" {
		out += "error: " + p.Error + "\n"
	}
	return out
}

// ReceiveProjectUpdate converts a project_update message into a
// user-visible system message appended to the core (Overseer) process's
// history, per §4.H Project update reception.
func (s *Supervisor) ReceiveProjectUpdate(projectID, text string) {
	s.mu.RLock()
	core, ok := s.processes[s.coreProcessID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	core.history.Append(convo.NewSystem(fmt.Sprintf("[project update %s] %s", projectID, text)))
}

// CheckAllTaskHealth returns the ids of non-terminal tasks whose
// LastObservedAt predates the configured health interval, per §4.H
// check_all_task_health.
func (s *Supervisor) CheckAllTaskHealth() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-s.healthInterval)
	var stale []string
	for _, id := range s.order {
		p := s.processes[id]
		if p == nil || p.Status.terminal() {
			continue
		}
		if p.LastObservedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}
