package supervisor

import (
	"context"
	"fmt"
	"time"
)

const (
	waitPollInterval      = 1 * time.Second
	waitHeartbeatInterval = 60 * time.Second
)

// WaitForRunningTask polls taskID at 1s intervals, emitting a
// task_waiting{elapsedSeconds} heartbeat every 60s, per §4.H
// wait_for_running_task. It returns as soon as the task reaches a
// terminal status, abortSignal fires, or timeoutSec elapses, whichever
// comes first. The caller is responsible for registering this call as a
// RunningTool so system-wide interrupts can cancel ctx.
func (s *Supervisor) WaitForRunningTask(ctx context.Context, taskID string, timeoutSec int) (string, error) {
	deadline := time.Now().Add(time.Duration(timeoutSec) * time.Second)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	start := time.Now()
	lastHeartbeat := start

	for {
		select {
		case <-ctx.Done():
			return "aborted", nil
		case <-ticker.C:
			p, ok := s.Get(taskID)
			if !ok {
				return "", fmt.Errorf("supervisor: unknown task %q", taskID)
			}
			if p.Status.terminal() {
				return terminalMessage(p), nil
			}
			now := time.Now()
			if now.Sub(lastHeartbeat) >= waitHeartbeatInterval && s.controller != nil {
				s.controller.TaskWaiting(taskID, int(now.Sub(start).Seconds()))
				lastHeartbeat = now
			}
			if timeoutSec > 0 && now.After(deadline) {
				return fmt.Sprintf("did not complete within %d seconds; last status=%s", timeoutSec, p.Status), nil
			}
		}
	}
}

func terminalMessage(p *Process) string {
	switch p.Status {
	case StatusCompleted:
		return p.Output
	case StatusFailed:
		return p.Error
	case StatusTerminated:
		return "terminated"
	default:
		return string(p.Status)
	}
}
