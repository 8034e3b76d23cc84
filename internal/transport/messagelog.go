package transport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/just-every/magi/pkg/events"
)

// MessageLog is the Engine's best-effort persistent event history: a
// messages.json file under the output directory, reloaded on start and
// rewritten after every append. Delta kinds are never logged; callers
// filter with Persistable before appending.
type MessageLog struct {
	mu     sync.Mutex
	path   string
	events []events.Event
}

// OpenMessageLog loads path if it exists, creating parent directories.
// A corrupt file is renamed aside rather than failing startup: the log
// is best-effort by contract.
func OpenMessageLog(path string) (*MessageLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("transport: create log dir: %w", err)
	}
	l := &MessageLog{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transport: read message log: %w", err)
	}
	if err := json.Unmarshal(data, &l.events); err != nil {
		_ = os.Rename(path, path+".corrupt")
		l.events = nil
	}
	return l, nil
}

// Append records ev and rewrites the file.
func (l *MessageLog) Append(ev events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return l.flushLocked()
}

// Events returns a copy of the logged history, oldest first.
func (l *MessageLog) Events() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *MessageLog) flushLocked() error {
	data, err := json.MarshalIndent(l.events, "", "  ")
	if err != nil {
		return fmt.Errorf("transport: marshal message log: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("transport: write message log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("transport: replace message log: %w", err)
	}
	return nil
}
