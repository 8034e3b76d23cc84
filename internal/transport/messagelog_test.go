package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/just-every/magi/pkg/events"
)

func TestMessageLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AI-log", "messages.json")

	l, err := OpenMessageLog(path)
	if err != nil {
		t.Fatalf("OpenMessageLog() error = %v", err)
	}
	if err := l.Append(events.NewMessageComplete("m1", "hello", nil)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.Append(events.NewStreamEnd()); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	reloaded, err := OpenMessageLog(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	evs := reloaded.Events()
	if len(evs) != 2 {
		t.Fatalf("reloaded %d events, want 2", len(evs))
	}
	if evs[0].MessageID != "m1" || evs[0].FullContent != "hello" {
		t.Errorf("evs[0] = %+v", evs[0])
	}
	if evs[1].Kind != events.KindStreamEnd {
		t.Errorf("evs[1].Kind = %v, want stream_end", evs[1].Kind)
	}
}

func TestMessageLogCorruptFileSetAside(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := OpenMessageLog(path)
	if err != nil {
		t.Fatalf("OpenMessageLog() on corrupt file error = %v", err)
	}
	if len(l.Events()) != 0 {
		t.Error("corrupt log should start empty")
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("corrupt file not set aside: %v", err)
	}
}
