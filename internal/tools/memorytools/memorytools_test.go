package memorytools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/just-every/magi/internal/memory"
	"github.com/just-every/magi/internal/tools"
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.New(memory.Config{})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRegisterAllRegistersEveryTool(t *testing.T) {
	reg := tools.NewRegistry()
	RegisterAll(reg, newTestStore(t))

	for _, name := range []string{"save_memory", "find_memory", "delete_memory"} {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("expected tool %q to be registered", name)
		}
	}
}

func TestSaveFindDeleteViaTools(t *testing.T) {
	store := newTestStore(t)
	save := &saveMemory{store: store}
	find := &findMemory{store: store}
	del := &deleteMemory{store: store}
	ctx := context.Background()

	args, _ := json.Marshal(map[string]any{"term": "long", "memory": "remember the API key rotates monthly"})
	result, err := save.Execute(ctx, args)
	if err != nil || result.IsError {
		t.Fatalf("save_memory Execute: %v, %+v", err, result)
	}
	id := result.Content

	args, _ = json.Marshal(map[string]any{"query": []string{"rotates monthly"}})
	result, err = find.Execute(ctx, args)
	if err != nil || result.IsError {
		t.Fatalf("find_memory Execute: %v, %+v", err, result)
	}
	if result.Content == "no matching memories" {
		t.Fatalf("find_memory found nothing, want a match for saved id %q", id)
	}

	args, _ = json.Marshal(map[string]any{"term": "long", "id": id})
	result, err = del.Execute(ctx, args)
	if err != nil || result.IsError {
		t.Fatalf("delete_memory Execute: %v, %+v", err, result)
	}
}

func TestSaveMemoryExecuteRejectsInvalidTerm(t *testing.T) {
	store := newTestStore(t)
	save := &saveMemory{store: store}
	args, _ := json.Marshal(map[string]any{"term": "medium", "memory": "x"})
	result, err := save.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for an invalid term")
	}
}
