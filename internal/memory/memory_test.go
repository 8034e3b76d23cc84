package memory

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveRejectsInvalidTerm(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save(context.Background(), Term("medium"), "x"); err == nil {
		t.Fatal("expected an error for an invalid term")
	}
}

func TestSaveFindDeleteRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, TermLong, "the deploy window is 2am-4am UTC")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	found, err := s.Find(ctx, []string{"deploy window"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 1 || found[0].ID != id {
		t.Fatalf("Find() = %+v, want one entry with id %q", found, id)
	}

	if err := s.Delete(ctx, TermLong, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, TermLong, id); err != ErrNotFound {
		t.Fatalf("Delete() on already-deleted id = %v, want ErrNotFound", err)
	}
}

func TestFindWithNoQueryReturnsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Save(ctx, TermShort, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(ctx, TermShort, "b"); err != nil {
		t.Fatal(err)
	}

	found, err := s.Find(ctx, nil)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("Find(nil) returned %d entries, want 2", len(found))
	}
}

func TestShortTermSummariesOnlyReturnsShortTerm(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Save(ctx, TermShort, "short one"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(ctx, TermLong, "long one"); err != nil {
		t.Fatal(err)
	}

	got := s.ShortTermSummaries(ctx, 5)
	if len(got) != 1 || got[0] != "short one" {
		t.Errorf("ShortTermSummaries() = %v, want [short one]", got)
	}
}
