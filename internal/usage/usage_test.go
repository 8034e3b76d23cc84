package usage

import (
	"testing"
	"time"

	"github.com/just-every/magi/pkg/events"
)

func TestUsageTotal(t *testing.T) {
	u := &Usage{InputTokens: 100, OutputTokens: 200, CachedTokens: 50}
	if u.Total() != 350 {
		t.Errorf("Total() = %d, want 350", u.Total())
	}
}

func TestTrackerObserveAccumulatesByProcessAndModel(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())

	tr.Observe("AI-1", events.Usage{Input: 100, Output: 200, Cost: 0.01, Model: "claude-sonnet"})
	tr.Observe("AI-1", events.Usage{Input: 50, Output: 25, Cost: 0.005, Model: "claude-sonnet"})
	tr.Observe("AI-2", events.Usage{Input: 10, Output: 10, Cost: 0.001, Model: "gpt-5"})

	p1 := tr.ProcessTotals("AI-1")
	if p1.InputTokens != 150 || p1.OutputTokens != 225 {
		t.Errorf("AI-1 totals = %+v", p1)
	}
	if diff := p1.CostUSD - 0.015; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("AI-1 cost = %f, want 0.015", p1.CostUSD)
	}

	model := tr.ModelTotals("claude-sonnet")
	if model.InputTokens != 150 {
		t.Errorf("claude-sonnet input = %d, want 150", model.InputTokens)
	}

	grand := tr.GrandTotal()
	if grand.InputTokens != 160 {
		t.Errorf("grand input = %d, want 160", grand.InputTokens)
	}
}

func TestTrackerGetRecentRecordsReturnsNewestLast(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	for i := 0; i < 5; i++ {
		tr.Observe("AI-1", events.Usage{Input: i * 100, Model: "m"})
	}

	recs := tr.GetRecentRecords(3)
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[2].Usage.InputTokens != 1000 {
		t.Errorf("last record cumulative input = %d, want 1000", recs[2].Usage.InputTokens)
	}
}

func TestTrackerPruneOldDropsExpiredRecords(t *testing.T) {
	tr := NewTracker(TrackerConfig{MaxAge: 50 * time.Millisecond, MaxCount: 1000})
	tr.Observe("AI-1", events.Usage{Input: 1})
	time.Sleep(75 * time.Millisecond)
	tr.Observe("AI-1", events.Usage{Input: 1})

	recs := tr.GetRecentRecords(100)
	if len(recs) != 1 {
		t.Errorf("expected 1 surviving record after pruning, got %d", len(recs))
	}
}

func TestQuotaGuardCheckBlocksOverPerProcessLimit(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	g := NewQuotaGuard(tr)
	g.SetLimits(0.01, 0)

	tr.Observe("AI-1", events.Usage{Cost: 0.02})

	err := g.Check("AI-1")
	if err == nil {
		t.Fatal("expected quota exceeded error")
	}
	var qe *QuotaExceededError
	if qe, _ = err.(*QuotaExceededError); qe == nil || qe.Global {
		t.Errorf("expected non-global QuotaExceededError, got %+v", err)
	}
}

func TestQuotaGuardCheckBlocksOverGlobalLimit(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	g := NewQuotaGuard(tr)
	g.SetLimits(0, 0.01)

	tr.Observe("AI-1", events.Usage{Cost: 0.005})
	tr.Observe("AI-2", events.Usage{Cost: 0.02})

	if err := g.Check("AI-1"); err == nil {
		t.Fatal("expected global quota exceeded error")
	}
}

func TestQuotaGuardCheckAllowsUnderLimit(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	g := NewQuotaGuard(tr)
	g.SetLimits(1.00, 0)

	tr.Observe("AI-1", events.Usage{Cost: 0.10})

	if err := g.Check("AI-1"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestFormatTokenCount(t *testing.T) {
	tests := []struct {
		count int64
		want  string
	}{
		{0, "0"},
		{-10, "0"},
		{500, "500"},
		{1000, "1.0k"},
		{10000, "10k"},
		{1000000, "1.0m"},
	}
	for _, tt := range tests {
		if got := FormatTokenCount(tt.count); got != tt.want {
			t.Errorf("FormatTokenCount(%d) = %q, want %q", tt.count, got, tt.want)
		}
	}
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{0, "$0.00"},
		{-1, "$0.00"},
		{0.001, "$0.0010"},
		{0.0123, "$0.01"},
		{1.5, "$1.50"},
	}
	for _, tt := range tests {
		if got := FormatUSD(tt.amount); got != tt.want {
			t.Errorf("FormatUSD(%f) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}

func TestSummaryFormatsTokensAndCost(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Observe("AI-1", events.Usage{Input: 1000, Output: 500, Cost: 0.02})

	got := tr.Summary("AI-1")
	want := "tokens=1.5k cost=$0.02"
	if got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}
