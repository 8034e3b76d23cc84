// Package usage implements the costTracker and quotaTracker singletons
// named in §4's process-wide singleton list: a running per-process token
// and dollar total folded from cost_update events, plus a quota guard that
// refuses new spend once a configured ceiling is exceeded. Grounded on the
// teacher's internal/usage (Usage/Cost/Record shape, mutex-protected totals
// map, pruneOld aging, FormatTokenCount/FormatUSD display helpers), adapted
// from the teacher's per-user/per-channel Discord accounting to
// per-process accounting keyed by the process id a cost_update arrived on.
package usage

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/just-every/magi/pkg/events"
)

// Usage is a running token total, accumulated by adding successive
// cost_update events.
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CachedTokens int64   `json:"cached_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd"`
}

// Total returns the total token count.
func (u *Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CachedTokens
}

// add folds one cost_update event's usage into u.
func (u *Usage) add(ev events.Usage) {
	u.InputTokens += int64(ev.Input)
	u.OutputTokens += int64(ev.Output)
	u.CachedTokens += int64(ev.Cached)
	u.CostUSD += ev.Cost
}

// Record is one observed cost_update event, retained for a bounded window
// so GetRecentRecords can report recent spend velocity. Its Usage is the
// process's running total after that event, not the event's own usage.
type Record struct {
	ProcessID string    `json:"process_id"`
	Model     string    `json:"model"`
	Usage     Usage     `json:"usage"`
	Timestamp time.Time `json:"timestamp"`
}

// TrackerConfig configures a Tracker's retention window.
type TrackerConfig struct {
	MaxAge   time.Duration
	MaxCount int
}

// DefaultTrackerConfig returns the teacher's default retention (24h /
// 10,000 records).
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{MaxAge: 24 * time.Hour, MaxCount: 10000}
}

// Tracker is the costTracker singleton: it folds cost_update events into
// running totals keyed by process id and by model.
type Tracker struct {
	mu        sync.RWMutex
	records   []Record
	byProcess map[string]*Usage
	byModel   map[string]*Usage
	grand     Usage
	maxAge    time.Duration
	maxCount  int
}

// NewTracker creates an empty Tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = 10000
	}
	return &Tracker{
		byProcess: make(map[string]*Usage),
		byModel:   make(map[string]*Usage),
		maxAge:    cfg.MaxAge,
		maxCount:  cfg.MaxCount,
	}
}

// Observe folds a cost_update event's usage into the running totals for
// processID and its model.
func (t *Tracker) Observe(processID string, ev events.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.byProcess[processID] == nil {
		t.byProcess[processID] = &Usage{}
	}
	if t.byModel[ev.Model] == nil {
		t.byModel[ev.Model] = &Usage{}
	}
	t.byProcess[processID].add(ev)
	t.byModel[ev.Model].add(ev)
	t.grand.add(ev)

	t.records = append(t.records, Record{ProcessID: processID, Model: ev.Model, Usage: *t.byProcess[processID], Timestamp: time.Now()})
	t.pruneOld()
}

func (t *Tracker) pruneOld() {
	cutoff := time.Now().Add(-t.maxAge)
	startIdx := len(t.records)
	for i, r := range t.records {
		if r.Timestamp.After(cutoff) {
			startIdx = i
			break
		}
	}
	if startIdx > 0 {
		t.records = t.records[startIdx:]
	}
	if len(t.records) > t.maxCount {
		t.records = t.records[len(t.records)-t.maxCount:]
	}
}

// ProcessTotals returns a copy of the running totals for processID.
func (t *Tracker) ProcessTotals(processID string) Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if u := t.byProcess[processID]; u != nil {
		return *u
	}
	return Usage{}
}

// ModelTotals returns a copy of the running totals for model.
func (t *Tracker) ModelTotals(model string) Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if u := t.byModel[model]; u != nil {
		return *u
	}
	return Usage{}
}

// GrandTotal returns a copy of the all-process running total.
func (t *Tracker) GrandTotal() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.grand
}

// GetRecentRecords returns the most recent n observations, newest last.
func (t *Tracker) GetRecentRecords(n int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n <= 0 || n > len(t.records) {
		n = len(t.records)
	}
	start := len(t.records) - n
	out := make([]Record, n)
	copy(out, t.records[start:])
	return out
}

// Summary formats a one-line totals string for a process, for the
// Overseer's System Status injection (§4.I step 3).
func (t *Tracker) Summary(processID string) string {
	tot := t.ProcessTotals(processID)
	return fmt.Sprintf("tokens=%s cost=%s", FormatTokenCount(tot.Total()), FormatUSD(tot.CostUSD))
}

// QuotaExceededError reports that a process crossed its configured spend
// ceiling.
type QuotaExceededError struct {
	ProcessID string
	LimitUSD  float64
	SpentUSD  float64
	Global    bool
}

func (e *QuotaExceededError) Error() string {
	scope := "process " + e.ProcessID
	if e.Global {
		scope = "engine"
	}
	return fmt.Sprintf("usage: %s spent %s, exceeding quota %s", scope, FormatUSD(e.SpentUSD), FormatUSD(e.LimitUSD))
}

// QuotaGuard is the quotaTracker singleton: it consults a Tracker's running
// totals and refuses further spend once a process, or the engine as a
// whole, crosses a configured dollar ceiling. It holds no spend state of
// its own, only the configured limits, so it is safe to reconfigure live.
type QuotaGuard struct {
	tracker *Tracker

	mu            sync.RWMutex
	perProcessUSD float64 // 0 means unlimited
	globalUSD     float64 // 0 means unlimited
}

// NewQuotaGuard creates a QuotaGuard reading from tracker's totals.
func NewQuotaGuard(tracker *Tracker) *QuotaGuard {
	return &QuotaGuard{tracker: tracker}
}

// SetLimits configures the per-process and engine-wide dollar ceilings.
// Zero means unlimited.
func (g *QuotaGuard) SetLimits(perProcessUSD, globalUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.perProcessUSD, g.globalUSD = perProcessUSD, globalUSD
}

// Check returns a *QuotaExceededError if processID, or the engine as a
// whole, has already crossed its configured ceiling. Callers run this
// before starting a new provider request, since the spend it guards
// against is the one about to happen, not one already recorded.
func (g *QuotaGuard) Check(processID string) error {
	g.mu.RLock()
	perProcess, global := g.perProcessUSD, g.globalUSD
	g.mu.RUnlock()

	if perProcess > 0 {
		if spent := g.tracker.ProcessTotals(processID).CostUSD; spent >= perProcess {
			return &QuotaExceededError{ProcessID: processID, LimitUSD: perProcess, SpentUSD: spent}
		}
	}
	if global > 0 {
		if spent := g.tracker.GrandTotal().CostUSD; spent >= global {
			return &QuotaExceededError{ProcessID: processID, LimitUSD: global, SpentUSD: spent, Global: true}
		}
	}
	return nil
}

// PercentUsed formats processID's spend as a percentage of its configured
// ceiling, for status reporting. Returns "" when unlimited.
func (g *QuotaGuard) PercentUsed(processID string) string {
	g.mu.RLock()
	limit := g.perProcessUSD
	g.mu.RUnlock()
	if limit <= 0 {
		return ""
	}
	spent := g.tracker.ProcessTotals(processID).CostUSD
	return FormatPercentage(100 * spent / limit)
}

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUSD formats a dollar amount for display.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "$0.00"
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}
