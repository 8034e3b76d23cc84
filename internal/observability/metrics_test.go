package observability

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// sharedMetrics builds the metric set once: NewMetrics registers on the
// global Prometheus registry, so a second call in one process panics.
var sharedMetrics = sync.OnceValue(NewMetrics)

func TestRecordProviderRequestIncrementsCounterAndCost(t *testing.T) {
	m := sharedMetrics()
	m.RecordProviderRequest("anthropic", "claude-sonnet", "success", 1.5, 0.02)

	if got := testutil.ToFloat64(m.ProviderRequestCounter.WithLabelValues("anthropic", "claude-sonnet", "success")); got != 1 {
		t.Errorf("request counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProviderCostUSD.WithLabelValues("anthropic", "claude-sonnet")); got != 0.02 {
		t.Errorf("cost counter = %v, want 0.02", got)
	}
}

func TestSetActiveTasksAndRunningTools(t *testing.T) {
	m := sharedMetrics()
	m.SetActiveTasks(3)
	m.SetRunningTools(2)

	if got := testutil.ToFloat64(m.ActiveTasks); got != 3 {
		t.Errorf("active tasks = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.RunningTools); got != 2 {
		t.Errorf("running tools = %v, want 2", got)
	}
}

func TestRecordHistoryCompaction(t *testing.T) {
	m := sharedMetrics()
	m.RecordHistoryCompaction("summarized")
	if got := testutil.ToFloat64(m.HistoryCompactions.WithLabelValues("summarized")); got != 1 {
		t.Errorf("compactions = %v, want 1", got)
	}
}
