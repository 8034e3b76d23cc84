package rotation

import (
	"math"
	"testing"
)

func testConfig() Config {
	return Config{
		Classes: map[string]ClassConfig{
			"standard": {
				Models: []string{"model-a", "model-b", "model-c"},
				Scores: map[string]int{"model-a": 50, "model-b": 30, "model-c": 20},
			},
			"monologue": {
				Models: []string{"model-x", "model-y"},
				Scores: map[string]int{"model-x": 60, "model-y": 40},
			},
			"empty": {},
		},
	}
}

func TestSelectHonorsPinnedOverride(t *testing.T) {
	r := New(testConfig())
	got := r.Select("agent-1", "standard", &Pinned{Model: "experiment-7"})
	if got != "experiment-7" {
		t.Errorf("Select with pinned = %q, want experiment-7", got)
	}
}

func TestSelectExcludesLastUsed(t *testing.T) {
	r := New(testConfig())
	last := r.Select("agent-1", "monologue", nil)
	for i := 0; i < 50; i++ {
		next := r.Select("agent-1", "monologue", nil)
		if next == last {
			t.Fatalf("draw %d returned last-used model %q", i, last)
		}
		last = next
	}
}

func TestSelectExcludesDisabled(t *testing.T) {
	r := New(testConfig())
	r.Disable("model-a")
	r.Disable("model-b")
	for i := 0; i < 20; i++ {
		if got := r.Select("agent-2", "standard", nil); got != "model-c" {
			t.Fatalf("Select() = %q with a and b disabled, want model-c", got)
		}
		// model-c is also the last-used model now; with every alternative
		// disabled the standard fallback still only contains model-c.
	}
}

func TestSelectFallsBackToStandardClass(t *testing.T) {
	r := New(testConfig())
	got := r.Select("agent-3", "no-such-class", nil)
	if got != "model-a" && got != "model-b" && got != "model-c" {
		t.Errorf("Select(unknown class) = %q, want a standard-class model", got)
	}

	got = r.Select("agent-4", "empty", nil)
	if got != "model-a" && got != "model-b" && got != "model-c" {
		t.Errorf("Select(empty class) = %q, want a standard-class model", got)
	}
}

func TestSelectReEnabledModelReturns(t *testing.T) {
	r := New(testConfig())
	r.Disable("model-x")
	r.Enable("model-x")
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[r.Select("agent-5", "monologue", nil)] = true
	}
	if !seen["model-x"] {
		t.Error("re-enabled model never selected in 100 draws")
	}
}

// With equal scores, repeated draws should approach uniform frequency.
// The last-used exclusion makes consecutive draws dependent, but over many
// draws each candidate of a 3-model class should still land close to 1/3.
func TestRotationFairness(t *testing.T) {
	r := New(Config{
		Classes: map[string]ClassConfig{
			"standard": {
				Models: []string{"m1", "m2", "m3"},
				Scores: map[string]int{"m1": 10, "m2": 10, "m3": 10},
			},
		},
	})

	const draws = 3000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		counts[r.Select("agent-f", "standard", nil)]++
	}

	for _, m := range []string{"m1", "m2", "m3"} {
		freq := float64(counts[m]) / draws
		if math.Abs(freq-1.0/3.0) > 0.05 {
			t.Errorf("model %s frequency = %.3f, want within 0.05 of 1/3 (counts: %v)", m, freq, counts)
		}
	}
}

func TestZeroScoresPickRandomCandidate(t *testing.T) {
	r := New(Config{
		Classes: map[string]ClassConfig{
			"standard": {Models: []string{"m1", "m2"}},
		},
	})
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[r.Select("agent-z", "standard", nil)] = true
	}
	if len(seen) != 2 {
		t.Errorf("zero-score selection saw %v, want both candidates", seen)
	}
}
