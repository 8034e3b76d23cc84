// Package rotation implements weighted-random model selection across a
// class of candidate models, grounded on the scoring/exclusion idiom in
// the teacher's internal/agent/failover.go (provider health state, a
// disabled set, deterministic fallback) adapted from per-provider
// failover to per-class model scoring.
package rotation

import (
	"math/rand"
	"sync"
)

// ClassConfig is one model class's candidate list and per-model scores.
type ClassConfig struct {
	Models []string
	Scores map[string]int // 0-100, default treated as 0
}

// Config maps a model class name to its candidate set.
type Config struct {
	Classes map[string]ClassConfig
}

// Rotation tracks disabled models and each agent's last-used model,
// drawing a weighted-random candidate per Selection in §4.F.
type Rotation struct {
	mu       sync.Mutex
	config   Config
	disabled map[string]bool
	lastUsed map[string]string // agentID -> model
	rand     *rand.Rand
}

// New creates a Rotation from Config.
func New(config Config) *Rotation {
	return &Rotation{
		config:   config,
		disabled: make(map[string]bool),
		lastUsed: make(map[string]string),
		rand:     rand.New(rand.NewSource(1)),
	}
}

// Disable removes a model from consideration until Enable is called.
func (r *Rotation) Disable(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[model] = true
}

// Enable restores a previously disabled model.
func (r *Rotation) Enable(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabled, model)
}

// Pinned is returned by a provider override that resolves a fixed model
// for a class, bypassing weighted selection entirely.
type Pinned struct {
	Model string
}

// Select draws a model for agentID from modelClass, per the five-step
// selection algorithm in §4.F. If pinned is non-nil it is returned
// unchanged, honoring a provider's pinned-model override.
func (r *Rotation) Select(agentID, modelClass string, pinned *Pinned) string {
	if pinned != nil {
		return pinned.Model
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	class, ok := r.config.Classes[modelClass]
	if !ok || len(class.Models) == 0 {
		class = r.config.Classes["standard"]
	}

	last := r.lastUsed[agentID]
	candidates := make([]string, 0, len(class.Models))
	for _, m := range class.Models {
		if m == last || r.disabled[m] {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		class = r.config.Classes["standard"]
		candidates = candidates[:0]
		for _, m := range class.Models {
			if !r.disabled[m] {
				candidates = append(candidates, m)
			}
		}
	}
	if len(candidates) == 0 {
		return last
	}

	selected := weightedPick(r.rand, candidates, class.Scores)
	r.lastUsed[agentID] = selected
	return selected
}

func weightedPick(rng *rand.Rand, candidates []string, scores map[string]int) string {
	total := 0
	for _, c := range candidates {
		total += scores[c]
	}
	if total <= 0 {
		return candidates[rng.Intn(len(candidates))]
	}
	draw := rng.Intn(total)
	running := 0
	for _, c := range candidates {
		running += scores[c]
		if draw < running {
			return c
		}
	}
	return candidates[len(candidates)-1]
}
