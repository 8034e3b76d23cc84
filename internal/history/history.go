// Package history implements the Overseer's append-only message log:
// categorization for compaction priority, pending-thread draining, and
// priority-ordered compaction with LLM summarization. Grounded on the
// teacher's internal/compaction package (token estimation via
// CharsPerToken, chunked/staged summarization, tail-truncation fallback),
// adapted from the teacher's context-window-share pruning to the
// category-priority selection algorithm.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/just-every/magi/pkg/convo"
)

// Category discriminates a Message for compaction priority, per §4.G.
type Category string

const (
	CategorySystemInstruction  Category = "SystemInstruction"
	CategoryUserSaid           Category = "UserSaid"
	CategoryUserInput          Category = "UserInput"
	CategoryTalkToUserToolCall Category = "TalkToUserToolCall"
	CategoryToolCall           Category = "ToolCall"
	CategoryToolResult         Category = "ToolResult"
	CategoryToolError          Category = "ToolError"
	CategoryAssistantThought   Category = "AssistantThought"
	CategoryAssistantResponse  Category = "AssistantResponse"
	CategorySystemError        Category = "SystemError"
	CategoryHistorySummary     Category = "HistorySummary"
	CategoryUnknown            Category = "Unknown"
)

// compactionPriority is the walk order for candidate selection, oldest
// category drained first, per §4.G step 2.
var compactionPriority = []Category{
	CategoryAssistantThought,
	CategoryToolResult,
	CategoryToolCall,
	CategoryAssistantResponse,
	CategoryUserInput,
	CategoryHistorySummary,
	CategoryToolError,
	CategorySystemError,
	CategoryTalkToUserToolCall,
	CategoryUserSaid,
	CategorySystemInstruction,
	CategoryUnknown,
}

const talkToUserTool = "talk_to_user"

// Categorize classifies one message, per §4.G.
func Categorize(msg convo.Message) Category {
	switch msg.Type {
	case convo.TypeThinking:
		return CategoryAssistantThought
	case convo.TypeFunctionCall:
		if msg.Name == talkToUserTool {
			return CategoryTalkToUserToolCall
		}
		return CategoryToolCall
	case convo.TypeFunctionCallOutput:
		if strings.Contains(strings.ToLower(msg.Output), "\"error\"") {
			return CategoryToolError
		}
		return CategoryToolResult
	case convo.TypeMessage:
		switch msg.Role {
		case convo.RoleSystem:
			switch {
			case strings.HasPrefix(msg.Content, "Summary of previous messages:"):
				return CategoryHistorySummary
			case strings.HasPrefix(msg.Content, "[system error]"):
				return CategorySystemError
			}
			return CategorySystemInstruction
		case convo.RoleUser:
			if msg.Name != "" {
				return CategoryUserSaid
			}
			return CategoryUserInput
		case convo.RoleAssistant:
			return CategoryAssistantResponse
		case convo.RoleDeveloper:
			return CategorySystemInstruction
		case convo.RoleTool:
			return CategoryToolResult
		}
	}
	return CategoryUnknown
}

// Summarizer asks an LLM for a retention-oriented summary of the selected
// messages; injectable so tests can stub it with an identity function.
type Summarizer interface {
	Summarize(ctx context.Context, messages []convo.Message) (string, error)
}

// Store is the process-wide append-only history singleton plus a FIFO
// queue of pending sub-agent thread merges, per §4.G.
type Store struct {
	mu       sync.Mutex
	messages []convo.Message
	pending  [][]convo.Message

	summarizer Summarizer
	aiName     string
	log        *slog.Logger
}

// Config configures a Store.
type Config struct {
	Summarizer Summarizer
	AIName     string // used by AddMonologue's prefix, default "Magi"
	Logger     *slog.Logger
}

// New creates an empty Store.
func New(cfg Config) *Store {
	name := cfg.AIName
	if name == "" {
		name = "Magi"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{summarizer: cfg.Summarizer, aiName: name, log: log}
}

// Append adds messages to the end of the log in order.
func (s *Store) Append(msgs ...convo.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// EnqueueThread queues a sub-agent's message thread for merging at the
// start of the next monologue turn.
func (s *Store) EnqueueThread(thread []convo.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, thread)
}

// DrainThreads appends every queued thread, in FIFO order, and clears the
// queue. Called at the start of each monologue turn per §4.G/§4.I.
func (s *Store) DrainThreads() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, thread := range s.pending {
		s.messages = append(s.messages, thread...)
	}
	s.pending = nil
}

// Snapshot returns a copy of the current message log.
func (s *Store) Snapshot() []convo.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]convo.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

var monologuePrefix = regexp.MustCompile(`(?i)^\s*(magi|assistant|ai)\s*:?\s*(thoughts?)?\s*:?\s*`)

// AddMonologue appends a "<AI_NAME> thoughts: ..." message after stripping
// a leading AI-name/"Thoughts:" prefix the model may have echoed back.
func (s *Store) AddMonologue(text string) {
	stripped := monologuePrefix.ReplaceAllString(text, "")
	stripped = strings.TrimSpace(stripped)
	msg := convo.NewAssistantMessage("", fmt.Sprintf("%s thoughts: %s", s.aiName, stripped), "")
	s.Append(msg)
}

const (
	targetTokens      = 50_000
	charsPerToken     = 4 // mirrors the teacher's compaction.CharsPerToken
	minMessagesKept   = 4
	lookaheadMessages = 10
	newestKeepRatio   = 0.20
)

func approxTokens(messages []convo.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + len(m.Arguments) + len(m.Output) + charsPerToken - 1) / charsPerToken
	}
	return total
}

// NeedsCompaction reports whether the current log exceeds the §4.G trigger.
func (s *Store) NeedsCompaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return approxTokens(s.messages) > targetTokens
}

// Compact runs the §4.G priority-ordered compaction algorithm in place:
// it selects the oldest candidates by category priority (skipping each
// category's newest 20%), pairs tool calls with their outputs, summarizes
// the selection via Store's Summarizer, and splices in one
// "Summary of previous messages: ..." system message. On summarizer
// failure it falls back to tail-truncation.
func (s *Store) Compact(ctx context.Context) error {
	s.mu.Lock()
	messages := make([]convo.Message, len(s.messages))
	copy(messages, s.messages)
	s.mu.Unlock()

	total := approxTokens(messages)
	if total <= targetTokens || len(messages) <= minMessagesKept {
		return nil
	}

	excess := total - targetTokens
	avgTokensPerMsg := float64(total) / float64(len(messages))
	if avgTokensPerMsg <= 0 {
		avgTokensPerMsg = 1
	}
	target := int(math.Ceil(float64(excess) / avgTokensPerMsg))
	maxSelectable := len(messages) - minMessagesKept
	if target > maxSelectable {
		target = maxSelectable
	}
	if target <= 0 {
		return nil
	}

	selected := selectForCompaction(messages, target)
	if len(selected) == 0 {
		return nil
	}

	selectedSet := make(map[int]bool, len(selected))
	for _, idx := range selected {
		selectedSet[idx] = true
	}

	var toSummarize []convo.Message
	for _, idx := range selected {
		toSummarize = append(toSummarize, messages[idx])
	}

	summaryText, err := s.summarize(ctx, toSummarize)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.log.Warn("history: summarizer failed, falling back to tail-truncation", "error", err, "target", target)
		s.tailTruncate(target)
		return nil
	}

	out := make([]convo.Message, 0, len(s.messages)-len(selected)+1)
	spliced := false
	for i, m := range s.messages {
		if i >= len(messages) {
			out = append(out, m) // appended after the snapshot was taken
			continue
		}
		if selectedSet[i] {
			if !spliced {
				out = append(out, convo.NewSystem("Summary of previous messages: "+summaryText))
				spliced = true
			}
			continue
		}
		out = append(out, m)
	}
	s.messages = out
	return nil
}

func (s *Store) summarize(ctx context.Context, messages []convo.Message) (string, error) {
	if s.summarizer == nil {
		return "", fmt.Errorf("history: no summarizer configured")
	}
	return s.summarizer.Summarize(ctx, messages)
}

// tailTruncate drops the oldest `target` messages outright, keeping the
// newest N-target, per §4.G step 4. Caller holds s.mu.
func (s *Store) tailTruncate(target int) {
	if target >= len(s.messages) {
		target = len(s.messages) - minMessagesKept
	}
	if target <= 0 {
		return
	}
	s.messages = append([]convo.Message{}, s.messages[target:]...)
}

// selectForCompaction walks categories in priority order, skipping each
// category's newest 20%, selecting oldest-first until target indices have
// been chosen. Selecting either side of a call/output pair pulls in the
// other, regardless of which category pass reached it first: the walk
// visits ToolResult before ToolCall, and talk_to_user calls live in their
// own category entirely, so pairing must work from both directions.
func selectForCompaction(messages []convo.Message, target int) []int {
	byCategory := map[Category][]int{}
	for i, m := range messages {
		byCategory[Categorize(m)] = append(byCategory[Categorize(m)], i)
	}

	pairs := pairToolCalls(messages)

	selected := map[int]bool{}
	count := 0
	for _, cat := range compactionPriority {
		if count >= target {
			break
		}
		idxs := byCategory[cat]
		if len(idxs) == 0 {
			continue
		}
		keepNewest := int(math.Ceil(float64(len(idxs)) * newestKeepRatio))
		eligible := idxs
		if keepNewest > 0 && keepNewest < len(idxs) {
			eligible = idxs[:len(idxs)-keepNewest]
		} else if keepNewest >= len(idxs) {
			eligible = nil
		}
		for _, idx := range eligible {
			if count >= target {
				break
			}
			if selected[idx] {
				continue
			}
			selected[idx] = true
			count++
			if pairIdx, ok := pairs[idx]; ok && !selected[pairIdx] {
				selected[pairIdx] = true
				count++
			}
		}
	}

	out := make([]int, 0, len(selected))
	for idx := range selected {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// pairToolCalls maps between a ToolCall message's index and its paired
// function_call_output's index, matching by call_id within a 10-message
// lookahead, per §4.G. The map is bidirectional: both call->output and
// output->call entries are present, so a lookup from either side of the
// pair finds the other.
func pairToolCalls(messages []convo.Message) map[int]int {
	pairs := map[int]int{}
	for i, m := range messages {
		if m.Type != convo.TypeFunctionCall {
			continue
		}
		limit := i + 1 + lookaheadMessages
		if limit > len(messages) {
			limit = len(messages)
		}
		for j := i + 1; j < limit; j++ {
			cand := messages[j]
			if cand.Type == convo.TypeFunctionCallOutput && cand.CallID == m.CallID {
				pairs[i] = j
				pairs[j] = i
				break
			}
		}
	}
	return pairs
}
