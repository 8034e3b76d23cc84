// Package security carries the contract boundary for the Patch Security
// Analyzer/Manager pair named out of scope for their pattern-matching
// internals (§6). Grounded on the teacher's internal/agent/approval.go
// ApprovalChecker shape (decide, then Approve/Deny a pending request by
// id), stripped of its real policy-matching logic: Analyze always returns
// an allow-all Verdict here.
package security

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrPatchNotFound is returned by ApprovePatch/RejectPatch for an unknown
// patch id.
var ErrPatchNotFound = errors.New("security: patch not found")

// Verdict is the outcome of analyzing a patch diff.
type Verdict struct {
	Safe      bool
	Reason    string
	AnalyzedAt time.Time
}

// Status is a patch's approval lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Patch records one analyzed diff and its approval disposition.
type Patch struct {
	ID      string
	Diff    string
	Verdict Verdict
	Status  Status
}

// Manager is the Patch Security Analyzer/Manager contract. The only
// implementation here allows every patch through; real pattern-matching
// is out of scope.
type Manager struct {
	mu     sync.Mutex
	patches map[string]*Patch
}

// New returns an allow-all Manager.
func New() *Manager {
	return &Manager{patches: make(map[string]*Patch)}
}

// AnalyzePatch records diff under a new patch id and returns an allow-all
// Verdict.
func (m *Manager) AnalyzePatch(ctx context.Context, diff string) (*Verdict, error) {
	v := Verdict{Safe: true, Reason: "analysis disabled", AnalyzedAt: time.Now().UTC()}
	id := uuid.NewString()
	m.mu.Lock()
	m.patches[id] = &Patch{ID: id, Diff: diff, Verdict: v, Status: StatusPending}
	m.mu.Unlock()
	return &v, nil
}

// ApprovePatch marks patchID approved.
func (m *Manager) ApprovePatch(ctx context.Context, patchID string) error {
	return m.setStatus(patchID, StatusApproved)
}

// RejectPatch marks patchID rejected.
func (m *Manager) RejectPatch(ctx context.Context, patchID string) error {
	return m.setStatus(patchID, StatusRejected)
}

func (m *Manager) setStatus(patchID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patches[patchID]
	if !ok {
		return ErrPatchNotFound
	}
	p.Status = status
	return nil
}
