// Package memory backs the Overseer's save_memory/find_memory/delete_memory
// tools (§6) with a queryable SQLite store, distinct from
// internal/transport's append-then-rewrite messages.json log. Grounded on
// the teacher's internal/memory/backend/sqlitevec.Backend (Config/New/init
// schema-and-index style), adapted from vector-embedding recall to plain
// substring search since no embedding model is wired into this domain.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go driver, registers itself as "sqlite"
)

// Term is the memory tier a saved entry belongs to, per §6's
// save_memory(term∈{short,long}, memory).
type Term string

const (
	TermShort Term = "short"
	TermLong  Term = "long"
)

func (t Term) valid() bool { return t == TermShort || t == TermLong }

var ErrNotFound = errors.New("memory: entry not found")

// Entry is one saved memory.
type Entry struct {
	ID        string
	Term      Term
	Content   string
	CreatedAt time.Time
}

// Store persists memories in a SQLite database.
type Store struct {
	db *sql.DB
}

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file path. Empty uses an in-memory
	// database, useful for tests and -test-mode runs.
	Path string
}

// New opens (creating if absent) the memory database at cfg.Path.
func New(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			term TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("memory: create memories table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_memories_term ON memories(term)",
		"CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("memory: create index: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save records a memory under term and returns its id.
func (s *Store) Save(ctx context.Context, term Term, content string) (string, error) {
	if !term.valid() {
		return "", fmt.Errorf("memory: invalid term %q, must be %q or %q", term, TermShort, TermLong)
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, term, content) VALUES (?, ?, ?)`,
		id, string(term), content,
	)
	if err != nil {
		return "", fmt.Errorf("memory: save: %w", err)
	}
	return id, nil
}

// Find returns memories whose content contains any of queries, most
// recent first. An empty queries list returns every memory.
func (s *Store) Find(ctx context.Context, queries []string) ([]Entry, error) {
	sqlText := `SELECT id, term, content, created_at FROM memories`
	args := make([]any, 0, len(queries))
	if len(queries) > 0 {
		clauses := make([]string, 0, len(queries))
		for _, q := range queries {
			clauses = append(clauses, "lower(content) LIKE ?")
			args = append(args, "%"+strings.ToLower(q)+"%")
		}
		sqlText += ` WHERE ` + strings.Join(clauses, " OR ")
	}
	sqlText += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: find: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var term string
		if err := rows.Scan(&e.ID, &term, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		e.Term = Term(term)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes the memory with id under term.
func (s *Store) Delete(ctx context.Context, term Term, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ? AND term = ?`, id, string(term))
	if err != nil {
		return fmt.Errorf("memory: delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("memory: delete: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ShortTermSummaries returns the content of the most recent short-term
// memories, for the System Status message's short_term_memories line.
func (s *Store) ShortTermSummaries(ctx context.Context, limit int) []string {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM memories WHERE term = ? ORDER BY created_at DESC LIMIT ?`,
		string(TermShort), limit,
	)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return out
		}
		out = append(out, content)
	}
	return out
}
