// Package store persists workbench sessions in SQLite: the attached input,
// the finalized documents and the chat history.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"dbtforge/internal/document"
	"dbtforge/internal/ingest"
	"dbtforge/internal/logging"
	"dbtforge/internal/prompt"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// SessionInfo describes one stored session.
type SessionInfo struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Record is everything stored for a session. Missing parts are nil.
type Record struct {
	Info   SessionInfo
	Input  *ingest.Result
	Schema *document.Schema
	Rules  *document.RuleSet
	Turns  []prompt.Turn
}

// Store is a SQLite-backed session store. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Open opens or creates the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("session store ready at %s", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		input_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, kind)
	);

	CREATE TABLE IF NOT EXISTS chat_turns (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		turn_number INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, turn_number)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func now() int64 { return time.Now().UnixMilli() }

// CreateSession registers a session. Creating an existing id is a no-op.
func (s *Store) CreateSession(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO sessions (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, name, ts, ts,
	)
	if err != nil {
		logging.StoreError("Failed to create session %s: %v", id, err)
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// SaveInput stores the attached input for a session.
func (s *Store) SaveInput(id string, input *ingest.Result) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to encode input: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touch(`UPDATE sessions SET input_json = ?, updated_at = ? WHERE id = ?`, id, string(data), now(), id)
}

// SaveDocument stores the finalized document of kind for a session,
// replacing any previous one.
func (s *Store) SaveDocument(id string, kind document.Kind, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	_, err = s.db.Exec(
		`INSERT INTO documents (session_id, kind, body, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, kind) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		id, string(kind), string(data), ts,
	)
	if err != nil {
		logging.StoreError("Failed to save %s for session %s: %v", kind, id, err)
		return fmt.Errorf("failed to save %s: %w", kind, err)
	}
	logging.StoreDebug("saved %s for session %s (%d bytes)", kind, id, len(data))
	return s.touch(`UPDATE sessions SET updated_at = ? WHERE id = ?`, id, ts, id)
}

// AppendTurn adds a chat turn after the last stored one.
func (s *Store) AppendTurn(id string, turn prompt.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	_, err := s.db.Exec(
		`INSERT INTO chat_turns (session_id, turn_number, role, content, created_at)
		 VALUES (?, (SELECT COALESCE(MAX(turn_number), 0) + 1 FROM chat_turns WHERE session_id = ?), ?, ?, ?)`,
		id, id, turn.Role, turn.Content, ts,
	)
	if err != nil {
		logging.StoreError("Failed to store chat turn for %s: %v", id, err)
		return fmt.Errorf("failed to store chat turn: %w", err)
	}
	return s.touch(`UPDATE sessions SET updated_at = ? WHERE id = ?`, id, ts, id)
}

// Turns returns the newest limit turns, oldest first. limit <= 0 means all.
func (s *Store) Turns(id string, limit int) ([]prompt.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turns(id, limit)
}

func (s *Store) turns(id string, limit int) ([]prompt.Turn, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT role, content FROM (
			SELECT turn_number, role, content FROM chat_turns
			WHERE session_id = ? ORDER BY turn_number DESC LIMIT ?
		 ) ORDER BY turn_number ASC`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat turns: %w", err)
	}
	defer rows.Close()

	turns := []prompt.Turn{}
	for rows.Next() {
		var t prompt.Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Sessions lists sessions, most recently updated first.
func (s *Store) Sessions(limit int) ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, name, created_at, updated_at FROM sessions ORDER BY updated_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var created, updated int64
		if err := rows.Scan(&info.ID, &info.Name, &created, &updated); err != nil {
			return nil, err
		}
		info.CreatedAt = time.UnixMilli(created)
		info.UpdatedAt = time.UnixMilli(updated)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Load returns everything stored for id, with at most turnLimit chat turns.
func (s *Store) Load(id string, turnLimit int) (*Record, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Load")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := &Record{Info: SessionInfo{ID: id}}
	var created, updated int64
	var input sql.NullString
	err := s.db.QueryRow(
		`SELECT name, input_json, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&rec.Info.Name, &input, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	rec.Info.CreatedAt = time.UnixMilli(created)
	rec.Info.UpdatedAt = time.UnixMilli(updated)

	if input.Valid && input.String != "" {
		rec.Input = &ingest.Result{}
		if err := json.Unmarshal([]byte(input.String), rec.Input); err != nil {
			return nil, fmt.Errorf("corrupt input for session %s: %w", id, err)
		}
	}

	rows, err := s.db.Query(`SELECT kind, body FROM documents WHERE session_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, body string
		if err := rows.Scan(&kind, &body); err != nil {
			return nil, err
		}
		switch document.Kind(kind) {
		case document.KindSchema:
			if rec.Schema, err = (document.SchemaCodec{}).Parse(body); err != nil {
				return nil, fmt.Errorf("corrupt schema for session %s: %w", id, err)
			}
		case document.KindRuleSet:
			if rec.Rules, err = (document.RuleSetCodec{}).Parse(body); err != nil {
				return nil, fmt.Errorf("corrupt rules for session %s: %w", id, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The pool has one connection; release it before the next query.
	rows.Close()

	if rec.Turns, err = s.turns(id, turnLimit); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a session and everything stored for it.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touch(`DELETE FROM sessions WHERE id = ?`, id, id)
}

// touch runs a statement that must affect the session row.
func (s *Store) touch(query, id string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
