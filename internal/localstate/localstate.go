// Package localstate persists the device's believed-active session across
// process restarts. The stored info is never trusted directly; the
// reconciler re-validates it against the remote attendance record first.
package localstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"geoattend/internal/session"
)

// Store holds at most one ActiveSessionInfo per student.
type Store interface {
	// Load returns the persisted info, or (nil, nil) when none exists.
	Load(ctx context.Context, studentID string) (*session.ActiveSessionInfo, error)
	// Save upserts the info for a student.
	Save(ctx context.Context, studentID string, info session.ActiveSessionInfo) error
	// Clear removes any persisted info. No-op when nothing is stored.
	Clear(ctx context.Context, studentID string) error
}

// SQLite is the on-device implementation.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and initializes) the local state database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS active_session (
			student_id TEXT PRIMARY KEY,
			payload    TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Load implements Store.
func (s *SQLite) Load(ctx context.Context, studentID string) (*session.ActiveSessionInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM active_session WHERE student_id = ?`, studentID)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var info session.ActiveSessionInfo
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Save implements Store.
func (s *SQLite) Save(ctx context.Context, studentID string, info session.ActiveSessionInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO active_session (student_id, payload) VALUES (?, ?)
		ON CONFLICT (student_id) DO UPDATE SET payload = excluded.payload
	`, studentID, string(payload))
	return err
}

// Clear implements Store.
func (s *SQLite) Clear(ctx context.Context, studentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM active_session WHERE student_id = ?`, studentID)
	return err
}

// Memory is an in-process Store for tests and ephemeral dev runs.
type Memory struct {
	mu   sync.Mutex
	data map[string]session.ActiveSessionInfo
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]session.ActiveSessionInfo)}
}

// Load implements Store.
func (m *Memory) Load(ctx context.Context, studentID string) (*session.ActiveSessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.data[studentID]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

// Save implements Store.
func (m *Memory) Save(ctx context.Context, studentID string, info session.ActiveSessionInfo) error {
	m.mu.Lock()
	m.data[studentID] = info
	m.mu.Unlock()
	return nil
}

// Clear implements Store.
func (m *Memory) Clear(ctx context.Context, studentID string) error {
	m.mu.Lock()
	delete(m.data, studentID)
	m.mu.Unlock()
	return nil
}
