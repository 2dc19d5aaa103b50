// Package store persists the small amount of durable state the server keeps
// across restarts: operator settings (such as a switched default model) and a
// search audit log.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// SearchRecord is one row of the audit log.
type SearchRecord struct {
	ID          int64
	SessionID   string
	Query       string
	Model       string
	SourceCount int
	DurationMS  int64
	CreatedAt   time.Time
}

// Open creates or opens the database at dbPath, creating parent directories
// as needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS searches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			query TEXT,
			model TEXT,
			source_count INTEGER,
			duration_ms INTEGER,
			created_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_searches_session ON searches(session_id);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SetSetting upserts a key. An empty value deletes the key so lookups fall
// back to configuration defaults.
func (s *Store) SetSetting(key, value string) error {
	if value == "" {
		_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
		return err
	}
	query := `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	_, err := s.db.Exec(query, key, value, time.Now().UTC())
	return err
}

// GetSetting returns the stored value, or "" when the key is absent.
func (s *Store) GetSetting(key string) (string, error) {
	row := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// RecordSearch appends one audit row. Audit failures are the caller's call to
// log or ignore; they never block the search itself.
func (s *Store) RecordSearch(rec SearchRecord) error {
	query := `INSERT INTO searches (session_id, query, model, source_count, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.Exec(query, rec.SessionID, rec.Query, rec.Model, rec.SourceCount, rec.DurationMS, at)
	return err
}

// RecentSearches returns the newest rows first, at most limit of them.
func (s *Store) RecentSearches(limit int) ([]SearchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, session_id, query, model, source_count, duration_ms, created_at
		FROM searches ORDER BY id DESC LIMIT ?`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchRecord
	for rows.Next() {
		var rec SearchRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Query, &rec.Model,
			&rec.SourceCount, &rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
