// Package store is the local SQLite cache for triage verdicts, so rerunning
// a window (or an A/B variant that matches a prior call) skips paid LLM work.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"scout/internal/core"
)

// Store is the SQLite-backed triage cache.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (or creates) the cache database under dataDir.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "scout.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	table := `
	CREATE TABLE IF NOT EXISTS triage_cache (
		cache_key TEXT PRIMARY KEY,
		result TEXT NOT NULL,
		provider TEXT,
		model TEXT,
		created_at DATETIME NOT NULL
	);`
	if _, err := s.db.Exec(table); err != nil {
		return fmt.Errorf("failed to create triage_cache table: %w", err)
	}
	return nil
}

// Get returns the cached triage result for a key, or nil on a miss.
func (s *Store) Get(ctx context.Context, key string) (*core.TriageResult, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT result FROM triage_cache WHERE cache_key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read triage cache: %w", err)
	}

	var result core.TriageResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached triage result: %w", err)
	}
	return &result, nil
}

// Put stores a triage result, replacing any prior entry for the key.
func (s *Store) Put(ctx context.Context, key string, r *core.TriageResult) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode triage result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO triage_cache (cache_key, result, provider, model, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key, string(raw), r.Provider, r.Model, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write triage cache: %w", err)
	}
	return nil
}

// Prune deletes entries older than the retention window and reports how many
// were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM triage_cache WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune triage cache: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
