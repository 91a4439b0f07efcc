// Package store persists the shipctl action journal.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fentz26/shipctl/internal/models"
)

// DefaultListLimit caps List when no positive limit is given.
const DefaultListLimit = 50

// Store is the SQLite-backed journal.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS journal (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		target TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_timestamp ON journal(timestamp);
	CREATE INDEX IF NOT EXISTS idx_journal_target ON journal(target);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Write inserts a journal entry.
func (s *Store) Write(ctx context.Context, entry models.JournalEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (id, action, inputs_hash, outcome, target, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.InputsHash, entry.Outcome, entry.Target, entry.Details, entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// List returns the newest entries first. target filters when non-empty.
func (s *Store) List(ctx context.Context, target string, limit int) ([]models.JournalEntry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT id, action, inputs_hash, outcome, target, details, timestamp FROM journal`
	args := []interface{}{}
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var target, details sql.NullString
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &target, &details, &ts); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Target = target.String
		e.Details = details.String
		e.Timestamp = ts
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
