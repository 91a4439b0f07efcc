package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fentz26/shipctl/internal/models"
)

// Postgres is the journal on a shared PostgreSQL database, for teams running
// several daemons against one repository.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, pings it and creates the journal table.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Ping checks the database connection is alive.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS shipctl_journal (
			id UUID PRIMARY KEY,
			action TEXT NOT NULL,
			inputs_hash TEXT NOT NULL,
			outcome TEXT NOT NULL,
			target TEXT,
			details TEXT,
			timestamp TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_shipctl_journal_timestamp ON shipctl_journal(timestamp);
	`)
	return err
}

// Write inserts a journal entry.
func (p *Postgres) Write(ctx context.Context, entry models.JournalEntry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO shipctl_journal (id, action, inputs_hash, outcome, target, details, timestamp)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.Action, entry.InputsHash, entry.Outcome, nullIfEmpty(entry.Target), nullIfEmpty(entry.Details), entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// List returns the newest entries first. target filters when non-empty.
func (p *Postgres) List(ctx context.Context, target string, limit int) ([]models.JournalEntry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id::text, action, inputs_hash, outcome, COALESCE(target, ''), COALESCE(details, ''), timestamp
		FROM shipctl_journal
		WHERE $1 = '' OR target = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &e.Target, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
