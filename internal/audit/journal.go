// Package audit records user-initiated actions (triggers, cancels,
// credential changes) in a journal.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/shipctl/internal/models"
)

// Sink persists journal entries. Implemented by *store.Store and *store.Postgres.
type Sink interface {
	Write(ctx context.Context, entry models.JournalEntry) error
	List(ctx context.Context, target string, limit int) ([]models.JournalEntry, error)
}

// Journal writes action records.
type Journal struct {
	sink Sink
	now  func() time.Time
}

// NewJournal creates a journal over sink. A nil sink discards records.
func NewJournal(sink Sink) *Journal {
	return &Journal{sink: sink, now: time.Now}
}

// Record writes an entry for an action. inputs are hashed, not stored.
func (j *Journal) Record(ctx context.Context, action string, inputs interface{}, outcome, target, details string) (*models.JournalEntry, error) {
	entry := models.JournalEntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: hashInputs(inputs),
		Outcome:    outcome,
		Target:     target,
		Details:    details,
		Timestamp:  j.now().UTC(),
	}
	if j.sink == nil {
		return &entry, nil
	}
	if err := j.sink.Write(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// History returns the newest entries, optionally for one target.
func (j *Journal) History(ctx context.Context, target string, limit int) ([]models.JournalEntry, error) {
	if j.sink == nil {
		return []models.JournalEntry{}, nil
	}
	return j.sink.List(ctx, target, limit)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
