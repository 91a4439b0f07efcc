package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/shipctl/internal/models"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func entry(action, target string, ts time.Time) models.JournalEntry {
	return models.JournalEntry{
		ID:         uuid.NewString(),
		Action:     action,
		InputsHash: "abc",
		Outcome:    "success",
		Target:     target,
		Timestamp:  ts,
	}
}

func TestJournalWriteList(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		target := "api"
		if i%2 == 1 {
			target = "worker"
		}
		if err := s.Write(ctx, entry(fmt.Sprintf("action.%d", i), target, start.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	all, err := s.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 entries, got %d", len(all))
	}
	if all[0].Action != "action.4" {
		t.Errorf("Expected newest entry first, got %s", all[0].Action)
	}

	api, err := s.List(ctx, "api", 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(api) != 2 {
		t.Fatalf("Expected 2 api entries, got %d", len(api))
	}
	for _, e := range api {
		if e.Target != "api" {
			t.Errorf("Unexpected target %s", e.Target)
		}
	}
}

func TestJournalEmptyOptionalFields(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	e := entry("refresh", "", time.Now())
	if err := s.Write(ctx, e); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := s.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != e.ID || got[0].Target != "" || got[0].Details != "" {
		t.Errorf("Unexpected entries: %+v", got)
	}
}

func TestPostgresJournal(t *testing.T) {
	dsn := os.Getenv("SHIPCTL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SHIPCTL_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	p, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres failed: %v", err)
	}
	defer p.Close()

	target := "test-" + uuid.NewString()
	e := entry("workflow.dispatch", target, time.Now().UTC())
	if err := p.Write(ctx, e); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := p.List(ctx, target, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != e.ID {
		t.Errorf("Unexpected entries: %+v", got)
	}
}

func newTestStore(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}
