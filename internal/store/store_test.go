package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scout/internal/core"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	s, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	dbPath := filepath.Join(tmpDir, "scout.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file should be created")
	}
}

func TestNew_InvalidDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	invalidPath := filepath.Join(tmpDir, "file.txt")
	_ = os.WriteFile(invalidPath, []byte("test"), 0644)

	if _, err := New(invalidPath); err == nil {
		t.Error("expected an error when the data dir is a file")
	}
}

func TestGetPut(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	// Miss before any write.
	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected a miss before any write")
	}

	result := &core.TriageResult{
		RelevanceScore: 0.72, IsRelevant: true, Reasoning: "on topic",
		Categories: []string{"databases"}, Provider: "gemini", Model: "gemini-2.5-flash",
		InputTokens: 120, OutputTokens: 40,
	}
	if err := s.Put(ctx, "k1", result); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err = s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a hit after Put")
	}
	if got.RelevanceScore != 0.72 || !got.IsRelevant || got.Model != "gemini-2.5-flash" {
		t.Errorf("cached result does not match: %+v", got)
	}
	if len(got.Categories) != 1 || got.Categories[0] != "databases" {
		t.Errorf("categories not preserved: %v", got.Categories)
	}
}

func TestPut_ReplacesExisting(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if err := s.Put(ctx, "k1", &core.TriageResult{RelevanceScore: 0.2}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, "k1", &core.TriageResult{RelevanceScore: 0.9}); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RelevanceScore != 0.9 {
		t.Errorf("expected the replacement entry, got %v", got.RelevanceScore)
	}
}

func TestPrune(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if err := s.Put(ctx, "fresh", &core.TriageResult{RelevanceScore: 0.5}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// Backdate one entry past the retention window.
	old := time.Now().UTC().Add(-48 * time.Hour)
	if _, err := s.db.Exec(
		"INSERT INTO triage_cache (cache_key, result, created_at) VALUES (?, ?, ?)",
		"stale", "{}", old); err != nil {
		t.Fatalf("backdated insert failed: %v", err)
	}

	removed, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned entry, got %d", removed)
	}
	if got, _ := s.Get(ctx, "fresh"); got == nil {
		t.Error("fresh entries must survive pruning")
	}
	if got, _ := s.Get(ctx, "stale"); got != nil {
		t.Error("stale entries must be pruned")
	}
}
