package schedule

import (
	"context"
	"testing"
	"time"

	"scout/internal/core"
	"scout/internal/persistence"
)

func TestCurrentBucket_Boundaries(t *testing.T) {
	tests := []struct {
		name          string
		now           time.Time
		expectedStart time.Time
	}{
		{"mid-morning", time.Date(2026, 3, 20, 10, 30, 0, 0, time.UTC), time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC)},
		{"exactly 08:00 belongs to the bucket starting there", time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC), time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC)},
		{"exactly midnight", time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)},
		{"one second before 16:00", time.Date(2026, 3, 20, 15, 59, 59, 0, time.UTC), time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC)},
		{"evening bucket", time.Date(2026, 3, 20, 23, 59, 59, 0, time.UTC), time.Date(2026, 3, 20, 16, 0, 0, 0, time.UTC)},
		{"non-UTC input is normalized", time.Date(2026, 3, 20, 3, 0, 0, 0, time.FixedZone("CET", 3600)), time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := CurrentBucket(tt.now)
			if !w.WindowStart.Equal(tt.expectedStart) {
				t.Errorf("expected start %v, got %v", tt.expectedStart, w.WindowStart)
			}
			if w.WindowEnd.Sub(w.WindowStart) != 8*time.Hour {
				t.Errorf("expected an 8-hour bucket, got %v", w.WindowEnd.Sub(w.WindowStart))
			}
			if w.Mode != core.DigestModeNormal {
				t.Errorf("fixed buckets must carry mode %q, got %q", core.DigestModeNormal, w.Mode)
			}
		})
	}
}

func TestGenerateDueWindows_FixedModeSkipsExistingDigest(t *testing.T) {
	db := persistence.NewMemoryDB()
	s := New(db)
	topic := &core.Topic{ID: "t1", Schedule: PolicyFixed3xDaily}
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)

	windows, err := s.GenerateDueWindows(context.Background(), "u1", topic, now)
	if err != nil {
		t.Fatalf("GenerateDueWindows failed: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected one due window, got %d", len(windows))
	}

	// Persist a digest for that window; the same instant is no longer due.
	db.DigestsByID["d1"] = core.Digest{
		ID: "d1", UserID: "u1", TopicID: "t1",
		WindowStart: windows[0].WindowStart, WindowEnd: windows[0].WindowEnd,
		Mode: core.DigestModeNormal, Status: core.DigestStatusCompleted,
	}

	windows, err = s.GenerateDueWindows(context.Background(), "u1", topic, now)
	if err != nil {
		t.Fatalf("GenerateDueWindows failed: %v", err)
	}
	if len(windows) != 0 {
		t.Errorf("an already-generated bucket must not be due again, got %d windows", len(windows))
	}
}

func TestGenerateDueWindows_UnknownPolicyFallsBackToFixed(t *testing.T) {
	db := persistence.NewMemoryDB()
	s := New(db)
	topic := &core.Topic{ID: "t1", Schedule: "hourly"}
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)

	windows, err := s.GenerateDueWindows(context.Background(), "u1", topic, now)
	if err != nil {
		t.Fatalf("GenerateDueWindows failed: %v", err)
	}
	if len(windows) != 1 || windows[0].Mode != core.DigestModeNormal {
		t.Errorf("unknown policies must fall back to fixed buckets, got %+v", windows)
	}
}

func TestGenerateDueWindows_SinceLastRun(t *testing.T) {
	db := persistence.NewMemoryDB()
	s := New(db)
	topic := &core.Topic{ID: "t1", Schedule: PolicySinceLastRun}
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)

	// No prior digest: the window spans the trailing 24 hours.
	windows, err := s.GenerateDueWindows(context.Background(), "u1", topic, now)
	if err != nil {
		t.Fatalf("GenerateDueWindows failed: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected one window, got %d", len(windows))
	}
	if !windows[0].WindowStart.Equal(now.Add(-24 * time.Hour)) || !windows[0].WindowEnd.Equal(now) {
		t.Errorf("expected a trailing 24h window, got %+v", windows[0])
	}
	if windows[0].Mode != "" {
		t.Errorf("catch-up windows must not carry a mode tag, got %q", windows[0].Mode)
	}

	// With a prior digest, the window starts where it ended.
	lastEnd := now.Add(-3 * time.Hour)
	db.DigestsByID["d1"] = core.Digest{
		ID: "d1", UserID: "u1", TopicID: "t1",
		WindowStart: lastEnd.Add(-8 * time.Hour), WindowEnd: lastEnd,
		Status: core.DigestStatusCompleted,
	}
	windows, err = s.GenerateDueWindows(context.Background(), "u1", topic, now)
	if err != nil {
		t.Fatalf("GenerateDueWindows failed: %v", err)
	}
	if len(windows) != 1 || !windows[0].WindowStart.Equal(lastEnd) {
		t.Errorf("expected the window to start at the last digest's end, got %+v", windows)
	}
}

func TestGenerateDueWindows_SinceLastRunRejectsDegenerateWindows(t *testing.T) {
	db := persistence.NewMemoryDB()
	s := New(db)
	topic := &core.Topic{ID: "t1", Schedule: PolicySinceLastRun}
	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)

	db.DigestsByID["d1"] = core.Digest{
		ID: "d1", UserID: "u1", TopicID: "t1",
		WindowStart: now.Add(-8 * time.Hour), WindowEnd: now.Add(-45 * time.Second),
		Status: core.DigestStatusCompleted,
	}

	windows, err := s.GenerateDueWindows(context.Background(), "u1", topic, now)
	if err != nil {
		t.Fatalf("GenerateDueWindows failed: %v", err)
	}
	if len(windows) != 0 {
		t.Errorf("windows shorter than a minute must be suppressed, got %+v", windows)
	}

	// Exactly 60 seconds passes the threshold.
	db.DigestsByID["d1"] = core.Digest{
		ID: "d1", UserID: "u1", TopicID: "t1",
		WindowStart: now.Add(-8 * time.Hour), WindowEnd: now.Add(-60 * time.Second),
		Status: core.DigestStatusCompleted,
	}
	windows, err = s.GenerateDueWindows(context.Background(), "u1", topic, now)
	if err != nil {
		t.Fatalf("GenerateDueWindows failed: %v", err)
	}
	if len(windows) != 1 {
		t.Errorf("a window of exactly 60 seconds is due, got %+v", windows)
	}
}

func TestSchedulableTopics(t *testing.T) {
	db := persistence.NewMemoryDB()
	s := New(db)

	// No user at all: empty, without an error.
	topics, err := s.SchedulableTopics(context.Background())
	if err != nil {
		t.Fatalf("SchedulableTopics failed: %v", err)
	}
	if len(topics) != 0 {
		t.Errorf("expected no schedulable topics without a user, got %d", len(topics))
	}

	db.UsersByID["u1"] = core.User{ID: "u1", MonthlyCreditLimit: 100}
	db.PrimaryUserID = "u1"
	db.TopicsByID["t1"] = core.Topic{ID: "t1", UserID: "u1", Name: "go"}
	db.TopicsByID["t2"] = core.Topic{ID: "t2", UserID: "u1", Name: "db"}
	db.TopicsByID["tx"] = core.Topic{ID: "tx", UserID: "other", Name: "misc"}

	topics, err = s.SchedulableTopics(context.Background())
	if err != nil {
		t.Fatalf("SchedulableTopics failed: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics for the primary user, got %d", len(topics))
	}
	for _, st := range topics {
		if st.UserID != "u1" {
			t.Errorf("unexpected user %q in schedulable topics", st.UserID)
		}
	}
}
