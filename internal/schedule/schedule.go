// Package schedule decides which digest windows are due for a topic. Two
// windowing policies exist: fixed 8-hour UTC buckets and a catch-up window
// spanning everything since the last digest.
package schedule

import (
	"context"
	"fmt"
	"time"

	"scout/internal/core"
	"scout/internal/persistence"
)

// Windowing policies.
const (
	PolicyFixed3xDaily = "fixed_3x_daily"
	PolicySinceLastRun = "since_last_run"

	bucketLength = 8 * time.Hour
	// minWindow rejects degenerate near-zero catch-up windows.
	minWindow = 60 * time.Second
)

// SchedulableTopic is one (user, topic) pair eligible for scheduling.
type SchedulableTopic struct {
	UserID  string
	TopicID string
}

// Scheduler computes due windows against persisted digest state.
type Scheduler struct {
	db persistence.Database
}

// New builds a scheduler over the database.
func New(db persistence.Database) *Scheduler {
	return &Scheduler{db: db}
}

// GenerateDueWindows returns the windows due for (user, topic) at the given
// instant. Under fixed_3x_daily this is the current 8-hour UTC bucket unless
// a digest for it already exists; under since_last_run it spans from the last
// digest's end (or now−24h when there is none) to now. At most one window is
// returned; an unknown policy falls back to fixed buckets.
func (s *Scheduler) GenerateDueWindows(ctx context.Context, userID string, topic *core.Topic, now time.Time) ([]core.DigestWindow, error) {
	switch topic.Schedule {
	case PolicySinceLastRun:
		return s.sinceLastRun(ctx, userID, topic.ID, now)
	default:
		return s.fixedBucket(ctx, userID, topic.ID, now)
	}
}

// CurrentBucket returns the fixed 8-hour UTC bucket containing now. The
// lower edge is inclusive: a timestamp exactly on a boundary belongs to the
// bucket starting there.
func CurrentBucket(now time.Time) core.DigestWindow {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	bucket := now.Sub(midnight) / bucketLength
	start := midnight.Add(bucket * bucketLength)
	return core.DigestWindow{
		WindowStart: start,
		WindowEnd:   start.Add(bucketLength),
		Mode:        core.DigestModeNormal,
	}
}

func (s *Scheduler) fixedBucket(ctx context.Context, userID, topicID string, now time.Time) ([]core.DigestWindow, error) {
	w := CurrentBucket(now)
	existing, err := s.db.Digests().FindByWindow(ctx, userID, topicID, w.WindowStart, w.WindowEnd, w.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to check for an existing digest: %w", err)
	}
	if existing != nil {
		return nil, nil
	}
	return []core.DigestWindow{w}, nil
}

func (s *Scheduler) sinceLastRun(ctx context.Context, userID, topicID string, now time.Time) ([]core.DigestWindow, error) {
	now = now.UTC()
	last, err := s.db.Digests().FindLatest(ctx, userID, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve the last digest: %w", err)
	}

	start := now.Add(-24 * time.Hour)
	if last != nil {
		start = last.WindowEnd
	}
	if now.Sub(start) < minWindow {
		return nil, nil
	}
	return []core.DigestWindow{{WindowStart: start, WindowEnd: now}}, nil
}

// SchedulableTopics resolves the singleton application user and returns one
// entry per topic they own. When no user exists it returns empty without
// querying topics.
func (s *Scheduler) SchedulableTopics(ctx context.Context) ([]SchedulableTopic, error) {
	user, err := s.db.Users().GetPrimary(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve the primary user: %w", err)
	}
	if user == nil {
		return nil, nil
	}
	return s.SchedulableTopicsFor(ctx, user.ID)
}

// SchedulableTopicsFor returns one entry per topic owned by the given user.
func (s *Scheduler) SchedulableTopicsFor(ctx context.Context, userID string) ([]SchedulableTopic, error) {
	topics, err := s.db.Topics().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	out := make([]SchedulableTopic, 0, len(topics))
	for _, t := range topics {
		out = append(out, SchedulableTopic{UserID: userID, TopicID: t.ID})
	}
	return out, nil
}
