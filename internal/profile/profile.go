// Package profile maintains the per-(user, topic) preference vector learned
// from feedback. Updates follow an exponential moving average so recent
// feedback has bounded influence, and vectors stay unit-normalized.
package profile

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"scout/internal/core"
	"scout/internal/logger"
	"scout/internal/persistence"
)

// DefaultLearningRate is the EMA step size when none is configured.
const DefaultLearningRate = 0.15

// Store records feedback events and keeps profiles in sync with them.
type Store struct {
	profiles persistence.ProfileRepository
	feedback persistence.FeedbackRepository
	items    persistence.CandidateRepository
	rate     float64
	now      func() time.Time
}

// NewStore builds a profile store. A non-positive learning rate falls back
// to the default.
func NewStore(db persistence.Database, learningRate float64) *Store {
	if learningRate <= 0 {
		learningRate = DefaultLearningRate
	}
	return &Store{
		profiles: db.Profiles(),
		feedback: db.Feedback(),
		items:    db.Candidates(),
		rate:     learningRate,
		now:      time.Now,
	}
}

// Fold applies one feedback action to a profile vector, returning the updated
// unit-normalized vector and sample count. A skip, or a missing embedding,
// leaves both unchanged. This is the single update rule used by incremental
// application and rebuild, which is what makes the two paths equivalent.
func Fold(vector []float64, sampleCount int, action core.FeedbackAction, embedding []float64, rate float64) ([]float64, int) {
	if action == core.FeedbackSkip || len(embedding) == 0 {
		return vector, sampleCount
	}

	direction := 1.0
	if action == core.FeedbackDislike {
		direction = -1
	}

	var updated []float64
	if len(vector) == 0 {
		updated = make([]float64, len(embedding))
		for i, v := range embedding {
			updated[i] = direction * v
		}
	} else {
		if len(vector) != len(embedding) {
			return vector, sampleCount
		}
		updated = make([]float64, len(vector))
		for i := range vector {
			updated[i] = (1-rate)*vector[i] + direction*rate*embedding[i]
		}
	}

	return normalize(updated), sampleCount + 1
}

func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// RecordFeedback persists a feedback event and folds it into the profile.
// Recording never fails because of a missing embedding: the profile update
// is skipped and the event still lands in the audit trail.
func (s *Store) RecordFeedback(ctx context.Context, e *core.FeedbackEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if err := validAction(e.Action); err != nil {
		return err
	}

	if err := s.feedback.Insert(ctx, e); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}

	if e.Action == core.FeedbackSkip {
		return nil
	}

	embedding, err := s.items.ItemEmbedding(ctx, e.ContentItemID)
	if err != nil {
		logger.Warn("feedback recorded but embedding lookup failed, skipping profile update",
			"content_item_id", e.ContentItemID, "error", err)
		return nil
	}
	if len(embedding) == 0 {
		logger.Debug("feedback item has no embedding, skipping profile update",
			"content_item_id", e.ContentItemID)
		return nil
	}

	current, err := s.profiles.Get(ctx, e.UserID, e.TopicID)
	if err != nil {
		return fmt.Errorf("failed to load preference profile: %w", err)
	}
	p := current
	if p == nil {
		p = &core.PreferenceProfile{UserID: e.UserID, TopicID: e.TopicID}
	}

	p.Vector, p.SampleCount = Fold(p.Vector, p.SampleCount, e.Action, embedding, s.rate)
	p.UpdatedAt = s.now().UTC()
	if err := s.profiles.Upsert(ctx, p); err != nil {
		return fmt.Errorf("failed to store preference profile: %w", err)
	}
	return nil
}

// DeleteFeedback removes an event and rebuilds the profile from the remaining
// history, so the result matches what incremental application would have
// produced had the event never happened.
func (s *Store) DeleteFeedback(ctx context.Context, id string) error {
	event, err := s.feedback.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load feedback event: %w", err)
	}
	if event == nil {
		return core.NewError(core.ErrKindValidation, "feedback event not found: "+id, nil)
	}

	if err := s.feedback.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete feedback event: %w", err)
	}
	return s.Rebuild(ctx, event.UserID, event.TopicID)
}

// Rebuild replays the full feedback history for (user, topic) through the
// same fold rule incremental updates use.
func (s *Store) Rebuild(ctx context.Context, userID, topicID string) error {
	events, err := s.feedback.ListByUserTopic(ctx, userID, topicID)
	if err != nil {
		return fmt.Errorf("failed to list feedback history: %w", err)
	}

	p := &core.PreferenceProfile{UserID: userID, TopicID: topicID}
	for _, e := range events {
		if e.Action == core.FeedbackSkip {
			continue
		}
		embedding, err := s.items.ItemEmbedding(ctx, e.ContentItemID)
		if err != nil {
			return fmt.Errorf("failed to load embedding for replay: %w", err)
		}
		p.Vector, p.SampleCount = Fold(p.Vector, p.SampleCount, e.Action, embedding, s.rate)
	}

	p.UpdatedAt = s.now().UTC()
	if err := s.profiles.Upsert(ctx, p); err != nil {
		return fmt.Errorf("failed to store rebuilt profile: %w", err)
	}
	return nil
}

// Get returns the current profile for (user, topic), or nil when none exists.
func (s *Store) Get(ctx context.Context, userID, topicID string) (*core.PreferenceProfile, error) {
	return s.profiles.Get(ctx, userID, topicID)
}

func validAction(a core.FeedbackAction) error {
	switch a {
	case core.FeedbackLike, core.FeedbackSave, core.FeedbackDislike, core.FeedbackSkip:
		return nil
	}
	return core.NewError(core.ErrKindValidation, fmt.Sprintf("unknown feedback action %q", a), nil)
}
