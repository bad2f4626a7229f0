// Package persistence provides the database abstraction for the digest pipeline.
// All dynamic values are bound parameters; nothing is interpolated into SQL.
package persistence

import (
	"context"
	"time"

	"scout/internal/core"
)

// WindowItem is one raw content item inside a candidate window, before
// cluster grouping. The aggregator folds these into core.CandidateRow values.
type WindowItem struct {
	ContentItemID    string
	ClusterID        string // empty when the item belongs to no cluster
	RepresentativeID string // the cluster's designated representative, empty when none
	SourceID         string
	SourceType       string
	SourceName       string
	Title            string
	BodyText         string
	CanonicalURL     string
	Author           string
	PublishedAt      *time.Time
	FetchedAt        time.Time
	Engagement       float64
	Embedding        []float64
}

// CandidateAt is the timestamp used for window membership and ordering.
func (w WindowItem) CandidateAt() time.Time {
	if w.PublishedAt != nil {
		return *w.PublishedAt
	}
	return w.FetchedAt
}

// UserRepository resolves user accounts and their budgets.
type UserRepository interface {
	// Get retrieves a user by ID.
	Get(ctx context.Context, id string) (*core.User, error)

	// GetPrimary retrieves the singleton application user, or nil when no
	// user exists.
	GetPrimary(ctx context.Context) (*core.User, error)
}

// TopicRepository handles topic persistence.
type TopicRepository interface {
	// Get retrieves a topic by ID.
	Get(ctx context.Context, id string) (*core.Topic, error)

	// ListByUser retrieves all topics owned by a user.
	ListByUser(ctx context.Context, userID string) ([]core.Topic, error)
}

// SourceRepository handles source persistence.
type SourceRepository interface {
	// WeightsByTopic returns the operator-configured weight for every enabled
	// source attached to a topic, keyed by source ID.
	WeightsByTopic(ctx context.Context, topicID string) (map[string]float64, error)
}

// CandidateRepository reads the raw material for candidate aggregation.
type CandidateRepository interface {
	// ListWindowItems retrieves content items from enabled sources of a topic
	// whose coalesce(publishedAt, fetchedAt) falls in [start, end), excluding
	// soft-deleted items and items marked as duplicates. Cluster membership
	// and representative assignments come back joined onto each row.
	ListWindowItems(ctx context.Context, topicID string, start, end time.Time) ([]WindowItem, error)

	// RecentEmbeddings returns embeddings of the most recently seen candidates
	// for a topic, newest first, for novelty comparison.
	RecentEmbeddings(ctx context.Context, topicID string, limit int) ([][]float64, error)

	// ItemEmbedding returns the stored embedding for one content item, or nil
	// when the item has none.
	ItemEmbedding(ctx context.Context, contentItemID string) ([]float64, error)
}

// DigestRepository handles digest persistence.
type DigestRepository interface {
	// Create inserts a new digest record.
	Create(ctx context.Context, d *core.Digest) error

	// Get retrieves a digest by ID.
	Get(ctx context.Context, id string) (*core.Digest, error)

	// FindByWindow retrieves the digest matching the scheduling uniqueness
	// tuple, or nil when none exists.
	FindByWindow(ctx context.Context, userID, topicID string, start, end time.Time, mode string) (*core.Digest, error)

	// FindLatest retrieves the most recent digest for (user, topic) by window
	// end, or nil when none exists.
	FindLatest(ctx context.Context, userID, topicID string) (*core.Digest, error)

	// UpdateStatus updates status, error text and completion time.
	UpdateStatus(ctx context.Context, id, status, errText string, completedAt time.Time) error

	// Complete marks the digest completed and stores its ranked items in one
	// transaction.
	Complete(ctx context.Context, d *core.Digest, items []core.DigestItem) error

	// ListItems retrieves the ranked items of a digest.
	ListItems(ctx context.Context, digestID string) ([]core.DigestItem, error)

	// List retrieves recent digests for a user, newest first.
	List(ctx context.Context, userID string, limit int) ([]core.Digest, error)
}

// ProfileRepository handles preference profile persistence.
type ProfileRepository interface {
	// Get retrieves the profile for (user, topic), or nil when none exists.
	Get(ctx context.Context, userID, topicID string) (*core.PreferenceProfile, error)

	// Upsert creates or replaces the profile for (user, topic).
	Upsert(ctx context.Context, p *core.PreferenceProfile) error
}

// FeedbackRepository handles feedback event persistence.
type FeedbackRepository interface {
	// Insert records a feedback event.
	Insert(ctx context.Context, e *core.FeedbackEvent) error

	// ListByUserTopic retrieves all events for (user, topic) ordered by
	// CreatedAt ascending, the replay order for profile rebuilds.
	ListByUserTopic(ctx context.Context, userID, topicID string) ([]core.FeedbackEvent, error)

	// Get retrieves one event by ID, or nil when it does not exist.
	Get(ctx context.Context, id string) (*core.FeedbackEvent, error)

	// Delete removes a feedback event (undo).
	Delete(ctx context.Context, id string) error
}

// ProviderCallRepository handles the external-call audit trail.
type ProviderCallRepository interface {
	// Insert appends one provider call audit record.
	Insert(ctx context.Context, c *core.ProviderCall) error

	// SumCostInRange sums cost credits for a user over [start, end).
	SumCostInRange(ctx context.Context, userID string, start, end time.Time) (float64, error)
}

// AbtestRepository handles A/B run persistence. Results are append-only.
type AbtestRepository interface {
	// CreateRun inserts a new run record.
	CreateRun(ctx context.Context, run *core.AbtestRun) error

	// UpdateRunStatus updates the run status and finish time.
	UpdateRunStatus(ctx context.Context, runID, status string, finishedAt time.Time) error

	// GetRun retrieves a run by ID, or nil when it does not exist.
	GetRun(ctx context.Context, runID string) (*core.AbtestRun, error)

	// InsertItem stores one frozen snapshot candidate.
	InsertItem(ctx context.Context, item *core.AbtestItem) error

	// InsertResult appends one (item × variant) result row.
	InsertResult(ctx context.Context, r *core.AbtestResult) error

	// ListResults retrieves all result rows of a run.
	ListResults(ctx context.Context, runID string) ([]core.AbtestResult, error)
}

// Database is the top-level storage handle exposing typed repositories.
type Database interface {
	Users() UserRepository
	Topics() TopicRepository
	Sources() SourceRepository
	Candidates() CandidateRepository
	Digests() DigestRepository
	Profiles() ProfileRepository
	Feedback() FeedbackRepository
	ProviderCalls() ProviderCallRepository
	Abtests() AbtestRepository

	Ping(ctx context.Context) error
	Close() error
}
