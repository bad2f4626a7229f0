// Package core contains the shared domain types for the digest pipeline.
package core

import "time"

// CandidateKind distinguishes the two scoring units a window can contain.
type CandidateKind string

const (
	// CandidateKindCluster is a content-item cluster scored via its representative.
	CandidateKindCluster CandidateKind = "cluster"
	// CandidateKindItem is a standalone content item outside any cluster.
	CandidateKindItem CandidateKind = "item"
)

// CandidateRow is one scoring unit inside a digest window: either a cluster
// (represented by its designated representative item) or an unclustered item.
type CandidateRow struct {
	Kind                    CandidateKind `json:"kind"`                      // cluster or item
	CandidateID             string        `json:"candidate_id"`              // cluster ID or content item ID
	CandidateAt             time.Time     `json:"candidate_at"`              // timestamp used for ordering and window membership
	RepresentativeContentID string        `json:"representative_content_id"` // content item backing this row
	ClusterID               string        `json:"cluster_id,omitempty"`      // set only for cluster rows
	SourceID                string        `json:"source_id"`                 // originating source
	SourceType              string        `json:"source_type"`               // e.g. "rss", "forum", "social", "release", "research"
	SourceName              string        `json:"source_name"`               // display name of the source
	Title                   string        `json:"title"`                     // may be empty; titled rows sort first
	BodyText                string        `json:"body_text"`                 // normalized body text
	CanonicalURL            string        `json:"canonical_url"`             // canonical link
	Author                  string        `json:"author"`                    // may be empty
	PublishedAt             *time.Time    `json:"published_at,omitempty"`    // publication time when the source provides one
	Engagement              float64       `json:"engagement"`                // raw popularity signal (score/comment counts), 0 when unknown
	Embedding               []float64     `json:"embedding,omitempty"`       // vector embedding of the representative content
}

// TriageResult is the provider-agnostic output of one triage LLM call.
// It is an immutable audit record: produced per (candidate, variant) pair
// and never mutated after creation.
type TriageResult struct {
	RelevanceScore      float64  `json:"relevance_score"`       // LLM-assigned relevance, 0-1
	IsRelevant          bool     `json:"is_relevant"`           // triage verdict
	IsNovel             bool     `json:"is_novel"`              // whether the item covers genuinely new ground
	ShouldDeepSummarize bool     `json:"should_deep_summarize"` // whether a follow-up summarization call is worthwhile
	Reasoning           string   `json:"reasoning"`             // free-text rationale from the model
	Categories          []string `json:"categories"`            // topic categories assigned by the model
	InputTokens         int      `json:"input_tokens"`          // prompt tokens consumed
	OutputTokens        int      `json:"output_tokens"`         // completion tokens consumed
	Provider            string   `json:"provider"`              // provider actually used
	Model               string   `json:"model"`                 // model actually used
	FromCache           bool     `json:"from_cache"`            // true when served from the local triage cache
}

// ScoreInputs are the raw signals feeding the composite score.
type ScoreInputs struct {
	AIScore         float64 `json:"ai_score"`         // LLM relevance, 0-1; 0 when triage failed
	Recency01       float64 `json:"recency01"`        // age-decayed recency component, 0-1
	Engagement01    float64 `json:"engagement01"`     // normalized popularity signal, 0-1
	HeuristicScore  float64 `json:"heuristic_score"`  // f(recency01, engagement01)
	PreferenceScore float64 `json:"preference_score"` // cosine similarity to the preference profile, 0 without a profile
	Novelty01       float64 `json:"novelty01"`        // 1 - similarity to recently seen candidates
	Signal01        float64 `json:"signal01"`         // optional external amplification bonus, 0 when absent
}

// ScoreWeights is the weight vector applied to the score inputs.
type ScoreWeights struct {
	AI        float64 `json:"w_aha"`       // weight on the AI relevance term
	Heuristic float64 `json:"w_heuristic"` // weight on the recency/engagement heuristic
	Pref      float64 `json:"w_pref"`      // weight on preference similarity
	Novelty   float64 `json:"w_novelty"`   // weight on novelty
	Signal    float64 `json:"w_signal"`    // weight on the external signal bonus
}

// ScoreMultipliers scale the pre-weight subtotal into the final score.
type ScoreMultipliers struct {
	SourceWeight         float64 `json:"source_weight"`          // operator-configured per source, 0.1-3.0
	UserPreferenceWeight float64 `json:"user_preference_weight"` // scale derived from feedback-history richness
	DecayMultiplier      float64 `json:"decay_multiplier"`       // exponential age decay per topic decay-hours
}

// WeightedComponents records each input after its weight is applied.
type WeightedComponents struct {
	AI        float64 `json:"ai"`
	Heuristic float64 `json:"heuristic"`
	Pref      float64 `json:"pref"`
	Novelty   float64 `json:"novelty"`
	Signal    float64 `json:"signal"`
}

// ScoreDebugRecord is the full, reproducible breakdown of one composite score.
// Invariant: FinalScore == PreWeightScore × SourceWeight × UserPreferenceWeight
// × DecayMultiplier, re-derivable bit-for-bit from the stored fields.
type ScoreDebugRecord struct {
	Inputs         ScoreInputs        `json:"inputs"`
	Weights        ScoreWeights       `json:"weights"`
	Components     WeightedComponents `json:"components"`
	BaseScore      float64            `json:"base_score"`       // Σ weighted components excluding signal
	PreWeightScore float64            `json:"pre_weight_score"` // base score plus the weighted signal term
	Multipliers    ScoreMultipliers   `json:"multipliers"`
	FinalScore     float64            `json:"final_score"`
	TriageFailed   bool               `json:"triage_failed"`          // true when the AI term is missing due to a triage failure
	TriageError    string             `json:"triage_error,omitempty"` // operator-visible reason for the missing AI term
}

// PreferenceProfile is the learned embedding summary of a user's accumulated
// feedback for one topic.
type PreferenceProfile struct {
	UserID      string    `json:"user_id"`
	TopicID     string    `json:"topic_id"`
	Vector      []float64 `json:"vector"`       // unit-normalized embedding summary
	SampleCount int       `json:"sample_count"` // number of feedback events folded in
	UpdatedAt   time.Time `json:"updated_at"`
}

// FeedbackAction enumerates the feedback a user can give on a digest item.
type FeedbackAction string

const (
	FeedbackLike    FeedbackAction = "like"
	FeedbackSave    FeedbackAction = "save"
	FeedbackDislike FeedbackAction = "dislike"
	FeedbackSkip    FeedbackAction = "skip"
)

// FeedbackEvent is one recorded user reaction, replayed in CreatedAt order
// when a profile is rebuilt.
type FeedbackEvent struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	TopicID       string         `json:"topic_id"`
	ContentItemID string         `json:"content_item_id"`
	Action        FeedbackAction `json:"action"`
	CreatedAt     time.Time      `json:"created_at"`
}

// CreditUsage is the derived spend state for one user at a point in time.
// Daily fields are nil when no daily limit is configured.
type CreditUsage struct {
	MonthlyUsed      float64  `json:"monthly_used"`
	MonthlyLimit     float64  `json:"monthly_limit"`
	MonthlyRemaining float64  `json:"monthly_remaining"`
	DailyUsed        *float64 `json:"daily_used,omitempty"`
	DailyLimit       *float64 `json:"daily_limit,omitempty"`
	DailyRemaining   *float64 `json:"daily_remaining,omitempty"`
	PaidCallsAllowed bool     `json:"paid_calls_allowed"`
}

// DigestWindow is one scheduled digest time window. Immutable once computed
// for a scheduling run; Mode participates in the digest uniqueness key under
// fixed-window scheduling.
type DigestWindow struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Mode        string    `json:"mode,omitempty"` // "normal" under fixed_3x_daily, empty under since_last_run
}

// Digest statuses.
const (
	DigestStatusPending   = "pending"
	DigestStatusRunning   = "running"
	DigestStatusCompleted = "completed"
	DigestStatusFailed    = "failed"
)

// DigestModeNormal tags windows produced by fixed-bucket scheduling.
// Catch-up windows carry no mode.
const DigestModeNormal = "normal"

// Digest is the persisted, ranked output of one window for one (user, topic).
type Digest struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	TopicID     string    `json:"topic_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Mode        string    `json:"mode,omitempty"`
	Status      string    `json:"status"`
	ItemCount   int       `json:"item_count"`
	CostCredits float64   `json:"cost_credits"` // total spend attributed to this digest
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// DigestItem is one ranked entry inside a completed digest.
type DigestItem struct {
	DigestID      string           `json:"digest_id"`
	Rank          int              `json:"rank"`
	Kind          CandidateKind    `json:"kind"`
	CandidateID   string           `json:"candidate_id"`
	ContentItemID string           `json:"content_item_id"`
	Title         string           `json:"title"`
	CanonicalURL  string           `json:"canonical_url"`
	FinalScore    float64          `json:"final_score"`
	Triage        *TriageResult    `json:"triage,omitempty"`
	ScoreDebug    ScoreDebugRecord `json:"score_debug"`
}

// ProviderCall is the audit record for one external LLM or embedding call.
// Credit usage is aggregated from these rows at check time.
type ProviderCall struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Purpose      string    `json:"purpose"` // triage, summarize, embed, abtest
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostCredits  float64   `json:"cost_credits"` // zero for A/B harness calls and cache hits
	Status       string    `json:"status"`       // ok or error
	LatencyMs    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Topic is the per-user subject a digest is generated for.
type Topic struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	Name       string  `json:"name"`
	Query      string  `json:"query"`       // interest statement fed to triage prompts
	DecayHours float64 `json:"decay_hours"` // score half-life profile; power-user topics decay faster
	Schedule   string  `json:"schedule"`    // windowing policy: fixed_3x_daily or since_last_run
}

// Source is one enabled content source attached to a topic.
type Source struct {
	ID      string  `json:"id"`
	TopicID string  `json:"topic_id"`
	Type    string  `json:"type"`
	Name    string  `json:"name"`
	Weight  float64 `json:"weight"` // operator-configured multiplier, 0.1-3.0
	Enabled bool    `json:"enabled"`
}

// User is the owner of topics and budgets.
type User struct {
	ID                 string   `json:"id"`
	Email              string   `json:"email"`
	MonthlyCreditLimit float64  `json:"monthly_credit_limit"`
	DailyCreditLimit   *float64 `json:"daily_credit_limit,omitempty"`
}

// Per-call and per-result statuses shared by the provider-call audit trail
// and A/B result rows.
const (
	CallStatusOK    = "ok"
	CallStatusError = "error"
)

// Abtest run statuses.
const (
	AbtestStatusPending   = "pending"
	AbtestStatusRunning   = "running"
	AbtestStatusCompleted = "completed"
	AbtestStatusFailed    = "failed"
)

// AbtestVariant is one named LLM configuration compared in an A/B run.
type AbtestVariant struct {
	Name            string `json:"name"`
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	MaxTokens       int    `json:"max_tokens,omitempty"`
}

// AbtestRun pins a frozen candidate snapshot and variant list for offline
// evaluation. Status moves pending → running → completed|failed.
type AbtestRun struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	TopicID     string          `json:"topic_id"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	Variants    []AbtestVariant `json:"variants"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
}

// AbtestItem is one frozen candidate inside an A/B run snapshot.
type AbtestItem struct {
	RunID     string       `json:"run_id"`
	Position  int          `json:"position"`
	Candidate CandidateRow `json:"candidate"`
}

// AbtestResult is the append-only outcome of one (item × variant) triage.
type AbtestResult struct {
	ID           string        `json:"id"`
	RunID        string        `json:"run_id"`
	VariantName  string        `json:"variant_name"`
	CandidateID  string        `json:"candidate_id"`
	Status       string        `json:"status"` // ok or error
	Triage       *TriageResult `json:"triage,omitempty"`
	Error        string        `json:"error,omitempty"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	CostCredits  float64       `json:"cost_credits"` // recorded for audit, always reported as zero
	CreatedAt    time.Time     `json:"created_at"`
}
