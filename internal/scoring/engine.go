// Package scoring turns candidates into ranked digest entries: an LLM triage
// verdict per candidate, folded with recency, engagement, preference and
// novelty signals into one audited composite score.
package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"scout/internal/config"
	"scout/internal/core"
	"scout/internal/llm"
	"scout/internal/logger"
)

// TriageCache stores triage verdicts keyed by model and candidate content,
// so reruns of the same window skip paid calls.
type TriageCache interface {
	Get(ctx context.Context, key string) (*core.TriageResult, error)
	Put(ctx context.Context, key string, r *core.TriageResult) error
}

// Engine performs triage calls and composes final scores.
type Engine struct {
	cache TriageCache // nil disables caching
	cfg   config.Scoring
}

// NewEngine builds a scoring engine. Pass a nil cache to disable the triage
// cache.
func NewEngine(cfg config.Scoring, cache TriageCache) *Engine {
	return &Engine{cache: cache, cfg: cfg}
}

// triageResponse is the JSON schema the triage prompt demands.
type triageResponse struct {
	RelevanceScore      float64  `json:"relevance_score"`
	IsRelevant          bool     `json:"is_relevant"`
	IsNovel             bool     `json:"is_novel"`
	ShouldDeepSummarize bool     `json:"should_deep_summarize"`
	Reasoning           string   `json:"reasoning"`
	Categories          []string `json:"categories"`
}

// CacheKey derives the cache key for one (model, candidate) pair from the
// content that feeds the prompt.
func CacheKey(model string, c *core.CandidateRow) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(c.CandidateID))
	h.Write([]byte{0})
	h.Write([]byte(c.Title))
	h.Write([]byte{0})
	h.Write([]byte(c.BodyText))
	return hex.EncodeToString(h.Sum(nil))
}

// CachedTriage consults only the cache for a candidate's verdict under the
// binding's model. Returns nil on a miss or when no cache is configured.
func (e *Engine) CachedTriage(ctx context.Context, c *core.CandidateRow, binding *llm.Binding) (*core.TriageResult, error) {
	if e.cache == nil {
		return nil, nil
	}
	cached, err := e.cache.Get(ctx, CacheKey(binding.Model, c))
	if err != nil || cached == nil {
		return nil, err
	}
	hit := *cached
	hit.FromCache = true
	return &hit, nil
}

// Triage judges one candidate through the given binding, consulting the
// cache first. The returned result is immutable once produced.
func (e *Engine) Triage(ctx context.Context, topic *core.Topic, c *core.CandidateRow, binding *llm.Binding) (*core.TriageResult, error) {
	cached, err := e.CachedTriage(ctx, c, binding)
	if err != nil {
		logger.Warn("triage cache read failed", "candidate_id", c.CandidateID, "error", err)
	} else if cached != nil {
		return cached, nil
	}

	var parsed triageResponse
	req := llm.Request{
		Prompt:      BuildTriagePrompt(topic, c),
		MaxTokens:   1024,
		Temperature: 0.1,
	}
	meta, err := binding.Call(ctx, "triage "+c.CandidateID, req, &parsed)
	if err != nil {
		return nil, err
	}

	result := &core.TriageResult{
		RelevanceScore:      clamp(parsed.RelevanceScore, 0, 1),
		IsRelevant:          parsed.IsRelevant,
		IsNovel:             parsed.IsNovel,
		ShouldDeepSummarize: parsed.ShouldDeepSummarize,
		Reasoning:           parsed.Reasoning,
		Categories:          parsed.Categories,
		InputTokens:         meta.InputTokens,
		OutputTokens:        meta.OutputTokens,
		Provider:            meta.Provider,
		Model:               meta.Model,
	}

	if e.cache != nil {
		if err := e.cache.Put(ctx, CacheKey(binding.Model, c), result); err != nil {
			logger.Warn("triage cache write failed", "candidate_id", c.CandidateID, "error", err)
		}
	}
	return result, nil
}

// TriageVariant judges a candidate under an explicit A/B variant
// configuration. It bypasses the cache in both directions so every variant
// answers from a live call and comparisons stay apples-to-apples.
func (e *Engine) TriageVariant(ctx context.Context, topic *core.Topic, c *core.CandidateRow, binding *llm.Binding, v core.AbtestVariant) (*core.TriageResult, error) {
	var parsed triageResponse
	req := llm.Request{
		Prompt:          BuildTriagePrompt(topic, c),
		MaxTokens:       v.MaxTokens,
		Temperature:     0.1,
		ReasoningEffort: v.ReasoningEffort,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 1024
	}
	meta, err := binding.Call(ctx, fmt.Sprintf("abtest %s %s", v.Name, c.CandidateID), req, &parsed)
	if err != nil {
		return nil, err
	}
	return &core.TriageResult{
		RelevanceScore:      clamp(parsed.RelevanceScore, 0, 1),
		IsRelevant:          parsed.IsRelevant,
		IsNovel:             parsed.IsNovel,
		ShouldDeepSummarize: parsed.ShouldDeepSummarize,
		Reasoning:           parsed.Reasoning,
		Categories:          parsed.Categories,
		InputTokens:         meta.InputTokens,
		OutputTokens:        meta.OutputTokens,
		Provider:            meta.Provider,
		Model:               meta.Model,
	}, nil
}

// ScoreContext carries the per-window state one score depends on.
type ScoreContext struct {
	Topic            *core.Topic
	Profile          *core.PreferenceProfile // nil when no feedback exists yet
	SourceWeight     float64
	RecentEmbeddings [][]float64
	Signal01         float64 // external amplification bonus, 0 when absent
	Now              time.Time
}

// ScoreCandidate composes the full score breakdown for one candidate. A
// failed triage (triageErr non-nil, triage nil) zeroes the AI term and flags
// the record for operator visibility; the candidate is still scored on its
// remaining signals, never dropped.
func (e *Engine) ScoreCandidate(c *core.CandidateRow, triage *core.TriageResult, triageErr error, sc ScoreContext) core.ScoreDebugRecord {
	age := sc.Now.Sub(c.CandidateAt)

	inputs := core.ScoreInputs{
		Recency01:    Recency01(age, e.cfg.RecencyHalfLifeHours),
		Engagement01: Engagement01(c.Engagement),
		Novelty01:    Novelty01(c.Embedding, sc.RecentEmbeddings),
		Signal01:     sc.Signal01,
	}
	inputs.HeuristicScore = Heuristic(inputs.Recency01, inputs.Engagement01)
	if triage != nil {
		inputs.AIScore = triage.RelevanceScore
	}

	sampleCount := 0
	if sc.Profile != nil && len(sc.Profile.Vector) > 0 {
		inputs.PreferenceScore = cosine(c.Embedding, sc.Profile.Vector)
		sampleCount = sc.Profile.SampleCount
	}

	weights := core.ScoreWeights{
		AI:        e.cfg.WeightAI,
		Heuristic: e.cfg.WeightHeuristic,
		Pref:      e.cfg.WeightPref,
		Novelty:   e.cfg.WeightNovelty,
		Signal:    e.cfg.WeightSignal,
	}
	multipliers := core.ScoreMultipliers{
		SourceWeight:         ClampSourceWeight(sc.SourceWeight),
		UserPreferenceWeight: UserPreferenceWeight(sampleCount, inputs.PreferenceScore, e.cfg.PrefConfidenceK, e.cfg.PrefConfidenceGain),
		DecayMultiplier:      DecayMultiplier(age, sc.Topic.DecayHours),
	}

	record := Compose(inputs, weights, multipliers)
	if triageErr != nil {
		record.TriageFailed = true
		record.TriageError = triageErr.Error()
	}
	return record
}
