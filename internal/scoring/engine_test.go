package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"scout/internal/config"
	"scout/internal/core"
	"scout/internal/llm"
)

func testScoringConfig() config.Scoring {
	return config.Scoring{
		WeightAI: 0.45, WeightHeuristic: 0.2, WeightPref: 0.2,
		WeightNovelty: 0.15, WeightSignal: 0.1,
		RecencyHalfLifeHours: 12, PrefConfidenceK: 12, PrefConfidenceGain: 1,
	}
}

type scriptedProvider struct {
	text string
	err  error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, req llm.Request) (*llm.RawResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.RawResponse{Text: p.text, InputTokens: 100, OutputTokens: 30}, nil
}

type memCache struct {
	entries map[string]*core.TriageResult
}

func newMemCache() *memCache { return &memCache{entries: make(map[string]*core.TriageResult)} }

func (c *memCache) Get(ctx context.Context, key string) (*core.TriageResult, error) {
	return c.entries[key], nil
}

func (c *memCache) Put(ctx context.Context, key string, r *core.TriageResult) error {
	c.entries[key] = r
	return nil
}

func triageBinding(t *testing.T, p llm.Provider) *llm.Binding {
	t.Helper()
	r, err := llm.NewWithProviders(time.Minute, p)
	if err != nil {
		t.Fatalf("router construction failed: %v", err)
	}
	b, err := r.Route(llm.PurposeTriage, llm.TierFast)
	if err != nil {
		t.Fatalf("routing failed: %v", err)
	}
	return b
}

var testTopic = &core.Topic{ID: "t1", Query: "database internals", DecayHours: 48}

func testCandidate() *core.CandidateRow {
	return &core.CandidateRow{
		Kind: core.CandidateKindItem, CandidateID: "c1",
		Title: "B-tree splits explained", BodyText: "page splits and fill factors",
		SourceName: "hn", SourceType: "forum",
		CandidateAt: time.Now().Add(-time.Hour),
	}
}

func TestTriage_ParsesVerdict(t *testing.T) {
	p := &scriptedProvider{text: `{"relevance_score": 0.85, "is_relevant": true, "is_novel": true, "should_deep_summarize": false, "reasoning": "on topic", "categories": ["databases"]}`}
	engine := NewEngine(testScoringConfig(), nil)

	result, err := engine.Triage(context.Background(), testTopic, testCandidate(), triageBinding(t, p))
	if err != nil {
		t.Fatalf("Triage failed: %v", err)
	}
	if result.RelevanceScore != 0.85 || !result.IsRelevant || !result.IsNovel {
		t.Errorf("verdict not carried through: %+v", result)
	}
	if result.InputTokens != 100 || result.OutputTokens != 30 {
		t.Errorf("token accounting missing: %+v", result)
	}
	if result.Provider != "scripted" {
		t.Errorf("expected provider recorded, got %q", result.Provider)
	}
	if result.FromCache {
		t.Error("a live call must not be marked as cached")
	}
}

func TestTriage_ClampsRelevanceScore(t *testing.T) {
	p := &scriptedProvider{text: `{"relevance_score": 3.5, "is_relevant": true}`}
	engine := NewEngine(testScoringConfig(), nil)

	result, err := engine.Triage(context.Background(), testTopic, testCandidate(), triageBinding(t, p))
	if err != nil {
		t.Fatalf("Triage failed: %v", err)
	}
	if result.RelevanceScore != 1 {
		t.Errorf("out-of-range relevance must clamp to 1, got %v", result.RelevanceScore)
	}
}

func TestTriage_SecondCallHitsCache(t *testing.T) {
	p := &scriptedProvider{text: `{"relevance_score": 0.5, "is_relevant": true}`}
	cache := newMemCache()
	engine := NewEngine(testScoringConfig(), cache)
	candidate := testCandidate()

	first, err := engine.Triage(context.Background(), testTopic, candidate, triageBinding(t, p))
	if err != nil {
		t.Fatalf("first Triage failed: %v", err)
	}
	if first.FromCache {
		t.Fatal("first call cannot be a cache hit")
	}

	// The provider now fails; the cached verdict must be served instead.
	p.err = errors.New("provider offline")
	second, err := engine.Triage(context.Background(), testTopic, candidate, triageBinding(t, p))
	if err != nil {
		t.Fatalf("cached Triage failed: %v", err)
	}
	if !second.FromCache {
		t.Error("second call should come from the cache")
	}
	if second.RelevanceScore != first.RelevanceScore {
		t.Error("cached verdict must match the original")
	}
}

func TestCacheKey_SensitiveToModelAndContent(t *testing.T) {
	a := testCandidate()
	b := testCandidate()
	if CacheKey("m1", a) != CacheKey("m1", b) {
		t.Error("identical content must share a key")
	}
	if CacheKey("m1", a) == CacheKey("m2", a) {
		t.Error("different models must not share a key")
	}
	b.BodyText = "changed"
	if CacheKey("m1", a) == CacheKey("m1", b) {
		t.Error("different content must not share a key")
	}
}

func TestScoreCandidate_TriageFailureDegradesGracefully(t *testing.T) {
	engine := NewEngine(testScoringConfig(), nil)
	candidate := testCandidate()
	candidate.Engagement = 40
	sc := ScoreContext{
		Topic:        testTopic,
		SourceWeight: 1.0,
		Now:          time.Now(),
	}

	record := engine.ScoreCandidate(candidate, nil, &core.TimeoutError{Label: "triage c1", Bound: 45 * time.Second}, sc)

	if !record.TriageFailed {
		t.Error("a failed triage must be flagged")
	}
	if record.TriageError == "" {
		t.Error("the failure reason must be operator-visible")
	}
	if record.Inputs.AIScore != 0 || record.Components.AI != 0 {
		t.Error("a failed triage contributes no AI term")
	}
	if record.FinalScore <= 0 {
		t.Error("the candidate still scores on its remaining signals, never dropped")
	}
}

func TestScoreCandidate_ProfileDrivesPreferenceTerm(t *testing.T) {
	engine := NewEngine(testScoringConfig(), nil)
	candidate := testCandidate()
	candidate.Embedding = []float64{1, 0}
	triage := &core.TriageResult{RelevanceScore: 0.7}
	now := time.Now()

	without := engine.ScoreCandidate(candidate, triage, nil, ScoreContext{
		Topic: testTopic, SourceWeight: 1, Now: now,
	})
	if without.Inputs.PreferenceScore != 0 {
		t.Errorf("no profile means preference 0, got %v", without.Inputs.PreferenceScore)
	}
	if without.Multipliers.UserPreferenceWeight != 1 {
		t.Errorf("no profile means a neutral preference multiplier, got %v", without.Multipliers.UserPreferenceWeight)
	}

	with := engine.ScoreCandidate(candidate, triage, nil, ScoreContext{
		Topic:        testTopic,
		Profile:      &core.PreferenceProfile{Vector: []float64{1, 0}, SampleCount: 50},
		SourceWeight: 1,
		Now:          now,
	})
	if with.Inputs.PreferenceScore <= 0.99 {
		t.Errorf("an aligned profile should score near 1, got %v", with.Inputs.PreferenceScore)
	}
	if with.FinalScore <= without.FinalScore {
		t.Error("an aligned, confident profile should raise the final score")
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain text", "hello   world", "hello world"},
		{"markup", "<p>hello <b>world</b></p>", "hello world"},
		{"script removed", "<p>body</p><script>alert(1)</script>", "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.input); got != tt.expected {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
