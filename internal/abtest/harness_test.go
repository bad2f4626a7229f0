package abtest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"scout/internal/config"
	"scout/internal/core"
	"scout/internal/llm"
	"scout/internal/persistence"
	"scout/internal/scoring"
)

var windowStart = time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
var windowEnd = time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC)

// matrixProvider fails calls whose model and prompt both match the
// configured markers, simulating one bad (variant, candidate) pair.
type matrixProvider struct {
	failModel  string
	failPrompt string
	calls      int
}

func (p *matrixProvider) Name() string { return "fake" }

func (p *matrixProvider) Generate(ctx context.Context, req llm.Request) (*llm.RawResponse, error) {
	p.calls++
	if req.Model == p.failModel && strings.Contains(req.Prompt, p.failPrompt) {
		return nil, errors.New("simulated pair failure")
	}
	return &llm.RawResponse{
		Text:        `{"relevance_score": 0.6, "is_relevant": true, "reasoning": "ok"}`,
		InputTokens: 150, OutputTokens: 40,
	}, nil
}

func seededDB() *persistence.MemoryDB {
	db := persistence.NewMemoryDB()
	db.UsersByID["u1"] = core.User{ID: "u1", MonthlyCreditLimit: 1000}
	db.TopicsByID["t1"] = core.Topic{ID: "t1", UserID: "u1", Query: "Go internals", DecayHours: 48}
	db.SourcesByID["s1"] = core.Source{ID: "s1", TopicID: "t1", Name: "hn", Type: "forum", Weight: 1, Enabled: true}
	for i, title := range []string{"alpha", "beta", "gamma"} {
		db.Items = append(db.Items, persistence.WindowItem{
			ContentItemID: title, SourceID: "s1", Title: title,
			BodyText:  "body of " + title,
			FetchedAt: windowStart.Add(time.Duration(i+1) * time.Hour),
		})
	}
	return db
}

func newHarness(t *testing.T, db *persistence.MemoryDB, p llm.Provider) *Harness {
	t.Helper()
	router, err := llm.NewWithProviders(time.Minute, p)
	if err != nil {
		t.Fatalf("router construction failed: %v", err)
	}
	engine := scoring.NewEngine(config.Scoring{}, nil)
	return New(db, router, engine)
}

func twoVariants() []core.AbtestVariant {
	return []core.AbtestVariant{
		{Name: "fast", Provider: "fake", Model: "m1"},
		{Name: "deep", Provider: "fake", Model: "m2", ReasoningEffort: "high"},
	}
}

// 3 candidates x 2 variants with one pair forced to fail: exactly 6 result
// rows, exactly one error row, run still completed.
func TestRunOnce_MatrixWithOneFailure(t *testing.T) {
	db := seededDB()
	provider := &matrixProvider{failModel: "m2", failPrompt: "body of beta"}
	h := newHarness(t, db, provider)

	summary := h.RunOnce(context.Background(), RunParams{
		UserID: "u1", TopicID: "t1",
		WindowStart: windowStart, WindowEnd: windowEnd,
		Variants: twoVariants(), MaxItems: 10,
	})

	if summary.Status != core.AbtestStatusCompleted {
		t.Fatalf("a single pair failure must not fail the run, got %s (%s)", summary.Status, summary.Error)
	}
	if summary.Candidates != 3 || summary.Variants != 2 {
		t.Errorf("expected a 3x2 matrix, got %dx%d", summary.Candidates, summary.Variants)
	}
	if summary.Results != 6 {
		t.Errorf("expected exactly 6 result rows, got %d", summary.Results)
	}
	if summary.Errors != 1 {
		t.Errorf("expected exactly 1 error row, got %d", summary.Errors)
	}

	results, err := db.Abtests().ListResults(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("expected 6 persisted rows, got %d", len(results))
	}
	var errRows int
	for _, r := range results {
		if r.Status == core.CallStatusError {
			errRows++
			if r.VariantName != "deep" || r.CandidateID != "beta" {
				t.Errorf("the error row should be the forced pair, got %s/%s", r.VariantName, r.CandidateID)
			}
			if r.Error == "" {
				t.Error("error rows must carry the failure message")
			}
		} else if r.Triage == nil || r.InputTokens == 0 {
			t.Errorf("ok rows must carry the verdict and token counts: %+v", r)
		}
	}
	if errRows != 1 {
		t.Errorf("expected 1 persisted error row, got %d", errRows)
	}

	run, _ := db.Abtests().GetRun(context.Background(), summary.RunID)
	if run.Status != core.AbtestStatusCompleted || run.FinishedAt.IsZero() {
		t.Errorf("the run must be terminal with a timestamp: %+v", run)
	}
}

func TestRunOnce_BypassesCreditLedger(t *testing.T) {
	db := seededDB()
	// Exhaust the budget completely; the harness must not care.
	user := db.UsersByID["u1"]
	user.MonthlyCreditLimit = 0
	db.UsersByID["u1"] = user

	h := newHarness(t, db, &matrixProvider{})
	summary := h.RunOnce(context.Background(), RunParams{
		UserID: "u1", TopicID: "t1",
		WindowStart: windowStart, WindowEnd: windowEnd,
		Variants: twoVariants(), MaxItems: 10,
	})

	if summary.Status != core.AbtestStatusCompleted {
		t.Fatalf("the harness never checks the ledger, got %s (%s)", summary.Status, summary.Error)
	}
	for _, call := range db.Calls {
		if call.CostCredits != 0 {
			t.Errorf("abtest calls must be audited at zero credits, got %v", call.CostCredits)
		}
		if call.Purpose != "abtest" {
			t.Errorf("abtest calls must be marked in the audit trail, got %q", call.Purpose)
		}
	}
	if len(db.Calls) != 6 {
		t.Errorf("expected 6 audited calls, got %d", len(db.Calls))
	}
}

func TestRunOnce_FreezesSnapshot(t *testing.T) {
	db := seededDB()
	h := newHarness(t, db, &matrixProvider{})

	summary := h.RunOnce(context.Background(), RunParams{
		UserID: "u1", TopicID: "t1",
		WindowStart: windowStart, WindowEnd: windowEnd,
		Variants: twoVariants(), MaxItems: 2,
	})
	if summary.Status != core.AbtestStatusCompleted {
		t.Fatalf("run failed: %s", summary.Error)
	}
	if summary.Candidates != 2 {
		t.Errorf("the snapshot must respect MaxItems, got %d", summary.Candidates)
	}
	if items := db.RunItems[summary.RunID]; len(items) != 2 {
		t.Errorf("expected 2 frozen snapshot items, got %d", len(items))
	}
}

func TestRunOnce_UnknownVariantProviderProducesErrorRows(t *testing.T) {
	db := seededDB()
	h := newHarness(t, db, &matrixProvider{})

	summary := h.RunOnce(context.Background(), RunParams{
		UserID: "u1", TopicID: "t1",
		WindowStart: windowStart, WindowEnd: windowEnd,
		Variants: []core.AbtestVariant{
			{Name: "good", Provider: "fake", Model: "m1"},
			{Name: "bad", Provider: "anthropic", Model: "x"},
		},
		MaxItems: 10,
	})

	if summary.Status != core.AbtestStatusCompleted {
		t.Fatalf("an unresolvable variant degrades its own rows only, got %s (%s)", summary.Status, summary.Error)
	}
	if summary.Errors != 3 {
		t.Errorf("every pair under the bad variant errors, got %d", summary.Errors)
	}
	if summary.Results != 6 {
		t.Errorf("the matrix stays complete, got %d rows", summary.Results)
	}
}

func TestRunOnce_ValidationFailures(t *testing.T) {
	db := seededDB()
	h := newHarness(t, db, &matrixProvider{})

	summary := h.RunOnce(context.Background(), RunParams{
		UserID: "u1", TopicID: "t1",
		WindowStart: windowStart, WindowEnd: windowEnd,
		MaxItems:    10,
	})
	if summary.Status != core.AbtestStatusFailed || summary.Error == "" {
		t.Errorf("no variants must fail the run up front: %+v", summary)
	}

	summary = h.RunOnce(context.Background(), RunParams{
		UserID: "u1", TopicID: "missing",
		WindowStart: windowStart, WindowEnd: windowEnd,
		Variants:    twoVariants(), MaxItems: 10,
	})
	if summary.Status != core.AbtestStatusFailed {
		t.Errorf("an unknown topic must fail the run, got %s", summary.Status)
	}
	run, _ := db.Abtests().GetRun(context.Background(), summary.RunID)
	if run == nil || run.Status != core.AbtestStatusFailed {
		t.Error("the failed status must be persisted best-effort")
	}
}

func TestRunOnce_StorageFailureReturnsResultNotPanic(t *testing.T) {
	db := seededDB()
	db.FailStorage = true
	h := newHarness(t, db, &matrixProvider{})

	summary := h.RunOnce(context.Background(), RunParams{
		UserID: "u1", TopicID: "t1",
		WindowStart: windowStart, WindowEnd: windowEnd,
		Variants: twoVariants(), MaxItems: 10,
	})
	if summary.Status != core.AbtestStatusFailed || summary.Error == "" {
		t.Errorf("storage breakdown must surface as a failed result object: %+v", summary)
	}
}
