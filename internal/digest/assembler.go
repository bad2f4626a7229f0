// Package digest orchestrates one digest run: candidates in, triage and
// scoring across them, a ranked persisted digest out. Failures on individual
// candidates degrade that candidate; failures at the job level mark the
// digest failed with a best-effort status write.
package digest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"scout/internal/candidates"
	"scout/internal/config"
	"scout/internal/core"
	"scout/internal/credits"
	"scout/internal/embedding"
	"scout/internal/llm"
	"scout/internal/logger"
	"scout/internal/persistence"
	"scout/internal/scoring"
)

// RunResult is the structured outcome of one digest run. Expected failure
// modes land in Status and Error instead of propagating.
type RunResult struct {
	DigestID       string  `json:"digest_id,omitempty"`
	Status         string  `json:"status"`
	ItemCount      int     `json:"item_count"`
	CostCredits    float64 `json:"cost_credits"`
	TriageFailures int     `json:"triage_failures"`
	Error          string  `json:"error,omitempty"`
}

// Assembler runs digest jobs.
type Assembler struct {
	db         persistence.Database
	router     *llm.Router
	engine     *scoring.Engine
	aggregator *candidates.Aggregator
	ledger     *credits.Ledger
	embedder   embedding.Embedder
	cfg        config.Scoring
	now        func() time.Time
}

// New builds an assembler from its collaborators.
func New(db persistence.Database, router *llm.Router, engine *scoring.Engine, cfg config.Scoring) *Assembler {
	return &Assembler{
		db:         db,
		router:     router,
		engine:     engine,
		aggregator: candidates.New(db.Candidates()),
		ledger:     credits.NewLedger(db.ProviderCalls()),
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithEmbedder attaches an embedding provider used to backfill candidates
// whose stored vector is missing, so their preference and novelty terms do
// not silently degrade. Backfill is best-effort.
func (a *Assembler) WithEmbedder(e embedding.Embedder) *Assembler {
	a.embedder = e
	return a
}

type triaged struct {
	candidate core.CandidateRow
	result    *core.TriageResult
	err       error
	cost      float64
}

// Run executes one digest job for (user, topic, window). Candidates are
// triaged concurrently; ranking and persistence wait until every triage call
// has settled. A denied budget skips paid calls but still produces a digest
// from the remaining signals.
func (a *Assembler) Run(ctx context.Context, userID, topicID string, window core.DigestWindow) *RunResult {
	user, topic, err := a.resolve(ctx, userID, topicID)
	if err != nil {
		return &RunResult{Status: core.DigestStatusFailed, Error: err.Error()}
	}

	d := &core.Digest{
		ID:          uuid.New().String(),
		UserID:      userID,
		TopicID:     topicID,
		WindowStart: window.WindowStart,
		WindowEnd:   window.WindowEnd,
		Mode:        window.Mode,
		Status:      core.DigestStatusRunning,
		CreatedAt:   a.now().UTC(),
	}
	if err := a.db.Digests().Create(ctx, d); err != nil {
		return &RunResult{Status: core.DigestStatusFailed,
			Error: fmt.Sprintf("failed to create digest record: %v", err)}
	}

	result, jobErr := a.assemble(ctx, d, user, topic)
	if jobErr != nil {
		a.markFailed(ctx, d.ID, jobErr)
		return &RunResult{DigestID: d.ID, Status: core.DigestStatusFailed, Error: jobErr.Error()}
	}
	return result
}

// backfillEmbeddings fills missing candidate vectors from the embedding
// provider. A failed embed leaves the vector nil; the candidate then scores
// with a neutral novelty term and no preference term.
func (a *Assembler) backfillEmbeddings(ctx context.Context, rows []core.CandidateRow) {
	if a.embedder == nil {
		return
	}
	for i := range rows {
		if rows[i].Embedding != nil {
			continue
		}
		text := scoring.StripHTML(rows[i].Title + "\n" + rows[i].BodyText)
		embedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		vec, err := a.embedder.Embed(embedCtx, text)
		cancel()
		if err != nil {
			logger.Warn("embedding backfill failed",
				"candidate_id", rows[i].CandidateID, "error", err)
			continue
		}
		rows[i].Embedding = vec
	}
}

func (a *Assembler) resolve(ctx context.Context, userID, topicID string) (*core.User, *core.Topic, error) {
	user, err := a.db.Users().Get(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, nil, core.NewError(core.ErrKindValidation, "unknown user: "+userID, nil)
	}
	topic, err := a.db.Topics().Get(ctx, topicID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load topic: %w", err)
	}
	if topic == nil {
		return nil, nil, core.NewError(core.ErrKindValidation, "unknown topic: "+topicID, nil)
	}
	return user, topic, nil
}

func (a *Assembler) assemble(ctx context.Context, d *core.Digest, user *core.User, topic *core.Topic) (*RunResult, error) {
	rows, err := a.aggregator.Query(ctx, topic.ID, d.WindowStart, d.WindowEnd, a.cfg.MaxCandidatesPerWindow)
	if err != nil {
		return nil, err
	}

	binding, err := a.router.Route(llm.PurposeTriage, llm.TierFast)
	if err != nil {
		return nil, err
	}

	// One authorization up front; a denied budget disables paid calls for
	// the whole window but cached verdicts remain free to use.
	usage, budgetErr := a.ledger.Authorize(ctx, user, a.now().UTC())
	if budgetErr != nil {
		if core.KindOf(budgetErr) != core.ErrKindBudgetExceeded {
			return nil, budgetErr
		}
		logger.Warn("budget exhausted, digest proceeds without paid triage",
			"digest_id", d.ID, "monthly_used", usage.MonthlyUsed, "monthly_limit", usage.MonthlyLimit)
	}

	a.backfillEmbeddings(ctx, rows)

	// Triage concurrently; ranking waits for every call to settle.
	results := make([]triaged, len(rows))
	var wg sync.WaitGroup
	for i := range rows {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.triageOne(ctx, d, user, topic, &rows[i], binding, budgetErr)
		}(i)
	}
	wg.Wait()

	profile, err := a.db.Profiles().Get(ctx, user.ID, topic.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preference profile: %w", err)
	}
	recent, err := a.db.Candidates().RecentEmbeddings(ctx, topic.ID, a.cfg.NoveltyLookbackItems)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent embeddings: %w", err)
	}
	sourceWeights, err := a.db.Sources().WeightsByTopic(ctx, topic.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source weights: %w", err)
	}

	now := a.now().UTC()
	items := make([]core.DigestItem, 0, len(results))
	var totalCost float64
	var failures int
	for _, tr := range results {
		totalCost += tr.cost
		if tr.err != nil {
			failures++
		}

		weight, ok := sourceWeights[tr.candidate.SourceID]
		if !ok {
			weight = 1
		}
		record := a.engine.ScoreCandidate(&tr.candidate, tr.result, tr.err, scoring.ScoreContext{
			Topic:            topic,
			Profile:          profile,
			SourceWeight:     weight,
			RecentEmbeddings: recent,
			Now:              now,
		})
		items = append(items, core.DigestItem{
			DigestID:      d.ID,
			Kind:          tr.candidate.Kind,
			CandidateID:   tr.candidate.CandidateID,
			ContentItemID: tr.candidate.RepresentativeContentID,
			Title:         tr.candidate.Title,
			CanonicalURL:  tr.candidate.CanonicalURL,
			FinalScore:    record.FinalScore,
			Triage:        tr.result,
			ScoreDebug:    record,
		})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].FinalScore > items[j].FinalScore })
	for i := range items {
		items[i].Rank = i + 1
	}

	d.Status = core.DigestStatusCompleted
	d.ItemCount = len(items)
	d.CostCredits = totalCost
	d.CompletedAt = now
	if err := a.db.Digests().Complete(ctx, d, items); err != nil {
		return nil, fmt.Errorf("failed to persist digest: %w", err)
	}

	logger.Info("digest completed",
		"digest_id", d.ID, "topic_id", topic.ID,
		"items", len(items), "triage_failures", failures, "cost_credits", totalCost)
	return &RunResult{
		DigestID:       d.ID,
		Status:         core.DigestStatusCompleted,
		ItemCount:      len(items),
		CostCredits:    totalCost,
		TriageFailures: failures,
	}, nil
}

// triageOne resolves one candidate's triage verdict and records the call in
// the audit trail. budgetErr non-nil means paid calls are off the table; the
// cache is still consulted since hits cost nothing.
func (a *Assembler) triageOne(ctx context.Context, d *core.Digest, user *core.User, topic *core.Topic, c *core.CandidateRow, binding *llm.Binding, budgetErr error) triaged {
	out := triaged{candidate: *c}

	if budgetErr != nil {
		cached, err := a.engine.CachedTriage(ctx, c, binding)
		if err == nil && cached != nil {
			out.result = cached
			return out
		}
		out.err = budgetErr
		return out
	}

	result, err := a.engine.Triage(ctx, topic, c, binding)
	if err != nil {
		out.err = err
		logger.Warn("triage failed, scoring without the AI term",
			"digest_id", d.ID, "candidate_id", c.CandidateID, "error", err)
		a.recordCall(ctx, user, binding, core.CallStatusError)
		return out
	}

	out.result = result
	if !result.FromCache {
		out.cost = credits.CostFor(result.InputTokens, result.OutputTokens)
	}
	a.recordCallWithCost(ctx, user, result, out.cost)
	return out
}

func (a *Assembler) recordCall(ctx context.Context, user *core.User, binding *llm.Binding, status string) {
	call := &core.ProviderCall{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Provider:  binding.Provider,
		Model:     binding.Model,
		Purpose:   string(llm.PurposeTriage),
		Status:    status,
		CreatedAt: a.now().UTC(),
	}
	if err := a.db.ProviderCalls().Insert(ctx, call); err != nil {
		logger.Warn("failed to record provider call", "error", err)
	}
}

func (a *Assembler) recordCallWithCost(ctx context.Context, user *core.User, result *core.TriageResult, cost float64) {
	call := &core.ProviderCall{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Provider:     result.Provider,
		Model:        result.Model,
		Purpose:      string(llm.PurposeTriage),
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		CostCredits:  cost,
		Status:       core.CallStatusOK,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.db.ProviderCalls().Insert(ctx, call); err != nil {
		logger.Warn("failed to record provider call", "error", err)
	}
}

// markFailed writes the terminal failed status. The write itself is
// best-effort: its failure is logged, never escalated.
func (a *Assembler) markFailed(ctx context.Context, digestID string, jobErr error) {
	if err := a.db.Digests().UpdateStatus(ctx, digestID, core.DigestStatusFailed, jobErr.Error(), a.now().UTC()); err != nil {
		logger.Error("failed to record digest failure status", err,
			"digest_id", digestID, "job_error", jobErr.Error())
	}
}
