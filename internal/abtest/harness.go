// Package abtest replays one frozen candidate set through multiple named LLM
// variant configurations for offline comparison. The harness never checks or
// debits the credit ledger; every call is audited at zero credits.
package abtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scout/internal/candidates"
	"scout/internal/core"
	"scout/internal/llm"
	"scout/internal/logger"
	"scout/internal/persistence"
	"scout/internal/scoring"
)

// RunParams describes one A/B run request.
type RunParams struct {
	RunID       string
	UserID      string
	TopicID     string
	WindowStart time.Time
	WindowEnd   time.Time
	Variants    []core.AbtestVariant
	MaxItems    int
}

// RunSummary is the structured outcome of one run. Expected failures land in
// Status and Error rather than propagating.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	Candidates int    `json:"candidates"`
	Variants   int    `json:"variants"`
	Results    int    `json:"results"`
	Errors     int    `json:"errors"`
	Error      string `json:"error,omitempty"`
}

// Harness executes A/B comparison runs.
type Harness struct {
	db         persistence.Database
	router     *llm.Router
	engine     *scoring.Engine
	aggregator *candidates.Aggregator
	now        func() time.Time
}

// New builds a harness from its collaborators.
func New(db persistence.Database, router *llm.Router, engine *scoring.Engine) *Harness {
	return &Harness{
		db:         db,
		router:     router,
		engine:     engine,
		aggregator: candidates.New(db.Candidates()),
		now:        time.Now,
	}
}

// RunOnce executes one run end to end: pending → running → completed|failed.
// The candidate set and variant list are frozen at start; every later call
// uses that snapshot, so variants are compared apples-to-apples. A single
// (variant, candidate) failure produces one error row and never aborts the
// run.
func (h *Harness) RunOnce(ctx context.Context, p RunParams) *RunSummary {
	if p.RunID == "" {
		p.RunID = uuid.New().String()
	}
	if len(p.Variants) == 0 {
		return &RunSummary{RunID: p.RunID, Status: core.AbtestStatusFailed,
			Error: "no variants configured"}
	}
	if !p.WindowEnd.After(p.WindowStart) {
		return &RunSummary{RunID: p.RunID, Status: core.AbtestStatusFailed,
			Error: "window end is not after window start"}
	}

	run := &core.AbtestRun{
		ID:          p.RunID,
		UserID:      p.UserID,
		TopicID:     p.TopicID,
		WindowStart: p.WindowStart,
		WindowEnd:   p.WindowEnd,
		Variants:    p.Variants,
		Status:      core.AbtestStatusPending,
		CreatedAt:   h.now().UTC(),
	}
	if err := h.db.Abtests().CreateRun(ctx, run); err != nil {
		return &RunSummary{RunID: p.RunID, Status: core.AbtestStatusFailed,
			Error: fmt.Sprintf("failed to create run record: %v", err)}
	}

	summary, err := h.execute(ctx, run, p)
	if err != nil {
		h.markRun(ctx, run.ID, core.AbtestStatusFailed)
		return &RunSummary{RunID: run.ID, Status: core.AbtestStatusFailed, Error: err.Error()}
	}
	return summary
}

func (h *Harness) execute(ctx context.Context, run *core.AbtestRun, p RunParams) (*RunSummary, error) {
	topic, err := h.db.Topics().Get(ctx, p.TopicID)
	if err != nil {
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}
	if topic == nil {
		return nil, core.NewError(core.ErrKindValidation, "unknown topic: "+p.TopicID, nil)
	}

	if err := h.markRunErr(ctx, run.ID, core.AbtestStatusRunning); err != nil {
		return nil, err
	}

	// Freeze the snapshot.
	rows, err := h.aggregator.Query(ctx, p.TopicID, p.WindowStart, p.WindowEnd, p.MaxItems)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		item := &core.AbtestItem{RunID: run.ID, Position: i, Candidate: row}
		if err := h.db.Abtests().InsertItem(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to freeze snapshot item: %w", err)
		}
	}

	// Variants outer, candidates inner: one result row per pair.
	var resultCount, errCount int
	for _, variant := range p.Variants {
		binding, bindErr := h.router.RouteVariant(variant)
		for i := range rows {
			res := h.triagePair(ctx, run, topic, variant, &rows[i], binding, bindErr)
			if err := h.db.Abtests().InsertResult(ctx, res); err != nil {
				return nil, fmt.Errorf("failed to append result row: %w", err)
			}
			resultCount++
			if res.Status == core.CallStatusError {
				errCount++
			}
		}
	}

	if err := h.markRunErr(ctx, run.ID, core.AbtestStatusCompleted); err != nil {
		return nil, err
	}
	logger.Info("abtest run completed",
		"run_id", run.ID, "candidates", len(rows), "variants", len(p.Variants), "errors", errCount)
	return &RunSummary{
		RunID:      run.ID,
		Status:     core.AbtestStatusCompleted,
		Candidates: len(rows),
		Variants:   len(p.Variants),
		Results:    resultCount,
		Errors:     errCount,
	}, nil
}

// triagePair judges one frozen candidate under one variant. The call is
// audited with its real token counts but zero credits; the harness bypasses
// the ledger entirely.
func (h *Harness) triagePair(ctx context.Context, run *core.AbtestRun, topic *core.Topic, variant core.AbtestVariant, c *core.CandidateRow, binding *llm.Binding, bindErr error) *core.AbtestResult {
	res := &core.AbtestResult{
		ID:          uuid.New().String(),
		RunID:       run.ID,
		VariantName: variant.Name,
		CandidateID: c.CandidateID,
		CreatedAt:   h.now().UTC(),
	}
	if bindErr != nil {
		res.Status = core.CallStatusError
		res.Error = bindErr.Error()
		return res
	}

	triage, err := h.engine.TriageVariant(ctx, topic, c, binding, variant)
	if err != nil {
		res.Status = core.CallStatusError
		res.Error = err.Error()
		logger.Warn("abtest pair failed",
			"run_id", run.ID, "variant", variant.Name, "candidate_id", c.CandidateID, "error", err)
		h.audit(ctx, run, binding, 0, 0, core.CallStatusError)
		return res
	}

	res.Status = core.CallStatusOK
	res.Triage = triage
	res.InputTokens = triage.InputTokens
	res.OutputTokens = triage.OutputTokens
	h.audit(ctx, run, binding, triage.InputTokens, triage.OutputTokens, core.CallStatusOK)
	return res
}

// audit records the call with zero cost credits.
func (h *Harness) audit(ctx context.Context, run *core.AbtestRun, binding *llm.Binding, in, out int, status string) {
	call := &core.ProviderCall{
		ID:           uuid.New().String(),
		UserID:       run.UserID,
		Provider:     binding.Provider,
		Model:        binding.Model,
		Purpose:      string(llm.PurposeAbtest),
		InputTokens:  in,
		OutputTokens: out,
		CostCredits:  0,
		Status:       status,
		CreatedAt:    h.now().UTC(),
	}
	if err := h.db.ProviderCalls().Insert(ctx, call); err != nil {
		logger.Warn("failed to audit abtest call", "run_id", run.ID, "error", err)
	}
}

func (h *Harness) markRunErr(ctx context.Context, runID, status string) error {
	var finished time.Time
	if status == core.AbtestStatusCompleted || status == core.AbtestStatusFailed {
		finished = h.now().UTC()
	}
	if err := h.db.Abtests().UpdateRunStatus(ctx, runID, status, finished); err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// markRun is the best-effort terminal write on the failure path.
func (h *Harness) markRun(ctx context.Context, runID, status string) {
	if err := h.markRunErr(ctx, runID, status); err != nil {
		logger.Error("failed to record abtest run status", err, "run_id", runID, "status", status)
	}
}
