package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"scout/internal/abtest"
	"scout/internal/config"
	"scout/internal/core"
	"scout/internal/llm"
	"scout/internal/logger"
	"scout/internal/schedule"
	"scout/internal/scoring"
)

// NewAbtestCmd creates the abtest command group
func NewAbtestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abtest",
		Short: "Evaluate prompt and model variants offline",
	}

	cmd.AddCommand(newAbtestRunCmd())
	cmd.AddCommand(newAbtestShowCmd())

	return cmd
}

func newAbtestRunCmd() *cobra.Command {
	var (
		topicID      string
		variantsFile string
		windowStart  string
		windowEnd    string
		maxItems     int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an A/B comparison over a frozen candidate snapshot",
		Long: `Run every configured variant against the same frozen candidate set.

Variants come from a JSON file: an array of objects with name, provider,
model, and optional reasoning_effort and max_tokens. Harness calls bypass
the triage cache and the credit ledger, so results are comparable and the
monthly budget is untouched.

Example variants file:
  [
    {"name": "fast",  "provider": "gemini", "model": "gemini-flash-lite-latest"},
    {"name": "deep",  "provider": "openai", "model": "gpt-4o", "reasoning_effort": "medium"}
  ]

Examples:
  scout abtest run --topic <topic-id> --variants variants.json
  scout abtest run --topic <topic-id> --variants variants.json --max-items 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAbtestRun(cmd.Context(), topicID, variantsFile, windowStart, windowEnd, maxItems)
		},
	}

	cmd.Flags().StringVar(&topicID, "topic", "", "Topic ID to evaluate against (required)")
	cmd.Flags().StringVar(&variantsFile, "variants", "", "JSON file with the variant list (required)")
	cmd.Flags().StringVar(&windowStart, "window-start", "", "Window start (RFC 3339, default: current bucket)")
	cmd.Flags().StringVar(&windowEnd, "window-end", "", "Window end (RFC 3339, default: current bucket)")
	cmd.Flags().IntVar(&maxItems, "max-items", 10, "Snapshot size cap")
	cmd.MarkFlagRequired("topic")
	cmd.MarkFlagRequired("variants")

	return cmd
}

func runAbtestRun(ctx context.Context, topicID, variantsFile, windowStart, windowEnd string, maxItems int) error {
	log := logger.Get()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	variants, err := loadVariants(variantsFile)
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	router, err := llm.New(cfg.AI)
	if err != nil {
		return fmt.Errorf("failed to build LLM router: %w", err)
	}
	// No cache: harness calls must hit the live provider for every pair.
	engine := scoring.NewEngine(cfg.Scoring, nil)

	user, err := db.Users().GetPrimary(ctx)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("no user configured")
	}

	params := abtest.RunParams{
		UserID:   user.ID,
		TopicID:  topicID,
		Variants: variants,
		MaxItems: maxItems,
	}
	if windowStart != "" || windowEnd != "" {
		w, err := parseWindow(windowStart, windowEnd)
		if err != nil {
			return err
		}
		params.WindowStart, params.WindowEnd = w.WindowStart, w.WindowEnd
	} else {
		bucket := schedule.CurrentBucket(time.Now())
		params.WindowStart, params.WindowEnd = bucket.WindowStart, bucket.WindowEnd
	}

	summary := abtest.New(db, router, engine).RunOnce(ctx, params)
	if summary.Status == core.AbtestStatusFailed {
		return fmt.Errorf("A/B run failed: %s", summary.Error)
	}

	log.Info("A/B run completed",
		"run_id", summary.RunID,
		"candidates", summary.Candidates,
		"variants", summary.Variants,
		"errors", summary.Errors,
	)
	fmt.Printf("Run %s: %d candidates x %d variants, %d results (%d errors)\n",
		summary.RunID, summary.Candidates, summary.Variants, summary.Results, summary.Errors)
	fmt.Printf("Inspect with: scout abtest show %s\n", summary.RunID)
	return nil
}

func loadVariants(path string) ([]core.AbtestVariant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read variants file: %w", err)
	}
	var variants []core.AbtestVariant
	if err := json.Unmarshal(data, &variants); err != nil {
		return nil, fmt.Errorf("invalid variants file %s: %w", path, err)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("variants file %s lists no variants", path)
	}
	return variants, nil
}

func newAbtestShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the result matrix of an A/B run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAbtestShow(cmd.Context(), args[0])
		},
	}

	return cmd
}

func runAbtestShow(ctx context.Context, runID string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := db.Abtests().GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("unknown run: %s", runID)
	}

	fmt.Printf("Run %s  topic=%s  status=%s\n", run.ID, run.TopicID, run.Status)
	fmt.Printf("Window  [%s .. %s]\n",
		run.WindowStart.UTC().Format(time.RFC3339), run.WindowEnd.UTC().Format(time.RFC3339))

	results, err := db.Abtests().ListResults(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load results: %w", err)
	}

	// Group by variant for side-by-side reading.
	byVariant := make(map[string][]core.AbtestResult)
	var order []string
	for _, r := range results {
		if _, seen := byVariant[r.VariantName]; !seen {
			order = append(order, r.VariantName)
		}
		byVariant[r.VariantName] = append(byVariant[r.VariantName], r)
	}

	for _, name := range order {
		fmt.Printf("\nVariant %s:\n", name)
		for _, r := range byVariant[name] {
			if r.Status == core.CallStatusError {
				fmt.Printf("  %-30.30s  ERROR  %s\n", r.CandidateID, r.Error)
				continue
			}
			relevance := 0.0
			if r.Triage != nil {
				relevance = r.Triage.RelevanceScore
			}
			fmt.Printf("  %-30.30s  relevance=%.3f  tokens=%d/%d\n",
				r.CandidateID, relevance, r.InputTokens, r.OutputTokens)
		}
	}
	return nil
}
