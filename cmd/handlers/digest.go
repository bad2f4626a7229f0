package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"scout/internal/config"
	"scout/internal/core"
	"scout/internal/digest"
	"scout/internal/logger"
	"scout/internal/schedule"
)

// NewDigestCmd creates the digest command group
func NewDigestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Generate and inspect scored digests",
	}

	cmd.AddCommand(newDigestRunCmd())
	cmd.AddCommand(newDigestListCmd())
	cmd.AddCommand(newDigestShowCmd())

	return cmd
}

func newDigestRunCmd() *cobra.Command {
	var (
		topicID     string
		windowStart string
		windowEnd   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run digest generation for a topic",
		Long: `Run digest generation for one topic.

Without an explicit window the topic's scheduling policy decides which
windows are due; a fixed window that already produced a digest is skipped.
An explicit window (both --window-start and --window-end, RFC 3339) always
runs, useful for backfills.

Examples:
  # Generate whatever the schedule says is due
  scout digest run --topic <topic-id>

  # Backfill one explicit window
  scout digest run --topic <topic-id> \
    --window-start 2026-03-20T00:00:00Z --window-end 2026-03-20T08:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigestRun(cmd.Context(), topicID, windowStart, windowEnd)
		},
	}

	cmd.Flags().StringVar(&topicID, "topic", "", "Topic ID to generate for (required)")
	cmd.Flags().StringVar(&windowStart, "window-start", "", "Explicit window start (RFC 3339)")
	cmd.Flags().StringVar(&windowEnd, "window-end", "", "Explicit window end (RFC 3339)")
	cmd.MarkFlagRequired("topic")

	return cmd
}

func runDigestRun(ctx context.Context, topicID, windowStart, windowEnd string) error {
	log := logger.Get()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	router, engine, closeCache, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	if closeCache != nil {
		defer closeCache()
	}

	user, err := db.Users().GetPrimary(ctx)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("no user configured")
	}

	var windows []core.DigestWindow
	if windowStart != "" || windowEnd != "" {
		w, err := parseWindow(windowStart, windowEnd)
		if err != nil {
			return err
		}
		windows = []core.DigestWindow{w}
	} else {
		topic, err := db.Topics().Get(ctx, topicID)
		if err != nil {
			return fmt.Errorf("failed to load topic: %w", err)
		}
		if topic == nil {
			return fmt.Errorf("unknown topic: %s", topicID)
		}
		windows, err = schedule.New(db).GenerateDueWindows(ctx, user.ID, topic, time.Now())
		if err != nil {
			return fmt.Errorf("failed to compute due windows: %w", err)
		}
		if len(windows) == 0 {
			fmt.Println("Nothing due: the current window already has a digest.")
			return nil
		}
	}

	assembler := digest.New(db, router, engine, cfg.Scoring)
	if e := buildEmbedder(cfg); e != nil {
		assembler.WithEmbedder(e)
	}
	for _, w := range windows {
		result := assembler.Run(ctx, user.ID, topicID, w)
		if result.Status == core.DigestStatusFailed {
			return fmt.Errorf("digest run failed: %s", result.Error)
		}
		log.Info("digest generated",
			"digest_id", result.DigestID,
			"items", result.ItemCount,
			"cost_credits", result.CostCredits,
			"triage_failures", result.TriageFailures,
		)
		fmt.Printf("Digest %s: %d items, %.4f credits", result.DigestID, result.ItemCount, result.CostCredits)
		if result.TriageFailures > 0 {
			fmt.Printf(" (%d triage failures, heuristic-only scores)", result.TriageFailures)
		}
		fmt.Println()
	}
	return nil
}

func parseWindow(start, end string) (core.DigestWindow, error) {
	if start == "" || end == "" {
		return core.DigestWindow{}, fmt.Errorf("an explicit window needs both --window-start and --window-end")
	}
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return core.DigestWindow{}, fmt.Errorf("invalid --window-start: %w", err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return core.DigestWindow{}, fmt.Errorf("invalid --window-end: %w", err)
	}
	return core.DigestWindow{WindowStart: s, WindowEnd: e, Mode: core.DigestModeNormal}, nil
}

func newDigestListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigestList(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum digests to list")

	return cmd
}

func runDigestList(ctx context.Context, limit int) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	user, err := db.Users().GetPrimary(ctx)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("no user configured")
	}

	digests, err := db.Digests().List(ctx, user.ID, limit)
	if err != nil {
		return fmt.Errorf("failed to list digests: %w", err)
	}
	if len(digests) == 0 {
		fmt.Println("No digests yet.")
		return nil
	}

	for _, d := range digests {
		fmt.Printf("%s  %s  [%s .. %s]  %-9s  %d items\n",
			d.ID, d.TopicID,
			d.WindowStart.UTC().Format(time.RFC3339),
			d.WindowEnd.UTC().Format(time.RFC3339),
			d.Status, d.ItemCount)
	}
	return nil
}

func newDigestShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <digest-id>",
		Short: "Show one digest with its ranked items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigestShow(cmd.Context(), args[0])
		},
	}

	return cmd
}

func runDigestShow(ctx context.Context, digestID string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	d, err := db.Digests().Get(ctx, digestID)
	if err != nil {
		return fmt.Errorf("failed to load digest: %w", err)
	}
	if d == nil {
		return fmt.Errorf("unknown digest: %s", digestID)
	}

	fmt.Printf("Digest %s  topic=%s  status=%s\n", d.ID, d.TopicID, d.Status)
	fmt.Printf("Window  [%s .. %s]  mode=%s\n",
		d.WindowStart.UTC().Format(time.RFC3339), d.WindowEnd.UTC().Format(time.RFC3339), d.Mode)
	if d.Error != "" {
		fmt.Printf("Error   %s\n", d.Error)
	}

	items, err := db.Digests().ListItems(ctx, digestID)
	if err != nil {
		return fmt.Errorf("failed to load digest items: %w", err)
	}
	for _, item := range items {
		kind := item.Kind
		if kind == "" {
			kind = core.CandidateKindItem
		}
		fmt.Printf("%3d. %-50.50s  %.4f  %s\n", item.Rank, item.Title, item.FinalScore, kind)
		in := item.ScoreDebug.Inputs
		m := item.ScoreDebug.Multipliers
		fmt.Printf("     ai=%.3f heur=%.3f pref=%.3f novelty=%.3f  src=%.2f prefw=%.2f decay=%.2f\n",
			in.AIScore, in.HeuristicScore, in.PreferenceScore, in.Novelty01,
			m.SourceWeight, m.UserPreferenceWeight, m.DecayMultiplier)
		if item.ScoreDebug.TriageFailed {
			fmt.Printf("     triage failed: %s\n", item.ScoreDebug.TriageError)
		}
	}
	return nil
}
