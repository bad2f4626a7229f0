package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scout/internal/config"
	"scout/internal/embedding"
	"scout/internal/llm"
	"scout/internal/logger"
	"scout/internal/persistence"
	"scout/internal/scoring"
	"scout/internal/store"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scout",
		Short: "Scout generates scheduled, scored digests from aggregated content",
		Long: `Scout turns a stream of fetched content into per-topic digests.

It windows candidates by schedule, triages them with an LLM, blends the
verdict with heuristic, preference and novelty signals into one composite
score, and persists the ranked result. Spend is metered through a credit
ledger; prompt and model changes are evaluated offline with the A/B harness.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.scout.yaml)")

	rootCmd.AddCommand(NewDigestCmd())
	rootCmd.AddCommand(NewAbtestCmd())
	rootCmd.AddCommand(NewFeedbackCmd())
	rootCmd.AddCommand(NewCreditsCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewMigrateCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openDB connects to Postgres using the configured URL and verifies the
// connection. Callers own Close.
func openDB(ctx context.Context, cfg *config.Config) (*persistence.PostgresDB, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database connection string not configured (set SCOUT_DATABASE_URL or DATABASE_URL)")
	}
	db, err := persistence.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return db, nil
}

// buildEngine assembles the LLM router and scoring engine, attaching the
// local triage cache when enabled. The returned closer may be nil.
func buildEngine(cfg *config.Config) (*llm.Router, *scoring.Engine, func() error, error) {
	router, err := llm.New(cfg.AI)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build LLM router: %w", err)
	}

	var cache scoring.TriageCache
	var closer func() error
	if cfg.Cache.Enabled {
		path := cfg.Cache.Path
		if path == "" {
			path = cfg.App.DataDir
		}
		st, err := store.New(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open triage cache: %w", err)
		}
		cache = st
		closer = st.Close
	}

	return router, scoring.NewEngine(cfg.Scoring, cache), closer, nil
}

// buildEmbedder returns the Gemini embedding provider, or nil when no Gemini
// credentials are configured. Embedding backfill is optional; candidates
// without vectors score with degraded preference and novelty terms.
func buildEmbedder(cfg *config.Config) embedding.Embedder {
	if cfg.AI.Gemini.APIKey == "" && !cfg.AI.Gemini.SubscriptionAuth {
		return nil
	}
	e, err := embedding.NewGemini(cfg.AI.Gemini)
	if err != nil {
		logger.Warn("embedding provider unavailable, candidates keep stored vectors only", "error", err)
		return nil
	}
	return e
}
