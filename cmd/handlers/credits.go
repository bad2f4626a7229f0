package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"scout/internal/config"
	"scout/internal/credits"
)

// NewCreditsCmd creates the credits command
func NewCreditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Show credit spend against the configured limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCredits(cmd.Context())
		},
	}

	return cmd
}

func runCredits(ctx context.Context) error {
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

	usage, err := credits.NewLedger(db.ProviderCalls()).Status(ctx, user, time.Now())
	if err != nil {
		return fmt.Errorf("failed to compute credit usage: %w", err)
	}

	fmt.Printf("Monthly: %.4f / %.4f credits (%.4f remaining)\n",
		usage.MonthlyUsed, usage.MonthlyLimit, usage.MonthlyRemaining)
	if usage.DailyLimit != nil {
		fmt.Printf("Daily:   %.4f / %.4f credits (%.4f remaining)\n",
			*usage.DailyUsed, *usage.DailyLimit, *usage.DailyRemaining)
	}
	if usage.PaidCallsAllowed {
		fmt.Println("Paid calls: allowed")
	} else {
		fmt.Println("Paid calls: BLOCKED until the window rolls over (cached triage still works)")
	}
	return nil
}
