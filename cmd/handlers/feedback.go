package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"scout/internal/config"
	"scout/internal/core"
	"scout/internal/logger"
	"scout/internal/profile"
)

// NewFeedbackCmd creates the feedback command group
func NewFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record and manage digest item feedback",
	}

	cmd.AddCommand(newFeedbackAddCmd())
	cmd.AddCommand(newFeedbackDeleteCmd())
	cmd.AddCommand(newFeedbackRebuildCmd())

	return cmd
}

func newFeedbackAddCmd() *cobra.Command {
	var (
		topicID string
		itemID  string
		action  string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record one feedback event and fold it into the preference profile",
		Long: `Record one feedback event for a content item.

Actions: like, dislike, save, skip. Every event is stored; like, dislike
and save immediately move the topic's preference profile toward (or away
from) the item's embedding. Skip is recorded but does not move the profile.

Examples:
  scout feedback add --topic <topic-id> --item <content-item-id> --action like
  scout feedback add --topic <topic-id> --item <content-item-id> --action dislike`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedbackAdd(cmd.Context(), topicID, itemID, action)
		},
	}

	cmd.Flags().StringVar(&topicID, "topic", "", "Topic ID (required)")
	cmd.Flags().StringVar(&itemID, "item", "", "Content item ID (required)")
	cmd.Flags().StringVar(&action, "action", "", "Feedback action: like, dislike, save, skip (required)")
	cmd.MarkFlagRequired("topic")
	cmd.MarkFlagRequired("item")
	cmd.MarkFlagRequired("action")

	return cmd
}

func runFeedbackAdd(ctx context.Context, topicID, itemID, action string) error {
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

	user, err := db.Users().GetPrimary(ctx)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("no user configured")
	}

	store := profile.NewStore(db, cfg.Scoring.ProfileLearningRate)
	event := &core.FeedbackEvent{
		UserID:        user.ID,
		TopicID:       topicID,
		ContentItemID: itemID,
		Action:        core.FeedbackAction(action),
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.RecordFeedback(ctx, event); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}

	log.Info("feedback recorded", "feedback_id", event.ID, "action", action, "item", itemID)
	fmt.Printf("Recorded %s on %s (feedback %s)\n", action, itemID, event.ID)
	return nil
}

func newFeedbackDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <feedback-id>",
		Short: "Delete a feedback event and rebuild the profile without it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedbackDelete(cmd.Context(), args[0])
		},
	}

	return cmd
}

func runFeedbackDelete(ctx context.Context, feedbackID string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store := profile.NewStore(db, cfg.Scoring.ProfileLearningRate)
	if err := store.DeleteFeedback(ctx, feedbackID); err != nil {
		return fmt.Errorf("failed to delete feedback: %w", err)
	}

	fmt.Printf("Deleted feedback %s; profile rebuilt from the remaining history.\n", feedbackID)
	return nil
}

func newFeedbackRebuildCmd() *cobra.Command {
	var topicID string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild a topic's preference profile from its full feedback history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedbackRebuild(cmd.Context(), topicID)
		},
	}

	cmd.Flags().StringVar(&topicID, "topic", "", "Topic ID (required)")
	cmd.MarkFlagRequired("topic")

	return cmd
}

func runFeedbackRebuild(ctx context.Context, topicID string) error {
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

	store := profile.NewStore(db, cfg.Scoring.ProfileLearningRate)
	if err := store.Rebuild(ctx, user.ID, topicID); err != nil {
		return fmt.Errorf("failed to rebuild profile: %w", err)
	}

	p, err := store.Get(ctx, user.ID, topicID)
	if err != nil {
		return fmt.Errorf("failed to load rebuilt profile: %w", err)
	}
	if p == nil {
		fmt.Println("No profile: the topic has no profile-moving feedback.")
		return nil
	}
	fmt.Printf("Profile rebuilt from %d events (%d dimensions).\n", p.SampleCount, len(p.Vector))
	return nil
}
