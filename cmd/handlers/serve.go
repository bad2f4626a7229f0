package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scout/internal/abtest"
	"scout/internal/config"
	"scout/internal/core"
	"scout/internal/digest"
	"scout/internal/logger"
	"scout/internal/persistence"
	"scout/internal/queue"
	"scout/internal/schedule"
	"scout/internal/server"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	var (
		addr        string
		tickSeconds int
		workers     int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler loop and admin HTTP server",
		Long: `Run scout as a long-lived process.

The scheduler ticks periodically, computes due digest windows per topic,
and enqueues them onto an in-process worker pool. The HTTP server exposes
manual run triggers, digest browsing, and credit visibility.

Examples:
  # Run with config defaults
  scout serve

  # Custom bind address and tick interval
  scout serve --addr :9000 --tick 60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr, tickSeconds, workers)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP bind address (default from config: :8484)")
	cmd.Flags().IntVar(&tickSeconds, "tick", 0, "Scheduler tick interval in seconds (default from config: 300)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Digest worker count (default from config: 2)")

	return cmd
}

// digestJob is the payload of a queued digest window.
type digestJob struct {
	UserID  string            `json:"user_id"`
	TopicID string            `json:"topic_id"`
	Window  core.DigestWindow `json:"window"`
}

func runServe(ctx context.Context, addr string, tickSeconds, workers int) error {
	log := logger.Get()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if tickSeconds > 0 {
		cfg.Scheduler.TickSeconds = tickSeconds
	}
	if workers > 0 {
		cfg.Scheduler.Workers = workers
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

	assembler := digest.New(db, router, engine, cfg.Scoring)
	if e := buildEmbedder(cfg); e != nil {
		assembler.WithEmbedder(e)
	}
	harness := abtest.New(db, router, engine)
	scheduler := schedule.New(db)

	jobs := queue.NewInProcess(0, map[string]queue.Handler{
		queue.JobDigestRun: func(ctx context.Context, job queue.Job) error {
			var p digestJob
			if err := json.Unmarshal(job.Payload, &p); err != nil {
				return fmt.Errorf("malformed digest job payload: %w", err)
			}
			result := assembler.Run(ctx, p.UserID, p.TopicID, p.Window)
			if result.Status == core.DigestStatusFailed {
				return fmt.Errorf("digest run failed: %s", result.Error)
			}
			return nil
		},
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs.Start(runCtx, cfg.Scheduler.Workers)

	go tickLoop(runCtx, db, scheduler, jobs, time.Duration(cfg.Scheduler.TickSeconds)*time.Second)

	srv := server.New(db, assembler, harness, cfg.Server)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			cancel()
			return err
		}
	case <-runCtx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	jobs.Wait()
	return nil
}

// tickLoop periodically enqueues every due digest window. An immediate first
// tick makes restarts catch up without waiting a full interval.
func tickLoop(ctx context.Context, db persistence.Database, scheduler *schedule.Scheduler, jobs queue.Queue, interval time.Duration) {
	log := logger.Get()

	tick := func() {
		enqueued, err := enqueueDueWindows(ctx, db, scheduler, jobs)
		if err != nil {
			logger.Error("scheduler tick failed", err)
			return
		}
		if enqueued > 0 {
			log.Info("scheduler tick enqueued windows", "count", enqueued)
		}
	}

	tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

func enqueueDueWindows(ctx context.Context, db persistence.Database, scheduler *schedule.Scheduler, jobs queue.Queue) (int, error) {
	topics, err := scheduler.SchedulableTopics(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list schedulable topics: %w", err)
	}

	enqueued := 0
	for _, st := range topics {
		topic, err := db.Topics().Get(ctx, st.TopicID)
		if err != nil {
			return enqueued, fmt.Errorf("failed to load topic %s: %w", st.TopicID, err)
		}
		if topic == nil {
			continue
		}
		windows, err := scheduler.GenerateDueWindows(ctx, st.UserID, topic, time.Now())
		if err != nil {
			return enqueued, fmt.Errorf("failed to compute windows for topic %s: %w", st.TopicID, err)
		}
		for _, w := range windows {
			jobID := queue.DeterministicID(st.UserID+"/"+st.TopicID+"/"+w.Mode, w.WindowStart)
			ok, err := jobs.Enqueue(ctx, queue.JobDigestRun, digestJob{
				UserID: st.UserID, TopicID: st.TopicID, Window: w,
			}, jobID)
			if err != nil {
				return enqueued, err
			}
			if ok {
				enqueued++
			}
		}
	}
	return enqueued, nil
}
