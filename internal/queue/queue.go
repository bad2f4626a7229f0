// Package queue hands due digest windows to asynchronous processing. Job IDs
// are derived deterministically from a scope hash plus the window timestamp,
// which reduces (but does not guarantee) duplicate enqueues across ticks.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"scout/internal/logger"
)

// Job names processed by the workers.
const (
	JobDigestRun = "digest.run"
	JobAbtestRun = "abtest.run"
)

// Job is one unit of queued work.
type Job struct {
	ID         string
	Name       string
	Payload    json.RawMessage
	EnqueuedAt time.Time
}

// Handler processes one job.
type Handler func(ctx context.Context, job Job) error

// Queue accepts jobs for asynchronous processing.
type Queue interface {
	// Enqueue adds a job. A jobID already seen recently is dropped and
	// reported as not enqueued.
	Enqueue(ctx context.Context, name string, payload interface{}, jobID string) (bool, error)
}

// DeterministicID derives a job ID from a logical scope and a timestamp, so
// re-enqueuing the same window yields the same ID.
func DeterministicID(scope string, at time.Time) string {
	sum := sha256.Sum256([]byte(scope))
	return fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:8]), at.UTC().Unix())
}

// InProcess is a channel-backed queue with a worker pool, suitable for the
// single-binary deployment. Recently seen job IDs are suppressed in memory.
type InProcess struct {
	jobs     chan Job
	handlers map[string]Handler

	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration

	wg sync.WaitGroup
}

// NewInProcess builds a queue with the given buffer size and handler table.
func NewInProcess(buffer int, handlers map[string]Handler) *InProcess {
	if buffer <= 0 {
		buffer = 64
	}
	return &InProcess{
		jobs:     make(chan Job, buffer),
		handlers: handlers,
		seen:     make(map[string]time.Time),
		ttl:      time.Hour,
	}
}

// Enqueue implements Queue.
func (q *InProcess) Enqueue(ctx context.Context, name string, payload interface{}, jobID string) (bool, error) {
	if _, ok := q.handlers[name]; !ok {
		return false, fmt.Errorf("no handler registered for job %q", name)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to encode job payload: %w", err)
	}

	if jobID != "" && !q.markSeen(jobID) {
		logger.Debug("duplicate job suppressed", "job_id", jobID, "job", name)
		return false, nil
	}

	job := Job{ID: jobID, Name: name, Payload: raw, EnqueuedAt: time.Now().UTC()}
	select {
	case q.jobs <- job:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// markSeen records a job ID, returning false when it was already present
// within the suppression window.
func (q *InProcess) markSeen(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for id, at := range q.seen {
		if now.Sub(at) > q.ttl {
			delete(q.seen, id)
		}
	}
	if _, ok := q.seen[jobID]; ok {
		return false
	}
	q.seen[jobID] = now
	return true
}

// Start launches the worker pool. Workers drain until ctx is canceled.
func (q *InProcess) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

func (q *InProcess) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			handler := q.handlers[job.Name]
			if err := handler(ctx, job); err != nil {
				logger.Error("job failed", err, "job", job.Name, "job_id", job.ID)
			}
		}
	}
}

// Wait blocks until all workers have exited after cancellation.
func (q *InProcess) Wait() {
	q.wg.Wait()
}
