package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDeterministicID(t *testing.T) {
	at := time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC)
	a := DeterministicID("u1/t1/digest", at)
	b := DeterministicID("u1/t1/digest", at)
	if a != b {
		t.Error("the same scope and timestamp must yield the same ID")
	}
	if a == DeterministicID("u1/t2/digest", at) {
		t.Error("different scopes must yield different IDs")
	}
	if a == DeterministicID("u1/t1/digest", at.Add(time.Hour)) {
		t.Error("different timestamps must yield different IDs")
	}
	// Timezone must not leak into the ID.
	if a != DeterministicID("u1/t1/digest", at.In(time.FixedZone("CET", 3600))) {
		t.Error("IDs must be timezone independent")
	}
}

func TestEnqueue_SuppressesDuplicateIDs(t *testing.T) {
	done := make(chan string, 4)
	q := NewInProcess(4, map[string]Handler{
		JobDigestRun: func(ctx context.Context, job Job) error {
			done <- job.ID
			return nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx, 1)

	ok, err := q.Enqueue(ctx, JobDigestRun, map[string]string{"topic": "t1"}, "job-1")
	if err != nil || !ok {
		t.Fatalf("first enqueue should pass: ok=%v err=%v", ok, err)
	}
	ok, err = q.Enqueue(ctx, JobDigestRun, map[string]string{"topic": "t1"}, "job-1")
	if err != nil {
		t.Fatalf("duplicate enqueue errored: %v", err)
	}
	if ok {
		t.Error("a recently seen job ID must be suppressed")
	}

	select {
	case id := <-done:
		if id != "job-1" {
			t.Errorf("unexpected job processed: %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("the job was never processed")
	}
	select {
	case id := <-done:
		t.Errorf("the duplicate was processed anyway: %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEnqueue_UnknownJobName(t *testing.T) {
	q := NewInProcess(1, map[string]Handler{})
	if _, err := q.Enqueue(context.Background(), "no.such.job", nil, ""); err == nil {
		t.Error("enqueueing an unhandled job name must error")
	}
}

func TestWorkers_ProcessConcurrently(t *testing.T) {
	var mu sync.Mutex
	processed := make(map[string]bool)
	var wg sync.WaitGroup
	wg.Add(3)

	q := NewInProcess(8, map[string]Handler{
		JobDigestRun: func(ctx context.Context, job Job) error {
			mu.Lock()
			processed[job.ID] = true
			mu.Unlock()
			wg.Done()
			return nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx, 2)

	for _, id := range []string{"a", "b", "c"} {
		if ok, err := q.Enqueue(ctx, JobDigestRun, nil, id); err != nil || !ok {
			t.Fatalf("enqueue %s failed: ok=%v err=%v", id, ok, err)
		}
	}

	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs were not processed in time")
	}

	if len(processed) != 3 {
		t.Errorf("expected 3 processed jobs, got %d", len(processed))
	}

	cancel()
	q.Wait()
}
