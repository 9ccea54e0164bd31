package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
)

// fakeQueue hands out its jobs in order and records outcomes.
type fakeQueue struct {
	mu        sync.Mutex
	pending   []*domain.Job
	leaseErr  error
	completed map[string]string
	failed    map[string]error
}

func newFakeQueue(js ...*domain.Job) *fakeQueue {
	return &fakeQueue{pending: js, completed: map[string]string{}, failed: map[string]error{}}
}

func (q *fakeQueue) Lease(_ context.Context, _ string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.leaseErr != nil {
		return nil, q.leaseErr
	}
	if len(q.pending) == 0 {
		return nil, nil
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	return j, nil
}

func (q *fakeQueue) CompleteLeased(_ context.Context, id, worker string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed[id] = worker
	return nil
}

func (q *fakeQueue) FailLeased(_ context.Context, id, _ string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[id] = cause
	return nil
}

func (q *fakeQueue) done() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.completed) + len(q.failed)
}

func TestRunOnce_Outcomes(t *testing.T) {
	q := newFakeQueue(
		&domain.Job{ID: "ok", Kind: jobs.KindAudit},
		&domain.Job{ID: "err", Kind: jobs.KindLegacyPrune},
		&domain.Job{ID: "panic", Kind: jobs.KindIngestOffer},
		&domain.Job{ID: "unknown", Kind: jobs.KindHeadRefreshOne},
	)
	boom := errors.New("boom")
	p := &Pool{Queue: q, ID: "t", Executors: map[jobs.Kind]Executor{
		jobs.KindAudit:       func(context.Context, *domain.Job) error { return nil },
		jobs.KindLegacyPrune: func(context.Context, *domain.Job) error { return boom },
		jobs.KindIngestOffer: func(context.Context, *domain.Job) error { panic("nil map") },
	}}
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		worked, err := p.RunOnce(ctx, "w0")
		if err != nil || !worked {
			t.Fatalf("RunOnce #%d = %v, %v", i, worked, err)
		}
	}
	if worked, err := p.RunOnce(ctx, "w0"); worked || err != nil {
		t.Fatalf("empty queue must report no work, got %v, %v", worked, err)
	}

	if q.completed["ok"] != "w0" {
		t.Fatalf("completed = %v", q.completed)
	}
	if !errors.Is(q.failed["err"], boom) {
		t.Fatalf("err job cause = %v", q.failed["err"])
	}
	if c := q.failed["panic"]; c == nil || !strings.Contains(c.Error(), "nil map") {
		t.Fatalf("panic job cause = %v", c)
	}
	if !errors.Is(q.failed["unknown"], ErrNoExecutor) {
		t.Fatalf("unknown job cause = %v", q.failed["unknown"])
	}
}

func TestRunOnce_LeaseError(t *testing.T) {
	q := newFakeQueue()
	q.leaseErr = errors.New("db locked")
	p := &Pool{Queue: q}
	worked, err := p.RunOnce(context.Background(), "w")
	if worked || err == nil {
		t.Fatalf("RunOnce = %v, %v; want lease error", worked, err)
	}
}

func TestRun_DrainsQueueAndStopsOnCancel(t *testing.T) {
	var js []*domain.Job
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		js = append(js, &domain.Job{ID: id, Kind: jobs.KindAudit})
	}
	q := newFakeQueue(js...)
	p := &Pool{
		Queue:        q,
		ID:           "pool",
		Workers:      3,
		PollInterval: 5 * time.Millisecond,
		IdleBackoff:  20 * time.Millisecond,
		Executors: map[jobs.Kind]Executor{
			jobs.KindAudit: func(context.Context, *domain.Job) error { return nil },
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for q.done() < len(js) {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("pool processed %d of %d jobs", q.done(), len(js))
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	for id, w := range q.completed {
		if !strings.HasPrefix(w, "pool-") {
			t.Fatalf("job %s completed by %q", id, w)
		}
	}
}
