package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
)

func strptr(s string) *string { return &s }

func seedJob(t *testing.T, db *gorm.DB, id string, priority int, runAfter time.Time, key *string) *domain.Job {
	t.Helper()
	j := &domain.Job{
		ID:             id,
		Kind:           jobs.KindHeadRefreshOne,
		Payload:        datatypes.JSON(`{"offerId":"o-` + id + `"}`),
		IdempotencyKey: key,
		Priority:       priority,
		RunAfter:       runAfter,
	}
	if err := CreateJob(context.Background(), db, j); err != nil {
		t.Fatalf("CreateJob(%s): %v", id, err)
	}
	return j
}

func TestCreateJob_DefaultsAndActiveKeyIndex(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	j := &domain.Job{Kind: jobs.KindAudit, Payload: datatypes.JSON(`{"kind":"quality"}`), Priority: 5, IdempotencyKey: strptr("k1")}
	if err := CreateJob(ctx, db, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.ID == "" || j.Status != jobs.StatusQueued || j.RunAfter.IsZero() {
		t.Fatalf("defaults not applied: %+v", j)
	}

	// A second active job with the same key violates the partial index.
	dup := &domain.Job{Kind: jobs.KindAudit, Payload: datatypes.JSON(`{"kind":"quality"}`), IdempotencyKey: strptr("k1")}
	err := CreateJob(ctx, db, dup)
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}

	got, err := FindActiveJobByKey(ctx, db, "k1")
	if err != nil || got.ID != j.ID {
		t.Fatalf("FindActiveJobByKey: got=%+v err=%v", got, err)
	}

	// Once terminal, the key is free again.
	if err := db.Model(&domain.Job{}).Where("id = ?", j.ID).Update("status", jobs.StatusSucceeded).Error; err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := FindActiveJobByKey(ctx, db, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after completion, got %v", err)
	}
	again := &domain.Job{Kind: jobs.KindAudit, Payload: datatypes.JSON(`{"kind":"quality"}`), IdempotencyKey: strptr("k1")}
	if err := CreateJob(ctx, db, again); err != nil {
		t.Fatalf("re-enqueue after terminal: %v", err)
	}

	// Jobs without a key never collide.
	for i := 0; i < 2; i++ {
		if err := CreateJob(ctx, db, &domain.Job{Kind: jobs.KindAudit, Payload: datatypes.JSON(`{}`)}); err != nil {
			t.Fatalf("keyless job %d: %v", i, err)
		}
	}
}

func TestLeaseJob_OrderAndEligibility(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	seedJob(t, db, "late-high", 1, now.Add(time.Minute), nil) // not yet eligible
	seedJob(t, db, "b-low", 50, now.Add(-time.Hour), nil)
	seedJob(t, db, "a-high-newer", 10, now.Add(-time.Minute), nil)
	seedJob(t, db, "a-high-older", 10, now.Add(-2*time.Minute), nil)

	want := []string{"a-high-older", "a-high-newer", "b-low"}
	for i, id := range want {
		j, err := LeaseJob(ctx, db, "w1", now)
		if err != nil {
			t.Fatalf("lease %d: %v", i, err)
		}
		if j == nil || j.ID != id {
			t.Fatalf("lease %d: got %+v; want %s", i, j, id)
		}
		if j.Status != jobs.StatusRunning || j.Attempts != 1 || j.LockedBy == nil || *j.LockedBy != "w1" || j.LockedAt == nil {
			t.Fatalf("lease %d: lock fields not set: %+v", i, j)
		}
	}

	j, err := LeaseJob(ctx, db, "w1", now)
	if err != nil || j != nil {
		t.Fatalf("expected nothing eligible, got %+v err=%v", j, err)
	}

	j, err = LeaseJob(ctx, db, "w1", now.Add(2*time.Minute))
	if err != nil || j == nil || j.ID != "late-high" {
		t.Fatalf("expected delayed job once due, got %+v err=%v", j, err)
	}
}

func TestLeaseJob_ConcurrentWorkersClaimOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedJob(t, db, "only", 100, now.Add(-time.Second), nil)

	const workers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		leased []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j, err := LeaseJob(ctx, db, "w", now)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			if j != nil {
				mu.Lock()
				leased = append(leased, j.ID)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(leased) != 1 {
		t.Fatalf("expected exactly one lease, got %v", leased)
	}
	got, _ := GetJob(ctx, db, "only")
	if got.Attempts != 1 {
		t.Fatalf("attempts incremented more than once: %d", got.Attempts)
	}
}

func TestClaimJob_LosesWhenAlreadyRunning(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedJob(t, db, "j", 100, now, nil)

	ok, err := ClaimJob(ctx, db, "j", "a", now)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = ClaimJob(ctx, db, "j", "b", now)
	if err != nil || ok {
		t.Fatalf("second claim should lose: ok=%v err=%v", ok, err)
	}
}

func TestCompleteAndFail_Transitions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedJob(t, db, "c", 1, now, nil)
	seedJob(t, db, "f", 2, now, nil)

	// Not running yet.
	if err := CompleteJob(ctx, db, "c", "", now); !errors.Is(err, ErrConflict) {
		t.Fatalf("complete queued: want ErrConflict, got %v", err)
	}
	if err := FailJob(ctx, db, "missing", "", "boom", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("fail missing: want ErrNotFound, got %v", err)
	}

	if _, err := LeaseJob(ctx, db, "w1", now); err != nil {
		t.Fatalf("lease c: %v", err)
	}
	if _, err := LeaseJob(ctx, db, "w1", now); err != nil {
		t.Fatalf("lease f: %v", err)
	}

	// Wrong holder.
	if err := CompleteJob(ctx, db, "c", "someone-else", now); !errors.Is(err, ErrConflict) {
		t.Fatalf("complete by non-holder: want ErrConflict, got %v", err)
	}
	if err := CompleteJob(ctx, db, "c", "w1", now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := FailJob(ctx, db, "f", "", "upstream 503", now); err != nil {
		t.Fatalf("fail: %v", err)
	}

	c, _ := GetJob(ctx, db, "c")
	if c.Status != jobs.StatusSucceeded || c.LockedAt != nil || c.LockedBy != nil {
		t.Fatalf("complete did not clear lock: %+v", c)
	}
	f, _ := GetJob(ctx, db, "f")
	if f.Status != jobs.StatusFailed || f.LastError == nil || *f.LastError != "upstream 503" || f.LockedBy != nil {
		t.Fatalf("fail not recorded: %+v", f)
	}

	// Terminal jobs cannot transition again.
	if err := CompleteJob(ctx, db, "c", "", now); !errors.Is(err, ErrConflict) {
		t.Fatalf("double complete: want ErrConflict, got %v", err)
	}
}

func TestRequeueJob(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedJob(t, db, "r", 1, now, nil)
	if _, err := LeaseJob(ctx, db, "w", now); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := FailJob(ctx, db, "r", "w", "boom", now); err != nil {
		t.Fatalf("fail: %v", err)
	}

	later := now.Add(5 * time.Minute)
	if err := RequeueJob(ctx, db, "r", later, now, jobs.StatusFailed); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	r, _ := GetJob(ctx, db, "r")
	if r.Status != jobs.StatusQueued || !r.RunAfter.Equal(later) || r.LastError == nil {
		t.Fatalf("requeue state wrong: %+v", r)
	}
	if err := RequeueJob(ctx, db, "r", later, now, jobs.StatusFailed); !errors.Is(err, ErrConflict) {
		t.Fatalf("requeue of queued job restricted to failed: want ErrConflict, got %v", err)
	}
	if err := RequeueJob(ctx, db, "nope", later, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("requeue missing: want ErrNotFound, got %v", err)
	}
}

func TestRequeueStuckJob_SkipsFreshLease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	cutoff := now.Add(-15 * time.Minute)
	seedJob(t, db, "s", 1, now.Add(-time.Hour), nil)

	// Leased long ago, then picked up again by another worker.
	if _, err := LeaseJob(ctx, db, "w-old", now.Add(-time.Hour)); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := db.Model(&domain.Job{}).Where("id = ?", "s").
		Updates(map[string]any{"locked_at": now.Add(-time.Minute), "locked_by": "w-new"}).Error; err != nil {
		t.Fatalf("re-lease: %v", err)
	}
	if err := RequeueStuckJob(ctx, db, "s", cutoff, now); !errors.Is(err, ErrConflict) {
		t.Fatalf("fresh lease: want ErrConflict, got %v", err)
	}
	s, _ := GetJob(ctx, db, "s")
	if s.Status != jobs.StatusRunning || s.LockedBy == nil || *s.LockedBy != "w-new" {
		t.Fatalf("fresh lease was disturbed: %+v", s)
	}

	if err := db.Model(&domain.Job{}).Where("id = ?", "s").Update("locked_at", now.Add(-time.Hour)).Error; err != nil {
		t.Fatalf("age lock: %v", err)
	}
	if err := RequeueStuckJob(ctx, db, "s", cutoff, now); err != nil {
		t.Fatalf("stale lease: %v", err)
	}
	s, _ = GetJob(ctx, db, "s")
	if s.Status != jobs.StatusQueued || s.LockedAt != nil || s.LockedBy != nil || !s.RunAfter.Equal(now) {
		t.Fatalf("stuck job not requeued: %+v", s)
	}
	if err := RequeueStuckJob(ctx, db, "missing", cutoff, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: want ErrNotFound, got %v", err)
	}
}

func TestListRecoveryRows_AndStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	seedJob(t, db, "q1", 1, now.Add(-3*time.Hour), nil)
	seedJob(t, db, "q2", 1, now.Add(-time.Hour), nil)
	seedJob(t, db, "done", 1, now, nil)
	if err := db.Model(&domain.Job{}).Where("id = ?", "done").Update("status", jobs.StatusSucceeded).Error; err != nil {
		t.Fatalf("mark done: %v", err)
	}

	rows, err := ListRecoveryRows(ctx, db)
	if err != nil {
		t.Fatalf("ListRecoveryRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("succeeded rows must be excluded, got %+v", rows)
	}

	st, err := JobStats(ctx, db)
	if err != nil {
		t.Fatalf("JobStats: %v", err)
	}
	if st.ByStatus[jobs.StatusQueued] != 2 || st.ByStatus[jobs.StatusSucceeded] != 1 {
		t.Fatalf("unexpected counts: %+v", st.ByStatus)
	}
	if st.OldestQueuedAt == nil || !st.OldestQueuedAt.Equal(now.Add(-3*time.Hour)) {
		t.Fatalf("unexpected oldest queued: %v", st.OldestQueuedAt)
	}

	n, err := CountJobs(ctx, db, JobFilter{Status: jobs.StatusQueued})
	if err != nil || n != 2 {
		t.Fatalf("CountJobs queued = %d, %v", n, err)
	}
	page, err := ListJobs(ctx, db, JobFilter{Kind: jobs.KindHeadRefreshOne}, 0, 2)
	if err != nil || len(page) != 2 {
		t.Fatalf("ListJobs: %d rows, %v", len(page), err)
	}
}
