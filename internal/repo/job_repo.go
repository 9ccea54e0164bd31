// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Job model:
// inserting jobs, looking up the active holder of an idempotency key, leasing
// with a compare-and-swap claim, and the conditional state transitions used by
// workers and the recovery sweep.
//
// Leasing works on both backends. Candidates are read in queue order and each
// one is claimed with
//
//	UPDATE jobs SET status='running', ... WHERE id=? AND status='queued'
//
// so exactly one concurrent caller observes RowsAffected == 1. On PostgreSQL
// the candidate select additionally takes FOR UPDATE SKIP LOCKED inside a
// transaction so competing workers skip rows instead of blocking on them.
//
// All timestamps are written in UTC so SQLite's text comparison of times
// orders them correctly.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
)

// leaseBatch is how many candidates a SQLite lease inspects before giving up.
const leaseBatch = 8

// JobFilter narrows ListJobs/CountJobs. Zero values match everything.
type JobFilter struct {
	Status jobs.Status
	Kind   jobs.Kind
}

func (f JobFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	return q
}

// CreateJob inserts job as queued. ID, RunAfter and timestamps are filled in
// when empty. A unique violation on the active idempotency index is returned
// as-is; callers detect it with IsUniqueViolation.
func CreateJob(ctx context.Context, db *gorm.DB, job *domain.Job) error {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	job.RunAfter = job.RunAfter.UTC()
	job.Status = jobs.StatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now
	return db.WithContext(ctx).Create(job).Error
}

// FindActiveJobByKey returns the queued or running job holding key, or
// ErrNotFound.
func FindActiveJobByKey(ctx context.Context, db *gorm.DB, key string) (*domain.Job, error) {
	var found []domain.Job
	err := db.WithContext(ctx).
		Where("idempotency_key = ? AND status IN ?", key, []jobs.Status{jobs.StatusQueued, jobs.StatusRunning}).
		Order("created_at ASC").
		Limit(1).
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return &found[0], nil
}

// GetJob fetches a job by id, or ErrNotFound.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	var j domain.Job
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs returns a page of jobs, most recently created first.
func ListJobs(ctx context.Context, db *gorm.DB, f JobFilter, offset, limit int) ([]domain.Job, error) {
	var out []domain.Job
	err := f.apply(db.WithContext(ctx)).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountJobs returns the number of jobs matching f.
func CountJobs(ctx context.Context, db *gorm.DB, f JobFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Job{})).Count(&total).Error
	return total, err
}

// eligible selects queued jobs whose run_after has passed, in lease order.
func eligible(q *gorm.DB, now time.Time) *gorm.DB {
	return q.Model(&domain.Job{}).
		Where("status = ? AND run_after <= ?", jobs.StatusQueued, now).
		Order("priority ASC, run_after ASC, created_at ASC, id ASC")
}

// ClaimJob atomically moves one queued job to running for workerID. It
// reports false when another worker claimed it first.
func ClaimJob(ctx context.Context, db *gorm.DB, id, workerID string, now time.Time) (bool, error) {
	now = now.UTC()
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, jobs.StatusQueued).
		Updates(map[string]any{
			"status":     jobs.StatusRunning,
			"locked_at":  now,
			"locked_by":  workerID,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LeaseJob claims the next eligible job for workerID. It returns (nil, nil)
// when nothing is eligible or every candidate was taken concurrently.
func LeaseJob(ctx context.Context, db *gorm.DB, workerID string, now time.Time) (*domain.Job, error) {
	now = now.UTC()
	if IsPostgres(db) {
		return leaseSkipLocked(ctx, db, workerID, now)
	}

	var ids []string
	if err := eligible(db.WithContext(ctx), now).Limit(leaseBatch).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		ok, err := ClaimJob(ctx, db, id, workerID, now)
		if err != nil {
			return nil, err
		}
		if ok {
			return GetJob(ctx, db, id)
		}
	}
	return nil, nil
}

func leaseSkipLocked(ctx context.Context, db *gorm.DB, workerID string, now time.Time) (*domain.Job, error) {
	var leased *domain.Job
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cand domain.Job
		err := eligible(tx, now).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Limit(1).
			Take(&cand).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok, err := ClaimJob(ctx, tx, cand.ID, workerID, now)
		if err != nil || !ok {
			return err
		}
		leased, err = GetJob(ctx, tx, cand.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// finishRunning applies a terminal transition to a running job. lockedBy,
// when non-empty, must match the current lock holder. It returns ErrNotFound
// for a missing job and ErrConflict when the job is not running (or is held
// by someone else).
func finishRunning(ctx context.Context, db *gorm.DB, id, lockedBy string, fields map[string]any) error {
	q := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, jobs.StatusRunning)
	if lockedBy != "" {
		q = q.Where("locked_by = ?", lockedBy)
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := GetJob(ctx, db, id); err != nil {
		return err
	}
	return ErrConflict
}

// CompleteJob moves a running job to succeeded and clears its lock.
func CompleteJob(ctx context.Context, db *gorm.DB, id, lockedBy string, now time.Time) error {
	return finishRunning(ctx, db, id, lockedBy, map[string]any{
		"status":     jobs.StatusSucceeded,
		"locked_at":  nil,
		"locked_by":  nil,
		"updated_at": now.UTC(),
	})
}

// FailJob moves a running job to failed, clears its lock and records msg.
func FailJob(ctx context.Context, db *gorm.DB, id, lockedBy, msg string, now time.Time) error {
	return finishRunning(ctx, db, id, lockedBy, map[string]any{
		"status":     jobs.StatusFailed,
		"locked_at":  nil,
		"locked_by":  nil,
		"last_error": msg,
		"updated_at": now.UTC(),
	})
}

// RequeueJob puts a job back to queued with a new run_after, provided its
// current status is one of from. The lock is discarded; last_error is kept.
func RequeueJob(ctx context.Context, db *gorm.DB, id string, runAfter, now time.Time, from ...jobs.Status) error {
	if len(from) == 0 {
		from = []jobs.Status{jobs.StatusQueued, jobs.StatusRunning, jobs.StatusFailed}
	}
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":     jobs.StatusQueued,
			"run_after":  runAfter.UTC(),
			"locked_at":  nil,
			"locked_by":  nil,
			"updated_at": now.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := GetJob(ctx, db, id); err != nil {
		return err
	}
	return ErrConflict
}

// RequeueStuckJob forces a running job back to queued, but only while its
// lock is still older than cutoff. A job re-leased after classification
// keeps running and ErrConflict is returned.
func RequeueStuckJob(ctx context.Context, db *gorm.DB, id string, cutoff, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, jobs.StatusRunning).
		Where("locked_at IS NULL OR locked_at < ?", cutoff.UTC()).
		Updates(map[string]any{
			"status":     jobs.StatusQueued,
			"run_after":  now.UTC(),
			"locked_at":  nil,
			"locked_by":  nil,
			"updated_at": now.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := GetJob(ctx, db, id); err != nil {
		return err
	}
	return ErrConflict
}

// ListRecoveryRows loads the classifier's view of every non-succeeded job,
// oldest first.
func ListRecoveryRows(ctx context.Context, db *gorm.DB) ([]jobs.RecoveryRow, error) {
	var rows []domain.Job
	err := db.WithContext(ctx).
		Select("id", "status", "run_after", "locked_at", "attempts", "created_at").
		Where("status IN ?", []jobs.Status{jobs.StatusQueued, jobs.StatusRunning, jobs.StatusFailed}).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]jobs.RecoveryRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, jobs.RecoveryRow{ID: r.ID, Status: r.Status, RunAfter: r.RunAfter, LockedAt: r.LockedAt})
	}
	return out, nil
}
