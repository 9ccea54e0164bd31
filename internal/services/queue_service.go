// Package services – QueueService
//
// This file implements QueueService, the application-level owner of the job
// lifecycle: validated and idempotent enqueue, atomic lease, terminal
// transitions, manual requeue and the operational recovery sweep.
//
// Delivery is at-least-once. A job whose worker dies stays running until the
// sweep classifies it as stuck and forces it back to queued, so executors
// must be idempotent.
//
// Observability: every public method opens an OpenTelemetry span and updates
// the Prometheus queue counters.
package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-catalog-ingest/internal/config"
	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/hashing"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/observability"
	"github.com/tbourn/go-catalog-ingest/internal/repo"
)

// QueueService coordinates job persistence.
type QueueService struct {
	DB *gorm.DB

	DefaultPriority int
	// Window is the bucket used by KeyFor.
	Window time.Duration

	// Recovery settings.
	StaleQueuedMinutes  int
	StuckRunningMinutes int
	RequeueFailed       bool
	MaxAttempts         int
	RetryBackoff        time.Duration

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewQueueService builds a QueueService from configuration.
func NewQueueService(db *gorm.DB, q config.QueueConfig, rc config.RecoveryConfig) *QueueService {
	return &QueueService{
		DB:                  db,
		DefaultPriority:     q.DefaultPriority,
		Window:              q.IdempotencyBucket,
		StaleQueuedMinutes:  rc.StaleQueuedMinutes,
		StuckRunningMinutes: rc.StuckRunningMinutes,
		RequeueFailed:       rc.RequeueFailed,
		MaxAttempts:         q.MaxAttempts,
		RetryBackoff:        q.RetryBackoff,
		Now:                 time.Now,
	}
}

func (s *QueueService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *QueueService) tracer() trace.Tracer { return observability.Tracer("services/QueueService") }

// KeyFor derives the time-bucketed idempotency key for kind and target.
func (s *QueueService) KeyFor(kind jobs.Kind, target string) string {
	return jobs.IdempotencyKey(kind, target, s.now(), s.Window)
}

// EnqueueRequest describes a job to add. Priority nil means the configured
// default; zero RunAfter means now; empty IdempotencyKey disables dedup.
type EnqueueRequest struct {
	Kind           jobs.Kind
	Payload        jobs.Payload
	IdempotencyKey string
	Priority       *int
	RunAfter       time.Time
}

// EnqueueResult is the job that now represents the request. Deduped is true
// when an active job with the same key already existed.
type EnqueueResult struct {
	Job     *domain.Job `json:"job"`
	Deduped bool        `json:"deduped"`
}

// Enqueue validates the payload and inserts a queued job, unless an active
// job already holds the idempotency key, in which case that job is returned.
// Invalid requests return a *jobs.ValidationError and create no state.
func (s *QueueService) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	ctx, span := s.tracer().Start(ctx, "Enqueue",
		trace.WithAttributes(
			attribute.String("job.kind", string(req.Kind)),
			attribute.String("job.idempotency_key", req.IdempotencyKey),
		),
	)
	defer span.End()

	if err := jobs.Check(req.Kind, req.Payload); err != nil {
		return EnqueueResult{}, err
	}
	body, err := hashing.StableJSONStringify(req.Payload)
	if err != nil {
		return EnqueueResult{}, observability.RecordError(span, err)
	}

	job := &domain.Job{
		Kind:     req.Kind,
		Payload:  datatypes.JSON(body),
		Priority: s.DefaultPriority,
		RunAfter: req.RunAfter,
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = s.now()
	}
	if req.Priority != nil {
		job.Priority = *req.Priority
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		job.IdempotencyKey = &key
	}

	var res EnqueueResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if job.IdempotencyKey != nil {
			existing, err := repo.FindActiveJobByKey(ctx, tx, *job.IdempotencyKey)
			if err == nil {
				res = EnqueueResult{Job: existing, Deduped: true}
				return nil
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}
		if err := repo.CreateJob(ctx, tx, job); err != nil {
			return err
		}
		res = EnqueueResult{Job: job}
		return nil
	})
	if err != nil && job.IdempotencyKey != nil && repo.IsUniqueViolation(err) {
		// Lost the insert race; the winner is the active job.
		existing, ferr := repo.FindActiveJobByKey(ctx, s.DB, *job.IdempotencyKey)
		if ferr == nil {
			res, err = EnqueueResult{Job: existing, Deduped: true}, nil
		}
	}
	if err != nil {
		return EnqueueResult{}, observability.RecordError(span, err)
	}

	observability.JobsEnqueued.WithLabelValues(string(req.Kind), strconv.FormatBool(res.Deduped)).Inc()
	span.SetAttributes(attribute.String("job.id", res.Job.ID), attribute.Bool("job.deduped", res.Deduped))
	log.Ctx(ctx).Debug().
		Str("job_id", res.Job.ID).
		Str("kind", string(req.Kind)).
		Bool("deduped", res.Deduped).
		Msg("job enqueued")
	return res, nil
}

// Lease claims the next eligible job for workerID, or returns (nil, nil).
func (s *QueueService) Lease(ctx context.Context, workerID string) (*domain.Job, error) {
	ctx, span := s.tracer().Start(ctx, "Lease", trace.WithAttributes(attribute.String("worker.id", workerID)))
	defer span.End()

	j, err := repo.LeaseJob(ctx, s.DB, workerID, s.now())
	if err != nil {
		return nil, observability.RecordError(span, err)
	}
	if j != nil {
		observability.JobsLeased.WithLabelValues(string(j.Kind)).Inc()
		span.SetAttributes(attribute.String("job.id", j.ID), attribute.Int("job.attempts", j.Attempts))
	}
	return j, nil
}

// Complete marks a running job succeeded.
func (s *QueueService) Complete(ctx context.Context, jobID string) error {
	return s.finish(ctx, jobID, "", nil)
}

// Fail marks a running job failed and records cause.
func (s *QueueService) Fail(ctx context.Context, jobID string, cause error) error {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	return s.finish(ctx, jobID, "", cause)
}

// CompleteLeased is Complete restricted to the worker holding the lock, so a
// worker whose job was recovered and re-leased cannot finish it.
func (s *QueueService) CompleteLeased(ctx context.Context, jobID, workerID string) error {
	return s.finish(ctx, jobID, workerID, nil)
}

// FailLeased is Fail restricted to the worker holding the lock.
func (s *QueueService) FailLeased(ctx context.Context, jobID, workerID string, cause error) error {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	return s.finish(ctx, jobID, workerID, cause)
}

func (s *QueueService) finish(ctx context.Context, jobID, workerID string, cause error) error {
	status := jobs.StatusSucceeded
	if cause != nil {
		status = jobs.StatusFailed
	}
	ctx, span := s.tracer().Start(ctx, "Finish",
		trace.WithAttributes(attribute.String("job.id", jobID), attribute.String("job.status", string(status))),
	)
	defer span.End()

	var err error
	if cause != nil {
		err = repo.FailJob(ctx, s.DB, jobID, workerID, cause.Error(), s.now())
	} else {
		err = repo.CompleteJob(ctx, s.DB, jobID, workerID, s.now())
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrJobNotFound
	case errors.Is(err, repo.ErrConflict):
		return ErrJobNotRunning
	case err != nil:
		return observability.RecordError(span, err)
	}

	kind := ""
	if j, gerr := repo.GetJob(ctx, s.DB, jobID); gerr == nil {
		kind = string(j.Kind)
	}
	observability.JobsFinished.WithLabelValues(kind, string(status)).Inc()
	return nil
}

// Requeue returns a queued, running or failed job to queued with the given
// run_after (now when zero). Succeeded jobs are refused.
func (s *QueueService) Requeue(ctx context.Context, jobID string, runAfter time.Time) (*domain.Job, error) {
	ctx, span := s.tracer().Start(ctx, "Requeue", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	now := s.now()
	if runAfter.IsZero() {
		runAfter = now
	}
	err := repo.RequeueJob(ctx, s.DB, jobID, runAfter, now)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrJobNotFound
	case errors.Is(err, repo.ErrConflict):
		return nil, ErrJobSucceeded
	case err != nil:
		return nil, observability.RecordError(span, err)
	}
	return repo.GetJob(ctx, s.DB, jobID)
}

// Get fetches one job.
func (s *QueueService) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	j, err := repo.GetJob(ctx, s.DB, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// List returns a page of jobs and the total matching f.
func (s *QueueService) List(ctx context.Context, f repo.JobFilter, page, pageSize int) ([]domain.Job, int64, error) {
	ctx, span := s.tracer().Start(ctx, "List",
		trace.WithAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize)),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountJobs(ctx, s.DB, f)
	if err != nil {
		return nil, 0, observability.RecordError(span, err)
	}
	if total == 0 {
		return []domain.Job{}, 0, nil
	}
	items, err := repo.ListJobs(ctx, s.DB, f, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Stats returns queue aggregates.
func (s *QueueService) Stats(ctx context.Context) (repo.QueueStats, error) {
	return repo.JobStats(ctx, s.DB)
}

// SweepOptions tunes one sweep. DryRun only classifies.
type SweepOptions struct {
	DryRun bool
}

// SweepReport is the outcome of a recovery sweep.
type SweepReport struct {
	Candidates     jobs.RecoveryCandidates `json:"candidates"`
	RecoveredStuck int                     `json:"recoveredStuck"`
	RequeuedFailed int                     `json:"requeuedFailed"`
	DryRun         bool                    `json:"dryRun"`
}

// Sweep classifies non-succeeded jobs and remediates them:
// stale queued jobs are only reported, stuck running jobs are forced back
// to queued, and failed jobs are re-queued with backoff when RequeueFailed
// is set and attempts remain.
func (s *QueueService) Sweep(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	ctx, span := s.tracer().Start(ctx, "Sweep", trace.WithAttributes(attribute.Bool("dry_run", opts.DryRun)))
	defer span.End()

	now := s.now()
	rows, err := repo.ListRecoveryRows(ctx, s.DB)
	if err != nil {
		return SweepReport{}, observability.RecordError(span, err)
	}
	rep := SweepReport{
		Candidates: jobs.ClassifyRecoveryCandidates(rows, now, s.StaleQueuedMinutes, s.StuckRunningMinutes),
		DryRun:     opts.DryRun,
	}
	span.SetAttributes(
		attribute.Int("recovery.stale_queued", len(rep.Candidates.StaleQueuedIDs)),
		attribute.Int("recovery.stuck_running", len(rep.Candidates.StuckRunningIDs)),
		attribute.Int("recovery.failed", len(rep.Candidates.FailedIDs)),
	)
	observability.RecoveryActions.WithLabelValues("stale_queued_seen").Add(float64(len(rep.Candidates.StaleQueuedIDs)))
	if opts.DryRun {
		return rep, nil
	}

	lg := log.Ctx(ctx)
	stuckCutoff := now.Add(-time.Duration(s.StuckRunningMinutes) * time.Minute)
	for _, id := range rep.Candidates.StuckRunningIDs {
		err := repo.RequeueStuckJob(ctx, s.DB, id, stuckCutoff, now)
		if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) {
			continue // finished or re-leased since classification
		}
		if err != nil {
			return rep, observability.RecordError(span, err)
		}
		rep.RecoveredStuck++
		lg.Warn().Str("job_id", id).Msg("stuck job forced back to queued")
	}
	observability.RecoveryActions.WithLabelValues("stuck_requeued").Add(float64(rep.RecoveredStuck))

	if !s.RequeueFailed {
		return rep, nil
	}
	for _, id := range rep.Candidates.FailedIDs {
		j, err := repo.GetJob(ctx, s.DB, id)
		if err != nil {
			continue
		}
		if s.MaxAttempts > 0 && j.Attempts >= s.MaxAttempts {
			continue
		}
		runAfter := now.Add(jobs.RetryDelay(j.Attempts, s.RetryBackoff))
		err = repo.RequeueJob(ctx, s.DB, id, runAfter, now, jobs.StatusFailed)
		if errors.Is(err, repo.ErrConflict) {
			continue
		}
		if err != nil {
			return rep, observability.RecordError(span, err)
		}
		rep.RequeuedFailed++
		lg.Info().Str("job_id", id).Int("attempts", j.Attempts).Time("run_after", runAfter).Msg("failed job re-queued")
	}
	observability.RecoveryActions.WithLabelValues("failed_requeued").Add(float64(rep.RequeuedFailed))
	return rep, nil
}
