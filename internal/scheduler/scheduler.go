// Package scheduler turns cron expressions from configuration into queued
// jobs. Every trigger enqueues with a time-bucketed idempotency key, so a
// trigger that fires twice within one bucket (two replicas, a restart)
// still produces a single job.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-catalog-ingest/internal/config"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/services"
)

// Off disables a schedule entry.
const Off = "off"

const (
	headStaleAfterHours   = 24
	detailStaleAfterHours = 72
	visibilityBatch       = 200
	scheduledTarget       = "scheduled"
)

// Queue is the part of the job queue the scheduler drives.
type Queue interface {
	Enqueue(ctx context.Context, req services.EnqueueRequest) (services.EnqueueResult, error)
	KeyFor(kind jobs.Kind, target string) string
	Sweep(ctx context.Context, opts services.SweepOptions) (services.SweepReport, error)
}

// Catalog supplies the id batches for periodic visibility recomputes.
type Catalog interface {
	VisibilityBatches(ctx context.Context, size int) ([]jobs.RecomputeVisibility, error)
}

// Entry is one named cron trigger.
type Entry struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler owns the cron runner.
type Scheduler struct {
	Queue     Queue
	Catalog   Catalog
	Schedule  config.ScheduleConfig
	BulkLimit int
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Entries lists the enabled triggers. Entries set to "off" or left blank
// are omitted.
func (s *Scheduler) Entries() []Entry {
	all := []Entry{
		{Name: "head_refresh", Spec: s.Schedule.HeadRefresh, Run: s.HeadRefresh},
		{Name: "detail_refresh", Spec: s.Schedule.DetailRefresh, Run: s.DetailRefresh},
		{Name: "visibility", Spec: s.Schedule.Visibility, Run: s.Visibility},
		{Name: "recovery", Spec: s.Schedule.Recovery, Run: s.Recovery},
		{Name: "audit", Spec: s.Schedule.Audit, Run: s.Audits},
	}
	out := all[:0]
	for _, e := range all {
		spec := strings.TrimSpace(e.Spec)
		if spec == "" || strings.EqualFold(spec, Off) {
			continue
		}
		e.Spec = spec
		out = append(out, e)
	}
	return out
}

// Build parses every enabled entry into a cron runner without starting it.
func (s *Scheduler) Build(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	for _, e := range s.Entries() {
		e := e
		if _, err := c.AddFunc(e.Spec, func() { s.fire(ctx, e) }); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", e.Name, e.Spec, err)
		}
	}
	return c, nil
}

// Run starts the triggers and blocks until ctx is done, then waits for
// in-flight triggers to return.
func (s *Scheduler) Run(ctx context.Context) error {
	c, err := s.Build(ctx)
	if err != nil {
		return err
	}
	c.Start()
	log.Ctx(ctx).Info().Int("entries", len(c.Entries())).Msg("scheduler started")
	<-ctx.Done()
	<-c.Stop().Done()
	log.Ctx(ctx).Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) fire(ctx context.Context, e Entry) {
	lg := log.Ctx(ctx).With().Str("schedule", e.Name).Logger()
	start := time.Now()
	if err := e.Run(lg.WithContext(ctx)); err != nil {
		lg.Error().Err(err).Msg("scheduled trigger failed")
		return
	}
	lg.Debug().Dur("took", time.Since(start)).Msg("scheduled trigger done")
}

func (s *Scheduler) limit() int {
	if s.BulkLimit < 1 || s.BulkLimit > jobs.MaxBulkLimit {
		return jobs.MaxBulkLimit
	}
	return s.BulkLimit
}

func (s *Scheduler) enqueue(ctx context.Context, p jobs.Payload, target string) (services.EnqueueResult, error) {
	res, err := s.Queue.Enqueue(ctx, services.EnqueueRequest{
		Kind:           p.Kind(),
		Payload:        p,
		IdempotencyKey: s.Queue.KeyFor(p.Kind(), target),
	})
	if err != nil {
		return res, fmt.Errorf("enqueue %s: %w", p.Kind(), err)
	}
	log.Ctx(ctx).Info().
		Str("kind", string(p.Kind())).
		Str("job_id", res.Job.ID).
		Bool("deduped", res.Deduped).
		Msg("scheduled job enqueued")
	return res, nil
}

// HeadRefresh enqueues one bulk reachability refresh.
func (s *Scheduler) HeadRefresh(ctx context.Context) error {
	_, err := s.enqueue(ctx, jobs.HeadRefreshBulk{Limit: s.limit(), StaleAfterHours: headStaleAfterHours}, scheduledTarget)
	return err
}

// DetailRefresh enqueues one bulk detail refresh.
func (s *Scheduler) DetailRefresh(ctx context.Context) error {
	_, err := s.enqueue(ctx, jobs.DetailRefreshBulk{Limit: s.limit(), StaleAfterHours: detailStaleAfterHours}, scheduledTarget)
	return err
}

// Visibility enqueues recompute jobs covering the whole catalog.
func (s *Scheduler) Visibility(ctx context.Context) error {
	batches, err := s.Catalog.VisibilityBatches(ctx, visibilityBatch)
	if err != nil {
		return err
	}
	for i, b := range batches {
		if _, err := s.enqueue(ctx, b, fmt.Sprintf("batch-%d", i)); err != nil {
			return err
		}
	}
	return nil
}

// Recovery runs the recovery sweep inline; it is a short bounded pass.
func (s *Scheduler) Recovery(ctx context.Context) error {
	rep, err := s.Queue.Sweep(ctx, services.SweepOptions{})
	if err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Int("stale_queued", len(rep.Candidates.StaleQueuedIDs)).
		Int("stuck_running", len(rep.Candidates.StuckRunningIDs)).
		Int("failed", len(rep.Candidates.FailedIDs)).
		Int("recovered_stuck", rep.RecoveredStuck).
		Int("requeued_failed", rep.RequeuedFailed).
		Msg("recovery sweep")
	return nil
}

// Audits enqueues one job per audit report.
func (s *Scheduler) Audits(ctx context.Context) error {
	for _, k := range []jobs.AuditKind{jobs.AuditProvenance, jobs.AuditQuality, jobs.AuditRegression} {
		if _, err := s.enqueue(ctx, jobs.Audit{Report: k}, string(k)); err != nil {
			return err
		}
	}
	return nil
}
