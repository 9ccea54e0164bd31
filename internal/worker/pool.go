// Package worker runs queued jobs. A Pool starts a fixed number of
// goroutines that each loop lease → execute → complete/fail until their
// context is cancelled. Execution failures are recorded on the job and are
// not retried here; the recovery sweep decides what happens next.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/observability"
)

// ErrNoExecutor is recorded on jobs whose kind has no registered executor.
var ErrNoExecutor = errors.New("no executor registered for job kind")

// Executor runs one leased job.
type Executor func(ctx context.Context, job *domain.Job) error

// Queue is the part of the job queue a worker needs.
type Queue interface {
	Lease(ctx context.Context, workerID string) (*domain.Job, error)
	CompleteLeased(ctx context.Context, jobID, workerID string) error
	FailLeased(ctx context.Context, jobID, workerID string, cause error) error
}

// Pool executes jobs concurrently.
type Pool struct {
	Queue     Queue
	Executors map[jobs.Kind]Executor

	// ID prefixes worker ids; each goroutine appends its index.
	ID      string
	Workers int
	// PollInterval is the first sleep after an empty lease. Consecutive
	// empty leases double it up to IdleBackoff.
	PollInterval time.Duration
	IdleBackoff  time.Duration
}

func (p *Pool) workers() int {
	if p.Workers < 1 {
		return 1
	}
	return p.Workers
}

func (p *Pool) poll() time.Duration {
	if p.PollInterval <= 0 {
		return time.Second
	}
	return p.PollInterval
}

func (p *Pool) maxIdle() time.Duration {
	if p.IdleBackoff < p.poll() {
		return p.poll()
	}
	return p.IdleBackoff
}

// Run blocks until ctx is done and every worker has returned.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers(); i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			p.loop(ctx, workerID)
		}(fmt.Sprintf("%s-%d", p.ID, i))
	}
	log.Ctx(ctx).Info().Str("pool", p.ID).Int("workers", p.workers()).Msg("worker pool started")
	wg.Wait()
	log.Ctx(ctx).Info().Str("pool", p.ID).Msg("worker pool stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	idle := p.poll()
	for ctx.Err() == nil {
		worked, err := p.RunOnce(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			log.Ctx(ctx).Error().Err(err).Str("worker", workerID).Msg("lease failed")
		}
		if worked {
			idle = p.poll()
			continue
		}
		if wait(ctx, idle) != nil {
			return
		}
		if idle *= 2; idle > p.maxIdle() {
			idle = p.maxIdle()
		}
	}
}

// RunOnce leases and executes at most one job. It reports whether a job was
// processed; the returned error is a lease error, never an execution error.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (bool, error) {
	job, err := p.Queue.Lease(ctx, workerID)
	if err != nil || job == nil {
		return false, err
	}

	lg := zerolog.Ctx(ctx).With().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("worker", workerID).
		Int("attempt", job.Attempts).
		Logger()
	ctx = lg.WithContext(ctx)

	ctx, span := observability.Tracer("worker").Start(ctx, "Execute",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.kind", string(job.Kind)),
			attribute.String("worker.id", workerID),
		),
	)
	start := time.Now()
	execErr := p.execute(ctx, job)
	observability.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())
	_ = observability.RecordError(span, execErr)
	span.End()

	// The outcome is recorded even when shutdown cancelled the job.
	finishCtx := context.WithoutCancel(ctx)
	if execErr != nil {
		lg.Warn().Err(execErr).Msg("job failed")
		if err := p.Queue.FailLeased(finishCtx, job.ID, workerID, execErr); err != nil {
			lg.Error().Err(err).Msg("record job failure")
		}
		return true, nil
	}
	if err := p.Queue.CompleteLeased(finishCtx, job.ID, workerID); err != nil {
		lg.Error().Err(err).Msg("record job completion")
		return true, nil
	}
	lg.Debug().Dur("took", time.Since(start)).Msg("job succeeded")
	return true, nil
}

func (p *Pool) execute(ctx context.Context, job *domain.Job) (err error) {
	fn, ok := p.Executors[job.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoExecutor, job.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Str("stack", string(debug.Stack())).Msgf("executor panic: %v", r)
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return fn(ctx, job)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
