// Job HTTP handlers.
//
// This file exposes the queue:
//   - POST /jobs                  (enqueue, Idempotency-Key aware)
//   - GET  /jobs                  (list, paginated, status/kind filters)
//   - GET  /jobs/{id}             (fetch)
//   - POST /jobs/recovery/sweep   (classify and remediate)
//   - GET  /queue/stats           (per-status counts)
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/http/middleware"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/repo"
	"github.com/tbourn/go-catalog-ingest/internal/services"
	"github.com/tbourn/go-catalog-ingest/internal/utils"
)

//
// DTOs
//

// EnqueueJobRequest is the JSON payload for adding a job.
type EnqueueJobRequest struct {
	// Kind is one of the registered job kinds.
	Kind string `json:"kind" example:"ingest.offer"`
	// Payload must match the kind's shape; unknown fields are rejected.
	Payload json.RawMessage `json:"payload" swaggertype:"object"`
	// Priority overrides the default; lower leases first.
	Priority *int `json:"priority,omitempty" example:"50"`
	// RunAfter delays the first lease.
	RunAfter *time.Time `json:"run_after,omitempty" example:"2025-06-01T10:30:00Z"`
	// IdempotencyKey is used when no Idempotency-Key header is sent.
	IdempotencyKey string `json:"idempotency_key,omitempty" example:"ingest.offer:acme:sku-1"`
}

// EnqueueJobResponse is the job now representing the request.
type EnqueueJobResponse struct {
	Job     *domain.Job `json:"job"`
	Deduped bool        `json:"deduped"`
}

// ListJobsResponse wraps a page of jobs and pagination information.
type ListJobsResponse struct {
	Jobs       []domain.Job `json:"jobs"`
	Pagination Pagination   `json:"pagination"`
}

// QueueStatsResponse summarises the queue.
type QueueStatsResponse struct {
	ByStatus       map[jobs.Status]int64 `json:"by_status"`
	OldestQueuedAt *time.Time            `json:"oldest_queued_at,omitempty"`
}

// bindJSON decodes the body into dst, answering 413 or 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeBodyTooLarge, "request body too large")
			return false
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

//
// Handlers
//

// EnqueueJob godoc
// @ID          enqueueJob
// @Summary     Enqueue a job
// @Description Validates the payload against its kind and queues a job. When an active job already holds the idempotency key, that job is returned with 200 and deduped=true.
// @Tags        Jobs
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Job idempotency key"  example(offers.head_refresh.one:offer-1:2025-06-01T10:30:00Z)
// @Param       X-Actor          header  string  false "Operator name"        example(ops)
// @Param       body             body    handlers.EnqueueJobRequest  true  "Job"
//
// @Success     201  {object}  handlers.EnqueueJobResponse  "Created"
// @Success     200  {object}  handlers.EnqueueJobResponse  "Deduplicated"
// @Failure     400  {object}  handlers.ErrorResponse       "Validation failed"
// @Failure     413  {object}  handlers.ErrorResponse       "Body too large"
// @Failure     429  {object}  handlers.ErrorResponse       "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse       "Internal error"
// @Router      /jobs [post]
func (h *Handlers) EnqueueJob(c *gin.Context) {
	var req EnqueueJobRequest
	if !bindJSON(c, &req) {
		return
	}

	kind := jobs.Kind(strings.TrimSpace(req.Kind))
	payload, err := jobs.DecodePayload(kind, req.Payload)
	if err != nil {
		failFrom(c, err)
		return
	}

	key, has := middleware.GetIdempotencyKey(c)
	if !has {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	in := services.EnqueueRequest{
		Kind:           kind,
		Payload:        payload,
		IdempotencyKey: key,
		Priority:       req.Priority,
	}
	if req.RunAfter != nil {
		in.RunAfter = req.RunAfter.UTC()
	}

	res, err := h.queue.Enqueue(c.Request.Context(), in)
	if err != nil {
		failFrom(c, err)
		return
	}
	status := http.StatusCreated
	if res.Deduped {
		status = http.StatusOK
	}
	ok(c, status, EnqueueJobResponse{Job: res.Job, Deduped: res.Deduped})
}

// ListJobs godoc
// @ID          listJobs
// @Summary     List jobs (paginated)
// @Description Returns jobs ordered by creation time, newest first, optionally filtered by status and kind.
// @Tags        Jobs
// @Produce     json
//
// @Param       status     query  string  false "Status filter"   Enums(queued, running, succeeded, failed)
// @Param       kind       query  string  false "Kind filter"     example(ingest.offer)
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListJobsResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad filter"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /jobs [get]
func (h *Handlers) ListJobs(c *gin.Context) {
	f := repo.JobFilter{
		Status: jobs.Status(strings.TrimSpace(c.Query("status"))),
		Kind:   jobs.Kind(strings.TrimSpace(c.Query("kind"))),
	}
	switch f.Status {
	case "", jobs.StatusQueued, jobs.StatusRunning, jobs.StatusSucceeded, jobs.StatusFailed:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status "+strconv.Quote(string(f.Status)))
		return
	}
	if f.Kind != "" && !jobs.Known(f.Kind) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown kind "+strconv.Quote(string(f.Kind)))
		return
	}
	page, pageSize := utils.ClampPage(c.Query("page"), c.Query("page_size"))

	items, total, err := h.queue.List(c.Request.Context(), f, page, pageSize)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, ListJobsResponse{Jobs: items, Pagination: newPagination(page, pageSize, total)})
}

// GetJob godoc
// @ID          getJob
// @Summary     Fetch a job
// @Tags        Jobs
// @Produce     json
//
// @Param       id  path  string  true  "Job ID"  example(5b0f4a52-8f7e-4f59-9b6e-3f5d0c1e2a11)
//
// @Success     200  {object} domain.Job
// @Failure     404  {object} handlers.ErrorResponse "Job not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /jobs/{id} [get]
func (h *Handlers) GetJob(c *gin.Context) {
	j, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, j)
}

// SweepRecovery godoc
// @ID          sweepRecovery
// @Summary     Run the recovery sweep
// @Description Classifies stale queued, stuck running and failed jobs. Unless dry_run is set, stuck jobs are forced back to queued and, when enabled, failed jobs are re-queued with backoff.
// @Tags        Jobs
// @Produce     json
//
// @Param       dry_run  query  bool  false "Only classify"  default(false)
//
// @Success     200  {object} services.SweepReport
// @Failure     400  {object} handlers.ErrorResponse "Bad dry_run"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /jobs/recovery/sweep [post]
func (h *Handlers) SweepRecovery(c *gin.Context) {
	var dry bool
	if raw := strings.TrimSpace(c.Query("dry_run")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "dry_run must be a boolean")
			return
		}
		dry = v
	}
	rep, err := h.queue.Sweep(c.Request.Context(), services.SweepOptions{DryRun: dry})
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}

// QueueStats godoc
// @ID          queueStats
// @Summary     Queue statistics
// @Tags        Jobs
// @Produce     json
// @Success     200  {object} handlers.QueueStatsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /queue/stats [get]
func (h *Handlers) QueueStats(c *gin.Context) {
	st, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, QueueStatsResponse{ByStatus: st.ByStatus, OldestQueuedAt: st.OldestQueuedAt})
}
