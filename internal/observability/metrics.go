package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/repo"
)

// Queue and worker collectors. Labels are limited to the closed set of job
// kinds and statuses so cardinality stays bounded.
var (
	// JobsEnqueued counts Enqueue calls by kind and whether they deduplicated.
	JobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_jobs_enqueued_total",
			Help: "Jobs accepted by Enqueue.",
		},
		[]string{"kind", "deduped"},
	)

	// JobsLeased counts successful leases by kind.
	JobsLeased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_jobs_leased_total",
			Help: "Jobs claimed by workers.",
		},
		[]string{"kind"},
	)

	// JobsFinished counts terminal transitions by kind and status.
	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_jobs_finished_total",
			Help: "Jobs that reached succeeded or failed.",
		},
		[]string{"kind", "status"},
	)

	// JobDuration observes executor run time by kind.
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_job_duration_seconds",
			Help:    "Executor run time.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	// RecoveryActions counts sweep remediations by action.
	RecoveryActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_recovery_actions_total",
			Help: "Jobs remediated by the recovery sweep.",
		},
		[]string{"action"},
	)

	// CatalogChanges counts visibility flips and prune deletions.
	CatalogChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_changes_total",
			Help: "Catalog rows activated, deactivated or pruned.",
		},
		[]string{"entity", "change"},
	)
)

func init() {
	prometheus.MustRegister(JobsEnqueued, JobsLeased, JobsFinished, JobDuration, RecoveryActions, CatalogChanges)
}

// StatsFunc loads queue aggregates; repo.JobStats bound to a DB fits.
type StatsFunc func(ctx context.Context) (repo.QueueStats, error)

// QueueCollector reports queue depth per status and the age of the oldest
// queued job at scrape time.
type QueueCollector struct {
	stats   StatsFunc
	timeout time.Duration
	now     func() time.Time

	depth *prometheus.Desc
	lag   *prometheus.Desc
	up    *prometheus.Desc
}

// NewQueueCollector builds a collector around stats.
func NewQueueCollector(stats StatsFunc) *QueueCollector {
	return &QueueCollector{
		stats:   stats,
		timeout: 2 * time.Second,
		now:     time.Now,
		depth: prometheus.NewDesc("catalog_jobs",
			"Jobs by status.", []string{"status"}, nil),
		lag: prometheus.NewDesc("catalog_oldest_queued_job_age_seconds",
			"Age of the oldest queued job's run_after.", nil, nil),
		up: prometheus.NewDesc("catalog_queue_stats_up",
			"1 when the last queue stats query succeeded.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
	ch <- c.lag
	ch <- c.up
}

// Collect implements prometheus.Collector.
func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	st, err := c.stats(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	for _, s := range []jobs.Status{jobs.StatusQueued, jobs.StatusRunning, jobs.StatusSucceeded, jobs.StatusFailed} {
		ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(st.ByStatus[s]), string(s))
	}
	lag := 0.0
	if st.OldestQueuedAt != nil {
		if d := c.now().Sub(*st.OldestQueuedAt); d > 0 {
			lag = d.Seconds()
		}
	}
	ch <- prometheus.MustNewConstMetric(c.lag, prometheus.GaugeValue, lag)
}
