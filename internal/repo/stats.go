// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries over the job
// table, used by the Prometheus queue collector and the admin API.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
)

// QueueStats summarises the job table.
//
// Fields:
//   - ByStatus:        row count per status (statuses with no rows are absent)
//   - OldestQueuedAt:  earliest run_after among queued jobs, or nil
type QueueStats struct {
	ByStatus       map[jobs.Status]int64
	OldestQueuedAt *time.Time
}

// JobStats returns per-status counts and the oldest queued run_after.
func JobStats(ctx context.Context, db *gorm.DB) (QueueStats, error) {
	out := QueueStats{ByStatus: map[jobs.Status]int64{}}

	var rows []struct {
		Status jobs.Status
		N      int64
	}
	if err := db.WithContext(ctx).
		Model(&domain.Job{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return out, err
	}
	for _, r := range rows {
		out.ByStatus[r.Status] = r.N
	}
	if out.ByStatus[jobs.StatusQueued] == 0 {
		return out, nil
	}

	// Read the row rather than MIN() so SQLite hands back a time, not TEXT.
	var row struct {
		RunAfter time.Time
	}
	if err := db.WithContext(ctx).
		Model(&domain.Job{}).
		Select("run_after").
		Where("status = ?", jobs.StatusQueued).
		Order("run_after ASC").
		Limit(1).
		Scan(&row).Error; err != nil {
		return out, err
	}
	t := row.RunAfter.UTC()
	out.OldestQueuedAt = &t
	return out, nil
}
