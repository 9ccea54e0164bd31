package jobs

import (
	"fmt"
	"time"
)

// IdempotencyKey derives "{kind}:{target}:{bucket}" where bucket is now
// truncated to the given window (one minute when window <= 0) and rendered
// in UTC. Triggers that land in the same window collapse to one job.
func IdempotencyKey(kind Kind, target string, now time.Time, window time.Duration) string {
	if window <= 0 {
		window = time.Minute
	}
	bucket := now.UTC().Truncate(window).Format(time.RFC3339)
	return fmt.Sprintf("%s:%s:%s", kind, target, bucket)
}

// RetryDelay is the backoff applied when a failed job is re-queued:
// base doubled per prior attempt and capped at one hour.
func RetryDelay(attempts int, base time.Duration) time.Duration {
	const ceiling = time.Hour
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

// RecoveryRow is the slice of a job row the classifier needs.
type RecoveryRow struct {
	ID       string
	Status   Status
	RunAfter time.Time
	LockedAt *time.Time
}

// RecoveryCandidates groups jobs by the remediation they need. Stale queued
// jobs can be leased as they are, stuck running jobs must be forced back to
// queued first, failed jobs need investigation or a delayed retry.
type RecoveryCandidates struct {
	StaleQueuedIDs  []string `json:"staleQueuedIds"`
	StuckRunningIDs []string `json:"stuckRunningIds"`
	FailedIDs       []string `json:"failedIds"`
}

// Empty reports whether no job needs attention.
func (c RecoveryCandidates) Empty() bool {
	return len(c.StaleQueuedIDs) == 0 && len(c.StuckRunningIDs) == 0 && len(c.FailedIDs) == 0
}

// ClassifyRecoveryCandidates sorts rows into recovery classes without
// touching the store. Output order follows input order. A running row with
// no lock timestamp is treated as stuck.
func ClassifyRecoveryCandidates(rows []RecoveryRow, now time.Time, staleQueuedMinutes, stuckRunningMinutes int) RecoveryCandidates {
	staleCutoff := now.Add(-time.Duration(staleQueuedMinutes) * time.Minute)
	stuckCutoff := now.Add(-time.Duration(stuckRunningMinutes) * time.Minute)

	out := RecoveryCandidates{
		StaleQueuedIDs:  []string{},
		StuckRunningIDs: []string{},
		FailedIDs:       []string{},
	}
	for _, r := range rows {
		switch r.Status {
		case StatusQueued:
			if r.RunAfter.Before(staleCutoff) {
				out.StaleQueuedIDs = append(out.StaleQueuedIDs, r.ID)
			}
		case StatusRunning:
			if r.LockedAt == nil || r.LockedAt.Before(stuckCutoff) {
				out.StuckRunningIDs = append(out.StuckRunningIDs, r.ID)
			}
		case StatusFailed:
			out.FailedIDs = append(out.FailedIDs, r.ID)
		}
	}
	return out
}
