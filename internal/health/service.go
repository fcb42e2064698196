// Package health assembles the local sync health report served by the
// control API.
package health

import (
	"context"
	"math"
	"time"

	"github.com/lumehealth/lume-sync/pkg/enums"
	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
)

const defaultStuckAfter = 5 * time.Minute

type recordCounter interface {
	CountByStatus(ctx context.Context, userID string) (map[enums.SyncStatus]int64, error)
}

type stuckCounter interface {
	CountStuck(ctx context.Context, userID string, cutoff time.Time) (int64, error)
}

// Report is the point-in-time sync picture for one user.
type Report struct {
	PendingCount int64   `json:"pending_count"`
	FailedCount  int64   `json:"failed_count"`
	SyncedCount  int64   `json:"synced_count"`
	StuckCount   int64   `json:"stuck_count"`
	SyncRatePct  float64 `json:"sync_rate_pct"`
}

// Service computes sync health from the record and queue counters.
type Service interface {
	Check(ctx context.Context, userID string) (*Report, error)
}

type service struct {
	records    recordCounter
	queue      stuckCounter
	stuckAfter time.Duration
	now        func() time.Time
}

// NewService wires the health report dependencies. stuckAfter mirrors the
// processor's stale-claim threshold so "stuck" means the same thing in
// both places.
func NewService(records recordCounter, queue stuckCounter, stuckAfter time.Duration) (Service, error) {
	if records == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "records repository required")
	}
	if queue == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox repository required")
	}
	if stuckAfter <= 0 {
		stuckAfter = defaultStuckAfter
	}
	return &service{
		records:    records,
		queue:      queue,
		stuckAfter: stuckAfter,
		now:        time.Now,
	}, nil
}

func (s *service) Check(ctx context.Context, userID string) (*Report, error) {
	counts, err := s.records.CountByStatus(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count records")
	}
	cutoff := s.now().UTC().Add(-s.stuckAfter)
	stuck, err := s.queue.CountStuck(ctx, userID, cutoff)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count stuck events")
	}

	report := &Report{
		PendingCount: counts[enums.SyncStatusPending],
		FailedCount:  counts[enums.SyncStatusFailed],
		SyncedCount:  counts[enums.SyncStatusSynced],
		StuckCount:   stuck,
	}
	report.SyncRatePct = syncRate(report.SyncedCount, report.PendingCount+report.FailedCount+report.SyncedCount)
	return report, nil
}

// syncRate is synced over total as a percentage with one decimal. An empty
// store reads as fully synced.
func syncRate(synced, total int64) float64 {
	if total == 0 {
		return 100
	}
	return math.Round(float64(synced)/float64(total)*1000) / 10
}
