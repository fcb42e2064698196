package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/metrics"
)

const defaultStuckAfter = 5 * time.Minute

type staleClaimsQueue interface {
	ResetStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type StaleClaimsJobParams struct {
	Logger     *logger.Logger
	Queue      staleClaimsQueue
	Metrics    *metrics.SyncMetrics
	StuckAfter time.Duration
}

// NewStaleClaimsJob returns the sweep that frees events stuck in
// processing, typically left behind by a crash mid-claim.
func NewStaleClaimsJob(params StaleClaimsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("event queue required")
	}
	stuckAfter := params.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = defaultStuckAfter
	}
	return &staleClaimsJob{
		logg:       params.Logger,
		queue:      params.Queue,
		metrics:    params.Metrics,
		stuckAfter: stuckAfter,
		now:        time.Now,
	}, nil
}

type staleClaimsJob struct {
	logg       *logger.Logger
	queue      staleClaimsQueue
	metrics    *metrics.SyncMetrics
	stuckAfter time.Duration
	now        func() time.Time
}

func (j *staleClaimsJob) Name() string { return "stale-claims" }

func (j *staleClaimsJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.stuckAfter)
	reset, err := j.queue.ResetStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("reset stale claims: %w", err)
	}
	if reset == 0 {
		return nil
	}
	j.metrics.AddHealed(j.Name(), reset)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"reset":  reset,
		"cutoff": cutoff,
	})
	j.logg.Warn(logCtx, "events stuck in processing returned to pending")
	return nil
}
