package reconcile

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lumehealth/lume-sync/pkg/logger"
)

const defaultRetention = 24 * time.Hour

type retentionQueue interface {
	DeleteCompletedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type RetentionJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Queue     retentionQueue
	Retention time.Duration
}

// NewRetentionJob returns the sweep that prunes completed events past the
// retention window. Records are never touched; only the finished queue
// entries go.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("event queue required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	return &retentionJob{
		logg:      params.Logger,
		db:        params.DB,
		queue:     params.Queue,
		retention: retention,
		now:       time.Now,
	}, nil
}

type retentionJob struct {
	logg      *logger.Logger
	db        txRunner
	queue     retentionQueue
	retention time.Duration
	now       func() time.Time
}

func (j *retentionJob) Name() string { return "completed-retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.queue.DeleteCompletedBefore(tx, cutoff)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("completed retention: %w", err)
	}
	if deleted == 0 {
		return nil
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "completed events pruned")
	return nil
}
