package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/lumehealth/lume-sync/pkg/db/models"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/metrics"
)

type orphanedEventsQueue interface {
	FetchLive(ctx context.Context) ([]models.OutboxEvent, error)
}

type orphanParker interface {
	MarkOrphaned(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, detail string) error
}

type orphanedEventsRecords interface {
	FindExistingIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}

type OrphanedEventsJobParams struct {
	Logger  *logger.Logger
	DB      txRunner
	Queue   orphanedEventsQueue
	Parker  orphanParker
	Records orphanedEventsRecords
	Metrics *metrics.SyncMetrics
}

// NewOrphanedEventsJob returns the sweep that parks live events whose
// record is gone. The engine never deletes records itself, so an orphan
// means outside interference; parking it keeps the processor from
// reclaiming a pointer into nothing.
func NewOrphanedEventsJob(params OrphanedEventsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("event queue required")
	}
	if params.Parker == nil {
		return nil, fmt.Errorf("event lifecycle required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("records repository required")
	}
	return &orphanedEventsJob{
		logg:    params.Logger,
		db:      params.DB,
		queue:   params.Queue,
		parker:  params.Parker,
		records: params.Records,
		metrics: params.Metrics,
	}, nil
}

type orphanedEventsJob struct {
	logg    *logger.Logger
	db      txRunner
	queue   orphanedEventsQueue
	parker  orphanParker
	records orphanedEventsRecords
	metrics *metrics.SyncMetrics
}

func (j *orphanedEventsJob) Name() string { return "orphaned-events" }

func (j *orphanedEventsJob) Run(ctx context.Context) error {
	live, err := j.queue.FetchLive(ctx)
	if err != nil {
		return fmt.Errorf("fetch live events: %w", err)
	}
	if len(live) == 0 {
		return nil
	}

	entityIDs := make([]uuid.UUID, 0, len(live))
	for _, event := range live {
		entityIDs = append(entityIDs, event.EntityID)
	}
	existing, err := j.records.FindExistingIDs(ctx, entityIDs)
	if err != nil {
		return fmt.Errorf("cross-check records: %w", err)
	}
	present := make(map[uuid.UUID]struct{}, len(existing))
	for _, id := range existing {
		present[id] = struct{}{}
	}

	var errs error
	var parked int64
	for _, event := range live {
		if _, ok := present[event.EntityID]; ok {
			continue
		}
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			detail := fmt.Sprintf("local record %s no longer exists", event.EntityID)
			return j.parker.MarkOrphaned(ctx, tx, event, detail)
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("park event %s: %w", event.ID, err))
			continue
		}
		parked++
	}

	if parked > 0 {
		j.metrics.AddHealed(j.Name(), parked)
		logCtx := j.logg.WithField(ctx, "parked", parked)
		j.logg.Warn(logCtx, "live events lost their records, parked as orphaned")
	}
	return errs
}
