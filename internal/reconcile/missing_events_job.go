package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/lumehealth/lume-sync/internal/mutations"
	"github.com/lumehealth/lume-sync/pkg/db/models"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/metrics"
	"github.com/lumehealth/lume-sync/pkg/outbox"
)

type missingEventsQueue interface {
	LiveEntityIDs(ctx context.Context, userID string) ([]uuid.UUID, error)
}

type missingEventsEnqueuer interface {
	CreateEvent(ctx context.Context, tx *gorm.DB, params outbox.CreateEventParams) (models.OutboxEvent, bool, error)
}

type missingEventsRecords interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.MutationRecord, error)
	PendingIDsNotIn(ctx context.Context, userID string, exclude []uuid.UUID) ([]uuid.UUID, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type MissingEventsJobParams struct {
	Logger   *logger.Logger
	DB       txRunner
	Queue    missingEventsQueue
	Enqueuer missingEventsEnqueuer
	Records  missingEventsRecords
	Metrics  *metrics.SyncMetrics
}

// NewMissingEventsJob returns the sweep that restores the queue invariant:
// every pending record has a live event. A record can lose its event to
// manual queue surgery or a partially applied restore; without this sweep
// it would sit pending forever.
func NewMissingEventsJob(params MissingEventsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("event queue required")
	}
	if params.Enqueuer == nil {
		return nil, fmt.Errorf("event enqueuer required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("records repository required")
	}
	return &missingEventsJob{
		logg:     params.Logger,
		db:       params.DB,
		queue:    params.Queue,
		enqueuer: params.Enqueuer,
		records:  params.Records,
		metrics:  params.Metrics,
		now:      time.Now,
	}, nil
}

type missingEventsJob struct {
	logg     *logger.Logger
	db       txRunner
	queue    missingEventsQueue
	enqueuer missingEventsEnqueuer
	records  missingEventsRecords
	metrics  *metrics.SyncMetrics
	now      func() time.Time
}

func (j *missingEventsJob) Name() string { return "missing-events" }

func (j *missingEventsJob) Run(ctx context.Context) error {
	live, err := j.queue.LiveEntityIDs(ctx, "")
	if err != nil {
		return fmt.Errorf("list live entities: %w", err)
	}
	missing, err := j.records.PendingIDsNotIn(ctx, "", live)
	if err != nil {
		return fmt.Errorf("list uncovered records: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}

	var errs error
	var healed int64
	for _, id := range missing {
		record, err := j.records.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("load record %s: %w", id, err))
			continue
		}

		created := false
		err = j.db.WithTx(ctx, func(tx *gorm.DB) error {
			_, fresh, err := j.enqueuer.CreateEvent(ctx, tx, outbox.CreateEventParams{
				EntityID: record.ID,
				UserID:   record.UserID,
				Kind:     record.Kind,
				Metadata: j.rebuildMetadata(record),
			})
			created = fresh
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("recreate event for record %s: %w", id, err))
			continue
		}
		if created {
			healed++
		}
	}

	if healed > 0 {
		j.metrics.AddHealed(j.Name(), healed)
		logCtx := j.logg.WithField(ctx, "recreated", healed)
		j.logg.Warn(logCtx, "pending records had no live event, events recreated")
	}
	return errs
}

// rebuildMetadata re-derives the event snapshot from the stored payload.
// A payload that no longer decodes still gets an event; the upload attempt
// will park it with the real validation error.
func (j *missingEventsJob) rebuildMetadata(record *models.MutationRecord) outbox.Metadata {
	payload, err := mutations.DecodePayload(record.Kind, record.Payload)
	if err != nil {
		return outbox.Metadata{
			Version:    outbox.MetadataVersion,
			Summary:    fmt.Sprintf("%s (recovered)", record.Kind),
			OccurredAt: record.CreatedAt.UTC(),
		}
	}
	return outbox.Metadata{
		Version:    outbox.MetadataVersion,
		Summary:    payload.Summary(),
		OccurredAt: payload.OccurredAt(j.now()).UTC(),
	}
}
