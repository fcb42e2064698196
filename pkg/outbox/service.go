package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/lumehealth/lume-sync/pkg/db"
	"github.com/lumehealth/lume-sync/pkg/db/models"
	"github.com/lumehealth/lume-sync/pkg/enums"
	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
)

const defaultMaxAttempts = 5

// CreateEventParams describes the work item to enqueue.
type CreateEventParams struct {
	EntityID uuid.UUID
	UserID   string
	Kind     enums.MutationKind
	Metadata Metadata
}

// Service enforces the queue semantics on top of the repository: idempotent
// enqueue, the retry budget, and the backoff schedule.
type Service struct {
	repo        *Repository
	policy      Policy
	maxAttempts int
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(repo *Repository, policy Policy, maxAttempts int, logg *logger.Logger) *Service {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Service{
		repo:        repo,
		policy:      policy,
		maxAttempts: maxAttempts,
		logg:        logg,
		now:         time.Now,
	}
}

// MaxAttempts returns the configured retry budget.
func (s *Service) MaxAttempts() int {
	return s.maxAttempts
}

// CreateEvent enqueues sync work for an entity inside the caller's
// transaction. When a live event already holds the entity slot it is
// returned unchanged; created reports whether a new row was written. A
// unique violation from a concurrent enqueue resolves the same way.
func (s *Service) CreateEvent(ctx context.Context, tx *gorm.DB, params CreateEventParams) (models.OutboxEvent, bool, error) {
	if tx == nil {
		return models.OutboxEvent{}, false, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if !params.Kind.IsValid() {
		return models.OutboxEvent{}, false, pkgerrors.New(pkgerrors.CodeValidation, "invalid mutation kind")
	}

	existing, err := s.repo.FindLiveByEntityID(tx, params.EntityID)
	if err != nil {
		return models.OutboxEvent{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	metaRaw, err := EncodeMetadata(params.Metadata)
	if err != nil {
		return models.OutboxEvent{}, false, err
	}

	event := models.OutboxEvent{
		ID:       uuid.New(),
		EntityID: params.EntityID,
		UserID:   params.UserID,
		Kind:     params.Kind,
		Status:   enums.OutboxStatusPending,
		Metadata: metaRaw,
	}
	if err := s.repo.Insert(tx, &event); err != nil {
		if dbpkg.IsUniqueViolation(err, LiveEntityConstraint) {
			raced, findErr := s.repo.FindLiveByEntityID(tx, params.EntityID)
			if findErr != nil {
				return models.OutboxEvent{}, false, findErr
			}
			if raced != nil {
				return *raced, false, nil
			}
		}
		return models.OutboxEvent{}, false, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":  event.ID.String(),
			"entity_id": params.EntityID.String(),
			"kind":      params.Kind,
		})
		s.logg.Info(logCtx, "outbox event queued")
	}
	return event, true, nil
}

// RecordSuccess finishes the event after the backend confirmed the upload.
func (s *Service) RecordSuccess(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	return s.repo.MarkCompleted(tx, event.ID, s.now())
}

// RecordFailure applies the retry policy to a failed attempt. Retryable
// errors reschedule with backoff until the attempt budget runs out;
// permanent rejections park the event immediately. terminal reports whether
// the event left the live set.
func (s *Service) RecordFailure(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, attemptErr error) (terminal bool, err error) {
	now := s.now()
	newCount := event.AttemptCount + 1
	message := attemptErr.Error()

	if !pkgerrors.IsRetryable(attemptErr) {
		if err := s.repo.MarkTerminal(tx, event.ID, enums.FailureReasonRejected, message, true, now); err != nil {
			return false, err
		}
		s.logTerminal(ctx, event, enums.FailureReasonRejected, newCount, attemptErr)
		return true, nil
	}

	if newCount >= s.maxAttempts {
		if err := s.repo.MarkTerminal(tx, event.ID, enums.FailureReasonMaxAttempts, message, true, now); err != nil {
			return false, err
		}
		s.logTerminal(ctx, event, enums.FailureReasonMaxAttempts, newCount, attemptErr)
		return true, nil
	}

	nextAt := now.Add(s.policy.Delay(newCount))
	if err := s.repo.MarkRetry(tx, event.ID, message, nextAt, now); err != nil {
		return false, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":     event.ID.String(),
			"attempts":     newCount,
			"next_attempt": nextAt.Format(time.RFC3339),
		})
		s.logg.Warn(logCtx, "upload attempt failed, retry scheduled")
	}
	return false, nil
}

// MarkOrphaned parks an event whose record vanished. The counter is left
// alone since no upload was attempted.
func (s *Service) MarkOrphaned(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, detail string) error {
	if err := s.repo.MarkTerminal(tx, event.ID, enums.FailureReasonOrphanedRecord, detail, false, s.now()); err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":  event.ID.String(),
			"entity_id": event.EntityID.String(),
		})
		s.logg.Error(logCtx, "orphaned outbox event detected", pkgerrors.New(pkgerrors.CodeIntegrity, detail))
	}
	return nil
}

// MarkUnroutable parks an event whose kind has no registered upload handler.
// Retrying cannot help until a handler exists, so the event goes terminal
// without an attempt.
func (s *Service) MarkUnroutable(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, detail string) error {
	if err := s.repo.MarkTerminal(tx, event.ID, enums.FailureReasonRejected, detail, false, s.now()); err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id": event.ID.String(),
			"kind":     event.Kind,
		})
		s.logg.Error(logCtx, "no upload handler for event kind", pkgerrors.New(pkgerrors.CodeInternal, detail))
	}
	return nil
}

// Release hands a claimed event back to the pending pool without burning an
// attempt, used when the session expires mid-batch.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	if err := s.repo.Release(tx, event.ID); err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithEventID(ctx, event.ID.String())
		s.logg.Warn(logCtx, "claim released without attempt")
	}
	return nil
}

// RequeueFailed gives every terminally failed event for the user a fresh
// attempt budget.
func (s *Service) RequeueFailed(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	requeued, err := s.repo.RequeueFailed(tx, userID, s.now())
	if err != nil {
		return 0, err
	}
	if requeued > 0 && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id":  userID,
			"requeued": requeued,
		})
		s.logg.Info(logCtx, "failed events requeued")
	}
	return requeued, nil
}

func (s *Service) logTerminal(ctx context.Context, event models.OutboxEvent, reason enums.FailureReason, attempts int, attemptErr error) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_id":  event.ID.String(),
		"entity_id": event.EntityID.String(),
		"kind":      event.Kind,
		"reason":    reason,
		"attempts":  attempts,
	})
	s.logg.Error(logCtx, "outbox event terminally failed", attemptErr)
}
