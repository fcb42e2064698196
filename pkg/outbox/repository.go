package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumehealth/lume-sync/pkg/db/models"
	"github.com/lumehealth/lume-sync/pkg/enums"
)

// LiveEntityConstraint is the partial unique index holding the
// one-live-event-per-entity invariant.
const LiveEntityConstraint = "ux_outbox_events_entity_live"

var liveStatuses = []enums.OutboxEventStatus{
	enums.OutboxStatusPending,
	enums.OutboxStatusProcessing,
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a fresh pending event inside the caller's transaction.
func (r *Repository) Insert(tx *gorm.DB, event *models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = enums.OutboxStatusPending
	}
	return tx.Create(event).Error
}

// FindLiveByEntityID returns the pending or processing event holding the
// entity slot, or nil when the slot is free.
func (r *Repository) FindLiveByEntityID(tx *gorm.DB, entityID uuid.UUID) (*models.OutboxEvent, error) {
	conn := tx
	if conn == nil {
		conn = r.db
	}
	var event models.OutboxEvent
	err := conn.
		Where("entity_id = ? AND status IN ?", entityID, liveStatuses).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// FindLatestByEntityID returns the most recent event for the entity in any
// status, or nil when the entity was never enqueued.
func (r *Repository) FindLatestByEntityID(ctx context.Context, entityID uuid.UUID) (*models.OutboxEvent, error) {
	var event models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("created_at DESC").
		Order("id DESC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// FetchDue returns pending events whose backoff window has elapsed, oldest
// first, bounded by limit. An empty userID fetches across all users.
func (r *Repository) FetchDue(ctx context.Context, userID string, limit int, now time.Time) ([]models.OutboxEvent, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.OutboxStatusPending).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	var rows []models.OutboxEvent
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FetchByStatus returns the user's events in the given status, oldest first.
func (r *Repository) FetchByStatus(ctx context.Context, userID string, status enums.OutboxEventStatus) ([]models.OutboxEvent, error) {
	query := r.db.WithContext(ctx).Where("status = ?", status)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	var rows []models.OutboxEvent
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// Claim moves a pending event to processing. The status guard makes the
// claim atomic; a false return means another pass already owns the event.
func (r *Repository) Claim(ctx context.Context, eventID uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", eventID, enums.OutboxStatusPending).
		Updates(map[string]any{
			"status":     enums.OutboxStatusProcessing,
			"claimed_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkCompleted finishes an event after a confirmed upload.
func (r *Repository) MarkCompleted(tx *gorm.DB, eventID uuid.UUID, now time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]any{
			"status":          enums.OutboxStatusCompleted,
			"last_attempt_at": now,
			"next_attempt_at": nil,
			"claimed_at":      nil,
			"last_error":      nil,
		}).Error
}

// MarkRetry records a failed attempt and schedules the next one.
func (r *Repository) MarkRetry(tx *gorm.DB, eventID uuid.UUID, errMsg string, nextAttemptAt, now time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]any{
			"status":          enums.OutboxStatusPending,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_error":      errMsg,
			"last_attempt_at": now,
			"next_attempt_at": nextAttemptAt,
			"claimed_at":      nil,
		}).Error
}

// MarkTerminal parks an event in the failed state. attempted bumps the
// attempt counter when the transition resulted from a real upload attempt.
func (r *Repository) MarkTerminal(tx *gorm.DB, eventID uuid.UUID, reason enums.FailureReason, errMsg string, attempted bool, now time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	updates := map[string]any{
		"status":          enums.OutboxStatusFailed,
		"failure_reason":  reason,
		"last_error":      errMsg,
		"last_attempt_at": now,
		"next_attempt_at": nil,
		"claimed_at":      nil,
	}
	if attempted {
		updates["attempt_count"] = gorm.Expr("attempt_count + 1")
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", eventID).
		Updates(updates).Error
}

// Release puts a claimed event back to pending without burning an attempt.
func (r *Repository) Release(tx *gorm.DB, eventID uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", eventID, enums.OutboxStatusProcessing).
		Updates(map[string]any{
			"status":     enums.OutboxStatusPending,
			"claimed_at": nil,
		}).Error
}

// ResetStale frees events stuck in processing since before the cutoff and
// returns how many were healed.
func (r *Repository) ResetStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("status = ? AND claimed_at < ?", enums.OutboxStatusProcessing, cutoff).
		Updates(map[string]any{
			"status":     enums.OutboxStatusPending,
			"claimed_at": nil,
		})
	return result.RowsAffected, result.Error
}

// RequeueFailed resurrects the user's terminally failed events with a fresh
// attempt budget and returns how many were requeued.
func (r *Repository) RequeueFailed(tx *gorm.DB, userID string, now time.Time) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	result := tx.Model(&models.OutboxEvent{}).
		Where("user_id = ? AND status = ?", userID, enums.OutboxStatusFailed).
		Updates(map[string]any{
			"status":          enums.OutboxStatusPending,
			"attempt_count":   0,
			"failure_reason":  nil,
			"last_error":      nil,
			"next_attempt_at": nil,
			"claimed_at":      nil,
		})
	return result.RowsAffected, result.Error
}

// DeleteCompletedBefore prunes completed events older than the cutoff and
// returns how many were removed. Mutation records are never pruned.
func (r *Repository) DeleteCompletedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	result := tx.
		Where("status = ? AND last_attempt_at < ?", enums.OutboxStatusCompleted, cutoff).
		Delete(&models.OutboxEvent{})
	return result.RowsAffected, result.Error
}

// CountByStatus returns per-status event counts for the user.
func (r *Repository) CountByStatus(ctx context.Context, userID string) (map[enums.OutboxEventStatus]int64, error) {
	type row struct {
		Status enums.OutboxEventStatus
		Total  int64
	}
	query := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Select("status, COUNT(*) AS total").
		Group("status")
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	var rows []row
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[enums.OutboxEventStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}

// CountStuck returns events that have sat unfinished since before the
// cutoff: processing claims that never resolved plus pending work nothing
// has picked up.
func (r *Repository) CountStuck(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where(
			"(status = ? AND claimed_at < ?) OR (status = ? AND created_at < ?)",
			enums.OutboxStatusProcessing, cutoff,
			enums.OutboxStatusPending, cutoff,
		)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	var total int64
	err := query.Count(&total).Error
	return total, err
}

// LiveEntityIDs returns the entity ids currently holding a live event.
func (r *Repository) LiveEntityIDs(ctx context.Context, userID string) ([]uuid.UUID, error) {
	query := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("status IN ?", liveStatuses)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	var ids []uuid.UUID
	err := query.Pluck("entity_id", &ids).Error
	return ids, err
}

// FetchLive returns every live event oldest first. The orphan sweep uses it
// to cross-check events against their records.
func (r *Repository) FetchLive(ctx context.Context) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status IN ?", liveStatuses).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
