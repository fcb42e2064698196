package records

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumehealth/lume-sync/internal/repo"
	"github.com/lumehealth/lume-sync/pkg/db/models"
	"github.com/lumehealth/lume-sync/pkg/enums"
	"github.com/lumehealth/lume-sync/pkg/pagination"
)

// Repository exposes persistence helpers for locally captured mutations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, record *models.MutationRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.MutationRecord, error)
	UpdatePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage, now time.Time) (bool, error)
	MarkSynced(ctx context.Context, id uuid.UUID, remoteID string, now time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkPending(ctx context.Context, id uuid.UUID, now time.Time) error
	RequeueFailed(ctx context.Context, userID string, now time.Time) (int64, error)
	List(ctx context.Context, params ListParams) ([]models.MutationRecord, *pagination.Cursor, error)
	CountByStatus(ctx context.Context, userID string) (map[enums.SyncStatus]int64, error)
	PendingIDsNotIn(ctx context.Context, userID string, exclude []uuid.UUID) ([]uuid.UUID, error)
	FindExistingIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}

// ListParams holds the filters for listing a user's records.
type ListParams struct {
	UserID string
	Status *enums.SyncStatus
	Kind   *enums.MutationKind
	Limit  int
	Cursor *pagination.Cursor
}

type repositoryImpl struct {
	repo.Base
}

// NewRepository returns a records repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{Base: repo.NewBase(db)}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{Base: repo.NewBase(tx)}
}

func (r *repositoryImpl) Insert(ctx context.Context, record *models.MutationRecord) error {
	return r.DB(ctx).Create(record).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.MutationRecord, error) {
	var record models.MutationRecord
	if err := r.DB(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repositoryImpl) UpdatePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage, now time.Time) (bool, error) {
	result := r.DB(ctx).
		Model(&models.MutationRecord{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"payload":    string(payload),
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) MarkSynced(ctx context.Context, id uuid.UUID, remoteID string, now time.Time) error {
	return r.DB(ctx).
		Model(&models.MutationRecord{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"sync_status": enums.SyncStatusSynced,
			"remote_id":   remoteID,
			"synced_at":   now,
			"updated_at":  now,
		}).Error
}

func (r *repositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.DB(ctx).
		Model(&models.MutationRecord{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"sync_status": enums.SyncStatusFailed,
			"updated_at":  now,
		}).Error
}

func (r *repositoryImpl) MarkPending(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.DB(ctx).
		Model(&models.MutationRecord{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"sync_status": enums.SyncStatusPending,
			"updated_at":  now,
		}).Error
}

func (r *repositoryImpl) RequeueFailed(ctx context.Context, userID string, now time.Time) (int64, error) {
	result := r.DB(ctx).
		Model(&models.MutationRecord{}).
		Where("user_id = ? AND sync_status = ?", userID, enums.SyncStatusFailed).
		UpdateColumns(map[string]any{
			"sync_status": enums.SyncStatusPending,
			"updated_at":  now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) List(ctx context.Context, params ListParams) ([]models.MutationRecord, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.DB(ctx).Model(&models.MutationRecord{}).Where("user_id = ?", params.UserID)
	if params.Status != nil {
		query = query.Where("sync_status = ?", *params.Status)
	}
	if params.Kind != nil {
		query = query.Where("kind = ?", *params.Kind)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var records []models.MutationRecord
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, nil, err
	}

	if len(records) > normalized {
		next := records[normalized]
		records = records[:normalized]
		return records, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return records, nil, nil
}

func (r *repositoryImpl) CountByStatus(ctx context.Context, userID string) (map[enums.SyncStatus]int64, error) {
	var rows []struct {
		SyncStatus enums.SyncStatus
		Total      int64
	}
	err := r.DB(ctx).
		Model(&models.MutationRecord{}).
		Select("sync_status, COUNT(*) AS total").
		Where("user_id = ?", userID).
		Group("sync_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[enums.SyncStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.SyncStatus] = row.Total
	}
	return counts, nil
}

// PendingIDsNotIn lists pending records outside the exclusion set. An empty
// userID scans every user, which is what the reconcile sweep wants.
func (r *repositoryImpl) PendingIDsNotIn(ctx context.Context, userID string, exclude []uuid.UUID) ([]uuid.UUID, error) {
	query := r.DB(ctx).
		Model(&models.MutationRecord{}).
		Where("sync_status = ?", enums.SyncStatusPending)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if len(exclude) > 0 {
		query = query.Where("id NOT IN ?", exclude)
	}

	var ids []uuid.UUID
	if err := query.Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repositoryImpl) FindExistingIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var found []uuid.UUID
	err := r.DB(ctx).
		Model(&models.MutationRecord{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}
	return found, nil
}
