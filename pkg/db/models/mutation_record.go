package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lumehealth/lume-sync/pkg/enums"
)

// MutationRecord is the durable local copy of a user health mutation. It is
// the source of truth for the entity until the backend confirms it, and it
// is never deleted by the engine.
type MutationRecord struct {
	ID         uuid.UUID          `gorm:"column:id;primaryKey"`
	UserID     string             `gorm:"column:user_id;not null;index"`
	Kind       enums.MutationKind `gorm:"column:kind;not null"`
	Payload    json.RawMessage    `gorm:"column:payload;not null"`
	RemoteID   *string            `gorm:"column:remote_id"`
	SyncStatus enums.SyncStatus   `gorm:"column:sync_status;not null;default:pending;index"`
	SyncedAt   *time.Time         `gorm:"column:synced_at"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// IsSynced reports whether the backend has confirmed the record.
func (r MutationRecord) IsSynced() bool {
	return r.SyncStatus == enums.SyncStatusSynced && r.RemoteID != nil
}
