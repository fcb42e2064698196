package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lumehealth/lume-sync/pkg/enums"
)

// OutboxEvent is one unit of pending sync work pointing at a mutation
// record. Events carry only a metadata snapshot; the record holds the
// payload uploaded to the backend.
type OutboxEvent struct {
	ID            uuid.UUID               `gorm:"column:id;primaryKey"`
	EntityID      uuid.UUID               `gorm:"column:entity_id;not null;index"`
	UserID        string                  `gorm:"column:user_id;not null;index"`
	Kind          enums.MutationKind      `gorm:"column:kind;not null"`
	Status        enums.OutboxEventStatus `gorm:"column:status;not null;default:pending;index"`
	AttemptCount  int                     `gorm:"column:attempt_count;not null;default:0"`
	Metadata      json.RawMessage         `gorm:"column:metadata"`
	FailureReason *enums.FailureReason    `gorm:"column:failure_reason"`
	LastError     *string                 `gorm:"column:last_error"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
	LastAttemptAt *time.Time              `gorm:"column:last_attempt_at"`
	NextAttemptAt *time.Time              `gorm:"column:next_attempt_at"`
	ClaimedAt     *time.Time              `gorm:"column:claimed_at"`
}
