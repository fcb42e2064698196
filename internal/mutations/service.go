package mutations

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumehealth/lume-sync/internal/records"
	"github.com/lumehealth/lume-sync/pkg/db/models"
	"github.com/lumehealth/lume-sync/pkg/enums"
	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/outbox"
	"github.com/lumehealth/lume-sync/pkg/pagination"
)

// Service is the producer-facing surface for capturing and tracking mutations.
type Service interface {
	RecordMutation(ctx context.Context, input RecordMutationInput) (*models.MutationRecord, error)
	UpdateRecord(ctx context.Context, input UpdateRecordInput) (*models.MutationRecord, error)
	GetSyncStatus(ctx context.Context, userID string, recordID uuid.UUID) (*StatusView, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	RequeueFailed(ctx context.Context, userID string) (*RequeueResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEnqueuer interface {
	CreateEvent(ctx context.Context, tx *gorm.DB, params outbox.CreateEventParams) (models.OutboxEvent, bool, error)
	RequeueFailed(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
}

type eventReader interface {
	FindLatestByEntityID(ctx context.Context, entityID uuid.UUID) (*models.OutboxEvent, error)
}

type service struct {
	db     txRunner
	repo   records.Repository
	queue  outboxEnqueuer
	events eventReader
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires the mutations service dependencies.
func NewService(db txRunner, repo records.Repository, queue outboxEnqueuer, events eventReader, logg *logger.Logger) (Service, error) {
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "records repository required")
	}
	if queue == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	if events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox repository required")
	}
	return &service{
		db:     db,
		repo:   repo,
		queue:  queue,
		events: events,
		logg:   logg,
		now:    time.Now,
	}, nil
}

// RecordMutationInput carries a new locally captured mutation.
type RecordMutationInput struct {
	UserID  string
	Kind    enums.MutationKind
	Payload json.RawMessage
}

// UpdateRecordInput rewrites the payload of an existing record and re-queues it.
type UpdateRecordInput struct {
	UserID   string
	RecordID uuid.UUID
	Payload  json.RawMessage
}

// StatusView reports where one record sits in the sync pipeline.
type StatusView struct {
	RecordID   uuid.UUID          `json:"record_id"`
	Kind       enums.MutationKind `json:"kind"`
	SyncStatus enums.SyncStatus   `json:"sync_status"`
	RemoteID   *string            `json:"remote_id,omitempty"`
	SyncedAt   *time.Time         `json:"synced_at,omitempty"`
	Event      *EventView         `json:"event,omitempty"`
}

// EventView is the queue-side slice of a status report.
type EventView struct {
	Status        enums.OutboxEventStatus `json:"status"`
	AttemptCount  int                     `json:"attempt_count"`
	LastError     *string                 `json:"last_error,omitempty"`
	NextAttemptAt *time.Time              `json:"next_attempt_at,omitempty"`
	FailureReason *enums.FailureReason    `json:"failure_reason,omitempty"`
}

// ListParams configures pagination and filters for listing records.
type ListParams struct {
	UserID string
	Status string
	Kind   string
	Limit  int
	Cursor string
}

// ListResult wraps returned records and the cursor for the next page.
type ListResult struct {
	Items  []models.MutationRecord `json:"items"`
	Cursor string                  `json:"cursor"`
}

// RequeueResult reports how much work an explicit requeue revived.
type RequeueResult struct {
	Events  int64 `json:"events"`
	Records int64 `json:"records"`
}

func (s *service) RecordMutation(ctx context.Context, input RecordMutationInput) (*models.MutationRecord, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown mutation kind")
	}

	payload, err := DecodePayload(input.Kind, input.Payload)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	record := &models.MutationRecord{
		ID:         uuid.New(),
		UserID:     input.UserID,
		Kind:       input.Kind,
		Payload:    input.Payload,
		SyncStatus: enums.SyncStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Insert(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert mutation record")
		}

		_, _, err := s.queue.CreateEvent(ctx, tx, outbox.CreateEventParams{
			EntityID: record.ID,
			UserID:   record.UserID,
			Kind:     record.Kind,
			Metadata: s.buildMetadata(payload, now),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"record_id": record.ID,
			"kind":      record.Kind,
		}), "mutation recorded")
	}
	return record, nil
}

func (s *service) UpdateRecord(ctx context.Context, input UpdateRecordInput) (*models.MutationRecord, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.RecordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "record id required")
	}

	var updated *models.MutationRecord
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		record, err := repo.FindByID(ctx, input.RecordID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "record not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load mutation record")
		}
		if record.UserID != input.UserID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "record not found")
		}

		payload, err := DecodePayload(record.Kind, input.Payload)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if _, err := repo.UpdatePayload(ctx, record.ID, input.Payload, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payload")
		}
		if err := repo.MarkPending(ctx, record.ID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark record pending")
		}

		if _, _, err := s.queue.CreateEvent(ctx, tx, outbox.CreateEventParams{
			EntityID: record.ID,
			UserID:   record.UserID,
			Kind:     record.Kind,
			Metadata: s.buildMetadata(payload, now),
		}); err != nil {
			return err
		}

		record.Payload = input.Payload
		record.SyncStatus = enums.SyncStatusPending
		record.UpdatedAt = now
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"record_id": updated.ID,
			"kind":      updated.Kind,
		}), "mutation updated and re-queued")
	}
	return updated, nil
}

func (s *service) GetSyncStatus(ctx context.Context, userID string, recordID uuid.UUID) (*StatusView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if recordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "record id required")
	}

	record, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load mutation record")
	}
	if record.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "record not found")
	}

	view := &StatusView{
		RecordID:   record.ID,
		Kind:       record.Kind,
		SyncStatus: record.SyncStatus,
		RemoteID:   record.RemoteID,
		SyncedAt:   record.SyncedAt,
	}

	event, err := s.events.FindLatestByEntityID(ctx, record.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load outbox event")
	}
	if event != nil {
		view.Event = &EventView{
			Status:        event.Status,
			AttemptCount:  event.AttemptCount,
			LastError:     event.LastError,
			NextAttemptAt: event.NextAttemptAt,
			FailureReason: event.FailureReason,
		}
	}

	return view, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if strings.TrimSpace(params.UserID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	query := records.ListParams{
		UserID: params.UserID,
		Limit:  params.Limit,
	}
	if params.Status != "" {
		status, err := enums.ParseSyncStatus(params.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &status
	}
	if params.Kind != "" {
		kind, err := enums.ParseMutationKind(params.Kind)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind filter")
		}
		query.Kind = &kind
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list mutation records")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) RequeueFailed(ctx context.Context, userID string) (*RequeueResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	result := &RequeueResult{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.queue.RequeueFailed(ctx, tx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "requeue failed events")
		}

		recs, err := s.repo.WithTx(tx).RequeueFailed(ctx, userID, s.now().UTC())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "requeue failed records")
		}

		result.Events = events
		result.Records = recs
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *service) buildMetadata(payload Payload, now time.Time) outbox.Metadata {
	return outbox.Metadata{
		Version:    outbox.MetadataVersion,
		Summary:    payload.Summary(),
		OccurredAt: payload.OccurredAt(now).UTC(),
	}
}
