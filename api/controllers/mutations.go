package controllers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lumehealth/lume-sync/api/middleware"
	"github.com/lumehealth/lume-sync/api/responses"
	"github.com/lumehealth/lume-sync/api/validators"
	"github.com/lumehealth/lume-sync/internal/mutations"
	"github.com/lumehealth/lume-sync/pkg/enums"
	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/pagination"
)

type createMutationRequest struct {
	Kind    string          `json:"kind" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

type updateMutationRequest struct {
	Payload json.RawMessage `json:"payload" validate:"required"`
}

func recordIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "recordId"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "record id must be a uuid")
	}
	return id, nil
}

// MutationCreate captures a local change and queues it for upload.
func MutationCreate(svc mutations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createMutationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind, err := enums.ParseMutationKind(body.Kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown mutation kind"))
			return
		}

		record, err := svc.RecordMutation(r.Context(), mutations.RecordMutationInput{
			UserID:  middleware.UserIDFromContext(r.Context()),
			Kind:    kind,
			Payload: body.Payload,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"record_id":   record.ID,
			"sync_status": record.SyncStatus,
		})
	}
}

// MutationUpdate rewrites a record's payload and re-queues it for upload.
func MutationUpdate(svc mutations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID, err := recordIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateMutationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.UpdateRecord(r.Context(), mutations.UpdateRecordInput{
			UserID:   middleware.UserIDFromContext(r.Context()),
			RecordID: recordID,
			Payload:  body.Payload,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"record_id":   record.ID,
			"sync_status": record.SyncStatus,
		})
	}
}

// MutationStatus reports where one record sits in the sync pipeline.
func MutationStatus(svc mutations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID, err := recordIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.GetSyncStatus(r.Context(), middleware.UserIDFromContext(r.Context()), recordID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// MutationList pages through the caller's records, optionally filtered by
// sync status or kind.
func MutationList(svc mutations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), mutations.ListParams{
			UserID: middleware.UserIDFromContext(r.Context()),
			Status: strings.TrimSpace(r.URL.Query().Get("status")),
			Kind:   strings.TrimSpace(r.URL.Query().Get("kind")),
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
