package controllers

import (
	"net/http"

	"github.com/lumehealth/lume-sync/api/middleware"
	"github.com/lumehealth/lume-sync/api/responses"
	"github.com/lumehealth/lume-sync/internal/health"
	"github.com/lumehealth/lume-sync/internal/mutations"
	"github.com/lumehealth/lume-sync/pkg/logger"
)

// SyncHealth returns the caller's sync report: queue depth, failures,
// stuck work, and the overall sync rate.
func SyncHealth(svc health.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.Check(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

// SyncRequeue revives the caller's terminally failed work for another
// round of attempts.
func SyncRequeue(svc mutations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.RequeueFailed(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"requeued": result.Records,
			"events":   result.Events,
		})
	}
}
