package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumehealth/lume-sync/api/controllers"
	"github.com/lumehealth/lume-sync/api/middleware"
	"github.com/lumehealth/lume-sync/internal/health"
	"github.com/lumehealth/lume-sync/internal/mutations"
	"github.com/lumehealth/lume-sync/internal/session"
	"github.com/lumehealth/lume-sync/pkg/config"
	"github.com/lumehealth/lume-sync/pkg/db"
	"github.com/lumehealth/lume-sync/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	gate *session.Gate,
	store *session.Store,
	mutationsService mutations.Service,
	healthService health.Service,
	promRegistry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.CORS(),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Get("/healthz", controllers.Healthz(cfg, logg, dbP))
	if promRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Put("/", controllers.SessionAttach(gate, store, logg))
			r.Get("/", controllers.SessionStatus(gate, logg))
			r.Delete("/", controllers.SessionDetach(gate, store, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.ActiveSession(gate, logg))

			r.Route("/mutations", func(r chi.Router) {
				r.Post("/", controllers.MutationCreate(mutationsService, logg))
				r.Get("/", controllers.MutationList(mutationsService, logg))
				r.Put("/{recordId}", controllers.MutationUpdate(mutationsService, logg))
				r.Get("/{recordId}/status", controllers.MutationStatus(mutationsService, logg))
			})

			r.Route("/sync", func(r chi.Router) {
				r.Get("/health", controllers.SyncHealth(healthService, logg))
				r.Post("/requeue", controllers.SyncRequeue(mutationsService, logg))
			})
		})
	})

	return r
}
