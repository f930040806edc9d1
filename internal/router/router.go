package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rodrigopitanga/patchvec/internal/auth"
	"github.com/rodrigopitanga/patchvec/internal/handler"
	"github.com/rodrigopitanga/patchvec/internal/middleware"
)

// Dependencies holds everything the router wires together.
type Dependencies struct {
	Handler       handler.Deps
	Authenticator *auth.Authenticator
	MetricsReg    *prometheus.Registry
	HTTPMetrics   *middleware.HTTPMetrics
}

// New assembles the chi router with the full HTTP surface.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	if deps.HTTPMetrics != nil {
		r.Use(middleware.Monitoring(deps.HTTPMetrics))
	}

	h := deps.Handler

	// Public surface
	r.Get("/health", handler.Health(h))
	r.Get("/health/live", handler.HealthLive(h))
	r.Get("/health/ready", handler.HealthReady(h))
	r.Get("/health/metrics", handler.HealthMetrics(h))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	// Authenticated surface
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(deps.Authenticator))

		r.Get("/admin/archive", handler.ArchiveDump(h))
		r.Put("/admin/archive", handler.ArchiveRestore(h))
		r.Delete("/admin/metrics", handler.MetricsReset(h))
		r.Get("/admin/tenants", handler.ListTenants(h))

		r.Get("/collections/{tenant}", handler.ListCollections(h))
		r.Post("/collections/{tenant}/{collection}", handler.CreateCollection(h))
		r.Delete("/collections/{tenant}/{collection}", handler.DeleteCollection(h))
		r.Put("/collections/{tenant}/{collection}", handler.RenameCollection(h))

		r.Post("/collections/{tenant}/{collection}/documents", handler.IngestDocument(h))
		r.Delete("/collections/{tenant}/{collection}/documents/{docid}", handler.DeleteDocument(h))

		r.Post("/collections/{tenant}/{collection}/search", handler.SearchPost(h))
		r.Get("/collections/{tenant}/{collection}/search", handler.SearchGet(h))

		r.Post("/search", handler.SearchCommonPost(h))
		r.Get("/search", handler.SearchCommonGet(h))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":    false,
			"code":  "not_found",
			"error": "route not found",
		})
	})

	return r
}
