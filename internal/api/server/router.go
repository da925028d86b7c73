package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eduard256/mapkit/internal/api/auth"
	"github.com/eduard256/mapkit/internal/api/handlers"
	"github.com/eduard256/mapkit/internal/metrics"
	"github.com/eduard256/mapkit/internal/nominatim"
	"github.com/eduard256/mapkit/internal/orchestrator"
	"github.com/eduard256/mapkit/pkg/logger"
)

// Dependencies holds all handler dependencies.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Geocoder     *nominatim.Client
	Metrics      *metrics.Metrics
	// JWTAuth protects mutating routes. Nil disables auth.
	JWTAuth *auth.JWTAuth
	// RateLimit throttles mutating routes per client. Nil disables it.
	RateLimit *auth.RateLimiter
	Logger    *logger.Logger
}

// NewRouter creates and configures the HTTP router with all routes.
func NewRouter(deps *Dependencies) http.Handler {
	log := logger.OrNop(deps.Logger).Component("http")
	r := chi.NewRouter()

	r.Use(Recovery(log))
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(VisitorIP)

	r.Get("/health", handlers.Health(deps.Orchestrator))
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	maps := handlers.NewMapsHandler(deps.Orchestrator, log)
	geocode := handlers.NewGeocodeHandler(deps.Geocoder)
	requireAuth := auth.Optional(deps.JWTAuth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/geocode/reverse", geocode.Reverse)

		r.Route("/maps/{id}", func(r chi.Router) {
			r.Get("/", maps.Get)
			r.Get("/geojson", maps.GeoJSON)
			r.Get("/static", maps.Static)

			r.Group(func(r chi.Router) {
				if deps.RateLimit != nil {
					r.Use(deps.RateLimit.Middleware)
				}
				r.Use(requireAuth)

				r.Put("/", maps.Update)
				r.Delete("/", maps.Delete)
				r.Post("/mount", maps.Mount)
				r.Post("/reload", maps.Reload)
				r.Post("/focus/{markerId}", maps.Focus)
				r.Post("/restore-bounds", maps.RestoreBounds)
				r.Post("/clusters/{clusterId}/click", maps.ClickCluster)
			})
		})
	})

	return r
}
