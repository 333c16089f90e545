package telemetry

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/metrics"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/alerting"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/persistence"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/realtime"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/registry"
)

// RouterDeps raccoglie i componenti esposti via HTTP. History, Health e Ready possono essere nil.
type RouterDeps struct {
	Registry       *registry.Registry
	Store          *persistence.Store
	History        persistence.HistoryQuerier
	Alerts         alerting.Store
	Hub            *realtime.Hub
	Health         http.Handler
	Ready          http.Handler
	AllowedOrigins []string
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// le sonde e /metrics restano fuori dal log di accesso
	if d.Health != nil {
		r.Method(http.MethodGet, "/healthz", d.Health)
	}
	if d.Ready != nil {
		r.Method(http.MethodGet, "/readyz", d.Ready)
	}
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if d.Hub != nil {
		r.Get("/ws", d.Hub.ServeWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		registry.Routes(r, d.Registry)
		persistence.Routes(r, d.Store, d.History)
		alerting.Routes(r, d.Alerts)
	})

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(r)
}
