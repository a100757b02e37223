package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"touristguard/internal/metrics"
	mdlwr "touristguard/internal/middleware"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	HTTP   *HTTPHandler
	Zones  *ZoneHandler
	Stats  *StatsHandler
	Health *HealthHandler
	WS     *WSHandler
}

type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *metrics.Collector
	RateLimiter    *mdlwr.RateLimiter
}

func NewRouter(h Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	r.Get("/healthz", h.Health.Healthz)
	r.Get("/readyz", h.Health.Readyz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if h.WS != nil {
			r.Get("/ws", h.WS.ServeWS)
		}

		// Panic is never throttled.
		r.Group(func(r chi.Router) {
			r.Use(GzipMiddleware)
			r.Post("/tourists/{id}/panic", h.HTTP.TriggerPanic)
		})

		r.Group(func(r chi.Router) {
			if opts.RateLimiter != nil {
				r.Use(opts.RateLimiter.Middleware)
			}
			r.Use(GzipMiddleware)

			r.Post("/locations", h.HTTP.PostLocation)
			r.Post("/locations/batch", h.HTTP.PostLocations)

			r.Get("/tourists", h.HTTP.ListTourists)
			r.Get("/tourists/{id}", h.HTTP.GetTourist)
			r.Delete("/tourists/{id}", h.HTTP.DeleteTourist)
			r.Put("/tourists/{id}/route", h.HTTP.SetRoute)
			r.Delete("/tourists/{id}/route", h.HTTP.ClearRoute)

			r.Route("/zones", func(r chi.Router) {
				r.Get("/", h.Zones.ListZones)
				r.Get("/locate", h.Zones.Locate)
				r.Get("/{id}", h.Zones.GetZone)
			})

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", h.HTTP.ListAlerts)
				r.Get("/unread", h.HTTP.UnreadCount)
				r.Get("/{id}", h.HTTP.GetAlert)
				r.Post("/{id}/resolve", h.HTTP.ResolveAlert)
			})

			r.Route("/stats", func(r chi.Router) {
				r.Get("/", h.Stats.GetStats)
				r.Get("/dashboard", h.Stats.Dashboard)
				r.Get("/heatmap", h.Stats.Heatmap)
			})
		})
	})

	return r
}
