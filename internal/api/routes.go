package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/listserv/internal/pkg/httputil"
)

// SetupRoutes builds the router: the SES webhook, health probes and metrics.
func SetupRoutes(inbound *InboundHandler, health *HealthChecker) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Server-Identity", "listserv")
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/inbound", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json", "text/plain"))
		r.Post("/ses", inbound.HandleSES)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.NotFound(w, "not found")
	})
	return r
}
