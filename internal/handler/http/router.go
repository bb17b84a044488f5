package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vendasys/pos-service/internal/service"
	"github.com/vendasys/pos-service/pkg/health"
	"github.com/vendasys/pos-service/pkg/middleware"
)

// NewRouter creates a chi router with all POS service routes registered.
func NewRouter(
	sessionService *service.SessionService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("pos"))
	r.Use(middleware.Tracing("pos"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Session API endpoints
	sessionHandler := NewSessionHandler(sessionService, logger)

	r.Route("/api/v1/pos/session", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(TerminalIDFromHeader)

		r.Get("/", sessionHandler.GetSession)
		r.Delete("/", sessionHandler.CancelSession)

		r.Post("/customer", sessionHandler.ResolveCustomer)
		r.Post("/product", sessionHandler.ResolveProduct)
		r.Post("/items", sessionHandler.AddItem)
		r.Delete("/items/{index}", sessionHandler.RemoveItem)
		r.Post("/finalize", sessionHandler.Finalize)
		r.Put("/sale-date", sessionHandler.SetSaleDate)
	})

	return r
}
