package router

import (
	"net/http"

	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/handler"
	"github.com/certgen/certgen/internal/metrics"
	"github.com/certgen/certgen/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Liveness and health endpoints (no auth required)
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, metrics.Handler())
	}

	generateRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Route:  "generate_certificate",
		Limit:  cfg.Server.RateLimit.Limit,
		Window: cfg.Server.RateLimit.Window,
		KeyFn:  middleware.IPKey,
	})
	mux.Handle("POST /generateCertificate",
		middleware.Chain(http.HandlerFunc(h.GenerateCertificate), mw.WebhookAuth, generateRateLimit))

	return middleware.Chain(mux, mw.Recover, mw.RequestID, mw.Logger)
}
