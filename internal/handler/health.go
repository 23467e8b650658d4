package handler

import (
	"context"
	"net/http"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

type checker interface {
	HealthCheck(ctx context.Context) error
}

// dependencies returns the enabled backing services by name.
func (h *Handler) dependencies() map[string]checker {
	deps := make(map[string]checker)
	if h.db != nil {
		deps["postgres"] = h.db
	}
	if h.rdb != nil {
		deps["redis"] = h.rdb
	}
	if h.queue != nil {
		deps["nats"] = h.queue
	}
	return deps
}

// Root answers the form trigger's liveness check.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("hi there"))
}

// Health returns the health status of the service
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	services := make(map[string]string)
	for name, dep := range h.dependencies() {
		if err := dep.HealthCheck(ctx); err != nil {
			services[name] = "unhealthy"
		} else {
			services[name] = "healthy"
		}
	}

	// Determine overall status
	status := "healthy"
	for _, s := range services {
		if s == "unhealthy" {
			status = "degraded"
			break
		}
	}

	resp := HealthResponse{
		Status:   status,
		Version:  Version,
		Services: services,
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// Ready returns whether the service is ready to accept requests
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	for name, dep := range h.dependencies() {
		if err := dep.HealthCheck(ctx); err != nil {
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
