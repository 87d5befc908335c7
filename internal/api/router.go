// Package api provides the collector's read-only query REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/fieldwatch/telemetry-collector/internal/api/handlers"
	"github.com/fieldwatch/telemetry-collector/internal/storage"
)

// RouterConfig configures the API router.
type RouterConfig struct {
	// DefaultLimit is the default pagination limit
	DefaultLimit int

	// MaxLimit is the maximum pagination limit
	MaxLimit int
}

// DefaultRouterConfig returns a router config with sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		DefaultLimit: 100,
		MaxLimit:     1000,
	}
}

// NewRouter creates a new mux router with all routes configured.
func NewRouter(store storage.ReadStorage, config RouterConfig) *mux.Router {
	router := mux.NewRouter()

	// Create handler
	handler := handlers.NewHandler(store, config.DefaultLimit, config.MaxLimit)

	// Health check endpoints for Kubernetes probes
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	// Swagger UI
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// GET /api/v1/nodes - List all node ids with stored observations
	api.HandleFunc("/nodes", handler.ListNodes).Methods(http.MethodGet)

	// GET /api/v1/nodes/{id}/observations - Get observations for a node
	api.HandleFunc("/nodes/{id}/observations", handler.GetNodeObservations).Methods(http.MethodGet)

	// GET /api/v1/stations - List all distinct station ids
	api.HandleFunc("/stations", handler.ListStations).Methods(http.MethodGet)

	// GET /api/v1/stats - Get system statistics
	api.HandleFunc("/stats", handler.GetStats).Methods(http.MethodGet)

	return router
}
