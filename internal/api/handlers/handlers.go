// Package handlers provides HTTP handlers for the collector's
// read-only query API.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/fieldwatch/telemetry-collector/internal/storage"
	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

// Handler handles observation query API requests.
type Handler struct {
	store        storage.ReadStorage
	defaultLimit int
	maxLimit     int
}

// NewHandler creates a new handler with read-only storage.
func NewHandler(store storage.ReadStorage, defaultLimit, maxLimit int) *Handler {
	return &Handler{
		store:        store,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error" example:"internal_error"`
	Message string `json:"message,omitempty" example:"Failed to fetch data"`
}

// NodeListResponse represents the response for listing node ids.
type NodeListResponse struct {
	Data  []string `json:"data"`
	Count int      `json:"count" example:"12"`
}

// ObservationResponse represents the response for observation queries.
type ObservationResponse struct {
	Data  []models.ObservationRow `json:"data"`
	Count int                     `json:"count" example:"100"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   err,
		Message: message,
	})
}

// ListNodes godoc
// @Summary      List all nodes
// @Description  Returns a list of all node ids for which observations are available
// @Tags         nodes
// @Produce      json
// @Success      200  {object}  NodeListResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /api/v1/nodes [get]
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.store.GetNodeIDs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, NodeListResponse{
		Data:  nodes,
		Count: len(nodes),
	})
}

// GetNodeObservations godoc
// @Summary      Get a node's observations
// @Description  Returns stored observation rows for a specific node, newest first
// @Tags         nodes
// @Produce      json
// @Param        id          path      string  true   "Node id"
// @Param        start_time  query     string  false  "Start time filter (RFC3339)"  example(2026-07-01T00:00:00Z)
// @Param        end_time    query     string  false  "End time filter (RFC3339)"    example(2026-07-02T00:00:00Z)
// @Param        limit       query     int     false  "Maximum results"              default(100)
// @Param        offset      query     int     false  "Offset for pagination"        default(0)
// @Success      200  {object}  ObservationResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /api/v1/nodes/{id}/observations [get]
func (h *Handler) GetNodeObservations(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	nodeID := vars["id"]
	if nodeID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "node id is required")
		return
	}

	query, err := h.parseObservationQuery(r, nodeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	rows, err := h.store.GetObservations(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ObservationResponse{
		Data:  rows,
		Count: len(rows),
	})
}

// ListStations godoc
// @Summary      List all stations
// @Description  Returns the distinct station ids observed across all nodes
// @Tags         stations
// @Produce      json
// @Success      200  {object}  NodeListResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /api/v1/stations [get]
func (h *Handler) ListStations(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.GetObservations(r.Context(), &models.ObservationQuery{Limit: h.maxLimit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	seen := make(map[string]struct{})
	stations := make([]string, 0)
	for _, row := range rows {
		if row.StationID == nil {
			continue
		}
		key := strconv.Itoa(*row.StationID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		stations = append(stations, key)
	}

	writeJSON(w, http.StatusOK, NodeListResponse{
		Data:  stations,
		Count: len(stations),
	})
}

// StatsResponse represents system statistics.
type StatsResponse struct {
	TotalNodes        int       `json:"total_nodes"`
	TotalObservations int64     `json:"total_observations,omitempty"`
	OldestObservation time.Time `json:"oldest_observation,omitempty"`
	NewestObservation time.Time `json:"newest_observation,omitempty"`
}

// GetStats godoc
// @Summary      Get system statistics
// @Description  Returns overall statistics about nodes and stored observations
// @Tags         system
// @Produce      json
// @Success      200  {object}  StatsResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /api/v1/stats [get]
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.store.GetNodeIDs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	stats := StatsResponse{
		TotalNodes: len(nodes),
	}

	if statsStore, ok := h.store.(interface{ Stats() storage.StorageStats }); ok {
		storageStats := statsStore.Stats()
		stats.TotalObservations = storageStats.TotalObservations
		stats.OldestObservation = storageStats.OldestObservation
		stats.NewestObservation = storageStats.NewestObservation
	}

	writeJSON(w, http.StatusOK, stats)
}

// parseObservationQuery builds an ObservationQuery from the request's
// query-string parameters, applying the handler's default/max limits.
func (h *Handler) parseObservationQuery(r *http.Request, nodeID string) (*models.ObservationQuery, error) {
	query := &models.ObservationQuery{
		NodeID: nodeID,
		Limit:  h.defaultLimit,
	}

	if startTimeStr := r.URL.Query().Get("start_time"); startTimeStr != "" {
		startTime, err := time.Parse(time.RFC3339, startTimeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid start_time format, use RFC3339 (e.g., 2026-07-01T00:00:00Z)")
		}
		query.StartTime = &startTime
	}
	if endTimeStr := r.URL.Query().Get("end_time"); endTimeStr != "" {
		endTime, err := time.Parse(time.RFC3339, endTimeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid end_time format, use RFC3339 (e.g., 2026-07-02T00:00:00Z)")
		}
		query.EndTime = &endTime
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return nil, fmt.Errorf("invalid limit parameter")
		}
		if limit > h.maxLimit {
			limit = h.maxLimit
		}
		query.Limit = limit
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return nil, fmt.Errorf("invalid offset parameter")
		}
		query.Offset = offset
	}
	if stationIDStr := r.URL.Query().Get("station_id"); stationIDStr != "" {
		stationID, err := strconv.Atoi(stationIDStr)
		if err != nil {
			return nil, fmt.Errorf("invalid station_id parameter")
		}
		query.StationID = &stationID
	}

	return query, nil
}
