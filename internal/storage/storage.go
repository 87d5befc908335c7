// Package storage provides the collector's InfluxDB mirror: a
// best-effort secondary store of observation rows, queried by the
// HTTP API and written to by the CSV writer as each batch is reduced.
package storage

import (
	"context"
	"time"

	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

// ReadStorage defines the read-only interface for querying stored
// observations. Used by: API
type ReadStorage interface {
	// GetNodeIDs returns every node id that has written at least one
	// observation.
	GetNodeIDs(ctx context.Context) ([]string, error)

	// GetObservations returns rows matching query, newest first.
	GetObservations(ctx context.Context, query *models.ObservationQuery) ([]models.ObservationRow, error)

	// Close closes the storage
	Close() error
}

// Storage defines the full interface for observation storage,
// including the write path. Used by: Writer
type Storage interface {
	ReadStorage

	// WriteObservation mirrors a single row written to the active CSV
	// file. Failures are logged by the caller and never retried; the
	// CSV file remains the authoritative record.
	WriteObservation(ctx context.Context, row models.ObservationRow) error

	// Stats returns storage statistics
	Stats() StorageStats
}

// StorageStats provides storage statistics.
type StorageStats struct {
	TotalObservations int64     `json:"total_observations"`
	TotalNodes        int       `json:"total_nodes"`
	OldestObservation time.Time `json:"oldest_observation"`
	NewestObservation time.Time `json:"newest_observation"`
}
