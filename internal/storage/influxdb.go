// Package storage provides the collector's InfluxDB mirror: a
// best-effort secondary store of observation rows, queried by the
// HTTP API and written to by the CSV writer as each batch is reduced.
package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"

	"github.com/fieldwatch/telemetry-collector/pkg/config"
	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

const measurement = "observation"

// InfluxDBMirror implements Storage against an InfluxDB bucket. It is
// the collector's best-effort secondary store: the CSV file is always
// the record of truth, and a mirror write failure is logged by the
// caller and never retried.
type InfluxDBMirror struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	config   config.InfluxDBConfig

	nodeCache map[string]struct{}
	total     int64
}

// NewInfluxDBMirror creates a new InfluxDB-backed mirror store and
// verifies connectivity before returning.
func NewInfluxDBMirror(cfg config.InfluxDBConfig) (*InfluxDBMirror, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	return &InfluxDBMirror{
		client:    client,
		writeAPI:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI:  client.QueryAPI(cfg.Org),
		config:    cfg,
		nodeCache: make(map[string]struct{}),
	}, nil
}

// WriteObservation mirrors a single observation row.
func (s *InfluxDBMirror) WriteObservation(ctx context.Context, row models.ObservationRow) error {
	point := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("node_id", row.NodeID).
		SetTime(row.CollectionTime)

	if row.StationID != nil {
		point.AddTag("station_id", fmt.Sprintf("%d", *row.StationID))
	}
	if row.Precipitation != nil {
		point.AddField("precipitation", *row.Precipitation)
	}
	if row.Temperature != nil {
		point.AddField("temperature", *row.Temperature)
	}
	if row.Humidity != nil {
		point.AddField("humidity", *row.Humidity)
	}
	if row.Flooding != nil {
		point.AddField("flooding", *row.Flooding)
	}
	if row.Lat != nil {
		point.AddField("lat", *row.Lat)
	}
	if row.Lon != nil {
		point.AddField("lon", *row.Lon)
	}

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write to InfluxDB: %w", err)
	}

	s.nodeCache[row.NodeID] = struct{}{}
	s.total++
	return nil
}

// GetNodeIDs returns every node id seen by this process since start.
// It is a local cache rather than a query so that a short-lived query
// API instance never pays for a full distinct-tag scan; GetObservations
// remains the authoritative, queryable path for historical data.
func (s *InfluxDBMirror) GetNodeIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.nodeCache))
	for id := range s.nodeCache {
		ids = append(ids, id)
	}
	return ids, nil
}

// GetObservations runs a Flux query over the configured bucket,
// applying query's filters and pagination.
func (s *InfluxDBMirror) GetObservations(ctx context.Context, q *models.ObservationQuery) ([]models.ObservationRow, error) {
	start := time.Now().Add(-30 * 24 * time.Hour)
	stop := time.Now()
	if q.StartTime != nil {
		start = *q.StartTime
	}
	if q.EndTime != nil {
		// Flux's range stop is exclusive; step one nanosecond past
		// EndTime so the window includes it.
		stop = q.EndTime.Add(time.Nanosecond)
	}

	fluxQuery := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: %s, stop: %s)
			|> filter(fn: (r) => r._measurement == "%s")
			|> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
	`, s.config.Bucket, start.Format(time.RFC3339Nano), stop.Format(time.RFC3339Nano), measurement)

	if q.NodeID != "" {
		fluxQuery += fmt.Sprintf(`|> filter(fn: (r) => r.node_id == "%s")`, q.NodeID)
	}
	if q.StationID != nil {
		fluxQuery += fmt.Sprintf(`|> filter(fn: (r) => r.station_id == "%d")`, *q.StationID)
	}

	fluxQuery += `|> sort(columns: ["_time"], desc: true)`

	if q.Offset > 0 {
		fluxQuery += fmt.Sprintf(`|> skip(n: %d)`, q.Offset)
	}
	if q.Limit > 0 {
		fluxQuery += fmt.Sprintf(`|> limit(n: %d)`, q.Limit)
	}

	result, err := s.queryAPI.Query(ctx, fluxQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query InfluxDB: %w", err)
	}
	defer result.Close()

	rows := make([]models.ObservationRow, 0)
	for result.Next() {
		rows = append(rows, recordToRow(result.Record()))
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("query error: %w", result.Err())
	}

	return rows, nil
}

// recordToRow converts an InfluxDB FluxRecord back into an
// ObservationRow.
func recordToRow(record *query.FluxRecord) models.ObservationRow {
	values := record.Values()

	row := models.ObservationRow{
		CollectionTime: record.Time(),
	}
	if v, ok := values["node_id"].(string); ok {
		row.NodeID = v
	}
	if v, ok := values["precipitation"].(float64); ok {
		row.Precipitation = &v
	}
	if v, ok := values["temperature"].(float64); ok {
		row.Temperature = &v
	}
	if v, ok := values["humidity"].(float64); ok {
		row.Humidity = &v
	}
	if v, ok := values["flooding"].(int64); ok {
		iv := int(v)
		row.Flooding = &iv
	}
	if v, ok := values["lat"].(float64); ok {
		row.Lat = &v
	}
	if v, ok := values["lon"].(float64); ok {
		row.Lon = &v
	}
	if v, ok := values["station_id"].(string); ok && v != "" {
		var iv int
		if _, err := fmt.Sscanf(v, "%d", &iv); err == nil {
			row.StationID = &iv
		}
	}
	return row
}

// Stats returns storage statistics.
func (s *InfluxDBMirror) Stats() StorageStats {
	return StorageStats{
		TotalObservations: s.total,
		TotalNodes:        len(s.nodeCache),
	}
}

// Close closes the InfluxDB client.
func (s *InfluxDBMirror) Close() error {
	s.client.Close()
	return nil
}
