package storage

import (
	"context"
	"testing"
	"time"

	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

// Note: the InfluxDB mirror's own tests require a live InfluxDB
// instance. These tests cover the interface definitions and the
// in-memory mocks defined in this file.

// mockReadStorage implements ReadStorage for testing.
type mockReadStorage struct {
	nodeIDs []string
}

func (m *mockReadStorage) GetNodeIDs(ctx context.Context) ([]string, error) {
	return m.nodeIDs, nil
}

func (m *mockReadStorage) GetObservations(ctx context.Context, query *models.ObservationQuery) ([]models.ObservationRow, error) {
	return []models.ObservationRow{}, nil
}

func (m *mockReadStorage) Close() error {
	return nil
}

// mockStorage implements Storage for testing.
type mockStorage struct {
	rows  []models.ObservationRow
	nodes map[string]struct{}
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		rows:  make([]models.ObservationRow, 0),
		nodes: make(map[string]struct{}),
	}
}

func (m *mockStorage) GetNodeIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mockStorage) GetObservations(ctx context.Context, query *models.ObservationQuery) ([]models.ObservationRow, error) {
	var result []models.ObservationRow
	for _, row := range m.rows {
		if query.NodeID != "" && row.NodeID != query.NodeID {
			continue
		}
		result = append(result, row)
	}
	return result, nil
}

func (m *mockStorage) WriteObservation(ctx context.Context, row models.ObservationRow) error {
	m.rows = append(m.rows, row)
	m.nodes[row.NodeID] = struct{}{}
	return nil
}

func (m *mockStorage) Close() error {
	return nil
}

func (m *mockStorage) Stats() StorageStats {
	return StorageStats{
		TotalObservations: int64(len(m.rows)),
		TotalNodes:        len(m.nodes),
	}
}

func TestStorageStatsStruct(t *testing.T) {
	stats := StorageStats{
		TotalObservations: 1000,
		TotalNodes:        8,
		OldestObservation: time.Now().Add(-24 * time.Hour),
		NewestObservation: time.Now(),
	}

	if stats.TotalObservations != 1000 {
		t.Errorf("expected 1000 observations, got %d", stats.TotalObservations)
	}
	if stats.TotalNodes != 8 {
		t.Errorf("expected 8 nodes, got %d", stats.TotalNodes)
	}
}

func TestReadStorageInterface(t *testing.T) {
	var _ ReadStorage = (*mockReadStorage)(nil)
}

func TestStorageInterface(t *testing.T) {
	var _ Storage = (*mockStorage)(nil)
}

func TestMockStorageWriteObservation(t *testing.T) {
	store := newMockStorage()
	ctx := context.Background()

	precip := 1.5
	err := store.WriteObservation(ctx, models.ObservationRow{
		NodeID:         "node-001",
		Precipitation:  &precip,
		CollectionTime: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to write observation: %v", err)
	}

	stats := store.Stats()
	if stats.TotalObservations != 1 {
		t.Errorf("expected 1 observation, got %d", stats.TotalObservations)
	}
	if stats.TotalNodes != 1 {
		t.Errorf("expected 1 node, got %d", stats.TotalNodes)
	}
}

func TestMockStorageWriteObservationMultipleNodes(t *testing.T) {
	store := newMockStorage()
	ctx := context.Background()

	rows := []models.ObservationRow{
		{NodeID: "node-1", CollectionTime: time.Now()},
		{NodeID: "node-2", CollectionTime: time.Now()},
		{NodeID: "node-1", CollectionTime: time.Now()},
	}
	for _, row := range rows {
		if err := store.WriteObservation(ctx, row); err != nil {
			t.Fatalf("failed to write observation: %v", err)
		}
	}

	stats := store.Stats()
	if stats.TotalObservations != 3 {
		t.Errorf("expected 3 observations, got %d", stats.TotalObservations)
	}
	if stats.TotalNodes != 2 {
		t.Errorf("expected 2 nodes, got %d", stats.TotalNodes)
	}
}

func TestMockStorageGetObservationsFiltersByNodeID(t *testing.T) {
	store := newMockStorage()
	ctx := context.Background()

	store.WriteObservation(ctx, models.ObservationRow{NodeID: "node-1"})
	store.WriteObservation(ctx, models.ObservationRow{NodeID: "node-1"})
	store.WriteObservation(ctx, models.ObservationRow{NodeID: "node-2"})

	rows, err := store.GetObservations(ctx, &models.ObservationQuery{NodeID: "node-1"})
	if err != nil {
		t.Fatalf("failed to get observations: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 observations for node-1, got %d", len(rows))
	}
}

func TestMockReadStorageGetNodeIDs(t *testing.T) {
	store := &mockReadStorage{nodeIDs: []string{"node-1", "node-2"}}
	ctx := context.Background()

	ids, err := store.GetNodeIDs(ctx)
	if err != nil {
		t.Fatalf("failed to get node ids: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 node ids, got %d", len(ids))
	}
}

func TestMockReadStorageClose(t *testing.T) {
	store := &mockReadStorage{}
	if err := store.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
