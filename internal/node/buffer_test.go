package node

import (
	"testing"

	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

func TestBufferAppendDropsWhenNotReady(t *testing.T) {
	b := NewBuffer()
	b.Append(models.Reading{Sensor: models.RainGauge, Value: models.FloatValue(1)})
	if b.Len() != 0 {
		t.Errorf("expected append to be dropped while not ready, got len %d", b.Len())
	}
}

func TestBufferAppendAndSnapshotDoesNotClear(t *testing.T) {
	b := NewBuffer()
	b.SetReady(true)
	b.Append(models.Reading{Sensor: models.RainGauge, Value: models.FloatValue(1)})

	snap := b.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected snapshot of 1, got %d", len(snap))
	}
	if b.Len() != 1 {
		t.Errorf("expected snapshot to leave buffer intact, got len %d", b.Len())
	}
}

func TestBufferClearRemovesOnlySnapshotted(t *testing.T) {
	b := NewBuffer()
	b.SetReady(true)
	b.Append(models.Reading{Sensor: models.RainGauge, Value: models.FloatValue(1)})

	snap := b.Snapshot()
	b.Append(models.Reading{Sensor: models.RainGauge, Value: models.FloatValue(2)})
	b.Clear(len(snap))

	if b.Len() != 1 {
		t.Fatalf("expected one reading appended after snapshot to survive clear, got %d", b.Len())
	}
	remaining := b.Snapshot()
	if v, _ := remaining[0].Value.Float(); v != 2 {
		t.Errorf("expected the surviving reading to be the later one, got %v", v)
	}
}

func TestBufferClearOnEmptySnapshotIsNoop(t *testing.T) {
	b := NewBuffer()
	b.SetReady(true)
	b.Clear(0)
	if b.Len() != 0 {
		t.Error("expected clearing an empty buffer to stay empty")
	}
}
