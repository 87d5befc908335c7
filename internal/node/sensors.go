package node

import (
	"context"
	"log"
	"time"

	"github.com/fieldwatch/telemetry-collector/pkg/config"
	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

// cycleTarget is the per-sensor read interval: 5s of slack against the
// collector's one-minute pulse.
const cycleTarget = 55 * time.Second

// Reader is the opaque sensor-acquisition hook: GPIO drivers, test
// fakes, or anything else that can produce a Value on demand.
type Reader interface {
	Read(ctx context.Context) (models.Value, error)
}

// ReaderFunc adapts a plain function to a Reader.
type ReaderFunc func(ctx context.Context) (models.Value, error)

// Read calls f.
func (f ReaderFunc) Read(ctx context.Context) (models.Value, error) { return f(ctx) }

// SensorWorker runs one sensor's read-and-append loop.
type SensorWorker struct {
	sensor models.SensorKind
	reader Reader
	buffer *Buffer
	cfg    config.NodeConfig
	logger *log.Logger
}

// NewSensorWorker builds a SensorWorker for one sensor kind.
func NewSensorWorker(sensor models.SensorKind, reader Reader, buffer *Buffer, cfg config.NodeConfig, logger *log.Logger) *SensorWorker {
	if logger == nil {
		logger = log.Default()
	}
	return &SensorWorker{sensor: sensor, reader: reader, buffer: buffer, cfg: cfg, logger: logger}
}

// Run loops until ctx is cancelled, reading the sensor and appending
// to the shared buffer every cycleTarget. If a cycle overruns the
// target, the next append is skipped rather than letting the worker
// fall behind and eventually block the client loop.
func (w *SensorWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(cycleTarget)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

func (w *SensorWorker) cycle(ctx context.Context) {
	start := time.Now()

	value, err := w.reader.Read(ctx)
	if err != nil {
		w.logger.Printf("node: %s read failed: %v", w.sensor, err)
		return
	}

	if time.Since(start) > cycleTarget {
		w.logger.Printf("node: %s cycle overran %s, skipping append", w.sensor, cycleTarget)
		return
	}

	w.buffer.Append(models.Reading{
		Sensor:    w.sensor,
		Value:     value,
		StationID: w.cfg.StationID,
		Lat:       w.cfg.Lat,
		Lon:       w.cfg.Lon,
	})
}
