package writer

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

// byteOrderMark is the UTF-8 BOM the active CSV file's header is
// prefixed with.
const byteOrderMark = string(rune(0xFEFF))

const (
	diskRetryInterval = 2 * time.Second
	diskMaxRetries    = 5
	rotationCheckIdle = time.Second
	rotationInterval  = time.Hour
)

// Uploader ships a closed hourly file to the external data repository.
// The concrete implementation lives in internal/upload; Writer only
// depends on this narrow interface so tests can fake it.
type Uploader interface {
	Upload(ctx context.Context, path, templatePath, campaignID string, stationID int) error
}

// FloodJobSubmitter fires off a hydrological model job when a flood
// reading is observed. The concrete implementation lives in
// internal/floodjob.
type FloodJobSubmitter interface {
	Submit(ctx context.Context, row models.ObservationRow)
}

// Mirror writes an observation row to the collector's secondary,
// best-effort store (the InfluxDB mirror in internal/storage). A
// mirror failure is logged and never retried; the CSV file remains
// the record of truth.
type Mirror interface {
	WriteObservation(ctx context.Context, row models.ObservationRow) error
}

// Writer is the collector's single background CSV-appending consumer.
// It owns the active file path and is the only writer of that file.
type Writer struct {
	queue    *Queue
	dataDir  string
	uploader Uploader
	flood    FloodJobSubmitter
	mirror   Mirror
	logger   *log.Logger

	rotationMu   sync.Mutex
	activePath   string
	lastRotation time.Time

	templatePath string
	campaignID   string
	stationID    int
}

// New builds a Writer. The active file path is derived from the next
// full hour at startup, matching the collector's first-rotation
// behavior. mirror may be nil, in which case no InfluxDB mirror
// writes are attempted.
func New(queue *Queue, dataDir string, uploader Uploader, flood FloodJobSubmitter, mirror Mirror, campaignID string, stationID int, logger *log.Logger) (*Writer, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("writer: creating data dir: %w", err)
	}

	w := &Writer{
		queue:      queue,
		dataDir:    dataDir,
		uploader:   uploader,
		flood:      flood,
		mirror:     mirror,
		logger:     logger,
		campaignID: campaignID,
		stationID:  stationID,
	}

	firstPath := hourlyFilePath(dataDir, time.Now().Add(time.Hour))
	if err := writeHeaderIfMissing(firstPath); err != nil {
		return nil, fmt.Errorf("writer: initializing active file: %w", err)
	}
	w.activePath = firstPath
	w.lastRotation = time.Now()

	templatePath := filepath.Join(dataDir, "sensor_template.csv")
	if err := writeSensorTemplate(templatePath); err != nil {
		return nil, fmt.Errorf("writer: writing sensor template: %w", err)
	}
	w.templatePath = templatePath

	return w, nil
}

// Run drains the queue until it reports shutdown, appending one row
// per job and checking for hourly rotation on each idle timeout.
func (w *Writer) Run(ctx context.Context) {
	for {
		job, ok, err := w.queue.Get(rotationCheckIdle)
		if err != nil {
			w.logger.Printf("writer: queue closed, exiting: %v", err)
			return
		}
		if !ok {
			w.checkRotation(ctx)
			continue
		}

		w.processJob(ctx, job)
	}
}

// processJob flattens one batch into a row and appends it, retrying a
// bounded number of times on OS-level write errors and re-enqueueing
// at the head so ordering is preserved across the retry.
func (w *Writer) processJob(ctx context.Context, job Job) {
	row, ok := flatten(job, w.logger)
	if !ok {
		w.logger.Printf("writer: batch %s from %s has no mapped sensor, dropping", job.ID, job.NodeID)
		return
	}

	if err := w.appendRow(row); err != nil {
		job.RetryCount++
		if job.RetryCount > diskMaxRetries {
			w.logger.Printf("writer: batch %s exceeded %d disk-write retries, dropping: %v", job.ID, diskMaxRetries, err)
			return
		}
		w.logger.Printf("writer: append failed for batch %s (attempt %d), re-enqueueing: %v", job.ID, job.RetryCount, err)
		w.queue.PushFront(job)
		time.Sleep(diskRetryInterval)
		return
	}

	if w.mirror != nil {
		if err := w.mirror.WriteObservation(ctx, row); err != nil {
			w.logger.Printf("writer: mirror write failed for batch %s: %v", job.ID, err)
		}
	}

	if row.IsFlooding() && w.flood != nil {
		go w.flood.Submit(ctx, row)
	}
}

// flatten reduces a batch's readings into a single ObservationRow per
// the collector's flattening rule. ok is false when no mapped sensor
// appeared in the batch at all. A reading from an unrecognized sensor
// kind is logged and skipped; it does not affect the rest of the batch.
func flatten(job Job, logger *log.Logger) (models.ObservationRow, bool) {
	row := models.ObservationRow{
		NodeID:         job.NodeID,
		CollectionTime: time.Now(),
	}

	found := false
	for _, r := range job.Batch.Readings {
		switch r.Sensor {
		case models.RainGauge:
			if row.Precipitation == nil {
				if f, ok := r.Value.Float(); ok {
					row.Precipitation = &f
					found = true
				}
			}
		case models.TempHumidity:
			if row.Temperature == nil {
				if a, b, ok := r.Value.Pair(); ok {
					row.Temperature = &a
					row.Humidity = &b
					found = true
				}
			}
		case models.FloodSensor:
			if row.Flooding == nil {
				if i, ok := r.Value.Int(); ok {
					row.Flooding = &i
					found = true
				}
			}
		default:
			if logger != nil {
				logger.Printf("writer: batch %s from %s has unrecognized sensor %q, skipping reading", job.ID, job.NodeID, r.Sensor)
			}
			continue
		}

		if row.StationID == nil {
			stationID := r.StationID
			row.StationID = &stationID
		}
		if row.Lat == nil {
			lat := r.Lat
			row.Lat = &lat
		}
		if row.Lon == nil {
			lon := r.Lon
			row.Lon = &lon
		}
	}

	return row, found
}

// appendRow appends a single CSV record to the active file under the
// rotation lock, so a concurrent rotation never sees a torn path.
func (w *Writer) appendRow(row models.ObservationRow) error {
	w.rotationMu.Lock()
	path := w.activePath
	w.rotationMu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(row.CSVRecord()); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// checkRotation triggers rotation once an hour has elapsed since the
// last one.
func (w *Writer) checkRotation(ctx context.Context) {
	w.rotationMu.Lock()
	due := time.Since(w.lastRotation) >= rotationInterval
	w.rotationMu.Unlock()

	if due {
		w.rotate(ctx)
	}
}

// hourlyFilePath builds the canonical hourly filename for the hour
// covering t.
func hourlyFilePath(dataDir string, t time.Time) string {
	stamp := t.Format("20060102_15") + "0000"
	return filepath.Join(dataDir, fmt.Sprintf("metrics_data_%s.csv", stamp))
}

// writeHeaderIfMissing creates path with the BOM + header row if it
// doesn't already exist.
func writeHeaderIfMissing(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(byteOrderMark + models.CSVHeader + "\r\n"); err != nil {
		return err
	}
	return nil
}
