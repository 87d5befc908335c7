package writer

import (
	"context"
	"os"
	"time"

	"github.com/fieldwatch/telemetry-collector/internal/parser"
)

// rotate performs the hourly hand-off: snapshot the current file,
// stand up the successor, swap the active path, then hand the
// snapshot to the uploader in its own goroutine so a slow or failing
// upload never blocks the writer.
func (w *Writer) rotate(ctx context.Context) {
	w.rotationMu.Lock()
	snapshotPath := w.activePath
	w.rotationMu.Unlock()

	nextPath := hourlyFilePath(w.dataDir, time.Now().Add(time.Hour))
	if err := writeHeaderIfMissing(nextPath); err != nil {
		w.logger.Printf("writer: rotation failed to create successor file %s: %v", nextPath, err)
		return
	}

	w.rotationMu.Lock()
	w.activePath = nextPath
	w.lastRotation = time.Now()
	w.rotationMu.Unlock()

	w.logger.Printf("writer: rotated active file %s -> %s", snapshotPath, nextPath)

	go w.ship(ctx, snapshotPath)
}

// ship invokes the uploader on a closed snapshot file. On success the
// snapshot is deleted; on failure it is left on disk for manual retry
// and the failure is logged loudly, per the non-blocking upload
// discipline. The snapshot is validated before upload so a malformed
// file is caught and left on disk rather than shipped externally.
func (w *Writer) ship(ctx context.Context, snapshotPath string) {
	if w.uploader == nil {
		return
	}

	if err := parser.ValidateCSV(snapshotPath); err != nil {
		w.logger.Printf("writer: snapshot %s failed pre-upload validation, leaving on disk: %v", snapshotPath, err)
		return
	}

	err := w.uploader.Upload(ctx, snapshotPath, w.templatePath, w.campaignID, w.stationID)
	if err != nil {
		w.logger.Printf("writer: UPLOAD FAILED for %s, leaving file on disk for manual retry: %v", snapshotPath, err)
		return
	}

	if err := os.Remove(snapshotPath); err != nil {
		w.logger.Printf("writer: upload succeeded but failed to remove snapshot %s: %v", snapshotPath, err)
	}
}
