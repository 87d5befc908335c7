// Command collector runs the telemetry collector: it accepts TCP
// connections from field nodes, writes one flattened row per batch to
// an hourly CSV file, ships each closed file to the external
// data-repository service, and fires a flood-model job on each flood
// reading (the job submits only when USGS streamflow crosses its
// threshold).
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldwatch/telemetry-collector/internal/collector"
	"github.com/fieldwatch/telemetry-collector/internal/floodjob"
	"github.com/fieldwatch/telemetry-collector/internal/storage"
	"github.com/fieldwatch/telemetry-collector/internal/upload"
	"github.com/fieldwatch/telemetry-collector/internal/writer"
	"github.com/fieldwatch/telemetry-collector/pkg/config"
)

func main() {
	logger := log.New(os.Stdout, "[COLLECTOR] ", log.LstdFlags|log.Lmicroseconds)

	cfg := config.DefaultCollectorConfig()

	logger.Printf("Starting telemetry collector...")
	logger.Printf("  Listen: %s:%d", cfg.TCPHost, cfg.TCPPort)
	logger.Printf("  Data dir: %s", cfg.DataDir)
	logger.Printf("  Upload base URL: %s", cfg.Upload.BaseURL)

	queue := writer.NewQueue()

	uploader := upload.New(cfg.Upload)
	flood := floodjob.New(cfg.FloodJob, log.New(os.Stdout, "[FLOODJOB] ", log.LstdFlags|log.Lmicroseconds))

	var mirror writer.Mirror
	influxMirror, err := storage.NewInfluxDBMirror(cfg.InfluxDB)
	if err != nil {
		logger.Printf("InfluxDB mirror unavailable, continuing without it: %v", err)
	} else {
		mirror = influxMirror
		defer influxMirror.Close()
	}

	csvWriter, err := writer.New(queue, cfg.DataDir, uploader, flood, mirror, cfg.Upload.CampaignID, 0, log.New(os.Stdout, "[WRITER] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("Failed to initialize writer: %v", err)
	}

	addr := net.JoinHostPort(cfg.TCPHost, fmt.Sprintf("%d", cfg.TCPPort))
	srv := collector.NewServer(addr, queue, log.New(os.Stdout, "[SERVER] ", log.LstdFlags|log.Lmicroseconds))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	go csvWriter.Run(ctx)

	if err := srv.Start(); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
	logger.Printf("Collector listening on %s", addr)

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		logger.Printf("Error during server shutdown: %v", err)
	}

	queue.Shutdown(stopCtx)
	logger.Printf("Collector stopped.")
}
