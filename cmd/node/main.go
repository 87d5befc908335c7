// Command node runs the field-station client: one persistent
// connection to the collector, driven by sensor workers that append
// readings into a shared batch buffer between pulses.
//
// Sensor acquisition itself is treated as an opaque collaborator — the
// GPIO drivers that actually read the rain gauge, flood sensor, and
// temperature/humidity sensor live outside this module. The readers
// wired below are the seam where those drivers attach.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldwatch/telemetry-collector/internal/node"
	"github.com/fieldwatch/telemetry-collector/pkg/config"
	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

func main() {
	logger := log.New(os.Stdout, "[NODE] ", log.LstdFlags|log.Lmicroseconds)

	invokedWithArgs := len(os.Args) > 1
	cfg := config.DefaultNodeConfig()
	cfg.Host = cfg.ResolveHost(invokedWithArgs)

	logger.Printf("Starting field node %s...", cfg.NodeID)
	logger.Printf("  Collector: %s:%d", cfg.Host, cfg.Port)
	logger.Printf("  Station: %d (%f, %f)", cfg.StationID, cfg.Lat, cfg.Lon)

	buffer := node.NewBuffer()
	client := node.New(cfg, buffer, log.New(os.Stdout, "[NODE-CLIENT] ", log.LstdFlags|log.Lmicroseconds))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	workers := []*node.SensorWorker{
		node.NewSensorWorker(models.RainGauge, rainGaugeReader(cfg), buffer, cfg, log.New(os.Stdout, "[RAIN] ", log.LstdFlags)),
		node.NewSensorWorker(models.FloodSensor, floodSensorReader(cfg), buffer, cfg, log.New(os.Stdout, "[FLOOD] ", log.LstdFlags)),
		node.NewSensorWorker(models.TempHumidity, tempHumidReader(cfg), buffer, cfg, log.New(os.Stdout, "[TEMP_HUMID] ", log.LstdFlags)),
	}
	for _, w := range workers {
		go w.Run(ctx)
	}

	client.Run(ctx)

	logger.Printf("Node stopped.")
}

// rainGaugeReader is the rain gauge's driver seam. As wired here it
// reports 0 mm on every read; cfg's BucketSize and RainfallChannel are
// not read. A GPIO driver attaches at this point.
func rainGaugeReader(cfg config.NodeConfig) node.Reader {
	return node.ReaderFunc(func(ctx context.Context) (models.Value, error) {
		return models.FloatValue(0), nil
	})
}

// floodSensorReader is the flood sensor's driver seam. As wired here it
// reports 0 (no flood) on every read; cfg's FloodChannel is not read.
func floodSensorReader(cfg config.NodeConfig) node.Reader {
	return node.ReaderFunc(func(ctx context.Context) (models.Value, error) {
		return models.IntValue(0), nil
	})
}

// tempHumidReader is the temperature/humidity sensor's driver seam. As
// wired here it reports the pair (0, 0) on every read; cfg's
// TempHumidChannel is not read.
func tempHumidReader(cfg config.NodeConfig) node.Reader {
	return node.ReaderFunc(func(ctx context.Context) (models.Value, error) {
		return models.PairValue(0, 0), nil
	})
}
