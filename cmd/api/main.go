// Command api runs the collector's read-only query gateway: a REST
// API over the InfluxDB mirror of stored observation rows.
//
// @title           Field Telemetry Collector Query API
// @version         1.0
// @description     Read-only query API over stored field-station observations.
//
// @host            localhost:8080
// @BasePath        /
//
// @schemes         http
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldwatch/telemetry-collector/internal/api"
	"github.com/fieldwatch/telemetry-collector/internal/storage"
	"github.com/fieldwatch/telemetry-collector/pkg/config"

	_ "github.com/fieldwatch/telemetry-collector/docs"
)

func main() {
	// Setup logging
	logger := log.New(os.Stdout, "[API] ", log.LstdFlags|log.Lmicroseconds)

	// Load configuration from environment variables
	cfg := config.DefaultAPIConfig()

	logger.Printf("Starting query API...")
	logger.Printf("  Host: %s", cfg.Host)
	logger.Printf("  Port: %d", cfg.Port)

	logger.Printf("Connecting to InfluxDB at %s (org=%s, bucket=%s)", cfg.InfluxDB.URL, cfg.InfluxDB.Org, cfg.InfluxDB.Bucket)

	store, err := storage.NewInfluxDBMirror(cfg.InfluxDB)
	if err != nil {
		logger.Fatalf("Failed to connect to InfluxDB: %v", err)
	}
	logger.Printf("Connected to InfluxDB")
	defer store.Close()

	// Create router
	routerConfig := api.RouterConfig{
		DefaultLimit: cfg.DefaultLimit,
		MaxLimit:     cfg.MaxLimit,
	}
	router := api.NewRouter(store, routerConfig)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Printf("API server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Printf("Received signal %v, shutting down...", sig)

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("Error during shutdown: %v", err)
	}

	logger.Println("API server stopped")
}
