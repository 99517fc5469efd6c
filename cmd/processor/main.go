package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/meterbridge/meterbridge/internal/api"
	"github.com/meterbridge/meterbridge/internal/clazar"
	"github.com/meterbridge/meterbridge/internal/config"
	"github.com/meterbridge/meterbridge/internal/httpclient"
	"github.com/meterbridge/meterbridge/internal/logger"
	"github.com/meterbridge/meterbridge/internal/repository"
	"github.com/meterbridge/meterbridge/internal/service"
	"github.com/meterbridge/meterbridge/internal/storage"
)

func init() {
	// The whole pipeline reasons about UTC calendar months.
	time.Local = time.UTC
}

func main() {
	once := flag.Bool("once", false, "Run a single processing pass and exit")
	flag.Parse()

	// .env is optional; real deployments use environment variables.
	_ = godotenv.Load()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logr, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewS3Store(ctx, cfg)
	if err != nil {
		logr.Fatalw("Failed to create object store", "error", err)
	}

	key := cfg.ServiceKey()
	states := repository.NewStateRepository(store, key, logr)
	usageReader := repository.NewUsageReader(store, logr)
	client := clazar.NewClient(cfg, httpclient.NewDefaultClient(), logr)

	processor, err := service.NewProcessor(cfg, client, states, usageReader, logr)
	if err != nil {
		logr.Fatalw("Failed to create processor", "error", err)
	}

	if err := states.ValidateAccess(ctx, key); err != nil {
		logr.Fatalw("State document access validation failed", "error", err)
	}

	healthServer := startHealthServer(cfg, logr)
	defer shutdownHealthServer(healthServer, logr)

	if *once {
		if err := processor.Run(ctx); err != nil {
			logr.Fatalw("Processing run failed", "error", err)
		}
		return
	}

	runLoop(ctx, cfg, processor, logr)
}

// runLoop re-invokes the run-once entry point on a fixed interval until
// the process is signalled. The processor itself has no notion of waiting.
func runLoop(ctx context.Context, cfg *config.Configuration, processor *service.Processor, logr *logger.Logger) {
	interval := time.Duration(cfg.Processor.RunIntervalSeconds) * time.Second
	logr.Infow("starting processing loop", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := processor.Run(ctx); err != nil {
			logr.Errorw("processing run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			logr.Infow("shutting down processing loop")
			return
		case <-ticker.C:
		}
	}
}

func startHealthServer(cfg *config.Configuration, logr *logger.Logger) *http.Server {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Processor.HealthPort),
		Handler: api.NewRouter(logr),
	}
	go func() {
		logr.Infow("health server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Errorw("health server stopped", "error", err)
		}
	}()
	return server
}

func shutdownHealthServer(server *http.Server, logr *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logr.Errorw("health server shutdown failed", "error", err)
	}
}
