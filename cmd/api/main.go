package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/adrd-care-assistant/cmd/mainconfig"
	"github.com/wolfman30/adrd-care-assistant/internal/api/router"
	appbootstrap "github.com/wolfman30/adrd-care-assistant/internal/app/bootstrap"
	appconfig "github.com/wolfman30/adrd-care-assistant/internal/config"
	"github.com/wolfman30/adrd-care-assistant/internal/conversation"
	"github.com/wolfman30/adrd-care-assistant/internal/observability/metrics"
	eventsworker "github.com/wolfman30/adrd-care-assistant/internal/worker/events"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

const version = "1.0.1"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting ADRD care assistant API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"version", version,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	llm, closeLLM, err := appbootstrap.BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to configure LLM client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeLLM(); err != nil {
			logger.Warn("failed to close LLM client", "error", err)
		}
	}()

	var persistence appbootstrap.Persistence
	if cfg.SessionStore == "redis" {
		redisClient := appbootstrap.BuildRedisClient(ctx, cfg, logger, true)
		if redisClient != nil {
			defer redisClient.Close()
		}
		persistence = appbootstrap.BuildPersistence(cfg, redisClient, logger)
	} else {
		persistence = appbootstrap.BuildPersistence(cfg, nil, logger)
	}

	metricsHandler, convMetrics := setupMetrics()
	pipeline := appbootstrap.BuildEventPipeline(cfg, awsCfg, logger)
	inlineWorker := setupInlineEventsWorker(ctx, pipeline, logger)

	engine, err := appbootstrap.BuildEngine(ctx, cfg, appbootstrap.EngineDeps{
		LLM:         llm,
		Persistence: persistence,
		Booker:      appbootstrap.BuildBookingAdapter(cfg, logger),
		Publisher:   pipeline.Publisher,
		Metrics:     convMetrics,
	}, logger)
	if err != nil {
		logger.Error("failed to configure conversation engine", "error", err)
		os.Exit(1)
	}

	// Setup router
	r := router.New(&router.Config{
		Logger:                 logger,
		ConversationHandler:    conversation.NewHandler(engine, logger),
		MetricsHandler:         metricsHandler,
		CORSAllowedOrigins:     cfg.CORSAllowedOrigins,
		ChatRateLimitPerMinute: cfg.RateLimitPerMinute,
		HealthChecks:           map[string]router.HealthCheck{router.ComponentSessionStore: persistence.Check},
		Version:                version,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	cancel()
	waitForInlineWorker(inlineWorker, logger)
	logger.Info("server stopped")
}

// setupMetrics registers conversation metrics plus the Go runtime
// collectors on a dedicated registry.
func setupMetrics() (http.Handler, *metrics.ConversationMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewConversationMetrics(reg)
}

// setupInlineEventsWorker drains in-process booking events. SQS-backed
// pipelines are consumed by cmd/events-worker instead.
func setupInlineEventsWorker(ctx context.Context, pipeline appbootstrap.EventPipeline, logger *logging.Logger) *eventsworker.Worker {
	if pipeline.MemoryQueue == nil {
		return nil
	}
	worker := eventsworker.NewWorker(pipeline.MemoryQueue, eventsworker.AuditHandlers(logger), logger)
	worker.Start(ctx)
	logger.Info("inline booking events worker started")
	return worker
}

func waitForInlineWorker(worker *eventsworker.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline booking events worker stopped")
	case <-time.After(10 * time.Second):
		logger.Warn("inline booking events worker did not stop in time")
	}
}
