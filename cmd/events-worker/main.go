package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/wolfman30/adrd-care-assistant/cmd/mainconfig"
	appconfig "github.com/wolfman30/adrd-care-assistant/internal/config"
	"github.com/wolfman30/adrd-care-assistant/internal/events"
	eventsworker "github.com/wolfman30/adrd-care-assistant/internal/worker/events"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if strings.TrimSpace(cfg.BookingEventsQueueURL) == "" {
		logger.Error("BOOKING_EVENTS_QUEUE_URL is required; the API consumes in-memory events inline")
		os.Exit(1)
	}

	awsConfig, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	queue := events.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.BookingEventsQueueURL)
	worker := eventsworker.NewWorker(
		queue,
		eventsworker.AuditHandlers(logger),
		logger,
		eventsworker.WithWorkerCount(2),
		eventsworker.WithReceiveWaitSeconds(20),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)
	logger.Info("booking events worker started", "queue_url", cfg.BookingEventsQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down booking events worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("booking events worker stopped")
	case <-doneCtx.Done():
		logger.Error("booking events worker shutdown timed out", "error", doneCtx.Err())
	}
}
