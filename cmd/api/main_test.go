package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	appbootstrap "github.com/wolfman30/adrd-care-assistant/internal/app/bootstrap"
	appconfig "github.com/wolfman30/adrd-care-assistant/internal/config"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

func TestSetupMetricsExposesMetrics(t *testing.T) {
	handler, m := setupMetrics()
	if handler == nil || m == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	m.ObserveTurn("appointment", "continue", 0.2)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "adrd_conversation_turns_total") {
		t.Fatalf("expected turn counter to be exported")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors to be registered")
	}
}

func TestSetupInlineEventsWorkerSkippedForSQS(t *testing.T) {
	logger := logging.New("error")
	cfg := &appconfig.Config{BookingEventsQueueURL: "http://localhost:4566/000000000000/booking-events"}
	pipeline := appbootstrap.BuildEventPipeline(cfg, aws.Config{Region: "us-east-1"}, logger)

	if worker := setupInlineEventsWorker(context.Background(), pipeline, logger); worker != nil {
		t.Fatalf("expected no inline worker for SQS pipeline")
	}
}

func TestSetupInlineEventsWorkerStartsAndStops(t *testing.T) {
	logger := logging.New("error")
	pipeline := appbootstrap.BuildEventPipeline(&appconfig.Config{}, aws.Config{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	worker := setupInlineEventsWorker(ctx, pipeline, logger)
	if worker == nil {
		t.Fatalf("expected inline worker for memory pipeline")
	}

	cancel()
	waitForInlineWorker(worker, logger)
}
