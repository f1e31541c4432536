package eventsworker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/adrd-care-assistant/internal/events"
	"github.com/wolfman30/adrd-care-assistant/pkg/logging"
)

// Handler processes one decoded envelope. Returning an error leaves the
// message on the queue for redelivery.
type Handler func(ctx context.Context, env events.Envelope) error

const (
	defaultWaitSeconds  = 2
	maxWaitSeconds      = 20
	maxReceiveBatchSize = 10
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// WorkerOption configures a Worker.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets how many goroutines poll the queue.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			seconds = 0
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// Worker drains booking events from a queue and dispatches them by type.
// Unknown event types and undecodable bodies are logged and deleted.
type Worker struct {
	queue    events.QueueClient
	handlers map[string]Handler
	logger   *logging.Logger
	cfg      workerConfig
	wg       sync.WaitGroup
}

func NewWorker(queue events.QueueClient, handlers map[string]Handler, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("eventsworker: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          1,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: maxReceiveBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{queue: queue, handlers: handlers, logger: logger, cfg: cfg}
}

// Start launches the polling goroutines; they stop when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("events worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("events worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Error("failed to receive booking events", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if len(messages) == 0 && w.cfg.receiveWaitSecs == 0 {
			// Non-blocking queues return immediately; avoid a hot loop.
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		for _, msg := range messages {
			w.HandleMessage(ctx, msg)
		}
	}
}

// HandleMessage decodes and dispatches a single queue message.
func (w *Worker) HandleMessage(ctx context.Context, msg events.QueueMessage) {
	env, err := events.DecodeEnvelope(msg.Body)
	if err != nil {
		w.logger.Error("failed to decode booking event", "error", err, "msg_id", msg.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	handler, ok := w.handlers[env.Type]
	if !ok {
		w.logger.Warn("no handler for booking event", "event_type", env.Type, "event_id", env.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}
	if err := handler(ctx, env); err != nil {
		w.logger.Error("booking event handler failed",
			"error", err,
			"event_type", env.Type,
			"event_id", env.ID,
			"conversation_id", env.ConversationID,
		)
		return
	}
	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete booking event", "error", err)
	}
}
