// Package notificationsworker drains the notification queue and runs the
// day-before reminder sweep.
package notificationsworker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/atlasvisa/booking-platform/internal/events"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

const (
	defaultWorkerCount = 2
	defaultWaitSeconds = 20
	defaultBatchSize   = 10
	deleteTimeout      = 10 * time.Second

	// maxDeliveryAttempts bounds redelivery of a job whose email keeps
	// failing. Past it the job is dropped instead of circling forever.
	maxDeliveryAttempts = 5
)

type dispatcher interface {
	Dispatch(ctx context.Context, job events.NotificationJob) error
}

// Worker consumes notification jobs from the queue and emails them out.
type Worker struct {
	queue      events.Queue
	dispatcher dispatcher
	logger     *logging.Logger

	workers   int
	waitSecs  int
	batchSize int

	wg sync.WaitGroup
}

// NewWorker creates a queue consumer around the notify service.
func NewWorker(queue events.Queue, d dispatcher, logger *logging.Logger) *Worker {
	if queue == nil {
		panic("notifications: queue cannot be nil")
	}
	if d == nil {
		panic("notifications: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		queue:      queue,
		dispatcher: d,
		logger:     logger.Component("notify-worker"),
		workers:    defaultWorkerCount,
		waitSecs:   defaultWaitSeconds,
		batchSize:  defaultBatchSize,
	}
}

// WithWorkerCount overrides the number of consumer goroutines.
func (w *Worker) WithWorkerCount(n int) *Worker {
	if n > 0 {
		w.workers = n
	}
	return w
}

// Start launches consumer goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all consumer goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("notification worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("notification worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.batchSize, w.waitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive notification jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage delivers one notification. Undecodable payloads are deleted
// so they cannot poison the queue; delivery failures leave the message in
// place for redelivery until the attempt cap is reached.
func (w *Worker) handleMessage(ctx context.Context, msg events.Message) {
	var job events.NotificationJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		w.logger.Error("failed to decode notification job", "error", err, "message_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	if err := w.dispatcher.Dispatch(ctx, job); err != nil {
		if msg.Attempts >= maxDeliveryAttempts {
			w.logger.Error("notification dropped after repeated delivery failures",
				"error", err, "event_id", job.EventID, "kind", job.Kind, "attempts", msg.Attempts)
			w.deleteMessage(context.Background(), msg.ReceiptHandle)
			return
		}
		w.logger.Error("notification delivery failed",
			"error", err, "event_id", job.EventID, "kind", job.Kind, "attempt", msg.Attempts)
		return
	}

	w.logger.Info("notification delivered", "event_id", job.EventID, "kind", job.Kind, "email", job.Email)
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete notification job", "error", err)
	}
}
