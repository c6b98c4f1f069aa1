package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atlasvisa/booking-platform/pkg/logging"
)

// Publisher enqueues notification jobs for asynchronous delivery.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("events: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger.Component("events"),
	}
}

// Enqueue publishes a notification job. The event id and occurred-at stamp
// are filled in when absent.
func (p *Publisher) Enqueue(ctx context.Context, job NotificationJob) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if job.Kind == "" {
		return fmt.Errorf("events: notification kind required")
	}
	if job.Email == "" {
		return fmt.Errorf("events: notification email required")
	}
	if job.EventID == "" {
		job.EventID = uuid.NewString()
	}
	if job.OccurredAt.IsZero() {
		job.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("events: failed to encode notification: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("events: failed to enqueue notification: %w", err)
	}

	p.logger.Debug("notification enqueued", "event_id", job.EventID, "kind", job.Kind)
	return nil
}
