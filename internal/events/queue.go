package events

import "context"

// Queue is the transport notification jobs travel over. SQS in production,
// the in-memory queue in development and tests.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one received queue entry. Attempts counts deliveries of this
// message including the current one; transports that do not track
// redelivery report 1.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	Attempts      int
}
