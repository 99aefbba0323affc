// Package queue defines the durable, at-least-once message queues that feed
// the pipeline workers and a generic consumer loop over them.
//
// A received message stays invisible to other receivers until its
// visibility timeout expires. A consumer acknowledges a message by deleting
// it; anything not deleted is redelivered.
package queue

import (
	"context"
	"time"
)

// Message is a received queue message.
type Message struct {
	// ID is the queue-assigned message id.
	ID string

	// Body is the raw message body.
	Body string

	// ReceiptHandle identifies this receive; it is required to delete or
	// release the message.
	ReceiptHandle string

	// ReceiveCount is the number of times the message has been received,
	// including this one. Zero when the backend does not report it.
	ReceiveCount int
}

// Queue is a long-poll message queue.
type Queue interface {
	// Name identifies the queue in logs.
	Name() string

	// Receive waits up to the configured long-poll duration for messages.
	// An empty result is not an error.
	Receive(ctx context.Context) ([]Message, error)

	// Delete acknowledges a message.
	Delete(ctx context.Context, m Message) error

	// Release makes a message visible again after delay.
	Release(ctx context.Context, m Message, delay time.Duration) error
}

// Sender enqueues raw message bodies.
type Sender interface {
	Send(ctx context.Context, body string) error
}

// Options are the receive settings shared by queue backends.
type Options struct {
	// WaitTime is the long-poll duration.
	WaitTime time.Duration

	// VisibilityTimeout hides a received message from other receivers.
	VisibilityTimeout time.Duration

	// MaxMessages is the batch size per receive.
	MaxMessages int
}

// Defaults for Options.
const (
	DefaultWaitTime          = 20 * time.Second
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultMaxMessages       = 1
)

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.WaitTime <= 0 {
		o.WaitTime = DefaultWaitTime
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	return o
}
