package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/message"
)

// Delivery is a decoded message handed to a Handler.
type Delivery struct {
	Message

	// Event is the notification event tag (or the consumer default).
	Event string

	// Payload is the unwrapped JSON payload.
	Payload []byte
}

// Handler processes one delivery.
//
// Returning nil acknowledges (deletes) the message. Returning a *RetryError
// releases it after the requested delay. Any other error is logged and the
// message is left for redelivery after its visibility timeout.
type Handler func(ctx context.Context, d Delivery) error

// RetryError asks the consumer to make the message visible again after Delay.
type RetryError struct {
	Delay time.Duration
	Err   error
}

// Error implements the error interface.
func (e *RetryError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.Delay, e.Err)
}

// Unwrap returns the underlying error.
func (e *RetryError) Unwrap() error { return e.Err }

// Retry wraps err in a RetryError.
func Retry(delay time.Duration, err error) error {
	return &RetryError{Delay: delay, Err: err}
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// DefaultEvent is used for messages without an event tag.
	DefaultEvent string

	// MaxReceives caps redelivery of malformed messages: once a message that
	// fails with message.ErrMalformed has been received this many times it is
	// deleted. Zero disables the cap.
	MaxReceives int

	// ErrorBackoff is the pause after a failed receive.
	ErrorBackoff time.Duration
}

// Result counts the outcomes of one receive batch.
type Result struct {
	Received int
	Acked    int
	Released int
	Left     int
	Dropped  int
}

// Consumer dispatches queue messages to handlers by event tag.
type Consumer struct {
	queue    Queue
	cfg      ConsumerConfig
	logger   *zap.Logger
	handlers map[string]Handler

	mu       sync.RWMutex
	lastPoll time.Time
}

// NewConsumer creates a consumer over q.
func NewConsumer(q Queue, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	return &Consumer{
		queue:    q,
		cfg:      cfg,
		logger:   logger.With(zap.String("queue", q.Name())),
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for event.
func (c *Consumer) Handle(event string, h Handler) {
	c.handlers[event] = h
}

// Name returns the queue name.
func (c *Consumer) Name() string { return c.queue.Name() }

// LastPoll returns the time of the last successful receive.
func (c *Consumer) LastPoll() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPoll
}

// Run polls until ctx is canceled. Receive failures are logged and retried
// after ErrorBackoff.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consumer started", zap.Strings("events", c.events()))
	for {
		if ctx.Err() != nil {
			c.logger.Info("Consumer stopped")
			return nil
		}
		if _, err := c.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Warn("Receive failed", zap.Error(err), zap.Duration("backoff", c.cfg.ErrorBackoff))
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.ErrorBackoff):
			}
		}
	}
}

// RunOnce performs one receive and processes the batch sequentially.
func (c *Consumer) RunOnce(ctx context.Context) (Result, error) {
	msgs, err := c.queue.Receive(ctx)
	if err != nil {
		return Result{}, err
	}
	c.mu.Lock()
	c.lastPoll = time.Now()
	c.mu.Unlock()

	res := Result{Received: len(msgs)}
	for _, m := range msgs {
		switch c.process(ctx, m) {
		case outcomeAcked:
			res.Acked++
		case outcomeReleased:
			res.Released++
		case outcomeDropped:
			res.Dropped++
		default:
			res.Left++
		}
	}
	return res, nil
}

type outcome int

const (
	outcomeLeft outcome = iota
	outcomeAcked
	outcomeReleased
	outcomeDropped
)

func (c *Consumer) process(ctx context.Context, m Message) outcome {
	log := c.logger.With(zap.String("message_id", m.ID), zap.Int("receive_count", m.ReceiveCount))

	event, payload, err := message.Decode([]byte(m.Body))
	if err != nil {
		return c.fail(ctx, log, m, err)
	}
	if event == "" {
		event = c.cfg.DefaultEvent
	}
	log = log.With(zap.String("event", event))

	h, ok := c.handlers[event]
	if !ok {
		return c.fail(ctx, log, m, fmt.Errorf("%w: no handler for event %q", message.ErrMalformed, event))
	}

	err = h(ctx, Delivery{Message: m, Event: event, Payload: payload})
	if err == nil {
		if derr := c.queue.Delete(ctx, m); derr != nil {
			log.Warn("Delete failed; message will be redelivered", zap.Error(derr))
			return outcomeLeft
		}
		return outcomeAcked
	}

	var retry *RetryError
	if errors.As(err, &retry) {
		log.Info("Message released", zap.Duration("delay", retry.Delay), zap.Error(retry.Err))
		if rerr := c.queue.Release(ctx, m, retry.Delay); rerr != nil {
			log.Warn("Release failed", zap.Error(rerr))
			return outcomeLeft
		}
		return outcomeReleased
	}

	return c.fail(ctx, log, m, err)
}

// fail logs err and leaves the message, unless it is malformed and has hit
// the receive cap.
func (c *Consumer) fail(ctx context.Context, log *zap.Logger, m Message, err error) outcome {
	if errors.Is(err, message.ErrMalformed) && c.cfg.MaxReceives > 0 && m.ReceiveCount >= c.cfg.MaxReceives {
		log.Error("Dropping malformed message after receive cap",
			zap.Int("max_receives", c.cfg.MaxReceives), zap.String("body", truncate(m.Body, 512)), zap.Error(err))
		if derr := c.queue.Delete(ctx, m); derr != nil {
			log.Warn("Delete failed", zap.Error(derr))
			return outcomeLeft
		}
		return outcomeDropped
	}
	log.Error("Message processing failed; leaving for redelivery", zap.Error(err))
	return outcomeLeft
}

func (c *Consumer) events() []string {
	out := make([]string, 0, len(c.handlers))
	for e := range c.handlers {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
