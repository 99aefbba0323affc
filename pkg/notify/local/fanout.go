// Package local implements notify.Publisher by fanning out to local queues.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/message"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/notify"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/queue"
)

// Fanout delivers each notification, wrapped in an envelope, to every queue
// subscribed to its topic.
type Fanout struct {
	subs   map[string][]queue.Sender
	logger *zap.Logger
}

var _ notify.Publisher = (*Fanout)(nil)

// New creates an empty fan-out.
func New(logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{subs: make(map[string][]queue.Sender), logger: logger}
}

// Subscribe delivers topic notifications to q.
func (f *Fanout) Subscribe(topic string, q queue.Sender) {
	f.subs[topic] = append(f.subs[topic], q)
}

// Publish wraps payload and sends it to every subscriber. A topic with no
// subscribers drops the notification.
func (f *Fanout) Publish(ctx context.Context, topic, event string, payload any) error {
	data, err := notify.Marshal(payload)
	if err != nil {
		return err
	}
	env := message.NewEnvelope(topic, uuid.NewString(), event, data)
	env.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subs := f.subs[topic]
	if len(subs) == 0 {
		f.logger.Debug("No subscribers", zap.String("topic", topic), zap.String("event", event))
		return nil
	}
	for _, q := range subs {
		if err := q.Send(ctx, string(body)); err != nil {
			return fmt.Errorf("publish %s to %s: %w", event, topic, err)
		}
	}
	return nil
}
