// Package notify publishes pipeline events to fan-out topics.
//
// Every notification carries an event tag (see package message) as a message
// attribute; queues subscribed to a topic receive the payload wrapped in a
// notification envelope.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher publishes a JSON payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, event string, payload any) error
}

// Marshal encodes payload, passing raw JSON through.
func Marshal(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return data, nil
}
