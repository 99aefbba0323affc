// Package message defines the notification envelope and the payloads that
// flow between pipeline components.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed indicates a message body or payload that cannot be processed.
var ErrMalformed = errors.New("malformed message")

// EventAttribute is the notification attribute carrying the event tag.
const EventAttribute = "event"

// Envelope is the notification wrapper produced by the fan-out channel
// (SNS JSON format). Queue bodies carry an Envelope whose Message field holds
// the JSON payload.
type Envelope struct {
	Type              string               `json:"Type,omitempty"`
	MessageID         string               `json:"MessageId,omitempty"`
	TopicArn          string               `json:"TopicArn,omitempty"`
	Subject           string               `json:"Subject,omitempty"`
	Message           string               `json:"Message"`
	Timestamp         string               `json:"Timestamp,omitempty"`
	MessageAttributes map[string]Attribute `json:"MessageAttributes,omitempty"`
}

// Attribute is a notification message attribute.
type Attribute struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// Event returns the event tag of the envelope, or "".
func (e *Envelope) Event() string {
	if e == nil || e.MessageAttributes == nil {
		return ""
	}
	return e.MessageAttributes[EventAttribute].Value
}

// NewEnvelope wraps a JSON payload in a notification envelope tagged with event.
func NewEnvelope(topic, messageID, event string, payload []byte) *Envelope {
	env := &Envelope{
		Type:      "Notification",
		MessageID: messageID,
		TopicArn:  topic,
		Message:   string(payload),
	}
	if event != "" {
		env.MessageAttributes = map[string]Attribute{
			EventAttribute: {Type: "String", Value: event},
		}
	}
	return env
}

// Decode unwraps a queue message body.
//
// Bodies produced by the notification channel are envelopes; raw deliveries
// (no envelope) are returned as-is with an empty event tag.
func Decode(body []byte) (event string, payload []byte, err error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if _, wrapped := probe["Message"]; !wrapped {
		return "", []byte(trimmed), nil
	}

	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return "", nil, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(env.Message) == "" {
		return "", nil, fmt.Errorf("%w: empty notification message", ErrMalformed)
	}
	return env.Event(), []byte(env.Message), nil
}

// Unmarshal decodes payload into v, reporting failures as ErrMalformed.
func Unmarshal(payload []byte, v interface{ Validate() error }) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v.Validate()
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformed, field)
}
