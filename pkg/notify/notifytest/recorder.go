// Package notifytest provides a recording notify.Publisher for tests.
package notifytest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/notify"
)

// Notification is one recorded publish.
type Notification struct {
	Topic   string
	Event   string
	Payload json.RawMessage
}

// Recorder records publishes. Set Err to make Publish fail.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
}

var _ notify.Publisher = (*Recorder)(nil)

func (r *Recorder) Publish(_ context.Context, topic, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	data, err := notify.Marshal(payload)
	if err != nil {
		return err
	}
	r.sent = append(r.sent, Notification{Topic: topic, Event: event, Payload: data})
	return nil
}

// Sent returns all recorded notifications.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// Events returns the recorded notifications with the given event tag.
func (r *Recorder) Events(event string) []Notification {
	var out []Notification
	for _, n := range r.Sent() {
		if n.Event == event {
			out = append(out, n)
		}
	}
	return out
}
