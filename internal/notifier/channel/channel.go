// Package channel defines the interface for notification delivery channels.
package channel

import (
	"context"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/events"
)

// Message is the rendered notification content handed to a channel sender.
type Message struct {
	Subject string
	Body    string
	Job     *events.NotificationJob
}

// Sender is the interface that all delivery channels must implement.
type Sender interface {
	// Channel returns the channel name this sender handles (e.g., "email",
	// "push", "sms").
	Channel() string

	// Send delivers the message to the destination and returns the
	// provider's message ID.
	Send(ctx context.Context, destination string, msg *Message) (string, error)
}

// Registry manages channel senders.
type Registry struct {
	senders map[string]Sender
}

// NewRegistry creates a new channel registry.
func NewRegistry() *Registry {
	return &Registry{
		senders: make(map[string]Sender),
	}
}

// Register registers a channel sender.
func (r *Registry) Register(sender Sender) {
	r.senders[sender.Channel()] = sender
}

// Get retrieves a sender by channel name.
func (r *Registry) Get(name string) (Sender, bool) {
	sender, ok := r.senders[name]
	return sender, ok
}

// List returns all registered channel names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.senders))
	for name := range r.senders {
		names = append(names, name)
	}
	return names
}
