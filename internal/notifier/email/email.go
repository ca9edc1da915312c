// Package email implements the email delivery channel over the provider
// registry.
package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/notifier/channel"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/notifier/email/provider"
)

// Sender delivers notifications by email.
type Sender struct {
	registry *provider.Registry
	from     string
}

// NewSender creates an email sender on the given provider registry.
func NewSender(registry *provider.Registry, from string) *Sender {
	return &Sender{registry: registry, from: from}
}

// Channel returns the channel name this sender handles.
func (s *Sender) Channel() string {
	return "email"
}

// Send delivers the message to the destination address. The destination may
// be a comma-separated list of addresses.
func (s *Sender) Send(ctx context.Context, destination string, msg *channel.Message) (string, error) {
	if destination == "" {
		return "", fmt.Errorf("email address is empty")
	}

	var to []string
	for _, addr := range strings.Split(destination, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		return "", fmt.Errorf("email address is empty")
	}

	return s.registry.Send(ctx, &provider.EmailRequest{
		From:    s.from,
		To:      to,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
}
