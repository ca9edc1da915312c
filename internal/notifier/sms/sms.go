// Package sms delivers notifications via Twilio SMS.
package sms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/notifier/channel"
)

// Sender implements SMS sending via the Twilio REST API.
type Sender struct {
	client *twilio.RestClient
	from   string
}

// NewSender creates a new SMS sender. Empty credentials leave the sender
// unconfigured; Send will fail with a descriptive error.
func NewSender(accountSID, authToken, from string) *Sender {
	if accountSID == "" || authToken == "" {
		slog.Warn("Twilio credentials not set, SMS sender will be unavailable")
		return &Sender{from: from}
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Sender{client: client, from: from}
}

// Channel returns the channel name this sender handles.
func (s *Sender) Channel() string {
	return "sms"
}

// Send delivers the message body to the destination phone number.
func (s *Sender) Send(ctx context.Context, destination string, msg *channel.Message) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("Twilio client not initialized")
	}
	if destination == "" {
		return "", fmt.Errorf("phone number is required")
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(destination)
	params.SetFrom(s.from)
	params.SetBody(msg.Subject + "\n" + msg.Body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("Twilio send failed: %w", err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Info("SMS sent via Twilio", "message_sid", sid, "firing_id", msg.Job.FiringID)
	return sid, nil
}
