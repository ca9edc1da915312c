// Package push delivers notifications to a push gateway via HTTP POST.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/notifier/channel"
)

// Sender implements push notification sending via a gateway HTTP endpoint.
type Sender struct {
	gatewayURL string
	httpClient *http.Client
}

// NewSender creates a new push sender for the given gateway URL.
func NewSender(gatewayURL string) *Sender {
	return &Sender{
		gatewayURL: gatewayURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Channel returns the channel name this sender handles.
func (s *Sender) Channel() string {
	return "push"
}

// gatewayRequest is the payload posted to the push gateway.
type gatewayRequest struct {
	DeviceToken string `json:"device_token"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	FiringID    string `json:"firing_id"`
	EventID     string `json:"event_id"`
}

// gatewayResponse carries the gateway's delivery identifier.
type gatewayResponse struct {
	MessageID string `json:"message_id"`
}

// Send posts the notification to the push gateway. The destination is the
// device token.
func (s *Sender) Send(ctx context.Context, destination string, msg *channel.Message) (string, error) {
	if destination == "" {
		return "", fmt.Errorf("device token is required")
	}
	if s.gatewayURL == "" {
		return "", fmt.Errorf("push gateway URL not configured")
	}

	payload, err := json.Marshal(gatewayRequest{
		DeviceToken: destination,
		Title:       msg.Subject,
		Body:        msg.Body,
		FiringID:    msg.Job.FiringID,
		EventID:     msg.Job.EventID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("push gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("push gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var gr gatewayResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		// Gateways that return no body still delivered.
		slog.Debug("push gateway response not parseable", "error", err)
	}

	slog.Info("Push notification sent",
		"firing_id", msg.Job.FiringID,
		"message_id", gr.MessageID,
	)
	return gr.MessageID, nil
}
