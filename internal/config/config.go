// Package config provides configuration parsing and validation for the
// pipeline worker binaries.
package config

import (
	"fmt"
	"strings"
	"time"
)

// IngesterConfig holds all configuration parameters for the ingestion worker.
type IngesterConfig struct {
	RedisAddr     string
	VendorBaseURL string
	VendorAPIKey  string

	Leagues        string
	Teams          string
	LiveBookmakers string
	ColdBookmakers string

	RequestsPerMinute   int
	MaxEventsPerRequest int
	MaxTracked          int
	CycleInterval       time.Duration
	DiscoveryInterval   time.Duration
}

// Validate checks that all required configuration fields are set and have
// valid values. Returns an error if validation fails, nil otherwise.
func (c *IngesterConfig) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.VendorBaseURL == "" {
		return fmt.Errorf("vendor-base-url cannot be empty")
	}
	if c.VendorAPIKey == "" {
		return fmt.Errorf("vendor-api-key cannot be empty")
	}
	if len(SplitList(c.Leagues)) == 0 {
		return fmt.Errorf("leagues cannot be empty")
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests-per-minute must be > 0")
	}
	if c.MaxEventsPerRequest <= 0 {
		return fmt.Errorf("max-events-per-request must be > 0")
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("cycle-interval must be > 0")
	}
	return nil
}

// AlerterConfig holds all configuration parameters for the alert worker.
type AlerterConfig struct {
	RedisAddr     string
	PostgresDSN   string
	ConsumerGroup string
	ConsumerName  string
}

// Validate checks that all required configuration fields are set.
func (c *AlerterConfig) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("consumer-group cannot be empty")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer-name cannot be empty")
	}
	return nil
}

// NotifierConfig holds all configuration parameters for the notification
// worker. Channel credentials are optional; a channel without credentials is
// skipped at dispatch time.
type NotifierConfig struct {
	RedisAddr     string
	PostgresDSN   string
	ConsumerGroup string
	ConsumerName  string
	WorkerCount   int
	ClaimMinIdle  time.Duration

	EmailProvider string
	EmailFrom     string
	ResendAPIKey  string
	SESRegion     string

	PushGatewayURL string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
}

// Validate checks that all required configuration fields are set and have
// valid values.
func (c *NotifierConfig) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("consumer-group cannot be empty")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer-name cannot be empty")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker-count must be > 0")
	}
	if c.ClaimMinIdle <= 0 {
		return fmt.Errorf("claim-min-idle must be > 0")
	}
	switch c.EmailProvider {
	case "", "resend", "ses":
	default:
		return fmt.Errorf("email-provider must be resend or ses, got %q", c.EmailProvider)
	}
	if c.EmailProvider == "resend" && c.ResendAPIKey == "" {
		return fmt.Errorf("resend-api-key cannot be empty when email-provider is resend")
	}
	if c.EmailProvider == "ses" && c.SESRegion == "" {
		return fmt.Errorf("ses-region cannot be empty when email-provider is ses")
	}
	if c.EmailProvider != "" && c.EmailFrom == "" {
		return fmt.Errorf("email-from cannot be empty when an email provider is configured")
	}
	return nil
}

// SplitList parses a comma-separated list, trimming whitespace and dropping
// empty items.
func SplitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
