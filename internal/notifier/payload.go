// Package notifier consumes notification jobs, dispatches them over the
// configured delivery channels, records delivery outcomes, and reconciles
// firings whose deliveries went missing.
package notifier

import (
	"fmt"
	"strings"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/events"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/notifier/channel"
)

// BuildMessage renders the notification content for a job.
func BuildMessage(job *events.NotificationJob) *channel.Message {
	subject := fmt.Sprintf("Odds alert: %s %s moved %s %s",
		job.MarketType, job.TeamSide, job.Direction, job.Threshold.String())

	var sb strings.Builder
	sb.WriteString("Odds Alert\n")
	sb.WriteString("==========\n\n")
	sb.WriteString(fmt.Sprintf("Event: %s\n", job.EventID))
	sb.WriteString(fmt.Sprintf("Market: %s\n", job.MarketType))
	if job.TeamSide != "" {
		sb.WriteString(fmt.Sprintf("Side: %s\n", job.TeamSide))
	}
	sb.WriteString(fmt.Sprintf("Bookmaker: %s\n", job.BookmakerID))
	sb.WriteString(fmt.Sprintf("Current %s: %s\n", job.ValueMetric, job.CurrentValue.String()))
	if job.PreviousValue != nil {
		sb.WriteString(fmt.Sprintf("Previous %s: %s\n", job.ValueMetric, job.PreviousValue.String()))
	}
	sb.WriteString(fmt.Sprintf("Threshold: %s (%s)\n", job.Threshold.String(), job.RuleType))
	sb.WriteString(fmt.Sprintf("Observed: %s\n", job.ObservedAt.UTC().Format("2006-01-02 15:04:05 MST")))

	return &channel.Message{
		Subject: subject,
		Body:    sb.String(),
		Job:     job,
	}
}
