package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/database"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/events"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/notifier/channel"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/stream"
)

// defaultMaxAttempts bounds send retries per channel before the job is
// dead-lettered.
const defaultMaxAttempts = 3

// DeliveryStore is the persistence the dispatcher needs.
type DeliveryStore interface {
	EnabledChannels(ctx context.Context, ruleID string) ([]database.Channel, error)
	RecordDelivery(ctx context.Context, d *database.Delivery) error
}

// Dispatcher delivers notification jobs over their requested channels.
type Dispatcher struct {
	store       DeliveryStore
	registry    *channel.Registry
	maxAttempts int
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher. maxAttempts <= 0 uses the default.
func NewDispatcher(store DeliveryStore, registry *channel.Registry, maxAttempts int, logger *slog.Logger) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:       store,
		registry:    registry,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// HandleEntry adapts the dispatcher to the stream consumer framework. An
// unparseable entry is dropped, not retried.
func (d *Dispatcher) HandleEntry(ctx context.Context, entry stream.Entry) error {
	job, err := events.ParseNotificationJob(entry.Values)
	if err != nil {
		return fmt.Errorf("parse notification job %s: %v: %w", entry.ID, err, stream.ErrDrop)
	}
	return d.Dispatch(ctx, job)
}

// Dispatch resolves a destination for each requested channel, sends, and
// records one delivery row per attempt. A channel that exhausts its attempts
// makes the whole job fail so the consumer dead-letters it.
func (d *Dispatcher) Dispatch(ctx context.Context, job *events.NotificationJob) error {
	enabled, err := d.store.EnabledChannels(ctx, job.AlertID)
	if err != nil {
		return fmt.Errorf("resolve destinations for alert %s: %w", job.AlertID, err)
	}
	destinations := make(map[string]string, len(enabled))
	for _, ch := range enabled {
		destinations[ch.Channel] = ch.Destination
	}

	msg := BuildMessage(job)

	var failed []string
	for _, name := range job.Channels {
		destination, ok := destinations[name]
		if !ok || destination == "" {
			d.logger.Warn("no destination for channel, skipping",
				"firing_id", job.FiringID, "channel", name)
			continue
		}
		sender, ok := d.registry.Get(name)
		if !ok {
			d.logger.Warn("no sender registered for channel, skipping",
				"firing_id", job.FiringID, "channel", name)
			continue
		}
		if err := d.sendWithRetry(ctx, sender, destination, msg); err != nil {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("delivery failed for firing %s on channels %s",
			job.FiringID, strings.Join(failed, ","))
	}
	return nil
}

// sendWithRetry attempts the send up to maxAttempts times, recording a
// delivery row per attempt.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sender channel.Sender, destination string, msg *channel.Message) error {
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		providerID, err := sender.Send(ctx, destination, msg)

		delivery := &database.Delivery{
			ID:            uuid.New().String(),
			FiringID:      msg.Job.FiringID,
			Channel:       sender.Channel(),
			Destination:   destination,
			AttemptNumber: attempt,
		}
		if err == nil {
			delivery.Status = database.DeliverySent
			delivery.ProviderMessageID = providerID
		} else {
			delivery.Status = database.DeliveryFailed
			delivery.ErrorText = err.Error()
		}
		if recordErr := d.store.RecordDelivery(ctx, delivery); recordErr != nil {
			d.logger.Error("failed to record delivery attempt",
				"firing_id", msg.Job.FiringID, "channel", sender.Channel(), "error", recordErr)
		}

		if err == nil {
			return nil
		}
		lastErr = err
		d.logger.Warn("delivery attempt failed",
			"firing_id", msg.Job.FiringID,
			"channel", sender.Channel(),
			"attempt", attempt,
			"error", err)
	}
	return lastErr
}
