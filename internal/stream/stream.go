// Package stream provides the Redis Streams producer and the shared consumer
// framework used by the alert and notification workers: drain pending, claim
// stale, blocking read, process, acknowledge, dead-letter.
package stream

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Stream names.
const (
	OddsTicks   = "ticks.odds"
	StatusTicks = "ticks.status"
	NotifyJobs  = "notify.jobs"

	OddsTicksDLQ  = "ticks.odds.dlq"
	NotifyJobsDLQ = "notify.jobs.dlq"
)

// maxStreamLen caps each stream's approximate length so an idle consumer
// group cannot grow Redis without bound.
const maxStreamLen = 100_000

// Client is the slice of the Redis stream command surface the package uses.
// *redis.Client satisfies it.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Entry is one stream entry with its field map flattened to strings.
type Entry struct {
	ID     string
	Values map[string]string
}

// Producer appends entries to named streams.
type Producer struct {
	client Client
}

// NewProducer creates a Producer on the given client.
func NewProducer(client Client) *Producer {
	return &Producer{client: client}
}

// Publish appends one entry and returns its stream ID.
func (p *Producer) Publish(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group at the stream head, creating the
// stream if needed. An already-existing group is not an error.
func EnsureGroup(ctx context.Context, client Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func flattenValues(values map[string]interface{}) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		switch s := v.(type) {
		case string:
			out[k] = s
		case []byte:
			out[k] = string(s)
		default:
			out[k] = fmt.Sprint(s)
		}
	}
	return out
}

// DefaultBacklogPredicate matches provider errors raised when a consumer
// group's pending entries list is full.
func DefaultBacklogPredicate(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "max number of pending") || strings.Contains(msg, "too many pending")
}
