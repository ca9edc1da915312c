// Package planner decides which events to poll each ingestion cycle, batching
// eligible events under the vendor request budget.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ScheduleStore is the slice of the Redis command surface the schedule uses.
// *redis.Client satisfies it.
type ScheduleStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Schedule tracks each event's next-eligible-poll time as an epoch-millis key.
type Schedule struct {
	store ScheduleStore
}

// NewSchedule creates a Schedule on the given store.
func NewSchedule(store ScheduleStore) *Schedule {
	return &Schedule{store: store}
}

func nextPollKey(eventID string) string { return "poll:next:" + eventID }

// NextPollAt reads the event's next-eligible-poll time. The bool reports
// whether a schedule entry exists; absent entries mean poll now.
func (s *Schedule) NextPollAt(ctx context.Context, eventID string) (time.Time, bool, error) {
	raw, err := s.store.Get(ctx, nextPollKey(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get next poll for %s: %w", eventID, err)
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// An unreadable entry is treated as absent so the event still polls.
		return time.Time{}, false, nil
	}
	return time.UnixMilli(millis), true, nil
}

// SetNextPoll records when the event becomes eligible to poll again. The key
// expires with a margin past the cadence so stale events fall off naturally.
func (s *Schedule) SetNextPoll(ctx context.Context, eventID string, at time.Time) error {
	ttl := time.Until(at) + time.Hour
	if ttl < time.Hour {
		ttl = time.Hour
	}
	value := strconv.FormatInt(at.UnixMilli(), 10)
	if err := s.store.Set(ctx, nextPollKey(eventID), value, ttl).Err(); err != nil {
		return fmt.Errorf("set next poll for %s: %w", eventID, err)
	}
	return nil
}
