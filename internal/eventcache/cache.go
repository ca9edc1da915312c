// Package eventcache is the Redis projection of per-event state: metadata,
// lifecycle status, the normalized core-odds snapshot, the previous-tick
// store used by crossing comparators, and the per-league/per-team live and
// upcoming indexes.
package eventcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/events"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/lifecycle"
)

// Store is the slice of the Redis command surface the cache uses.
// *redis.Client satisfies it.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache provides typed access to the event projection.
type Cache struct {
	store Store
}

// New creates a Cache on the given store.
func New(store Store) *Cache {
	return &Cache{store: store}
}

// Meta is the slow-moving event metadata.
type Meta struct {
	EventID    string          `json:"event_id"`
	SportID    string          `json:"sport_id,omitempty"`
	LeagueID   string          `json:"league_id,omitempty"`
	HomeTeamID string          `json:"home_team_id,omitempty"`
	AwayTeamID string          `json:"away_team_id,omitempty"`
	HomeName   string          `json:"home_name,omitempty"`
	AwayName   string          `json:"away_name,omitempty"`
	Results    json.RawMessage `json:"results,omitempty"`
}

// Status is the cached lifecycle status of an event. Boolean fields are
// pointers so a partial overlay can distinguish "false" from "unknown".
type Status struct {
	StartsAt     string `json:"starts_at,omitempty"`
	Started      *bool  `json:"started,omitempty"`
	Ended        *bool  `json:"ended,omitempty"`
	Finalized    *bool  `json:"finalized,omitempty"`
	Cancelled    *bool  `json:"cancelled,omitempty"`
	Live         *bool  `json:"live,omitempty"`
	Stale        *bool  `json:"stale,omitempty"`
	DisplayShort string `json:"display_short,omitempty"`
	Period       string `json:"period,omitempty"`
	Clock        string `json:"clock,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// IsLive reports the cached live flag. The second return is false when the
// status does not know.
func (s *Status) IsLive() (bool, bool) {
	if s == nil || s.Live == nil {
		return false, false
	}
	return *s.Live, true
}

// LifecycleState converts the cached status into classification inputs.
// Unknown booleans classify as false.
func (s *Status) LifecycleState() lifecycle.State {
	state := lifecycle.State{}
	if s == nil {
		return state
	}
	if t, err := time.Parse(time.RFC3339Nano, s.StartsAt); err == nil {
		state.StartsAt = t
	}
	state.Started = s.Started != nil && *s.Started
	state.Ended = s.Ended != nil && *s.Ended
	state.Finalized = s.Finalized != nil && *s.Finalized
	state.Cancelled = s.Cancelled != nil && *s.Cancelled
	return state
}

// CoreQuote is one normalized bookmaker quote in the core-odds snapshot.
type CoreQuote struct {
	Price     int              `json:"price"`
	Line      *decimal.Decimal `json:"line,omitempty"`
	Available bool             `json:"available"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Tick converts the cached quote back into an OddsTick for re-evaluation (the
// fire-on-create path).
func (q *CoreQuote) Tick(eventID, oddID, bookmakerID string, observedAt time.Time) *events.OddsTick {
	return &events.OddsTick{
		EventID:         eventID,
		OddID:           oddID,
		BookmakerID:     bookmakerID,
		Price:           q.Price,
		Line:            q.Line,
		Available:       q.Available,
		VendorUpdatedAt: q.UpdatedAt,
		ObservedAt:      observedAt,
	}
}

func metaKey(eventID string) string   { return "evt:" + eventID + ":meta" }
func statusKey(eventID string) string { return "evt:" + eventID + ":status" }
func oddsKey(eventID string) string   { return "evt:" + eventID + ":odds" }
func tickKey(eventID, oddID, bookmakerID string) string {
	return "evt:" + eventID + ":tick:" + oddID + ":" + bookmakerID
}

// SetMeta writes event metadata with the lifecycle-derived TTL.
func (c *Cache) SetMeta(ctx context.Context, meta *Meta, ttl time.Duration) error {
	return c.setJSON(ctx, metaKey(meta.EventID), meta, ttl)
}

// GetMeta reads event metadata. Returns (nil, nil) on a cache miss.
func (c *Cache) GetMeta(ctx context.Context, eventID string) (*Meta, error) {
	var meta Meta
	ok, err := c.getJSON(ctx, metaKey(eventID), &meta)
	if err != nil || !ok {
		return nil, err
	}
	return &meta, nil
}

// UpdateStatus merges the overlay onto the cached status and writes the
// result back with the given TTL. Returns the merged status.
func (c *Cache) UpdateStatus(ctx context.Context, eventID string, overlay Status, ttl time.Duration) (*Status, error) {
	base, err := c.GetStatus(ctx, eventID)
	if err != nil {
		return nil, err
	}
	merged := overlay
	if base != nil {
		merged = MergeStatus(*base, overlay)
	}
	if err := c.setJSON(ctx, statusKey(eventID), &merged, ttl); err != nil {
		return nil, err
	}
	return &merged, nil
}

// GetStatus reads the cached status. Returns (nil, nil) on a cache miss;
// callers treat that as indeterminate.
func (c *Cache) GetStatus(ctx context.Context, eventID string) (*Status, error) {
	var status Status
	ok, err := c.getJSON(ctx, statusKey(eventID), &status)
	if err != nil || !ok {
		return nil, err
	}
	return &status, nil
}

// UpdateCoreQuote writes one normalized quote into the event's core-odds
// snapshot, keyed by "oddID:bookmakerID".
func (c *Cache) UpdateCoreQuote(ctx context.Context, eventID, oddID, bookmakerID string, quote CoreQuote, ttl time.Duration) error {
	snapshot, err := c.GetCoreOdds(ctx, eventID)
	if err != nil {
		return err
	}
	if snapshot == nil {
		snapshot = make(map[string]CoreQuote)
	}
	snapshot[oddID+":"+bookmakerID] = quote
	return c.setJSON(ctx, oddsKey(eventID), snapshot, ttl)
}

// GetCoreOdds reads the core-odds snapshot. Returns (nil, nil) on a miss.
func (c *Cache) GetCoreOdds(ctx context.Context, eventID string) (map[string]CoreQuote, error) {
	var snapshot map[string]CoreQuote
	ok, err := c.getJSON(ctx, oddsKey(eventID), &snapshot)
	if err != nil || !ok {
		return nil, err
	}
	return snapshot, nil
}

// GetCoreQuote reads one quote from the core-odds snapshot. Returns
// (nil, nil) when the event or the quote is not cached.
func (c *Cache) GetCoreQuote(ctx context.Context, eventID, oddID, bookmakerID string) (*CoreQuote, error) {
	snapshot, err := c.GetCoreOdds(ctx, eventID)
	if err != nil || snapshot == nil {
		return nil, err
	}
	quote, ok := snapshot[oddID+":"+bookmakerID]
	if !ok {
		return nil, nil
	}
	return &quote, nil
}

// StorePrevTick records the tick as the previous observation for its
// (event, odd, bookmaker) key.
func (c *Cache) StorePrevTick(ctx context.Context, tick *events.OddsTick, ttl time.Duration) error {
	return c.setJSON(ctx, tickKey(tick.EventID, tick.OddID, tick.BookmakerID), tick, ttl)
}

// GetPrevTick reads the previous tick for the same (event, odd, bookmaker)
// key. Returns (nil, nil) when none is recorded.
func (c *Cache) GetPrevTick(ctx context.Context, eventID, oddID, bookmakerID string) (*events.OddsTick, error) {
	var tick events.OddsTick
	ok, err := c.getJSON(ctx, tickKey(eventID, oddID, bookmakerID), &tick)
	if err != nil || !ok {
		return nil, err
	}
	return &tick, nil
}

func (c *Cache) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// getJSON reads and decodes a JSON key. The bool reports whether the key was
// present.
func (c *Cache) getJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := c.store.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// BoolPtr is a convenience for building Status overlays.
func BoolPtr(b bool) *bool { return &b }
