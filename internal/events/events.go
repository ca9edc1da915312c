// Package events defines the message payloads carried on the pipeline streams
// and the strict field-map encoding used to put them on and take them off a
// Redis stream entry. Parsing is all-or-nothing: a field that cannot be
// decoded makes the whole entry malformed, it is never passed on partially
// typed.
package events

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Value metrics a rule can target.
const (
	MetricOddsPrice = "odds_price"
	MetricLineValue = "line_value"
)

// OddsTick is one observed bookmaker price/line for one market on one event.
// Price follows the American-odds convention (signed integer, e.g. -110, +145).
type OddsTick struct {
	EventID         string
	OddID           string
	BookmakerID     string
	Price           int
	Line            *decimal.Decimal
	Available       bool
	VendorUpdatedAt time.Time
	ObservedAt      time.Time
}

// Key returns the (event, odd, bookmaker) cache key for this quote.
func (t *OddsTick) Key() string {
	return t.EventID + ":" + t.OddID + ":" + t.BookmakerID
}

// MetricValue selects the value for the given metric. The second return is
// false when the tick does not carry that metric (no line on the quote).
func (t *OddsTick) MetricValue(metric string) (decimal.Decimal, bool) {
	switch metric {
	case MetricOddsPrice:
		return decimal.NewFromInt(int64(t.Price)), true
	case MetricLineValue:
		if t.Line == nil {
			return decimal.Decimal{}, false
		}
		return *t.Line, true
	}
	return decimal.Decimal{}, false
}

// StreamValues encodes the tick as a flat stream entry field map.
func (t *OddsTick) StreamValues() map[string]interface{} {
	values := map[string]interface{}{
		"event_id":          t.EventID,
		"odd_id":            t.OddID,
		"bookmaker_id":      t.BookmakerID,
		"price":             strconv.Itoa(t.Price),
		"available":         strconv.FormatBool(t.Available),
		"vendor_updated_at": t.VendorUpdatedAt.UTC().Format(time.RFC3339Nano),
		"observed_at":       t.ObservedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.Line != nil {
		values["line"] = t.Line.String()
	}
	return values
}

// ParseOddsTick decodes a stream entry field map into an OddsTick.
func ParseOddsTick(values map[string]string) (*OddsTick, error) {
	tick := &OddsTick{}
	var err error

	if tick.EventID, err = requireString(values, "event_id"); err != nil {
		return nil, err
	}
	if tick.OddID, err = requireString(values, "odd_id"); err != nil {
		return nil, err
	}
	if tick.BookmakerID, err = requireString(values, "bookmaker_id"); err != nil {
		return nil, err
	}
	if tick.Price, err = requireInt(values, "price"); err != nil {
		return nil, err
	}
	if tick.Available, err = requireBool(values, "available"); err != nil {
		return nil, err
	}
	if tick.VendorUpdatedAt, err = requireTime(values, "vendor_updated_at"); err != nil {
		return nil, err
	}
	if tick.ObservedAt, err = requireTime(values, "observed_at"); err != nil {
		return nil, err
	}
	if raw, ok := values["line"]; ok && raw != "" {
		line, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid field line: %q", raw)
		}
		tick.Line = &line
	}
	return tick, nil
}

// EventStatusTick reports a lifecycle observation for one event.
type EventStatusTick struct {
	EventID         string
	StartsAt        time.Time
	Started         bool
	Ended           bool
	Finalized       bool
	Cancelled       bool
	Live            bool
	VendorUpdatedAt time.Time
	ObservedAt      time.Time
}

// StreamValues encodes the status tick as a flat stream entry field map.
func (t *EventStatusTick) StreamValues() map[string]interface{} {
	return map[string]interface{}{
		"event_id":          t.EventID,
		"starts_at":         t.StartsAt.UTC().Format(time.RFC3339Nano),
		"started":           strconv.FormatBool(t.Started),
		"ended":             strconv.FormatBool(t.Ended),
		"finalized":         strconv.FormatBool(t.Finalized),
		"cancelled":         strconv.FormatBool(t.Cancelled),
		"live":              strconv.FormatBool(t.Live),
		"vendor_updated_at": t.VendorUpdatedAt.UTC().Format(time.RFC3339Nano),
		"observed_at":       t.ObservedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ParseEventStatusTick decodes a stream entry field map into an EventStatusTick.
func ParseEventStatusTick(values map[string]string) (*EventStatusTick, error) {
	tick := &EventStatusTick{}
	var err error

	if tick.EventID, err = requireString(values, "event_id"); err != nil {
		return nil, err
	}
	if tick.StartsAt, err = requireTime(values, "starts_at"); err != nil {
		return nil, err
	}
	if tick.Started, err = requireBool(values, "started"); err != nil {
		return nil, err
	}
	if tick.Ended, err = requireBool(values, "ended"); err != nil {
		return nil, err
	}
	if tick.Finalized, err = requireBool(values, "finalized"); err != nil {
		return nil, err
	}
	if tick.Cancelled, err = requireBool(values, "cancelled"); err != nil {
		return nil, err
	}
	if tick.Live, err = requireBool(values, "live"); err != nil {
		return nil, err
	}
	if tick.VendorUpdatedAt, err = requireTime(values, "vendor_updated_at"); err != nil {
		return nil, err
	}
	if tick.ObservedAt, err = requireTime(values, "observed_at"); err != nil {
		return nil, err
	}
	return tick, nil
}

// NotificationJob asks the notifier to deliver one firing over one or more
// channels. The alerter emits one job per enabled channel; reconciliation may
// emit a single job carrying every channel still missing a delivery.
type NotificationJob struct {
	FiringID      string
	AlertID       string
	UserID        string
	Channels      []string
	EventID       string
	OddID         string
	BookmakerID   string
	CurrentValue  decimal.Decimal
	PreviousValue *decimal.Decimal
	ValueMetric   string
	RuleType      string
	MarketType    string
	TeamSide      string
	Threshold     decimal.Decimal
	Direction     string
	ObservedAt    time.Time
}

// StreamValues encodes the job as a flat stream entry field map.
func (j *NotificationJob) StreamValues() map[string]interface{} {
	values := map[string]interface{}{
		"firing_id":     j.FiringID,
		"alert_id":      j.AlertID,
		"user_id":       j.UserID,
		"channels":      strings.Join(j.Channels, ","),
		"event_id":      j.EventID,
		"odd_id":        j.OddID,
		"bookmaker_id":  j.BookmakerID,
		"current_value": j.CurrentValue.String(),
		"value_metric":  j.ValueMetric,
		"rule_type":     j.RuleType,
		"market_type":   j.MarketType,
		"team_side":     j.TeamSide,
		"threshold":     j.Threshold.String(),
		"direction":     j.Direction,
		"observed_at":   j.ObservedAt.UTC().Format(time.RFC3339Nano),
	}
	if j.PreviousValue != nil {
		values["previous_value"] = j.PreviousValue.String()
	}
	return values
}

// ParseNotificationJob decodes a stream entry field map into a NotificationJob.
func ParseNotificationJob(values map[string]string) (*NotificationJob, error) {
	job := &NotificationJob{}
	var err error

	if job.FiringID, err = requireString(values, "firing_id"); err != nil {
		return nil, err
	}
	if job.AlertID, err = requireString(values, "alert_id"); err != nil {
		return nil, err
	}
	if job.UserID, err = requireString(values, "user_id"); err != nil {
		return nil, err
	}
	rawChannels, err := requireString(values, "channels")
	if err != nil {
		return nil, err
	}
	for _, ch := range strings.Split(rawChannels, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			job.Channels = append(job.Channels, ch)
		}
	}
	if len(job.Channels) == 0 {
		return nil, fmt.Errorf("invalid field channels: %q", rawChannels)
	}
	if job.EventID, err = requireString(values, "event_id"); err != nil {
		return nil, err
	}
	if job.OddID, err = requireString(values, "odd_id"); err != nil {
		return nil, err
	}
	if job.BookmakerID, err = requireString(values, "bookmaker_id"); err != nil {
		return nil, err
	}
	if job.CurrentValue, err = requireDecimal(values, "current_value"); err != nil {
		return nil, err
	}
	if raw, ok := values["previous_value"]; ok && raw != "" {
		prev, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid field previous_value: %q", raw)
		}
		job.PreviousValue = &prev
	}
	if job.ValueMetric, err = requireString(values, "value_metric"); err != nil {
		return nil, err
	}
	if job.Threshold, err = requireDecimal(values, "threshold"); err != nil {
		return nil, err
	}
	if job.ObservedAt, err = requireTime(values, "observed_at"); err != nil {
		return nil, err
	}
	// Descriptive fields are optional on the wire.
	job.RuleType = values["rule_type"]
	job.MarketType = values["market_type"]
	job.TeamSide = values["team_side"]
	job.Direction = values["direction"]
	return job, nil
}

func requireString(values map[string]string, key string) (string, error) {
	v, ok := values[key]
	if !ok || v == "" {
		return "", fmt.Errorf("missing field %s", key)
	}
	return v, nil
}

func requireInt(values map[string]string, key string) (int, error) {
	raw, err := requireString(values, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid field %s: %q", key, raw)
	}
	return n, nil
}

func requireBool(values map[string]string, key string) (bool, error) {
	raw, err := requireString(values, key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid field %s: %q", key, raw)
	}
	return b, nil
}

func requireTime(values map[string]string, key string) (time.Time, error) {
	raw, err := requireString(values, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid field %s: %q", key, raw)
	}
	return t, nil
}

func requireDecimal(values map[string]string, key string) (decimal.Decimal, error) {
	raw, err := requireString(values, key)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid field %s: %q", key, raw)
	}
	return d, nil
}
