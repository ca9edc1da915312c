// Package alerter matches odds ticks against active alert rules and records
// idempotent firings. The same evaluate-and-fire path serves both the stream
// consumer and the synchronous fire-on-create check.
package alerter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/database"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/eventcache"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/events"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/stream"
)

// Trigger identifies which path invoked the evaluation.
type Trigger string

const (
	TriggerStream Trigger = "stream"
	TriggerCreate Trigger = "create"
)

// prevTickTTL bounds how long a previous tick stays available for crossing
// comparators.
const prevTickTTL = 6 * time.Hour

// RuleStore is the rule and firing persistence the engine needs.
type RuleStore interface {
	ActiveRulesForQuote(ctx context.Context, eventID, oddID, bookmakerID string) ([]database.AlertRule, error)
	UpdateRuleLastFired(ctx context.Context, ruleID string, firedAt time.Time) error
	EnabledChannels(ctx context.Context, ruleID string) ([]database.Channel, error)
	InsertFiring(ctx context.Context, f *database.Firing) (bool, error)
}

// TickCache is the event-cache surface the engine reads and writes.
type TickCache interface {
	GetPrevTick(ctx context.Context, eventID, oddID, bookmakerID string) (*events.OddsTick, error)
	StorePrevTick(ctx context.Context, tick *events.OddsTick, ttl time.Duration) error
	GetStatus(ctx context.Context, eventID string) (*eventcache.Status, error)
	GetCoreQuote(ctx context.Context, eventID, oddID, bookmakerID string) (*eventcache.CoreQuote, error)
}

// JobPublisher appends notification jobs to the job stream.
type JobPublisher interface {
	Publish(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// Engine evaluates rules against ticks and fires alerts.
type Engine struct {
	rules     RuleStore
	cache     TickCache
	publisher JobPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Engine.
func New(rules RuleStore, cache TickCache, publisher JobPublisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rules:     rules,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleEntry adapts the engine to the stream consumer framework. An
// unparseable entry is dropped, not retried.
func (e *Engine) HandleEntry(ctx context.Context, entry stream.Entry) error {
	tick, err := events.ParseOddsTick(entry.Values)
	if err != nil {
		return fmt.Errorf("parse odds tick %s: %v: %w", entry.ID, err, stream.ErrDrop)
	}
	return e.HandleTick(ctx, tick)
}

// HandleTick evaluates all active rules for the tick's quote key, then
// records the tick as the previous observation for that key.
func (e *Engine) HandleTick(ctx context.Context, tick *events.OddsTick) error {
	prev, err := e.cache.GetPrevTick(ctx, tick.EventID, tick.OddID, tick.BookmakerID)
	if err != nil {
		return fmt.Errorf("load previous tick for %s: %w", tick.Key(), err)
	}

	rules, err := e.rules.ActiveRulesForQuote(ctx, tick.EventID, tick.OddID, tick.BookmakerID)
	if err != nil {
		return fmt.Errorf("load rules for %s: %w", tick.Key(), err)
	}

	for i := range rules {
		if err := e.evaluateAndFire(ctx, &rules[i], tick, prev, TriggerStream); err != nil {
			return err
		}
	}

	if err := e.cache.StorePrevTick(ctx, tick, prevTickTTL); err != nil {
		return fmt.Errorf("store previous tick for %s: %w", tick.Key(), err)
	}
	return nil
}

// FireOnCreate re-reads the cached quote for a just-created rule and runs the
// identical evaluation path, so an already-true condition notifies without
// waiting for the next tick.
func (e *Engine) FireOnCreate(ctx context.Context, rule *database.AlertRule) error {
	quote, err := e.cache.GetCoreQuote(ctx, rule.EventID, rule.OddID, rule.BookmakerID)
	if err != nil {
		return fmt.Errorf("load cached quote for rule %s: %w", rule.ID, err)
	}
	if quote == nil {
		return nil
	}
	tick := quote.Tick(rule.EventID, rule.OddID, rule.BookmakerID, e.now())

	prev, err := e.cache.GetPrevTick(ctx, rule.EventID, rule.OddID, rule.BookmakerID)
	if err != nil {
		return fmt.Errorf("load previous tick for rule %s: %w", rule.ID, err)
	}
	return e.evaluateAndFire(ctx, rule, tick, prev, TriggerCreate)
}

// evaluateAndFire checks one rule against one tick and, when satisfied and
// cadence-eligible, inserts the firing and enqueues notification jobs. The
// unique firing key is the sole concurrency-safety mechanism.
func (e *Engine) evaluateAndFire(ctx context.Context, rule *database.AlertRule, tick, prev *events.OddsTick, trigger Trigger) error {
	if rule.AvailableRequired && !tick.Available {
		return nil
	}

	ok, err := e.windowMatches(ctx, rule, tick.EventID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	value, found := tick.MetricValue(rule.TargetMetric)
	if !found {
		return nil
	}
	prevValue, hasPrev := previousMetricValue(prev, rule.TargetMetric)

	if !satisfied(rule, value, prevValue, hasPrev) {
		return nil
	}
	if !cadenceEligible(rule, e.now()) {
		return nil
	}

	firedAt := e.now()
	firing := &database.Firing{
		ID:              uuid.New().String(),
		AlertID:         rule.ID,
		EventID:         tick.EventID,
		OddID:           tick.OddID,
		BookmakerID:     tick.BookmakerID,
		FiringKey:       firingKey(tick),
		TriggeredValue:  value,
		TriggeredMetric: rule.TargetMetric,
		VendorUpdatedAt: tick.VendorUpdatedAt,
		ObservedAt:      tick.ObservedAt,
	}

	inserted, err := e.rules.InsertFiring(ctx, firing)
	if err != nil {
		return fmt.Errorf("insert firing for rule %s: %w", rule.ID, err)
	}
	if !inserted {
		// Another worker (or the other trigger path) already fired this key.
		e.logger.Debug("firing already recorded", "rule_id", rule.ID, "firing_key", firing.FiringKey)
		return nil
	}

	if err := e.rules.UpdateRuleLastFired(ctx, rule.ID, firedAt); err != nil {
		return fmt.Errorf("update last fired for rule %s: %w", rule.ID, err)
	}
	rule.LastFiredAt = &firedAt

	if err := e.enqueueJobs(ctx, rule, firing, tick, prevValue, hasPrev); err != nil {
		return err
	}

	e.logger.Info("alert fired",
		"rule_id", rule.ID,
		"firing_id", firing.ID,
		"trigger", string(trigger),
		"metric", rule.TargetMetric,
		"value", value.String())
	return nil
}

// windowMatches checks the rule's time window against the cached event
// status. An indeterminate status never satisfies a live or pregame window.
func (e *Engine) windowMatches(ctx context.Context, rule *database.AlertRule, eventID string) (bool, error) {
	if rule.TimeWindow == database.WindowBoth || rule.TimeWindow == "" {
		return true, nil
	}
	status, err := e.cache.GetStatus(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("load status for %s: %w", eventID, err)
	}
	live, known := status.IsLive()
	if !known {
		return false, nil
	}
	switch rule.TimeWindow {
	case database.WindowLive:
		return live, nil
	case database.WindowPregame:
		return !live, nil
	}
	return false, nil
}

// satisfied evaluates the rule's comparator. Crossing comparators compare the
// transition from the previous tick's value for the same quote key.
func satisfied(rule *database.AlertRule, value, prevValue decimal.Decimal, hasPrev bool) bool {
	target := rule.TargetValue
	switch rule.Comparator {
	case database.ComparatorGTE:
		return value.GreaterThanOrEqual(target)
	case database.ComparatorLTE:
		return value.LessThanOrEqual(target)
	case database.ComparatorEQ:
		return value.Equal(target)
	case database.ComparatorCrossesUp:
		return hasPrev && prevValue.LessThan(target) && value.GreaterThanOrEqual(target)
	case database.ComparatorCrossesDn:
		return hasPrev && prevValue.GreaterThan(target) && value.LessThanOrEqual(target)
	}
	return false
}

// cadenceEligible enforces one-shot and cooldown firing cadence.
func cadenceEligible(rule *database.AlertRule, now time.Time) bool {
	if rule.LastFiredAt == nil {
		return true
	}
	if rule.OneShot {
		return false
	}
	if rule.CooldownSeconds > 0 {
		return now.Sub(*rule.LastFiredAt) >= time.Duration(rule.CooldownSeconds)*time.Second
	}
	return true
}

// firingKey builds the deterministic dedupe key for a tick: the quote key
// plus the vendor's source timestamp.
func firingKey(tick *events.OddsTick) string {
	return fmt.Sprintf("%s:%s:%s:%d", tick.EventID, tick.OddID, tick.BookmakerID, tick.VendorUpdatedAt.UnixMilli())
}

func previousMetricValue(prev *events.OddsTick, metric string) (decimal.Decimal, bool) {
	if prev == nil {
		return decimal.Decimal{}, false
	}
	return prev.MetricValue(metric)
}

// enqueueJobs emits one notification job per enabled channel on the rule.
func (e *Engine) enqueueJobs(ctx context.Context, rule *database.AlertRule, firing *database.Firing, tick *events.OddsTick, prevValue decimal.Decimal, hasPrev bool) error {
	channels, err := e.rules.EnabledChannels(ctx, rule.ID)
	if err != nil {
		return fmt.Errorf("load channels for rule %s: %w", rule.ID, err)
	}
	if len(channels) == 0 {
		e.logger.Warn("rule fired with no enabled channels", "rule_id", rule.ID, "firing_id", firing.ID)
		return nil
	}

	marketType, teamSide := splitOddID(tick.OddID)
	for _, ch := range channels {
		job := &events.NotificationJob{
			FiringID:     firing.ID,
			AlertID:      rule.ID,
			UserID:       rule.UserID,
			Channels:     []string{ch.Channel},
			EventID:      tick.EventID,
			OddID:        tick.OddID,
			BookmakerID:  tick.BookmakerID,
			CurrentValue: firing.TriggeredValue,
			ValueMetric:  rule.TargetMetric,
			RuleType:     rule.Comparator,
			MarketType:   marketType,
			TeamSide:     teamSide,
			Threshold:    rule.TargetValue,
			Direction:    direction(rule.Comparator),
			ObservedAt:   tick.ObservedAt,
		}
		if hasPrev {
			job.PreviousValue = &prevValue
		}
		if _, err := e.publisher.Publish(ctx, stream.NotifyJobs, job.StreamValues()); err != nil {
			return fmt.Errorf("enqueue %s job for firing %s: %w", ch.Channel, firing.ID, err)
		}
	}
	return nil
}

func direction(comparator string) string {
	switch comparator {
	case database.ComparatorGTE, database.ComparatorCrossesUp:
		return "above"
	case database.ComparatorLTE, database.ComparatorCrossesDn:
		return "below"
	case database.ComparatorEQ:
		return "equal"
	}
	return ""
}

// splitOddID derives market type and team side from an odd ID of the form
// "market:side".
func splitOddID(oddID string) (marketType, teamSide string) {
	parts := strings.SplitN(oddID, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return oddID, ""
}
