package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Comparator values for AlertRule.
const (
	ComparatorGTE       = "gte"
	ComparatorLTE       = "lte"
	ComparatorEQ        = "eq"
	ComparatorCrossesUp = "crosses_up"
	ComparatorCrossesDn = "crosses_down"
)

// Time windows in which a rule may fire.
const (
	WindowPregame = "pregame"
	WindowLive    = "live"
	WindowBoth    = "both"
)

// AlertRule is one user alert condition on a (event, odd, bookmaker) quote.
type AlertRule struct {
	ID                string
	UserID            string
	EventID           string
	OddID             string
	BookmakerID       string
	Comparator        string
	TargetMetric      string
	TargetValue       decimal.Decimal
	TimeWindow        string
	OneShot           bool
	CooldownSeconds   int
	AvailableRequired bool
	IsActive          bool
	LastFiredAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Channel is one enabled delivery channel with its destination for a rule.
type Channel struct {
	RuleID      string
	Channel     string
	Destination string
	Enabled     bool
}

const ruleColumns = `id, user_id, event_id, odd_id, bookmaker_id, comparator, target_metric,
		target_value, time_window, one_shot, cooldown_seconds, available_required, is_active,
		last_fired_at, created_at, updated_at`

// ActiveRulesForQuote retrieves active rules matching the given quote key.
func (db *DB) ActiveRulesForQuote(ctx context.Context, eventID, oddID, bookmakerID string) ([]AlertRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM alert_rules
		WHERE event_id = $1 AND odd_id = $2 AND bookmaker_id = $3 AND is_active = true
		ORDER BY created_at`

	rows, err := db.conn.QueryContext(ctx, query, eventID, oddID, bookmakerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules for quote: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// GetRule retrieves one rule by ID regardless of active state.
func (db *DB) GetRule(ctx context.Context, ruleID string) (*AlertRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM alert_rules
		WHERE id = $1`

	rule, err := scanRule(db.conn.QueryRowContext(ctx, query, ruleID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", ruleID, err)
	}
	return rule, nil
}

// UpdateRuleLastFired records when the rule last fired.
func (db *DB) UpdateRuleLastFired(ctx context.Context, ruleID string, firedAt time.Time) error {
	query := `
		UPDATE alert_rules
		SET last_fired_at = $2, updated_at = NOW()
		WHERE id = $1`

	if _, err := db.conn.ExecContext(ctx, query, ruleID, firedAt); err != nil {
		return fmt.Errorf("failed to update last_fired_at for rule %s: %w", ruleID, err)
	}
	return nil
}

// EnabledChannels retrieves the enabled delivery channels for a rule.
func (db *DB) EnabledChannels(ctx context.Context, ruleID string) ([]Channel, error) {
	query := `
		SELECT rule_id, channel, destination, enabled
		FROM alert_channels
		WHERE rule_id = $1 AND enabled = true
		ORDER BY channel`

	rows, err := db.conn.QueryContext(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels for rule %s: %w", ruleID, err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.RuleID, &ch.Channel, &ch.Destination, &ch.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*AlertRule, error) {
	var rule AlertRule
	var targetValue string
	var lastFiredAt sql.NullTime
	err := row.Scan(&rule.ID, &rule.UserID, &rule.EventID, &rule.OddID, &rule.BookmakerID,
		&rule.Comparator, &rule.TargetMetric, &targetValue, &rule.TimeWindow, &rule.OneShot,
		&rule.CooldownSeconds, &rule.AvailableRequired, &rule.IsActive, &lastFiredAt,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	value, err := decimal.NewFromString(targetValue)
	if err != nil {
		return nil, fmt.Errorf("invalid target_value for rule %s: %w", rule.ID, err)
	}
	rule.TargetValue = value
	if lastFiredAt.Valid {
		rule.LastFiredAt = &lastFiredAt.Time
	}
	return &rule, nil
}

func scanRules(rows *sql.Rows) ([]AlertRule, error) {
	var rules []AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}
