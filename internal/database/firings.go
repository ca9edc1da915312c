package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// uniqueViolation is the Postgres error code for unique constraint violations.
const uniqueViolation = "23505"

// Firing is a durable, deduplicated record that a rule condition was
// satisfied. firing_key carries a unique constraint.
type Firing struct {
	ID              string
	AlertID         string
	EventID         string
	OddID           string
	BookmakerID     string
	FiringKey       string
	TriggeredValue  decimal.Decimal
	TriggeredMetric string
	VendorUpdatedAt time.Time
	ObservedAt      time.Time
	CreatedAt       time.Time
}

// InsertFiring attempts to insert a firing. A unique violation on firing_key
// means another worker already recorded it; that is reported as
// (false, nil), not an error.
func (db *DB) InsertFiring(ctx context.Context, f *Firing) (bool, error) {
	query := `
		INSERT INTO alert_firings
			(id, alert_id, event_id, odd_id, bookmaker_id, firing_key,
			 triggered_value, triggered_metric, vendor_updated_at, observed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`

	_, err := db.conn.ExecContext(ctx, query,
		f.ID, f.AlertID, f.EventID, f.OddID, f.BookmakerID, f.FiringKey,
		f.TriggeredValue.String(), f.TriggeredMetric, f.VendorUpdatedAt, f.ObservedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert firing %s: %w", f.FiringKey, err)
	}
	return true, nil
}

// RecentFirings retrieves firings created since the given time, newest first.
// Used by the reconciliation pass.
func (db *DB) RecentFirings(ctx context.Context, since time.Time) ([]Firing, error) {
	query := `
		SELECT id, alert_id, event_id, odd_id, bookmaker_id, firing_key,
			triggered_value, triggered_metric, vendor_updated_at, observed_at, created_at
		FROM alert_firings
		WHERE created_at >= $1
		ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent firings: %w", err)
	}
	defer rows.Close()

	var firings []Firing
	for rows.Next() {
		var f Firing
		var triggeredValue string
		err := rows.Scan(&f.ID, &f.AlertID, &f.EventID, &f.OddID, &f.BookmakerID, &f.FiringKey,
			&triggeredValue, &f.TriggeredMetric, &f.VendorUpdatedAt, &f.ObservedAt, &f.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan firing row: %w", err)
		}
		value, err := decimal.NewFromString(triggeredValue)
		if err != nil {
			return nil, fmt.Errorf("invalid triggered_value for firing %s: %w", f.ID, err)
		}
		f.TriggeredValue = value
		firings = append(firings, f)
	}
	return firings, rows.Err()
}
