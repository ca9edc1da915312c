package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Delivery statuses.
const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// Delivery is one attempt to deliver a firing's notification on one channel.
type Delivery struct {
	ID                string
	FiringID          string
	Channel           string
	Destination       string
	Status            string
	ProviderMessageID string
	AttemptNumber     int
	ErrorText         string
	CreatedAt         time.Time
}

// RecordDelivery inserts one delivery attempt row.
func (db *DB) RecordDelivery(ctx context.Context, d *Delivery) error {
	query := `
		INSERT INTO notification_deliveries
			(id, firing_id, channel, destination, status, provider_message_id,
			 attempt_number, error_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`

	_, err := db.conn.ExecContext(ctx, query,
		d.ID, d.FiringID, d.Channel, d.Destination, d.Status,
		nullIfEmpty(d.ProviderMessageID), d.AttemptNumber, nullIfEmpty(d.ErrorText))
	if err != nil {
		return fmt.Errorf("failed to record delivery for firing %s: %w", d.FiringID, err)
	}
	return nil
}

// DeliveredChannels retrieves the channels with at least one sent delivery
// for a firing.
func (db *DB) DeliveredChannels(ctx context.Context, firingID string) ([]string, error) {
	query := `
		SELECT DISTINCT channel
		FROM notification_deliveries
		WHERE firing_id = $1 AND status = $2
		ORDER BY channel`

	rows, err := db.conn.QueryContext(ctx, query, firingID, DeliverySent)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivered channels for firing %s: %w", firingID, err)
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// DeliveriesForFiring retrieves all delivery attempts for a firing in
// attempt order.
func (db *DB) DeliveriesForFiring(ctx context.Context, firingID string) ([]Delivery, error) {
	query := `
		SELECT id, firing_id, channel, destination, status, provider_message_id,
			attempt_number, error_text, created_at
		FROM notification_deliveries
		WHERE firing_id = $1
		ORDER BY created_at`

	rows, err := db.conn.QueryContext(ctx, query, firingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries for firing %s: %w", firingID, err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var d Delivery
		var providerID, errorText sql.NullString
		err := rows.Scan(&d.ID, &d.FiringID, &d.Channel, &d.Destination, &d.Status,
			&providerID, &d.AttemptNumber, &errorText, &d.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery row: %w", err)
		}
		d.ProviderMessageID = providerID.String
		d.ErrorText = errorText.String
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
