package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MonitorSample is one periodic operational counter snapshot for a worker.
type MonitorSample struct {
	Worker     string
	Counters   map[string]int64
	SampledAt  time.Time
	RecordedAt time.Time
}

// InsertMonitorSample stores one counter snapshot.
func (db *DB) InsertMonitorSample(ctx context.Context, sample *MonitorSample) error {
	counters, err := json.Marshal(sample.Counters)
	if err != nil {
		return fmt.Errorf("failed to marshal counters for %s: %w", sample.Worker, err)
	}

	query := `
		INSERT INTO monitor_samples (worker, counters, sampled_at, recorded_at)
		VALUES ($1, $2, $3, NOW())`

	if _, err := db.conn.ExecContext(ctx, query, sample.Worker, counters, sample.SampledAt); err != nil {
		return fmt.Errorf("failed to insert monitor sample for %s: %w", sample.Worker, err)
	}
	return nil
}
