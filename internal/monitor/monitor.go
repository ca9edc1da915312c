// Package monitor tracks per-worker operational counters and liveness keys.
// Each worker writes a heartbeat timestamp on a fixed interval independent of
// its main loop, plus a last-processed timestamp on every handled entry, so
// external monitoring can tell "alive" apart from "making progress".
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/database"
)

const (
	// heartbeatTTL is how long liveness keys stay in Redis if not refreshed.
	heartbeatTTL = 2 * time.Minute
	// snapshotTTL is how long the counter snapshot key stays in Redis.
	snapshotTTL = 5 * time.Minute
	// DefaultHeartbeatInterval paces heartbeat writes.
	DefaultHeartbeatInterval = 15 * time.Second
	// DefaultSampleInterval paces counter snapshots.
	DefaultSampleInterval = time.Minute
)

// KVStore is the Redis surface the collector writes. *redis.Client
// satisfies it.
type KVStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// SampleStore persists periodic counter snapshots. May be nil.
type SampleStore interface {
	InsertMonitorSample(ctx context.Context, sample *database.MonitorSample) error
}

// Snapshot is one point-in-time view of a worker's counters.
type Snapshot struct {
	Worker      string    `json:"worker"`
	StartedAt   time.Time `json:"started_at"`
	SampledAt   time.Time `json:"sampled_at"`
	Received    int64     `json:"received"`
	Processed   int64     `json:"processed"`
	Published   int64     `json:"published"`
	Errors      int64     `json:"errors"`
	DeadLetters int64     `json:"dead_letters"`
}

// Collector collects counters and emits heartbeats for one worker.
type Collector struct {
	worker    string
	kv        KVStore
	samples   SampleStore
	startedAt time.Time
	logger    *slog.Logger

	HeartbeatInterval time.Duration
	SampleInterval    time.Duration

	received    atomic.Int64
	processed   atomic.Int64
	published   atomic.Int64
	errors      atomic.Int64
	deadLetters atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a collector for the named worker. samples may be nil
// when Postgres persistence is not wanted.
func NewCollector(worker string, kv KVStore, samples SampleStore, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		worker:            worker,
		kv:                kv,
		samples:           samples,
		startedAt:         time.Now().UTC(),
		logger:            logger,
		HeartbeatInterval: DefaultHeartbeatInterval,
		SampleInterval:    DefaultSampleInterval,
		stopCh:            make(chan struct{}),
	}
}

func (c *Collector) aliveKey() string     { return "hb:" + c.worker + ":alive" }
func (c *Collector) processedKey() string { return "hb:" + c.worker + ":processed" }
func (c *Collector) snapshotKey() string  { return "monitor:" + c.worker }

// Start launches the heartbeat and snapshot goroutines.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.heartbeatLoop(ctx)
	go c.sampleLoop(ctx)
}

// Stop halts the background goroutines after a final snapshot.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// RecordReceived increments the received counter.
func (c *Collector) RecordReceived() { c.received.Add(1) }

// RecordPublished increments the published counter.
func (c *Collector) RecordPublished() { c.published.Add(1) }

// RecordError increments the error counter.
func (c *Collector) RecordError() { c.errors.Add(1) }

// RecordDeadLetter increments the dead-letter counter.
func (c *Collector) RecordDeadLetter() { c.deadLetters.Add(1) }

// MarkProcessed increments the processed counter and refreshes the
// last-processed timestamp key.
func (c *Collector) MarkProcessed(at time.Time) {
	c.processed.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.kv.Set(ctx, c.processedKey(), at.UTC().Format(time.RFC3339Nano), heartbeatTTL).Err(); err != nil {
		c.logger.Warn("failed to write last-processed key", "worker", c.worker, "error", err)
	}
}

// GetSnapshot returns the current counter values.
func (c *Collector) GetSnapshot() *Snapshot {
	return &Snapshot{
		Worker:      c.worker,
		StartedAt:   c.startedAt,
		SampledAt:   time.Now().UTC(),
		Received:    c.received.Load(),
		Processed:   c.processed.Load(),
		Published:   c.published.Load(),
		Errors:      c.errors.Load(),
		DeadLetters: c.deadLetters.Load(),
	}
}

// heartbeatLoop writes the alive key on a fixed interval regardless of main
// loop progress.
func (c *Collector) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.HeartbeatInterval)
	defer ticker.Stop()
	c.writeHeartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.writeHeartbeat(ctx)
		}
	}
}

func (c *Collector) writeHeartbeat(ctx context.Context) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := c.kv.Set(ctx, c.aliveKey(), now, heartbeatTTL).Err(); err != nil {
		c.logger.Warn("failed to write heartbeat", "worker", c.worker, "error", err)
	}
}

// sampleLoop periodically writes a counter snapshot to Redis and, when a
// sample store is configured, to Postgres.
func (c *Collector) sampleLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.writeSample(context.Background())
			return
		case <-c.stopCh:
			c.writeSample(context.Background())
			return
		case <-ticker.C:
			c.writeSample(ctx)
		}
	}
}

func (c *Collector) writeSample(ctx context.Context) {
	snapshot := c.GetSnapshot()

	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("failed to marshal monitor snapshot", "worker", c.worker, "error", err)
		return
	}
	if err := c.kv.Set(ctx, c.snapshotKey(), data, snapshotTTL).Err(); err != nil {
		c.logger.Warn("failed to write monitor snapshot", "worker", c.worker, "error", err)
	}

	if c.samples == nil {
		return
	}
	sample := &database.MonitorSample{
		Worker: c.worker,
		Counters: map[string]int64{
			"received":     snapshot.Received,
			"processed":    snapshot.Processed,
			"published":    snapshot.Published,
			"errors":       snapshot.Errors,
			"dead_letters": snapshot.DeadLetters,
		},
		SampledAt: snapshot.SampledAt,
	}
	if err := c.samples.InsertMonitorSample(ctx, sample); err != nil {
		c.logger.Warn("failed to persist monitor sample", "worker", c.worker, "error", err)
	}
}
