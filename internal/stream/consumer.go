package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDrop marks an entry as unprocessable. The consumer acknowledges and
// drops it without dead-lettering, since no retry can fix a parse failure.
var ErrDrop = errors.New("drop entry")

// Handler processes one stream entry. Returning nil acknowledges the entry;
// wrapping ErrDrop acknowledges and drops it; any other error dead-letters
// it first.
type Handler func(ctx context.Context, entry Entry) error

// ConsumerConfig tunes the consumer loop's phases.
type ConsumerConfig struct {
	Stream     string
	Group      string
	Consumer   string
	DeadLetter string

	// ReadCount bounds entries per read; BlockTimeout bounds the blocking
	// read for new entries; IdleSleep is the pause when a cycle finds
	// nothing to do.
	ReadCount    int64
	BlockTimeout time.Duration
	IdleSleep    time.Duration

	// PendingIters bounds the drain-pending phase per cycle. ClaimIters and
	// ClaimMinIdle bound the claim-stale phase; ClaimMinIdle zero disables
	// claiming.
	PendingIters int
	ClaimIters   int
	ClaimMinIdle time.Duration

	// Concurrency is the number of workers handling one batch. 1 processes
	// entries in order.
	Concurrency int

	// BacklogPredicate recognizes the provider's "too many pending entries"
	// error. Defaults to DefaultBacklogPredicate.
	BacklogPredicate func(error) bool
}

func (c *ConsumerConfig) withDefaults() {
	if c.ReadCount <= 0 {
		c.ReadCount = 16
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = time.Second
	}
	if c.PendingIters <= 0 {
		c.PendingIters = 10
	}
	if c.ClaimIters <= 0 {
		c.ClaimIters = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.BacklogPredicate == nil {
		c.BacklogPredicate = DefaultBacklogPredicate
	}
}

// Consumer runs the shared consumption loop against one stream and group.
type Consumer struct {
	client  Client
	cfg     ConsumerConfig
	handler Handler
	logger  *slog.Logger

	// onProcessed is called with the completion time of each successfully
	// handled entry.
	onProcessed func(time.Time)

	// backlogged switches the loop to drain-only mode until the pending
	// backlog clears.
	backlogged bool
}

// NewConsumer creates a Consumer. onProcessed may be nil.
func NewConsumer(client Client, cfg ConsumerConfig, handler Handler, onProcessed func(time.Time), logger *slog.Logger) *Consumer {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:      client,
		cfg:         cfg,
		handler:     handler,
		onProcessed: onProcessed,
		logger:      logger.With("stream", cfg.Stream, "group", cfg.Group, "consumer", cfg.Consumer),
	}
}

// Run consumes until the context is cancelled. The group is created at the
// stream head if it does not exist.
func (c *Consumer) Run(ctx context.Context) error {
	if err := EnsureGroup(ctx, c.client, c.cfg.Stream, c.cfg.Group); err != nil {
		return err
	}
	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return ctx.Err()
		default:
		}
		handled, err := c.RunCycle(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Error("consumer cycle failed", "error", err)
		}
		if handled == 0 {
			c.sleep(ctx)
		}
	}
}

// RunCycle performs one pass of the phase machine: drain pending, claim
// stale, read new. Returns how many entries were handled.
func (c *Consumer) RunCycle(ctx context.Context) (int, error) {
	handled, err := c.drainPending(ctx)
	if err != nil {
		return handled, err
	}

	if c.backlogged {
		if handled == 0 {
			// Backlog has cleared; resume normal reads next cycle.
			c.backlogged = false
			c.logger.Info("pending backlog cleared, resuming reads")
		}
		return handled, nil
	}

	claimed, err := c.claimStale(ctx)
	handled += claimed
	if err != nil {
		return handled, err
	}

	read, err := c.readNew(ctx)
	handled += read
	if err != nil {
		if c.cfg.BacklogPredicate(err) {
			c.backlogged = true
			c.logger.Warn("pending entries limit reached, switching to drain-only mode")
			return handled, nil
		}
		return handled, err
	}
	return handled, nil
}

// drainPending re-reads this consumer's delivered-but-unacknowledged entries
// until none remain, bounded by PendingIters.
func (c *Consumer) drainPending(ctx context.Context) (int, error) {
	total := 0
	for i := 0; i < c.cfg.PendingIters; i++ {
		entries, err := c.read(ctx, "0", 0)
		if err != nil {
			return total, fmt.Errorf("drain pending: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}
		total += c.processBatch(ctx, entries)
	}
	return total, nil
}

// claimStale takes over entries other consumers left pending longer than
// ClaimMinIdle, bounded by ClaimIters.
func (c *Consumer) claimStale(ctx context.Context) (int, error) {
	if c.cfg.ClaimMinIdle <= 0 {
		return 0, nil
	}
	total := 0
	start := "0-0"
	for i := 0; i < c.cfg.ClaimIters; i++ {
		msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.ClaimMinIdle,
			Start:    start,
			Count:    c.cfg.ReadCount,
		}).Result()
		if err != nil {
			return total, fmt.Errorf("claim stale: %w", err)
		}
		if len(msgs) > 0 {
			total += c.processBatch(ctx, toEntries(msgs))
		}
		if next == "0-0" || len(msgs) == 0 {
			return total, nil
		}
		start = next
	}
	return total, nil
}

// readNew blocks for new entries up to BlockTimeout.
func (c *Consumer) readNew(ctx context.Context) (int, error) {
	entries, err := c.read(ctx, ">", c.cfg.BlockTimeout)
	if err != nil {
		return 0, fmt.Errorf("read new: %w", err)
	}
	return c.processBatch(ctx, entries), nil
}

func (c *Consumer) read(ctx context.Context, id string, block time.Duration) ([]Entry, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, id},
		Count:    c.cfg.ReadCount,
	}
	if block > 0 {
		args.Block = block
	} else {
		// Negative block means no BLOCK argument: return immediately.
		args.Block = -1
	}
	streams, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, s := range streams {
		entries = append(entries, toEntries(s.Messages)...)
	}
	return entries, nil
}

// processBatch runs the handler over each entry and acknowledges per the
// outcome. With Concurrency > 1 the batch is fanned out over a bounded worker
// pool. Returns how many entries were settled (acked or dead-lettered).
func (c *Consumer) processBatch(ctx context.Context, entries []Entry) int {
	if c.cfg.Concurrency <= 1 || len(entries) <= 1 {
		settled := 0
		for _, entry := range entries {
			if c.processOne(ctx, entry) {
				settled++
			}
		}
		return settled
	}

	jobs := make(chan Entry, len(entries))
	var settled atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				if c.processOne(ctx, entry) {
					settled.Add(1)
				}
			}
		}()
	}
	for _, entry := range entries {
		jobs <- entry
	}
	close(jobs)
	wg.Wait()
	return int(settled.Load())
}

// processOne handles one entry. Success acknowledges; ErrDrop acknowledges
// and drops; other failures dead-letter then acknowledge. A failed
// dead-letter write leaves the entry pending so it retries next cycle.
func (c *Consumer) processOne(ctx context.Context, entry Entry) bool {
	err := c.handler(ctx, entry)
	if err == nil {
		if c.onProcessed != nil {
			c.onProcessed(time.Now())
		}
		c.ack(ctx, entry.ID)
		return true
	}
	if errors.Is(err, ErrDrop) {
		c.logger.Warn("dropping unparseable entry", "entry_id", entry.ID, "error", err)
		c.ack(ctx, entry.ID)
		return true
	}
	if dlqErr := c.deadLetter(ctx, entry, err); dlqErr != nil {
		c.logger.Error("dead-letter write failed, leaving entry pending",
			"entry_id", entry.ID, "error", dlqErr)
		return false
	}
	c.logger.Warn("entry dead-lettered", "entry_id", entry.ID, "error", err)
	c.ack(ctx, entry.ID)
	return true
}

func (c *Consumer) deadLetter(ctx context.Context, entry Entry, cause error) error {
	if c.cfg.DeadLetter == "" {
		return nil
	}
	payload, err := json.Marshal(entry.Values)
	if err != nil {
		payload = []byte("{}")
	}
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DeadLetter,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"stream":    c.cfg.Stream,
			"entry_id":  entry.ID,
			"consumer":  c.cfg.Consumer,
			"error":     cause.Error(),
			"payload":   string(payload),
			"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.logger.Error("failed to ack entry", "entry_id", id, "error", err)
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	timer := time.NewTimer(c.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func toEntries(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, Entry{ID: msg.ID, Values: flattenValues(msg.Values)})
	}
	return entries
}
