package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/database"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/events"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/stream"
)

// ReconcileStore is the persistence the reconciliation pass reads.
type ReconcileStore interface {
	RecentFirings(ctx context.Context, since time.Time) ([]database.Firing, error)
	GetRule(ctx context.Context, ruleID string) (*database.AlertRule, error)
	EnabledChannels(ctx context.Context, ruleID string) ([]database.Channel, error)
	DeliveredChannels(ctx context.Context, firingID string) ([]string, error)
}

// Locker is the dedupe-lock surface. *redis.Client satisfies it.
type Locker interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// JobPublisher appends re-enqueued jobs to the job stream.
type JobPublisher interface {
	Publish(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// Reconciler periodically scans recent firings and re-enqueues jobs for
// channels that never produced a sent delivery. A short-lived per-firing
// dedupe lock keeps concurrent reconciliation runs from double-enqueueing.
type Reconciler struct {
	store     ReconcileStore
	locker    Locker
	publisher JobPublisher
	logger    *slog.Logger

	// Lookback bounds how far back firings are scanned; LockTTL bounds the
	// dedupe window; Interval paces Run.
	Lookback time.Duration
	LockTTL  time.Duration
	Interval time.Duration

	now func() time.Time
}

// NewReconciler creates a Reconciler with default pacing.
func NewReconciler(store ReconcileStore, locker Locker, publisher JobPublisher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:     store,
		locker:    locker,
		publisher: publisher,
		logger:    logger,
		Lookback:  time.Hour,
		LockTTL:   5 * time.Minute,
		Interval:  time.Minute,
		now:       time.Now,
	}
}

// Run performs reconciliation passes on the configured interval until the
// context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if enqueued, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reconciliation pass failed", "error", err)
			} else if enqueued > 0 {
				r.logger.Info("reconciliation re-enqueued jobs", "count", enqueued)
			}
		}
	}
}

// RunOnce scans recent firings and re-enqueues one job per firing carrying
// every channel still missing a sent delivery. Returns how many jobs were
// enqueued.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	firings, err := r.store.RecentFirings(ctx, r.now().Add(-r.Lookback))
	if err != nil {
		return 0, fmt.Errorf("load recent firings: %w", err)
	}

	enqueued := 0
	for i := range firings {
		ok, err := r.reconcileFiring(ctx, &firings[i])
		if err != nil {
			return enqueued, err
		}
		if ok {
			enqueued++
		}
	}
	return enqueued, nil
}

func (r *Reconciler) reconcileFiring(ctx context.Context, firing *database.Firing) (bool, error) {
	enabled, err := r.store.EnabledChannels(ctx, firing.AlertID)
	if err != nil {
		return false, fmt.Errorf("load channels for alert %s: %w", firing.AlertID, err)
	}
	if len(enabled) == 0 {
		return false, nil
	}

	delivered, err := r.store.DeliveredChannels(ctx, firing.ID)
	if err != nil {
		return false, fmt.Errorf("load deliveries for firing %s: %w", firing.ID, err)
	}
	deliveredSet := make(map[string]bool, len(delivered))
	for _, ch := range delivered {
		deliveredSet[ch] = true
	}

	var missing []string
	for _, ch := range enabled {
		if !deliveredSet[ch.Channel] {
			missing = append(missing, ch.Channel)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}
	sort.Strings(missing)

	lockKey := fmt.Sprintf("reconcile:%s:%s", firing.ID, strings.Join(missing, ","))
	acquired, err := r.locker.SetNX(ctx, lockKey, "1", r.LockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire reconcile lock %s: %w", lockKey, err)
	}
	if !acquired {
		// A concurrent run already re-enqueued this channel set.
		return false, nil
	}

	rule, err := r.store.GetRule(ctx, firing.AlertID)
	if err != nil {
		return false, fmt.Errorf("load rule %s: %w", firing.AlertID, err)
	}
	if rule == nil {
		r.logger.Warn("firing references missing rule, skipping",
			"firing_id", firing.ID, "rule_id", firing.AlertID)
		return false, nil
	}

	job := jobFromFiring(firing, rule, missing)
	if _, err := r.publisher.Publish(ctx, stream.NotifyJobs, job.StreamValues()); err != nil {
		return false, fmt.Errorf("re-enqueue job for firing %s: %w", firing.ID, err)
	}

	r.logger.Info("re-enqueued missing deliveries",
		"firing_id", firing.ID,
		"channels", strings.Join(missing, ","))
	return true, nil
}

// jobFromFiring rebuilds a notification job from the firing record. One job
// carries every missing channel.
func jobFromFiring(firing *database.Firing, rule *database.AlertRule, channels []string) *events.NotificationJob {
	marketType, teamSide := splitOddID(firing.OddID)
	return &events.NotificationJob{
		FiringID:     firing.ID,
		AlertID:      rule.ID,
		UserID:       rule.UserID,
		Channels:     channels,
		EventID:      firing.EventID,
		OddID:        firing.OddID,
		BookmakerID:  firing.BookmakerID,
		CurrentValue: firing.TriggeredValue,
		ValueMetric:  firing.TriggeredMetric,
		RuleType:     rule.Comparator,
		MarketType:   marketType,
		TeamSide:     teamSide,
		Threshold:    rule.TargetValue,
		ObservedAt:   firing.ObservedAt,
	}
}

func splitOddID(oddID string) (marketType, teamSide string) {
	parts := strings.SplitN(oddID, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return oddID, ""
}
