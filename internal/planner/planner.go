package planner

import (
	"context"
	"log/slog"
	"time"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/budget"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/lifecycle"
)

// TrackedEvent is one event the planner considers for polling.
type TrackedEvent struct {
	EventID string
	State   lifecycle.State
}

// Request is one planned vendor poll: a batch of event IDs sharing a
// lifecycle class. The class picks bookmaker overrides downstream.
type Request struct {
	EventIDs []string
	Class    lifecycle.Class
}

// Planner batches eligible events into vendor poll requests under the budget.
type Planner struct {
	budget      *budget.Budget
	schedule    *Schedule
	maxPerBatch int
	logger      *slog.Logger
}

// New creates a Planner. schedule may be nil, in which case every event is
// eligible every cycle.
func New(b *budget.Budget, schedule *Schedule, maxEventIDsPerRequest int, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEventIDsPerRequest <= 0 {
		maxEventIDsPerRequest = 1
	}
	return &Planner{
		budget:      b,
		schedule:    schedule,
		maxPerBatch: maxEventIDsPerRequest,
		logger:      logger,
	}
}

// Plan classifies each tracked event, drops the ones whose next-eligible-poll
// time has not arrived, and batches the rest by lifecycle class. Each batch
// costs one budget token regardless of size; planning stops when the budget
// runs out, returning the batches already formed. Live events batch first so
// they win the budget under contention.
func (p *Planner) Plan(ctx context.Context, events []TrackedEvent, now time.Time) []Request {
	byClass := make(map[lifecycle.Class][]string)
	for _, evt := range events {
		class := lifecycle.Classify(evt.State, now)
		if !p.eligible(ctx, evt.EventID, now) {
			continue
		}
		byClass[class] = append(byClass[class], evt.EventID)
	}

	order := []lifecycle.Class{lifecycle.Live, lifecycle.StartingSoon, lifecycle.Upcoming, lifecycle.Finalized}

	var requests []Request
	for _, class := range order {
		ids := byClass[class]
		for len(ids) > 0 {
			if !p.budget.AllowAt(now) {
				p.logger.Warn("poll budget exhausted, deferring remaining events",
					"class", class.String(), "deferred", len(ids))
				return requests
			}
			n := p.maxPerBatch
			if n > len(ids) {
				n = len(ids)
			}
			requests = append(requests, Request{EventIDs: ids[:n], Class: class})
			ids = ids[n:]
		}
	}
	return requests
}

func (p *Planner) eligible(ctx context.Context, eventID string, now time.Time) bool {
	if p.schedule == nil {
		return true
	}
	next, ok, err := p.schedule.NextPollAt(ctx, eventID)
	if err != nil {
		// Schedule read failures never block polling.
		p.logger.Warn("failed to read poll schedule", "event_id", eventID, "error", err)
		return true
	}
	return !ok || !next.After(now)
}
