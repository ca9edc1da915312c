package ingester

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/eventcache"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/events"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/oddsapi"
)

// DedupeSink produces OddsTicks from raw vendor quotes, suppressing quotes
// that are unavailable, unparseable, or unchanged since the cached snapshot.
// It keeps the odds stream limited to actual movement.
type DedupeSink struct {
	cache  *eventcache.Cache
	logger *slog.Logger
}

// NewDedupeSink creates a sink deduplicating against the given cache.
func NewDedupeSink(cache *eventcache.Cache, logger *slog.Logger) *DedupeSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &DedupeSink{cache: cache, logger: logger}
}

// ProduceTick implements QuoteSink.
func (s *DedupeSink) ProduceTick(ctx context.Context, eventID string, market oddsapi.MarketOdds, bookmakerID string, quote oddsapi.Quote, observedAt time.Time) (*events.OddsTick, bool) {
	if !quote.Available {
		return nil, false
	}
	price, ok := oddsapi.ParseAmericanPrice(quote.Odds)
	if !ok {
		return nil, false
	}

	tick := &events.OddsTick{
		EventID:     eventID,
		OddID:       market.OddID,
		BookmakerID: bookmakerID,
		Price:       price,
		Available:   quote.Available,
		ObservedAt:  observedAt,
	}
	if raw := quote.LineValue(); raw != "" {
		if line, err := decimal.NewFromString(raw); err == nil {
			tick.Line = &line
		}
	}
	if updated, ok := quote.LastUpdatedTime(); ok {
		tick.VendorUpdatedAt = updated
	} else {
		tick.VendorUpdatedAt = observedAt
	}

	prev, err := s.cache.GetCoreQuote(ctx, eventID, market.OddID, bookmakerID)
	if err != nil {
		s.logger.Warn("Failed to read cached quote for dedupe",
			"event_id", eventID,
			"odd_id", market.OddID,
			"bookmaker_id", bookmakerID,
			"error", err,
		)
		return tick, true
	}
	if prev != nil && unchanged(prev, tick) {
		return nil, false
	}
	return tick, true
}

func unchanged(prev *eventcache.CoreQuote, tick *events.OddsTick) bool {
	if prev.Price != tick.Price || prev.Available != tick.Available {
		return false
	}
	if (prev.Line == nil) != (tick.Line == nil) {
		return false
	}
	if prev.Line != nil && !prev.Line.Equal(*tick.Line) {
		return false
	}
	return true
}
