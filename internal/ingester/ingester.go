// Package ingester runs the ingestion cycle: plan polls, fetch vendor
// batches, project events into the cache and indexes, and publish odds and
// status ticks.
package ingester

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/budget"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/eventcache"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/events"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/lifecycle"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/oddsapi"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/planner"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/stream"
)

const (
	DefaultCycleInterval     = 15 * time.Second
	DefaultDiscoveryInterval = 5 * time.Minute
	DefaultDiscoveryWindow   = 24 * time.Hour
	DefaultMaxTracked        = 500
)

// VendorClient is the slice of the vendor API the worker uses.
type VendorClient interface {
	GetEvents(ctx context.Context, req oddsapi.GetEventsRequest) ([]oddsapi.Event, error)
}

// TickPublisher appends tick payloads to a stream.
type TickPublisher interface {
	Publish(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// QuoteSink turns a raw vendor quote into an OddsTick. Returning false
// suppresses the quote (duplicate or unavailable), in which case no tick is
// published for it.
type QuoteSink interface {
	ProduceTick(ctx context.Context, eventID string, market oddsapi.MarketOdds, bookmakerID string, quote oddsapi.Quote, observedAt time.Time) (*events.OddsTick, bool)
}

// Counters is the optional operational counter hook.
type Counters interface {
	RecordReceived()
	RecordPublished()
	RecordError()
}

// Options configures a Worker. Zero values fall back to defaults.
type Options struct {
	// Leagues and Teams scope index-based candidate discovery.
	Leagues []string
	Teams   []string
	// LiveBookmakers and ColdBookmakers override the vendor's bookmaker set
	// per poll, picked by the batch's lifecycle class.
	LiveBookmakers []string
	ColdBookmakers []string

	CycleInterval     time.Duration
	DiscoveryInterval time.Duration
	// DiscoveryWindow bounds how far ahead league discovery looks for
	// upcoming events.
	DiscoveryWindow time.Duration
	MaxTracked      int

	Sink     QuoteSink
	Counters Counters
	Logger   *slog.Logger
}

// Worker is the ingestion worker. Single control loop; all shared state lives
// in the cache and streams.
type Worker struct {
	vendor    VendorClient
	planner   *planner.Planner
	schedule  *planner.Schedule
	cache     *eventcache.Cache
	budget    *budget.Budget
	publisher TickPublisher
	opts      Options
	logger    *slog.Logger

	lastDiscovery time.Time
	now           func() time.Time
}

// New creates an ingestion Worker.
func New(vendor VendorClient, p *planner.Planner, schedule *planner.Schedule, cache *eventcache.Cache, b *budget.Budget, publisher TickPublisher, opts Options) *Worker {
	if opts.CycleInterval <= 0 {
		opts.CycleInterval = DefaultCycleInterval
	}
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if opts.DiscoveryWindow <= 0 {
		opts.DiscoveryWindow = DefaultDiscoveryWindow
	}
	if opts.MaxTracked <= 0 {
		opts.MaxTracked = DefaultMaxTracked
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		vendor:    vendor,
		planner:   p,
		schedule:  schedule,
		cache:     cache,
		budget:    b,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes ingestion cycles until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.CycleInterval)
	defer ticker.Stop()

	w.logger.Info("Starting ingestion worker",
		"cycle_interval", w.opts.CycleInterval,
		"leagues", w.opts.Leagues,
	)

	for {
		if err := w.RunCycle(ctx); err != nil {
			w.logger.Error("Ingestion cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("Ingestion worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one ingestion cycle: discover candidates, plan polls
// under the budget, fetch each batch and project the results.
func (w *Worker) RunCycle(ctx context.Context) error {
	now := w.now()

	tracked, err := w.collectTracked(ctx, now)
	if err != nil {
		return err
	}

	if now.Sub(w.lastDiscovery) >= w.opts.DiscoveryInterval {
		w.discover(ctx, now)
		w.lastDiscovery = now
	}

	requests := w.planner.Plan(ctx, tracked, now)
	for _, req := range requests {
		w.pollBatch(ctx, req, now)
	}
	return nil
}

// collectTracked loads candidates from the live and upcoming indexes and
// resolves each one's lifecycle state from the cached status. Candidates
// whose cache entry has expired are pruned from the indexes they came from.
func (w *Worker) collectTracked(ctx context.Context, now time.Time) ([]planner.TrackedEvent, error) {
	candidates, err := w.cache.LoadEventIDsFromIndexes(ctx, w.opts.Leagues, w.opts.Teams, "", w.opts.MaxTracked)
	if err != nil {
		return nil, err
	}

	tracked := make([]planner.TrackedEvent, 0, len(candidates))
	for _, cand := range candidates {
		status, err := w.cache.GetStatus(ctx, cand.EventID)
		if err != nil {
			w.logger.Warn("Failed to read cached status", "event_id", cand.EventID, "error", err)
			continue
		}
		if status == nil {
			// Cache entry expired underneath the index.
			if err := w.cache.PruneStaleEventFromIndexes(ctx, cand); err != nil {
				w.logger.Warn("Failed to prune stale index entry", "event_id", cand.EventID, "error", err)
			}
			continue
		}
		tracked = append(tracked, planner.TrackedEvent{
			EventID: cand.EventID,
			State:   status.LifecycleState(),
		})
	}
	return tracked, nil
}

// discover fetches each configured league's feed to pick up events the
// indexes do not know about yet. Each league fetch spends one budget token;
// discovered events are ingested directly from the discovery payload.
func (w *Worker) discover(ctx context.Context, now time.Time) {
	for _, leagueID := range w.opts.Leagues {
		if !w.budget.AllowAt(now) {
			w.logger.Warn("Rate budget exhausted, deferring discovery", "league_id", leagueID)
			return
		}
		evs, err := w.vendor.GetEvents(ctx, oddsapi.GetEventsRequest{
			LeagueID:     leagueID,
			StartsBefore: now.Add(w.opts.DiscoveryWindow),
			Bookmakers:   w.opts.ColdBookmakers,
			Limit:        w.opts.MaxTracked,
		})
		if err != nil {
			w.recordError()
			w.logger.Warn("League discovery failed", "league_id", leagueID, "error", err)
			continue
		}
		w.logger.Debug("Discovered events", "league_id", leagueID, "count", len(evs))
		for i := range evs {
			if err := w.ingestEvent(ctx, &evs[i], now); err != nil {
				w.recordError()
				w.logger.Warn("Failed to ingest discovered event", "event_id", evs[i].EventID, "error", err)
			}
		}
	}
}

// pollBatch fetches one planned batch and projects every returned event. A
// failed fetch degrades freshness only: the cached entries are flagged stale
// and the cycle moves on.
func (w *Worker) pollBatch(ctx context.Context, req planner.Request, now time.Time) {
	evs, err := w.vendor.GetEvents(ctx, oddsapi.GetEventsRequest{
		EventIDs:   req.EventIDs,
		Bookmakers: w.bookmakersFor(req.Class),
	})
	if err != nil {
		w.recordError()
		w.logger.Warn("Vendor batch fetch failed",
			"event_ids", req.EventIDs,
			"class", req.Class.String(),
			"error", err,
		)
		w.flagStale(ctx, req)
		return
	}

	for i := range evs {
		if err := w.ingestEvent(ctx, &evs[i], now); err != nil {
			w.recordError()
			w.logger.Warn("Failed to ingest event", "event_id", evs[i].EventID, "error", err)
		}
	}
}

// flagStale marks each event in a failed batch as stale without touching any
// other status field, and pushes the next poll out so the batch is retried on
// cadence rather than immediately.
func (w *Worker) flagStale(ctx context.Context, req planner.Request) {
	for _, eventID := range req.EventIDs {
		overlay := eventcache.Status{Stale: eventcache.BoolPtr(true)}
		if _, err := w.cache.UpdateStatus(ctx, eventID, overlay, req.Class.CacheTTL()); err != nil {
			w.logger.Warn("Failed to flag stale status", "event_id", eventID, "error", err)
		}
	}
}

// ingestEvent projects one vendor event: status tick, cache meta/status,
// poll schedule, per-bookmaker quotes and index placement.
func (w *Worker) ingestEvent(ctx context.Context, ev *oddsapi.Event, now time.Time) error {
	if w.opts.Counters != nil {
		w.opts.Counters.RecordReceived()
	}

	startsAt, _ := ev.Status.StartsAtTime()
	state := lifecycle.State{
		StartsAt:  startsAt,
		Started:   ev.Status.Started,
		Ended:     ev.Status.Ended,
		Finalized: ev.Status.Finalized,
		Cancelled: ev.Status.Cancelled,
	}
	class := lifecycle.Classify(state, now)
	ttl := class.CacheTTL()

	if err := w.publishStatusTick(ctx, ev, class, startsAt, now); err != nil {
		return err
	}
	if err := w.updateCache(ctx, ev, class, ttl); err != nil {
		return err
	}
	if w.schedule != nil {
		if err := w.schedule.SetNextPoll(ctx, ev.EventID, now.Add(class.PollInterval())); err != nil {
			w.logger.Warn("Failed to write poll schedule", "event_id", ev.EventID, "error", err)
		}
	}

	w.ingestQuotes(ctx, ev, ttl, now)
	w.updateIndexes(ctx, ev, class, startsAt, now)
	return nil
}

func (w *Worker) publishStatusTick(ctx context.Context, ev *oddsapi.Event, class lifecycle.Class, startsAt, now time.Time) error {
	vendorUpdated, ok := ev.Status.UpdatedAtTime()
	if !ok {
		vendorUpdated = now
	}
	tick := &events.EventStatusTick{
		EventID:         ev.EventID,
		StartsAt:        startsAt,
		Started:         ev.Status.Started,
		Ended:           ev.Status.Ended,
		Finalized:       ev.Status.Finalized,
		Cancelled:       ev.Status.Cancelled,
		Live:            class.IsLive(),
		VendorUpdatedAt: vendorUpdated,
		ObservedAt:      now,
	}
	if _, err := w.publisher.Publish(ctx, stream.StatusTicks, tick.StreamValues()); err != nil {
		return err
	}
	w.recordPublished()
	return nil
}

func (w *Worker) updateCache(ctx context.Context, ev *oddsapi.Event, class lifecycle.Class, ttl time.Duration) error {
	meta := &eventcache.Meta{
		EventID:    ev.EventID,
		SportID:    ev.SportID,
		LeagueID:   ev.LeagueID,
		HomeTeamID: ev.Teams.Home.TeamID,
		AwayTeamID: ev.Teams.Away.TeamID,
		HomeName:   ev.Teams.Home.Name,
		AwayName:   ev.Teams.Away.Name,
	}
	if len(ev.Results) > 0 {
		raw, err := json.Marshal(ev.Results)
		if err == nil {
			meta.Results = raw
		}
	}
	if err := w.cache.SetMeta(ctx, meta, ttl); err != nil {
		return err
	}

	overlay := eventcache.Status{
		StartsAt:     ev.Status.StartsAt,
		Started:      eventcache.BoolPtr(ev.Status.Started),
		Ended:        eventcache.BoolPtr(ev.Status.Ended),
		Finalized:    eventcache.BoolPtr(ev.Status.Finalized),
		Cancelled:    eventcache.BoolPtr(ev.Status.Cancelled),
		Live:         eventcache.BoolPtr(class.IsLive()),
		Stale:        eventcache.BoolPtr(false),
		DisplayShort: ev.Status.DisplayShort,
		Period:       ev.Status.Period,
		Clock:        ev.Status.Clock,
		UpdatedAt:    ev.Status.UpdatedAt,
	}
	if _, err := w.cache.UpdateStatus(ctx, ev.EventID, overlay, ttl); err != nil {
		return err
	}
	return nil
}

// ingestQuotes writes each bookmaker quote into the core-odds snapshot and
// publishes an OddsTick per quote. With a sink configured the sink decides
// the tick (and may suppress it); otherwise the raw quote is parsed directly
// and published only when a numeric price was extracted.
func (w *Worker) ingestQuotes(ctx context.Context, ev *oddsapi.Event, ttl time.Duration, now time.Time) {
	for _, market := range ev.Odds {
		for bookmakerID, quote := range market.ByBookmaker {
			tick := w.tickFor(ctx, ev.EventID, market, bookmakerID, quote, now)
			if tick == nil {
				continue
			}

			core := eventcache.CoreQuote{
				Price:     tick.Price,
				Line:      tick.Line,
				Available: tick.Available,
				UpdatedAt: tick.VendorUpdatedAt,
			}
			if err := w.cache.UpdateCoreQuote(ctx, ev.EventID, market.OddID, bookmakerID, core, ttl); err != nil {
				w.recordError()
				w.logger.Warn("Failed to update core quote",
					"event_id", ev.EventID,
					"odd_id", market.OddID,
					"bookmaker_id", bookmakerID,
					"error", err,
				)
				continue
			}

			if _, err := w.publisher.Publish(ctx, stream.OddsTicks, tick.StreamValues()); err != nil {
				w.recordError()
				w.logger.Warn("Failed to publish odds tick",
					"event_id", ev.EventID,
					"odd_id", market.OddID,
					"bookmaker_id", bookmakerID,
					"error", err,
				)
				continue
			}
			w.recordPublished()
		}
	}
}

// tickFor builds the OddsTick for one quote, or nil when the quote should be
// skipped.
func (w *Worker) tickFor(ctx context.Context, eventID string, market oddsapi.MarketOdds, bookmakerID string, quote oddsapi.Quote, now time.Time) *events.OddsTick {
	if w.opts.Sink != nil {
		tick, ok := w.opts.Sink.ProduceTick(ctx, eventID, market, bookmakerID, quote, now)
		if !ok {
			return nil
		}
		return tick
	}

	price, ok := oddsapi.ParseAmericanPrice(quote.Odds)
	if !ok {
		return nil
	}
	tick := &events.OddsTick{
		EventID:     eventID,
		OddID:       market.OddID,
		BookmakerID: bookmakerID,
		Price:       price,
		Available:   quote.Available,
		ObservedAt:  now,
	}
	if raw := quote.LineValue(); raw != "" {
		if line, err := decimal.NewFromString(raw); err == nil {
			tick.Line = &line
		}
	}
	if updated, ok := quote.LastUpdatedTime(); ok {
		tick.VendorUpdatedAt = updated
	} else {
		tick.VendorUpdatedAt = now
	}
	return tick
}

// updateIndexes places the event in the live or upcoming indexes per its
// lifecycle class. Finalized events leave both.
func (w *Worker) updateIndexes(ctx context.Context, ev *oddsapi.Event, class lifecycle.Class, startsAt, now time.Time) {
	teamIDs := teamIDsOf(ev)

	var err error
	switch {
	case class.IsLive():
		err = w.cache.MarkLive(ctx, ev.EventID, ev.LeagueID, teamIDs)
	case class == lifecycle.Finalized:
		err = w.cache.RemoveFromIndexes(ctx, ev.EventID, ev.LeagueID, teamIDs)
	default:
		score := startsAt
		if score.IsZero() {
			score = now
		}
		err = w.cache.MarkUpcoming(ctx, ev.EventID, ev.LeagueID, teamIDs, score)
	}
	if err != nil {
		w.recordError()
		w.logger.Warn("Failed to update indexes",
			"event_id", ev.EventID,
			"class", class.String(),
			"error", err,
		)
	}
}

func teamIDsOf(ev *oddsapi.Event) []string {
	ids := make([]string, 0, 2)
	if ev.Teams.Home.TeamID != "" {
		ids = append(ids, ev.Teams.Home.TeamID)
	}
	if ev.Teams.Away.TeamID != "" {
		ids = append(ids, ev.Teams.Away.TeamID)
	}
	return ids
}

// bookmakersFor picks the bookmaker-set override for a batch.
func (w *Worker) bookmakersFor(class lifecycle.Class) []string {
	if class.IsLive() && len(w.opts.LiveBookmakers) > 0 {
		return w.opts.LiveBookmakers
	}
	return w.opts.ColdBookmakers
}

func (w *Worker) recordPublished() {
	if w.opts.Counters != nil {
		w.opts.Counters.RecordPublished()
	}
}

func (w *Worker) recordError() {
	if w.opts.Counters != nil {
		w.opts.Counters.RecordError()
	}
}
