package ingester

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/budget"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/eventcache"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/events"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/oddsapi"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/planner"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/stream"
)

type fakeVendor struct {
	requests []oddsapi.GetEventsRequest
	respond  func(req oddsapi.GetEventsRequest) ([]oddsapi.Event, error)
}

func (f *fakeVendor) GetEvents(ctx context.Context, req oddsapi.GetEventsRequest) ([]oddsapi.Event, error) {
	f.requests = append(f.requests, req)
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(req)
}

type publishedEntry struct {
	stream string
	values map[string]string
}

type fakePublisher struct {
	published []publishedEntry
}

func (f *fakePublisher) Publish(ctx context.Context, streamName string, values map[string]interface{}) (string, error) {
	flat := make(map[string]string, len(values))
	for k, v := range values {
		flat[k] = fmt.Sprint(v)
	}
	f.published = append(f.published, publishedEntry{stream: streamName, values: flat})
	return fmt.Sprintf("%d-0", len(f.published)), nil
}

func (f *fakePublisher) onStream(name string) []publishedEntry {
	var out []publishedEntry
	for _, e := range f.published {
		if e.stream == name {
			out = append(out, e)
		}
	}
	return out
}

type workerFixture struct {
	worker    *Worker
	vendor    *fakeVendor
	publisher *fakePublisher
	cache     *eventcache.Cache
	schedule  *planner.Schedule
	now       time.Time
}

func newWorkerFixture(t *testing.T, opts Options) *workerFixture {
	t.Helper()
	store := newCacheStore()
	cache := eventcache.New(store)
	schedule := planner.NewSchedule(store)
	b := budget.New(100, 0)
	vendor := &fakeVendor{}
	publisher := &fakePublisher{}

	if len(opts.Leagues) == 0 {
		opts.Leagues = []string{"NBA"}
	}
	p := planner.New(b, schedule, 10, nil)
	w := New(vendor, p, schedule, cache, b, publisher, opts)
	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	return &workerFixture{
		worker:    w,
		vendor:    vendor,
		publisher: publisher,
		cache:     cache,
		schedule:  schedule,
		now:       now,
	}
}

func liveEvent(id string) oddsapi.Event {
	return oddsapi.Event{
		EventID:  id,
		SportID:  "BASKETBALL",
		LeagueID: "NBA",
		Teams: oddsapi.Teams{
			Home: oddsapi.Team{TeamID: "LAL", Name: "Los Angeles Lakers"},
			Away: oddsapi.Team{TeamID: "BOS", Name: "Boston Celtics"},
		},
		Status: oddsapi.Status{
			StartsAt:      "2026-03-14T18:30:00Z",
			Started:       true,
			OddsAvailable: true,
			Period:        "2Q",
			Clock:         "7:42",
			UpdatedAt:     "2026-03-14T18:59:30Z",
		},
		Odds: map[string]oddsapi.MarketOdds{
			"points-home-game-ml-home": {
				OddID:   "points-home-game-ml-home",
				BetType: "ml",
				Side:    "home",
				ByBookmaker: map[string]oddsapi.Quote{
					"draftkings": {Odds: "+150", Available: true, LastUpdatedAt: "2026-03-14T18:59:00Z"},
					"fanduel":    {Odds: "junk", Available: true},
				},
			},
		},
	}
}

func TestRunCycleIngestsDiscoveredEvents(t *testing.T) {
	fx := newWorkerFixture(t, Options{})
	fx.vendor.respond = func(req oddsapi.GetEventsRequest) ([]oddsapi.Event, error) {
		if req.LeagueID != "NBA" {
			t.Errorf("expected league discovery request, got %+v", req)
		}
		return []oddsapi.Event{liveEvent("evt_1")}, nil
	}

	if err := fx.worker.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	statusTicks := fx.publisher.onStream(stream.StatusTicks)
	if len(statusTicks) != 1 {
		t.Fatalf("expected 1 status tick, got %d", len(statusTicks))
	}
	st, err := events.ParseEventStatusTick(statusTicks[0].values)
	if err != nil {
		t.Fatalf("failed to parse status tick: %v", err)
	}
	if st.EventID != "evt_1" || !st.Live {
		t.Errorf("unexpected status tick: %+v", st)
	}

	// One odds tick: the fanduel quote has no parseable price.
	oddsTicks := fx.publisher.onStream(stream.OddsTicks)
	if len(oddsTicks) != 1 {
		t.Fatalf("expected 1 odds tick, got %d", len(oddsTicks))
	}
	tick, err := events.ParseOddsTick(oddsTicks[0].values)
	if err != nil {
		t.Fatalf("failed to parse odds tick: %v", err)
	}
	if tick.BookmakerID != "draftkings" || tick.Price != 150 {
		t.Errorf("unexpected odds tick: %+v", tick)
	}

	status, err := fx.cache.GetStatus(context.Background(), "evt_1")
	if err != nil || status == nil {
		t.Fatalf("expected cached status, got %v err %v", status, err)
	}
	if live, known := status.IsLive(); !known || !live {
		t.Errorf("expected cached live=true, got %+v", status)
	}
	if status.Period != "2Q" {
		t.Errorf("expected period carried into cache, got %q", status.Period)
	}

	meta, err := fx.cache.GetMeta(context.Background(), "evt_1")
	if err != nil || meta == nil {
		t.Fatalf("expected cached meta, got %v err %v", meta, err)
	}
	if meta.HomeTeamID != "LAL" || meta.LeagueID != "NBA" {
		t.Errorf("unexpected meta: %+v", meta)
	}

	next, ok, err := fx.schedule.NextPollAt(context.Background(), "evt_1")
	if err != nil || !ok {
		t.Fatalf("expected poll schedule entry, ok=%v err=%v", ok, err)
	}
	if !next.After(fx.now) {
		t.Errorf("expected next poll after now, got %s", next)
	}

	cands, err := fx.cache.LoadEventIDsFromIndexes(context.Background(), []string{"NBA"}, nil, eventcache.IndexLive, 10)
	if err != nil {
		t.Fatalf("failed to read live index: %v", err)
	}
	if len(cands) != 1 || cands[0].EventID != "evt_1" {
		t.Errorf("expected evt_1 in live index, got %+v", cands)
	}
}

func TestRunCyclePollsTrackedEventsWithLiveBookmakers(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t, Options{
		LiveBookmakers: []string{"draftkings", "fanduel"},
		ColdBookmakers: []string{"draftkings"},
	})
	fx.worker.lastDiscovery = fx.now

	seedLiveEvent(t, fx, "evt_1")

	fx.vendor.respond = func(req oddsapi.GetEventsRequest) ([]oddsapi.Event, error) {
		return []oddsapi.Event{liveEvent("evt_1")}, nil
	}

	if err := fx.worker.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if len(fx.vendor.requests) != 1 {
		t.Fatalf("expected 1 vendor request, got %d", len(fx.vendor.requests))
	}
	req := fx.vendor.requests[0]
	if len(req.EventIDs) != 1 || req.EventIDs[0] != "evt_1" {
		t.Errorf("expected batch poll for evt_1, got %+v", req)
	}
	if len(req.Bookmakers) != 2 {
		t.Errorf("expected live bookmaker override, got %v", req.Bookmakers)
	}
	if len(fx.publisher.onStream(stream.OddsTicks)) != 1 {
		t.Errorf("expected odds tick from poll")
	}
}

func TestRunCyclePrunesCandidatesWithExpiredCache(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t, Options{})
	fx.worker.lastDiscovery = fx.now

	// In the index, but no status key: the cache entry expired.
	if err := fx.cache.MarkLive(ctx, "evt_gone", "NBA", []string{"LAL"}); err != nil {
		t.Fatalf("failed to seed index: %v", err)
	}

	if err := fx.worker.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if len(fx.vendor.requests) != 0 {
		t.Errorf("expected no vendor requests for stale candidate, got %d", len(fx.vendor.requests))
	}
	cands, err := fx.cache.LoadEventIDsFromIndexes(ctx, []string{"NBA"}, nil, eventcache.IndexLive, 10)
	if err != nil {
		t.Fatalf("failed to read live index: %v", err)
	}
	if len(cands) != 0 {
		t.Errorf("expected stale candidate pruned from index, got %+v", cands)
	}
}

func TestVendorFailureFlagsCachedStatusStale(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t, Options{})
	fx.worker.lastDiscovery = fx.now

	seedLiveEvent(t, fx, "evt_1")

	fx.vendor.respond = func(req oddsapi.GetEventsRequest) ([]oddsapi.Event, error) {
		return nil, errors.New("vendor unavailable")
	}

	if err := fx.worker.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	status, err := fx.cache.GetStatus(ctx, "evt_1")
	if err != nil || status == nil {
		t.Fatalf("expected cached status, got %v err %v", status, err)
	}
	if status.Stale == nil || !*status.Stale {
		t.Error("expected status flagged stale after vendor failure")
	}
	if status.Started == nil || !*status.Started {
		t.Error("expected existing status fields preserved")
	}
	if len(fx.publisher.published) != 0 {
		t.Errorf("expected no ticks published, got %d", len(fx.publisher.published))
	}
}

func TestFinalizedEventLeavesIndexes(t *testing.T) {
	ctx := context.Background()
	fx := newWorkerFixture(t, Options{})
	fx.worker.lastDiscovery = fx.now

	seedLiveEvent(t, fx, "evt_1")

	final := liveEvent("evt_1")
	final.Status.Ended = true
	final.Status.Finalized = true
	final.Odds = nil
	fx.vendor.respond = func(req oddsapi.GetEventsRequest) ([]oddsapi.Event, error) {
		return []oddsapi.Event{final}, nil
	}

	if err := fx.worker.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	statusTicks := fx.publisher.onStream(stream.StatusTicks)
	if len(statusTicks) != 1 {
		t.Fatalf("expected 1 status tick, got %d", len(statusTicks))
	}
	st, err := events.ParseEventStatusTick(statusTicks[0].values)
	if err != nil {
		t.Fatalf("failed to parse status tick: %v", err)
	}
	if !st.Finalized || st.Live {
		t.Errorf("expected finalized non-live tick, got %+v", st)
	}

	for _, status := range []string{eventcache.IndexLive, eventcache.IndexUpcoming} {
		cands, err := fx.cache.LoadEventIDsFromIndexes(ctx, []string{"NBA"}, []string{"LAL", "BOS"}, status, 10)
		if err != nil {
			t.Fatalf("failed to read %s index: %v", status, err)
		}
		if len(cands) != 0 {
			t.Errorf("expected %s index empty after finalize, got %+v", status, cands)
		}
	}
}

func TestDiscoveryStopsWhenBudgetExhausted(t *testing.T) {
	store := newCacheStore()
	cache := eventcache.New(store)
	schedule := planner.NewSchedule(store)
	b := budget.New(1, 0)
	vendor := &fakeVendor{}
	publisher := &fakePublisher{}

	p := planner.New(b, schedule, 10, nil)
	w := New(vendor, p, schedule, cache, b, publisher, Options{Leagues: []string{"NBA", "NHL"}})
	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if err := w.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if len(vendor.requests) != 1 {
		t.Fatalf("expected discovery to stop after 1 request, got %d", len(vendor.requests))
	}
	if vendor.requests[0].LeagueID != "NBA" {
		t.Errorf("expected first league polled, got %q", vendor.requests[0].LeagueID)
	}
}

// seedLiveEvent puts an event into the live index with a live cached status so
// collectTracked picks it up.
func seedLiveEvent(t *testing.T, fx *workerFixture, eventID string) {
	t.Helper()
	ctx := context.Background()
	if err := fx.cache.MarkLive(ctx, eventID, "NBA", []string{"LAL", "BOS"}); err != nil {
		t.Fatalf("failed to seed live index: %v", err)
	}
	overlay := eventcache.Status{
		StartsAt: "2026-03-14T18:30:00Z",
		Started:  eventcache.BoolPtr(true),
		Live:     eventcache.BoolPtr(true),
	}
	if _, err := fx.cache.UpdateStatus(ctx, eventID, overlay, time.Hour); err != nil {
		t.Fatalf("failed to seed cached status: %v", err)
	}
}
