package eventcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Index TTLs are refreshed on every cycle that touches a league or team, so
// indexes for active sports never expire while dormant ones age out.
const indexTTL = 48 * time.Hour

// overFetchFactor is how far each index read overshoots the requested limit
// to tolerate candidates being filtered out later.
const overFetchFactor = 3

// Index status filters for LoadEventIDsFromIndexes.
const (
	IndexLive     = "live"
	IndexUpcoming = "upcoming"
	IndexAny      = ""
)

func liveLeagueKey(id string) string { return "idx:live:league:" + id }
func liveTeamKey(id string) string   { return "idx:live:team:" + id }
func upLeagueKey(id string) string   { return "idx:up:league:" + id }
func upTeamKey(id string) string     { return "idx:up:team:" + id }

// MarkLive places the event in the live sets for its league and teams and
// removes it from the corresponding upcoming sets, keeping the invariant that
// an event sits in at most one of the two per scope.
func (c *Cache) MarkLive(ctx context.Context, eventID, leagueID string, teamIDs []string) error {
	for _, pair := range indexKeyPairs(leagueID, teamIDs) {
		if err := c.store.SAdd(ctx, pair.live, eventID).Err(); err != nil {
			return fmt.Errorf("add %s to %s: %w", eventID, pair.live, err)
		}
		if err := c.store.ZRem(ctx, pair.upcoming, eventID).Err(); err != nil {
			return fmt.Errorf("remove %s from %s: %w", eventID, pair.upcoming, err)
		}
		c.refreshIndexTTL(ctx, pair)
	}
	return nil
}

// MarkUpcoming places the event in the upcoming sorted sets scored by start
// time and removes it from the live sets.
func (c *Cache) MarkUpcoming(ctx context.Context, eventID, leagueID string, teamIDs []string, startsAt time.Time) error {
	score := float64(startsAt.UnixMilli())
	for _, pair := range indexKeyPairs(leagueID, teamIDs) {
		if err := c.store.ZAdd(ctx, pair.upcoming, redis.Z{Score: score, Member: eventID}).Err(); err != nil {
			return fmt.Errorf("add %s to %s: %w", eventID, pair.upcoming, err)
		}
		if err := c.store.SRem(ctx, pair.live, eventID).Err(); err != nil {
			return fmt.Errorf("remove %s from %s: %w", eventID, pair.live, err)
		}
		c.refreshIndexTTL(ctx, pair)
	}
	return nil
}

// RemoveFromIndexes drops the event from both index types for its league and
// teams, used when an event finalizes.
func (c *Cache) RemoveFromIndexes(ctx context.Context, eventID, leagueID string, teamIDs []string) error {
	for _, pair := range indexKeyPairs(leagueID, teamIDs) {
		if err := c.store.SRem(ctx, pair.live, eventID).Err(); err != nil {
			return fmt.Errorf("remove %s from %s: %w", eventID, pair.live, err)
		}
		if err := c.store.ZRem(ctx, pair.upcoming, eventID).Err(); err != nil {
			return fmt.Errorf("remove %s from %s: %w", eventID, pair.upcoming, err)
		}
	}
	return nil
}

type keyPair struct {
	live     string
	upcoming string
}

func indexKeyPairs(leagueID string, teamIDs []string) []keyPair {
	var pairs []keyPair
	if leagueID != "" {
		pairs = append(pairs, keyPair{live: liveLeagueKey(leagueID), upcoming: upLeagueKey(leagueID)})
	}
	for _, teamID := range teamIDs {
		if teamID != "" {
			pairs = append(pairs, keyPair{live: liveTeamKey(teamID), upcoming: upTeamKey(teamID)})
		}
	}
	return pairs
}

func (c *Cache) refreshIndexTTL(ctx context.Context, pair keyPair) {
	// Best effort; an expiry that fails to refresh repairs itself next cycle.
	c.store.Expire(ctx, pair.live, indexTTL)
	c.store.Expire(ctx, pair.upcoming, indexTTL)
}

// Candidate is one eventID surfaced by the indexes, annotated with exactly
// which scopes and index types produced it so a later prune can undo only
// those memberships.
type Candidate struct {
	EventID           string
	LeagueIDs         []string
	TeamIDs           []string
	FromLiveIndex     bool
	FromUpcomingIndex bool
}

// LoadEventIDsFromIndexes reads the live and upcoming indexes for the given
// leagues and teams and merges the members by eventID. Each index read
// over-fetches relative to limit so downstream filtering still leaves enough
// candidates; the merged result is truncated to limit when limit > 0.
func (c *Cache) LoadEventIDsFromIndexes(ctx context.Context, leagueIDs, teamIDs []string, status string, limit int) ([]Candidate, error) {
	seen := make(map[string]*Candidate)
	var order []string

	fetchCount := int64(0)
	if limit > 0 {
		fetchCount = int64(limit * overFetchFactor)
	}

	record := func(eventID, leagueID, teamID string, fromLive bool) {
		cand, ok := seen[eventID]
		if !ok {
			cand = &Candidate{EventID: eventID}
			seen[eventID] = cand
			order = append(order, eventID)
		}
		if leagueID != "" && !containsString(cand.LeagueIDs, leagueID) {
			cand.LeagueIDs = append(cand.LeagueIDs, leagueID)
		}
		if teamID != "" && !containsString(cand.TeamIDs, teamID) {
			cand.TeamIDs = append(cand.TeamIDs, teamID)
		}
		if fromLive {
			cand.FromLiveIndex = true
		} else {
			cand.FromUpcomingIndex = true
		}
	}

	readLive := status == IndexAny || status == IndexLive
	readUpcoming := status == IndexAny || status == IndexUpcoming

	for _, leagueID := range leagueIDs {
		if readLive {
			members, err := c.store.SMembers(ctx, liveLeagueKey(leagueID)).Result()
			if err != nil {
				return nil, fmt.Errorf("read live index for league %s: %w", leagueID, err)
			}
			for _, eventID := range capMembers(members, fetchCount) {
				record(eventID, leagueID, "", true)
			}
		}
		if readUpcoming {
			members, err := c.upcomingMembers(ctx, upLeagueKey(leagueID), fetchCount)
			if err != nil {
				return nil, fmt.Errorf("read upcoming index for league %s: %w", leagueID, err)
			}
			for _, eventID := range members {
				record(eventID, leagueID, "", false)
			}
		}
	}
	for _, teamID := range teamIDs {
		if readLive {
			members, err := c.store.SMembers(ctx, liveTeamKey(teamID)).Result()
			if err != nil {
				return nil, fmt.Errorf("read live index for team %s: %w", teamID, err)
			}
			for _, eventID := range capMembers(members, fetchCount) {
				record(eventID, "", teamID, true)
			}
		}
		if readUpcoming {
			members, err := c.upcomingMembers(ctx, upTeamKey(teamID), fetchCount)
			if err != nil {
				return nil, fmt.Errorf("read upcoming index for team %s: %w", teamID, err)
			}
			for _, eventID := range members {
				record(eventID, "", teamID, false)
			}
		}
	}

	candidates := make([]Candidate, 0, len(order))
	for _, eventID := range order {
		candidates = append(candidates, *seen[eventID])
		if limit > 0 && len(candidates) >= limit {
			break
		}
	}
	return candidates, nil
}

// PruneStaleEventFromIndexes removes the candidate's eventID only from the
// index types it was sourced from, and only in the league/team scopes
// recorded on the candidate. Unrelated indexes are never touched.
func (c *Cache) PruneStaleEventFromIndexes(ctx context.Context, cand Candidate) error {
	for _, leagueID := range cand.LeagueIDs {
		if cand.FromLiveIndex {
			if err := c.store.SRem(ctx, liveLeagueKey(leagueID), cand.EventID).Err(); err != nil {
				return fmt.Errorf("prune %s from live league %s: %w", cand.EventID, leagueID, err)
			}
		}
		if cand.FromUpcomingIndex {
			if err := c.store.ZRem(ctx, upLeagueKey(leagueID), cand.EventID).Err(); err != nil {
				return fmt.Errorf("prune %s from upcoming league %s: %w", cand.EventID, leagueID, err)
			}
		}
	}
	for _, teamID := range cand.TeamIDs {
		if cand.FromLiveIndex {
			if err := c.store.SRem(ctx, liveTeamKey(teamID), cand.EventID).Err(); err != nil {
				return fmt.Errorf("prune %s from live team %s: %w", cand.EventID, teamID, err)
			}
		}
		if cand.FromUpcomingIndex {
			if err := c.store.ZRem(ctx, upTeamKey(teamID), cand.EventID).Err(); err != nil {
				return fmt.Errorf("prune %s from upcoming team %s: %w", cand.EventID, teamID, err)
			}
		}
	}
	return nil
}

func (c *Cache) upcomingMembers(ctx context.Context, key string, count int64) ([]string, error) {
	opt := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if count > 0 {
		opt.Count = count
	}
	return c.store.ZRangeByScore(ctx, key, opt).Result()
}

func capMembers(members []string, count int64) []string {
	if count > 0 && int64(len(members)) > count {
		return members[:count]
	}
	return members
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
