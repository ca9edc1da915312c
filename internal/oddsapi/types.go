// Package oddsapi is the client for the upstream sports-odds vendor API.
package oddsapi

import (
	"strconv"
	"strings"
	"time"
)

// Event is one event as returned by the vendor feed.
type Event struct {
	EventID  string                `json:"eventID"`
	SportID  string                `json:"sportID"`
	LeagueID string                `json:"leagueID"`
	Teams    Teams                 `json:"teams"`
	Status   Status                `json:"status"`
	Results  map[string]RawScore   `json:"results,omitempty"`
	Odds     map[string]MarketOdds `json:"odds,omitempty"`
}

// Teams carries both sides of an event.
type Teams struct {
	Home Team `json:"home"`
	Away Team `json:"away"`
}

// Team identifies one side.
type Team struct {
	TeamID string `json:"teamID"`
	Name   string `json:"names.long"`
	Short  string `json:"names.short"`
}

// RawScore is the vendor's loosely typed per-period score blob. It is stored
// as-is in the event cache and never interpreted by the pipeline.
type RawScore map[string]interface{}

// Status is the vendor's view of an event's lifecycle.
type Status struct {
	StartsAt      string `json:"startsAt"`
	Started       bool   `json:"started"`
	Ended         bool   `json:"ended"`
	Finalized     bool   `json:"finalized"`
	Cancelled     bool   `json:"cancelled"`
	OddsAvailable bool   `json:"oddsAvailable"`
	DisplayShort  string `json:"displayShort,omitempty"`
	Period        string `json:"periods.currentPeriodID,omitempty"`
	Clock         string `json:"clock,omitempty"`
	UpdatedAt     string `json:"updatedAt"`
}

// StartsAtTime parses the status start time. The bool is false when the
// vendor value is absent or unparseable.
func (s Status) StartsAtTime() (time.Time, bool) {
	return parseVendorTime(s.StartsAt)
}

// UpdatedAtTime parses the status update time.
func (s Status) UpdatedAtTime() (time.Time, bool) {
	return parseVendorTime(s.UpdatedAt)
}

// MarketOdds is one market (moneyline, spread, total, ...) on an event, with
// one quote per bookmaker.
type MarketOdds struct {
	OddID       string           `json:"oddID"`
	MarketName  string           `json:"marketName"`
	BetType     string           `json:"betTypeID"`
	Side        string           `json:"sideID"`
	ByBookmaker map[string]Quote `json:"byBookmaker"`
}

// Quote is one bookmaker's price for one market. Odds and Line arrive as
// strings in the vendor payload and are parsed defensively downstream.
type Quote struct {
	Odds          string `json:"odds"`
	Line          string `json:"overUnder,omitempty"`
	Spread        string `json:"spread,omitempty"`
	Available     bool   `json:"available"`
	LastUpdatedAt string `json:"lastUpdatedAt"`
}

// LineValue returns whichever of the line fields the quote carries.
func (q Quote) LineValue() string {
	if q.Line != "" {
		return q.Line
	}
	return q.Spread
}

// LastUpdatedTime parses the quote's vendor timestamp.
func (q Quote) LastUpdatedTime() (time.Time, bool) {
	return parseVendorTime(q.LastUpdatedAt)
}

// ParseAmericanPrice parses a vendor odds string ("+150", "-110", "EVEN")
// into a signed American price. The bool is false when no numeric price can
// be extracted.
func ParseAmericanPrice(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	if strings.EqualFold(s, "even") {
		return 100, true
	}
	s = strings.TrimPrefix(s, "+")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseVendorTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
