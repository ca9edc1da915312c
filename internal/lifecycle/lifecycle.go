// Package lifecycle classifies events into pipeline lifecycle phases and maps
// each phase to its poll cadence and cache TTL.
package lifecycle

import "time"

// Class is the lifecycle phase of an event.
type Class int

const (
	Upcoming Class = iota
	StartingSoon
	Live
	Finalized
)

// startingSoonWindow is how far before tip-off an event is polled at the
// starting-soon cadence.
const startingSoonWindow = 30 * time.Minute

// State holds the status inputs classification needs.
type State struct {
	StartsAt  time.Time
	Started   bool
	Ended     bool
	Finalized bool
	Cancelled bool
}

// Classify determines the lifecycle phase of an event at the given time.
func Classify(s State, now time.Time) Class {
	if s.Finalized || s.Cancelled || s.Ended {
		return Finalized
	}
	if s.Started {
		return Live
	}
	if !s.StartsAt.IsZero() && s.StartsAt.Sub(now) <= startingSoonWindow {
		return StartingSoon
	}
	return Upcoming
}

// IsLive reports whether the phase counts as in-play.
func (c Class) IsLive() bool {
	return c == Live
}

// PollInterval returns the minimum time between polls for events in this phase.
func (c Class) PollInterval() time.Duration {
	switch c {
	case Live:
		return 30 * time.Second
	case StartingSoon:
		return 1 * time.Minute
	case Finalized:
		return 30 * time.Minute
	default:
		return 10 * time.Minute
	}
}

// CacheTTL returns how long cached event state stays fresh for this phase.
// Finalized events expire quickly; upcoming events can sit in cache for a day.
func (c Class) CacheTTL() time.Duration {
	switch c {
	case Live:
		return 2 * time.Hour
	case StartingSoon:
		return 6 * time.Hour
	case Finalized:
		return 10 * time.Minute
	default:
		return 24 * time.Hour
	}
}

func (c Class) String() string {
	switch c {
	case Upcoming:
		return "upcoming"
	case StartingSoon:
		return "starting_soon"
	case Live:
		return "live"
	case Finalized:
		return "finalized"
	}
	return "unknown"
}
