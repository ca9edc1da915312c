package eventcache

// MergeStatus overlays a fresher partial status onto the cached base. An
// overlay field replaces the base field only when it is present: non-nil for
// booleans, non-empty for strings. A whitespace-only string counts as present
// and overwrites; the empty string never erases a populated base field, so a
// partial overlay cannot blank period/clock and friends it did not know
// about.
func MergeStatus(base, overlay Status) Status {
	merged := base

	if overlay.StartsAt != "" {
		merged.StartsAt = overlay.StartsAt
	}
	if overlay.Started != nil {
		merged.Started = overlay.Started
	}
	if overlay.Ended != nil {
		merged.Ended = overlay.Ended
	}
	if overlay.Finalized != nil {
		merged.Finalized = overlay.Finalized
	}
	if overlay.Cancelled != nil {
		merged.Cancelled = overlay.Cancelled
	}
	if overlay.Live != nil {
		merged.Live = overlay.Live
	}
	if overlay.Stale != nil {
		merged.Stale = overlay.Stale
	}
	if overlay.DisplayShort != "" {
		merged.DisplayShort = overlay.DisplayShort
	}
	if overlay.Period != "" {
		merged.Period = overlay.Period
	}
	if overlay.Clock != "" {
		merged.Clock = overlay.Clock
	}
	if overlay.UpdatedAt != "" {
		merged.UpdatedAt = overlay.UpdatedAt
	}

	return merged
}
