package budget

import (
	"testing"
	"time"
)

func TestBudgetBurstBound(t *testing.T) {
	b := PerMinute(10)
	now := time.Now()

	admitted := 0
	for i := 0; i < 25; i++ {
		if b.AllowAt(now) {
			admitted++
		}
	}
	if admitted != 10 {
		t.Errorf("admitted %d requests in a burst, want 10", admitted)
	}
}

func TestBudgetRollingMinuteBound(t *testing.T) {
	const perMinute = 60
	b := PerMinute(perMinute)
	start := time.Now()

	// Hammer the bucket every 100ms across a full minute. The token bucket may
	// admit the initial burst plus the refill for the window, never more.
	admitted := 0
	for elapsed := time.Duration(0); elapsed <= time.Minute; elapsed += 100 * time.Millisecond {
		if b.AllowAt(start.Add(elapsed)) {
			admitted++
		}
	}
	limit := perMinute + perMinute // capacity + refillPerSecond*60
	if admitted > limit {
		t.Errorf("admitted %d requests in a rolling minute, want <= %d", admitted, limit)
	}
	if admitted < perMinute {
		t.Errorf("admitted %d requests, expected at least the burst capacity %d", admitted, perMinute)
	}
}

func TestBudgetRefill(t *testing.T) {
	b := New(1, 1) // one token, one per second
	now := time.Now()

	if !b.AllowAt(now) {
		t.Fatal("first request should be admitted")
	}
	if b.AllowAt(now) {
		t.Fatal("second immediate request should be denied")
	}
	if !b.AllowAt(now.Add(time.Second)) {
		t.Error("request after refill interval should be admitted")
	}
}
