package oddsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseAmericanPrice(t *testing.T) {
	tests := []struct {
		raw    string
		want   int
		wantOK bool
	}{
		{"+150", 150, true},
		{"-110", -110, true},
		{"100", 100, true},
		{"EVEN", 100, true},
		{"even", 100, true},
		{" +225 ", 225, true},
		{"", 0, false},
		{"N/A", 0, false},
		{"+1.5", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseAmericanPrice(tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseAmericanPrice(%q) = %d, %v, want %d, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestAPIErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		err := &APIError{StatusCode: tt.status}
		if err.IsRetryable() != tt.want {
			t.Errorf("APIError{%d}.IsRetryable() = %v, want %v", tt.status, !tt.want, tt.want)
		}
	}
}

func TestGetEventsRetriesOn500(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"success":true,"data":[{"eventID":"evt_1","leagueID":"NHL"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", WithRetry(4, time.Millisecond, 5*time.Millisecond))
	events, err := client.GetEvents(context.Background(), GetEventsRequest{LeagueID: "NHL"})
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].EventID != "evt_1" {
		t.Errorf("GetEvents() = %+v, want one evt_1", events)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("vendor called %d times, want 3", got)
	}
}

func TestGetEventsFatalOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "bad-key", WithRetry(4, time.Millisecond, 5*time.Millisecond))
	_, err := client.GetEvents(context.Background(), GetEventsRequest{LeagueID: "NBA"})
	if err == nil {
		t.Fatal("GetEvents() expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("GetEvents() error type = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("APIError status = %d, want 401", apiErr.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("vendor called %d times, want 1 (no retry on fatal 4xx)", got)
	}
}

func TestGetEventsQueryParams(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if r.Header.Get("X-Api-Key") != "key" {
			t.Errorf("missing api key header")
		}
		w.Write([]byte(`{"success":true,"data":[]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	_, err := client.GetEvents(context.Background(), GetEventsRequest{
		EventIDs:   []string{"evt_1", "evt_2"},
		Bookmakers: []string{"draftkings", "fanduel"},
		Live:       true,
		Limit:      50,
	})
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	for _, want := range []string{"eventIDs=evt_1%2Cevt_2", "bookmakerID=draftkings%2Cfanduel", "live=true", "limit=50"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestGetEventNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":[]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	event, err := client.GetEvent(context.Background(), "evt_missing")
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if event != nil {
		t.Errorf("GetEvent() = %+v, want nil", event)
	}
}
