package notifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/database"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/events"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/notifier/channel"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/stream"
)

type fakeDeliveryStore struct {
	channels   map[string][]database.Channel
	deliveries []*database.Delivery
}

func newFakeDeliveryStore() *fakeDeliveryStore {
	return &fakeDeliveryStore{channels: make(map[string][]database.Channel)}
}

func (s *fakeDeliveryStore) EnabledChannels(ctx context.Context, ruleID string) ([]database.Channel, error) {
	return s.channels[ruleID], nil
}

func (s *fakeDeliveryStore) RecordDelivery(ctx context.Context, d *database.Delivery) error {
	s.deliveries = append(s.deliveries, d)
	return nil
}

// fakeSender fails the first failures calls, then succeeds.
type fakeSender struct {
	name     string
	failures int
	calls    int
	sentTo   []string
}

func (s *fakeSender) Channel() string { return s.name }

func (s *fakeSender) Send(ctx context.Context, destination string, msg *channel.Message) (string, error) {
	s.calls++
	if s.calls <= s.failures {
		return "", errors.New("provider unavailable")
	}
	s.sentTo = append(s.sentTo, destination)
	return "msg-" + s.name, nil
}

func testJob(channels ...string) *events.NotificationJob {
	return &events.NotificationJob{
		FiringID:     "fir_1",
		AlertID:      "rule_1",
		UserID:       "user_1",
		Channels:     channels,
		EventID:      "evt_1",
		OddID:        "moneyline:home",
		BookmakerID:  "bm_a",
		CurrentValue: decimal.NewFromInt(155),
		ValueMetric:  events.MetricOddsPrice,
		RuleType:     "gte",
		MarketType:   "moneyline",
		TeamSide:     "home",
		Threshold:    decimal.NewFromInt(150),
		Direction:    "above",
		ObservedAt:   time.Date(2025, 11, 3, 1, 0, 0, 0, time.UTC),
	}
}

func TestDispatchSendsAndRecords(t *testing.T) {
	ctx := context.Background()
	store := newFakeDeliveryStore()
	store.channels["rule_1"] = []database.Channel{
		{RuleID: "rule_1", Channel: "email", Destination: "user@example.com", Enabled: true},
	}

	sender := &fakeSender{name: "email"}
	registry := channel.NewRegistry()
	registry.Register(sender)

	d := NewDispatcher(store, registry, 3, nil)
	if err := d.Dispatch(ctx, testJob("email")); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if len(sender.sentTo) != 1 || sender.sentTo[0] != "user@example.com" {
		t.Errorf("sent to = %v", sender.sentTo)
	}
	if len(store.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(store.deliveries))
	}
	del := store.deliveries[0]
	if del.Status != database.DeliverySent || del.ProviderMessageID != "msg-email" || del.AttemptNumber != 1 {
		t.Errorf("delivery = %+v", del)
	}
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	store := newFakeDeliveryStore()
	store.channels["rule_1"] = []database.Channel{
		{RuleID: "rule_1", Channel: "email", Destination: "user@example.com", Enabled: true},
	}

	sender := &fakeSender{name: "email", failures: 2}
	registry := channel.NewRegistry()
	registry.Register(sender)

	d := NewDispatcher(store, registry, 3, nil)
	if err := d.Dispatch(ctx, testJob("email")); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if len(store.deliveries) != 3 {
		t.Fatalf("deliveries = %d, want 3 attempt rows", len(store.deliveries))
	}
	if store.deliveries[0].Status != database.DeliveryFailed || store.deliveries[2].Status != database.DeliverySent {
		t.Errorf("attempt statuses = %s, %s, %s",
			store.deliveries[0].Status, store.deliveries[1].Status, store.deliveries[2].Status)
	}
	if store.deliveries[2].AttemptNumber != 3 {
		t.Errorf("final attempt number = %d, want 3", store.deliveries[2].AttemptNumber)
	}
}

func TestDispatchExhaustedAttemptsFailsJob(t *testing.T) {
	ctx := context.Background()
	store := newFakeDeliveryStore()
	store.channels["rule_1"] = []database.Channel{
		{RuleID: "rule_1", Channel: "email", Destination: "user@example.com", Enabled: true},
	}

	sender := &fakeSender{name: "email", failures: 10}
	registry := channel.NewRegistry()
	registry.Register(sender)

	d := NewDispatcher(store, registry, 3, nil)
	err := d.Dispatch(ctx, testJob("email"))
	if err == nil {
		t.Fatal("Dispatch() error = nil, want failure after exhausted attempts")
	}
	if sender.calls != 3 {
		t.Errorf("send attempts = %d, want 3", sender.calls)
	}
	for i, del := range store.deliveries {
		if del.Status != database.DeliveryFailed {
			t.Errorf("delivery %d status = %s, want failed", i, del.Status)
		}
		if del.ErrorText == "" {
			t.Errorf("delivery %d missing error text", i)
		}
	}
}

func TestDispatchSkipsChannelWithoutDestination(t *testing.T) {
	ctx := context.Background()
	store := newFakeDeliveryStore()
	store.channels["rule_1"] = []database.Channel{
		{RuleID: "rule_1", Channel: "email", Destination: "user@example.com", Enabled: true},
	}

	emailSender := &fakeSender{name: "email"}
	registry := channel.NewRegistry()
	registry.Register(emailSender)
	registry.Register(&fakeSender{name: "sms"})

	d := NewDispatcher(store, registry, 3, nil)
	// sms has no destination row; the job still succeeds on email.
	if err := d.Dispatch(ctx, testJob("email", "sms")); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(emailSender.sentTo) != 1 {
		t.Errorf("email sends = %d, want 1", len(emailSender.sentTo))
	}
}

func TestHandleEntryDropsUnparseable(t *testing.T) {
	d := NewDispatcher(newFakeDeliveryStore(), channel.NewRegistry(), 3, nil)
	err := d.HandleEntry(context.Background(), stream.Entry{
		ID:     "1-0",
		Values: map[string]string{"garbage": "x"},
	})
	if !errors.Is(err, stream.ErrDrop) {
		t.Errorf("HandleEntry() error = %v, want ErrDrop", err)
	}
}

func TestBuildMessageIncludesValues(t *testing.T) {
	prev := decimal.NewFromInt(120)
	job := testJob("email")
	job.PreviousValue = &prev

	msg := BuildMessage(job)
	if msg.Subject == "" || msg.Body == "" {
		t.Fatal("BuildMessage() produced empty content")
	}
	for _, want := range []string{"evt_1", "moneyline", "155", "120", "150"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
}
