package interaction

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newTestStore(t *testing.T) *InMemoryStore {
	t.Helper()
	s := NewInMemoryStore()
	s.SetNow(func() time.Time { return testNow })
	s.RegisterCandidate("x", "creator-1")
	s.RegisterCandidate("y", "creator-1")
	s.RegisterCandidate("z", "creator-2")

	events := []Event{
		{ViewerID: strPtr("v1"), CandidateID: "x", Type: EventView, OccurredAt: testNow.Add(-10 * time.Minute)},
		{ViewerID: strPtr("v1"), CandidateID: "x", Type: EventLike, OccurredAt: testNow.Add(-9 * time.Minute)},
		{ViewerID: strPtr("v2"), CandidateID: "x", Type: EventView, OccurredAt: testNow.Add(-2 * time.Hour)},
		{ViewerID: strPtr("v2"), CandidateID: "x", Type: EventComplete, OccurredAt: testNow.Add(-2 * time.Hour)},
		{SessionID: "s9", CandidateID: "y", Type: EventView, OccurredAt: testNow.Add(-time.Hour)},
		{SessionID: "s9", CandidateID: "z", Type: EventShare, OccurredAt: testNow.Add(-100 * time.Hour)},
	}
	if err := s.Record(context.Background(), events...); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	return s
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"valid viewer event", Event{ViewerID: strPtr("v"), CandidateID: "x", Type: EventView, OccurredAt: testNow}, false},
		{"valid session event", Event{SessionID: "s", CandidateID: "x", Type: EventDwell, OccurredAt: testNow}, false},
		{"missing candidate", Event{SessionID: "s", Type: EventView, OccurredAt: testNow}, true},
		{"missing identity", Event{CandidateID: "x", Type: EventView, OccurredAt: testNow}, true},
		{"unknown type", Event{SessionID: "s", CandidateID: "x", Type: "bookmark", OccurredAt: testNow}, true},
		{"missing timestamp", Event{SessionID: "s", CandidateID: "x", Type: EventView}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}

func TestInMemoryStore_AggregateSignals(t *testing.T) {
	s := newTestStore(t)

	aggs, err := s.AggregateSignals(context.Background(), []string{"x", "y", "z"}, 72*time.Hour)
	if err != nil {
		t.Fatalf("AggregateSignals() error = %v", err)
	}

	x := aggs["x"]
	if x.Views != 2 || x.Likes != 1 || x.Completes != 1 {
		t.Errorf("unexpected counts for x: %+v", x)
	}
	if len(x.Buckets) != 2 {
		t.Fatalf("expected 2 hourly buckets for x, got %d", len(x.Buckets))
	}
	if !x.Buckets[0].Start.Before(x.Buckets[1].Start) {
		t.Error("expected buckets ordered oldest first")
	}
	if want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC); !x.Buckets[1].Start.Equal(want) {
		t.Errorf("latest bucket start = %v, want %v", x.Buckets[1].Start, want)
	}
	if _, ok := aggs["z"]; ok {
		t.Error("events outside the window must be ignored")
	}
}

func TestInMemoryStore_CreatorCompletionRates(t *testing.T) {
	s := newTestStore(t)

	rates, err := s.CreatorCompletionRates(context.Background(), []string{"creator-1", "creator-2"}, 72*time.Hour)
	if err != nil {
		t.Fatalf("CreatorCompletionRates() error = %v", err)
	}
	// creator-1: 3 views (x twice, y once), 1 complete.
	if got, want := rates["creator-1"], 1.0/3.0; got != want {
		t.Errorf("creator-1 rate = %v, want %v", got, want)
	}
	if _, ok := rates["creator-2"]; ok {
		t.Error("creator without views should be omitted")
	}
}

func TestInMemoryStore_EventsSince(t *testing.T) {
	s := newTestStore(t)

	events, err := s.EventsSince(context.Background(), testNow.Add(-3*time.Hour), testNow)
	if err != nil {
		t.Fatalf("EventsSince() error = %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].OccurredAt.Before(events[i-1].OccurredAt) {
			t.Fatal("events not ordered by occurred_at")
		}
	}
	for _, e := range events {
		if e.ID == "" {
			t.Error("expected recorded events to be assigned IDs")
		}
	}
}

func TestInMemoryStore_RecordRejectsInvalid(t *testing.T) {
	s := NewInMemoryStore()
	err := s.Record(context.Background(), Event{CandidateID: "x", Type: EventView, OccurredAt: testNow})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}
}
