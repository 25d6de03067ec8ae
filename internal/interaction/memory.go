package interaction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps events in memory. It implements SignalSource,
// EventSource and Recorder. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu       sync.RWMutex
	events   []Event
	creators map[string]string // candidateID -> creatorID
	now      func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		creators: make(map[string]string),
		now:      time.Now,
	}
}

// SetNow overrides the clock used for trailing windows.
func (s *InMemoryStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// RegisterCandidate associates a candidate with its creator for creator
// level aggregation.
func (s *InMemoryStore) RegisterCandidate(candidateID, creatorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creators[candidateID] = creatorID
}

// Record appends events, assigning IDs when missing.
func (s *InMemoryStore) Record(ctx context.Context, events ...Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		s.events = append(s.events, e)
	}
	return nil
}

// AggregateSignals returns hourly-bucketed aggregates over the window.
func (s *InMemoryStore) AggregateSignals(ctx context.Context, candidateIDs []string, window time.Duration) (map[string]Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(candidateIDs))
	for _, id := range candidateIDs {
		wanted[id] = struct{}{}
	}
	since := s.now().Add(-window)

	buckets := make(map[string]map[time.Time]*Bucket)
	for _, e := range s.events {
		if _, ok := wanted[e.CandidateID]; !ok || e.OccurredAt.Before(since) {
			continue
		}
		byHour, ok := buckets[e.CandidateID]
		if !ok {
			byHour = make(map[time.Time]*Bucket)
			buckets[e.CandidateID] = byHour
		}
		start := hourStart(e.OccurredAt)
		b, ok := byHour[start]
		if !ok {
			b = &Bucket{Start: start}
			byHour[start] = b
		}
		b.add(e.Type)
	}

	out := make(map[string]Aggregate, len(buckets))
	for id, byHour := range buckets {
		agg := Aggregate{CandidateID: id}
		for _, b := range byHour {
			agg.Views += b.Views
			agg.Likes += b.Likes
			agg.Shares += b.Shares
			agg.Completes += b.Completes
			agg.Buckets = append(agg.Buckets, *b)
		}
		sort.Slice(agg.Buckets, func(i, j int) bool {
			return agg.Buckets[i].Start.Before(agg.Buckets[j].Start)
		})
		out[id] = agg
	}
	return out, nil
}

// CreatorCompletionRates returns completes/views per creator over the window.
func (s *InMemoryStore) CreatorCompletionRates(ctx context.Context, creatorIDs []string, window time.Duration) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(creatorIDs))
	for _, id := range creatorIDs {
		wanted[id] = struct{}{}
	}
	since := s.now().Add(-window)

	views := make(map[string]int64)
	completes := make(map[string]int64)
	for _, e := range s.events {
		creator, ok := s.creators[e.CandidateID]
		if !ok || e.OccurredAt.Before(since) {
			continue
		}
		if _, ok := wanted[creator]; !ok {
			continue
		}
		switch e.Type {
		case EventView:
			views[creator]++
		case EventComplete:
			completes[creator]++
		}
	}

	out := make(map[string]float64, len(views))
	for creator, v := range views {
		if v > 0 {
			out[creator] = float64(completes[creator]) / float64(v)
		}
	}
	return out, nil
}

// EventsSince returns events with since <= occurred_at < until, oldest first.
func (s *InMemoryStore) EventsSince(ctx context.Context, since, until time.Time) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events {
		if e.OccurredAt.Before(since) || !e.OccurredAt.Before(until) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}
