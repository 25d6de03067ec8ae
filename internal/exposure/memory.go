package exposure

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is an in-memory Sink and Source. It also serves recent
// exposure history. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu        sync.RWMutex
	exposures []Exposure
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Append stores exposures.
func (s *InMemoryStore) Append(ctx context.Context, exposures []Exposure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposures = append(s.exposures, exposures...)
	return nil
}

// ExposuresSince returns exposures served in [since, until), oldest first.
func (s *InMemoryStore) ExposuresSince(ctx context.Context, since, until time.Time) ([]Exposure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Exposure
	for _, e := range s.exposures {
		if e.ServedAt.Before(since) || !e.ServedAt.Before(until) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ServedAt.Before(out[j].ServedAt)
	})
	return out, nil
}

// RecentCandidateIDs returns distinct candidates served to key in
// [since, until).
func (s *InMemoryStore) RecentCandidateIDs(ctx context.Context, key string, since, until time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, e := range s.exposures {
		if e.Key() != key || e.ServedAt.Before(since) || !e.ServedAt.Before(until) {
			continue
		}
		if _, ok := seen[e.CandidateID]; ok {
			continue
		}
		seen[e.CandidateID] = struct{}{}
		out = append(out, e.CandidateID)
	}
	return out, nil
}

// Len returns the number of stored exposures.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exposures)
}
