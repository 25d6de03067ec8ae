// Package content provides the candidate model and the retrieval of
// eligible candidate pools for feed ranking.
package content

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrStoreUnavailable is returned by stores that cannot serve a request.
var ErrStoreUnavailable = errors.New("content store unavailable")

// Candidate represents a piece of published content eligible for ranking.
// Candidates are treated as immutable for the duration of a ranking pass.
type Candidate struct {
	ID          string    `json:"id"`
	CreatorID   string    `json:"creator_id"`
	Category    *string   `json:"category,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	ViewCount   int64     `json:"view_count"`
	IsPremium   bool      `json:"is_premium"`
	TipEnabled  bool      `json:"tip_enabled"`
}

// CategoryName returns the candidate category or an empty string when the
// candidate is uncategorized.
func (c Candidate) CategoryName() string {
	if c.Category == nil {
		return ""
	}
	return *c.Category
}

// Filters narrows the eligible pool returned by a Store.
type Filters struct {
	// PublishedAfter excludes content published before this instant.
	// Zero means no recency horizon.
	PublishedAfter time.Time
	// PublishedBefore excludes content scheduled after this instant.
	// Zero means no upper bound.
	PublishedBefore time.Time
	// ExcludeIDs lists candidate IDs that must not be returned.
	ExcludeIDs map[string]struct{}
}

// Store lists candidates from the content store.
// Implementations make no ordering guarantee to callers.
type Store interface {
	// ListEligibleCandidates returns up to limit published candidates matching filters.
	ListEligibleCandidates(ctx context.Context, filters Filters, limit int) ([]Candidate, error)

	// ListRecentCandidates returns up to limit of the most recently published
	// candidates with no further filtering. Used as the degraded pool.
	ListRecentCandidates(ctx context.Context, limit int) ([]Candidate, error)
}

// InMemoryStore is an in-memory implementation of Store.
// Thread-safe via RWMutex.
type InMemoryStore struct {
	mu         sync.RWMutex
	candidates map[string]Candidate
}

// NewInMemoryStore creates an empty in-memory content store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		candidates: make(map[string]Candidate),
	}
}

// Add inserts or replaces candidates.
func (s *InMemoryStore) Add(candidates ...Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candidates {
		s.candidates[c.ID] = c
	}
}

// ListEligibleCandidates returns up to limit candidates matching filters,
// newest first.
func (s *InMemoryStore) ListEligibleCandidates(ctx context.Context, filters Filters, limit int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Candidate
	for _, c := range s.candidates {
		if !filters.PublishedAfter.IsZero() && c.PublishedAt.Before(filters.PublishedAfter) {
			continue
		}
		if !filters.PublishedBefore.IsZero() && c.PublishedAt.After(filters.PublishedBefore) {
			continue
		}
		if _, excluded := filters.ExcludeIDs[c.ID]; excluded {
			continue
		}
		out = append(out, c)
	}

	sortByPublishedDesc(out)
	return truncate(out, limit), nil
}

// ListRecentCandidates returns up to limit candidates, newest first.
func (s *InMemoryStore) ListRecentCandidates(ctx context.Context, limit int) ([]Candidate, error) {
	return s.ListEligibleCandidates(ctx, Filters{}, limit)
}

// sortByPublishedDesc orders candidates by published_at DESC, id ASC.
func sortByPublishedDesc(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].PublishedAt.Equal(candidates[j].PublishedAt) {
			return candidates[i].PublishedAt.After(candidates[j].PublishedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
}

func truncate(candidates []Candidate, limit int) []Candidate {
	if limit >= 0 && len(candidates) > limit {
		return candidates[:limit]
	}
	return candidates
}
