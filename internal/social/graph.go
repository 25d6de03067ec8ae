// Package social provides read access to the follow graph.
package social

import (
	"context"
	"sync"
)

// Graph reads follow relationships and follower counts.
type Graph interface {
	// FollowedCreators returns the creator IDs the viewer follows.
	FollowedCreators(ctx context.Context, viewerID string) ([]string, error)
	// FollowerCounts returns follower counts for the given creators.
	// Creators without followers may be omitted from the result.
	FollowerCounts(ctx context.Context, creatorIDs []string) (map[string]int64, error)
}

// InMemoryGraph is an in-memory implementation of Graph for testing and
// local development. Thread-safe via RWMutex.
type InMemoryGraph struct {
	mu        sync.RWMutex
	following map[string]map[string]struct{} // viewerID -> creatorIDs
	followers map[string]int64               // creatorID -> count
}

// NewInMemoryGraph creates an empty follow graph.
func NewInMemoryGraph() *InMemoryGraph {
	return &InMemoryGraph{
		following: make(map[string]map[string]struct{}),
		followers: make(map[string]int64),
	}
}

// Follow records that viewerID follows creatorID. Repeated calls are no-ops.
func (g *InMemoryGraph) Follow(viewerID, creatorID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.following[viewerID]
	if !ok {
		set = make(map[string]struct{})
		g.following[viewerID] = set
	}
	if _, exists := set[creatorID]; exists {
		return
	}
	set[creatorID] = struct{}{}
	g.followers[creatorID]++
}

// SetFollowerCount overrides the follower count for a creator.
func (g *InMemoryGraph) SetFollowerCount(creatorID string, count int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.followers[creatorID] = count
}

// FollowedCreators returns the creators the viewer follows.
func (g *InMemoryGraph) FollowedCreators(ctx context.Context, viewerID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := g.following[viewerID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

// FollowerCounts returns follower counts for the given creators.
func (g *InMemoryGraph) FollowerCounts(ctx context.Context, creatorIDs []string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]int64, len(creatorIDs))
	for _, id := range creatorIDs {
		if n, ok := g.followers[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}
