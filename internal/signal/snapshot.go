// Package signal builds the read-only inputs of a ranking pass: per-candidate
// signal snapshots and the viewer context. Every source is optional at
// request time; a failing source degrades to zero-valued signals.
package signal

import (
	"context"

	"github.com/onnwee/foryou/internal/interaction"
)

// Snapshot holds the signals for one candidate at request time.
// Snapshots are recomputed per request and never mutated by scoring.
type Snapshot struct {
	CandidateID string `json:"candidate_id"`

	// Trailing-window counts.
	Views     int64 `json:"views"`
	Likes     int64 `json:"likes"`
	Shares    int64 `json:"shares"`
	Completes int64 `json:"completes"`
	// Buckets are hourly counts used for decayed velocity.
	Buckets []interaction.Bucket `json:"buckets,omitempty"`

	CreatorFollowers      int64   `json:"creator_followers"`
	CreatorCompletionRate float64 `json:"creator_completion_rate"`

	// Collaborative is the externally supplied collaborative-filtering
	// signal, expected in [0, 1]. Zero when unavailable.
	Collaborative float64 `json:"collaborative"`
}

// EngagementCount is the social proof input: likes plus shares.
func (s Snapshot) EngagementCount() int64 {
	return s.Likes + s.Shares
}

// CompletionRate returns completes/views, or 0 without views.
func (s Snapshot) CompletionRate() float64 {
	if s.Views <= 0 {
		return 0
	}
	return float64(s.Completes) / float64(s.Views)
}

// Degradation kinds reported when a source fails.
const (
	DegradedSignals           = "signals"
	DegradedFollowerCounts    = "follower_counts"
	DegradedCreatorCompletion = "creator_completion"
	DegradedCollaborative     = "collaborative"
	DegradedFollows           = "follows"
	DegradedAffinity          = "affinity"
	DegradedHistory           = "history"
)

// AffinitySource supplies per-viewer category affinity weights. The
// weights are opaque inputs computed elsewhere.
type AffinitySource interface {
	CategoryAffinity(ctx context.Context, viewerID string) (map[string]float64, error)
}

// CollaborativeSource supplies collaborative-filtering signals keyed by
// candidate for a viewer (or session) key.
type CollaborativeSource interface {
	Signals(ctx context.Context, viewerKey string, candidateIDs []string) (map[string]float64, error)
}
