package ranking

import (
	"time"

	"github.com/onnwee/foryou/internal/content"
	"github.com/onnwee/foryou/internal/signal"
	"github.com/onnwee/foryou/internal/viewer"
)

// Breakdown lists every term contributing to a score.
type Breakdown struct {
	Freshness        float64 `json:"freshness"`
	SocialProof      float64 `json:"social_proof"`
	Followed         float64 `json:"followed"`
	CategoryAffinity float64 `json:"category_affinity"`
	Velocity         float64 `json:"velocity"`
	Completion       float64 `json:"completion"`
	Authority        float64 `json:"authority"`
	Collaborative    float64 `json:"collaborative"`
	Jitter           float64 `json:"jitter"`
	Total            float64 `json:"total"`
}

// Explain computes every score term for a candidate.
//
// Parameters:
//   - c: The candidate being scored
//   - snap: Its signal snapshot (zero value when signals are unavailable)
//   - vc: The viewer context
//   - p: The resolved weight profile
//   - now: The evaluation instant; pass the same value for a whole request
//
// Explain is pure: it reads no clock and no global state.
func Explain(c content.Candidate, snap signal.Snapshot, vc viewer.Context, p *WeightProfile, now time.Time) Breakdown {
	var b Breakdown

	b.Freshness = FreshnessWeight(c.PublishedAt, now, p.FreshnessFactor, p.FreshnessHalfLifeHours)
	b.SocialProof = SocialProofWeight(snap.EngagementCount(), p.SocialProofFactor, p.SocialProofCap)
	b.Followed = FollowedWeight(vc.Follows(c.CreatorID), p.FollowedBoost)
	b.CategoryAffinity = CategoryAffinityWeight(vc.Affinity(c.CategoryName()), p.CategoryAffinityFactor)

	// Snapshots without hourly buckets carry only totals; treat them as
	// current so velocity is not silently lost.
	var views, likes, completes float64
	if len(snap.Buckets) > 0 {
		views, likes, completes = DecayedCounts(snap.Buckets, now, p.FreshnessHalfLifeHours)
	} else {
		views, likes, completes = float64(snap.Views), float64(snap.Likes), float64(snap.Completes)
	}
	b.Velocity = VelocityWeight(views, likes, completes, p)

	b.Completion = CompletionWeight(snap.CompletionRate(), p.CompletionBoostFactor)
	b.Authority = AuthorityWeight(snap.CreatorFollowers, snap.CreatorCompletionRate, p)
	b.Collaborative = CollaborativeWeight(snap.Collaborative, p.CollaborativeFilteringEnabled, p.CollaborativeFilteringMaxBoost)
	b.Jitter = Jitter(vc.Key(), c.ID, p.ColdStartJitter)

	b.Total = b.Freshness + b.SocialProof + b.Followed + b.CategoryAffinity +
		b.Velocity + b.Completion + b.Authority + b.Collaborative + b.Jitter
	return b
}

// Score returns the composite score for a candidate. See Explain.
func Score(c content.Candidate, snap signal.Snapshot, vc viewer.Context, p *WeightProfile, now time.Time) float64 {
	return Explain(c, snap, vc, p, now).Total
}

// Scored pairs a candidate with its score.
type Scored struct {
	Candidate content.Candidate
	Score     float64
	// Breakdown is populated only when an explanation was requested.
	Breakdown *Breakdown
}
