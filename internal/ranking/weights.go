package ranking

import (
	"math"
	"time"

	"github.com/onnwee/foryou/internal/interaction"
)

// HalfLifeDecay returns 2^(-ageHours/halfLifeHours).
//
// Parameters:
//   - ageHours: Age of the item in hours. Negative ages clamp to 0.
//   - halfLifeHours: Hours after which the weight halves.
//
// Returns a value in (0, 1], or 0 when halfLifeHours is not positive.
func HalfLifeDecay(ageHours, halfLifeHours float64) float64 {
	if halfLifeHours <= 0 {
		return 0
	}
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp2(-ageHours / halfLifeHours)
}

// ageHours returns the hours elapsed between t and now.
func ageHours(t, now time.Time) float64 {
	return now.Sub(t).Hours()
}

// FreshnessWeight computes freshnessFactor × 2^(-age/halfLife) from the
// publish time. Content scheduled in the future counts as brand new.
func FreshnessWeight(publishedAt, now time.Time, factor, halfLifeHours float64) float64 {
	if factor <= 0 {
		return 0
	}
	return factor * HalfLifeDecay(ageHours(publishedAt, now), halfLifeHours)
}

// SocialProofWeight computes min(cap, factor × engagement).
// The cap bounds viral content so it cannot crowd out every other term.
func SocialProofWeight(engagement int64, factor, cap float64) float64 {
	if factor <= 0 || engagement <= 0 {
		return 0
	}
	return math.Min(cap, factor*float64(engagement))
}

// FollowedWeight returns boost when the viewer follows the creator.
func FollowedWeight(follows bool, boost float64) float64 {
	if !follows || boost <= 0 {
		return 0
	}
	return boost
}

// CategoryAffinityWeight computes factor × affinity.
func CategoryAffinityWeight(affinity, factor float64) float64 {
	if affinity <= 0 || factor <= 0 {
		return 0
	}
	return factor * affinity
}

// DecayedCounts sums hourly buckets, each weighted by the half-life decay
// of the bucket's age.
func DecayedCounts(buckets []interaction.Bucket, now time.Time, halfLifeHours float64) (views, likes, completes float64) {
	for _, b := range buckets {
		d := HalfLifeDecay(ageHours(b.Start, now), halfLifeHours)
		views += d * float64(b.Views)
		likes += d * float64(b.Likes)
		completes += d * float64(b.Completes)
	}
	return views, likes, completes
}

// VelocityWeight combines decayed view, like and complete counts.
// A cap of 0 leaves the term uncapped.
func VelocityWeight(views, likes, completes float64, p *WeightProfile) float64 {
	v := p.VelocityViewFactor*views + p.VelocityLikeFactor*likes + p.VelocityCompleteFactor*completes
	return capTerm(v, p.VelocityCap)
}

// CompletionWeight computes factor × completionRate.
func CompletionWeight(completionRate, factor float64) float64 {
	if completionRate <= 0 || factor <= 0 {
		return 0
	}
	return factor * math.Min(completionRate, 1)
}

// AuthorityWeight combines creator follower count and creator completion.
// A cap of 0 leaves the term uncapped.
func AuthorityWeight(followers int64, creatorCompletion float64, p *WeightProfile) float64 {
	if followers < 0 {
		followers = 0
	}
	if creatorCompletion < 0 {
		creatorCompletion = 0
	}
	v := p.AuthorityFollowerFactor*float64(followers) + p.AuthorityCompletionFactor*math.Min(creatorCompletion, 1)
	return capTerm(v, p.AuthorityCap)
}

// CollaborativeWeight computes signal × maxBoost when enabled.
// The signal is clamped to [0, 1].
func CollaborativeWeight(signal float64, enabled bool, maxBoost float64) float64 {
	if !enabled || maxBoost <= 0 {
		return 0
	}
	return clamp01(signal) * maxBoost
}

func capTerm(v, limit float64) float64 {
	if v < 0 {
		return 0
	}
	if limit > 0 && v > limit {
		return limit
	}
	return v
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
