package ranking

import (
	"errors"
	"fmt"
)

// ErrInvalidProfile is returned by Validate for out-of-range profiles.
var ErrInvalidProfile = errors.New("invalid weight profile")

// DiversityConfig bounds how often a creator or category may appear.
// A value <= 0 disables the corresponding constraint.
type DiversityConfig struct {
	// PerCreatorMax is the maximum number of items from one creator in the
	// whole ranked list. This constraint is never relaxed.
	PerCreatorMax int `json:"per_creator_max"`
	// PerCategoryWindow is the size of the trailing window in which
	// category repetition is limited.
	PerCategoryWindow int `json:"per_category_window"`
	// PerCategoryMaxInWindow is the maximum number of items of a category
	// within any trailing window.
	PerCategoryMaxInWindow int `json:"per_category_max_in_window"`
}

// WeightProfile is a named, versioned set of scoring weights for one
// (experiment, variant) pair. All factors are non-negative; a factor of 0
// disables its term.
type WeightProfile struct {
	Name          string `json:"name"`
	ExperimentKey string `json:"experiment_key"`
	Variant       string `json:"variant"`
	Version       int    `json:"version"`

	FreshnessFactor        float64 `json:"freshness_factor"`
	FreshnessHalfLifeHours float64 `json:"freshness_half_life_hours"`

	SocialProofFactor float64 `json:"social_proof_factor"`
	SocialProofCap    float64 `json:"social_proof_cap"`

	FollowedBoost          float64 `json:"followed_boost"`
	CategoryAffinityFactor float64 `json:"category_affinity_factor"`
	ColdStartJitter        float64 `json:"cold_start_jitter"`

	CollaborativeFilteringEnabled  bool    `json:"collaborative_filtering_enabled"`
	CollaborativeFilteringMaxBoost float64 `json:"collaborative_filtering_max_boost"`

	CompletionBoostFactor float64 `json:"completion_boost_factor"`

	VelocityViewFactor     float64 `json:"velocity_view_factor"`
	VelocityLikeFactor     float64 `json:"velocity_like_factor"`
	VelocityCompleteFactor float64 `json:"velocity_complete_factor"`
	// VelocityCap bounds the velocity term. 0 means uncapped.
	VelocityCap float64 `json:"velocity_cap"`

	AuthorityFollowerFactor   float64 `json:"authority_follower_factor"`
	AuthorityCompletionFactor float64 `json:"authority_completion_factor"`
	// AuthorityCap bounds the authority term. 0 means uncapped.
	AuthorityCap float64 `json:"authority_cap"`

	Diversity DiversityConfig `json:"diversity"`
}

// Validate reports every out-of-range field.
func (p *WeightProfile) Validate() error {
	var errs []error
	check := func(name string, v float64) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be non-negative, got %v", name, v))
		}
	}

	check("freshness_factor", p.FreshnessFactor)
	check("social_proof_factor", p.SocialProofFactor)
	check("social_proof_cap", p.SocialProofCap)
	check("followed_boost", p.FollowedBoost)
	check("category_affinity_factor", p.CategoryAffinityFactor)
	check("cold_start_jitter", p.ColdStartJitter)
	check("collaborative_filtering_max_boost", p.CollaborativeFilteringMaxBoost)
	check("completion_boost_factor", p.CompletionBoostFactor)
	check("velocity_view_factor", p.VelocityViewFactor)
	check("velocity_like_factor", p.VelocityLikeFactor)
	check("velocity_complete_factor", p.VelocityCompleteFactor)
	check("velocity_cap", p.VelocityCap)
	check("authority_follower_factor", p.AuthorityFollowerFactor)
	check("authority_completion_factor", p.AuthorityCompletionFactor)
	check("authority_cap", p.AuthorityCap)

	if p.FreshnessFactor > 0 && p.FreshnessHalfLifeHours <= 0 {
		errs = append(errs, fmt.Errorf("freshness_half_life_hours must be positive, got %v", p.FreshnessHalfLifeHours))
	}
	if p.FreshnessHalfLifeHours < 0 {
		errs = append(errs, fmt.Errorf("freshness_half_life_hours must be non-negative, got %v", p.FreshnessHalfLifeHours))
	}
	if p.Diversity.PerCategoryWindow > 0 && p.Diversity.PerCategoryMaxInWindow > p.Diversity.PerCategoryWindow {
		errs = append(errs, fmt.Errorf("diversity.per_category_max_in_window (%d) exceeds per_category_window (%d)",
			p.Diversity.PerCategoryMaxInWindow, p.Diversity.PerCategoryWindow))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidProfile, errors.Join(errs...))
}

// DefaultProfile returns the compiled-in profile for a variant.
//
// Variant A is the control. Variant B raises exploration: a wider
// cold-start jitter and collaborative filtering enabled. Any other variant
// gets the control weights under its own name.
func DefaultProfile(variant string) *WeightProfile {
	p := &WeightProfile{
		Name:    "default-" + variant,
		Variant: variant,
		Version: 0,

		FreshnessFactor:        1.0,
		FreshnessHalfLifeHours: 24,

		SocialProofFactor: 0.01,
		SocialProofCap:    1.0,

		FollowedBoost:          0.75,
		CategoryAffinityFactor: 0.5,
		ColdStartJitter:        0.1,

		CompletionBoostFactor: 0.5,

		VelocityViewFactor:     0.001,
		VelocityLikeFactor:     0.01,
		VelocityCompleteFactor: 0.02,

		AuthorityFollowerFactor:   0.00001,
		AuthorityCompletionFactor: 0.3,

		Diversity: DiversityConfig{
			PerCreatorMax:          2,
			PerCategoryWindow:      5,
			PerCategoryMaxInWindow: 2,
		},
	}

	if variant == "B" {
		p.ColdStartJitter = 0.25
		p.CollaborativeFilteringEnabled = true
		p.CollaborativeFilteringMaxBoost = 0.5
	}
	return p
}

// Clone returns a deep copy of the profile.
func (p *WeightProfile) Clone() *WeightProfile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
