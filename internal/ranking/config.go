package ranking

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-json"
)

// ProfileOverride is a partial WeightProfile. Nil fields keep the base
// value, so an explicit 0 can disable a term.
type ProfileOverride struct {
	Name    *string `json:"name,omitempty"`
	Version *int    `json:"version,omitempty"`

	FreshnessFactor        *float64 `json:"freshness_factor,omitempty"`
	FreshnessHalfLifeHours *float64 `json:"freshness_half_life_hours,omitempty"`

	SocialProofFactor *float64 `json:"social_proof_factor,omitempty"`
	SocialProofCap    *float64 `json:"social_proof_cap,omitempty"`

	FollowedBoost          *float64 `json:"followed_boost,omitempty"`
	CategoryAffinityFactor *float64 `json:"category_affinity_factor,omitempty"`
	ColdStartJitter        *float64 `json:"cold_start_jitter,omitempty"`

	CollaborativeFilteringEnabled  *bool    `json:"collaborative_filtering_enabled,omitempty"`
	CollaborativeFilteringMaxBoost *float64 `json:"collaborative_filtering_max_boost,omitempty"`

	CompletionBoostFactor *float64 `json:"completion_boost_factor,omitempty"`

	VelocityViewFactor     *float64 `json:"velocity_view_factor,omitempty"`
	VelocityLikeFactor     *float64 `json:"velocity_like_factor,omitempty"`
	VelocityCompleteFactor *float64 `json:"velocity_complete_factor,omitempty"`
	VelocityCap            *float64 `json:"velocity_cap,omitempty"`

	AuthorityFollowerFactor   *float64 `json:"authority_follower_factor,omitempty"`
	AuthorityCompletionFactor *float64 `json:"authority_completion_factor,omitempty"`
	AuthorityCap              *float64 `json:"authority_cap,omitempty"`

	Diversity *DiversityOverride `json:"diversity,omitempty"`
}

// DiversityOverride is a partial DiversityConfig.
type DiversityOverride struct {
	PerCreatorMax          *int `json:"per_creator_max,omitempty"`
	PerCategoryWindow      *int `json:"per_category_window,omitempty"`
	PerCategoryMaxInWindow *int `json:"per_category_max_in_window,omitempty"`
}

// ProfileFile is the JSON structure of a profile file.
type ProfileFile struct {
	Version       string                     `json:"version"`
	ExperimentKey string                     `json:"experiment_key"`
	Profiles      map[string]ProfileOverride `json:"profiles"` // keyed by variant
}

// LoadProfiles loads weight profiles from a JSON profile file.
// Each entry is merged onto DefaultProfile for its variant, so a file only
// needs to list the fields it changes. Merged profiles are validated.
//
// Parameters:
//   - filePath: Path to the profile JSON file
//
// Returns the profiles keyed by variant. An empty path returns no profiles
// and no error.
func LoadProfiles(filePath string) (map[string]*WeightProfile, error) {
	if filePath == "" {
		return map[string]*WeightProfile{}, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	var file ProfileFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profile file: %w", err)
	}

	out := make(map[string]*WeightProfile, len(file.Profiles))
	for variant, override := range file.Profiles {
		defaults := DefaultProfile(variant)
		merged := MergeProfile(defaults, &override)
		merged.Variant = variant
		merged.ExperimentKey = file.ExperimentKey
		if err := merged.Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", variant, err)
		}
		logProfileOverrides(variant, defaults, merged)
		out[variant] = merged
	}
	return out, nil
}

// MergeProfile applies the non-nil fields of override to a copy of base.
// A nil base falls back to the control defaults.
func MergeProfile(base *WeightProfile, override *ProfileOverride) *WeightProfile {
	if base == nil {
		base = DefaultProfile("A")
	}
	result := base.Clone()
	if override == nil {
		return result
	}

	setString(&result.Name, override.Name)
	setInt(&result.Version, override.Version)

	setFloat(&result.FreshnessFactor, override.FreshnessFactor)
	setFloat(&result.FreshnessHalfLifeHours, override.FreshnessHalfLifeHours)
	setFloat(&result.SocialProofFactor, override.SocialProofFactor)
	setFloat(&result.SocialProofCap, override.SocialProofCap)
	setFloat(&result.FollowedBoost, override.FollowedBoost)
	setFloat(&result.CategoryAffinityFactor, override.CategoryAffinityFactor)
	setFloat(&result.ColdStartJitter, override.ColdStartJitter)
	if override.CollaborativeFilteringEnabled != nil {
		result.CollaborativeFilteringEnabled = *override.CollaborativeFilteringEnabled
	}
	setFloat(&result.CollaborativeFilteringMaxBoost, override.CollaborativeFilteringMaxBoost)
	setFloat(&result.CompletionBoostFactor, override.CompletionBoostFactor)
	setFloat(&result.VelocityViewFactor, override.VelocityViewFactor)
	setFloat(&result.VelocityLikeFactor, override.VelocityLikeFactor)
	setFloat(&result.VelocityCompleteFactor, override.VelocityCompleteFactor)
	setFloat(&result.VelocityCap, override.VelocityCap)
	setFloat(&result.AuthorityFollowerFactor, override.AuthorityFollowerFactor)
	setFloat(&result.AuthorityCompletionFactor, override.AuthorityCompletionFactor)
	setFloat(&result.AuthorityCap, override.AuthorityCap)

	if d := override.Diversity; d != nil {
		setInt(&result.Diversity.PerCreatorMax, d.PerCreatorMax)
		setInt(&result.Diversity.PerCategoryWindow, d.PerCategoryWindow)
		setInt(&result.Diversity.PerCategoryMaxInWindow, d.PerCategoryMaxInWindow)
	}
	return result
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// logProfileOverrides logs which fields differ from the compiled-in defaults.
func logProfileOverrides(variant string, defaults, loaded *WeightProfile) {
	var overrides []string
	diff := func(name string, from, to float64) {
		if from != to {
			overrides = append(overrides, fmt.Sprintf("%s: %g -> %g", name, from, to))
		}
	}

	diff("freshness_factor", defaults.FreshnessFactor, loaded.FreshnessFactor)
	diff("freshness_half_life_hours", defaults.FreshnessHalfLifeHours, loaded.FreshnessHalfLifeHours)
	diff("social_proof_factor", defaults.SocialProofFactor, loaded.SocialProofFactor)
	diff("social_proof_cap", defaults.SocialProofCap, loaded.SocialProofCap)
	diff("followed_boost", defaults.FollowedBoost, loaded.FollowedBoost)
	diff("category_affinity_factor", defaults.CategoryAffinityFactor, loaded.CategoryAffinityFactor)
	diff("cold_start_jitter", defaults.ColdStartJitter, loaded.ColdStartJitter)
	diff("collaborative_filtering_max_boost", defaults.CollaborativeFilteringMaxBoost, loaded.CollaborativeFilteringMaxBoost)
	diff("completion_boost_factor", defaults.CompletionBoostFactor, loaded.CompletionBoostFactor)
	diff("velocity_view_factor", defaults.VelocityViewFactor, loaded.VelocityViewFactor)
	diff("velocity_like_factor", defaults.VelocityLikeFactor, loaded.VelocityLikeFactor)
	diff("velocity_complete_factor", defaults.VelocityCompleteFactor, loaded.VelocityCompleteFactor)
	diff("velocity_cap", defaults.VelocityCap, loaded.VelocityCap)
	diff("authority_follower_factor", defaults.AuthorityFollowerFactor, loaded.AuthorityFollowerFactor)
	diff("authority_completion_factor", defaults.AuthorityCompletionFactor, loaded.AuthorityCompletionFactor)
	diff("authority_cap", defaults.AuthorityCap, loaded.AuthorityCap)
	if defaults.CollaborativeFilteringEnabled != loaded.CollaborativeFilteringEnabled {
		overrides = append(overrides, fmt.Sprintf("collaborative_filtering_enabled: %t -> %t",
			defaults.CollaborativeFilteringEnabled, loaded.CollaborativeFilteringEnabled))
	}
	if defaults.Diversity != loaded.Diversity {
		overrides = append(overrides, fmt.Sprintf("diversity: %+v -> %+v", defaults.Diversity, loaded.Diversity))
	}

	if len(overrides) > 0 {
		slog.Info("loaded weight profile with overrides",
			"variant", variant,
			"name", loaded.Name,
			"version", loaded.Version,
			"overrides", overrides)
	} else {
		slog.Info("loaded weight profile (using all defaults)", "variant", variant)
	}
}
