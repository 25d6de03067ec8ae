// Package ranking scores and re-ranks feed candidates.
//
// Basic usage:
//
//	// Resolve the weight profile for the viewer's variant
//	resolved := resolver.Resolve(ctx, "B")
//
//	// Score every candidate against its signal snapshot
//	for _, c := range candidates {
//		scored = append(scored, ranking.Scored{
//			Candidate: c,
//			Score:     ranking.Score(c, snapshots[c.ID], viewerCtx, resolved.Profile, now),
//		})
//	}
//
//	// Apply creator and category diversity
//	ranked := ranking.Diversify(scored, resolved.Profile.Diversity)
//
// Scoring:
//
// A score is a sum of non-negative terms (freshness, social proof,
// followed-creator boost, category affinity, velocity, completion,
// authority, collaborative filtering and cold-start jitter). Each term is
// controlled by a factor on the WeightProfile; a factor of 0 disables the
// term. Scoring is pure: identical inputs and the same evaluation instant
// always produce the same score, including the jitter term, which is seeded
// by the viewer (or session) and candidate IDs.
//
// Profiles:
//
// Weight profiles are keyed by experiment and variant. The Resolver reads
// the latest active profile from a ProfileStore and caches it for a short
// TTL; when the store is unreachable or returns an invalid profile, the
// compiled-in default for the variant is used instead. Profiles can also be
// loaded from a JSON file with partial overrides (see LoadProfiles).
package ranking
