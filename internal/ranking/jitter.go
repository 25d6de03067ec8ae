package ranking

import (
	"hash/fnv"
)

// Jitter returns a reproducible perturbation in [0, max) derived from the
// viewer (or session) key and the candidate ID. The same pair always maps
// to the same value; different viewers or candidates spread uniformly.
func Jitter(key, candidateID string, maxJitter float64) float64 {
	if maxJitter <= 0 {
		return 0
	}
	return unitHash(key, candidateID) * maxJitter
}

// unitHash maps (key, candidateID) onto [0, 1) using the top 53 bits of an
// FNV-1a hash.
func unitHash(key, candidateID string) float64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(candidateID))
	return float64(h.Sum64()>>11) / (1 << 53)
}
