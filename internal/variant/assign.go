// Package variant assigns viewers and sessions to experiment variants.
package variant

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownVariant is returned when an explicit override is not one of
	// the configured labels.
	ErrUnknownVariant = errors.New("unknown variant")
	// ErrNoVariants is returned when an Assigner is built without labels.
	ErrNoVariants = errors.New("at least one variant label is required")
)

// Assigner maps identifiers onto a fixed, ordered list of variant labels.
// It holds no mutable state and is safe for concurrent use.
type Assigner struct {
	labels []string
	known  map[string]struct{}
}

// NewAssigner creates an Assigner for the ordered labels. Labels are
// trimmed; empty and duplicate labels are rejected.
func NewAssigner(labels []string) (*Assigner, error) {
	a := &Assigner{known: make(map[string]struct{}, len(labels))}
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			return nil, errors.New("variant label must not be empty")
		}
		if _, dup := a.known[l]; dup {
			return nil, fmt.Errorf("duplicate variant label %q", l)
		}
		a.known[l] = struct{}{}
		a.labels = append(a.labels, l)
	}
	if len(a.labels) == 0 {
		return nil, ErrNoVariants
	}
	return a, nil
}

// Labels returns a copy of the configured labels in order.
func (a *Assigner) Labels() []string {
	out := make([]string, len(a.labels))
	copy(out, a.labels)
	return out
}

// Known reports whether label is configured.
func (a *Assigner) Known(label string) bool {
	_, ok := a.known[label]
	return ok
}

// Assign returns the variant for identifier. A non-empty override is
// returned unchanged when it is a configured label and rejected with
// ErrUnknownVariant otherwise.
func (a *Assigner) Assign(identifier, override string) (string, error) {
	if override != "" {
		if !a.Known(override) {
			return "", fmt.Errorf("%w: %q", ErrUnknownVariant, override)
		}
		return override, nil
	}
	return a.labels[bucket(identifier, len(a.labels))], nil
}

// bucket maps identifier onto [0, n) using the first 8 bytes of its SHA-256.
func bucket(identifier string, n int) int {
	hash := sha256.Sum256([]byte(identifier))
	return int(binary.BigEndian.Uint64(hash[:8]) % uint64(n))
}
