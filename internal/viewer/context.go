// Package viewer defines the per-request viewer context used by candidate
// retrieval and scoring.
package viewer

import "time"

// Context describes the viewer (or anonymous session) a feed is built for.
// A Context is built once per request and never mutated afterwards.
type Context struct {
	// ViewerID is empty for anonymous sessions.
	ViewerID  string
	SessionID string

	// Followed is the set of creator IDs the viewer follows.
	Followed map[string]struct{}
	// CategoryAffinity maps category -> affinity weight. Opaque input.
	CategoryAffinity map[string]float64
	// Exposed holds candidate IDs recently shown to this viewer or session.
	Exposed map[string]struct{}

	// ColdStart is true when the viewer has no history at all. Such requests
	// are counted per variant so exploration can be compared across arms.
	ColdStart bool

	// AsOf pins the instant a ranking pass is evaluated at so later pages
	// of the same feed load see the same pool. Zero means now.
	AsOf time.Time
}

// Key returns the identifier used for seeding and exposure lookups:
// the viewer ID when known, otherwise the session ID.
func (c Context) Key() string {
	if c.ViewerID != "" {
		return c.ViewerID
	}
	return c.SessionID
}

// Follows reports whether the viewer follows the creator.
func (c Context) Follows(creatorID string) bool {
	_, ok := c.Followed[creatorID]
	return ok
}

// Affinity returns the affinity for a category, or 0 when none is recorded
// or the category is empty.
func (c Context) Affinity(category string) float64 {
	if category == "" {
		return 0
	}
	w := c.CategoryAffinity[category]
	if w < 0 {
		return 0
	}
	return w
}

// New builds a Context and derives ColdStart from the supplied history.
func New(viewerID, sessionID string, followed []string, affinity map[string]float64, exposed []string) Context {
	c := Context{
		ViewerID:         viewerID,
		SessionID:        sessionID,
		Followed:         ToSet(followed),
		CategoryAffinity: affinity,
		Exposed:          ToSet(exposed),
	}
	c.ColdStart = len(c.Followed) == 0 && len(c.CategoryAffinity) == 0 && len(c.Exposed) == 0
	return c
}

// ToSet converts a slice of IDs into a set. Returns nil for an empty slice.
func ToSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
